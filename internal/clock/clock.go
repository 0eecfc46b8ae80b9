// Package clock 基于 clockwork 的时间源辅助函数
package clock

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Sleep 在 clk 上等待 d, ctx 结束时提前返回 ctx.Err()
func Sleep(ctx context.Context, clk clockwork.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	select {
	case <-clk.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
