// Package cleanup 定期清理过期的下载产物
package cleanup

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"vasset/fetch-service/internal/config"
	"vasset/fetch-service/internal/models"
	"vasset/fetch-service/internal/repository"
	"vasset/fetch-service/internal/storage"
	"vasset/fetch-service/internal/utils"
)

// Result 单次清理结果
type Result struct {
	Scanned int
	Deleted int
	Failed  int
	Orphans int
}

// Sweeper 过期产物清理器, 每个进程只运行一个循环
type Sweeper struct {
	store     repository.JobStore
	files     *storage.FileManager
	clock     clockwork.Clock
	interval  time.Duration
	retention time.Duration
	logger    *zap.Logger

	once sync.Once
}

// NewSweeper 创建清理器
func NewSweeper(cfg *config.CleanupConfig, store repository.JobStore, files *storage.FileManager, clk clockwork.Clock, logger *zap.Logger) *Sweeper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		store:     store,
		files:     files,
		clock:     clk,
		interval:  interval,
		retention: cfg.Retention,
		logger:    logger,
	}
}

// Start 启动清理循环, 阻塞直到 ctx 结束; 重复调用直接返回
func (s *Sweeper) Start(ctx context.Context) {
	started := false
	s.once.Do(func() {
		started = true
	})
	if !started {
		s.logger.Warn("sweeper already running")
		return
	}

	s.logger.Info("starting sweeper",
		zap.Duration("interval", s.interval),
		zap.Duration("retention", s.retention))

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	// 启动时先执行一次
	s.Sweep(ctx)

	for {
		select {
		case <-ticker.Chan():
			s.Sweep(ctx)
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		}
	}
}

// Sweep 扫描所有任务目录, 删除完成时间早于 now-retention 的产物并清空 file_path
// 没有对应记录的目录保持不动
func (s *Sweeper) Sweep(ctx context.Context) Result {
	var res Result
	startTime := s.clock.Now()

	taskIDs, err := s.files.ListTaskDirs()
	if err != nil {
		s.logger.Error("failed to list task directories", zap.Error(err))
		return res
	}

	cutoff := s.clock.Now().Add(-s.retention)
	for _, taskID := range taskIDs {
		if ctx.Err() != nil {
			s.logger.Info("context cancelled, stopping sweep")
			break
		}
		res.Scanned++

		job, err := s.store.Get(ctx, taskID)
		if errors.Is(err, utils.ErrJobNotFound) {
			res.Orphans++
			continue
		}
		if err != nil {
			s.logger.Warn("failed to load job", zap.String("task_id", taskID), zap.Error(err))
			res.Failed++
			continue
		}

		if job.Status != models.StatusCompleted || !job.CompletedAt.Valid || !job.CompletedAt.Time.Before(cutoff) {
			continue
		}

		if err := s.files.DeleteDir(s.files.TaskDir(taskID)); err != nil {
			s.logger.Warn("failed to delete task directory", zap.String("task_id", taskID), zap.Error(err))
			res.Failed++
			continue
		}

		empty := ""
		if err := s.store.UpdateFields(ctx, taskID, models.JobUpdate{FilePath: &empty}); err != nil {
			s.logger.Warn("failed to clear file path", zap.String("task_id", taskID), zap.Error(err))
			res.Failed++
			continue
		}

		res.Deleted++
		s.logger.Info("cleaned up expired download", zap.String("task_id", taskID))
	}

	s.logger.Info("sweep completed",
		zap.Duration("elapsed", s.clock.Since(startTime)),
		zap.Int("scanned", res.Scanned),
		zap.Int("deleted", res.Deleted),
		zap.Int("failed", res.Failed),
		zap.Int("orphans", res.Orphans))
	return res
}
