package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"vasset/fetch-service/internal/config"
	"vasset/fetch-service/internal/models"
)

// RateLimiter 限流器
type RateLimiter struct {
	globalLimiter *rate.Limiter
	ipLimiters    sync.Map // map[clientIP]*rate.Limiter
	ipRPS         rate.Limit
	ipBurst       int
}

// NewRateLimiter 创建限流器, RPS 小于等于 0 时不限流
func NewRateLimiter(cfg *config.RateLimitConfig) *RateLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	globalRPS := rate.Inf
	if cfg.GlobalRPS > 0 {
		globalRPS = rate.Limit(cfg.GlobalRPS)
	}
	ipRPS := rate.Inf
	if cfg.IPRPS > 0 {
		ipRPS = rate.Limit(cfg.IPRPS)
	}

	return &RateLimiter{
		globalLimiter: rate.NewLimiter(globalRPS, burst*2),
		ipRPS:         ipRPS,
		ipBurst:       burst,
	}
}

// getIPLimiter 获取 IP 限流器
func (rl *RateLimiter) getIPLimiter(ip string) *rate.Limiter {
	if limiter, ok := rl.ipLimiters.Load(ip); ok {
		return limiter.(*rate.Limiter)
	}
	limiter, _ := rl.ipLimiters.LoadOrStore(ip, rate.NewLimiter(rl.ipRPS, rl.ipBurst))
	return limiter.(*rate.Limiter)
}

// IPRateLimit 全局 + IP 限流中间件
func IPRateLimit(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.globalLimiter.Allow() {
			tooManyRequests(c, "global rate limit exceeded, please try again later")
			return
		}

		if !rl.getIPLimiter(c.ClientIP()).Allow() {
			tooManyRequests(c, "ip rate limit exceeded, please try again later")
			return
		}

		c.Next()
	}
}

func tooManyRequests(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, models.Response{
		Code:    http.StatusTooManyRequests,
		Message: message,
	})
}
