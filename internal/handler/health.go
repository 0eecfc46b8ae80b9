package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"vasset/fetch-service/internal/models"
)

// Pinger 依赖连通性检查
type Pinger func(ctx context.Context) error

// ActiveCounter 正在执行的任务数
type ActiveCounter interface {
	Active() int64
}

// ConnectionCounter WebSocket 连接数
type ConnectionCounter interface {
	GetConnectionCount() int
}

// HealthHandler 健康检查处理器
type HealthHandler struct {
	dependencies map[string]Pinger
	workers      ActiveCounter
	connections  ConnectionCounter
	startTime    time.Time
	version      string
}

// NewHealthHandler 创建健康检查处理器
// dependencies 为依赖名到检查函数的映射, 未启用的依赖不需要传入
func NewHealthHandler(
	dependencies map[string]Pinger,
	workers ActiveCounter,
	connections ConnectionCounter,
	version string,
) *HealthHandler {
	if dependencies == nil {
		dependencies = map[string]Pinger{}
	}
	return &HealthHandler{
		dependencies: dependencies,
		workers:      workers,
		connections:  connections,
		startTime:    time.Now(),
		version:      version,
	}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version"`
	Uptime       int64             `json:"uptime"`
	Dependencies map[string]string `json:"dependencies"`
	ActiveJobs   int64             `json:"active_jobs"`
	WebSockets   int               `json:"websocket_connections"`
}

// check 检查全部依赖
func (h *HealthHandler) check(ctx context.Context) (map[string]string, bool) {
	result := make(map[string]string, len(h.dependencies))
	allHealthy := true
	for name, ping := range h.dependencies {
		if err := ping(ctx); err != nil {
			result[name] = "unhealthy"
			allHealthy = false
			continue
		}
		result[name] = "healthy"
	}
	return result, allHealthy
}

// HealthCheck 健康检查
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dependencies, allHealthy := h.check(ctx)

	status := "healthy"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	resp := HealthResponse{
		Status:       status,
		Version:      h.version,
		Uptime:       int64(time.Since(h.startTime).Seconds()),
		Dependencies: dependencies,
	}
	if h.workers != nil {
		resp.ActiveJobs = h.workers.Active()
	}
	if h.connections != nil {
		resp.WebSockets = h.connections.GetConnectionCount()
	}
	c.JSON(statusCode, resp)
}

// Version 版本信息
func (h *HealthHandler) Version(c *gin.Context) {
	models.Success(c, gin.H{
		"version": h.version,
		"service": "fetch-service",
	})
}

// Ready 就绪检查
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	for name, ping := range h.dependencies {
		if err := ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"error":  name + " not available",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
	})
}

// Live 存活检查
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
	})
}
