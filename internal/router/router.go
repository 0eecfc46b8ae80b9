package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vasset/fetch-service/internal/config"
	"vasset/fetch-service/internal/handler"
	"vasset/fetch-service/internal/middleware"
	"vasset/fetch-service/internal/ws"
)

// Dependencies 路由依赖
type Dependencies struct {
	Config          *config.Config
	DownloadService handler.DownloadService
	WSManager       *ws.Manager
	HealthChecks    map[string]handler.Pinger
	Workers         handler.ActiveCounter
	Logger          *zap.Logger
	Version         string
}

// SetupRouter 设置路由
func SetupRouter(deps *Dependencies) *gin.Engine {
	if deps.Config.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// 全局中间件
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.CORS(&deps.Config.CORS))

	rateLimiter := middleware.NewRateLimiter(&deps.Config.RateLimit)

	// 创建处理器
	downloadHandler := handler.NewDownloadHandler(
		deps.DownloadService,
		deps.Config.Server.PublicHost,
		deps.Config.YtDLP.GetInfoTimeout(),
		deps.Logger,
	)
	healthHandler := handler.NewHealthHandler(
		deps.HealthChecks,
		deps.Workers,
		deps.WSManager,
		deps.Version,
	)
	wsHandler := handler.NewWebSocketHandler(deps.WSManager)

	// 健康检查
	r.GET("/health", healthHandler.HealthCheck)
	r.GET("/version", healthHandler.Version)
	r.GET("/ready", healthHandler.Ready)
	r.GET("/live", healthHandler.Live)

	v1 := r.Group("/api/v1")
	v1.Use(middleware.IPRateLimit(rateLimiter))
	{
		// 解析
		v1.GET("/info", downloadHandler.GetInfo)
		v1.GET("/formats", downloadHandler.GetFormats)
		v1.GET("/audio/formats", downloadHandler.GetAudioFormats)

		// 下载任务
		v1.POST("/download", downloadHandler.SubmitDownload)
		v1.GET("/download", downloadHandler.SubmitDownloadQuery)
		v1.GET("/downloads", downloadHandler.ListDownloads)
		v1.GET("/download/:task_id", downloadHandler.GetDownload)
		v1.GET("/download/:task_id/file", downloadHandler.DownloadFile)
	}

	// WebSocket 进度推送
	r.GET("/api/v1/ws/progress", wsHandler.Progress)

	return r
}
