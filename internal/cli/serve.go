package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vasset/fetch-service/internal/cache"
	"vasset/fetch-service/internal/cleanup"
	"vasset/fetch-service/internal/config"
	"vasset/fetch-service/internal/database"
	"vasset/fetch-service/internal/handler"
	"vasset/fetch-service/internal/health"
	"vasset/fetch-service/internal/intake"
	"vasset/fetch-service/internal/repository"
	"vasset/fetch-service/internal/router"
	"vasset/fetch-service/internal/service"
	"vasset/fetch-service/internal/storage"
	"vasset/fetch-service/internal/utils"
	"vasset/fetch-service/internal/verify"
	"vasset/fetch-service/internal/worker"
	"vasset/fetch-service/internal/ws"
	"vasset/fetch-service/internal/ytdlp"
)

// shutdownTimeout HTTP 服务优雅关闭超时
const shutdownTimeout = 30 * time.Second

// newServeCmd 启动服务
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, workers and cleanup loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()
			return serve(cfg, log)
		},
	}
}

func serve(cfg *config.Config, log *zap.Logger) error {
	log.Info("starting fetch service", zap.Int("port", cfg.Server.Port), zap.String("version", Version))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checks := map[string]handler.Pinger{}

	// 1. 任务存储: 配置了数据库时使用 PostgreSQL, 否则使用内存存储
	var store repository.JobStore
	if cfg.Database.Enabled() {
		if err := database.RunMigrations(cfg.Database.MigrationsPath, cfg.Database.GetURL(), log); err != nil {
			return fmt.Errorf("failed to run database migrations: %w", err)
		}

		db, err := database.Open(ctx, &cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()
		log.Info("connected to postgres")

		store = repository.NewJobRepository(db)
		checks["postgres"] = pingDB(db)
	} else {
		store = repository.NewMemoryRepository()
		log.Warn("database not configured, using in-memory job store")
	}

	// 2. Redis 进度发布
	var redisClient *redis.Client
	var publisher worker.Publisher = worker.NopPublisher{}
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("failed to connect to redis", zap.Error(err))
		} else {
			log.Info("connected to redis")
		}
		publisher = worker.NewRedisPublisher(redisClient, log)
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}

	// 3. 存储目录
	files := storage.NewFileManager(cfg.Storage.DownloadsDir, nil, log)
	if err := files.EnsureDir(); err != nil {
		return err
	}

	// 4. yt-dlp 与格式缓存
	executor := ytdlp.NewExecutor(&cfg.YtDLP, log)
	limiter := utils.NewConcurrencyLimiter(cfg.YtDLP.MaxConcurrentInfo)
	formatCache, err := cache.NewFormatCache(cache.WithLimit(executor, limiter), cfg.Cache.InfoSize, cfg.Cache.FormatsSize, log)
	if err != nil {
		return err
	}

	// 5. 校验器与编排器
	clk := clockwork.NewRealClock()
	verifier := verify.NewVerifier(files, store, clk, cfg.Verify.StabilityWindow, log)
	orchestrator := worker.NewOrchestrator(store, executor, verifier, files, publisher, clk, worker.Options{
		VerifyAttempts:    cfg.Verify.MaxAttempts,
		VerifyDelay:       cfg.Verify.RetryDelay,
		DiskUsedThreshold: cfg.Storage.DiskUsedThreshold,
	}, log)

	// 6. 清理循环
	if cfg.Cleanup.Enabled {
		sweeper := cleanup.NewSweeper(&cfg.Cleanup, store, files, clk, log)
		go sweeper.Start(ctx)
	} else {
		log.Info("cleanup disabled")
	}

	// 7. 下载服务
	downloadService := service.NewDownloadService(store, formatCache, orchestrator, files, clk, log)

	// 8. RabbitMQ 任务入口 (可选)
	var consumer *intake.Consumer
	if cfg.RabbitMQ.URL != "" {
		consumer, err = intake.NewConsumer(&cfg.RabbitMQ, downloadService, log)
		if err != nil {
			log.Warn("failed to connect to rabbitmq, running without intake consumer", zap.Error(err))
		} else {
			go func() {
				if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("intake consumer stopped", zap.Error(err))
				}
			}()
		}
	}

	// 9. gRPC 健康检查
	var healthServer *health.Server
	if cfg.Server.GRPCPort > 0 {
		healthServer = health.NewServer(log)
		if _, err := healthServer.Listen(cfg.Server.GRPCPort); err != nil {
			return err
		}
		go healthServer.Monitor(ctx, combine(checks), 10*time.Second)
	}

	// 10. HTTP 服务
	wsManager := ws.NewManager(redisClient, downloadService, time.Second, log)
	engine := router.SetupRouter(&router.Dependencies{
		Config:          cfg,
		DownloadService: downloadService,
		WSManager:       wsManager,
		HealthChecks:    checks,
		Workers:         orchestrator,
		Logger:          log,
		Version:         Version,
	})

	// 文件下载可能持续很久, write_timeout 默认为 0 不限制
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// 11. 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("http server failed", zap.Error(err))
	}

	if healthServer != nil {
		healthServer.SetServing(false)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown", zap.Error(err))
	}

	if consumer != nil {
		consumer.Stop()
	}
	cancel()

	log.Info("waiting for running downloads", zap.Int64("active", orchestrator.Active()))
	orchestrator.Wait()

	if healthServer != nil {
		healthServer.Stop()
	}

	log.Info("server stopped")
	return nil
}

// pingDB 数据库连通性检查
func pingDB(db *sql.DB) handler.Pinger {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}

// combine 合并多个依赖检查
func combine(checks map[string]handler.Pinger) health.Check {
	return func(ctx context.Context) error {
		for name, check := range checks {
			if err := check(ctx); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
		return nil
	}
}
