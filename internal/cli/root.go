// Package cli 命令行入口
package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vasset/fetch-service/internal/config"
	"vasset/fetch-service/internal/logger"
)

var (
	// Version 构建时注入
	Version = "dev"

	configPath string
)

// NewRootCmd 创建根命令
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fetch-service",
		Short: "Asynchronous media download service",
		Long: `fetch-service 接收媒体 URL, 解析可用格式并异步下载/转码,
客户端可以轮询进度或通过 WebSocket 订阅, 完成后下载文件.

示例:
  # 启动 HTTP 服务
  fetch-service serve --config config/dev.yaml

  # 执行数据库迁移
  fetch-service migrate up`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/dev.yaml", "配置文件路径")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// newVersionCmd 版本信息
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("fetch-service", Version)
		},
	}
}

// loadConfig 加载配置并创建日志
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
