package health

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName gRPC 健康检查中的服务名
const ServiceName = "fetch-service"

// Check 依赖检查函数, 返回 nil 表示可用
type Check func(ctx context.Context) error

// Server gRPC 健康检查服务
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	logger     *zap.Logger
}

// NewServer 创建健康检查服务, 初始状态为 SERVING
func NewServer(logger *zap.Logger) *Server {
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)

	return &Server{
		grpcServer: grpcServer,
		health:     hs,
		logger:     logger,
	}
}

// Listen 监听端口并在后台提供服务
func (s *Server) Listen(port int) (net.Addr, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	go s.Serve(lis)
	return lis.Addr(), nil
}

// Serve 在指定 listener 上提供服务, 阻塞直到停止
func (s *Server) Serve(lis net.Listener) {
	s.logger.Info("grpc health server listening", zap.String("addr", lis.Addr().String()))
	if err := s.grpcServer.Serve(lis); err != nil {
		s.logger.Error("grpc health server stopped", zap.Error(err))
	}
}

// SetServing 设置服务状态
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
	s.health.SetServingStatus("", status)
}

// Monitor 定期执行检查并更新状态, 阻塞直到 ctx 结束
func (s *Server) Monitor(ctx context.Context, check Check, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	s.probe(ctx, check, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.probe(ctx, check, interval)
		}
	}
}

func (s *Server) probe(ctx context.Context, check Check, timeout time.Duration) {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := check(probeCtx); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		s.SetServing(false)
		return
	}
	s.SetServing(true)
}

// Stop 停止服务, 先将状态置为 NOT_SERVING
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}
