package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"vasset/fetch-service/internal/models"
)

// ProgressChannel 任务进度的 Redis 频道名
func ProgressChannel(taskID string) string {
	return fmt.Sprintf("progress:%s", taskID)
}

// Publisher 进度发布接口
type Publisher interface {
	Publish(ctx context.Context, msg *models.ProgressMessage) error
}

// RedisPublisher 通过 Redis Pub/Sub 发布进度
type RedisPublisher struct {
	redis  *redis.Client
	logger *zap.Logger
}

// NewRedisPublisher 创建进度发布器
func NewRedisPublisher(redisClient *redis.Client, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{
		redis:  redisClient,
		logger: logger,
	}
}

// Publish 发布进度消息
func (p *RedisPublisher) Publish(ctx context.Context, msg *models.ProgressMessage) error {
	channel := ProgressChannel(msg.TaskID)

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal progress message: %w", err)
	}

	if err := p.redis.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish progress: %w", err)
	}

	p.logger.Debug("published progress",
		zap.String("channel", channel),
		zap.String("status", string(msg.Status)),
		zap.Float64("percent", msg.Percent))
	return nil
}

// NopPublisher 不发布任何消息, 未配置 Redis 时使用
type NopPublisher struct{}

// Publish 丢弃消息
func (NopPublisher) Publish(context.Context, *models.ProgressMessage) error {
	return nil
}
