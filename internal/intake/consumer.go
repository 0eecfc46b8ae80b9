package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"vasset/fetch-service/internal/config"
	"vasset/fetch-service/internal/models"
	"vasset/fetch-service/internal/utils"
)

// Submitter 任务提交接口 (由 service.DownloadService 实现)
type Submitter interface {
	Submit(ctx context.Context, req *models.DownloadRequest) (*models.Job, error)
}

// Consumer 从 RabbitMQ 队列接收下载请求
type Consumer struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	queue     string
	submitter Submitter
	logger    *zap.Logger
}

// NewConsumer 创建任务消费者
func NewConsumer(cfg *config.RabbitMQConfig, submitter Submitter, logger *zap.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		cfg.Queue, // 队列名
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}

	return &Consumer{
		conn:      conn,
		channel:   ch,
		queue:     cfg.Queue,
		submitter: submitter,
		logger:    logger,
	}, nil
}

// Start 启动消费, 阻塞直到 ctx 结束或通道关闭
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.queue, // 队列名
		"",      // 消费者名
		false,   // 手动 ACK
		false,   // 非独占
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return fmt.Errorf("failed to consume: %w", err)
	}

	c.logger.Info("intake consumer started", zap.String("queue", c.queue))

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Info("intake channel closed")
				return nil
			}
			handle(ctx, c.submitter, msg, c.logger)

		case <-ctx.Done():
			c.logger.Info("intake consumer stopping")
			return ctx.Err()
		}
	}
}

// Stop 停止消费
func (c *Consumer) Stop() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// handle 处理单条消息
// 格式错误与请求错误直接丢弃, 其他错误重新入队
func handle(ctx context.Context, submitter Submitter, msg amqp.Delivery, logger *zap.Logger) {
	var req models.DownloadRequest
	if err := json.Unmarshal(msg.Body, &req); err != nil {
		logger.Warn("failed to parse download request", zap.Error(err))
		msg.Nack(false, false)
		return
	}

	job, err := submitter.Submit(ctx, &req)
	if err != nil {
		requeue := isTransient(err) || !isRejected(err)
		logger.Warn("failed to submit download request",
			zap.String("url", req.URL),
			zap.Bool("requeue", requeue),
			zap.Error(err))
		msg.Nack(false, requeue)
		return
	}

	logger.Info("download request accepted from queue",
		zap.String("task_id", job.TaskID),
		zap.String("url", job.URL))
	msg.Ack(false)
}

// isTransient 超时或取消, 稍后重试可能成功
func isTransient(err error) bool {
	return errors.Is(err, utils.ErrTimeout) ||
		errors.Is(err, utils.ErrYTDLPNotFound) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

// isRejected 请求本身无效, 重试不会成功
func isRejected(err error) bool {
	return errors.Is(err, utils.ErrInvalidURL) ||
		errors.Is(err, utils.ErrInvalidSelection) ||
		errors.Is(err, utils.ErrQualityUnavailable) ||
		errors.Is(err, utils.ErrFormatNotFound) ||
		errors.Is(err, utils.ErrExtractionFailed)
}
