package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"vasset/fetch-service/internal/models"
	"vasset/fetch-service/internal/utils"
	"vasset/fetch-service/internal/worker"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// JobSource 任务查询接口
type JobSource interface {
	GetJob(ctx context.Context, taskID string) (*models.Job, error)
}

// Manager WebSocket 连接管理器
// 配置了 Redis 时订阅进度频道, 否则按固定间隔轮询任务记录
type Manager struct {
	connections  sync.Map // map[connID]*websocket.Conn
	nextID       atomic.Int64
	rdb          *redis.Client
	jobs         JobSource
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewManager 创建 WebSocket 管理器, rdb 可以为 nil
func NewManager(rdb *redis.Client, jobs JobSource, pollInterval time.Duration, logger *zap.Logger) *Manager {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Manager{
		rdb:          rdb,
		jobs:         jobs,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// HandleConnection 处理 WebSocket 连接
func (m *Manager) HandleConnection(c *gin.Context) {
	taskID := c.Query("task_id")
	if taskID == "" {
		models.BadRequest(c, "task_id is required")
		return
	}

	job, err := m.jobs.GetJob(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, utils.ErrJobNotFound) {
			models.NotFound(c, "download task not found")
			return
		}
		models.InternalError(c, "failed to load task")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		m.logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	connID := m.nextID.Add(1)
	m.connections.Store(connID, conn)
	log := m.logger.With(zap.Int64("conn_id", connID), zap.String("task_id", taskID))
	log.Debug("websocket connection established")

	ctx, cancel := context.WithCancel(context.Background())
	var writeMu sync.Mutex
	defer func() {
		cancel()
		m.connections.Delete(connID)
		conn.Close()
		log.Debug("websocket connection closed")
	}()

	// 读循环只用于感知客户端断开和处理 Pong
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	go m.heartbeat(ctx, conn, &writeMu)

	send := func(msg *models.ProgressMessage) bool {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			log.Debug("failed to send message", zap.Error(err))
			return false
		}
		return true
	}

	// 先订阅再读取快照, 订阅确认之后发布的消息都不会丢失
	var pubsub *redis.PubSub
	if m.rdb != nil {
		pubsub, err = m.subscribe(ctx, taskID)
		if err != nil {
			log.Warn("failed to subscribe progress channel, falling back to polling", zap.Error(err))
		} else {
			defer pubsub.Close()
		}
	}

	job, err = m.jobs.GetJob(ctx, taskID)
	if err != nil {
		log.Warn("failed to load task snapshot", zap.Error(err))
		return
	}
	if !send(snapshot(job)) || job.Status.IsTerminal() {
		return
	}

	if pubsub != nil {
		m.relay(ctx, pubsub, taskID, send, log)
		return
	}
	m.poll(ctx, taskID, job, send, log)
}

// subscribe 订阅任务进度频道并等待 Redis 确认
func (m *Manager) subscribe(ctx context.Context, taskID string) (*redis.PubSub, error) {
	pubsub := m.rdb.Subscribe(ctx, worker.ProgressChannel(taskID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}
	return pubsub, nil
}

// relay 转发 Redis 频道中的进度消息
// 同时按轮询间隔检查任务记录, 终态消息丢失时仍能结束连接
func (m *Manager) relay(ctx context.Context, pubsub *redis.PubSub, taskID string, send func(*models.ProgressMessage) bool, log *zap.Logger) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var progress models.ProgressMessage
			if err := json.Unmarshal([]byte(msg.Payload), &progress); err != nil {
				log.Warn("failed to parse progress message", zap.Error(err))
				continue
			}
			if !send(&progress) || progress.Status.IsTerminal() {
				return
			}
		case <-ticker.C:
			job, err := m.jobs.GetJob(ctx, taskID)
			if err != nil {
				log.Warn("failed to check task status", zap.Error(err))
				continue
			}
			if job.Status.IsTerminal() {
				send(snapshot(job))
				return
			}
		}
	}
}

// poll 轮询任务记录, 状态或进度变化时推送
func (m *Manager) poll(ctx context.Context, taskID string, last *models.Job, send func(*models.ProgressMessage) bool, log *zap.Logger) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := m.jobs.GetJob(ctx, taskID)
			if err != nil {
				log.Warn("failed to poll task", zap.Error(err))
				continue
			}
			if job.Status == last.Status && job.Progress == last.Progress {
				continue
			}
			last = job
			if !send(snapshot(job)) || job.Status.IsTerminal() {
				return
			}
		}
	}
}

// heartbeat 发送心跳
func (m *Manager) heartbeat(ctx context.Context, conn *websocket.Conn, writeMu *sync.Mutex) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// GetConnectionCount 获取当前连接数
func (m *Manager) GetConnectionCount() int {
	count := 0
	m.connections.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}

// snapshot 由任务记录构造进度消息
func snapshot(job *models.Job) *models.ProgressMessage {
	msg := &models.ProgressMessage{
		TaskID:  job.TaskID,
		Status:  job.Status,
		Percent: job.Progress,
	}
	if job.Error.Valid {
		msg.Message = job.Error.String
	}
	return msg
}
