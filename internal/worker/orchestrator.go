// Package worker 下载任务编排: 每个任务一个 goroutine, 驱动 yt-dlp 并维护任务状态
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"vasset/fetch-service/internal/clock"
	"vasset/fetch-service/internal/models"
	"vasset/fetch-service/internal/repository"
	"vasset/fetch-service/internal/storage"
	"vasset/fetch-service/internal/utils"
	"vasset/fetch-service/internal/ytdlp"
)

// 进度上限, 校验通过前不会超过
const maxDownloadProgress = 95.0

// Downloader 下载执行器
type Downloader interface {
	Download(ctx context.Context, opts ytdlp.DownloadOptions, onProgress ytdlp.ProgressFunc) error
}

// FileVerifier 文件校验器
type FileVerifier interface {
	Verify(ctx context.Context, taskID string) bool
}

// Options 编排器参数
type Options struct {
	VerifyAttempts    int
	VerifyDelay       time.Duration
	DiskUsedThreshold float64
}

// Orchestrator 下载编排器
// 不限制并发任务数, 已启动的任务不可取消, 也没有整体超时
type Orchestrator struct {
	store      repository.JobStore
	downloader Downloader
	verifier   FileVerifier
	files      *storage.FileManager
	publisher  Publisher
	clock      clockwork.Clock
	opts       Options
	logger     *zap.Logger

	wg     sync.WaitGroup
	active atomic.Int64
}

// NewOrchestrator 创建编排器
func NewOrchestrator(
	store repository.JobStore,
	downloader Downloader,
	verifier FileVerifier,
	files *storage.FileManager,
	publisher Publisher,
	clk clockwork.Clock,
	opts Options,
	logger *zap.Logger,
) *Orchestrator {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if opts.VerifyAttempts <= 0 {
		opts.VerifyAttempts = 3
	}
	return &Orchestrator{
		store:      store,
		downloader: downloader,
		verifier:   verifier,
		files:      files,
		publisher:  publisher,
		clock:      clk,
		opts:       opts,
		logger:     logger,
	}
}

// Start 在独立 goroutine 中运行任务
func (o *Orchestrator) Start(job *models.Job) {
	o.wg.Add(1)
	o.active.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.active.Add(-1)
		o.Run(context.Background(), job)
	}()
}

// Wait 等待所有已启动的任务结束
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Active 正在运行的任务数
func (o *Orchestrator) Active() int64 {
	return o.active.Load()
}

// Run 同步执行一个任务, 所有错误写入任务记录, 不会向外抛出
func (o *Orchestrator) Run(ctx context.Context, job *models.Job) {
	taskID := job.TaskID
	log := o.logger.With(zap.String("task_id", taskID))

	defer func() {
		if r := recover(); r != nil {
			log.Error("worker panic", zap.Any("panic", r), zap.Stack("stack"))
			o.fail(ctx, taskID, fmt.Sprintf("%v", r), log)
		}
	}()

	// 1. 解析格式
	spec := job.Selection().Spec()
	if spec == "" {
		o.fail(ctx, taskID, utils.ErrInvalidSelection.Error(), log)
		return
	}

	// 2. 检查磁盘空间
	ok, err := o.files.IsDiskSpaceSufficient(o.opts.DiskUsedThreshold)
	if err != nil {
		log.Warn("failed to check disk space", zap.Error(err))
	} else if !ok {
		o.fail(ctx, taskID, utils.ErrInsufficientSpace.Error(), log)
		return
	}

	// 3. 准备任务目录
	if _, err := o.files.PrepareTaskDir(taskID); err != nil {
		o.fail(ctx, taskID, err.Error(), log)
		return
	}

	// 4. 进入下载状态
	t := &tracker{status: models.StatusDownloading, progress: job.Progress}
	start := models.JobUpdate{Status: &t.status}
	if job.Title != "" {
		start.Title = &job.Title
	}
	o.update(ctx, taskID, start, log)
	o.publish(ctx, &models.ProgressMessage{TaskID: taskID, Status: models.StatusDownloading, Percent: t.progress}, log)

	// 5. 调用 yt-dlp
	log.Info("download started", zap.String("url", job.URL), zap.String("format", spec))
	opts := ytdlp.DownloadOptions{
		TaskID:         taskID,
		URL:            job.URL,
		FormatSpec:     spec,
		OutputTemplate: o.files.OutputTemplate(taskID),
		AudioOnly:      job.AudioOnly,
		ConvertToMP3:   job.ConvertToMP3,
	}
	err = o.downloader.Download(ctx, opts, func(ev models.ProgressEvent) {
		o.handleEvent(ctx, taskID, t, ev, log)
	})

	if t.failed {
		return
	}
	if err != nil {
		o.fail(ctx, taskID, err.Error(), log)
		return
	}
	if !t.finished {
		log.Warn("download exited without finished event, job stays in downloading")
		return
	}

	// 6. 校验文件
	o.verify(ctx, taskID, log)
}

// tracker 单个任务的运行状态, 只在该任务的 goroutine 上访问
type tracker struct {
	status   models.JobStatus
	progress float64
	finished bool
	failed   bool
}

// handleEvent 处理 yt-dlp 进度事件
func (o *Orchestrator) handleEvent(ctx context.Context, taskID string, t *tracker, ev models.ProgressEvent, log *zap.Logger) {
	if t.failed {
		return
	}

	switch ev.Status {
	case models.EventDownloading:
		// 进入 processing 后不再回到 downloading
		if t.status != models.StatusDownloading {
			return
		}
		percent, ok := ComputeProgress(ev)
		if !ok || percent <= t.progress {
			return
		}
		t.progress = percent
		o.update(ctx, taskID, models.JobUpdate{Status: &t.status, Progress: &t.progress}, log)
		o.publish(ctx, &models.ProgressMessage{
			TaskID:          taskID,
			Status:          t.status,
			Percent:         t.progress,
			DownloadedBytes: ev.DownloadedBytes,
			TotalBytes:      totalBytes(ev),
			Speed:           ev.Speed,
			ETA:             ev.ETA,
		}, log)

	case models.EventFinished:
		t.finished = true
		update := models.JobUpdate{}
		if ev.Filename != "" {
			filename := ev.Filename
			update.FilePath = &filename
		}
		if t.status != models.StatusProcessing {
			t.status = models.StatusProcessing
			if t.progress < maxDownloadProgress {
				t.progress = maxDownloadProgress
			}
			update.Status = &t.status
			update.Progress = &t.progress
			log.Info("download finished, processing", zap.String("filename", ev.Filename))
			o.publish(ctx, &models.ProgressMessage{TaskID: taskID, Status: t.status, Percent: t.progress}, log)
		}
		o.update(ctx, taskID, update, log)

	case models.EventError:
		t.failed = true
		msg := ev.Error
		if msg == "" {
			msg = utils.ErrJobFailed.Error()
		}
		o.fail(ctx, taskID, msg, log)
	}
}

// verify 有限次重试校验, 每次间隔固定时长
func (o *Orchestrator) verify(ctx context.Context, taskID string, log *zap.Logger) {
	for attempt := 1; attempt <= o.opts.VerifyAttempts; attempt++ {
		if o.verifier.Verify(ctx, taskID) {
			o.complete(ctx, taskID, log)
			return
		}
		log.Info("verification attempt failed", zap.Int("attempt", attempt), zap.Int("max", o.opts.VerifyAttempts))
		if attempt < o.opts.VerifyAttempts {
			if err := clock.Sleep(ctx, o.clock, o.opts.VerifyDelay); err != nil {
				break
			}
		}
	}
	log.Warn("giving up on verification", zap.Error(utils.ErrVerificationFailed))
	o.fail(ctx, taskID, utils.VerificationFailedMessage, log)
}

func (o *Orchestrator) complete(ctx context.Context, taskID string, log *zap.Logger) {
	status := models.StatusCompleted
	progress := 100.0
	now := o.clock.Now()

	o.update(ctx, taskID, models.JobUpdate{Status: &status, Progress: &progress, CompletedAt: &now}, log)
	o.publish(ctx, &models.ProgressMessage{TaskID: taskID, Status: status, Percent: progress, Message: "Download completed"}, log)
	log.Info("task completed")
}

func (o *Orchestrator) fail(ctx context.Context, taskID, msg string, log *zap.Logger) {
	status := models.StatusError
	o.update(ctx, taskID, models.JobUpdate{Status: &status, Error: &msg}, log)
	o.publish(ctx, &models.ProgressMessage{TaskID: taskID, Status: status, Message: msg}, log)
	log.Error("task failed", zap.String("error", msg))
}

func (o *Orchestrator) update(ctx context.Context, taskID string, update models.JobUpdate, log *zap.Logger) {
	if update.IsEmpty() {
		return
	}
	if err := o.store.UpdateFields(ctx, taskID, update); err != nil {
		log.Warn("failed to update job", zap.Error(err))
	}
}

func (o *Orchestrator) publish(ctx context.Context, msg *models.ProgressMessage, log *zap.Logger) {
	if err := o.publisher.Publish(ctx, msg); err != nil {
		log.Debug("failed to publish progress", zap.Error(err))
	}
}

// ComputeProgress 计算下载百分比, 上限 95
// 优先使用字节数 (total_bytes 或 total_bytes_estimate), 其次分片序号
func ComputeProgress(ev models.ProgressEvent) (float64, bool) {
	var percent float64
	switch total := totalBytes(ev); {
	case total > 0:
		percent = float64(ev.DownloadedBytes) / float64(total) * 100
	case ev.FragmentCount > 0:
		percent = float64(ev.FragmentIndex) / float64(ev.FragmentCount) * 100
	default:
		return 0, false
	}

	if percent > maxDownloadProgress {
		percent = maxDownloadProgress
	}
	if percent < 0 {
		percent = 0
	}
	return percent, true
}

func totalBytes(ev models.ProgressEvent) int64 {
	if ev.TotalBytes > 0 {
		return ev.TotalBytes
	}
	return ev.TotalBytesEstimate
}
