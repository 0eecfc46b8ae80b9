// Package verify 校验下载产物已完整落盘
package verify

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"vasset/fetch-service/internal/clock"
	"vasset/fetch-service/internal/models"
	"vasset/fetch-service/internal/repository"
	"vasset/fetch-service/internal/storage"
)

// DefaultStabilityWindow 两次采样文件大小的间隔
const DefaultStabilityWindow = 500 * time.Millisecond

// Verifier 文件校验器
type Verifier struct {
	files  *storage.FileManager
	store  repository.JobStore
	clock  clockwork.Clock
	window time.Duration
	logger *zap.Logger
}

// NewVerifier 创建校验器
func NewVerifier(files *storage.FileManager, store repository.JobStore, clk clockwork.Clock, window time.Duration, logger *zap.Logger) *Verifier {
	if window <= 0 {
		window = DefaultStabilityWindow
	}
	return &Verifier{
		files:  files,
		store:  store,
		clock:  clk,
		window: window,
		logger: logger,
	}
}

// Verify 校验任务目录中的最新媒体文件:
// 大小非零, 无临时文件, 大小在采样间隔内不变, 可读;
// 通过后若路径与记录不同则回写 file_path
func (v *Verifier) Verify(ctx context.Context, taskID string) bool {
	log := v.logger.With(zap.String("task_id", taskID))
	fsys := v.files.FS()
	dir := v.files.TaskDir(taskID)

	scan, err := storage.ScanTaskDir(fsys, dir)
	if err != nil {
		log.Warn("failed to scan task directory", zap.String("dir", dir), zap.Error(err))
		return false
	}
	if scan.Latest == "" {
		log.Warn("no media file found", zap.String("dir", dir))
		return false
	}

	path := scan.Latest
	size := scan.LatestInfo.Size()
	if size == 0 {
		log.Warn("media file is empty", zap.String("path", path))
		return false
	}

	if len(scan.TempFiles) > 0 {
		log.Info("temporary files still present", zap.Strings("files", scan.TempFiles))
		return false
	}

	if err := clock.Sleep(ctx, v.clock, v.window); err != nil {
		return false
	}
	info, err := fsys.Stat(path)
	if err != nil {
		log.Warn("media file disappeared", zap.String("path", path), zap.Error(err))
		return false
	}
	if info.Size() != size {
		log.Info("media file still growing",
			zap.String("path", path),
			zap.Int64("before", size),
			zap.Int64("after", info.Size()))
		return false
	}

	if !storage.Readable(fsys, path) {
		if err := fsys.Chmod(path, 0644); err != nil {
			log.Warn("failed to relax permissions", zap.String("path", path), zap.Error(err))
			return false
		}
		if !storage.Readable(fsys, path) {
			log.Warn("media file not readable", zap.String("path", path))
			return false
		}
	}

	v.syncPath(ctx, taskID, path, log)

	log.Info("file verified", zap.String("path", path), zap.Int64("size", size))
	return true
}

// syncPath 回写实际文件路径
func (v *Verifier) syncPath(ctx context.Context, taskID, path string, log *zap.Logger) {
	job, err := v.store.Get(ctx, taskID)
	if err != nil {
		log.Warn("failed to load job for path sync", zap.Error(err))
		return
	}
	if job.FilePath.Valid && job.FilePath.String == path {
		return
	}

	if err := v.store.UpdateFields(ctx, taskID, models.JobUpdate{FilePath: &path}); err != nil {
		log.Warn("failed to sync file path", zap.Error(err))
		return
	}
	log.Info("file path updated", zap.String("old", job.FilePath.String), zap.String("new", path))
}
