package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"vasset/fetch-service/internal/formats"
	"vasset/fetch-service/internal/models"
	"vasset/fetch-service/internal/repository"
	"vasset/fetch-service/internal/storage"
	"vasset/fetch-service/internal/utils"
)

// FormatSource 格式查询 (由 cache.FormatCache 实现)
type FormatSource interface {
	GetInfo(ctx context.Context, url string) (*models.VideoInfo, error)
	GetFormats(ctx context.Context, url string) ([]models.Format, error)
	GetBuckets(ctx context.Context, url string) (*models.Buckets, error)
	GetSelection(ctx context.Context, url string) (*models.Buckets, []models.Format, error)
}

// JobRunner 任务执行器 (由 worker.Orchestrator 实现)
type JobRunner interface {
	Start(job *models.Job)
}

// DownloadService 下载服务
type DownloadService struct {
	store   repository.JobStore
	formats FormatSource
	runner  JobRunner
	files   *storage.FileManager
	clock   clockwork.Clock
	logger  *zap.Logger
}

// NewDownloadService 创建下载服务
func NewDownloadService(
	store repository.JobStore,
	formatSource FormatSource,
	runner JobRunner,
	files *storage.FileManager,
	clk clockwork.Clock,
	logger *zap.Logger,
) *DownloadService {
	return &DownloadService{
		store:   store,
		formats: formatSource,
		runner:  runner,
		files:   files,
		clock:   clk,
		logger:  logger,
	}
}

// normalize 标准化并验证 URL
func normalize(rawURL string) (string, error) {
	url := utils.NormalizeURL(rawURL)
	if !utils.IsValidURL(url) {
		return "", utils.ErrInvalidURL
	}
	return url, nil
}

// Info 获取视频元数据
func (s *DownloadService) Info(ctx context.Context, rawURL string) (*models.VideoInfo, error) {
	url, err := normalize(rawURL)
	if err != nil {
		return nil, err
	}
	return s.formats.GetInfo(ctx, url)
}

// Formats 获取完整格式列表
func (s *DownloadService) Formats(ctx context.Context, rawURL string) ([]models.Format, error) {
	url, err := normalize(rawURL)
	if err != nil {
		return nil, err
	}
	return s.formats.GetFormats(ctx, url)
}

// Buckets 获取按质量分组的格式
func (s *DownloadService) Buckets(ctx context.Context, rawURL string) (*models.Buckets, error) {
	url, err := normalize(rawURL)
	if err != nil {
		return nil, err
	}
	return s.formats.GetBuckets(ctx, url)
}

// AudioFormats 获取纯音频格式列表
func (s *DownloadService) AudioFormats(ctx context.Context, rawURL string) ([]models.AudioFormat, error) {
	list, err := s.Formats(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return formats.ListAudioFormats(list), nil
}

// Submit 解析格式并创建任务, 格式错误在创建任务前同步返回
func (s *DownloadService) Submit(ctx context.Context, req *models.DownloadRequest) (*models.Job, error) {
	url, err := normalize(req.URL)
	if err != nil {
		return nil, err
	}

	// 1. 解析格式选择
	buckets, list, err := s.formats.GetSelection(ctx, url)
	if err != nil {
		return nil, err
	}
	selection, err := formats.Resolve(buckets, list, req)
	if err != nil {
		return nil, err
	}

	// 2. 标题 (失败不影响提交)
	var title string
	if info, err := s.formats.GetInfo(ctx, url); err == nil {
		title = info.Title
	} else {
		s.logger.Warn("failed to load title", zap.String("url", url), zap.Error(err))
	}

	// 3. 创建任务
	job := &models.Job{
		TaskID:       uuid.NewString(),
		URL:          url,
		Format:       selection.FormatID,
		VideoFormat:  selection.VideoFormatID,
		AudioFormat:  selection.AudioFormatID,
		AudioOnly:    selection.AudioOnly || req.AudioOnly,
		ConvertToMP3: req.ConvertToMP3,
		Status:       models.StatusPending,
		Title:        title,
		CreatedAt:    s.clock.Now(),
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("download task created",
		zap.String("task_id", job.TaskID),
		zap.String("url", url),
		zap.String("format", selection.Spec()),
		zap.Bool("audio_only", job.AudioOnly),
		zap.Bool("convert_to_mp3", job.ConvertToMP3))

	// 4. 交给编排器
	s.runner.Start(job.Clone())
	return job, nil
}

// GetJob 获取任务快照
func (s *DownloadService) GetJob(ctx context.Context, taskID string) (*models.Job, error) {
	return s.store.Get(ctx, taskID)
}

// ListJobs 获取全部任务
func (s *DownloadService) ListJobs(ctx context.Context) ([]*models.Job, error) {
	return s.store.List(ctx)
}

// GetArtifactPath 获取已完成任务的文件路径
// 记录中的路径失效时在任务目录中查找最新的媒体文件并回写
func (s *DownloadService) GetArtifactPath(ctx context.Context, taskID string) (string, error) {
	job, err := s.store.Get(ctx, taskID)
	if err != nil {
		return "", err
	}

	switch job.Status {
	case models.StatusCompleted:
	case models.StatusError:
		return "", fmt.Errorf("%w: %s", utils.ErrJobFailed, job.Error.String)
	default:
		return "", fmt.Errorf("%w: status %s, progress %.1f%%", utils.ErrNotReady, job.Status, job.Progress)
	}

	if job.FilePath.Valid {
		if s.files.FileExists(job.FilePath.String) {
			return job.FilePath.String, nil
		}
	}

	scan, err := storage.ScanTaskDir(s.files.FS(), s.files.TaskDir(taskID))
	if err != nil || scan.Latest == "" {
		return "", utils.ErrArtifactNotFound
	}

	path := scan.Latest
	if err := s.store.UpdateFields(ctx, taskID, models.JobUpdate{FilePath: &path}); err != nil {
		s.logger.Warn("failed to update file path", zap.String("task_id", taskID), zap.Error(err))
	}
	return path, nil
}
