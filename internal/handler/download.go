package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"vasset/fetch-service/internal/models"
	"vasset/fetch-service/internal/utils"
)

// apiPrefix 下载地址使用的路由前缀
const apiPrefix = "/api/v1"

// DownloadService 下载服务接口 (由 service.DownloadService 实现)
type DownloadService interface {
	Info(ctx context.Context, rawURL string) (*models.VideoInfo, error)
	Formats(ctx context.Context, rawURL string) ([]models.Format, error)
	Buckets(ctx context.Context, rawURL string) (*models.Buckets, error)
	AudioFormats(ctx context.Context, rawURL string) ([]models.AudioFormat, error)
	Submit(ctx context.Context, req *models.DownloadRequest) (*models.Job, error)
	GetJob(ctx context.Context, taskID string) (*models.Job, error)
	ListJobs(ctx context.Context) ([]*models.Job, error)
	GetArtifactPath(ctx context.Context, taskID string) (string, error)
}

// DownloadHandler 下载处理器
type DownloadHandler struct {
	service    DownloadService
	publicHost string
	timeout    time.Duration
	logger     *zap.Logger
}

// NewDownloadHandler 创建下载处理器
// publicHost 为空时下载地址使用请求的 Host
func NewDownloadHandler(service DownloadService, publicHost string, timeout time.Duration, logger *zap.Logger) *DownloadHandler {
	return &DownloadHandler{
		service:    service,
		publicHost: publicHost,
		timeout:    timeout,
		logger:     logger,
	}
}

// requestContext 解析类请求带超时, 超时为 0 时不限制
func (h *DownloadHandler) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), h.timeout)
}

// GetInfo 获取视频元数据
func (h *DownloadHandler) GetInfo(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		models.BadRequest(c, "url parameter is required")
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	info, err := h.service.Info(ctx, url)
	if err != nil {
		h.respondError(c, err)
		return
	}
	models.Success(c, info)
}

// GetFormats 获取格式列表, filtered=true 时返回按质量分组的结果
func (h *DownloadHandler) GetFormats(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		models.BadRequest(c, "url parameter is required")
		return
	}

	filtered, _ := strconv.ParseBool(c.DefaultQuery("filtered", "false"))

	ctx, cancel := h.requestContext(c)
	defer cancel()

	if filtered {
		buckets, err := h.service.Buckets(ctx, url)
		if err != nil {
			h.respondError(c, err)
			return
		}
		models.Success(c, buckets)
		return
	}

	list, err := h.service.Formats(ctx, url)
	if err != nil {
		h.respondError(c, err)
		return
	}
	models.Success(c, list)
}

// GetAudioFormats 获取纯音频格式列表
func (h *DownloadHandler) GetAudioFormats(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		models.BadRequest(c, "url parameter is required")
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	list, err := h.service.AudioFormats(ctx, url)
	if err != nil {
		h.respondError(c, err)
		return
	}
	models.Success(c, list)
}

// SubmitDownload 提交下载任务 (JSON 请求体)
func (h *DownloadHandler) SubmitDownload(c *gin.Context) {
	var req models.DownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		models.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	h.submit(c, &req)
}

// SubmitDownloadQuery 提交下载任务 (查询参数)
func (h *DownloadHandler) SubmitDownloadQuery(c *gin.Context) {
	var req models.DownloadRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		models.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	h.submit(c, &req)
}

func (h *DownloadHandler) submit(c *gin.Context, req *models.DownloadRequest) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	job, err := h.service.Submit(ctx, req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	models.Accepted(c, models.SubmitResponse{
		TaskID: job.TaskID,
		Status: job.Status,
		Title:  job.Title,
	})
}

// ListDownloads 列出全部任务
func (h *DownloadHandler) ListDownloads(c *gin.Context) {
	jobs, err := h.service.ListJobs(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	base := h.baseURL(c)
	views := make([]*models.JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, models.NewJobView(job, base))
	}
	models.Success(c, views)
}

// GetDownload 获取任务状态; 形如 <task_id>.<ext> 时直接返回文件
func (h *DownloadHandler) GetDownload(c *gin.Context) {
	param := c.Param("task_id")
	if ext := filepath.Ext(param); ext != "" {
		h.serveFile(c, strings.TrimSuffix(param, ext))
		return
	}

	taskID, ok := parseTaskID(c, param)
	if !ok {
		return
	}

	job, err := h.service.GetJob(c.Request.Context(), taskID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	models.Success(c, models.NewJobView(job, h.baseURL(c)))
}

// DownloadFile 下载任务产物
func (h *DownloadHandler) DownloadFile(c *gin.Context) {
	h.serveFile(c, c.Param("task_id"))
}

func (h *DownloadHandler) serveFile(c *gin.Context, param string) {
	taskID, ok := parseTaskID(c, param)
	if !ok {
		return
	}

	path, err := h.service.GetArtifactPath(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, utils.ErrNotReady) {
			h.respondNotReady(c, taskID, err)
			return
		}
		h.respondError(c, err)
		return
	}

	h.logger.Info("serving file", zap.String("task_id", taskID), zap.String("path", path))

	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.FileAttachment(path, filepath.Base(path))
}

// respondNotReady 任务未完成时附带当前状态与进度
func (h *DownloadHandler) respondNotReady(c *gin.Context, taskID string, err error) {
	data := gin.H{}
	if job, jobErr := h.service.GetJob(c.Request.Context(), taskID); jobErr == nil {
		data["status"] = job.Status
		data["progress"] = job.Progress
	}
	models.ErrorWithData(c, http.StatusBadRequest, err.Error(), data)
}

// respondError 将业务错误映射为 HTTP 状态码
func (h *DownloadHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, utils.ErrInvalidURL),
		errors.Is(err, utils.ErrInvalidSelection),
		errors.Is(err, utils.ErrQualityUnavailable),
		errors.Is(err, utils.ErrFormatNotFound),
		errors.Is(err, utils.ErrExtractionFailed),
		errors.Is(err, utils.ErrNotReady),
		errors.Is(err, utils.ErrJobFailed):
		models.BadRequest(c, err.Error())
	case errors.Is(err, utils.ErrJobNotFound),
		errors.Is(err, utils.ErrArtifactNotFound):
		models.NotFound(c, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		models.Error(c, http.StatusGatewayTimeout, "request timed out")
	default:
		h.logger.Error("request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
		models.InternalError(c, "internal server error")
	}
}

// baseURL 构建对外下载地址前缀
func (h *DownloadHandler) baseURL(c *gin.Context) string {
	host := h.publicHost
	if host == "" {
		host = c.Request.Host
	}
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return strings.TrimRight(host, "/") + apiPrefix
	}

	scheme := "http"
	if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, apiPrefix)
}

// parseTaskID 校验任务 ID 格式
func parseTaskID(c *gin.Context, raw string) (string, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		models.BadRequest(c, "invalid task ID format")
		return "", false
	}
	return id.String(), true
}
