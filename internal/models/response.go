package models

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Accepted 已接受响应
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, Response{
		Code:    0,
		Message: "task submitted",
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, code int, message string) {
	c.JSON(code, Response{
		Code:    code,
		Message: message,
	})
}

// ErrorWithData 带附加数据的错误响应
func ErrorWithData(c *gin.Context, code int, message string, data interface{}) {
	c.JSON(code, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// BadRequest 请求错误
func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, message)
}

// NotFound 未找到
func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, message)
}

// InternalError 服务器错误
func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, message)
}

// SubmitResponse 提交下载任务响应
type SubmitResponse struct {
	TaskID string    `json:"task_id"`
	Status JobStatus `json:"status"`
	Title  string    `json:"title,omitempty"`
}

// JobView 任务状态快照
type JobView struct {
	TaskID       string     `json:"task_id"`
	URL          string     `json:"url"`
	Status       JobStatus  `json:"status"`
	Progress     float64    `json:"progress"`
	Title        string     `json:"title"`
	Format       string     `json:"format,omitempty"`
	VideoFormat  string     `json:"video_format,omitempty"`
	AudioFormat  string     `json:"audio_format,omitempty"`
	AudioOnly    bool       `json:"audio_only"`
	ConvertToMP3 bool       `json:"convert_to_mp3"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	DownloadURL  string     `json:"download_url,omitempty"`
	FileURL      string     `json:"file_url,omitempty"`
}

// NewJobView 由任务记录构建状态快照, 已完成且有文件时附带下载地址
// baseURL 为 API 前缀, 如 "/api/v1"
func NewJobView(job *Job, baseURL string) *JobView {
	view := &JobView{
		TaskID:       job.TaskID,
		URL:          job.URL,
		Status:       job.Status,
		Progress:     job.Progress,
		Title:        job.Title,
		Format:       job.Format,
		VideoFormat:  job.VideoFormat,
		AudioFormat:  job.AudioFormat,
		AudioOnly:    job.AudioOnly,
		ConvertToMP3: job.ConvertToMP3,
		CreatedAt:    job.CreatedAt,
	}
	if job.Error.Valid {
		view.Error = job.Error.String
	}
	if job.CompletedAt.Valid {
		t := job.CompletedAt.Time
		view.CompletedAt = &t
	}

	if job.Status == StatusCompleted && job.FilePath.Valid {
		base := strings.TrimRight(baseURL, "/")
		view.DownloadURL = fmt.Sprintf("%s/download/%s/file", base, job.TaskID)
		if ext := filepath.Ext(job.FilePath.String); ext != "" {
			view.FileURL = fmt.Sprintf("%s/download/%s%s", base, job.TaskID, ext)
		}
	}
	return view
}
