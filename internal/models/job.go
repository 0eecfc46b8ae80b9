package models

import (
	"database/sql"
	"time"
)

// JobStatus 任务状态
type JobStatus string

// 状态常量
const (
	StatusPending     JobStatus = "pending"     // 待处理
	StatusDownloading JobStatus = "downloading" // 下载中
	StatusProcessing  JobStatus = "processing"  // 后处理/校验中
	StatusCompleted   JobStatus = "completed"   // 完成
	StatusError       JobStatus = "error"       // 失败
)

// IsTerminal 是否为终态
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Job 下载任务记录
type Job struct {
	ID           int64          `json:"id"`
	TaskID       string         `json:"task_id"`
	URL          string         `json:"url"`
	Format       string         `json:"format"`       // 单一格式 ID
	VideoFormat  string         `json:"video_format"` // 视频格式 ID
	AudioFormat  string         `json:"audio_format"` // 音频格式 ID
	AudioOnly    bool           `json:"audio_only"`
	ConvertToMP3 bool           `json:"convert_to_mp3"`
	Status       JobStatus      `json:"status"`
	Progress     float64        `json:"progress"`
	Title        string         `json:"title"`
	FilePath     sql.NullString `json:"file_path"`
	Error        sql.NullString `json:"error"`
	CreatedAt    time.Time      `json:"created_at"`
	CompletedAt  sql.NullTime   `json:"completed_at"`
}

// Selection 返回任务请求的格式组合
func (j *Job) Selection() Selection {
	return Selection{
		FormatID:      j.Format,
		VideoFormatID: j.VideoFormat,
		AudioFormatID: j.AudioFormat,
		AudioOnly:     j.AudioOnly,
	}
}

// Clone 返回任务快照
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	return &c
}

// JobUpdate 任务部分字段更新, nil 字段保持不变
type JobUpdate struct {
	Status   *JobStatus
	Progress *float64
	Title    *string
	// FilePath 指向空字符串时清空 file_path
	FilePath    *string
	Error       *string
	CompletedAt *time.Time
}

// Apply 将更新应用到任务上
func (u JobUpdate) Apply(job *Job) {
	if u.Status != nil {
		job.Status = *u.Status
	}
	if u.Progress != nil {
		job.Progress = *u.Progress
	}
	if u.Title != nil {
		job.Title = *u.Title
	}
	if u.FilePath != nil {
		job.FilePath = sql.NullString{String: *u.FilePath, Valid: *u.FilePath != ""}
	}
	if u.Error != nil {
		job.Error = sql.NullString{String: *u.Error, Valid: *u.Error != ""}
	}
	if u.CompletedAt != nil {
		job.CompletedAt = sql.NullTime{Time: *u.CompletedAt, Valid: true}
	}
}

// IsEmpty 是否没有任何字段需要更新
func (u JobUpdate) IsEmpty() bool {
	return u.Status == nil && u.Progress == nil && u.Title == nil &&
		u.FilePath == nil && u.Error == nil && u.CompletedAt == nil
}

// DownloadRequest 提交下载任务请求
type DownloadRequest struct {
	URL           string `json:"url" form:"url" binding:"required"`
	Format        string `json:"format" form:"format"` // 格式 ID 或质量标签 (SD/HD/FullHD/2K/4K/low/medium/high)
	VideoFormatID string `json:"video_format_id" form:"video_format_id"`
	AudioFormatID string `json:"audio_format_id" form:"audio_format_id"`
	AudioOnly     bool   `json:"audio_only" form:"audio_only"`
	ConvertToMP3  bool   `json:"convert_to_mp3" form:"convert_to_mp3"`
}

// ProgressEvent yt-dlp 进度事件
type ProgressEvent struct {
	Status             string  `json:"status"` // downloading, finished, error
	DownloadedBytes    int64   `json:"downloaded_bytes"`
	TotalBytes         int64   `json:"total_bytes"`
	TotalBytesEstimate int64   `json:"total_bytes_estimate"`
	FragmentIndex      int     `json:"fragment_index"`
	FragmentCount      int     `json:"fragment_count"`
	Speed              float64 `json:"speed"`
	ETA                float64 `json:"eta"`
	Filename           string  `json:"filename"`
	Error              string  `json:"error"`
}

// 进度事件状态
const (
	EventDownloading = "downloading"
	EventFinished    = "finished"
	EventError       = "error"
)

// ProgressMessage 进度消息
type ProgressMessage struct {
	TaskID          string    `json:"task_id"`
	Status          JobStatus `json:"status"`
	Percent         float64   `json:"percent"`
	DownloadedBytes int64     `json:"downloaded_bytes,omitempty"`
	TotalBytes      int64     `json:"total_bytes,omitempty"`
	Speed           float64   `json:"speed,omitempty"`
	ETA             float64   `json:"eta,omitempty"`
	Message         string    `json:"message,omitempty"`
}
