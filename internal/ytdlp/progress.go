package ytdlp

import (
	"encoding/json"
	"strings"

	"vasset/fetch-service/internal/models"
)

// progressPrefix 进度行前缀, 配合 --progress-template 输出 JSON
const progressPrefix = "[fetch-progress]"

// rawProgress yt-dlp 进度字典, 数值字段可能是 null 或浮点
type rawProgress struct {
	Status             string   `json:"status"`
	DownloadedBytes    *float64 `json:"downloaded_bytes"`
	TotalBytes         *float64 `json:"total_bytes"`
	TotalBytesEstimate *float64 `json:"total_bytes_estimate"`
	FragmentIndex      *float64 `json:"fragment_index"`
	FragmentCount      *float64 `json:"fragment_count"`
	Speed              *float64 `json:"speed"`
	ETA                *float64 `json:"eta"`
	Filename           string   `json:"filename"`
	Error              string   `json:"error"`
}

// ParseProgressLine 解析一行进度输出, 非进度行返回 false
func ParseProgressLine(line string) (*models.ProgressEvent, bool) {
	idx := strings.Index(line, progressPrefix)
	if idx < 0 {
		return nil, false
	}
	payload := strings.TrimSpace(line[idx+len(progressPrefix):])

	var raw rawProgress
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, false
	}
	if raw.Status == "" {
		return nil, false
	}

	return &models.ProgressEvent{
		Status:             raw.Status,
		DownloadedBytes:    int64(value(raw.DownloadedBytes)),
		TotalBytes:         int64(value(raw.TotalBytes)),
		TotalBytesEstimate: int64(value(raw.TotalBytesEstimate)),
		FragmentIndex:      int(value(raw.FragmentIndex)),
		FragmentCount:      int(value(raw.FragmentCount)),
		Speed:              value(raw.Speed),
		ETA:                value(raw.ETA),
		Filename:           raw.Filename,
		Error:              raw.Error,
	}, true
}

func value(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
