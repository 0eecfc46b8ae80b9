package ytdlp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"go.uber.org/zap"

	"vasset/fetch-service/internal/models"
	"vasset/fetch-service/internal/utils"
)

// rawInfo yt-dlp --dump-json 输出
type rawInfo struct {
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	Uploader     string      `json:"uploader"`
	Channel      string      `json:"channel"`
	Description  string      `json:"description"`
	Duration     float64     `json:"duration"`
	Thumbnail    string      `json:"thumbnail"`
	ViewCount    int64       `json:"view_count"`
	LikeCount    int64       `json:"like_count"`
	CommentCount int64       `json:"comment_count"`
	Formats      []rawFormat `json:"formats"`
}

// rawFormat 单个格式, 部分提取器返回浮点大小
type rawFormat struct {
	FormatID       string   `json:"format_id"`
	Format         string   `json:"format"`
	Ext            string   `json:"ext"`
	Resolution     string   `json:"resolution"`
	Height         *float64 `json:"height"`
	Filesize       *float64 `json:"filesize"`
	FilesizeApprox *float64 `json:"filesize_approx"`
	VCodec         string   `json:"vcodec"`
	ACodec         string   `json:"acodec"`
	TBR            *float64 `json:"tbr"`
	ABR            *float64 `json:"abr"`
	ASR            *float64 `json:"asr"`
	FPS            *float64 `json:"fps"`
}

func (f rawFormat) toModel() models.Format {
	return models.Format{
		FormatID:       f.FormatID,
		Format:         f.Format,
		Ext:            f.Ext,
		Resolution:     f.Resolution,
		Height:         int(value(f.Height)),
		Filesize:       int64(value(f.Filesize)),
		FilesizeApprox: int64(value(f.FilesizeApprox)),
		VCodec:         f.VCodec,
		ACodec:         f.ACodec,
		TBR:            value(f.TBR),
		ABR:            value(f.ABR),
		ASR:            int(value(f.ASR)),
		FPS:            value(f.FPS),
	}
}

// ExtractInfo 提取视频信息 (含完整格式列表)
func (e *Executor) ExtractInfo(ctx context.Context, url string) (*models.VideoInfo, error) {
	args := []string{"--dump-json", "--skip-download", "--no-playlist", "--no-warnings"}
	args = append(args, "--socket-timeout", strconv.Itoa(e.socketTimeout))
	args = append(args, e.defaultArgs...)
	args = append(args, url)

	ctx, cancel := context.WithTimeout(ctx, time.Duration(e.infoTimeout)*time.Second)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, e.binaryPath, args...)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, utils.ErrTimeout
		}
		if errors.Is(err, exec.ErrNotFound) {
			return nil, utils.ErrYTDLPNotFound
		}
		var stderr string
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			stderr = string(exitErr.Stderr)
		}
		return nil, fmt.Errorf("%w: %s", utils.MapYTDLPError(stderr), stderr)
	}

	info, err := ParseInfo(output)
	if err != nil {
		return nil, err
	}

	e.logger.Info("extracted video info",
		zap.String("url", url),
		zap.String("title", info.Title),
		zap.Int("formats", len(info.Formats)),
		zap.Duration("elapsed", time.Since(start)))
	return info, nil
}

// ParseInfo 解析 yt-dlp JSON 输出
func ParseInfo(data []byte) (*models.VideoInfo, error) {
	var raw rawInfo
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse yt-dlp output: %w", err)
	}

	author := raw.Uploader
	if author == "" {
		author = raw.Channel
	}

	formats := make([]models.Format, 0, len(raw.Formats))
	for _, f := range raw.Formats {
		formats = append(formats, f.toModel())
	}

	return &models.VideoInfo{
		ID:           raw.ID,
		Title:        utils.SanitizeString(raw.Title),
		Author:       author,
		Description:  raw.Description,
		Duration:     raw.Duration,
		Thumbnail:    raw.Thumbnail,
		ViewCount:    raw.ViewCount,
		LikeCount:    raw.LikeCount,
		CommentCount: raw.CommentCount,
		Formats:      formats,
	}, nil
}
