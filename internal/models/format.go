package models

import "fmt"

// Format 单个可选流 (yt-dlp 格式描述)
type Format struct {
	FormatID       string  `json:"format_id"`
	Format         string  `json:"format"`
	Ext            string  `json:"ext"`
	Resolution     string  `json:"resolution"`
	Height         int     `json:"height"`
	Filesize       int64   `json:"filesize"`
	FilesizeApprox int64   `json:"filesize_approx"`
	VCodec         string  `json:"vcodec"`
	ACodec         string  `json:"acodec"`
	TBR            float64 `json:"tbr"`
	ABR            float64 `json:"abr"`
	ASR            int     `json:"asr"`
	FPS            float64 `json:"fps"`

	FormattedFilesize       string `json:"formatted_filesize,omitempty"`
	FormattedFilesizeApprox string `json:"formatted_filesize_approx,omitempty"`
}

// HasVideo 是否包含视频流
func (f *Format) HasVideo() bool {
	return f.VCodec != "" && f.VCodec != "none"
}

// HasAudio 是否包含音频流
func (f *Format) HasAudio() bool {
	return f.ACodec != "" && f.ACodec != "none"
}

// IsAudioOnly 是否为纯音频
func (f *Format) IsAudioOnly() bool {
	return !f.HasVideo() && f.HasAudio()
}

// Bitrate 返回码率 (kbps), 优先 tbr
func (f *Format) Bitrate() float64 {
	if f.TBR > 0 {
		return f.TBR
	}
	return f.ABR
}

// Size 返回已知大小, 未知时为 0
func (f *Format) Size() int64 {
	if f.Filesize > 0 {
		return f.Filesize
	}
	return f.FilesizeApprox
}

// VideoInfo 视频元数据
type VideoInfo struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Author       string   `json:"author"`
	Description  string   `json:"description"`
	Duration     float64  `json:"duration"`
	Thumbnail    string   `json:"thumbnail"`
	ViewCount    int64    `json:"view_count"`
	LikeCount    int64    `json:"like_count"`
	CommentCount int64    `json:"comment_count"`
	Formats      []Format `json:"formats,omitempty"`
}

// Quality 视频质量档位
type Quality string

// 视频质量档位
const (
	QualitySD     Quality = "SD"
	QualityHD     Quality = "HD"
	QualityFullHD Quality = "FullHD"
	Quality2K     Quality = "2K"
	Quality4K     Quality = "4K"
)

// VideoQualities 按从低到高排列
var VideoQualities = []Quality{QualitySD, QualityHD, QualityFullHD, Quality2K, Quality4K}

// AudioQuality 音频质量档位
type AudioQuality string

// 音频质量档位
const (
	AudioLow    AudioQuality = "low"
	AudioMedium AudioQuality = "medium"
	AudioHigh   AudioQuality = "high"
)

// AudioQualities 按从低到高排列
var AudioQualities = []AudioQuality{AudioLow, AudioMedium, AudioHigh}

// IsVideoQuality 判断是否为视频质量标签
func IsVideoQuality(label string) bool {
	for _, q := range VideoQualities {
		if string(q) == label {
			return true
		}
	}
	return false
}

// IsAudioQuality 判断是否为音频质量标签
func IsAudioQuality(label string) bool {
	for _, q := range AudioQualities {
		if string(q) == label {
			return true
		}
	}
	return false
}

// VideoBucket 视频档位: 视频流 + 配套音频流
type VideoBucket struct {
	Video Format  `json:"video"`
	Audio *Format `json:"audio"`
}

// AudioBucket 纯音频档位
type AudioBucket struct {
	Format  Format  `json:"format"`
	Bitrate float64 `json:"bitrate"`
}

// Buckets 按质量分组后的格式
type Buckets struct {
	Formats   map[Quality]VideoBucket      `json:"formats"`
	AudioOnly map[AudioQuality]AudioBucket `json:"audio_only"`
}

// Selection 解析后的具体格式组合
type Selection struct {
	FormatID      string `json:"format,omitempty"`
	VideoFormatID string `json:"video_format,omitempty"`
	AudioFormatID string `json:"audio_format,omitempty"`
	AudioOnly     bool   `json:"audio_only"`
}

// Spec 构建 yt-dlp 格式字符串
func (s Selection) Spec() string {
	switch {
	case s.FormatID != "":
		return s.FormatID
	case s.VideoFormatID != "" && s.AudioFormatID != "":
		return fmt.Sprintf("%s+%s", s.VideoFormatID, s.AudioFormatID)
	case s.VideoFormatID != "":
		return s.VideoFormatID
	default:
		return s.AudioFormatID
	}
}

// AudioFormat 纯音频格式列表项
type AudioFormat struct {
	Format
	Quality AudioQuality `json:"quality"`
}
