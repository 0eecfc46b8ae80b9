package formats

import (
	"fmt"

	"vasset/fetch-service/internal/models"
	"vasset/fetch-service/internal/utils"
)

// FindFormat 按 ID 精确查找格式
func FindFormat(list []models.Format, formatID string) (*models.Format, error) {
	for i := range list {
		if list[i].FormatID == formatID {
			return &list[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", utils.ErrFormatNotFound, formatID)
}

// Resolve 将下载请求解析为具体的格式组合
// Format 可以是质量标签 (SD/HD/FullHD/2K/4K, low/medium/high) 或格式 ID;
// 标签对应的档位不存在时返回 ErrQualityUnavailable, 不会降级
func Resolve(buckets *models.Buckets, list []models.Format, req *models.DownloadRequest) (models.Selection, error) {
	if req.AudioOnly {
		if req.Format == "" && req.AudioFormatID == "" {
			return models.Selection{}, fmt.Errorf("%w: either format or audio_format_id is required for audio download", utils.ErrInvalidSelection)
		}
	} else if req.Format == "" && (req.VideoFormatID == "" || req.AudioFormatID == "") {
		return models.Selection{}, fmt.Errorf("%w: either format or both video_format_id and audio_format_id are required", utils.ErrInvalidSelection)
	}

	if req.Format != "" {
		return resolveFormat(buckets, list, req.Format)
	}

	if req.AudioOnly {
		audio, err := FindFormat(list, req.AudioFormatID)
		if err != nil || !audio.HasAudio() {
			return models.Selection{}, fmt.Errorf("%w: invalid audio format ID: %s", utils.ErrFormatNotFound, req.AudioFormatID)
		}
		return models.Selection{AudioFormatID: audio.FormatID, AudioOnly: true}, nil
	}

	video, err := FindFormat(list, req.VideoFormatID)
	if err != nil || !video.HasVideo() {
		return models.Selection{}, fmt.Errorf("%w: invalid video format ID: %s", utils.ErrFormatNotFound, req.VideoFormatID)
	}
	audio, err := FindFormat(list, req.AudioFormatID)
	if err != nil || !audio.HasAudio() {
		return models.Selection{}, fmt.Errorf("%w: invalid audio format ID: %s", utils.ErrFormatNotFound, req.AudioFormatID)
	}
	return models.Selection{VideoFormatID: video.FormatID, AudioFormatID: audio.FormatID}, nil
}

func resolveFormat(buckets *models.Buckets, list []models.Format, label string) (models.Selection, error) {
	switch {
	case models.IsVideoQuality(label):
		bucket, ok := lookupVideo(buckets, models.Quality(label))
		if !ok {
			return models.Selection{}, fmt.Errorf("%w: quality %s is not available", utils.ErrQualityUnavailable, label)
		}
		sel := models.Selection{VideoFormatID: bucket.Video.FormatID}
		if bucket.Audio != nil {
			sel.AudioFormatID = bucket.Audio.FormatID
		}
		return sel, nil

	case models.IsAudioQuality(label):
		bucket, ok := lookupAudio(buckets, models.AudioQuality(label))
		if !ok {
			return models.Selection{}, fmt.Errorf("%w: audio quality %s is not available", utils.ErrQualityUnavailable, label)
		}
		return models.Selection{AudioFormatID: bucket.Format.FormatID, AudioOnly: true}, nil
	}

	f, err := FindFormat(list, label)
	if err != nil {
		return models.Selection{}, err
	}
	return models.Selection{FormatID: f.FormatID, AudioOnly: f.IsAudioOnly()}, nil
}

func lookupVideo(b *models.Buckets, q models.Quality) (models.VideoBucket, bool) {
	if b == nil {
		return models.VideoBucket{}, false
	}
	v, ok := b.Formats[q]
	return v, ok
}

func lookupAudio(b *models.Buckets, q models.AudioQuality) (models.AudioBucket, bool) {
	if b == nil {
		return models.AudioBucket{}, false
	}
	a, ok := b.AudioOnly[q]
	return a, ok
}
