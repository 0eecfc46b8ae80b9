// Package formats 将 yt-dlp 格式列表分组为质量档位并解析用户选择
package formats

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"vasset/fetch-service/internal/models"
)

// companionMinBitrate 配套音频的最低码率 (kbps)
const companionMinBitrate = 48

// heightRange 档位高度范围, 闭区间, Max 为 0 表示无上限
type heightRange struct {
	Quality models.Quality
	Target  int
	Min     int
	Max     int
}

var videoRanges = []heightRange{
	{Quality: models.QualitySD, Target: 480, Min: 360, Max: 480},
	{Quality: models.QualityHD, Target: 720, Min: 481, Max: 720},
	{Quality: models.QualityFullHD, Target: 1080, Min: 721, Max: 1080},
	{Quality: models.Quality2K, Target: 1440, Min: 1081, Max: 1440},
	{Quality: models.Quality4K, Target: 2160, Min: 1441},
}

func (r heightRange) contains(h int) bool {
	return h >= r.Min && (r.Max == 0 || h <= r.Max)
}

// BucketFormats 按质量档位分组格式
func BucketFormats(list []models.Format) *models.Buckets {
	var videos, audios []models.Format
	for _, f := range list {
		switch {
		case f.HasVideo():
			videos = append(videos, f)
		case f.IsAudioOnly():
			audios = append(audios, f)
		}
	}

	result := &models.Buckets{
		Formats:   make(map[models.Quality]models.VideoBucket),
		AudioOnly: make(map[models.AudioQuality]models.AudioBucket),
	}

	companion := pickCompanionAudio(audios)

	heights := make([]int, len(videos))
	for i := range videos {
		heights[i] = ParseHeight(videos[i])
	}

	for _, r := range videoRanges {
		best := -1
		// 先精确匹配, 没有再按区间
		for pass := 0; pass < 2 && best < 0; pass++ {
			for i := range videos {
				h := heights[i]
				matched := h == r.Target
				if pass == 1 {
					matched = r.contains(h)
				}
				if !matched {
					continue
				}
				if best < 0 || videos[i].TBR > videos[best].TBR {
					best = i
				}
			}
		}
		if best < 0 {
			continue
		}
		bucket := models.VideoBucket{Video: videos[best]}
		if companion != nil {
			audio := *companion
			bucket.Audio = &audio
		}
		result.Formats[r.Quality] = bucket
	}

	for _, f := range audios {
		q := audioTier(f.Bitrate())
		if _, ok := result.AudioOnly[q]; ok {
			continue
		}
		result.AudioOnly[q] = models.AudioBucket{Format: f, Bitrate: f.Bitrate()}
	}

	return result
}

// ParseHeight 解析视频高度: 先看 resolution ("1920x1080" 或 "1080p"), 再看 height
func ParseHeight(f models.Format) int {
	if h := heightFromResolution(f.Resolution); h > 0 {
		return h
	}
	return f.Height
}

func heightFromResolution(resolution string) int {
	resolution = strings.TrimSpace(resolution)
	if resolution == "" {
		return 0
	}

	if parts := strings.Split(resolution, "x"); len(parts) == 2 {
		h, err := strconv.Atoi(parts[1])
		if err != nil {
			return 0
		}
		return h
	}

	h, err := strconv.Atoi(strings.TrimSuffix(resolution, "p"))
	if err != nil {
		return 0
	}
	return h
}

// pickCompanionAudio 选出与视频档位搭配的音频
// 按文件大小升序 (未知排最后), 同大小按码率降序, 取第一个码率 >= 48kbps 的, 否则取第一个
func pickCompanionAudio(audios []models.Format) *models.Format {
	if len(audios) == 0 {
		return nil
	}

	sorted := make([]models.Format, len(audios))
	copy(sorted, audios)
	sort.SliceStable(sorted, func(i, j int) bool {
		si, sj := sortSize(sorted[i]), sortSize(sorted[j])
		if si != sj {
			return si < sj
		}
		return sorted[i].TBR > sorted[j].TBR
	})

	for i := range sorted {
		if sorted[i].TBR >= companionMinBitrate {
			return &sorted[i]
		}
	}
	return &sorted[0]
}

func sortSize(f models.Format) int64 {
	if f.Filesize > 0 {
		return f.Filesize
	}
	return math.MaxInt64
}

// audioTier 按码率划分音频档位
func audioTier(kbps float64) models.AudioQuality {
	switch {
	case kbps >= 160:
		return models.AudioHigh
	case kbps >= 96:
		return models.AudioMedium
	default:
		return models.AudioLow
	}
}
