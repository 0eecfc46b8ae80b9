package formats

import "vasset/fetch-service/internal/models"

// ListAudioFormats 列出全部纯音频格式并按 abr 标注质量
// abr < 128 为 low, > 192 为 high, 其余为 medium
func ListAudioFormats(list []models.Format) []models.AudioFormat {
	out := make([]models.AudioFormat, 0)
	for _, f := range list {
		if !f.IsAudioOnly() {
			continue
		}
		out = append(out, models.AudioFormat{Format: f, Quality: abrQuality(f.ABR)})
	}
	return out
}

func abrQuality(abr float64) models.AudioQuality {
	switch {
	case abr < 128:
		return models.AudioLow
	case abr > 192:
		return models.AudioHigh
	default:
		return models.AudioMedium
	}
}
