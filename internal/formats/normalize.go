package formats

import (
	"vasset/fetch-service/internal/models"
	"vasset/fetch-service/internal/utils"
)

// NormalizeFormats 补全估算大小与可读大小
// 既无 filesize 也无 filesize_approx 时按 tbr(kbps) * 时长(秒) * 125 估算字节数
func NormalizeFormats(list []models.Format, duration float64) []models.Format {
	out := make([]models.Format, len(list))
	for i, f := range list {
		if f.Filesize <= 0 && f.FilesizeApprox <= 0 && f.TBR > 0 && duration > 0 {
			f.FilesizeApprox = int64(f.TBR * duration * 125)
		}
		f.FormattedFilesize = utils.FormatSize(f.Filesize)
		f.FormattedFilesizeApprox = utils.FormatSize(f.FilesizeApprox)
		out[i] = f
	}
	return out
}
