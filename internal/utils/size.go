package utils

import "fmt"

// FormatSize 将字节数格式化为可读字符串, 非正数返回空串
func FormatSize(size int64) string {
	const unit = 1024
	switch {
	case size <= 0:
		return ""
	case size < unit:
		return fmt.Sprintf("%dB", size)
	case size < unit*unit:
		return fmt.Sprintf("%.2fKiB", float64(size)/unit)
	case size < unit*unit*unit:
		return fmt.Sprintf("%.2fMiB", float64(size)/unit/unit)
	default:
		return fmt.Sprintf("%.2fGiB", float64(size)/unit/unit/unit)
	}
}
