package storage

import (
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// MediaExtensions 认定为成品的扩展名
var MediaExtensions = []string{".mp4", ".webm", ".mkv", ".m4a", ".mp3", ".opus", ".aac"}

// TempSuffixes yt-dlp 未完成写入时留下的临时文件后缀
var TempSuffixes = []string{".part", ".ytdl", ".temp"}

// IsMediaFile 是否为成品媒体文件
func IsMediaFile(name string) bool {
	return hasSuffix(name, MediaExtensions)
}

// IsTempFile 是否为临时文件
func IsTempFile(name string) bool {
	return hasSuffix(name, TempSuffixes)
}

func hasSuffix(name string, suffixes []string) bool {
	lower := strings.ToLower(name)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

// DirScan 任务目录扫描结果
type DirScan struct {
	// Latest 最近修改的媒体文件, 没有时为空
	Latest     string
	LatestInfo fs.FileInfo
	TempFiles  []string
}

// ScanTaskDir 扫描任务目录, 找出最新的媒体文件和临时文件
func ScanTaskDir(fsys afero.Fs, dir string) (*DirScan, error) {
	entries, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	scan := &DirScan{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		path := filepath.Join(dir, name)

		if IsTempFile(name) {
			scan.TempFiles = append(scan.TempFiles, path)
			continue
		}
		if !IsMediaFile(name) {
			continue
		}

		if scan.LatestInfo == nil || entry.ModTime().After(scan.LatestInfo.ModTime()) {
			scan.Latest = path
			scan.LatestInfo = entry
		}
	}

	return scan, nil
}
