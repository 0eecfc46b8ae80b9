package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// FileManager 下载目录管理器, 每个任务一个子目录
type FileManager struct {
	basePath string
	fs       afero.Fs
	logger   *zap.Logger
}

// NewFileManager 创建文件管理器, fsys 为 nil 时使用本地磁盘
func NewFileManager(basePath string, fsys afero.Fs, logger *zap.Logger) *FileManager {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &FileManager{basePath: basePath, fs: fsys, logger: logger}
}

// FS 底层文件系统
func (m *FileManager) FS() afero.Fs {
	return m.fs
}

// TaskDir 任务目录
func (m *FileManager) TaskDir(taskID string) string {
	return filepath.Join(m.basePath, taskID)
}

// OutputTemplate yt-dlp 输出模板: <root>/<task_id>/<task_id>.%(ext)s
func (m *FileManager) OutputTemplate(taskID string) string {
	return filepath.Join(m.TaskDir(taskID), taskID+".%(ext)s")
}

// PrepareTaskDir 创建任务目录并清除已有文件
func (m *FileManager) PrepareTaskDir(taskID string) (string, error) {
	dir := m.TaskDir(taskID)
	if err := m.fs.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create task directory: %w", err)
	}

	entries, err := afero.ReadDir(m.fs, dir)
	if err != nil {
		return "", fmt.Errorf("failed to read task directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := m.fs.Remove(path); err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to remove stale file: %w", err)
		}
		m.logger.Debug("removed existing file", zap.String("path", path))
	}

	return dir, nil
}

// ListTaskDirs 列出下载根目录下的所有任务目录名
func (m *FileManager) ListTaskDirs() ([]string, error) {
	entries, err := afero.ReadDir(m.fs, m.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list downloads directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

// DeleteDir 删除目录及其内容
func (m *FileManager) DeleteDir(dirPath string) error {
	if err := m.fs.RemoveAll(dirPath); err != nil {
		return fmt.Errorf("failed to delete directory: %w", err)
	}
	m.logger.Info("deleted directory", zap.String("path", dirPath))
	return nil
}

// FileExists 检查文件是否存在
func (m *FileManager) FileExists(filePath string) bool {
	ok, err := afero.Exists(m.fs, filePath)
	return err == nil && ok
}

// EnsureDir 确保下载根目录存在
func (m *FileManager) EnsureDir() error {
	if err := m.fs.MkdirAll(m.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create downloads directory: %w", err)
	}
	return nil
}

// DiskUsage 磁盘使用情况
type DiskUsage struct {
	Total       uint64  // 总空间(字节)
	Available   uint64  // 可用空间(字节)
	Used        uint64  // 已用空间(字节)
	UsedPercent float64 // 使用百分比
}

// CheckDiskSpace 检查磁盘空间
func (m *FileManager) CheckDiskSpace(path string) (*DiskUsage, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return nil, fmt.Errorf("failed to get disk stats: %w", err)
	}

	total := stat.Blocks * uint64(stat.Bsize)
	available := stat.Bavail * uint64(stat.Bsize)
	used := total - available

	usage := &DiskUsage{Total: total, Available: available, Used: used}
	if total > 0 {
		usage.UsedPercent = float64(used) / float64(total) * 100
	}
	return usage, nil
}

// IsDiskSpaceSufficient 检查磁盘空间是否充足, threshold<=0 时不检查
func (m *FileManager) IsDiskSpaceSufficient(threshold float64) (bool, error) {
	if threshold <= 0 {
		return true, nil
	}

	usage, err := m.CheckDiskSpace(m.basePath)
	if err != nil {
		return false, err
	}

	if usage.UsedPercent > threshold {
		m.logger.Warn("disk usage above threshold",
			zap.Float64("used_percent", usage.UsedPercent),
			zap.Float64("threshold", threshold))
		return false, nil
	}

	return true, nil
}
