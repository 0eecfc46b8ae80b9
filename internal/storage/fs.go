package storage

import (
	"github.com/spf13/afero"
)

// Readable 文件带属主读权限且能被当前进程打开
func Readable(fsys afero.Fs, path string) bool {
	info, err := fsys.Stat(path)
	if err != nil || info.Mode().Perm()&0400 == 0 {
		return false
	}
	f, err := fsys.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
