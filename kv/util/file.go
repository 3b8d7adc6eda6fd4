package util

import (
	"os"
	"path/filepath"

	"github.com/pingcap/errors"
)

// EnsureDir creates path if it is missing. It fails if path exists and is not a directory.
func EnsureDir(path string) error {
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		return errors.WithStack(os.MkdirAll(path, 0755))
	}
	if err != nil {
		return errors.WithStack(err)
	}
	if !fi.IsDir() {
		return errors.Errorf("%s is not a directory", path)
	}
	return nil
}

func DirExists(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fi.IsDir()
}

// DirSize sums the sizes of the regular files under path.
func DirSize(path string) (uint64, error) {
	var size uint64
	err := filepath.Walk(path, func(_ string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.Mode().IsRegular() {
			size += uint64(fi.Size())
		}
		return nil
	})
	return size, errors.WithStack(err)
}
