//go:build !linux

package storage

import (
	"errors"
	"io/fs"
	"os"
	"syscall"
)

// renameNoReplace renames src to dst without replacing an existing dst.
// Where hard links are unavailable it falls back to a stat check followed
// by a plain rename, which is racy against concurrent writers of dst.
func renameNoReplace(src, dst string) error {
	err := linkThenRemove(src, dst)
	if err == nil || errors.Is(err, fs.ErrExist) || isCrossDevice(err) {
		return err
	}
	if _, statErr := os.Lstat(dst); statErr == nil {
		return &os.LinkError{Op: "rename", Old: src, New: dst, Err: fs.ErrExist}
	}
	return os.Rename(src, dst)
}

func isCrossDevice(err error) bool {
	return errors.Is(err, syscall.EXDEV)
}
