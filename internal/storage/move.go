package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jmtorr3/blog/internal/checksum"
)

// linkThenRemove moves src to dst via a hard link, which never replaces an
// existing dst.
func linkThenRemove(src, dst string) error {
	if err := os.Link(src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		// Both names now point at the same inode; drop the new one.
		_ = os.Remove(dst)
		return err
	}
	return nil
}

// copyVerifyMove moves src to dst across volumes. The copy is written next
// to dst, fsynced and compared against src before being linked into place,
// so an interruption leaves src intact. The only window with two copies is
// between the link and the removal of src.
func copyVerifyMove(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return &os.LinkError{Op: "move", Old: src, New: dst, Err: fs.ErrExist}
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), tmpPattern)
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("copy: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	_ = os.Chmod(tmpName, info.Mode().Perm())

	want, err := checksum.SumFile(src)
	if err != nil {
		return err
	}
	got, err := checksum.SumFile(tmpName)
	if err != nil {
		return err
	}
	if got != want {
		return errors.New("copy verification failed: checksum mismatch")
	}

	if err := os.Link(tmpName, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		_ = os.Remove(dst)
		return err
	}
	if st, err := os.Stat(dst); err != nil || st.Size() != info.Size() {
		return fmt.Errorf("verify %s after move: size mismatch", dst)
	}
	return nil
}
