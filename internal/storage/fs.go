package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const tmpPattern = ".blog-tmp-*"

// ErrPathEscape is returned for paths that resolve outside the storage root.
var ErrPathEscape = errors.New("storage: path escapes storage root")

// FS implements Provider backed by the local file system.
type FS struct {
	root string // absolute path to storage root
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute storage root.
func (f *FS) Root() string { return f.root }

// safePath resolves a relative path against the storage root and rejects
// any result that escapes it (directory traversal).
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("absolute path %s: %w", rel, ErrPathEscape)
	}
	joined := filepath.Join(f.root, cleaned)
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("storage: resolve path: %w", err)
	}
	// Ensure the resolved path is still under root.
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("%s: %w", rel, ErrPathEscape)
	}
	return abs, nil
}

// Exists reports whether path exists.
func (f *FS) Exists(path string) (bool, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return false, err
	}
	_, err = os.Lstat(abs)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("storage: stat %s: %w", path, err)
	}
}

// FileSize returns the size of a regular file.
func (f *FS) FileSize(path string) (int64, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return 0, fmt.Errorf("storage: stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("storage: not a regular file: %s", path)
	}
	return info.Size(), nil
}

// MakeDirs creates dir and its parents.
func (f *FS) MakeDirs(dir string) error {
	abs, err := f.safePath(dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}
	return nil
}

// Move renames src to dst, creating dst's parent directories. On the same
// volume the rename is atomic and refuses to replace dst. Across volumes
// the file is copied, verified by checksum, linked into place and only then
// removed from src.
func (f *FS) Move(src, dst string) error {
	absSrc, err := f.safePath(src)
	if err != nil {
		return err
	}
	absDst, err := f.safePath(dst)
	if err != nil {
		return err
	}
	if absSrc == f.root || absDst == f.root {
		return fmt.Errorf("storage: move: cannot move the storage root")
	}
	if _, err := os.Lstat(absSrc); err != nil {
		return fmt.Errorf("storage: move %s: %w", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(absDst), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir for move: %w", err)
	}

	err = renameNoReplace(absSrc, absDst)
	if err != nil && isCrossDevice(err) {
		err = copyVerifyMove(absSrc, absDst)
	}
	if err != nil {
		return fmt.Errorf("storage: move %s -> %s: %w", src, dst, err)
	}
	return nil
}

// Remove deletes a single file.
func (f *FS) Remove(path string) error {
	abs, err := f.safePath(path)
	if err != nil {
		return err
	}
	if abs == f.root {
		return fmt.Errorf("storage: cannot remove the storage root")
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("storage: delete %s: %w", path, err)
	}
	return nil
}

// RemoveTree deletes dir and everything below it.
func (f *FS) RemoveTree(dir string) error {
	abs, err := f.safePath(dir)
	if err != nil {
		return err
	}
	if abs == f.root {
		return fmt.Errorf("storage: cannot remove the storage root")
	}
	if err := os.RemoveAll(abs); err != nil {
		return fmt.Errorf("storage: remove tree %s: %w", dir, err)
	}
	return nil
}

// WriteNew streams r into path: tmp file → fsync → no-replace rename.
func (f *FS) WriteNew(path string, r io.Reader) (int64, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return 0, err
	}
	if abs == f.root {
		return 0, fmt.Errorf("storage: invalid file path: %q", path)
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("storage: mkdir: %w", err)
	}
	if _, err := os.Lstat(abs); err == nil {
		return 0, fmt.Errorf("storage: write %s: %w", path, fs.ErrExist)
	}

	tmp, err := os.CreateTemp(dir, tmpPattern)
	if err != nil {
		return 0, fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	n, err := io.Copy(tmp, r)
	if err != nil {
		return 0, fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("storage: close temp: %w", err)
	}
	if err := renameNoReplace(tmpName, abs); err != nil {
		return 0, fmt.Errorf("storage: write %s: %w", path, err)
	}
	success = true
	return n, nil
}

// Open opens a stored file for reading.
func (f *FS) Open(path string) (File, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	return file, nil
}

// Walk visits every regular file under dir. Temporary upload files are skipped.
func (f *FS) Walk(dir string, fn WalkFunc) error {
	base, err := f.safePath(dir)
	if err != nil {
		return err
	}
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == base && errors.Is(walkErr, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return walkErr
		}
		if !d.Type().IsRegular() || IsTemp(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(rel), info.Size())
	})
	if err != nil {
		return fmt.Errorf("storage: walk: %w", err)
	}
	return nil
}

// IsTemp reports whether name is an in-flight temporary file.
func IsTemp(name string) bool {
	ok, _ := filepath.Match(tmpPattern, name)
	return ok
}
