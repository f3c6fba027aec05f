// Package storage defines the media storage root abstraction.
package storage

import (
	"io"
	"io/fs"
)

// File is an open stored file.
type File interface {
	io.ReadSeekCloser
	Stat() (fs.FileInfo, error)
}

// WalkFunc is called for every regular file under a walked directory.
type WalkFunc func(rel string, size int64) error

// Provider is a hierarchical byte store addressed by slash-separated paths
// relative to its root. Paths escaping the root are rejected.
type Provider interface {
	// Root returns the absolute location of the store.
	Root() string
	// Exists reports whether anything exists at path.
	Exists(path string) (bool, error)
	// FileSize returns the length in bytes of the file at path.
	FileSize(path string) (int64, error)
	// MakeDirs creates dir and any missing parents.
	MakeDirs(dir string) error
	// Move relocates src to dst without ever overwriting dst. It returns an
	// error matching fs.ErrExist when dst is occupied and fs.ErrNotExist
	// when src is missing.
	Move(src, dst string) error
	// Remove deletes a single file.
	Remove(path string) error
	// RemoveTree deletes dir recursively. An absent dir is not an error.
	RemoveTree(dir string) error
	// WriteNew streams r into a new file at path and returns the number of
	// bytes written. It fails with fs.ErrExist if path is occupied.
	WriteNew(path string, r io.Reader) (int64, error)
	// Open opens the file at path for reading.
	Open(path string) (File, error)
	// Walk visits every regular file under dir in lexical order.
	Walk(dir string, fn WalkFunc) error
}
