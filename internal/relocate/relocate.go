// Package relocate moves stored media files to their canonical location.
package relocate

import (
	"errors"
	"fmt"
	"io/fs"
	"path"

	"github.com/jmtorr3/blog/internal/storage"
)

// Outcome is the result of one relocation attempt.
type Outcome int

const (
	// AlreadyCorrect means the file already sits at the canonical path.
	AlreadyCorrect Outcome = iota
	// SourceMissing means nothing exists at the current path.
	SourceMissing
	// DestinationExists means another file occupies the canonical path; the
	// source was left untouched.
	DestinationExists
	// Moved means the file now lives at the canonical path.
	Moved
)

func (o Outcome) String() string {
	switch o {
	case AlreadyCorrect:
		return "already correct"
	case SourceMissing:
		return "source missing"
	case DestinationExists:
		return "destination exists"
	case Moved:
		return "moved"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Settled reports whether the file is now at the canonical path.
func (o Outcome) Settled() bool {
	return o == AlreadyCorrect || o == Moved
}

// Engine relocates files inside one storage root.
type Engine struct {
	store storage.Provider
}

// New returns an Engine operating on store.
func New(store storage.Provider) *Engine {
	return &Engine{store: store}
}

// Relocate moves the file at current to canonical, both relative to the
// storage root. It never overwrites: an occupied canonical path is reported
// as DestinationExists. A missing source is SourceMissing even when
// something sits at canonical, since that file cannot be told apart from an
// unrelated one with the same name. AlreadyCorrect is only reported when
// current already is canonical; callers that record the new path after a
// move therefore see AlreadyCorrect on the next pass.
//
// The existence checks and the move are not one atomic step; the move
// itself refuses to replace a file that appears in between.
func (e *Engine) Relocate(current, canonical string) (Outcome, error) {
	current, canonical = path.Clean(current), path.Clean(canonical)
	if current == canonical {
		return AlreadyCorrect, nil
	}

	srcExists, err := e.store.Exists(current)
	if err != nil {
		return 0, fmt.Errorf("relocate: %w", err)
	}
	dstExists, err := e.store.Exists(canonical)
	if err != nil {
		return 0, fmt.Errorf("relocate: %w", err)
	}
	switch {
	case !srcExists:
		return SourceMissing, nil
	case dstExists:
		return DestinationExists, nil
	}

	size, err := e.store.FileSize(current)
	if err != nil {
		return 0, fmt.Errorf("relocate: %w", err)
	}
	if err := e.store.Move(current, canonical); err != nil {
		switch {
		case errors.Is(err, fs.ErrExist):
			return DestinationExists, nil
		case errors.Is(err, fs.ErrNotExist):
			return SourceMissing, nil
		}
		return 0, fmt.Errorf("relocate: %w", err)
	}
	moved, err := e.store.FileSize(canonical)
	if err != nil {
		return 0, fmt.Errorf("relocate: verify: %w", err)
	}
	if moved != size {
		return 0, fmt.Errorf("relocate: verify %s: size %d, want %d", canonical, moved, size)
	}
	return Moved, nil
}
