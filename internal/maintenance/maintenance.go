// Package maintenance implements the bulk media housekeeping jobs run from
// the command line: reporting, path repair and orphan cleanup.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/jmtorr3/blog/internal/apperr"
	"github.com/jmtorr3/blog/internal/mediapath"
	"github.com/jmtorr3/blog/internal/mediaservice"
	"github.com/jmtorr3/blog/internal/models"
	"github.com/jmtorr3/blog/internal/storage"
	"github.com/jmtorr3/blog/internal/store"
)

// ErrLocked is returned when another process holds the maintenance lock.
var ErrLocked = fmt.Errorf("maintenance: lock held by another process: %w", apperr.ErrConflict)

// Runner executes maintenance jobs against one storage root and store.
type Runner struct {
	db     store.Store
	files  storage.Provider
	media  *mediaservice.Service
	lock   *flock.Flock
	logger *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// New creates a Runner. Mutating jobs hold an exclusive lock on lockPath.
func New(db store.Store, files storage.Provider, media *mediaservice.Service, lockPath string, opts ...Option) *Runner {
	r := &Runner{
		db:     db,
		files:  files,
		media:  media,
		lock:   flock.New(lockPath),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Entry describes one media record as seen on disk.
type Entry struct {
	ID         uuid.UUID `json:"id"`
	Owner      string    `json:"owner"`
	Filename   string    `json:"filename"`
	StoredPath string    `json:"stored_path"`
	Size       int64     `json:"size"`
	OnDisk     bool      `json:"on_disk"`
	PostSlug   string    `json:"post_slug,omitempty"`
	Canonical  bool      `json:"canonical"`
}

// Report lists every media record and aggregate counts.
type Report struct {
	Entries     []Entry `json:"entries"`
	Total       int     `json:"total"`
	WithPost    int     `json:"with_post"`
	WithoutPost int     `json:"without_post"`
	InUploads   int     `json:"in_uploads"`
	Missing     int     `json:"missing"`
	Misplaced   int     `json:"misplaced"`
	TotalBytes  int64   `json:"total_bytes"`
}

// Report inspects every media record.
func (r *Runner) Report(ctx context.Context) (*Report, error) {
	all, err := r.db.ListMedia(ctx, store.MediaFilter{})
	if err != nil {
		return nil, err
	}
	slugs := r.slugCache()
	rep := &Report{Entries: make([]Entry, 0, len(all))}
	for i := range all {
		m := &all[i]
		e := Entry{
			ID:         m.ID,
			Owner:      m.Owner.Username,
			Filename:   m.Filename,
			StoredPath: m.StoredPath,
			Size:       m.SizeBytes,
		}
		if e.OnDisk, err = r.files.Exists(m.StoredPath); err != nil {
			return nil, err
		}
		if e.OnDisk {
			if size, err := r.files.FileSize(m.StoredPath); err == nil {
				e.Size = size
			}
		} else {
			rep.Missing++
		}

		slug := ""
		if m.PostID != nil {
			rep.WithPost++
			if slug, err = slugs(ctx, *m.PostID); err != nil {
				return nil, err
			}
			e.PostSlug = slug
		} else {
			rep.WithoutPost++
		}
		if r.media.Layout().InUploads(m.StoredPath) {
			rep.InUploads++
		}
		e.Canonical = m.StoredPath == mediapath.Resolve(m.Owner.Username, slug, path.Base(m.StoredPath))
		if !e.Canonical {
			rep.Misplaced++
		}
		rep.TotalBytes += e.Size
		rep.Entries = append(rep.Entries, e)
	}
	rep.Total = len(rep.Entries)
	return rep, nil
}

// Repaired is the result of relocating one misplaced record.
type Repaired struct {
	ID      uuid.UUID `json:"id"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Outcome string    `json:"outcome"`
	Warning string    `json:"warning,omitempty"`
}

// Repair relocates every post-associated record whose stored path is not
// canonical. Problems are reported per record; only store failures abort.
func (r *Runner) Repair(ctx context.Context) ([]Repaired, error) {
	unlock, err := r.acquire()
	if err != nil {
		return nil, err
	}
	defer unlock()

	all, err := r.db.ListMedia(ctx, store.MediaFilter{})
	if err != nil {
		return nil, err
	}
	out := []Repaired{}
	for i := range all {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		m := &all[i]
		if m.PostID == nil {
			continue
		}
		canonical, err := r.media.Canonical(ctx, m)
		if err != nil {
			return out, err
		}
		if canonical == m.StoredPath {
			continue
		}
		from := m.StoredPath
		rel, err := r.media.Reconcile(ctx, m)
		if err != nil {
			return out, err
		}
		out = append(out, Repaired{ID: m.ID, From: from, To: rel.To, Outcome: rel.Status, Warning: rel.Warning})
	}
	r.logger.Info("maintenance: repair finished", slog.Int("relocated", len(out)))
	return out, nil
}

// Orphan is a media file no record refers to.
type Orphan struct {
	Path    string `json:"path"`
	Size    int64  `json:"size"`
	Deleted bool   `json:"deleted"`
}

// Orphans lists media files under the storage root that no media record
// references, deleting them when remove is set.
func (r *Runner) Orphans(ctx context.Context, remove bool) ([]Orphan, error) {
	if remove {
		unlock, err := r.acquire()
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	all, err := r.db.ListMedia(ctx, store.MediaFilter{})
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(all))
	for _, m := range all {
		known[m.StoredPath] = struct{}{}
	}
	// Covers are tracked on posts as well as media records.
	posts, _, err := r.db.ListPosts(ctx, store.PostFilter{})
	if err != nil {
		return nil, err
	}
	for _, p := range posts {
		if p.CoverImage != "" {
			known[p.CoverImage] = struct{}{}
		}
	}

	out := []Orphan{}
	err = r.files.Walk("", func(rel string, size int64) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !models.IsMediaFile(rel) {
			return nil
		}
		if _, ok := known[rel]; ok {
			return nil
		}
		out = append(out, Orphan{Path: rel, Size: size})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("maintenance: walk: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })

	if !remove {
		return out, nil
	}
	for i := range out {
		if err := r.files.Remove(out[i].Path); err != nil {
			r.logger.Warn("maintenance: remove orphan failed",
				slog.String("path", out[i].Path), slog.String("error", err.Error()))
			continue
		}
		out[i].Deleted = true
	}
	return out, nil
}

func (r *Runner) acquire() (func(), error) {
	ok, err := r.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("maintenance: acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return func() {
		if err := r.lock.Unlock(); err != nil {
			r.logger.Warn("maintenance: release lock failed", slog.String("error", err.Error()))
		}
	}, nil
}

// slugCache memoises post id to slug lookups for one job.
func (r *Runner) slugCache() func(context.Context, uuid.UUID) (string, error) {
	cache := make(map[uuid.UUID]string)
	return func(ctx context.Context, id uuid.UUID) (string, error) {
		if s, ok := cache[id]; ok {
			return s, nil
		}
		p, err := r.db.PostByID(ctx, id)
		if errors.Is(err, apperr.ErrNotFound) {
			cache[id] = ""
			return "", nil
		}
		if err != nil {
			return "", err
		}
		cache[id] = p.Slug
		return p.Slug, nil
	}
}
