// Package mediaservice implements the media record lifecycle: uploads,
// edits, deletion, and relocation whenever a record's post association
// changes.
package mediaservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/jmtorr3/blog/internal/apperr"
	"github.com/jmtorr3/blog/internal/mediapath"
	"github.com/jmtorr3/blog/internal/models"
	"github.com/jmtorr3/blog/internal/relocate"
	"github.com/jmtorr3/blog/internal/storage"
	"github.com/jmtorr3/blog/internal/store"
)

// DefaultMaxUpload is the upload size limit when none is configured.
const DefaultMaxUpload = 50 << 20

// Relocation records what happened when a record was moved towards its
// canonical path.
type Relocation struct {
	From    string           `json:"from"`
	To      string           `json:"to"`
	Outcome relocate.Outcome `json:"-"`
	Status  string           `json:"outcome"`
	Warning string           `json:"warning,omitempty"`
}

// Service coordinates media records and the files they describe.
type Service struct {
	db        store.Store
	files     storage.Provider
	engine    *relocate.Engine
	layout    mediapath.Layout
	logger    *slog.Logger
	maxUpload int64
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for relocation warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMaxUpload bounds the size of a single upload in bytes.
func WithMaxUpload(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// New creates a media service.
func New(db store.Store, files storage.Provider, layout mediapath.Layout, opts ...Option) *Service {
	s := &Service{
		db:        db,
		files:     files,
		engine:    relocate.New(files),
		layout:    layout,
		logger:    slog.Default(),
		maxUpload: DefaultMaxUpload,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Layout returns the URL layout media is served under.
func (s *Service) Layout() mediapath.Layout { return s.layout }

// MaxUpload returns the upload size limit in bytes.
func (s *Service) MaxUpload() int64 { return s.maxUpload }

// URL returns the public URL of a media record.
func (s *Service) URL(m *models.Media) string {
	return s.layout.URL(m.StoredPath)
}

// Save persists m and, when its post association is new or changed, moves
// the file to the canonical path for that association.
//
// Scalars are written first so the record is durable before any file is
// touched; the resulting stored path is a follow-up field update.
// Relocation problems never fail the save: they come back as a warning in
// the returned Relocation (nil when no relocation was needed).
func (s *Service) Save(ctx context.Context, m *models.Media) (*Relocation, error) {
	if m.PostID != nil {
		if err := s.checkPostOwner(ctx, m); err != nil {
			return nil, err
		}
	}

	var trigger bool
	if m.IsNew() {
		if _, err := models.KindFromFilename(m.StoredPath); err != nil {
			return nil, err
		}
		m.ID = uuid.New()
		if m.CreatedAt.IsZero() {
			m.CreatedAt = s.now()
		}
		if err := s.db.CreateMedia(ctx, m); err != nil {
			m.ID = uuid.Nil
			return nil, err
		}
		trigger = m.PostID != nil
	} else {
		prev, err := s.db.MediaByID(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		if prev.Owner.ID != m.Owner.ID {
			return nil, apperr.ErrForbidden
		}
		if err := s.db.UpdateMedia(ctx, m); err != nil {
			return nil, err
		}
		trigger = !models.SamePost(prev.PostID, m.PostID)
	}
	if !trigger {
		return nil, nil
	}
	rel, err := s.Reconcile(ctx, m)
	if err != nil {
		return nil, err
	}
	return rel, nil
}

// Reconcile moves m's file to the canonical path for its current post
// association and records the new stored path. Only persistence failures
// are returned as errors.
func (s *Service) Reconcile(ctx context.Context, m *models.Media) (*Relocation, error) {
	canonical, err := s.Canonical(ctx, m)
	if err != nil {
		return nil, err
	}
	rel := &Relocation{From: m.StoredPath, To: canonical}
	if canonical == m.StoredPath {
		rel.Outcome = relocate.AlreadyCorrect
		rel.Status = rel.Outcome.String()
		return rel, nil
	}

	outcome, err := s.engine.Relocate(m.StoredPath, canonical)
	rel.Outcome = outcome
	rel.Status = outcome.String()
	switch {
	case err != nil:
		rel.Status = "error"
		rel.Warning = err.Error()
	case !outcome.Settled():
		rel.Warning = outcome.String()
	}
	if rel.Warning != "" {
		s.logger.Warn("media: relocation skipped",
			slog.String("media", m.ID.String()),
			slog.String("path", m.StoredPath),
			slog.String("target", canonical),
			slog.String("outcome", rel.Warning))
		return rel, nil
	}

	if err := s.db.UpdateMediaFields(ctx, m.ID, store.MediaFields{StoredPath: &canonical}); err != nil {
		return rel, err
	}
	s.logger.Info("media: relocated",
		slog.String("media", m.ID.String()),
		slog.String("from", m.StoredPath),
		slog.String("to", canonical))
	m.StoredPath = canonical
	return rel, nil
}

// Canonical computes where m's file belongs given its post association.
func (s *Service) Canonical(ctx context.Context, m *models.Media) (string, error) {
	name := path.Base(m.StoredPath)
	if m.PostID == nil {
		return mediapath.Resolve(m.Owner.Username, "", name), nil
	}
	post, err := s.db.PostByID(ctx, *m.PostID)
	if err != nil {
		return "", fmt.Errorf("mediaservice: load post %s: %w", m.PostID, err)
	}
	return mediapath.Resolve(post.Author.Username, post.Slug, name), nil
}

func (s *Service) checkPostOwner(ctx context.Context, m *models.Media) error {
	post, err := s.db.PostByID(ctx, *m.PostID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.Invalid("post", "post does not exist")
		}
		return err
	}
	if post.Author.ID != m.Owner.ID {
		return apperr.ErrForbidden
	}
	return nil
}

// Get returns one of owner's media records. Records of other owners are
// reported as not found.
func (s *Service) Get(ctx context.Context, owner *models.Account, id uuid.UUID) (*models.Media, error) {
	m, err := s.db.MediaByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Owner.ID != owner.ID {
		return nil, apperr.ErrNotFound
	}
	return m, nil
}

// List returns every media record of owner, newest first.
func (s *Service) List(ctx context.Context, owner *models.Account) ([]models.Media, error) {
	items, err := s.db.ListMedia(ctx, store.MediaFilter{OwnerID: owner.ID})
	if err != nil {
		return nil, err
	}
	return nonNilSlice(items), nil
}

// UpdateInput is a partial media edit. A PostSlug of "" detaches the record.
type UpdateInput struct {
	AltText  *string
	PostSlug *string
}

// Update applies in to one of owner's records and saves it.
func (s *Service) Update(ctx context.Context, owner *models.Account, id uuid.UUID, in UpdateInput) (*models.Media, *Relocation, error) {
	m, err := s.Get(ctx, owner, id)
	if err != nil {
		return nil, nil, err
	}
	if in.AltText != nil {
		if len(*in.AltText) > 255 {
			return nil, nil, apperr.Invalid("alt_text", "must be at most 255 characters")
		}
		m.AltText = *in.AltText
	}
	if in.PostSlug != nil {
		if *in.PostSlug == "" {
			m.PostID = nil
		} else {
			post, err := s.db.PostBySlug(ctx, *in.PostSlug)
			if errors.Is(err, apperr.ErrNotFound) || (err == nil && post.Author.ID != owner.ID) {
				return nil, nil, apperr.Invalid("post_slug", "no post %q", *in.PostSlug)
			}
			if err != nil {
				return nil, nil, err
			}
			m.PostID = &post.ID
		}
	}
	rel, err := s.Save(ctx, m)
	if err != nil {
		return nil, nil, err
	}
	return m, rel, nil
}

// Delete removes the file and then the record.
func (s *Service) Delete(ctx context.Context, owner *models.Account, id uuid.UUID) (*models.Media, error) {
	m, err := s.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	s.removeFile(m.StoredPath)
	if err := s.db.DeleteMedia(ctx, m.ID); err != nil {
		return nil, err
	}
	return m, nil
}

// DeleteByURL deletes the record whose file a public media URL points at.
func (s *Service) DeleteByURL(ctx context.Context, owner *models.Account, rawURL string) (*models.Media, error) {
	rel, ok := s.layout.RelFromURL(rawURL)
	if !ok {
		return nil, apperr.Invalid("url", "not a media URL")
	}
	m, err := s.db.MediaByStoredPath(ctx, rel)
	if err != nil {
		return nil, err
	}
	return s.Delete(ctx, owner, m.ID)
}

// removeFile deletes a stored file. A missing file is fine; other errors
// are logged so the record can still go.
func (s *Service) removeFile(rel string) {
	if err := s.files.Remove(rel); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("media: remove file failed", slog.String("path", rel), slog.String("error", err.Error()))
	}
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// countingReader tracks how many bytes were consumed.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
