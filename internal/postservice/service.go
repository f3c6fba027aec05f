// Package postservice implements the post lifecycle: slug assignment,
// persistence, media reconciliation on every save, and teardown on delete.
package postservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/jmtorr3/blog/internal/apperr"
	"github.com/jmtorr3/blog/internal/mediapath"
	"github.com/jmtorr3/blog/internal/mediaservice"
	"github.com/jmtorr3/blog/internal/models"
	"github.com/jmtorr3/blog/internal/relocate"
	"github.com/jmtorr3/blog/internal/scanner"
	"github.com/jmtorr3/blog/internal/slug"
	"github.com/jmtorr3/blog/internal/storage"
	"github.com/jmtorr3/blog/internal/store"
)

// maxSlugAttempts bounds re-allocation after a store uniqueness violation.
const maxSlugAttempts = 5

// Service coordinates post records, their media and the storage root.
type Service struct {
	db      store.Store
	files   storage.Provider
	media   *mediaservice.Service
	engine  *relocate.Engine
	scanner *scanner.Scanner
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for reconciliation warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a post service. Media URLs are recognised and rewritten using
// the media service's layout.
func New(db store.Store, files storage.Provider, media *mediaservice.Service, opts ...Option) *Service {
	s := &Service{
		db:      db,
		files:   files,
		media:   media,
		engine:  relocate.New(files),
		scanner: scanner.New(media.Layout()),
		logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Input is a create or partial update payload. Nil fields are left alone.
type Input struct {
	Title       *string
	Description *string
	CustomCSS   *string
	Blocks      *models.Blocks
	Status      *models.PostStatus
}

func (in Input) apply(p *models.Post) {
	if in.Title != nil {
		p.Title = *in.Title
	}
	if in.Description != nil {
		p.Description = *in.Description
	}
	if in.CustomCSS != nil {
		p.CustomCSS = *in.CustomCSS
	}
	if in.Blocks != nil {
		p.Blocks = *in.Blocks
	}
	if in.Status != nil {
		p.Status = *in.Status
	}
}

func validatePost(p *models.Post) error {
	if err := validation.Validate(p.Title, validation.Required, validation.Length(1, 200)); err != nil {
		return apperr.Invalid("title", "%v", err)
	}
	if !p.Status.Valid() {
		return apperr.Invalid("status", "must be %q or %q", models.PostDraft, models.PostPublished)
	}
	return p.Blocks.Validate()
}

// Create saves a new post by author.
func (s *Service) Create(ctx context.Context, author *models.Account, in Input) (*models.Post, *Report, error) {
	p := &models.Post{Author: *author, Status: models.PostDraft}
	in.apply(p)
	if p.Blocks == nil {
		p.Blocks = models.Blocks{}
	}
	report, err := s.Save(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	return p, report, nil
}

// Update applies in to one of actor's posts and saves it. The slug never
// changes, whatever happens to the title.
func (s *Service) Update(ctx context.Context, actor *models.Account, slug string, in Input) (*models.Post, *Report, error) {
	p, err := s.loadForWrite(ctx, actor, slug)
	if err != nil {
		return nil, nil, err
	}
	in.apply(p)
	report, err := s.Save(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	return p, report, nil
}

// Save persists p and reconciles the media its blocks reference.
//
// A new post, or one without a slug, gets a slug allocated from its title.
// Scalars and blocks are written as given; reconciliation then moves each
// referenced upload into the post folder and, if any URL changed, writes the
// rewritten blocks back with a field-only update. Relocation problems are
// reported, never returned.
func (s *Service) Save(ctx context.Context, p *models.Post) (*Report, error) {
	if err := validatePost(p); err != nil {
		return nil, err
	}
	now := s.now()
	p.UpdatedAt = now
	if p.IsPublished() && p.PublishedAt == nil {
		p.PublishedAt = &now
	}

	if p.IsNew() || p.Slug == "" {
		if err := s.insertWithSlug(ctx, p, now); err != nil {
			return nil, err
		}
	} else if err := s.db.UpdatePost(ctx, p); err != nil {
		return nil, err
	}

	return s.reconcile(ctx, p)
}

// insertWithSlug allocates a slug and writes p, retrying with a fresh
// snapshot when the store reports the slug as taken.
func (s *Service) insertWithSlug(ctx context.Context, p *models.Post, now time.Time) error {
	isNew := p.IsNew()
	if isNew {
		p.ID = uuid.New()
		p.CreatedAt = now
	}

	var err error
	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		p.Slug, err = s.allocateSlug(ctx, p.Title)
		if err != nil {
			break
		}
		if isNew {
			err = s.db.CreatePost(ctx, p)
		} else {
			err = s.db.UpdatePost(ctx, p)
		}
		if !errors.Is(err, apperr.ErrConflict) {
			break
		}
		s.logger.Warn("post: slug taken concurrently, retrying",
			slog.String("slug", p.Slug), slog.Int("attempt", attempt+1))
	}
	if err != nil {
		if isNew {
			p.ID = uuid.Nil
		}
		p.Slug = ""
		return err
	}
	return nil
}

func (s *Service) allocateSlug(ctx context.Context, title string) (string, error) {
	used, err := s.db.SlugsWithPrefix(ctx, slug.SnapshotPrefix(slug.Base(title)))
	if err != nil {
		return "", err
	}
	return slug.Allocate(title, slug.FromSet(used))
}

// Delete removes one of actor's posts: its media folder first, then its
// media records, then the post itself. A folder that cannot be removed is
// logged and does not block deleting the records.
func (s *Service) Delete(ctx context.Context, actor *models.Account, slug string) (*models.Post, error) {
	p, err := s.loadForWrite(ctx, actor, slug)
	if err != nil {
		return nil, err
	}
	return p, s.remove(ctx, p)
}

func (s *Service) remove(ctx context.Context, p *models.Post) error {
	dir := mediapath.PostDir(p.Author.Username, p.Slug)
	if err := s.files.RemoveTree(dir); err != nil {
		s.logger.Warn("post: remove media folder failed",
			slog.String("post", p.Slug), slog.String("path", dir), slog.String("error", err.Error()))
	}

	owned, err := s.db.ListMedia(ctx, store.MediaFilter{PostID: p.ID})
	if err != nil {
		return err
	}
	for _, m := range owned {
		if mediapath.InPost(m.StoredPath, p.Author.Username, p.Slug) {
			continue
		}
		// Left outside the folder by a skipped relocation.
		if err := s.files.Remove(m.StoredPath); err != nil && !isNotExist(err) {
			s.logger.Warn("post: remove media file failed",
				slog.String("post", p.Slug), slog.String("path", m.StoredPath), slog.String("error", err.Error()))
		}
	}
	if _, err := s.db.DeleteMediaByPost(ctx, p.ID); err != nil {
		return err
	}
	return s.db.DeletePost(ctx, p.ID)
}

// Publish makes a draft public.
func (s *Service) Publish(ctx context.Context, actor *models.Account, slug string) (*models.Post, error) {
	p, err := s.loadForWrite(ctx, actor, slug)
	if err != nil {
		return nil, err
	}
	if p.IsPublished() {
		return nil, apperr.Invalid("status", "post is already published")
	}
	p.Status = models.PostPublished
	if _, err := s.Save(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Unpublish turns a published post back into a draft.
func (s *Service) Unpublish(ctx context.Context, actor *models.Account, slug string) (*models.Post, error) {
	p, err := s.loadForWrite(ctx, actor, slug)
	if err != nil {
		return nil, err
	}
	if !p.IsPublished() {
		return nil, apperr.Invalid("status", "post is already a draft")
	}
	p.Status = models.PostDraft
	if _, err := s.Save(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns a post visible to viewer. Drafts are only visible to their
// author; viewer may be nil for anonymous reads.
func (s *Service) Get(ctx context.Context, viewer *models.Account, slug string) (*models.Post, error) {
	p, err := s.db.PostBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !p.IsPublished() && (viewer == nil || viewer.ID != p.Author.ID) {
		return nil, apperr.ErrNotFound
	}
	return p, nil
}

// ListPublished returns published posts, newest first, and the total count.
func (s *Service) ListPublished(ctx context.Context, limit, offset int) ([]models.Post, int, error) {
	posts, total, err := s.db.ListPosts(ctx, store.PostFilter{Status: models.PostPublished, Limit: limit, Offset: offset})
	if err != nil {
		return nil, 0, err
	}
	return nonNilSlice(posts), total, nil
}

// ListDrafts returns author's drafts, newest first.
func (s *Service) ListDrafts(ctx context.Context, author *models.Account) ([]models.Post, error) {
	posts, _, err := s.db.ListPosts(ctx, store.PostFilter{Status: models.PostDraft, AuthorID: author.ID})
	if err != nil {
		return nil, err
	}
	return nonNilSlice(posts), nil
}

// SetCover stores a cover image directly in the post folder, records it as
// media of the post and points the post's cover at it.
func (s *Service) SetCover(ctx context.Context, actor *models.Account, slug, filename string, body io.Reader) (*models.Post, *models.Media, error) {
	p, err := s.loadForWrite(ctx, actor, slug)
	if err != nil {
		return nil, nil, err
	}
	kind, err := models.KindFromFilename(filename)
	if err != nil {
		return nil, nil, err
	}
	if kind != models.MediaImage {
		return nil, nil, apperr.Invalid("cover_image", "cover must be an image")
	}
	m, err := s.media.Attach(ctx, p, mediaservice.UploadInput{Filename: filename, Body: body})
	if err != nil {
		return nil, nil, err
	}
	if err := s.db.UpdatePostFields(ctx, p.ID, store.PostFields{CoverImage: &m.StoredPath}); err != nil {
		return nil, nil, fmt.Errorf("postservice: set cover: %w", err)
	}
	p.CoverImage = m.StoredPath
	return p, m, nil
}

// URL returns the public URL of a stored path, or "" for an empty path.
func (s *Service) URL(rel string) string {
	if rel == "" {
		return ""
	}
	return s.media.Layout().URL(rel)
}

// loadForWrite fetches a post actor may modify. Other users' drafts do not
// exist as far as actor is concerned; their published posts are forbidden.
func (s *Service) loadForWrite(ctx context.Context, actor *models.Account, slug string) (*models.Post, error) {
	p, err := s.db.PostBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if p.Author.ID != actor.ID {
		if p.IsPublished() {
			return nil, apperr.ErrForbidden
		}
		return nil, apperr.ErrNotFound
	}
	return p, nil
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
