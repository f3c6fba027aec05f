package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/jmtorr3/blog/internal/models"
)

// Accounts is the account directory.
type Accounts interface {
	CreateAccount(ctx context.Context, username string) (*models.Account, error)
	AccountByUsername(ctx context.Context, username string) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]models.Account, error)
}

// PostFields is a partial post update. Nil fields are left unchanged.
type PostFields struct {
	Blocks     *models.Blocks
	CoverImage *string
}

// PostFilter narrows ListPosts. Zero values match everything.
type PostFilter struct {
	Status   models.PostStatus
	AuthorID uuid.UUID
	Limit    int
	Offset   int
}

// Posts persists post records. UpdatePost writes every column;
// UpdatePostFields writes only the given subset and is what reconciliation
// uses for follow-up writes.
type Posts interface {
	CreatePost(ctx context.Context, p *models.Post) error
	UpdatePost(ctx context.Context, p *models.Post) error
	UpdatePostFields(ctx context.Context, id uuid.UUID, f PostFields) error
	DeletePost(ctx context.Context, id uuid.UUID) error
	PostByID(ctx context.Context, id uuid.UUID) (*models.Post, error)
	PostBySlug(ctx context.Context, slug string) (*models.Post, error)
	// SlugsWithPrefix returns every slug starting with prefix.
	SlugsWithPrefix(ctx context.Context, prefix string) (map[string]struct{}, error)
	ListPosts(ctx context.Context, f PostFilter) ([]models.Post, int, error)
}

// MediaFields is a partial media update. StoredPath is written when
// non-nil; PostID when SetPost is true (nil clears it).
type MediaFields struct {
	StoredPath *string
	SetPost    bool
	PostID     *uuid.UUID
}

// MediaFilter narrows ListMedia. Zero values match everything.
type MediaFilter struct {
	OwnerID uuid.UUID
	PostID  uuid.UUID
}

// Media persists media records.
type Media interface {
	CreateMedia(ctx context.Context, m *models.Media) error
	UpdateMedia(ctx context.Context, m *models.Media) error
	UpdateMediaFields(ctx context.Context, id uuid.UUID, f MediaFields) error
	DeleteMedia(ctx context.Context, id uuid.UUID) error
	DeleteMediaByPost(ctx context.Context, postID uuid.UUID) (int64, error)
	MediaByID(ctx context.Context, id uuid.UUID) (*models.Media, error)
	MediaByStoredPath(ctx context.Context, storedPath string) (*models.Media, error)
	ListMedia(ctx context.Context, f MediaFilter) ([]models.Media, error)
}

// Store is the full persistence surface.
type Store interface {
	Accounts
	Posts
	Media
	Close() error
}

// Verify *DB satisfies Store at compile time.
var _ Store = (*DB)(nil)
