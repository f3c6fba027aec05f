package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/jmtorr3/blog/internal/mediaservice"
	"github.com/jmtorr3/blog/internal/models"
	"github.com/jmtorr3/blog/internal/postservice"
)

// PostRequest is the body of POST /api/posts and PATCH /api/posts/{slug}.
// Omitted fields are left unchanged on update.
type PostRequest struct {
	Title       *string            `json:"title" example:"Hello World"`
	Description *string            `json:"description"`
	CustomCSS   *string            `json:"custom_css"`
	Blocks      *models.Blocks     `json:"blocks"`
	Status      *models.PostStatus `json:"status" example:"draft"`
}

func (req PostRequest) input() postservice.Input {
	return postservice.Input{
		Title:       req.Title,
		Description: req.Description,
		CustomCSS:   req.CustomCSS,
		Blocks:      req.Blocks,
		Status:      req.Status,
	}
}

// PostResponse is a post as returned by the API.
type PostResponse struct {
	ID          uuid.UUID           `json:"id"`
	Slug        string              `json:"slug" example:"hello-world"`
	Title       string              `json:"title" example:"Hello World"`
	Author      string              `json:"author" example:"alice"`
	Description string              `json:"description"`
	CoverImage  string              `json:"cover_image,omitempty" example:"/media/alice/posts/hello-world/cover.jpg"`
	CustomCSS   string              `json:"custom_css,omitempty"`
	Blocks      models.Blocks       `json:"blocks"`
	Status      models.PostStatus   `json:"status"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	PublishedAt *time.Time          `json:"published_at,omitempty"`
	Media       *postservice.Report `json:"media,omitempty"`
}

// PostListItem is a post in a listing, without its blocks.
type PostListItem struct {
	Slug        string            `json:"slug"`
	Title       string            `json:"title"`
	Author      string            `json:"author"`
	Description string            `json:"description"`
	CoverImage  string            `json:"cover_image,omitempty"`
	Status      models.PostStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	PublishedAt *time.Time        `json:"published_at,omitempty"`
}

// PostListResponse wraps paginated post listings.
type PostListResponse struct {
	Posts []PostListItem `json:"posts" validate:"required"`
	Total int            `json:"total" example:"42" validate:"required"`
}

// MediaUpdateRequest is the body of PATCH /api/media/{id}. An empty
// post_slug detaches the file from its post.
type MediaUpdateRequest struct {
	AltText  *string `json:"alt_text"`
	PostSlug *string `json:"post_slug"`
}

// MediaResponse is a media record as returned by the API.
type MediaResponse struct {
	ID         uuid.UUID                `json:"id"`
	URL        string                   `json:"url" example:"/media/alice/uploads/cat.png"`
	Filename   string                   `json:"filename" example:"cat.png"`
	Kind       models.MediaKind         `json:"media_type" example:"image"`
	SizeBytes  int64                    `json:"file_size"`
	Size       string                   `json:"file_size_display" example:"1.2 MB"`
	AltText    string                   `json:"alt_text"`
	PostID     *uuid.UUID               `json:"post,omitempty"`
	CreatedAt  time.Time                `json:"created_at"`
	Relocation *mediaservice.Relocation `json:"relocation,omitempty"`
}

// MediaListResponse wraps a media listing.
type MediaListResponse struct {
	Media []MediaResponse `json:"media" validate:"required"`
}

func (h *Handler) postResponse(p *models.Post, report *postservice.Report) PostResponse {
	return PostResponse{
		ID:          p.ID,
		Slug:        p.Slug,
		Title:       p.Title,
		Author:      p.Author.Username,
		Description: p.Description,
		CoverImage:  h.posts.URL(p.CoverImage),
		CustomCSS:   p.CustomCSS,
		Blocks:      nonNilSlice(p.Blocks),
		Status:      p.Status,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
		PublishedAt: p.PublishedAt,
		Media:       report,
	}
}

func (h *Handler) postListItems(posts []models.Post) []PostListItem {
	out := make([]PostListItem, 0, len(posts))
	for i := range posts {
		p := &posts[i]
		out = append(out, PostListItem{
			Slug:        p.Slug,
			Title:       p.Title,
			Author:      p.Author.Username,
			Description: p.Description,
			CoverImage:  h.posts.URL(p.CoverImage),
			Status:      p.Status,
			CreatedAt:   p.CreatedAt,
			PublishedAt: p.PublishedAt,
		})
	}
	return out
}

func (h *Handler) mediaResponse(m *models.Media, rel *mediaservice.Relocation) MediaResponse {
	return MediaResponse{
		ID:         m.ID,
		URL:        h.media.URL(m),
		Filename:   m.Filename,
		Kind:       m.Kind,
		SizeBytes:  m.SizeBytes,
		Size:       m.HumanSize(),
		AltText:    m.AltText,
		PostID:     m.PostID,
		CreatedAt:  m.CreatedAt,
		Relocation: rel,
	}
}

func nonNilSlice[T any, S ~[]T](s S) S {
	if s == nil {
		return S{}
	}
	return s
}
