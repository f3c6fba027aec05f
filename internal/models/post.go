// Package models defines the domain types of the blog.
package models

import (
	"time"

	"github.com/google/uuid"
)

// PostStatus is the publishing state of a post.
type PostStatus string

const (
	PostDraft     PostStatus = "draft"
	PostPublished PostStatus = "published"
)

// Valid reports whether s is a known status.
func (s PostStatus) Valid() bool {
	return s == PostDraft || s == PostPublished
}

// Post is a blog post made of ordered content blocks.
//
// Slug is assigned once, on first save, and never recomputed.
// CoverImage is a path relative to the storage root.
type Post struct {
	ID          uuid.UUID  `json:"id"`
	Author      Account    `json:"author"`
	Title       string     `json:"title"`
	Slug        string     `json:"slug"`
	Description string     `json:"description"`
	CoverImage  string     `json:"cover_image,omitempty"`
	CustomCSS   string     `json:"custom_css"`
	Blocks      Blocks     `json:"blocks"`
	Status      PostStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// IsNew reports whether the post has never been persisted.
func (p *Post) IsNew() bool {
	return p.ID == uuid.Nil
}

// IsPublished reports whether the post is publicly visible.
func (p *Post) IsPublished() bool {
	return p.Status == PostPublished
}
