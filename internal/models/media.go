package models

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jmtorr3/blog/internal/apperr"
)

// MediaKind is derived once from the upload's extension.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

var mediaExtensions = map[string]MediaKind{
	".jpg":  MediaImage,
	".jpeg": MediaImage,
	".png":  MediaImage,
	".gif":  MediaImage,
	".webp": MediaImage,
	".mp4":  MediaVideo,
	".webm": MediaVideo,
	".mov":  MediaVideo,
}

// KindFromFilename maps an upload name to its media kind.
func KindFromFilename(name string) (MediaKind, error) {
	kind, ok := mediaExtensions[strings.ToLower(path.Ext(name))]
	if !ok {
		return "", apperr.Invalid("file", "unsupported file type %q", path.Ext(name))
	}
	return kind, nil
}

// IsMediaFile reports whether name carries a supported media extension.
func IsMediaFile(name string) bool {
	_, ok := mediaExtensions[strings.ToLower(path.Ext(name))]
	return ok
}

// Media is an uploaded file and the record of where it lives.
//
// When PostID is set, StoredPath must equal the canonical post-folder path
// for the post's author and slug.
type Media struct {
	ID         uuid.UUID  `json:"id"`
	Owner      Account    `json:"owner"`
	PostID     *uuid.UUID `json:"post_id,omitempty"`
	StoredPath string     `json:"stored_path"`
	Kind       MediaKind  `json:"media_type"`
	Filename   string     `json:"filename"`
	SizeBytes  int64      `json:"file_size"`
	AltText    string     `json:"alt_text"`
	CreatedAt  time.Time  `json:"created_at"`
}

// IsNew reports whether the record has never been persisted.
func (m *Media) IsNew() bool {
	return m.ID == uuid.Nil
}

// HumanSize returns a human-readable file size string.
func (m *Media) HumanSize() string {
	const (
		kb = 1024
		mb = 1024 * kb
	)
	switch {
	case m.SizeBytes >= mb:
		return fmt.Sprintf("%.2f MB", float64(m.SizeBytes)/float64(mb))
	case m.SizeBytes >= kb:
		return fmt.Sprintf("%.0f KB", float64(m.SizeBytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", m.SizeBytes)
	}
}

// SamePost reports whether two optional post references point at the same post.
func SamePost(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
