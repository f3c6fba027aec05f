package mediaservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"strings"

	"github.com/jmtorr3/blog/internal/apperr"
	"github.com/jmtorr3/blog/internal/mediapath"
	"github.com/jmtorr3/blog/internal/models"
)

// maxNameAttempts bounds the search for a free file name.
const maxNameAttempts = 1000

// UploadInput describes one uploaded file.
type UploadInput struct {
	Filename string
	Body     io.Reader
	AltText  string
	// PostSlug optionally associates the upload with one of the uploader's
	// posts. Unknown slugs are ignored.
	PostSlug string
}

// Upload stores a new file in owner's uploads area and creates its record.
// An existing file is never replaced: "_1", "_2", ... is inserted before the
// extension until a free name is found. When PostSlug names one of owner's
// posts the record is associated with it and relocated like any other
// association change.
func (s *Service) Upload(ctx context.Context, owner *models.Account, in UploadInput) (*models.Media, *Relocation, error) {
	m, err := s.prepare(owner, in)
	if err != nil {
		return nil, nil, err
	}
	if in.PostSlug != "" {
		post, err := s.db.PostBySlug(ctx, in.PostSlug)
		switch {
		case err == nil && post.Author.ID == owner.ID:
			m.PostID = &post.ID
		case err == nil || errors.Is(err, apperr.ErrNotFound):
			s.logger.Debug("media: upload post slug ignored", slog.String("slug", in.PostSlug))
		default:
			return nil, nil, err
		}
	}
	return s.store(ctx, m, "", in.Body)
}

// Attach stores a new file directly in post's folder and creates its record
// already associated with post. Used for cover images.
func (s *Service) Attach(ctx context.Context, post *models.Post, in UploadInput) (*models.Media, error) {
	if post.Slug == "" {
		return nil, apperr.Invalid("slug", "post must have a slug before files are attached")
	}
	m, err := s.prepare(&post.Author, in)
	if err != nil {
		return nil, err
	}
	m.PostID = &post.ID
	m, _, err = s.store(ctx, m, post.Slug, in.Body)
	return m, err
}

func (s *Service) prepare(owner *models.Account, in UploadInput) (*models.Media, error) {
	if in.Body == nil {
		return nil, apperr.Invalid("file", "no file was submitted")
	}
	kind, err := models.KindFromFilename(in.Filename)
	if err != nil {
		return nil, err
	}
	if len(in.AltText) > 255 {
		return nil, apperr.Invalid("alt_text", "must be at most 255 characters")
	}
	return &models.Media{
		Owner:    *owner,
		Kind:     kind,
		Filename: path.Base(strings.ReplaceAll(in.Filename, `\`, "/")),
		AltText:  in.AltText,
	}, nil
}

// store writes body under the first free name in the folder for slug (the
// uploads area when empty) and saves the record.
func (s *Service) store(ctx context.Context, m *models.Media, slug string, body io.Reader) (*models.Media, *Relocation, error) {
	rel, size, err := s.writeUnique(m.Owner.Username, slug, mediapath.SanitizeFilename(m.Filename), body)
	if err != nil {
		return nil, nil, err
	}
	m.StoredPath = rel
	m.SizeBytes = size

	reloc, err := s.Save(ctx, m)
	if err != nil {
		s.removeFile(rel)
		return nil, nil, err
	}
	return m, reloc, nil
}

func (s *Service) writeUnique(owner, slug, name string, body io.Reader) (string, int64, error) {
	src := &countingReader{r: &limitReader{r: body, left: s.maxUpload}}
	for i := 0; i < maxNameAttempts; i++ {
		rel := mediapath.Resolve(owner, slug, mediapath.WithCounter(name, i))
		n, err := s.files.WriteNew(rel, src)
		if err == nil {
			return rel, n, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			var ve *apperr.ValidationError
			if errors.As(err, &ve) {
				return "", 0, ve
			}
			return "", 0, fmt.Errorf("mediaservice: store upload: %w", err)
		}
		if src.n > 0 {
			// Lost a race after the body was consumed.
			return "", 0, fmt.Errorf("mediaservice: store upload %s: %w", rel, apperr.ErrConflict)
		}
	}
	return "", 0, fmt.Errorf("mediaservice: no free name for %s: %w", name, apperr.ErrConflict)
}

// limitReader fails once more than left bytes have been read.
type limitReader struct {
	r    io.Reader
	left int64
}

func (l *limitReader) Read(p []byte) (int, error) {
	if l.left < 0 {
		return 0, apperr.Invalid("file", "file is too large")
	}
	if int64(len(p)) > l.left+1 {
		p = p[:l.left+1]
	}
	n, err := l.r.Read(p)
	l.left -= int64(n)
	if l.left < 0 {
		return n, apperr.Invalid("file", "file is too large")
	}
	return n, err
}
