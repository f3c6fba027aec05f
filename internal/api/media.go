package api

import (
	"errors"
	"io/fs"
	"mime/multipart"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jmtorr3/blog/internal/apperr"
	"github.com/jmtorr3/blog/internal/mediaservice"
	"github.com/jmtorr3/blog/internal/sse"
	"github.com/jmtorr3/blog/internal/storage"
)

// multipartOverhead is allowed on top of the upload limit for form framing.
const multipartOverhead = 1 << 20

type uploadedFile struct {
	multipart.File
	name string
	form *multipart.Form
}

func (f *uploadedFile) Close() error {
	err := f.File.Close()
	if f.form != nil {
		_ = f.form.RemoveAll()
	}
	return err
}

// formFile parses a multipart request and returns its "file" field.
func (h *Handler) formFile(w http.ResponseWriter, r *http.Request) (*uploadedFile, error) {
	limit := h.media.MaxUpload()
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperr.Invalid("file", "file is too large")
		}
		return nil, apperr.Invalid("file", "invalid multipart form")
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, apperr.Invalid("file", "missing 'file' field in multipart form")
	}
	return &uploadedFile{File: file, name: header.Filename, form: r.MultipartForm}, nil
}

func mediaID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, apperr.ErrNotFound
	}
	return id, nil
}

// ListMedia handles GET /api/media.
//
//	@Summary		List the caller's media
//	@Tags			media
//	@Produce		json
//	@Success		200	{object}	MediaListResponse
//	@Security		BearerAuth
//	@Router			/media [get]
func (h *Handler) ListMedia(w http.ResponseWriter, r *http.Request) {
	items, err := h.media.List(r.Context(), AccountFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]MediaResponse, 0, len(items))
	for i := range items {
		out = append(out, h.mediaResponse(&items[i], nil))
	}
	writeJSON(w, http.StatusOK, MediaListResponse{Media: out})
}

// UploadMedia handles POST /api/media (multipart/form-data).
//
//	@Summary		Upload an image or video
//	@Description	Fields: file (required), alt_text, post_slug. The file lands in the
//	@Description	caller's uploads area, or in the post folder when post_slug names one
//	@Description	of the caller's posts. Existing files are never overwritten.
//	@Tags			media
//	@Accept			multipart/form-data
//	@Produce		json
//	@Success		201	{object}	MediaResponse
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/media [post]
func (h *Handler) UploadMedia(w http.ResponseWriter, r *http.Request) {
	file, err := h.formFile(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer file.Close()

	m, rel, err := h.media.Upload(r.Context(), AccountFrom(r.Context()), mediaservice.UploadInput{
		Filename: file.name,
		Body:     file,
		AltText:  r.FormValue("alt_text"),
		PostSlug: r.FormValue("post_slug"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.publishMedia(sse.MediaSaved, m)
	writeJSON(w, http.StatusCreated, h.mediaResponse(m, rel))
}

// GetMedia handles GET /api/media/{id}.
func (h *Handler) GetMedia(w http.ResponseWriter, r *http.Request) {
	id, err := mediaID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	m, err := h.media.Get(r.Context(), AccountFrom(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.mediaResponse(m, nil))
}

// UpdateMedia handles PATCH /api/media/{id}.
//
//	@Summary		Change alt text or post association
//	@Tags			media
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Media id"
//	@Param			body	body		MediaUpdateRequest	true	"Fields to change"
//	@Success		200		{object}	MediaResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/media/{id} [patch]
func (h *Handler) UpdateMedia(w http.ResponseWriter, r *http.Request) {
	id, err := mediaID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req MediaUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	m, rel, err := h.media.Update(r.Context(), AccountFrom(r.Context()), id, mediaservice.UpdateInput{
		AltText:  req.AltText,
		PostSlug: req.PostSlug,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.publishMedia(sse.MediaSaved, m)
	writeJSON(w, http.StatusOK, h.mediaResponse(m, rel))
}

// DeleteMedia handles DELETE /api/media/{id}.
func (h *Handler) DeleteMedia(w http.ResponseWriter, r *http.Request) {
	id, err := mediaID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	m, err := h.media.Delete(r.Context(), AccountFrom(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.publishMedia(sse.MediaDeleted, m)
	w.WriteHeader(http.StatusNoContent)
}

// DeleteMediaByURL handles DELETE /api/media?url=...
func (h *Handler) DeleteMediaByURL(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		writeError(w, r, apperr.Invalid("url", "query parameter 'url' is required"))
		return
	}
	m, err := h.media.DeleteByURL(r.Context(), AccountFrom(r.Context()), raw)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.publishMedia(sse.MediaDeleted, m)
	w.WriteHeader(http.StatusNoContent)
}

// MediaFiles serves stored files by their storage-relative path, taken from
// the route wildcard.
func MediaFiles(files storage.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rel := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
		if rel == "" || storage.IsTemp(path.Base(rel)) {
			http.NotFound(w, r)
			return
		}
		f, err := files.Open(rel)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, storage.ErrPathEscape) {
				writeError(w, r, err)
				return
			}
			http.NotFound(w, r)
			return
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	}
}
