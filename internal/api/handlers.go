package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jmtorr3/blog/internal/mediaservice"
	"github.com/jmtorr3/blog/internal/models"
	"github.com/jmtorr3/blog/internal/postservice"
	"github.com/jmtorr3/blog/internal/sse"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Publisher receives change events for connected clients.
type Publisher interface {
	Publish(event sse.Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(sse.Event) {}

// Handler holds API route handlers.
type Handler struct {
	posts  *postservice.Service
	media  *mediaservice.Service
	events Publisher
}

// NewHandler creates a new Handler. events may be nil.
func NewHandler(posts *postservice.Service, media *mediaservice.Service, events Publisher) *Handler {
	if events == nil {
		events = nopPublisher{}
	}
	return &Handler{posts: posts, media: media, events: events}
}

func (h *Handler) publishPost(kind string, p *models.Post) {
	h.events.Publish(sse.Event{Type: kind, Data: map[string]string{
		"slug":   p.Slug,
		"author": p.Author.Username,
	}})
}

func (h *Handler) publishMedia(kind string, m *models.Media) {
	h.events.Publish(sse.Event{Type: kind, Data: map[string]string{
		"id":  m.ID.String(),
		"url": h.media.URL(m),
	}})
}

// ListPosts handles GET /api/posts.
//
//	@Summary		List published posts, newest first
//	@Tags			posts
//	@Produce		json
//	@Param			limit	query		int	false	"Page size"
//	@Param			offset	query		int	false	"Page offset"
//	@Success		200		{object}	PostListResponse
//	@Router			/posts [get]
func (h *Handler) ListPosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	if limit <= 0 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)
	offset = max(offset, 0)

	posts, total, err := h.posts.ListPublished(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PostListResponse{Posts: h.postListItems(posts), Total: total})
}

// ListDrafts handles GET /api/posts/drafts.
//
//	@Summary		List the caller's drafts
//	@Tags			posts
//	@Produce		json
//	@Success		200	{object}	PostListResponse
//	@Failure		401	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/posts/drafts [get]
func (h *Handler) ListDrafts(w http.ResponseWriter, r *http.Request) {
	posts, err := h.posts.ListDrafts(r.Context(), AccountFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PostListResponse{Posts: h.postListItems(posts), Total: len(posts)})
}

// GetPost handles GET /api/posts/{slug}. Drafts are only visible to their author.
//
//	@Summary		Get a post by slug
//	@Tags			posts
//	@Produce		json
//	@Param			slug	path		string	true	"Post slug"
//	@Success		200		{object}	PostResponse
//	@Failure		404		{object}	errResponse
//	@Router			/posts/{slug} [get]
func (h *Handler) GetPost(w http.ResponseWriter, r *http.Request) {
	p, err := h.posts.Get(r.Context(), AccountFrom(r.Context()), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.postResponse(p, nil))
}

// CreatePost handles POST /api/posts.
//
//	@Summary		Create a post
//	@Description	The slug is derived from the title. Uploads referenced from the
//	@Description	blocks are moved into the post folder and their URLs rewritten.
//	@Tags			posts
//	@Accept			json
//	@Produce		json
//	@Param			body	body		PostRequest	true	"Post to create"
//	@Success		201		{object}	PostResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/posts [post]
func (h *Handler) CreatePost(w http.ResponseWriter, r *http.Request) {
	var req PostRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, report, err := h.posts.Create(r.Context(), AccountFrom(r.Context()), req.input())
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.publishPost(sse.PostSaved, p)
	writeJSON(w, http.StatusCreated, h.postResponse(p, report))
}

// UpdatePost handles PATCH /api/posts/{slug}.
//
//	@Summary		Partially update a post
//	@Tags			posts
//	@Accept			json
//	@Produce		json
//	@Param			slug	path		string		true	"Post slug"
//	@Param			body	body		PostRequest	true	"Fields to change"
//	@Success		200		{object}	PostResponse
//	@Failure		400		{object}	errResponse
//	@Failure		403		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/posts/{slug} [patch]
func (h *Handler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	var req PostRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, report, err := h.posts.Update(r.Context(), AccountFrom(r.Context()), chi.URLParam(r, "slug"), req.input())
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.publishPost(sse.PostSaved, p)
	writeJSON(w, http.StatusOK, h.postResponse(p, report))
}

// DeletePost handles DELETE /api/posts/{slug}.
//
//	@Summary		Delete a post, its media folder and its media records
//	@Tags			posts
//	@Param			slug	path	string	true	"Post slug"
//	@Success		204		"Post deleted"
//	@Failure		403		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/posts/{slug} [delete]
func (h *Handler) DeletePost(w http.ResponseWriter, r *http.Request) {
	p, err := h.posts.Delete(r.Context(), AccountFrom(r.Context()), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.publishPost(sse.PostDeleted, p)
	w.WriteHeader(http.StatusNoContent)
}

// PublishPost handles POST /api/posts/{slug}/publish.
func (h *Handler) PublishPost(w http.ResponseWriter, r *http.Request) {
	p, err := h.posts.Publish(r.Context(), AccountFrom(r.Context()), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.publishPost(sse.PostSaved, p)
	writeJSON(w, http.StatusOK, h.postResponse(p, nil))
}

// UnpublishPost handles POST /api/posts/{slug}/unpublish.
func (h *Handler) UnpublishPost(w http.ResponseWriter, r *http.Request) {
	p, err := h.posts.Unpublish(r.Context(), AccountFrom(r.Context()), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.publishPost(sse.PostSaved, p)
	writeJSON(w, http.StatusOK, h.postResponse(p, nil))
}

// SetCover handles PUT /api/posts/{slug}/cover (multipart/form-data, field "file").
//
//	@Summary		Upload the post's cover image into its media folder
//	@Tags			posts
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			slug	path		string	true	"Post slug"
//	@Param			file	formData	file	true	"Image"
//	@Success		200		{object}	PostResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/posts/{slug}/cover [put]
func (h *Handler) SetCover(w http.ResponseWriter, r *http.Request) {
	file, err := h.formFile(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer file.Close()

	p, m, err := h.posts.SetCover(r.Context(), AccountFrom(r.Context()), chi.URLParam(r, "slug"), file.name, file)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.publishMedia(sse.MediaSaved, m)
	h.publishPost(sse.PostSaved, p)
	writeJSON(w, http.StatusOK, h.postResponse(p, nil))
}
