package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jmtorr3/blog/internal/mediaservice"
	"github.com/jmtorr3/blog/internal/postservice"
)

// NewRouter creates a chi router with all API routes mounted.
// Reads of published posts are open to anonymous callers; everything else
// requires an identity from auth. sseHandler, if non-nil, is mounted at
// GET /events and events, if non-nil, receives change notifications.
func NewRouter(posts *postservice.Service, media *mediaservice.Service, auth *Authenticator, events Publisher, sseHandler http.Handler) chi.Router {
	h := NewHandler(posts, media, events)

	r := chi.NewRouter()
	r.Use(auth.Middleware)

	// Public reads.
	r.Get("/posts", h.ListPosts)
	r.Get("/posts/{slug}", h.GetPost)

	r.Group(func(r chi.Router) {
		r.Use(RequireAccount)

		r.Get("/posts/drafts", h.ListDrafts)
		r.Post("/posts", h.CreatePost)
		r.Patch("/posts/{slug}", h.UpdatePost)
		r.Delete("/posts/{slug}", h.DeletePost)
		r.Post("/posts/{slug}/publish", h.PublishPost)
		r.Post("/posts/{slug}/unpublish", h.UnpublishPost)
		r.Put("/posts/{slug}/cover", h.SetCover)

		r.Get("/media", h.ListMedia)
		r.Post("/media", h.UploadMedia)
		r.Delete("/media", h.DeleteMediaByURL)
		r.Get("/media/{id}", h.GetMedia)
		r.Patch("/media/{id}", h.UpdateMedia)
		r.Delete("/media/{id}", h.DeleteMedia)

		if sseHandler != nil {
			r.Get("/events", sseHandler.ServeHTTP)
		}
	})

	return r
}
