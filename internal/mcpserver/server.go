// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes blog tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jmtorr3/blog/internal/apperr"
	"github.com/jmtorr3/blog/internal/maintenance"
	"github.com/jmtorr3/blog/internal/mediaservice"
	"github.com/jmtorr3/blog/internal/postservice"
	"github.com/jmtorr3/blog/internal/store"
)

const blockFormatURI = "blog://block-format"

// Server wraps the MCP server with blog tools.
type Server struct {
	mcp   *server.MCPServer
	db    store.Store
	posts *postservice.Service
	media *mediaservice.Service
	maint *maintenance.Runner
}

// New creates a new MCP server with all blog tools registered.
func New(db store.Store, posts *postservice.Service, media *mediaservice.Service, maint *maintenance.Runner) *Server {
	s := &Server{db: db, posts: posts, media: media, maint: maint}

	s.mcp = server.NewMCPServer(
		"Blog",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_posts",
		mcp.WithDescription("List published posts, newest first."),
		mcp.WithNumber("limit", mcp.Description("Page size (default 20)")),
		mcp.WithNumber("offset", mcp.Description("Page offset")),
	), s.listPosts)

	s.mcp.AddTool(mcp.NewTool("read_post",
		mcp.WithDescription("Read a published post, including its content blocks."),
		mcp.WithString("slug", mcp.Required(), mcp.Description("Post slug (e.g. hello-world)")),
	), s.readPost)

	s.mcp.AddTool(mcp.NewTool("list_media",
		mcp.WithDescription("List the media files uploaded by a user."),
		mcp.WithString("username", mcp.Required(), mcp.Description("Owner of the media")),
	), s.listMedia)

	s.mcp.AddTool(mcp.NewTool("media_report",
		mcp.WithDescription("Report every media record with its location, size, post and whether "+
			"the file exists on disk, plus totals."),
	), s.mediaReport)

	s.mcp.AddTool(mcp.NewTool("upload_media",
		mcp.WithDescription("Upload an image or video from an http(s) URL or a base64 data URI into "+
			"a user's uploads area. Returns the media URL and a ready-to-use block. "+
			"Read the block format contract first via get_block_contract or the "+blockFormatURI+" resource."),
		mcp.WithString("username", mcp.Required(), mcp.Description("Owner of the upload")),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data:<mime>;base64,<data> URI")),
		mcp.WithString("filename", mcp.Description("File name to store under (derived from the URL when empty)")),
		mcp.WithString("alt_text", mcp.Description("Alternative text")),
		mcp.WithString("post_slug", mcp.Description("Associate with one of the user's posts")),
	), s.uploadMedia)

	s.mcp.AddTool(mcp.NewTool("get_block_contract",
		mcp.WithDescription("Returns the post block format and media URL conventions."),
	), s.getBlockContract)

	s.mcp.AddResource(
		mcp.NewResource(blockFormatURI, "Block Format Contract",
			mcp.WithResourceDescription("Post block format and media URL conventions."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readBlockFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listPosts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := max(req.GetInt("offset", 0), 0)

	posts, total, err := s.posts.ListPublished(ctx, limit, offset)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	type item struct {
		Slug        string `json:"slug"`
		Title       string `json:"title"`
		Author      string `json:"author"`
		Description string `json:"description,omitempty"`
		PublishedAt string `json:"published_at,omitempty"`
	}
	items := make([]item, 0, len(posts))
	for _, p := range posts {
		it := item{Slug: p.Slug, Title: p.Title, Author: p.Author.Username, Description: p.Description}
		if p.PublishedAt != nil {
			it.PublishedAt = p.PublishedAt.Format("2006-01-02")
		}
		items = append(items, it)
	}
	return jsonResult(map[string]any{"posts": items, "total": total})
}

func (s *Server) readPost(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	slug, err := req.RequireString("slug")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, err := s.posts.Get(ctx, nil, slug)
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", slug)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"slug":         p.Slug,
		"title":        p.Title,
		"author":       p.Author.Username,
		"description":  p.Description,
		"cover_image":  s.posts.URL(p.CoverImage),
		"published_at": p.PublishedAt,
		"blocks":       p.Blocks,
	})
}

func (s *Server) listMedia(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	username, err := req.RequireString("username")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	owner, err := s.db.AccountByUsername(ctx, username)
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("unknown user: %s", username)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	items, err := s.media.List(ctx, owner)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	type item struct {
		ID       string `json:"id"`
		URL      string `json:"url"`
		Filename string `json:"filename"`
		Kind     string `json:"media_type"`
		Size     string `json:"size"`
		AltText  string `json:"alt_text,omitempty"`
		Attached bool   `json:"attached"`
	}
	out := make([]item, 0, len(items))
	for i := range items {
		m := &items[i]
		out = append(out, item{
			ID:       m.ID.String(),
			URL:      s.media.URL(m),
			Filename: m.Filename,
			Kind:     string(m.Kind),
			Size:     m.HumanSize(),
			AltText:  m.AltText,
			Attached: m.PostID != nil,
		})
	}
	return jsonResult(out)
}

func (s *Server) mediaReport(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rep, err := s.maint.Report(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rep)
}

func (s *Server) getBlockContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(BlockFormatContract), nil
}

func (s *Server) readBlockFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      blockFormatURI,
			MIMEType: "text/markdown",
			Text:     BlockFormatContract,
		},
	}, nil
}
