package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jmtorr3/blog/internal/apperr"
	"github.com/jmtorr3/blog/internal/models"
)

const postColumns = `
	p.id, p.title, p.slug, p.description, p.cover_image, p.custom_css, p.blocks,
	p.status, p.created_at, p.updated_at, p.published_at,
	a.id, a.username, a.created_at`

const postFrom = ` FROM posts p JOIN accounts a ON a.id = p.author_id`

func scanPost(row scanner) (*models.Post, error) {
	var (
		p         models.Post
		blocks    string
		published sql.NullTime
	)
	err := row.Scan(&p.ID, &p.Title, &p.Slug, &p.Description, &p.CoverImage, &p.CustomCSS, &blocks,
		&p.Status, &p.CreatedAt, &p.UpdatedAt, &published,
		&p.Author.ID, &p.Author.Username, &p.Author.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(blocks), &p.Blocks); err != nil {
		return nil, fmt.Errorf("store: decode blocks of %s: %w", p.Slug, err)
	}
	if published.Valid {
		t := published.Time
		p.PublishedAt = &t
	}
	return &p, nil
}

func encodeBlocks(bs models.Blocks) (string, error) {
	if bs == nil {
		return "[]", nil
	}
	data, err := json.Marshal(bs)
	if err != nil {
		return "", fmt.Errorf("store: encode blocks: %w", err)
	}
	return string(data), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// CreatePost inserts p. The id and slug must already be set; a taken slug
// yields apperr.ErrConflict.
func (db *DB) CreatePost(ctx context.Context, p *models.Post) error {
	if p.ID == uuid.Nil || p.Slug == "" {
		return fmt.Errorf("store: create post: id and slug are required")
	}
	blocks, err := encodeBlocks(p.Blocks)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO posts (id, author_id, title, slug, description, cover_image, custom_css,
			blocks, status, created_at, updated_at, published_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Author.ID, p.Title, p.Slug, p.Description, p.CoverImage, p.CustomCSS,
		blocks, p.Status, p.CreatedAt, p.UpdatedAt, nullTime(p.PublishedAt))
	return mapErr("create post", err)
}

// UpdatePost rewrites every mutable column of p.
func (db *DB) UpdatePost(ctx context.Context, p *models.Post) error {
	blocks, err := encodeBlocks(p.Blocks)
	if err != nil {
		return err
	}
	res, err := db.conn.ExecContext(ctx, `
		UPDATE posts SET title = ?, slug = ?, description = ?, cover_image = ?, custom_css = ?,
			blocks = ?, status = ?, updated_at = ?, published_at = ?
		WHERE id = ?`,
		p.Title, p.Slug, p.Description, p.CoverImage, p.CustomCSS,
		blocks, p.Status, p.UpdatedAt, nullTime(p.PublishedAt), p.ID)
	if err != nil {
		return mapErr("update post", err)
	}
	return affected(res)
}

// UpdatePostFields writes only the fields set in f.
func (db *DB) UpdatePostFields(ctx context.Context, id uuid.UUID, f PostFields) error {
	var (
		sets []string
		args []any
	)
	if f.Blocks != nil {
		blocks, err := encodeBlocks(*f.Blocks)
		if err != nil {
			return err
		}
		sets = append(sets, "blocks = ?")
		args = append(args, blocks)
	}
	if f.CoverImage != nil {
		sets = append(sets, "cover_image = ?")
		args = append(args, *f.CoverImage)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := db.conn.ExecContext(ctx,
		`UPDATE posts SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return mapErr("update post fields", err)
	}
	return affected(res)
}

// DeletePost removes a post record.
func (db *DB) DeletePost(ctx context.Context, id uuid.UUID) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, id)
	if err != nil {
		return mapErr("delete post", err)
	}
	return affected(res)
}

// PostByID fetches a post with its author.
func (db *DB) PostByID(ctx context.Context, id uuid.UUID) (*models.Post, error) {
	p, err := scanPost(db.conn.QueryRowContext(ctx, `SELECT`+postColumns+postFrom+` WHERE p.id = ?`, id))
	if err != nil {
		return nil, mapErr("post by id", err)
	}
	return p, nil
}

// PostBySlug fetches a post with its author.
func (db *DB) PostBySlug(ctx context.Context, slug string) (*models.Post, error) {
	p, err := scanPost(db.conn.QueryRowContext(ctx, `SELECT`+postColumns+postFrom+` WHERE p.slug = ?`, slug))
	if err != nil {
		return nil, mapErr("post by slug", err)
	}
	return p, nil
}

// SlugsWithPrefix returns every slug in use that starts with prefix.
func (db *DB) SlugsWithPrefix(ctx context.Context, prefix string) (map[string]struct{}, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT slug FROM posts WHERE substr(slug, 1, ?) = ?`,
		len(prefix), prefix)
	if err != nil {
		return nil, mapErr("slugs", err)
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out[s] = struct{}{}
	}
	return out, rows.Err()
}

// ListPosts returns posts matching f, newest first, plus the total count.
func (db *DB) ListPosts(ctx context.Context, f PostFilter) ([]models.Post, int, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "p.status = ?")
		args = append(args, f.Status)
	}
	if f.AuthorID != uuid.Nil {
		where = append(where, "p.author_id = ?")
		args = append(args, f.AuthorID)
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*)`+postFrom+cond, args...).Scan(&total); err != nil {
		return nil, 0, mapErr("count posts", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	q := `SELECT` + postColumns + postFrom + cond + ` ORDER BY p.created_at DESC, p.id LIMIT ? OFFSET ?`
	rows, err := db.conn.QueryContext(ctx, q, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, mapErr("list posts", err)
	}
	defer rows.Close()
	var out []models.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *p)
	}
	return out, total, rows.Err()
}

func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}
