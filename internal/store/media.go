package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jmtorr3/blog/internal/models"
)

const mediaColumns = `
	m.id, m.post_id, m.stored_path, m.kind, m.filename, m.size_bytes, m.alt_text, m.created_at,
	a.id, a.username, a.created_at`

const mediaFrom = ` FROM media m JOIN accounts a ON a.id = m.owner_id`

func scanMedia(row scanner) (*models.Media, error) {
	var (
		m    models.Media
		post uuid.NullUUID
	)
	err := row.Scan(&m.ID, &post, &m.StoredPath, &m.Kind, &m.Filename, &m.SizeBytes, &m.AltText, &m.CreatedAt,
		&m.Owner.ID, &m.Owner.Username, &m.Owner.CreatedAt)
	if err != nil {
		return nil, err
	}
	if post.Valid {
		id := post.UUID
		m.PostID = &id
	}
	return &m, nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

// CreateMedia inserts m. The id must already be set.
func (db *DB) CreateMedia(ctx context.Context, m *models.Media) error {
	if m.ID == uuid.Nil {
		return fmt.Errorf("store: create media: id is required")
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO media (id, owner_id, post_id, stored_path, kind, filename, size_bytes, alt_text, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Owner.ID, nullUUID(m.PostID), m.StoredPath, m.Kind, m.Filename, m.SizeBytes, m.AltText, m.CreatedAt)
	return mapErr("create media", err)
}

// UpdateMedia rewrites the mutable columns of m. Owner, kind, filename,
// size and creation time never change after insert.
func (db *DB) UpdateMedia(ctx context.Context, m *models.Media) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE media SET post_id = ?, stored_path = ?, alt_text = ? WHERE id = ?`,
		nullUUID(m.PostID), m.StoredPath, m.AltText, m.ID)
	if err != nil {
		return mapErr("update media", err)
	}
	return affected(res)
}

// UpdateMediaFields writes only the fields set in f.
func (db *DB) UpdateMediaFields(ctx context.Context, id uuid.UUID, f MediaFields) error {
	var (
		sets []string
		args []any
	)
	if f.StoredPath != nil {
		sets = append(sets, "stored_path = ?")
		args = append(args, *f.StoredPath)
	}
	if f.SetPost {
		sets = append(sets, "post_id = ?")
		args = append(args, nullUUID(f.PostID))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := db.conn.ExecContext(ctx,
		`UPDATE media SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return mapErr("update media fields", err)
	}
	return affected(res)
}

// DeleteMedia removes a media record.
func (db *DB) DeleteMedia(ctx context.Context, id uuid.UUID) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM media WHERE id = ?`, id)
	if err != nil {
		return mapErr("delete media", err)
	}
	return affected(res)
}

// DeleteMediaByPost removes every media record owned by a post.
func (db *DB) DeleteMediaByPost(ctx context.Context, postID uuid.UUID) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM media WHERE post_id = ?`, postID)
	if err != nil {
		return 0, mapErr("delete media by post", err)
	}
	return res.RowsAffected()
}

// MediaByID fetches a media record with its owner.
func (db *DB) MediaByID(ctx context.Context, id uuid.UUID) (*models.Media, error) {
	m, err := scanMedia(db.conn.QueryRowContext(ctx, `SELECT`+mediaColumns+mediaFrom+` WHERE m.id = ?`, id))
	if err != nil {
		return nil, mapErr("media by id", err)
	}
	return m, nil
}

// MediaByStoredPath fetches the oldest record whose file lives at storedPath.
func (db *DB) MediaByStoredPath(ctx context.Context, storedPath string) (*models.Media, error) {
	m, err := scanMedia(db.conn.QueryRowContext(ctx,
		`SELECT`+mediaColumns+mediaFrom+` WHERE m.stored_path = ? ORDER BY m.created_at LIMIT 1`, storedPath))
	if err != nil {
		return nil, mapErr("media by stored path", err)
	}
	return m, nil
}

// ListMedia returns media matching f, newest first.
func (db *DB) ListMedia(ctx context.Context, f MediaFilter) ([]models.Media, error) {
	var (
		where []string
		args  []any
	)
	if f.OwnerID != uuid.Nil {
		where = append(where, "m.owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.PostID != uuid.Nil {
		where = append(where, "m.post_id = ?")
		args = append(args, f.PostID)
	}
	q := `SELECT` + mediaColumns + mediaFrom
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += ` ORDER BY m.created_at DESC, m.id`
	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapErr("list media", err)
	}
	defer rows.Close()
	var out []models.Media
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}
