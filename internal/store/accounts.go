package store

import (
	"context"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/jmtorr3/blog/internal/apperr"
	"github.com/jmtorr3/blog/internal/models"
)

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// reservedUsernames would collide with top-level folders of the storage root.
var reservedUsernames = []any{"uploads", "posts", "media"}

// ValidateUsername checks that username can be used as a storage folder name.
func ValidateUsername(username string) error {
	err := validation.Validate(strings.ToLower(username),
		validation.Required,
		validation.Length(1, 150),
		validation.Match(usernameRe),
		validation.NotIn(reservedUsernames...),
	)
	if err != nil {
		return apperr.Invalid("username", "%v", err)
	}
	return nil
}

// CreateAccount adds an account to the directory.
func (db *DB) CreateAccount(ctx context.Context, username string) (*models.Account, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	a := &models.Account{ID: uuid.New(), Username: username, CreatedAt: time.Now().UTC()}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO accounts (id, username, created_at) VALUES (?, ?, ?)`,
		a.ID, a.Username, a.CreatedAt)
	if err != nil {
		return nil, mapErr("create account", err)
	}
	return a, nil
}

// AccountByUsername looks up an account.
func (db *DB) AccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	var a models.Account
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, username, created_at FROM accounts WHERE username = ?`, username,
	).Scan(&a.ID, &a.Username, &a.CreatedAt)
	if err != nil {
		return nil, mapErr("account by username", err)
	}
	return &a, nil
}

// ListAccounts returns every account ordered by username.
func (db *DB) ListAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, username, created_at FROM accounts ORDER BY username`)
	if err != nil {
		return nil, mapErr("list accounts", err)
	}
	defer rows.Close()
	var out []models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.Username, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
