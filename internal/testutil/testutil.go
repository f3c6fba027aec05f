// Package testutil provides shared test helpers for setting up storage roots
// and databases.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/jmtorr3/blog/internal/mediapath"
	"github.com/jmtorr3/blog/internal/models"
	"github.com/jmtorr3/blog/internal/storage"
	"github.com/jmtorr3/blog/internal/store"
)

// Layout is the media URL layout used across tests.
var Layout = mediapath.Layout{URLPrefix: "/media", SitePrefix: "/blog", LegacyDir: "uploads"}

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *store.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "blog-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := store.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestStorage creates a temporary storage root.
func TestStorage(t *testing.T) *storage.FS {
	t.Helper()
	fs, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return fs
}

// Logger returns a logger that only reports errors.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// Account creates an account or fails the test.
func Account(t *testing.T, db store.Accounts, username string) *models.Account {
	t.Helper()
	a, err := db.CreateAccount(context.Background(), username)
	if err != nil {
		t.Fatalf("create account %s: %v", username, err)
	}
	return a
}

// PutFile writes content at rel or fails the test.
func PutFile(t *testing.T, files storage.Provider, rel, content string) {
	t.Helper()
	if _, err := files.WriteNew(rel, strings.NewReader(content)); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

// ReadFile returns the content at rel or fails the test.
func ReadFile(t *testing.T, files storage.Provider, rel string) string {
	t.Helper()
	f, err := files.Open(rel)
	if err != nil {
		t.Fatalf("open %s: %v", rel, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

// Exists reports whether rel exists, failing the test on I/O errors.
func Exists(t *testing.T, files storage.Provider, rel string) bool {
	t.Helper()
	ok, err := files.Exists(rel)
	if err != nil {
		t.Fatalf("exists %s: %v", rel, err)
	}
	return ok
}
