package storage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) record(kind, path string) {
	r.mu.Lock()
	r.events = append(r.events, kind+":"+path)
	r.mu.Unlock()
}

func (r *recorder) has(e string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, got := range r.events {
		if got == e {
			return true
		}
	}
	return false
}

func startWatcher(t *testing.T) (*FS, *recorder) {
	t.Helper()
	s := tempRoot(t)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	rec := &recorder{}
	go Watch(ctx, s.Root(), logger, rec.record)
	time.Sleep(100 * time.Millisecond)
	return s, rec
}

func TestWatcher_FileCreatedAndRemoved(t *testing.T) {
	s, rec := startWatcher(t)

	mustWrite(t, s, "cat.png", "meow")
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.has("created:cat.png")
	}, "created event not received")

	if err := s.Remove("cat.png"); err != nil {
		t.Fatal(err)
	}
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.has("removed:cat.png")
	}, "removed event not received")
}

func TestWatcher_NewDirectoryWatched(t *testing.T) {
	s, rec := startWatcher(t)

	mustWrite(t, s, "alice/uploads/dog.png", "woof")
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.has("created:alice/uploads/dog.png")
	}, "file in new directory not reported")

	if err := s.Move("alice/uploads/dog.png", "alice/uploads/dog2.png"); err != nil {
		t.Fatal(err)
	}
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.has("removed:alice/uploads/dog.png") && rec.has("created:alice/uploads/dog2.png")
	}, "rename not reported as remove+create")
}

func TestWatcher_IgnoresTempFiles(t *testing.T) {
	s, rec := startWatcher(t)
	_ = os.WriteFile(filepath.Join(s.Root(), ".blog-tmp-42"), []byte("x"), 0o644)
	mustWrite(t, s, "marker.png", "m")
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.has("created:marker.png")
	}, "marker not reported")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, e := range rec.events {
		if strings.Contains(e, ".blog-tmp-") {
			t.Errorf("temp file reported: %s", e)
		}
	}
}
