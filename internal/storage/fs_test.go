package storage

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

func tempRoot(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	s, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return s
}

func mustWrite(t *testing.T, s *FS, path, content string) {
	t.Helper()
	if _, err := s.WriteNew(path, strings.NewReader(content)); err != nil {
		t.Fatalf("WriteNew(%s): %v", path, err)
	}
}

func readAll(t *testing.T, s *FS, path string) string {
	t.Helper()
	f, err := s.Open(path)
	if err != nil {
		t.Fatalf("Open(%s): %v", path, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestWriteNewAndOpen(t *testing.T) {
	s := tempRoot(t)
	n, err := s.WriteNew("alice/uploads/cat.png", strings.NewReader("meow"))
	if err != nil {
		t.Fatalf("WriteNew: %v", err)
	}
	if n != 4 {
		t.Errorf("n = %d, want 4", n)
	}
	if got := readAll(t, s, "alice/uploads/cat.png"); got != "meow" {
		t.Errorf("content = %q", got)
	}
	size, err := s.FileSize("alice/uploads/cat.png")
	if err != nil || size != 4 {
		t.Errorf("FileSize = %d, %v", size, err)
	}
}

func TestWriteNewRefusesOverwrite(t *testing.T) {
	s := tempRoot(t)
	mustWrite(t, s, "a/cat.png", "first")
	_, err := s.WriteNew("a/cat.png", strings.NewReader("second"))
	if !errors.Is(err, fs.ErrExist) {
		t.Fatalf("err = %v, want ErrExist", err)
	}
	if got := readAll(t, s, "a/cat.png"); got != "first" {
		t.Errorf("content = %q, original overwritten", got)
	}
	matches, _ := filepath.Glob(filepath.Join(s.root, "a", ".blog-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestExists(t *testing.T) {
	s := tempRoot(t)
	mustWrite(t, s, "x/y.png", "y")
	for path, want := range map[string]bool{"x/y.png": true, "x": true, "x/z.png": false} {
		got, err := s.Exists(path)
		if err != nil {
			t.Fatalf("Exists(%s): %v", path, err)
		}
		if got != want {
			t.Errorf("Exists(%s) = %v, want %v", path, got, want)
		}
	}
}

func TestMove(t *testing.T) {
	s := tempRoot(t)
	mustWrite(t, s, "alice/uploads/cat.png", "data")
	if err := s.Move("alice/uploads/cat.png", "alice/posts/hello/cat.png"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if got := readAll(t, s, "alice/posts/hello/cat.png"); got != "data" {
		t.Errorf("content = %q", got)
	}
	if ok, _ := s.Exists("alice/uploads/cat.png"); ok {
		t.Error("source should not exist after move")
	}
}

func TestMoveNeverOverwrites(t *testing.T) {
	s := tempRoot(t)
	mustWrite(t, s, "src.png", "new")
	mustWrite(t, s, "dst/src.png", "existing")
	err := s.Move("src.png", "dst/src.png")
	if !errors.Is(err, fs.ErrExist) {
		t.Fatalf("err = %v, want ErrExist", err)
	}
	if got := readAll(t, s, "dst/src.png"); got != "existing" {
		t.Errorf("destination overwritten: %q", got)
	}
	if got := readAll(t, s, "src.png"); got != "new" {
		t.Errorf("source changed: %q", got)
	}
}

func TestMoveMissingSource(t *testing.T) {
	s := tempRoot(t)
	err := s.Move("nope.png", "dst/nope.png")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("err = %v, want ErrNotExist", err)
	}
}

func TestCopyVerifyMove(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.bin")
	dst := filepath.Join(dir, "sub", "a.bin")
	if err := os.WriteFile(src, []byte("payload"), 0o640); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := copyVerifyMove(src, dst); err != nil {
		t.Fatalf("copyVerifyMove: %v", err)
	}
	if _, err := os.Stat(src); !errors.Is(err, fs.ErrNotExist) {
		t.Error("source still present")
	}
	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "payload" {
		t.Errorf("dst = %q, %v", data, err)
	}
	leftovers, _ := filepath.Glob(filepath.Join(dir, "sub", ".blog-tmp-*"))
	if len(leftovers) != 0 {
		t.Errorf("leftover temp files: %v", leftovers)
	}

	if err := os.WriteFile(src, []byte("again"), 0o640); err != nil {
		t.Fatal(err)
	}
	if err := copyVerifyMove(src, dst); !errors.Is(err, fs.ErrExist) {
		t.Errorf("err = %v, want ErrExist", err)
	}
}

func TestRemoveTree(t *testing.T) {
	s := tempRoot(t)
	mustWrite(t, s, "alice/posts/hello/a.png", "a")
	mustWrite(t, s, "alice/posts/hello/b.png", "b")
	if err := s.RemoveTree("alice/posts/hello"); err != nil {
		t.Fatalf("RemoveTree: %v", err)
	}
	if ok, _ := s.Exists("alice/posts/hello"); ok {
		t.Error("folder still exists")
	}
	if err := s.RemoveTree("alice/posts/hello"); err != nil {
		t.Errorf("RemoveTree on absent folder: %v", err)
	}
	if err := s.RemoveTree(""); err == nil {
		t.Error("expected error removing the root")
	}
}

func TestWalk(t *testing.T) {
	s := tempRoot(t)
	mustWrite(t, s, "a.png", "a")
	mustWrite(t, s, "alice/uploads/b.png", "bb")
	mustWrite(t, s, "alice/posts/p/c.mp4", "ccc")
	_ = os.WriteFile(filepath.Join(s.root, ".blog-tmp-123"), []byte("partial"), 0o644)

	sizes := map[string]int64{}
	if err := s.Walk("", func(rel string, size int64) error {
		sizes[rel] = size
		return nil
	}); err != nil {
		t.Fatalf("Walk: %v", err)
	}
	var got []string
	for k := range sizes {
		got = append(got, k)
	}
	sort.Strings(got)
	want := []string{"a.png", "alice/posts/p/c.mp4", "alice/uploads/b.png"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("walked %v, want %v", got, want)
	}
	if sizes["alice/posts/p/c.mp4"] != 3 {
		t.Errorf("size = %d", sizes["alice/posts/p/c.mp4"])
	}

	if err := s.Walk("missing", func(string, int64) error { return nil }); err != nil {
		t.Errorf("Walk on missing dir: %v", err)
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempRoot(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.png",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Open(p); !errors.Is(err, ErrPathEscape) {
			t.Errorf("Open(%q) err = %v, want ErrPathEscape", p, err)
		}
		if _, err := s.WriteNew(p, strings.NewReader("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
		if err := s.Move("a.png", p); err == nil {
			t.Errorf("expected error for move to %q", p)
		}
		if err := s.RemoveTree(p); err == nil {
			t.Errorf("expected error for remove of %q", p)
		}
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS(filepath.Join(t.TempDir(), "does-not-exist"))
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "blog-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}
