package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmtorr3/blog/internal/maintenance"
)

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`
app:
  log_level: error
storage:
  root: %s
  lock_file: %s
sqlite:
  path: %s
%s`, filepath.Join(dir, "media"), filepath.Join(dir, "lock"), filepath.Join(dir, "blog.db"), extra)
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	err := app.Run(context.Background(), append([]string{"blog"}, args...))
	return out.String(), err
}

func TestAccountCommands(t *testing.T) {
	cfg := writeConfig(t, "")

	out, err := runCLI(t, "-c", cfg, "account", "create", "alice")
	if err != nil {
		t.Fatalf("account create: %v", err)
	}
	if !strings.HasPrefix(out, "created account alice") {
		t.Errorf("output = %q", out)
	}

	if _, err := runCLI(t, "-c", cfg, "account", "create", "alice"); err == nil {
		t.Error("duplicate account should fail")
	}
	if _, err := runCLI(t, "-c", cfg, "account", "create"); err == nil {
		t.Error("missing username should fail")
	}

	out, err = runCLI(t, "-c", cfg, "account", "list")
	if err != nil {
		t.Fatal(err)
	}
	// admin is the default user created in disabled mode.
	if !strings.Contains(out, "alice") || !strings.Contains(out, "admin") {
		t.Errorf("list = %q", out)
	}

	if _, err := runCLI(t, "-c", cfg, "account", "token", "alice"); err == nil {
		t.Error("token issuing must fail while auth is disabled")
	}
}

func TestAccountTokenJWTMode(t *testing.T) {
	cfg := writeConfig(t, "auth:\n  mode: jwt\n  secret: 0123456789abcdef\n")
	if _, err := runCLI(t, "-c", cfg, "account", "create", "alice"); err != nil {
		t.Fatal(err)
	}
	out, err := runCLI(t, "-c", cfg, "account", "token", "--ttl", "1h", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(strings.TrimSpace(out), ".") != 2 {
		t.Errorf("token = %q", out)
	}
	if _, err := runCLI(t, "-c", cfg, "account", "token", "ghost"); err == nil {
		t.Error("unknown account should fail")
	}
}

func TestMediaCommands(t *testing.T) {
	cfg := writeConfig(t, "")

	out, err := runCLI(t, "-c", cfg, "media", "list", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var rep maintenance.Report
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if rep.Total != 0 {
		t.Errorf("total = %d", rep.Total)
	}

	out, err = runCLI(t, "-c", cfg, "media", "repair")
	if err != nil || !strings.Contains(out, "canonical") {
		t.Errorf("repair = %q, %v", out, err)
	}
	out, err = runCLI(t, "-c", cfg, "media", "orphans", "--delete")
	if err != nil || !strings.Contains(out, "no orphaned files") {
		t.Errorf("orphans = %q, %v", out, err)
	}
}

func TestInvalidConfigRejected(t *testing.T) {
	cfg := writeConfig(t, "auth:\n  mode: jwt\n")
	if _, err := runCLI(t, "-c", cfg, "media", "list"); err == nil {
		t.Fatal("expected validation error")
	}
}
