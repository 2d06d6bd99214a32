package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/nugget/resume-interviewer/examples"
	"github.com/nugget/resume-interviewer/internal/config"
	"github.com/nugget/resume-interviewer/internal/schema"
)

// clearUmask sets the process umask to 0 so file permission assertions are
// deterministic. It restores the original umask when the test completes.
func clearUmask(t *testing.T) {
	t.Helper()
	old := syscall.Umask(0)
	t.Cleanup(func() { syscall.Umask(old) })
}

func TestRunInit_FreshDirectory(t *testing.T) {
	clearUmask(t)
	dir := t.TempDir()
	var buf bytes.Buffer

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "data"))
	if err != nil || !info.IsDir() {
		t.Errorf("data directory missing: %v", err)
	}

	cfgInfo, err := os.Stat(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("config.yaml not created: %v", err)
	}
	if got := cfgInfo.Mode().Perm(); got != 0o600 {
		t.Errorf("config.yaml permissions = %o, want 0600", got)
	}

	catInfo, err := os.Stat(filepath.Join(dir, "catalog.yaml"))
	if err != nil {
		t.Fatalf("catalog.yaml not created: %v", err)
	}
	if got := catInfo.Mode().Perm(); got != 0o644 {
		t.Errorf("catalog.yaml permissions = %o, want 0644", got)
	}

	got, err := os.ReadFile(filepath.Join(dir, "catalog.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, examples.CatalogYAML) {
		t.Error("catalog.yaml does not match the embedded example")
	}

	if !strings.Contains(buf.String(), "config.yaml") {
		t.Errorf("output does not mention config.yaml:\n%s", buf.String())
	}
}

func TestRunInit_KeepsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("custom: true\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := runInit(&bytes.Buffer{}, dir); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	got, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "custom: true\n" {
		t.Errorf("config.yaml was overwritten: %q", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "catalog.yaml")); err != nil {
		t.Errorf("catalog.yaml not created alongside existing config: %v", err)
	}
}

func TestRunInit_Idempotent(t *testing.T) {
	dir := t.TempDir()
	for i := range 2 {
		if err := runInit(&bytes.Buffer{}, dir); err != nil {
			t.Fatalf("runInit pass %d failed: %v", i+1, err)
		}
	}
}

func TestRunInit_ExamplesLoad(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	dir := t.TempDir()
	if err := runInit(&bytes.Buffer{}, dir); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	cfg, err := config.Load(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if cfg.Anthropic.APIKey != "sk-test" {
		t.Errorf("api key = %q, want expanded from environment", cfg.Anthropic.APIKey)
	}

	s, err := schema.LoadFile(filepath.Join(dir, "catalog.yaml"))
	if err != nil {
		t.Fatalf("example catalog does not load: %v", err)
	}
	if _, ok := s.Group("work_experience"); !ok {
		t.Error("example catalog has no work_experience group")
	}
}
