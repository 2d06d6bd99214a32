package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nugget/resume-interviewer/examples"
)

// runInit writes the example config and catalog into dir and creates the
// data directory. Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing interviewer workspace in %s\n", dir)

	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dataDir, err)
	}

	// The config may hold API keys.
	configPath := filepath.Join(dir, "config.yaml")
	if err := writeIfMissing(configPath, examples.ConfigYAML, 0o600); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", configPath)

	catalogPath := filepath.Join(dir, "catalog.yaml")
	if err := writeIfMissing(catalogPath, examples.CatalogYAML, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", catalogPath)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Set ANTHROPIC_API_KEY (or configure another provider) and edit catalog.yaml.")
	return nil
}

// writeIfMissing writes content to path only if the file does not exist.
func writeIfMissing(path string, content []byte, perm os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, content, perm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
