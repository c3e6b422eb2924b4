// Package storage keeps rendered export files on local disk and mints the
// signed tokens that gate their download.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ExportStore persists rendered export files under a single base directory.
// Callers address files by bare name; anything that would resolve outside
// the base directory is rejected.
type ExportStore struct {
	base string
}

// NewExportStore ensures the base directory exists and returns a handle.
func NewExportStore(dir string) (*ExportStore, error) {
	if dir == "" {
		dir = "./data/exports"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export directory %s: %w", dir, err)
	}
	return &ExportStore{base: dir}, nil
}

// Save writes the rendered document and returns the name it is stored
// under, which is what gets embedded in download tokens.
func (s *ExportStore) Save(name string, data []byte) (string, error) {
	path, err := s.resolve(name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write export %s: %w", name, err)
	}
	return name, nil
}

// Open returns a read-only handle for a stored export.
func (s *ExportStore) Open(name string) (*os.File, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open export %s: %w", name, err)
	}
	return f, nil
}

// Delete removes a stored export. Missing files are not an error.
func (s *ExportStore) Delete(name string) error {
	path, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete export %s: %w", name, err)
	}
	return nil
}

// Sweep removes exports whose files are older than the retention window and
// reports how many were deleted. Download tokens outlive their files only
// until the sweep runs.
func (s *ExportStore) Sweep(retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention)
	entries, err := os.ReadDir(s.base)
	if err != nil {
		return 0, fmt.Errorf("scan export directory: %w", err)
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return removed, fmt.Errorf("stat export %s: %w", entry.Name(), err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.base, entry.Name())); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("sweep export %s: %w", entry.Name(), err)
		}
		removed++
	}
	return removed, nil
}

func (s *ExportStore) resolve(name string) (string, error) {
	clean := filepath.Clean(name)
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid export name %q", name)
	}
	return filepath.Join(s.base, clean), nil
}
