// Package local implements a local filesystem object store.
package local

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
)

// Config captures the parameters for the local filesystem object store.
type Config struct {
	// BaseDir is the root directory where objects will be stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// ObjectStore reads and writes pipeline artifacts on the local filesystem.
type ObjectStore struct {
	baseDir string
}

// New opens the base directory, creating it when absent, and probes that it
// is writable so a misconfigured mount fails at startup instead of mid-run.
func New(cfg Config) (*ObjectStore, error) {
	base := strings.TrimSpace(cfg.BaseDir)
	if base == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	switch info, err := os.Stat(base); {
	case os.IsNotExist(err):
		if err := os.MkdirAll(base, 0o750); err != nil {
			return nil, fmt.Errorf("create base directory: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory %s is not a directory", base)
	}

	if err := probeWritable(base); err != nil {
		return nil, err
	}
	return &ObjectStore{baseDir: base}, nil
}

func probeWritable(dir string) error {
	probe := filepath.Join(dir, ".writable")
	if err := os.WriteFile(probe, nil, 0o600); err != nil {
		return fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return fmt.Errorf("remove writability probe: %w", err)
	}
	return nil
}

// resolve maps a slash-separated object key to an absolute path under
// baseDir. Keys that resolve outside the base directory are rejected.
func (s *ObjectStore) resolve(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("object key is required")
	}
	full := filepath.Clean(filepath.Join(s.baseDir, filepath.FromSlash(key)))
	rel, err := filepath.Rel(filepath.Clean(s.baseDir), full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("object key %q escapes the store", key)
	}
	return full, nil
}

// PutObject writes data under BaseDir and returns a file:// URI. The content
// type is ignored; the filesystem carries no object metadata.
func (s *ObjectStore) PutObject(_ context.Context, key string, _ string, data []byte) (string, error) {
	full, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(full, data, 0o600); err != nil {
		return "", fmt.Errorf("write object %s: %w", key, err)
	}
	return "file://" + full, nil
}

// GetObject reads one object; absent files map to schedule.ErrNotFound.
func (s *ObjectStore) GetObject(_ context.Context, key string) ([]byte, error) {
	full, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object %s: %w", key, schedule.ErrNotFound)
		}
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

// Exists reports whether the object is present.
func (s *ObjectStore) Exists(_ context.Context, key string) (bool, error) {
	full, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat object %s: %w", key, err)
	}
	return !info.IsDir(), nil
}

// ListPrefix returns every object key under the prefix, sorted.
func (s *ObjectStore) ListPrefix(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.baseDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk base directory: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}
