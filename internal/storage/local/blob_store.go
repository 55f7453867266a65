// Package local stores batch files as newline-delimited URL lists in one
// directory on the local filesystem.
package local

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// TempSuffix marks in-flight replacement files; List never returns them.
const TempSuffix = ".tmp"

const maxLineBytes = 1 << 20

var (
	// ErrNotDirectory is returned when BaseDir exists but is not a directory.
	ErrNotDirectory = errors.New("base directory path is not a directory")
	// ErrPathTraversal is returned for names that escape BaseDir.
	ErrPathTraversal = errors.New("path traversal detected")
)

// Config captures the parameters for the batch store.
type Config struct {
	// BaseDir is the directory holding the batch files.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
	// CreateIfMissing creates BaseDir instead of failing when it is absent.
	CreateIfMissing bool `mapstructure:"create_if_missing" yaml:"create_if_missing"`
}

// BatchStore reads and atomically rewrites batch files under one directory.
type BatchStore struct {
	baseDir string
	// root is the absolute form of baseDir used for containment checks.
	root string

	// beforeRename runs between writing the temp file and renaming it.
	beforeRename func(tmp, dst string) error
}

// New opens the store. A missing directory is an error unless
// CreateIfMissing is set.
func New(cfg Config) (*BatchStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, errors.New("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, fs.ErrNotExist) && cfg.CreateIfMissing:
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory %s: %w", cfg.BaseDir, err)
	case !info.IsDir():
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, cfg.BaseDir)
	}

	root, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory %s: %w", cfg.BaseDir, err)
	}
	return &BatchStore{baseDir: filepath.Clean(cfg.BaseDir), root: root}, nil
}

// Dir returns the base directory.
func (s *BatchStore) Dir() string {
	return s.baseDir
}

// Path resolves name inside the base directory.
func (s *BatchStore) Path(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("path is required")
	}
	rel, err := filepath.Rel(s.root, filepath.Join(s.root, name))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, name)
	}
	return filepath.Join(s.baseDir, rel), nil
}

// List returns the names of the regular files in the base directory, sorted,
// excluding temporaries left by interrupted rewrites.
func (s *BatchStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read base directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasSuffix(e.Name(), TempSuffix) {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// ReadURLs returns the non-blank, trimmed lines of name in file order.
// Duplicates are kept.
func (s *BatchStore) ReadURLs(name string) ([]string, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path) //nolint:gosec // path confined to baseDir
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close() //nolint:errcheck // read-only

	var urls []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return urls, nil
}

// Replace atomically swaps the contents of name for urls, one per line. The
// new content is written and synced to a sibling temp file that is then
// renamed over the original; readers see either the old file or the new one.
func (s *BatchStore) Replace(name string, urls []string) (err error) {
	dst, err := s.Path(name)
	if err != nil {
		return err
	}
	dir := filepath.Dir(dst)

	mode := fs.FileMode(0o644)
	if info, statErr := os.Stat(dst); statErr == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(dst)+".*"+TempSuffix)
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	w := bufio.NewWriter(tmp)
	for _, u := range urls {
		if _, err = w.WriteString(u + "\n"); err != nil {
			return fmt.Errorf("write temp for %s: %w", name, err)
		}
	}
	if err = w.Flush(); err != nil {
		return fmt.Errorf("flush temp for %s: %w", name, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp for %s: %w", name, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp for %s: %w", name, err)
	}
	if err = os.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("chmod temp for %s: %w", name, err)
	}
	if s.beforeRename != nil {
		if err = s.beforeRename(tmpName, dst); err != nil {
			return err
		}
	}
	if err = os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("rename temp over %s: %w", name, err)
	}
	syncDir(dir)
	return nil
}

// Append adds urls to the end of name, creating it and any parent
// directories as needed.
func (s *BatchStore) Append(name string, urls []string) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // confined path
	if err != nil {
		return fmt.Errorf("open %s for append: %w", name, err)
	}
	w := bufio.NewWriter(f)
	for _, u := range urls {
		if _, err := w.WriteString(u + "\n"); err != nil {
			_ = f.Close()
			return fmt.Errorf("append to %s: %w", name, err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("append to %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	return nil
}

// syncDir persists the rename. Not all platforms support it.
func syncDir(dir string) {
	d, err := os.Open(dir) //nolint:gosec // base directory
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
