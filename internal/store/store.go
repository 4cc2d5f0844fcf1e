// Package store persists run output to the local filesystem: one directory
// per run holding the captured receipts and diagnostic snapshots.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DirTimestampLayout formats the run directory suffix.
const DirTimestampLayout = "20060102_150405"

const tempPattern = ".harvest-*.tmp"

// Store writes files into a single run directory.
type Store struct {
	dir string
	log *zap.Logger
}

// New creates <baseDir>/<prefix><timestamp> and returns a store rooted there.
func New(baseDir, prefix string, now time.Time, logger *zap.Logger) (*Store, error) {
	return Open(filepath.Join(baseDir, prefix+now.Format(DirTimestampLayout)), logger)
}

// Open uses dir as the run directory, creating it if needed.
func Open(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	s := &Store{dir: abs, log: logger.Named("store")}
	s.log.Info("Output directory ready.", zap.String("dir", abs))
	return s, nil
}

// Dir returns the absolute run directory.
func (s *Store) Dir() string { return s.dir }

// Path returns where name would be stored.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// CheckName rejects anything that is not a plain file name inside the run
// directory: empty names, dot entries, separators and absolute paths.
func (s *Store) CheckName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid file name %q", name)
	}
	return nil
}

// Write stores data under name atomically: readers never see a partial
// file. An existing file with the same name is replaced.
func (s *Store) Write(name string, data []byte) (string, error) {
	if err := s.CheckName(name); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(s.dir, tempPattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op once the rename succeeded.
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", name, err)
	}

	dest := s.Path(name)
	if err := os.Rename(tmpName, dest); err != nil {
		return "", fmt.Errorf("failed to move %s into place: %w", name, err)
	}
	s.log.Debug("File written.", zap.String("path", dest), zap.Int("bytes", len(data)))
	return dest, nil
}

// Exists reports whether name is a non-empty regular file in the run
// directory. Names that fail CheckName never exist.
func (s *Store) Exists(name string) bool {
	if s.CheckName(name) != nil {
		return false
	}
	path := s.Path(name)
	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Debug("Stat failed.", zap.String("path", path), zap.Error(err))
		}
		return false
	}
	return info.Mode().IsRegular() && info.Size() > 0
}

// DiagnosticName names a snapshot taken after an item failed.
func DiagnosticName(page, item int, ext string) string {
	return fmt.Sprintf("error_page%d_item%d.%s", page, item, ext)
}

// WriteDiagnostic stores a snapshot for the given page and item position.
func (s *Store) WriteDiagnostic(page, item int, ext string, data []byte) (string, error) {
	return s.Write(DiagnosticName(page, item, ext), data)
}

// List returns the names of files in the run directory, sorted, without
// temporary files.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
