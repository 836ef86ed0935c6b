// Package scratch manages the temporary directory where uploads wait for
// the AI job that consumes them.
package scratch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrOutsideDir = errors.New("scratch: path outside scratch directory")

// Store writes uploads into a single directory and removes them again.
// Removal never fails the caller; problems are logged.
type Store struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

// New initializes a Store rooted at dir, creating it when missing.
func New(dir string, logger *slog.Logger) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("scratch: directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("scratch: resolve directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("scratch: ensure directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: abs, logger: logger, now: time.Now}, nil
}

func (s *Store) Dir() string { return s.dir }

// Save copies r into a new file named after a random ID, keeping the
// extension of originalName, and returns its absolute path.
func (s *Store) Save(ctx context.Context, originalName string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ext := strings.ToLower(filepath.Ext(originalName))
	path := filepath.Join(s.dir, uuid.NewString()+ext)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("scratch: create file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("scratch: write file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("scratch: close file: %w", err)
	}
	return path, nil
}

// Contains reports whether path lives directly or indirectly under the
// scratch directory.
func (s *Store) Contains(path string) bool {
	rel, err := filepath.Rel(s.dir, filepath.Clean(path))
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

// Remove deletes the given files. Missing files are ignored and paths outside
// the scratch directory are refused.
func (s *Store) Remove(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if !s.Contains(p) {
			s.logger.Warn("refusing to remove file outside scratch dir", "path", p)
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("failed to remove scratch file", "path", p, "error", err)
		}
	}
}

// Sweep deletes files whose modification time is older than maxAge and
// returns how many files and bytes it removed.
func (s *Store) Sweep(maxAge time.Duration) (int, int64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, 0, fmt.Errorf("scratch: read directory: %w", err)
	}

	cutoff := s.now().Add(-maxAge)
	var removed int
	var freed int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				s.logger.Warn("failed to remove stale scratch file", "file", e.Name(), "error", err)
			}
			continue
		}
		removed++
		freed += info.Size()
	}
	return removed, freed, nil
}

// RunJanitor sweeps the directory every interval until ctx is cancelled.
// It catches files orphaned by crashed requests and jobs lost to expiry.
func (s *Store) RunJanitor(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, freed, err := s.Sweep(maxAge)
			if err != nil {
				s.logger.Error("scratch sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				s.logger.Info("scratch sweep completed", "files", removed, "bytes", freed)
			}
		}
	}
}
