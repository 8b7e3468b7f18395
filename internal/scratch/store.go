// Package scratch owns per-job scratch directories: allocation, tracked
// release on every job exit path, disk headroom checks, and sweeping of
// directories orphaned by a previous crash.
package scratch

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"converto/internal/cverr"
	"converto/internal/logging"
)

const dirPrefix = "job-"

// Store allocates and tracks one scratch directory per job.
type Store struct {
	root     string
	minFree  uint64
	logger   *slog.Logger
	mu       sync.Mutex
	assigned map[string]string
}

// NewStore prepares a store rooted at root. minFreeBytes is the disk
// headroom floor below which allocations fail; zero disables the check.
func NewStore(root string, minFreeBytes uint64, logger *slog.Logger) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("scratch root required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("ensure scratch root: %w", err)
	}
	return &Store{
		root:     root,
		minFree:  minFreeBytes,
		logger:   logging.WithComponent(logger, "scratch"),
		assigned: make(map[string]string),
	}, nil
}

// Root returns the scratch root directory.
func (s *Store) Root() string { return s.root }

// Alloc creates the scratch directory for a job. Allocating twice for the
// same job is an error; two jobs never share a directory.
func (s *Store) Alloc(jobID string) (string, error) {
	if s.minFree > 0 {
		free, err := diskFree(s.root)
		if err == nil && free < s.minFree {
			detail := fmt.Sprintf("scratch disk has %d bytes free, need %d", free, s.minFree)
			return "", cverr.Wrap(cverr.ErrResourceExhausted, "scratch", detail, nil)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if dir, ok := s.assigned[jobID]; ok {
		return "", fmt.Errorf("scratch already allocated for job %s at %s", jobID, dir)
	}
	dir := filepath.Join(s.root, dirPrefix+jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	s.assigned[jobID] = dir
	return dir, nil
}

// Release removes a job's scratch directory recursively. It is idempotent:
// releasing an unknown or already-released job is a no-op.
func (s *Store) Release(jobID string) error {
	s.mu.Lock()
	dir, ok := s.assigned[jobID]
	delete(s.assigned, jobID)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		s.logger.Warn("failed to remove scratch directory",
			logging.String("path", dir),
			logging.Error(err),
			logging.String(logging.FieldEventType, "scratch_release_failed"),
			logging.String(logging.FieldErrorHint, "check work_dir permissions"),
		)
		return fmt.Errorf("remove scratch dir: %w", err)
	}
	return nil
}

// Tracked reports whether a job currently holds a scratch directory.
func (s *Store) Tracked(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.assigned[jobID]
	return ok
}

// CleanStaleResult contains the outcome of a stale directory sweep.
type CleanStaleResult struct {
	Removed []string
	Errors  []error
}

// CleanStale removes untracked job directories older than maxAge. Tracked
// directories belong to live jobs and are never touched.
func (s *Store) CleanStale(maxAge time.Duration) CleanStaleResult {
	result := CleanStaleResult{}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, err)
		}
		return result
	}

	s.mu.Lock()
	tracked := make(map[string]struct{}, len(s.assigned))
	for _, dir := range s.assigned {
		tracked[dir] = struct{}{}
	}
	s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), dirPrefix) {
			continue
		}
		dirPath := filepath.Join(s.root, entry.Name())
		if _, live := tracked[dirPath]; live {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(dirPath); err != nil {
			result.Errors = append(result.Errors, err)
			s.logger.Warn("failed to remove stale scratch directory",
				logging.String("path", dirPath),
				logging.Error(err),
				logging.String(logging.FieldEventType, "scratch_cleanup_failed"),
			)
			continue
		}
		result.Removed = append(result.Removed, dirPath)
		s.logger.Info("removed stale scratch directory",
			logging.String("path", dirPath),
			logging.Duration("age", time.Since(info.ModTime())),
			logging.String(logging.FieldEventType, "scratch_cleanup"),
		)
	}
	return result
}
