package scratch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"converto/internal/logging"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), 0, logging.NewNop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestAllocCreatesDirectory(t *testing.T) {
	store := newTestStore(t)
	dir, err := store.Alloc("job-1")
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("expected directory at %s: %v", dir, err)
	}
	if !store.Tracked("job-1") {
		t.Error("job should be tracked after Alloc")
	}
}

func TestAllocRejectsDuplicate(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Alloc("job-1"); err != nil {
		t.Fatalf("first Alloc: %v", err)
	}
	if _, err := store.Alloc("job-1"); err == nil {
		t.Error("second Alloc for same job should fail")
	}
}

func TestReleaseRemovesAndIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	dir, err := store.Alloc("job-1")
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "partial.out"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if err := store.Release("job-1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("scratch dir should be removed")
	}
	if store.Tracked("job-1") {
		t.Error("job should not be tracked after Release")
	}
	if err := store.Release("job-1"); err != nil {
		t.Errorf("second Release should be a no-op: %v", err)
	}
	if err := store.Release("never-allocated"); err != nil {
		t.Errorf("Release of unknown job should be a no-op: %v", err)
	}
}

func TestCleanStaleSkipsTrackedDirectories(t *testing.T) {
	store := newTestStore(t)
	liveDir, err := store.Alloc("live")
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	staleDir := filepath.Join(store.Root(), dirPrefix+"orphan")
	if err := os.Mkdir(staleDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	old := time.Now().Add(-2 * time.Hour)
	for _, dir := range []string{liveDir, staleDir} {
		if err := os.Chtimes(dir, old, old); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	result := store.CleanStale(time.Hour)
	if len(result.Removed) != 1 || result.Removed[0] != staleDir {
		t.Errorf("removed = %v, want only %s", result.Removed, staleDir)
	}
	if _, err := os.Stat(liveDir); err != nil {
		t.Error("tracked directory must survive the sweep")
	}
}

func TestCleanStaleIgnoresRecentAndForeignEntries(t *testing.T) {
	store := newTestStore(t)

	recent := filepath.Join(store.Root(), dirPrefix+"recent")
	if err := os.Mkdir(recent, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	foreign := filepath.Join(store.Root(), "unrelated")
	if err := os.Mkdir(foreign, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(foreign, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	result := store.CleanStale(time.Hour)
	if len(result.Removed) != 0 {
		t.Errorf("removed = %v, want none", result.Removed)
	}
	for _, dir := range []string{recent, foreign} {
		if _, err := os.Stat(dir); err != nil {
			t.Errorf("%s should survive the sweep", dir)
		}
	}
}

func TestAllocFailsWhenDiskHeadroomTooLow(t *testing.T) {
	store, err := NewStore(t.TempDir(), ^uint64(0), logging.NewNop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := store.Alloc("job-1"); err == nil {
		t.Error("Alloc should fail when free space is below the floor")
	}
}
