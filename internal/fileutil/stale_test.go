package fileutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"derbyflow/internal/logging"
)

func TestCleanStaleInvalidPaths(t *testing.T) {
	for _, dir := range []string{"", "   ", "/nonexistent/path/12345"} {
		result := CleanStale(dir, "derbyflow-", time.Hour, logging.NewNop())
		if len(result.Removed) != 0 || len(result.Errors) != 0 {
			t.Errorf("expected empty result for path %q", dir)
		}
	}
}

func mkdirAged(t *testing.T, path string, age time.Duration) {
	t.Helper()
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	stamp := time.Now().Add(-age)
	if err := os.Chtimes(path, stamp, stamp); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestCleanStaleRespectsAgeAndPrefix(t *testing.T) {
	root := t.TempDir()
	oldDir := filepath.Join(root, "derbyflow-detect-old")
	recentDir := filepath.Join(root, "derbyflow-detect-new")
	otherDir := filepath.Join(root, "derbyflow-face-old")
	mkdirAged(t, oldDir, 2*time.Hour)
	mkdirAged(t, recentDir, 0)
	mkdirAged(t, otherDir, 2*time.Hour)

	result := CleanStale(root, "derbyflow-detect-", time.Hour, logging.NewNop())
	if len(result.Removed) != 1 || result.Removed[0] != oldDir {
		t.Fatalf("removed = %v, want only %s", result.Removed, oldDir)
	}
	for _, keep := range []string{recentDir, otherDir} {
		if _, err := os.Stat(keep); err != nil {
			t.Fatalf("expected %s to survive: %v", keep, err)
		}
	}
}

func TestCleanStaleZeroAgeRemovesAllMatches(t *testing.T) {
	root := t.TempDir()
	mkdirAged(t, filepath.Join(root, "derbyflow-detect-a"), 0)
	mkdirAged(t, filepath.Join(root, "derbyflow-detect-b"), 0)
	if err := os.WriteFile(filepath.Join(root, "derbyflow-detect-file"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	result := CleanStale(root, "derbyflow-detect-", 0, nil)
	if len(result.Removed) != 2 {
		t.Fatalf("removed = %v, want both directories", result.Removed)
	}
	if _, err := os.Stat(filepath.Join(root, "derbyflow-detect-file")); err != nil {
		t.Fatalf("regular files must be left alone: %v", err)
	}
}
