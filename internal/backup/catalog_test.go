package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestCatalogRebuildsFromScan tests that the catalog is recovered from the
// archive directories when the catalog file is missing or stale.
func TestCatalogRebuildsFromScan(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.CreateBackup(context.Background(), "survivor", KindManual, false); err != nil {
		t.Fatalf("create backup: %v", err)
	}

	// Throw the catalog file away and reopen.
	if err := os.Remove(filepath.Join(env.backupDir, "catalog.json")); err != nil {
		t.Fatalf("remove catalog: %v", err)
	}
	catalog, err := OpenCatalog(env.backupDir)
	if err != nil {
		t.Fatalf("reopen catalog: %v", err)
	}
	if !catalog.Contains("survivor") {
		t.Error("rescanned catalog lost the archive")
	}
}

// TestCatalogScanIgnoresStagingAndStrays tests that dot-prefixed staging
// directories and stray files are not treated as archives.
func TestCatalogScanIgnoresStagingAndStrays(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ".tmp-half-done"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	// A directory without a manifest is not an archive either.
	if err := os.MkdirAll(filepath.Join(dir, "random-dir"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	catalog, err := OpenCatalog(dir)
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	if got := len(catalog.List()); got != 0 {
		t.Errorf("expected empty catalog, got %d entries", got)
	}
}

// TestCatalogDirectoryNameWins tests that a renamed archive directory is
// catalogued under its directory name, not the manifest's recorded ID.
func TestCatalogDirectoryNameWins(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.CreateBackup(context.Background(), "original", KindManual, false); err != nil {
		t.Fatalf("create backup: %v", err)
	}
	if err := os.Rename(filepath.Join(env.backupDir, "original"), filepath.Join(env.backupDir, "renamed")); err != nil {
		t.Fatalf("rename: %v", err)
	}

	catalog, err := OpenCatalog(env.backupDir)
	if err != nil {
		t.Fatalf("reopen catalog: %v", err)
	}
	if !catalog.Contains("renamed") {
		t.Error("renamed archive not found under directory name")
	}
	if catalog.Contains("original") {
		t.Error("stale manifest ID still catalogued")
	}
}

// TestCatalogAppendConflict tests duplicate IDs are rejected.
func TestCatalogAppendConflict(t *testing.T) {
	catalog, err := OpenCatalog(t.TempDir())
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	a := Archive{ID: "x", CreatedAt: time.Now()}
	if err := catalog.Append(a); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := catalog.Append(a); !errors.Is(err, ErrNamingConflict) {
		t.Fatalf("expected ErrNamingConflict, got %v", err)
	}
}

// TestCatalogNewestVerified tests the newest verified lookup skips pending
// and failed archives.
func TestCatalogNewestVerified(t *testing.T) {
	catalog, err := OpenCatalog(t.TempDir())
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	now := time.Now()
	entries := []Archive{
		{ID: "verified-old", Status: StatusVerified, CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "pending-new", Status: StatusPending, CreatedAt: now},
		{ID: "verified-new", Status: StatusVerified, CreatedAt: now.Add(-time.Hour)},
	}
	for _, a := range entries {
		if err := catalog.Append(a); err != nil {
			t.Fatalf("append %s: %v", a.ID, err)
		}
	}

	got, ok := catalog.NewestVerified()
	if !ok {
		t.Fatal("expected a newest verified archive")
	}
	if got.ID != "verified-new" {
		t.Errorf("expected verified-new, got %s", got.ID)
	}
}

// TestCatalogGetMissing tests the not-found sentinel.
func TestCatalogGetMissing(t *testing.T) {
	catalog, err := OpenCatalog(t.TempDir())
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	if _, err := catalog.Get("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
