package backup

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/TXBk0032-1/SisterOS/internal/store"
)

// testEnv is a seeded store, a config tree and an engine over temp dirs.
type testEnv struct {
	storePath string
	configDir string
	backupDir string
	st        *store.Store
	engine    *Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	env := &testEnv{
		storePath: filepath.Join(root, "data", "sisteros.db"),
		configDir: filepath.Join(root, "config"),
		backupDir: filepath.Join(root, "backups"),
	}
	if err := os.MkdirAll(filepath.Dir(env.storePath), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	seedStoreFile(t, env.storePath)

	if err := os.MkdirAll(filepath.Join(env.configDir, "printers"), 0o755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	writeFile(t, filepath.Join(env.configDir, "settings.yaml"), "currency: EUR\n")
	writeFile(t, filepath.Join(env.configDir, "printers", "receipt.yaml"), "device: /dev/usb/lp0\n")

	env.st = store.New(env.storePath)
	engine, err := NewEngine(EngineConfig{
		BackupDir: env.backupDir,
		Store:     env.st,
		ConfigDir: env.configDir,
		Verify:    true,
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	env.engine = engine
	return env
}

func seedStoreFile(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer func() { _ = db.Close() }()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sales (id INTEGER PRIMARY KEY, total REAL NOT NULL)`,
		`INSERT INTO sales (total) VALUES (12.50), (8.00)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed database: %v", err)
		}
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// TestCreateBackup tests the happy path: a verified archive with the store
// and the full config tree.
func TestCreateBackup(t *testing.T) {
	env := newTestEnv(t)

	archive, err := env.engine.CreateBackup(context.Background(), "nightly", KindManual, false)
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}

	if archive.Status != StatusVerified {
		t.Errorf("expected verified status, got %s", archive.Status)
	}
	if archive.ID != "nightly" {
		t.Errorf("expected ID nightly, got %s", archive.ID)
	}
	if archive.SizeBytes <= 0 {
		t.Errorf("expected positive size, got %d", archive.SizeBytes)
	}
	if archive.RowCounts["sales"] != 2 {
		t.Errorf("expected 2 sales rows recorded, got %d", archive.RowCounts["sales"])
	}

	dir := archive.Dir(env.backupDir)
	for _, rel := range []string{"store.db", "manifest.json", "config/settings.yaml", "config/printers/receipt.yaml"} {
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(rel))); err != nil {
			t.Errorf("archive missing %s: %v", rel, err)
		}
	}

	// The archived store copy must itself be a healthy database.
	if err := store.IntegrityCheck(context.Background(), filepath.Join(dir, "store.db")); err != nil {
		t.Errorf("archived store unhealthy: %v", err)
	}
}

// TestCreateBackupGeneratedName tests that an empty name gets a timestamped
// one carrying the archive kind.
func TestCreateBackupGeneratedName(t *testing.T) {
	env := newTestEnv(t)

	archive, err := env.engine.CreateBackup(context.Background(), "", KindAuto, false)
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}
	if archive.ID == "" {
		t.Fatal("expected generated archive ID")
	}
	if archive.Kind != KindAuto {
		t.Errorf("expected auto kind, got %s", archive.Kind)
	}
}

// TestCreateBackupNamingConflict tests that reusing a name fails cleanly.
func TestCreateBackupNamingConflict(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.engine.CreateBackup(context.Background(), "dup", KindManual, false); err != nil {
		t.Fatalf("first backup: %v", err)
	}
	_, err := env.engine.CreateBackup(context.Background(), "dup", KindManual, false)
	if !errors.Is(err, ErrNamingConflict) {
		t.Fatalf("expected ErrNamingConflict, got %v", err)
	}

	// The failed attempt must not damage the existing archive.
	archive, err := env.engine.Catalog().Get("dup")
	if err != nil {
		t.Fatalf("existing archive lost: %v", err)
	}
	if err := (Verifier{}).Verify(context.Background(), archive.Dir(env.backupDir), &archive); err != nil {
		t.Errorf("existing archive damaged: %v", err)
	}
}

// TestCreateBackupEmptyStore tests that a zero-length store file archives
// as an explicit empty-store snapshot.
func TestCreateBackupEmptyStore(t *testing.T) {
	env := newTestEnv(t)
	if err := os.Truncate(env.storePath, 0); err != nil {
		t.Fatalf("truncate store: %v", err)
	}

	archive, err := env.engine.CreateBackup(context.Background(), "empty", KindManual, false)
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}
	if !archive.EmptyStore {
		t.Error("expected EmptyStore flag")
	}
	if archive.Status != StatusVerified {
		t.Errorf("expected verified status, got %s", archive.Status)
	}
}

// TestCreateBackupLeavesNoStagingOnFailure tests that a failed backup
// leaves neither a catalog entry nor stray directories.
func TestCreateBackupLeavesNoStagingOnFailure(t *testing.T) {
	env := newTestEnv(t)
	// Corrupt the store so the snapshot fails.
	writeFile(t, env.storePath, "not a database")

	_, err := env.engine.CreateBackup(context.Background(), "broken", KindManual, false)
	if err == nil {
		t.Fatal("expected snapshot failure")
	}

	if env.engine.Catalog().Contains("broken") {
		t.Error("failed backup left a catalog entry")
	}
	entries, readErr := os.ReadDir(env.backupDir)
	if readErr != nil {
		t.Fatalf("read backup dir: %v", readErr)
	}
	for _, entry := range entries {
		if entry.IsDir() && entry.Name() != "catalog.json" {
			t.Errorf("failed backup left directory %s", entry.Name())
		}
	}
}

// TestDeleteBackupRefusesNewestVerified tests the guard on the last known
// good archive.
func TestDeleteBackupRefusesNewestVerified(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.CreateBackup(context.Background(), "only", KindManual, false); err != nil {
		t.Fatalf("create backup: %v", err)
	}

	if err := env.engine.DeleteBackup("only", false); err == nil {
		t.Fatal("expected refusal to delete the newest verified archive")
	}
	if err := env.engine.DeleteBackup("only", true); err != nil {
		t.Fatalf("forced delete: %v", err)
	}
	if env.engine.Catalog().Contains("only") {
		t.Error("archive still in catalog after forced delete")
	}
}

// TestCleanupDryRun tests that dry-run reports candidates without deleting
// and a repeat run reports the same set.
func TestCleanupDryRun(t *testing.T) {
	env := newTestEnv(t)
	for _, name := range []string{"one", "two", "three"} {
		if _, err := env.engine.CreateBackup(context.Background(), name, KindManual, false); err != nil {
			t.Fatalf("create backup %s: %v", name, err)
		}
	}
	env.engine.SetRule(RetentionRule{MaxCount: 1})

	first, err := env.engine.Cleanup(context.Background(), true)
	if err != nil {
		t.Fatalf("dry-run: %v", err)
	}
	second, err := env.engine.Cleanup(context.Background(), true)
	if err != nil {
		t.Fatalf("second dry-run: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("dry-run not idempotent: %d vs %d candidates", len(first), len(second))
	}
	if len(env.engine.ListBackups()) != 3 {
		t.Error("dry-run deleted archives")
	}

	if _, err := env.engine.Cleanup(context.Background(), false); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if got := len(env.engine.ListBackups()); got != 1 {
		t.Errorf("expected 1 archive after cleanup, got %d", got)
	}
}

// TestNonBlockingBackupWhileLocked tests fail-fast behavior while another
// operation holds the store lock.
func TestNonBlockingBackupWhileLocked(t *testing.T) {
	env := newTestEnv(t)

	release, ok := env.engine.Lock().TryAcquire()
	if !ok {
		t.Fatal("could not take store lock")
	}
	defer release()

	_, err := env.engine.CreateBackup(context.Background(), "blocked", KindManual, true)
	if !errors.Is(err, ErrOperationInProgress) {
		t.Fatalf("expected ErrOperationInProgress, got %v", err)
	}
}
