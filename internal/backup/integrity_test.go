package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// TestVerifyDetectsTampering tests that modifying an archived file fails
// verification with a digest mismatch.
func TestVerifyDetectsTampering(t *testing.T) {
	env := newTestEnv(t)
	archive, err := env.engine.CreateBackup(context.Background(), "tamper", KindManual, false)
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}

	victim := filepath.Join(archive.Dir(env.backupDir), "config", "settings.yaml")
	if err := os.WriteFile(victim, []byte("currency: USD\n"), 0o644); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	err = Verifier{}.Verify(context.Background(), archive.Dir(env.backupDir), archive)
	if !errors.Is(err, ErrDigestMismatch) {
		t.Fatalf("expected ErrDigestMismatch, got %v", err)
	}
}

// TestVerifyDetectsMissingFile tests that a deleted archived file fails
// verification before any digesting.
func TestVerifyDetectsMissingFile(t *testing.T) {
	env := newTestEnv(t)
	archive, err := env.engine.CreateBackup(context.Background(), "gap", KindManual, false)
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}

	if err := os.Remove(filepath.Join(archive.Dir(env.backupDir), "config", "settings.yaml")); err != nil {
		t.Fatalf("remove: %v", err)
	}

	err = Verifier{}.Verify(context.Background(), archive.Dir(env.backupDir), archive)
	if !errors.Is(err, ErrMissingFile) {
		t.Fatalf("expected ErrMissingFile, got %v", err)
	}
}

// TestArchiveDigestOrderIndependent tests that the archive digest does not
// depend on file entry order.
func TestArchiveDigestOrderIndependent(t *testing.T) {
	files := []FileEntry{
		{RelPath: "store.db", Digest: "aaa"},
		{RelPath: "config/settings.yaml", Digest: "bbb"},
	}
	reversed := []FileEntry{files[1], files[0]}

	v := Verifier{}
	if v.ArchiveDigest(files) != v.ArchiveDigest(reversed) {
		t.Error("archive digest changed with entry order")
	}
}

// TestDigestStable tests that identical content yields identical digests.
func TestDigestStable(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	writeFile(t, a, "same content")
	writeFile(t, b, "same content")

	v := Verifier{}
	da, err := v.Digest(a)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	db, err := v.Digest(b)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if da != db {
		t.Errorf("identical content, different digests: %s vs %s", da, db)
	}
}
