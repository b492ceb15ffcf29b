package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/TXBk0032-1/SisterOS/internal/store"
)

// Verifier computes and checks content digests for archives. SHA-256 is
// used throughout; identical content always yields the identical digest,
// which dedup and the test fixtures rely on.
type Verifier struct{}

// Digest returns the hex SHA-256 of the file at path.
func (Verifier) Digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ArchiveDigest derives the archive-level digest from the per-file digests:
// SHA-256 over "relpath:digest" lines in sorted path order. Deterministic
// for a given file set regardless of copy order.
func (Verifier) ArchiveDigest(files []FileEntry) string {
	lines := make([]string, 0, len(files))
	for _, f := range files {
		lines = append(lines, f.RelPath+":"+f.Digest)
	}
	sort.Strings(lines)

	h := sha256.New()
	for _, line := range lines {
		_, _ = io.WriteString(h, line+"\n")
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Verify re-digests every file the archive's manifest records and checks
// the archive digest. The snapshotted store additionally passes SQLite's
// integrity check. Returns nil, ErrMissingFile or ErrDigestMismatch.
func (v Verifier) Verify(ctx context.Context, dir string, a *Archive) error {
	for _, entry := range a.Files {
		path := filepath.Join(dir, filepath.FromSlash(entry.RelPath))
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("%w: %s", ErrMissingFile, entry.RelPath)
		}
		got, err := v.Digest(path)
		if err != nil {
			return fmt.Errorf("digest %s: %w", entry.RelPath, err)
		}
		if got != entry.Digest {
			return fmt.Errorf("%w: %s", ErrDigestMismatch, entry.RelPath)
		}
	}

	if got := v.ArchiveDigest(a.Files); got != a.Digest {
		return fmt.Errorf("%w: archive digest", ErrDigestMismatch)
	}

	if !a.EmptyStore {
		if _, ok := a.StoreEntry(); ok {
			if err := store.IntegrityCheck(ctx, filepath.Join(dir, storeFileName)); err != nil {
				return fmt.Errorf("%w: %v", ErrDigestMismatch, err)
			}
		}
	}
	return nil
}
