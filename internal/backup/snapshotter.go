package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/TXBk0032-1/SisterOS/internal/store"
)

// Snapshotter copies the live store and the application configuration tree
// into an archive staging directory. The store copy goes through SQLite's
// VACUUM INTO, which reads from a single transaction and therefore stays
// consistent under concurrent application writes; a copy that cannot be
// taken consistently fails with ErrInconsistentSnapshot instead of
// producing a possibly-torn archive.
type Snapshotter struct {
	store     *store.Store
	configDir string // optional; empty skips the config tree
	verifier  Verifier
}

// NewSnapshotter returns a snapshotter for the given store and config tree.
func NewSnapshotter(st *store.Store, configDir string) *Snapshotter {
	return &Snapshotter{store: st, configDir: configDir}
}

// Snapshot fills staging with a point-in-time copy and returns the file
// entries (relative paths, sizes, content digests) plus whether the source
// store was empty. Cancellation is honored between files, never mid-copy.
func (s *Snapshotter) Snapshot(ctx context.Context, staging string) ([]FileEntry, bool, error) {
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, false, mapDiskErr(err)
	}

	var files []FileEntry

	empty, err := s.snapshotStore(ctx, staging)
	if err != nil {
		return nil, false, err
	}
	entry, err := s.fileEntry(staging, storeFileName)
	if err != nil {
		return nil, false, err
	}
	files = append(files, entry)

	if s.configDir != "" {
		configFiles, err := s.copyTree(ctx, s.configDir, filepath.Join(staging, configSubdir))
		if err != nil {
			return nil, false, err
		}
		files = append(files, configFiles...)
	}

	return files, empty, nil
}

// snapshotStore copies the store into staging. A zero-length source is not
// an error: an empty placeholder is written and flagged to the caller.
func (s *Snapshotter) snapshotStore(ctx context.Context, staging string) (empty bool, err error) {
	dest := filepath.Join(staging, storeFileName)

	info, err := os.Stat(s.store.Path())
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if info.Size() == 0 {
		if err := os.WriteFile(dest, nil, 0o644); err != nil {
			return false, mapDiskErr(err)
		}
		return true, nil
	}

	if err := s.store.SnapshotInto(ctx, dest); err != nil {
		if isDiskFull(err) {
			return false, fmt.Errorf("%w: %v", ErrDiskFull, err)
		}
		return false, fmt.Errorf("%w: %v", ErrInconsistentSnapshot, err)
	}

	// The copy must be a readable database before it is worth digesting.
	if err := store.IntegrityCheck(ctx, dest); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInconsistentSnapshot, err)
	}
	return false, nil
}

// copyTree copies every regular file under src into dest byte-for-byte,
// returning manifest entries with digests. Checks ctx between files.
func (s *Snapshotter) copyTree(ctx context.Context, src, dest string) ([]FileEntry, error) {
	var files []FileEntry
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return mapDiskErr(err)
		}
		if err := copyFile(path, target); err != nil {
			return mapDiskErr(err)
		}

		entry, err := s.fileEntry(filepath.Dir(dest), filepath.ToSlash(filepath.Join(configSubdir, rel)))
		if err != nil {
			return err
		}
		files = append(files, entry)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			// No config tree yet on a fresh install.
			return nil, nil
		}
		return nil, err
	}
	return files, nil
}

// fileEntry stats and digests root/relPath.
func (s *Snapshotter) fileEntry(root, relPath string) (FileEntry, error) {
	path := filepath.Join(root, filepath.FromSlash(relPath))
	info, err := os.Stat(path)
	if err != nil {
		return FileEntry{}, err
	}
	digest, err := s.verifier.Digest(path)
	if err != nil {
		return FileEntry{}, err
	}
	return FileEntry{RelPath: relPath, SizeBytes: info.Size(), Digest: digest}, nil
}

// copyFile copies src to dest and syncs it. Destination is written whole or
// removed, never left partial.
func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dest)
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		_ = os.Remove(dest)
		return err
	}
	return out.Close()
}

// isDiskFull reports whether err is an out-of-space condition.
func isDiskFull(err error) bool {
	return errors.Is(err, syscall.ENOSPC)
}

// mapDiskErr rewraps out-of-space write failures as ErrDiskFull.
func mapDiskErr(err error) error {
	if err != nil && isDiskFull(err) {
		return fmt.Errorf("%w: %v", ErrDiskFull, err)
	}
	return err
}

// timestampName generates an archive name from the clock,
// prefix-YYYYMMDD-HHMMSS.
func timestampName(prefix string, now time.Time) string {
	return fmt.Sprintf("%s-%s", prefix, now.Format("20060102-150405"))
}
