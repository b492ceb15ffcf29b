package backup

import "errors"

// Sentinel errors for the backup and restore lifecycle. Callers branch on
// these with errors.Is; the CLI maps them to stable exit codes.
var (
	// ErrStoreUnavailable means the live store could not be opened or pinged.
	ErrStoreUnavailable = errors.New("backup: store unavailable")

	// ErrDiskFull means a snapshot or copy ran out of space. The staging
	// directory is discarded and the catalog is untouched.
	ErrDiskFull = errors.New("backup: disk full")

	// ErrNamingConflict means the requested archive name already exists.
	ErrNamingConflict = errors.New("backup: archive name already exists")

	// ErrInconsistentSnapshot means the staged copy failed its immediate
	// re-verification and was discarded.
	ErrInconsistentSnapshot = errors.New("backup: inconsistent snapshot")

	// ErrArchiveCorrupt means an archive failed verification before a
	// restore; the live store has not been touched.
	ErrArchiveCorrupt = errors.New("backup: archive corrupt")

	// ErrDigestMismatch means a file's content no longer matches the digest
	// recorded in the manifest.
	ErrDigestMismatch = errors.New("backup: digest mismatch")

	// ErrMissingFile means the manifest lists a file the archive no longer
	// contains.
	ErrMissingFile = errors.New("backup: file missing from archive")

	// ErrQuiesceTimeout means the application did not quiesce within the
	// configured wait; the restore aborted before touching the store.
	ErrQuiesceTimeout = errors.New("backup: application quiesce timed out")

	// ErrRestoreVerificationFailed means the swapped-in store failed its
	// post-restore check and the original was rolled back.
	ErrRestoreVerificationFailed = errors.New("backup: restored store failed verification")

	// ErrAmbiguousRestoreTarget means no single archive was selected for
	// the restore.
	ErrAmbiguousRestoreTarget = errors.New("backup: ambiguous restore target")

	// ErrOperationInProgress means another backup or restore holds the
	// store lock.
	ErrOperationInProgress = errors.New("backup: operation already in progress")

	// ErrNotFound means no archive with the given ID exists in the catalog.
	ErrNotFound = errors.New("backup: archive not found")
)
