// Package backup implements point-in-time, integrity-verified archives of
// the SisterOS store and configuration tree: snapshot creation, cataloging,
// retention, and safe restore with automatic rollback.
package backup

import (
	"path/filepath"
	"time"
)

// Names inside an archive directory and the backup directory.
const (
	manifestName  = "manifest.json"
	catalogName   = "catalog.json"
	storeFileName = "store.db"
	configSubdir  = "config"
	stagingPrefix = ".tmp-"

	// displacedStoreName is the moved-aside live store parked inside the
	// safety archive after a committed restore. Outside manifest
	// accounting; reclaimed when retention prunes the safety archive.
	displacedStoreName = "displaced-store.db"
)

// ArchiveStatus is the lifecycle state of an archive.
type ArchiveStatus string

const (
	StatusPending  ArchiveStatus = "pending"
	StatusComplete ArchiveStatus = "complete"
	StatusVerified ArchiveStatus = "verified"
	StatusFailed   ArchiveStatus = "failed"
)

// ArchiveKind records why an archive was taken.
type ArchiveKind string

const (
	KindManual ArchiveKind = "manual"
	KindAuto   ArchiveKind = "auto"
	KindSafety ArchiveKind = "safety" // automatic pre-restore backup
)

// FileEntry describes one file captured in an archive.
type FileEntry struct {
	RelPath   string `json:"rel_path"`
	SizeBytes int64  `json:"size_bytes"`
	Digest    string `json:"digest"` // hex SHA-256 of the file content
}

// Archive is the immutable metadata of one snapshot. It is serialized as
// manifest.json inside the archive directory and mirrored in the catalog.
// Never mutated after reaching StatusVerified.
type Archive struct {
	ID         string           `json:"id"`
	Kind       ArchiveKind      `json:"kind"`
	CreatedAt  time.Time        `json:"created_at"`
	Status     ArchiveStatus    `json:"status"`
	SizeBytes  int64            `json:"size_bytes"`
	Digest     string           `json:"digest"` // archive digest over all file digests
	EmptyStore bool             `json:"empty_store,omitempty"`
	Files      []FileEntry      `json:"files"`
	RowCounts  map[string]int64 `json:"row_counts,omitempty"`
}

// Dir returns the archive's directory under backupDir.
func (a *Archive) Dir(backupDir string) string {
	return filepath.Join(backupDir, a.ID)
}

// StoreEntry returns the manifest entry for the snapshotted store file.
func (a *Archive) StoreEntry() (FileEntry, bool) {
	for _, f := range a.Files {
		if f.RelPath == storeFileName {
			return f, true
		}
	}
	return FileEntry{}, false
}

// RestoreState is one step of the restore state machine. Transitions only
// move forward; failed plans end in StateRolledBack.
type RestoreState string

const (
	StateValidated  RestoreState = "validated"
	StateQuiesced   RestoreState = "quiesced"
	StateSwapped    RestoreState = "swapped"
	StateVerified   RestoreState = "verified"
	StateCommitted  RestoreState = "committed"
	StateFailed     RestoreState = "failed"
	StateRolledBack RestoreState = "rolled_back"
)

// RestorePlan tracks one restore invocation from validation to a terminal
// state. Discarded after completion; while in flight its target and safety
// archives are pinned against retention.
type RestorePlan struct {
	ID        string
	TargetID  string
	SafetyID  string
	State     RestoreState
	StartedAt time.Time
	Err       string
}
