package backup

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/TXBk0032-1/SisterOS/internal/store"
)

// Engine orchestrates snapshot creation, naming, cataloging, integrity
// stamping and retention enforcement over a backup directory.
type Engine struct {
	dir         string
	st          *store.Store
	snapshotter *Snapshotter
	verifier    Verifier
	catalog     *Catalog
	rule        RetentionRule
	verify      bool
	lock        *StoreLock
	log         zerolog.Logger

	pinMu sync.Mutex
	pins  map[string]struct{} // archive IDs referenced by in-flight restores
}

// EngineConfig assembles an Engine.
type EngineConfig struct {
	BackupDir string
	Store     *store.Store
	ConfigDir string        // application config tree to include, may be empty
	Rule      RetentionRule // pruning policy applied after each backup
	Verify    bool          // re-digest archives after creation
	Lock      *StoreLock    // shared with the restore coordinator and sampler
	Logger    zerolog.Logger
}

// NewEngine opens the catalog for cfg.BackupDir and returns the engine. A
// backup directory that cannot be scanned is a fatal condition: proceeding
// would silently lose backup history.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.BackupDir == "" {
		return nil, fmt.Errorf("backup directory is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if err := os.MkdirAll(cfg.BackupDir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	catalog, err := OpenCatalog(cfg.BackupDir)
	if err != nil {
		return nil, err
	}

	lock := cfg.Lock
	if lock == nil {
		lock = &StoreLock{}
	}

	return &Engine{
		dir:         cfg.BackupDir,
		st:          cfg.Store,
		snapshotter: NewSnapshotter(cfg.Store, cfg.ConfigDir),
		catalog:     catalog,
		rule:        cfg.Rule,
		verify:      cfg.Verify,
		lock:        lock,
		log:         cfg.Logger,
		pins:        map[string]struct{}{},
	}, nil
}

// Catalog exposes the archive catalog for listing and lookups.
func (e *Engine) Catalog() *Catalog { return e.catalog }

// Lock exposes the store lock shared with the restore coordinator and the
// health sampler.
func (e *Engine) Lock() *StoreLock { return e.lock }

// CreateBackup takes a snapshot under the given name. An empty name is
// generated from the current timestamp. The store lock is held for the
// duration; with nonBlocking set, a held lock fails fast with
// ErrOperationInProgress instead of waiting.
func (e *Engine) CreateBackup(ctx context.Context, name string, kind ArchiveKind, nonBlocking bool) (*Archive, error) {
	var release func()
	if nonBlocking {
		var ok bool
		if release, ok = e.lock.TryAcquire(); !ok {
			return nil, ErrOperationInProgress
		}
	} else {
		var err error
		if release, err = e.lock.Acquire(ctx); err != nil {
			return nil, err
		}
	}
	defer release()

	return e.createLocked(ctx, name, kind)
}

// createLocked performs the backup with the store lock already held. The
// restore coordinator calls this directly for the safety snapshot.
//
// Failure at any step leaves no catalog entry and no final archive
// directory: work happens in a dot-prefixed staging directory that the
// catalog scan ignores, renamed into place only after verification.
func (e *Engine) createLocked(ctx context.Context, name string, kind ArchiveKind) (*Archive, error) {
	now := time.Now()
	if name == "" {
		name = timestampName(string(kind), now)
	}
	if e.catalog.Contains(name) {
		return nil, fmt.Errorf("%w: %s", ErrNamingConflict, name)
	}
	finalDir := (&Archive{ID: name}).Dir(e.dir)
	if _, err := os.Stat(finalDir); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrNamingConflict, name)
	}

	e.log.Info().Str("archive", name).Str("kind", string(kind)).Msg("backup: starting")

	staging := e.stagingPath(name)
	defer func() { _ = os.RemoveAll(staging) }()

	files, emptyStore, err := e.snapshotter.Snapshot(ctx, staging)
	if err != nil {
		return nil, err
	}

	archive := &Archive{
		ID:         name,
		Kind:       kind,
		CreatedAt:  now,
		Status:     StatusComplete,
		EmptyStore: emptyStore,
		Files:      files,
		Digest:     e.verifier.ArchiveDigest(files),
	}
	for _, f := range files {
		archive.SizeBytes += f.SizeBytes
	}
	if counts, err := e.st.RowCounts(ctx); err == nil {
		archive.RowCounts = counts
	}

	// Verified means the staged bytes re-digest to what was just recorded,
	// reading them back from disk.
	if e.verify {
		if err := e.verifier.Verify(ctx, staging, archive); err != nil {
			return nil, err
		}
		archive.Status = StatusVerified
	}

	if err := writeManifest(staging, archive); err != nil {
		return nil, err
	}
	if err := os.Rename(staging, finalDir); err != nil {
		return nil, mapDiskErr(err)
	}
	if err := e.catalog.Append(*archive); err != nil {
		// The directory landed but the catalog write failed; remove it so
		// the operation stays all-or-nothing.
		_ = os.RemoveAll(finalDir)
		return nil, err
	}

	e.log.Info().
		Str("archive", name).
		Int64("size_bytes", archive.SizeBytes).
		Str("status", string(archive.Status)).
		Msg("backup: complete")

	e.prune(e.log)
	return archive, nil
}

func (e *Engine) stagingPath(name string) string {
	return (&Archive{ID: stagingPrefix + name}).Dir(e.dir)
}

// ListBackups returns the catalog, newest first.
func (e *Engine) ListBackups() []Archive {
	return e.catalog.List()
}

// DeleteBackup removes an archive and its bytes. The single most recent
// verified archive is refused unless force is set.
func (e *Engine) DeleteBackup(id string, force bool) error {
	a, err := e.catalog.Get(id)
	if err != nil {
		return err
	}
	if !force {
		if newest, ok := e.catalog.NewestVerified(); ok && newest.ID == id {
			return fmt.Errorf("refusing to delete the most recent verified archive %s (use force)", id)
		}
	}
	if err := os.RemoveAll(a.Dir(e.dir)); err != nil {
		return err
	}
	return e.catalog.Remove(id)
}

// Cleanup runs the retention policy. With dryRun set it only returns the
// candidate list; otherwise it deletes and returns what was deleted.
func (e *Engine) Cleanup(ctx context.Context, dryRun bool) ([]Archive, error) {
	release, err := e.lock.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	candidates := PlanPrune(e.catalog.List(), e.currentRule(), e.pinnedIDs(), time.Now())
	if dryRun {
		return candidates, nil
	}
	deleted := e.prune(e.log)
	out := make([]Archive, 0, len(deleted))
	for _, c := range candidates {
		for _, id := range deleted {
			if c.ID == id {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

// SetRule replaces the retention rule (config hot reload).
func (e *Engine) SetRule(rule RetentionRule) {
	e.pinMu.Lock()
	defer e.pinMu.Unlock()
	e.rule = rule
}

func (e *Engine) currentRule() RetentionRule {
	e.pinMu.Lock()
	defer e.pinMu.Unlock()
	return e.rule
}

// pin marks archives as referenced by an in-flight restore.
func (e *Engine) pin(ids ...string) {
	e.pinMu.Lock()
	defer e.pinMu.Unlock()
	for _, id := range ids {
		if id != "" {
			e.pins[id] = struct{}{}
		}
	}
}

// unpin releases restore references.
func (e *Engine) unpin(ids ...string) {
	e.pinMu.Lock()
	defer e.pinMu.Unlock()
	for _, id := range ids {
		delete(e.pins, id)
	}
}

func (e *Engine) pinnedIDs() map[string]struct{} {
	e.pinMu.Lock()
	defer e.pinMu.Unlock()
	out := make(map[string]struct{}, len(e.pins))
	for id := range e.pins {
		out[id] = struct{}{}
	}
	return out
}
