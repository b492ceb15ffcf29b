package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/TXBk0032-1/SisterOS/internal/appctl"
	"github.com/TXBk0032-1/SisterOS/internal/store"
)

// Coordinator drives the restore state machine: validate the archive, take
// a safety snapshot, quiesce the application, swap the live store, verify,
// and either commit or roll back. The live store is never left in a
// known-bad state: any failure after the swap restores the moved-aside
// original before the error surfaces.
type Coordinator struct {
	engine         *Engine
	app            *appctl.Client
	quiesceTimeout time.Duration
	probeTimeout   time.Duration
	log            zerolog.Logger

	// afterSwap, when non-nil, runs after the archived store is placed at
	// the live path and before it is verified. Tests use it to model a
	// torn copy.
	afterSwap func(storePath string)
}

// NewCoordinator returns a restore coordinator sharing the engine's catalog
// and store lock.
func NewCoordinator(engine *Engine, app *appctl.Client, quiesceTimeout, probeTimeout time.Duration, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		engine:         engine,
		app:            app,
		quiesceTimeout: quiesceTimeout,
		probeTimeout:   probeTimeout,
		log:            log,
	}
}

// Restore runs the full state machine for the named archive. The returned
// plan carries the terminal state; on error the plan's State is StateFailed
// or StateRolledBack. With nonBlocking set, a busy store lock fails fast
// with ErrOperationInProgress.
func (c *Coordinator) Restore(ctx context.Context, archiveID string, nonBlocking bool) (*RestorePlan, error) {
	if archiveID == "" {
		return nil, ErrAmbiguousRestoreTarget
	}

	plan := &RestorePlan{
		ID:        uuid.NewString(),
		TargetID:  archiveID,
		StartedAt: time.Now(),
	}

	var release func()
	if nonBlocking {
		var ok bool
		if release, ok = c.engine.lock.TryAcquire(); !ok {
			return plan, ErrOperationInProgress
		}
	} else {
		var err error
		if release, err = c.engine.lock.Acquire(ctx); err != nil {
			return plan, err
		}
	}
	defer release()

	c.engine.pin(archiveID)
	defer func() { c.engine.unpin(plan.TargetID, plan.SafetyID) }()

	err := c.run(ctx, plan)
	if err != nil && plan.State != StateRolledBack {
		plan.State = StateFailed
	}
	if err != nil {
		plan.Err = err.Error()
	}
	return plan, err
}

func (c *Coordinator) run(ctx context.Context, plan *RestorePlan) error {
	log := c.log.With().Str("plan", plan.ID).Str("archive", plan.TargetID).Logger()

	// VALIDATED: restore never proceeds on a failed verification.
	archive, err := c.engine.catalog.Get(plan.TargetID)
	if err != nil {
		return err
	}
	archiveDir := archive.Dir(c.engine.dir)
	if err := c.engine.verifier.Verify(ctx, archiveDir, &archive); err != nil {
		return fmt.Errorf("%w: %v", ErrArchiveCorrupt, err)
	}
	plan.State = StateValidated
	log.Info().Msg("restore: archive validated")

	// Safety snapshot before any destructive step. Never skipped.
	safety, err := c.engine.createLocked(ctx, timestampName("safety", time.Now()), KindSafety)
	if err != nil {
		return fmt.Errorf("safety backup: %w", err)
	}
	plan.SafetyID = safety.ID
	c.engine.pin(safety.ID)
	log.Info().Str("safety", safety.ID).Msg("restore: safety backup created")

	// QUIESCED: pause application writes, bounded wait. If no application
	// endpoint is configured or the application is down, nothing is
	// writing and the restore proceeds.
	resume := func() {}
	if c.app.Configured() {
		probeCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
		alive := c.app.Alive(probeCtx)
		cancel()
		if alive {
			quiesceCtx, cancel := context.WithTimeout(ctx, c.quiesceTimeout)
			err := c.app.Quiesce(quiesceCtx)
			cancel()
			if err != nil {
				return fmt.Errorf("%w: %v", ErrQuiesceTimeout, err)
			}
			resume = func() {
				resumeCtx, cancel := context.WithTimeout(context.Background(), c.quiesceTimeout)
				defer cancel()
				if err := c.app.Resume(resumeCtx); err != nil {
					log.Warn().Err(err).Msg("restore: resume failed, application must be resumed by hand")
				}
			}
		}
	}
	defer resume()
	plan.State = StateQuiesced
	log.Info().Msg("restore: application quiesced")

	if err := ctx.Err(); err != nil {
		return err
	}

	// SWAPPED: move the live store aside (never delete it), place the
	// archived copy at the live path.
	storePath := c.engine.st.Path()
	asidePath := storePath + ".pre-restore"
	hadOriginal := false
	if _, err := os.Stat(storePath); err == nil {
		if err := os.Rename(storePath, asidePath); err != nil {
			return fmt.Errorf("move store aside: %w", err)
		}
		hadOriginal = true
	}

	rollback := func() {
		_ = os.Remove(storePath)
		if hadOriginal {
			if err := os.Rename(asidePath, storePath); err != nil {
				log.Error().Err(err).Str("aside", asidePath).Msg("restore: ROLLBACK FAILED, original store left aside")
				return
			}
		}
		plan.State = StateRolledBack
		log.Warn().Msg("restore: rolled back to pre-restore store")
	}

	if err := copyFile(filepath.Join(archiveDir, storeFileName), storePath); err != nil {
		rollback()
		return fmt.Errorf("place archived store: %w", err)
	}
	plan.State = StateSwapped
	log.Info().Msg("restore: store swapped")
	if c.afterSwap != nil {
		c.afterSwap(storePath)
	}

	// VERIFIED: the live bytes must re-digest to what the archive recorded
	// and pass the structural check. Mismatch means automatic rollback.
	if err := c.verifySwapped(ctx, &archive, storePath); err != nil {
		rollback()
		return fmt.Errorf("%w: %v", ErrRestoreVerificationFailed, err)
	}
	plan.State = StateVerified
	log.Info().Msg("restore: post-swap verification passed")

	// COMMITTED: park the moved-aside original under the safety archive so
	// retention reclaims it later, then let the application resume.
	if hadOriginal {
		parked := filepath.Join(safety.Dir(c.engine.dir), displacedStoreName)
		if err := os.Rename(asidePath, parked); err != nil {
			// Not worth failing a verified restore over; the aside copy
			// just stays next to the store.
			log.Warn().Err(err).Msg("restore: could not park displaced store under safety archive")
		}
	}
	c.restoreConfigTree(ctx, &archive, archiveDir, log)
	plan.State = StateCommitted
	log.Info().Msg("restore: committed")
	return nil
}

// verifySwapped checks the live store against the archive's recorded
// digest for the snapshotted store file.
func (c *Coordinator) verifySwapped(ctx context.Context, archive *Archive, storePath string) error {
	entry, ok := archive.StoreEntry()
	if !ok {
		return fmt.Errorf("archive has no store entry")
	}
	got, err := c.engine.verifier.Digest(storePath)
	if err != nil {
		return err
	}
	if got != entry.Digest {
		return fmt.Errorf("%w: live store", ErrDigestMismatch)
	}
	if !archive.EmptyStore {
		if err := store.IntegrityCheck(ctx, storePath); err != nil {
			return err
		}
	}
	return nil
}

// restoreConfigTree copies archived configuration files back to the config
// directory. Runs after the store is verified; a failure here leaves a good
// store and is reported, not fatal.
func (c *Coordinator) restoreConfigTree(ctx context.Context, archive *Archive, archiveDir string, log zerolog.Logger) {
	configDir := c.engine.snapshotter.configDir
	if configDir == "" {
		return
	}
	for _, f := range archive.Files {
		if f.RelPath == storeFileName {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		rel, err := filepath.Rel(configSubdir, filepath.FromSlash(f.RelPath))
		if err != nil {
			continue
		}
		target := filepath.Join(configDir, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			log.Warn().Err(err).Str("file", f.RelPath).Msg("restore: config file skipped")
			continue
		}
		if err := copyFile(filepath.Join(archiveDir, filepath.FromSlash(f.RelPath)), target); err != nil {
			log.Warn().Err(err).Str("file", f.RelPath).Msg("restore: config file skipped")
		}
	}
}
