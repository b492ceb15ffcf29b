package backup

import (
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// RetentionRule holds the pruning policy parameters. Zero values disable
// the corresponding pass. Whatever the parameters, the most recent
// verified archive is never eligible.
type RetentionRule struct {
	KeepMostRecent int // newest N archives always survive
	KeepDailyFor   int // keep one archive per calendar day this many days back
	MaxAgeDays     int // absolute ceiling: applied after the passes above
	MaxCount       int // total archive cap, oldest pruned first
}

// PlanPrune returns the archives a prune would delete, oldest first. Pure
// and deterministic over its inputs: running it twice over the same catalog
// yields the identical candidate list, which dry-run mode relies on.
// Archives whose IDs appear in pinned (in-flight restore references) are
// never candidates.
func PlanPrune(archives []Archive, rule RetentionRule, pinned map[string]struct{}, now time.Time) []Archive {
	sorted := make([]Archive, len(archives))
	copy(sorted, archives)
	sortNewestFirst(sorted)

	protected := map[string]struct{}{}
	for id := range pinned {
		protected[id] = struct{}{}
	}
	for i, a := range sorted {
		if i < rule.KeepMostRecent {
			protected[a.ID] = struct{}{}
		}
	}
	for _, a := range sorted {
		if a.Status == StatusVerified {
			protected[a.ID] = struct{}{} // newest verified, list is sorted
			break
		}
	}

	doomed := map[string]struct{}{}

	// Per-day thinning: within the daily window, the newest archive of each
	// calendar day survives, the rest go.
	if rule.KeepDailyFor > 0 {
		dailyCutoff := now.AddDate(0, 0, -rule.KeepDailyFor)
		seenDay := map[string]struct{}{}
		for _, a := range sorted {
			if _, ok := protected[a.ID]; ok {
				continue
			}
			if a.CreatedAt.Before(dailyCutoff) {
				continue
			}
			day := a.CreatedAt.Format("2006-01-02")
			if _, ok := seenDay[day]; ok {
				doomed[a.ID] = struct{}{}
			} else {
				seenDay[day] = struct{}{}
			}
		}
	}

	// Age ceiling. Applied after the daily pass: MaxAge overrides a per-day
	// keep, never the other way around.
	if rule.MaxAgeDays > 0 {
		ageCutoff := now.AddDate(0, 0, -rule.MaxAgeDays)
		for _, a := range sorted {
			if _, ok := protected[a.ID]; ok {
				continue
			}
			if a.CreatedAt.Before(ageCutoff) {
				doomed[a.ID] = struct{}{}
			}
		}
	}

	// Total cap, oldest first among survivors.
	if rule.MaxCount > 0 {
		surviving := 0
		for _, a := range sorted {
			if _, ok := doomed[a.ID]; !ok {
				surviving++
			}
		}
		for i := len(sorted) - 1; i >= 0 && surviving > rule.MaxCount; i-- {
			a := sorted[i]
			if _, ok := protected[a.ID]; ok {
				continue
			}
			if _, ok := doomed[a.ID]; ok {
				continue
			}
			doomed[a.ID] = struct{}{}
			surviving--
		}
	}

	var out []Archive
	for _, a := range sorted {
		if _, ok := doomed[a.ID]; ok {
			out = append(out, a)
		}
	}
	// Oldest first, so a partial failure leaves the more valuable archives.
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// prune logs the candidate list, then deletes archive directories and
// catalog entries. Advisory logging happens before any physical delete so
// the log records intent even if deletion dies halfway.
func (e *Engine) prune(log zerolog.Logger) []string {
	candidates := PlanPrune(e.catalog.List(), e.currentRule(), e.pinnedIDs(), time.Now())
	if len(candidates) == 0 {
		return nil
	}

	for _, a := range candidates {
		log.Info().Str("archive", a.ID).Time("created_at", a.CreatedAt).Msg("retention: pruning")
	}

	var deleted []string
	for _, a := range candidates {
		if err := os.RemoveAll(a.Dir(e.dir)); err != nil {
			log.Warn().Err(err).Str("archive", a.ID).Msg("retention: delete failed")
			continue
		}
		if err := e.catalog.Remove(a.ID); err != nil {
			log.Warn().Err(err).Str("archive", a.ID).Msg("retention: catalog update failed")
			continue
		}
		deleted = append(deleted, a.ID)
	}
	return deleted
}
