package memory

import (
	"context"
	"log"
	"time"

	"github.com/driftwoodlabs/retain/internal/config"
)

// Ephemeral records considered per reinforcement sweep, newest first.
const reinforcementBatchLimit = 50

// ReinforcementStats reports one reinforcement sweep. Downgraded is
// always 0 for now: the symmetric silent->ephemeral downgrade is a
// known extension point, not yet implemented.
type ReinforcementStats struct {
	Upgraded   int `json:"upgraded"`
	Downgraded int `json:"downgraded"`
}

// Lifecycle runs the periodic expiry and reinforcement sweeps. Both are
// idempotent and safe to re-run after a partial failure.
type Lifecycle struct {
	store Store
	cfgFn func() config.ScoringConfig
}

func NewLifecycle(st Store, cfgFn func() config.ScoringConfig) *Lifecycle {
	return &Lifecycle{store: st, cfgFn: cfgFn}
}

// CleanupExpired delegates the expiry sweep to the store, which owns
// the delete-or-promote decision as a bulk operation. Backend errors
// are logged and reported as zero counts, never propagated.
func (l *Lifecycle) CleanupExpired(ctx context.Context) CleanupStats {
	stats, err := l.store.Cleanup(ctx)
	if err != nil {
		log.Printf("[lifecycle] cleanup failed: %v", err)
		return CleanupStats{}
	}
	if stats.Deleted > 0 || stats.Upgraded > 0 {
		log.Printf("[lifecycle] cleanup: deleted=%d upgraded=%d", stats.Deleted, stats.Upgraded)
	}
	return stats
}

// ProcessReinforcements promotes ephemeral records that have related
// neighbors to the silent tier. Records are processed in isolation: one
// record's failure never aborts the rest of the batch.
func (l *Lifecycle) ProcessReinforcements(ctx context.Context) ReinforcementStats {
	records, err := l.store.List(ctx, reinforcementBatchLimit, TierEphemeral)
	if err != nil {
		log.Printf("[lifecycle] list ephemeral failed: %v", err)
		return ReinforcementStats{}
	}

	cfg := l.cfgFn()
	stats := ReinforcementStats{}
	for _, rec := range records {
		related, err := l.store.Related(ctx, rec.ID, 1)
		if err != nil {
			log.Printf("[lifecycle] related lookup for %s failed: %v", rec.ID, err)
			continue
		}
		if len(related) == 0 {
			continue
		}

		if err := l.promote(ctx, rec, cfg); err != nil {
			log.Printf("[lifecycle] promote %s failed: %v", rec.ID, err)
			continue
		}
		stats.Upgraded++
	}

	if stats.Upgraded > 0 {
		log.Printf("[lifecycle] reinforcement: upgraded=%d", stats.Upgraded)
	}
	return stats
}

func (l *Lifecycle) promote(ctx context.Context, rec Record, cfg config.ScoringConfig) error {
	now := time.Now().UTC()
	expires := now.Add(time.Duration(cfg.DefaultSilentDays) * 24 * time.Hour)

	meta := rec.Meta
	meta.Tier = TierSilent
	meta.ExpiresAt = &expires
	meta.ReinforcementCount++
	meta.LastReinforced = &now

	return l.store.Update(ctx, rec.ID, rec.Content, meta)
}
