package memory

import (
	"context"
	"time"
)

// Metadata is the persisted state the engine tracks per record.
// ExpiresAt is set if and only if the tier is silent or ephemeral.
type Metadata struct {
	Tier               Tier       `json:"tier"`
	Score              int        `json:"score"`
	Source             Source     `json:"source"`
	CreatedAt          time.Time  `json:"createdAt"`
	ExpiresAt          *time.Time `json:"expiresAt,omitempty"`
	ReinforcementCount int        `json:"reinforcementCount"`
	LastReinforced     *time.Time `json:"lastReinforced,omitempty"`
	DowngradedFrom     Tier       `json:"downgradedFrom,omitempty"`
}

// Record is a stored memory as returned by recall/list/related calls.
// Relevance is a [0,1] similarity against the query; it is 0 for calls
// that have no query to rank against.
type Record struct {
	ID        string   `json:"id"`
	Content   string   `json:"content"`
	Relevance float64  `json:"relevanceScore"`
	Meta      Metadata `json:"metadata"`
}

// RecallOptions bounds a recall query. A zero Tier means no tier filter.
type RecallOptions struct {
	Limit int
	Tier  Tier
}

// CleanupStats reports one expiry sweep.
type CleanupStats struct {
	Deleted  int `json:"deleted"`
	Upgraded int `json:"upgraded"`
}

// Health is the backend's self-report.
type Health struct {
	Healthy bool   `json:"healthy"`
	Backend string `json:"backend"`
}

// Store is the contract this engine requires from a memory backend.
// Implementations must make Update and Cleanup idempotent: re-promoting
// an already-silent record is a no-op, not an error. Update on a missing
// id is an error the caller must catch.
type Store interface {
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error

	Store(ctx context.Context, content string, meta Metadata) (string, error)
	Recall(ctx context.Context, query string, opts RecallOptions) ([]Record, error)
	List(ctx context.Context, limit int, tier Tier) ([]Record, error)
	Update(ctx context.Context, id, content string, meta Metadata) error
	Forget(ctx context.Context, id string) error
	Related(ctx context.Context, id string, depth int) ([]Record, error)

	Cleanup(ctx context.Context) (CleanupStats, error)
	HealthCheck(ctx context.Context) (Health, error)
}
