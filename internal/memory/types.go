package memory

import "time"

// Tier is a retention class. A record's tier only moves upward
// (ephemeral -> silent -> explicit) through reinforcement; it never
// changes sideways without an explicit re-score.
type Tier string

const (
	TierExplicit  Tier = "explicit"
	TierSilent    Tier = "silent"
	TierEphemeral Tier = "ephemeral"
)

// ParseTier maps a tier name to its Tier value.
func ParseTier(s string) (Tier, bool) {
	switch Tier(s) {
	case TierExplicit, TierSilent, TierEphemeral:
		return Tier(s), true
	}
	return "", false
}

// Action is the storage action recommended to the caller.
type Action string

const (
	ActionStoreExplicit  Action = "store_explicit"
	ActionStoreSilent    Action = "store_silent"
	ActionStoreEphemeral Action = "store_ephemeral"
	ActionSkip           Action = "skip"
)

// Source records how a memory entered the store.
type Source string

const (
	SourceAutoCapture  Source = "auto_capture"
	SourceUserExplicit Source = "user_explicit"
	SourceAgentAuto    Source = "agent_auto"
)

// Segment is one role-tagged span of conversation text. Segments are
// built per capture event and discarded after scoring.
type Segment struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Factors holds the seven scoring signals, each normalized to [0,10].
type Factors struct {
	ExplicitEmphasis int
	EmotionalWeight  int
	FutureUtility    int
	Repetition       int
	TimeSensitivity  int
	ContextAnchoring int
	Novelty          int
}

// Result is the scoring output. ExpiresInHours is 0 for permanent
// (explicit-tier) results. Reasoning is for logs only, never parsed.
type Result struct {
	Score             int    `json:"score"`
	Tier              Tier   `json:"tier"`
	Reasoning         string `json:"reasoning"`
	ExpiresInHours    int    `json:"expiresInHours,omitempty"`
	RecommendedAction Action `json:"recommendedAction"`
}
