package memory

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"

	"github.com/driftwoodlabs/retain/internal/config"
)

// Factor weights for the aggregate score. Not configurable: tuning
// happens through thresholds, not weights.
var factorWeights = struct {
	explicitEmphasis float64
	emotionalWeight  float64
	futureUtility    float64
	repetition       float64
	timeSensitivity  float64
	contextAnchoring float64
	novelty          float64
}{
	explicitEmphasis: 2.0,
	emotionalWeight:  1.5,
	futureUtility:    1.8,
	repetition:       1.3,
	timeSensitivity:  1.5,
	contextAnchoring: 1.2,
	novelty:          1.0,
}

// Scorer converts a conversation into an importance score and retention
// tier. It holds no mutable state beyond the config snapshot, so
// concurrent Score calls for different conversations are safe.
type Scorer struct {
	mu    sync.RWMutex
	cfg   config.ScoringConfig
	store Store
	model ModelScorer
}

// NewScorer constructs a scorer over the given store. The store may be
// nil: similarity factors then fall back to neutral values. A model
// scorer may be nil: the heuristic pipeline then always runs.
func NewScorer(cfg config.ScoringConfig, st Store, model ModelScorer) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scoring config: %w", err)
	}
	return &Scorer{cfg: cfg, store: st, model: model}, nil
}

// Config returns the current config snapshot.
func (s *Scorer) Config() config.ScoringConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// UpdateConfig swaps the config wholesale so readers never observe a
// half-updated threshold pair. An invalid threshold pair in the update
// is rejected: the previous pair is retained and the rest of the update
// still applies.
func (s *Scorer) UpdateConfig(next config.ScoringConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := next.Validate(); err != nil {
		log.Printf("[scorer] rejecting thresholds in config update, keeping previous pair: %v", err)
		next.ExplicitThreshold = s.cfg.ExplicitThreshold
		next.EphemeralThreshold = s.cfg.EphemeralThreshold
		if err := next.Validate(); err != nil {
			// Some other field is the problem; keep its previous value too.
			if next.DefaultEphemeralHours < 1 {
				next.DefaultEphemeralHours = s.cfg.DefaultEphemeralHours
			}
			if next.DefaultSilentDays < 1 {
				next.DefaultSilentDays = s.cfg.DefaultSilentDays
			}
			if next.CleanupIntervalHours < 1 {
				next.CleanupIntervalHours = s.cfg.CleanupIntervalHours
			}
			if _, ok := ParseTier(next.DefaultTier); !ok {
				next.DefaultTier = s.cfg.DefaultTier
			}
		}
	}
	s.cfg = next
}

// Score runs the full pipeline for one conversation and always returns
// a well-formed result: transient store or model failures degrade to
// neutral scoring, they never surface as errors.
func (s *Scorer) Score(ctx context.Context, segments []Segment) Result {
	cfg := s.Config()

	if !cfg.Enabled {
		return disabledResult(cfg)
	}

	content := concatSegments(segments)
	marker := hasExplicitMarker(content)

	if (len(content) < cfg.MinConversationLength || len(segments) < cfg.MinMessageCount) && !marker {
		return trivialResult(cfg)
	}

	if s.model != nil {
		if res, err := s.model.ScoreConversation(ctx, segments, cfg); err == nil {
			// The model's tier label is advisory; the authoritative tier
			// comes from re-applying the thresholds to the returned score.
			score := clampScore(res.Score)
			tier := classifyTier(score, cfg)
			return buildResult(score, tier, marker, res.Reasoning, cfg)
		} else {
			log.Printf("[scorer] model scoring failed, using heuristics: %v", err)
		}
	}

	factors := s.computeFactors(ctx, content, len(segments))
	score := calculateWeightedScore(factors)
	tier := classifyTier(score, cfg)
	return buildResult(score, tier, marker, reasoningFor(factors, score), cfg)
}

func (s *Scorer) computeFactors(ctx context.Context, content string, segmentCount int) Factors {
	f := Factors{
		ExplicitEmphasis: scoreExplicitEmphasis(content),
		EmotionalWeight:  scoreEmotionalWeight(content),
		TimeSensitivity:  scoreTimeSensitivity(content),
		FutureUtility:    scoreFutureUtility(content, segmentCount),
	}

	// One shared recall feeds all three similarity factors. Short
	// content skips the lookup; a failing lookup never fails scoring.
	switch {
	case len(content) < minRecallLength || s.store == nil:
		f.Repetition = repetitionScore(nil)
		f.ContextAnchoring = contextAnchoringScore(nil)
		f.Novelty = noveltyScore(nil)
	default:
		results, err := s.store.Recall(ctx, content, RecallOptions{Limit: recallLimit})
		if err != nil {
			log.Printf("[scorer] recall failed, using neutral similarity: %v", err)
			f.Repetition = similarityFallback
			f.ContextAnchoring = similarityFallback
			f.Novelty = similarityFallback
		} else {
			f.Repetition = repetitionScore(results)
			f.ContextAnchoring = contextAnchoringScore(results)
			f.Novelty = noveltyScore(results)
		}
	}
	return f
}

// calculateWeightedScore is a pure function: identical factor vectors
// always produce identical integers.
func calculateWeightedScore(f Factors) int {
	weighted := float64(f.ExplicitEmphasis)*factorWeights.explicitEmphasis +
		float64(f.EmotionalWeight)*factorWeights.emotionalWeight +
		float64(f.FutureUtility)*factorWeights.futureUtility +
		float64(f.Repetition)*factorWeights.repetition +
		float64(f.TimeSensitivity)*factorWeights.timeSensitivity +
		float64(f.ContextAnchoring)*factorWeights.contextAnchoring +
		float64(f.Novelty)*factorWeights.novelty

	total := 10 * (factorWeights.explicitEmphasis +
		factorWeights.emotionalWeight +
		factorWeights.futureUtility +
		factorWeights.repetition +
		factorWeights.timeSensitivity +
		factorWeights.contextAnchoring +
		factorWeights.novelty)

	return clampScore(int(math.Round(weighted / total * 10)))
}

func classifyTier(score int, cfg config.ScoringConfig) Tier {
	switch {
	case score >= cfg.ExplicitThreshold:
		return TierExplicit
	case score >= cfg.EphemeralThreshold:
		return TierSilent
	default:
		return TierEphemeral
	}
}

// resolveAction applies the explicit-marker override: marked content is
// stored permanently even when its score landed in a lower tier.
func resolveAction(tier Tier, marker bool) Action {
	if marker || tier == TierExplicit {
		return ActionStoreExplicit
	}
	if tier == TierSilent {
		return ActionStoreSilent
	}
	return ActionStoreEphemeral
}

func expiresInHours(tier Tier, cfg config.ScoringConfig) int {
	switch tier {
	case TierEphemeral:
		return cfg.DefaultEphemeralHours
	case TierSilent:
		return cfg.DefaultSilentDays * 24
	default:
		return 0
	}
}

func buildResult(score int, tier Tier, marker bool, reasoning string, cfg config.ScoringConfig) Result {
	return Result{
		Score:             score,
		Tier:              tier,
		Reasoning:         reasoning,
		ExpiresInHours:    expiresInHours(tier, cfg),
		RecommendedAction: resolveAction(tier, marker),
	}
}

func disabledResult(cfg config.ScoringConfig) Result {
	tier, ok := ParseTier(cfg.DefaultTier)
	if !ok {
		tier = TierSilent
	}
	score := map[Tier]int{TierExplicit: 9, TierSilent: 6, TierEphemeral: 3}[tier]
	return buildResult(score, tier, false, "scoring disabled", cfg)
}

func trivialResult(cfg config.ScoringConfig) Result {
	return Result{
		Score:             2,
		Tier:              TierEphemeral,
		Reasoning:         "trivial",
		ExpiresInHours:    cfg.DefaultEphemeralHours,
		RecommendedAction: ActionStoreEphemeral,
	}
}

func reasoningFor(f Factors, score int) string {
	return fmt.Sprintf(
		"weighted %d/10 (emphasis=%d emotional=%d utility=%d repetition=%d time=%d anchoring=%d novelty=%d)",
		score, f.ExplicitEmphasis, f.EmotionalWeight, f.FutureUtility,
		f.Repetition, f.TimeSensitivity, f.ContextAnchoring, f.Novelty,
	)
}

func concatSegments(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if trimmed := strings.TrimSpace(seg.Content); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, "\n")
}
