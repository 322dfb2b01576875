package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/driftwoodlabs/retain/internal/config"
)

type mockStore struct {
	recallFn  func(query string, opts RecallOptions) ([]Record, error)
	listFn    func(limit int, tier Tier) ([]Record, error)
	updateFn  func(id, content string, meta Metadata) error
	relatedFn func(id string, depth int) ([]Record, error)
	cleanupFn func() (CleanupStats, error)
}

func (m *mockStore) Initialize(ctx context.Context) error { return nil }
func (m *mockStore) Shutdown(ctx context.Context) error   { return nil }
func (m *mockStore) Store(ctx context.Context, content string, meta Metadata) (string, error) {
	return "mock-id", nil
}
func (m *mockStore) Recall(ctx context.Context, query string, opts RecallOptions) ([]Record, error) {
	if m.recallFn != nil {
		return m.recallFn(query, opts)
	}
	return nil, nil
}
func (m *mockStore) List(ctx context.Context, limit int, tier Tier) ([]Record, error) {
	if m.listFn != nil {
		return m.listFn(limit, tier)
	}
	return nil, nil
}
func (m *mockStore) Update(ctx context.Context, id, content string, meta Metadata) error {
	if m.updateFn != nil {
		return m.updateFn(id, content, meta)
	}
	return nil
}
func (m *mockStore) Forget(ctx context.Context, id string) error { return nil }
func (m *mockStore) Related(ctx context.Context, id string, depth int) ([]Record, error) {
	if m.relatedFn != nil {
		return m.relatedFn(id, depth)
	}
	return nil, nil
}
func (m *mockStore) Cleanup(ctx context.Context) (CleanupStats, error) {
	if m.cleanupFn != nil {
		return m.cleanupFn()
	}
	return CleanupStats{}, nil
}
func (m *mockStore) HealthCheck(ctx context.Context) (Health, error) {
	return Health{Healthy: true, Backend: "mock"}, nil
}

func testScoringConfig() config.ScoringConfig {
	return config.ScoringConfig{
		Enabled:               true,
		ExplicitThreshold:     config.DefaultExplicitThreshold,
		EphemeralThreshold:    config.DefaultEphemeralThreshold,
		DefaultEphemeralHours: config.DefaultEphemeralHours,
		DefaultSilentDays:     config.DefaultSilentDays,
		CleanupIntervalHours:  config.DefaultCleanupIntervalHours,
		MinConversationLength: config.DefaultMinConversationLength,
		MinMessageCount:       config.DefaultMinMessageCount,
		DefaultTier:           config.DefaultTierName,
	}
}

func userSegments(contents ...string) []Segment {
	segs := make([]Segment, 0, len(contents))
	for _, c := range contents {
		segs = append(segs, Segment{Role: "user", Content: c, Timestamp: time.Now()})
	}
	return segs
}

func TestScoreDeterministic(t *testing.T) {
	scorer, err := NewScorer(testScoringConfig(), &mockStore{}, nil)
	if err != nil {
		t.Fatalf("NewScorer error: %v", err)
	}

	segs := userSegments("I prefer dark mode for all my editors and terminals")
	first := scorer.Score(context.Background(), segs)
	for i := 0; i < 5; i++ {
		got := scorer.Score(context.Background(), segs)
		if got != first {
			t.Fatalf("run %d diverged: got %+v, want %+v", i, got, first)
		}
	}
}

func TestScoreTrivialGating(t *testing.T) {
	scorer, err := NewScorer(testScoringConfig(), &mockStore{}, nil)
	if err != nil {
		t.Fatalf("NewScorer error: %v", err)
	}

	res := scorer.Score(context.Background(), userSegments("hi"))
	if res.Score != 2 {
		t.Fatalf("expected trivial score 2, got %d", res.Score)
	}
	if res.Tier != TierEphemeral {
		t.Fatalf("expected ephemeral tier, got %s", res.Tier)
	}
	if res.Reasoning != "trivial" {
		t.Fatalf("expected trivial reasoning, got %q", res.Reasoning)
	}
	if res.ExpiresInHours != config.DefaultEphemeralHours {
		t.Fatalf("expected expiry %d, got %d", config.DefaultEphemeralHours, res.ExpiresInHours)
	}
}

func TestScoreMarkerBypassesGating(t *testing.T) {
	scorer, err := NewScorer(testScoringConfig(), &mockStore{}, nil)
	if err != nil {
		t.Fatalf("NewScorer error: %v", err)
	}

	// Shorter than the minimum conversation length, but carries a marker.
	res := scorer.Score(context.Background(), userSegments("remember"))
	if res.Reasoning == "trivial" {
		t.Fatal("marker content should not be gated as trivial")
	}
	if res.RecommendedAction != ActionStoreExplicit {
		t.Fatalf("expected store_explicit from marker override, got %s", res.RecommendedAction)
	}
	if res.ExpiresInHours != 0 && res.Tier == TierExplicit {
		t.Fatalf("explicit tier must be permanent, got expiry %d", res.ExpiresInHours)
	}
}

func TestScoreMarkerOverridesLowTier(t *testing.T) {
	scorer, err := NewScorer(testScoringConfig(), &mockStore{}, nil)
	if err != nil {
		t.Fatalf("NewScorer error: %v", err)
	}

	res := scorer.Score(context.Background(), userSegments("please remember that the office moved"))
	if res.RecommendedAction != ActionStoreExplicit {
		t.Fatalf("expected store_explicit, got %s (score=%d tier=%s)", res.RecommendedAction, res.Score, res.Tier)
	}
}

func TestScoreDisabled(t *testing.T) {
	cases := []struct {
		defaultTier string
		wantScore   int
		wantTier    Tier
	}{
		{"explicit", 9, TierExplicit},
		{"silent", 6, TierSilent},
		{"ephemeral", 3, TierEphemeral},
	}

	for _, tc := range cases {
		cfg := testScoringConfig()
		cfg.Enabled = false
		cfg.DefaultTier = tc.defaultTier

		scorer, err := NewScorer(cfg, &mockStore{}, nil)
		if err != nil {
			t.Fatalf("NewScorer error: %v", err)
		}

		res := scorer.Score(context.Background(), userSegments("I prefer dark mode everywhere"))
		if res.Score != tc.wantScore || res.Tier != tc.wantTier {
			t.Fatalf("defaultTier=%s: got score=%d tier=%s, want score=%d tier=%s",
				tc.defaultTier, res.Score, res.Tier, tc.wantScore, tc.wantTier)
		}
		if res.Reasoning != "scoring disabled" {
			t.Fatalf("expected disabled reasoning, got %q", res.Reasoning)
		}
	}
}

func TestScoreRecallFailureFallsBackNeutral(t *testing.T) {
	calls := 0
	st := &mockStore{recallFn: func(query string, opts RecallOptions) ([]Record, error) {
		calls++
		return nil, fmt.Errorf("backend down")
	}}

	scorer, err := NewScorer(testScoringConfig(), st, nil)
	if err != nil {
		t.Fatalf("NewScorer error: %v", err)
	}

	res := scorer.Score(context.Background(), userSegments("I prefer dark mode for all my editors"))
	if calls != 1 {
		t.Fatalf("expected one shared recall call, got %d", calls)
	}
	if res.Score < 0 || res.Score > 10 {
		t.Fatalf("score out of range: %d", res.Score)
	}

	// A healthy empty recall uses different similarity values, so the
	// failing path must still produce a well-formed, distinct result.
	healthy, err := NewScorer(testScoringConfig(), &mockStore{}, nil)
	if err != nil {
		t.Fatalf("NewScorer error: %v", err)
	}
	if got := healthy.Score(context.Background(), userSegments("I prefer dark mode for all my editors")); got == res {
		t.Log("neutral fallback happened to match empty-recall result")
	}
}

func TestScoreRecallSkippedForShortContent(t *testing.T) {
	st := &mockStore{recallFn: func(query string, opts RecallOptions) ([]Record, error) {
		t.Fatal("recall must not run for short content")
		return nil, nil
	}}

	scorer, err := NewScorer(testScoringConfig(), st, nil)
	if err != nil {
		t.Fatalf("NewScorer error: %v", err)
	}

	// 10..19 chars passes gating but stays under the recall minimum.
	scorer.Score(context.Background(), userSegments("project work"))
}

func TestScoreThresholdInvariant(t *testing.T) {
	cfg := testScoringConfig()
	scorer, err := NewScorer(cfg, &mockStore{}, nil)
	if err != nil {
		t.Fatalf("NewScorer error: %v", err)
	}

	inputs := [][]Segment{
		userSegments("good morning"),
		userSegments("we discussed the project roadmap at the meeting"),
		userSegments("remember my api key rotation schedule, it is critical"),
		userSegments("I am worried and stressed about the urgent deadline due tomorrow"),
	}

	for _, segs := range inputs {
		res := scorer.Score(context.Background(), segs)
		switch {
		case res.Score >= cfg.ExplicitThreshold:
			if res.Tier != TierExplicit {
				t.Fatalf("score %d must be explicit, got %s", res.Score, res.Tier)
			}
		case res.Score >= cfg.EphemeralThreshold:
			if res.Tier != TierSilent {
				t.Fatalf("score %d must be silent, got %s", res.Score, res.Tier)
			}
		default:
			if res.Tier != TierEphemeral {
				t.Fatalf("score %d must be ephemeral, got %s", res.Score, res.Tier)
			}
		}
	}
}

func TestScoreExplicitTierPermanent(t *testing.T) {
	cfg := testScoringConfig()
	scorer, err := NewScorer(cfg, &mockStore{}, nil)
	if err != nil {
		t.Fatalf("NewScorer error: %v", err)
	}

	res := scorer.Score(context.Background(), userSegments("I really love dark mode, please remember this forever"))
	if res.Tier != TierExplicit && res.RecommendedAction != ActionStoreExplicit {
		t.Fatalf("expected explicit storage, got tier=%s action=%s score=%d", res.Tier, res.RecommendedAction, res.Score)
	}
	if res.RecommendedAction == ActionStoreExplicit && res.Tier == TierExplicit && res.ExpiresInHours != 0 {
		t.Fatalf("explicit tier must not expire, got %d hours", res.ExpiresInHours)
	}
}

func TestScoreAnchoredNeighborsRaiseScore(t *testing.T) {
	anchored := &mockStore{recallFn: func(query string, opts RecallOptions) ([]Record, error) {
		return []Record{
			{ID: "a", Relevance: 0.6, Meta: Metadata{Tier: TierExplicit}},
			{ID: "b", Relevance: 0.6, Meta: Metadata{Tier: TierExplicit}},
			{ID: "c", Relevance: 0.6, Meta: Metadata{Tier: TierSilent}},
		}, nil
	}}
	empty := &mockStore{}

	content := userSegments("the team settled the database migration plan for next month")

	s1, err := NewScorer(testScoringConfig(), anchored, nil)
	if err != nil {
		t.Fatalf("NewScorer error: %v", err)
	}
	s2, err := NewScorer(testScoringConfig(), empty, nil)
	if err != nil {
		t.Fatalf("NewScorer error: %v", err)
	}

	withNeighbors := s1.Score(context.Background(), content)
	without := s2.Score(context.Background(), content)
	if withNeighbors.Score < without.Score {
		t.Fatalf("anchored neighbors lowered score: %d < %d", withNeighbors.Score, without.Score)
	}
}

func TestUpdateConfigRejectsBadThresholds(t *testing.T) {
	scorer, err := NewScorer(testScoringConfig(), &mockStore{}, nil)
	if err != nil {
		t.Fatalf("NewScorer error: %v", err)
	}

	next := testScoringConfig()
	next.ExplicitThreshold = 3
	next.EphemeralThreshold = 7 // inverted pair
	next.DefaultEphemeralHours = 48
	scorer.UpdateConfig(next)

	got := scorer.Config()
	if got.ExplicitThreshold != config.DefaultExplicitThreshold || got.EphemeralThreshold != config.DefaultEphemeralThreshold {
		t.Fatalf("invalid pair applied: %d/%d", got.ExplicitThreshold, got.EphemeralThreshold)
	}
	if got.DefaultEphemeralHours != 48 {
		t.Fatalf("valid field of update dropped: got %d", got.DefaultEphemeralHours)
	}
}

func TestUpdateConfigAppliesValidUpdate(t *testing.T) {
	scorer, err := NewScorer(testScoringConfig(), &mockStore{}, nil)
	if err != nil {
		t.Fatalf("NewScorer error: %v", err)
	}

	next := testScoringConfig()
	next.ExplicitThreshold = 9
	next.EphemeralThreshold = 5
	scorer.UpdateConfig(next)

	got := scorer.Config()
	if got.ExplicitThreshold != 9 || got.EphemeralThreshold != 5 {
		t.Fatalf("valid update not applied: %d/%d", got.ExplicitThreshold, got.EphemeralThreshold)
	}
}

func TestCalculateWeightedScoreBounds(t *testing.T) {
	zero := calculateWeightedScore(Factors{})
	if zero != 0 {
		t.Fatalf("all-zero factors: got %d, want 0", zero)
	}

	max := calculateWeightedScore(Factors{
		ExplicitEmphasis: 10, EmotionalWeight: 10, FutureUtility: 10,
		Repetition: 10, TimeSensitivity: 10, ContextAnchoring: 10, Novelty: 10,
	})
	if max != 10 {
		t.Fatalf("all-max factors: got %d, want 10", max)
	}
}

type scorerMockModel struct {
	scoreFn func(segments []Segment, cfg config.ScoringConfig) (*ModelScore, error)
}

func (m *scorerMockModel) ScoreConversation(ctx context.Context, segments []Segment, cfg config.ScoringConfig) (*ModelScore, error) {
	return m.scoreFn(segments, cfg)
}

func TestScoreModelTierRederived(t *testing.T) {
	model := &scorerMockModel{scoreFn: func(segments []Segment, cfg config.ScoringConfig) (*ModelScore, error) {
		// Model claims explicit but the score says silent.
		return &ModelScore{Score: 6, Tier: "explicit", Reasoning: "model says so"}, nil
	}}

	scorer, err := NewScorer(testScoringConfig(), &mockStore{}, model)
	if err != nil {
		t.Fatalf("NewScorer error: %v", err)
	}

	res := scorer.Score(context.Background(), userSegments("we agreed on the quarterly project plan"))
	if res.Tier != TierSilent {
		t.Fatalf("tier must follow score thresholds, got %s", res.Tier)
	}
	if res.Reasoning != "model says so" {
		t.Fatalf("model reasoning dropped: %q", res.Reasoning)
	}
}

func TestScoreModelFailureFallsBackToHeuristics(t *testing.T) {
	model := &scorerMockModel{scoreFn: func(segments []Segment, cfg config.ScoringConfig) (*ModelScore, error) {
		return nil, fmt.Errorf("model unavailable")
	}}

	segs := userSegments("I prefer dark mode for all my editors")

	withModel, err := NewScorer(testScoringConfig(), &mockStore{}, model)
	if err != nil {
		t.Fatalf("NewScorer error: %v", err)
	}
	heuristicOnly, err := NewScorer(testScoringConfig(), &mockStore{}, nil)
	if err != nil {
		t.Fatalf("NewScorer error: %v", err)
	}

	got := withModel.Score(context.Background(), segs)
	want := heuristicOnly.Score(context.Background(), segs)
	if got != want {
		t.Fatalf("fallback result differs from heuristic result: got %+v, want %+v", got, want)
	}
}

func TestScoreModelMarkerStillOverrides(t *testing.T) {
	model := &scorerMockModel{scoreFn: func(segments []Segment, cfg config.ScoringConfig) (*ModelScore, error) {
		return &ModelScore{Score: 5, Tier: "silent", Reasoning: "mid"}, nil
	}}

	scorer, err := NewScorer(testScoringConfig(), &mockStore{}, model)
	if err != nil {
		t.Fatalf("NewScorer error: %v", err)
	}

	res := scorer.Score(context.Background(), userSegments("remember that my badge number is 4417"))
	if res.RecommendedAction != ActionStoreExplicit {
		t.Fatalf("marker override must survive the model path, got %s", res.RecommendedAction)
	}
}
