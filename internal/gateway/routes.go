package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/driftwoodlabs/retain/internal/config"
	"github.com/driftwoodlabs/retain/internal/memory"
)

func (g *Gateway) routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/v1/health", g.handleHealth)
	r.Post("/v1/score", g.handleScore)
	r.Post("/v1/memories", g.handleCapture)
	r.Get("/v1/memories", g.handleList)
	r.Delete("/v1/memories/{id}", g.handleForget)
	r.Post("/v1/lifecycle/cleanup", g.handleCleanup)
	r.Post("/v1/lifecycle/reinforce", g.handleReinforce)
	r.Put("/v1/config/scoring", g.handleUpdateScoring)

	return r
}

type scoreRequest struct {
	Segments []memory.Segment `json:"segments"`
	Source   string           `json:"source,omitempty"`
}

func (g *Gateway) handleScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if len(req.Segments) == 0 {
		http.Error(w, `{"error":"segments required"}`, http.StatusBadRequest)
		return
	}

	result := g.scorer.Score(r.Context(), req.Segments)
	writeJSON(w, http.StatusOK, result)
}

// handleCapture scores a conversation and, unless the engine recommends
// skipping, persists it with the expiry derived from the stored tier.
func (g *Gateway) handleCapture(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if len(req.Segments) == 0 {
		http.Error(w, `{"error":"segments required"}`, http.StatusBadRequest)
		return
	}

	result := g.scorer.Score(r.Context(), req.Segments)
	if result.RecommendedAction == memory.ActionSkip {
		writeJSON(w, http.StatusOK, map[string]any{"stored": false, "result": result})
		return
	}

	// The stored tier follows the recommended action, not the raw
	// score tier: an explicit marker stores permanently even when the
	// score landed lower.
	tier := tierForAction(result.RecommendedAction)
	cfg := g.scorer.Config()

	meta := memory.Metadata{
		Tier:      tier,
		Score:     result.Score,
		Source:    parseSource(req.Source),
		CreatedAt: time.Now().UTC(),
	}
	if hours := expiryHoursForTier(tier, cfg); hours > 0 {
		expires := meta.CreatedAt.Add(time.Duration(hours) * time.Hour)
		meta.ExpiresAt = &expires
	}

	content := contentOf(req.Segments)
	id, err := g.store.Store(r.Context(), content, meta)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"stored": true, "id": id, "result": result})
}

func (g *Gateway) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	var tier memory.Tier
	if v := r.URL.Query().Get("tier"); v != "" {
		parsed, ok := memory.ParseTier(v)
		if !ok {
			http.Error(w, `{"error":"unknown tier"}`, http.StatusBadRequest)
			return
		}
		tier = parsed
	}

	records, err := g.store.List(r.Context(), limit, tier)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": records})
}

func (g *Gateway) handleForget(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := g.store.Forget(r.Context(), id); err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "forgotten"})
}

func (g *Gateway) handleCleanup(w http.ResponseWriter, r *http.Request) {
	stats := g.lifecycle.CleanupExpired(r.Context())
	writeJSON(w, http.StatusOK, stats)
}

func (g *Gateway) handleReinforce(w http.ResponseWriter, r *http.Request) {
	stats := g.lifecycle.ProcessReinforcements(r.Context())
	writeJSON(w, http.StatusOK, stats)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	health, err := g.store.HealthCheck(r.Context())
	if err != nil {
		writeJSON(w, http.StatusOK, memory.Health{Healthy: false, Backend: health.Backend})
		return
	}
	writeJSON(w, http.StatusOK, health)
}

// handleUpdateScoring hot-swaps the scoring config. An invalid
// threshold pair keeps the previous pair; the response reports the
// config actually in effect.
func (g *Gateway) handleUpdateScoring(w http.ResponseWriter, r *http.Request) {
	var next config.ScoringConfig
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}

	g.scorer.UpdateConfig(next)
	writeJSON(w, http.StatusOK, g.scorer.Config())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func tierForAction(action memory.Action) memory.Tier {
	switch action {
	case memory.ActionStoreExplicit:
		return memory.TierExplicit
	case memory.ActionStoreSilent:
		return memory.TierSilent
	default:
		return memory.TierEphemeral
	}
}

func expiryHoursForTier(tier memory.Tier, cfg config.ScoringConfig) int {
	switch tier {
	case memory.TierEphemeral:
		return cfg.DefaultEphemeralHours
	case memory.TierSilent:
		return cfg.DefaultSilentDays * 24
	default:
		return 0
	}
}

func parseSource(s string) memory.Source {
	switch memory.Source(strings.TrimSpace(s)) {
	case memory.SourceUserExplicit:
		return memory.SourceUserExplicit
	case memory.SourceAgentAuto:
		return memory.SourceAgentAuto
	default:
		return memory.SourceAutoCapture
	}
}

func contentOf(segments []memory.Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if trimmed := strings.TrimSpace(seg.Content); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, "\n")
}
