package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/driftwoodlabs/retain/internal/config"
)

const scoringSystemPrompt = `You are a memory importance scorer for an autonomous agent.
Rate how important the conversation is to remember, as an integer score from 0 to 10.

Retention tiers (derived from the score):
- explicit (score >= %d): kept permanently
- silent (score >= %d): kept for %d days unless reinforced
- ephemeral (score < %d): discarded after %d hours unless reinforced

Score higher for: stated preferences, credentials and configuration, goals,
deadlines and scheduling, facts the user asked to remember.
Score lower for: greetings, acknowledgements, small talk.

Return a strict JSON object and nothing else:
{"score": <0-10>, "tier": "<explicit|silent|ephemeral>", "reasoning": "<one sentence>"}`

// ModelScorer delegates importance scoring to a remote model. Any error
// it returns causes the caller to fall back to the heuristic pipeline.
type ModelScorer interface {
	ScoreConversation(ctx context.Context, segments []Segment, cfg config.ScoringConfig) (*ModelScore, error)
}

// ModelScore is the parsed model response. Tier is advisory only; the
// scorer re-derives the authoritative tier from Score.
type ModelScore struct {
	Score     int    `json:"score"`
	Tier      string `json:"tier"`
	Reasoning string `json:"reasoning"`
}

type llmScorer struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	httpClient  *http.Client
}

// NewModelScorer builds a scorer against a chat-completions endpoint.
func NewModelScorer(cfg config.ModelConfig) ModelScorer {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = config.DefaultModelTimeoutSeconds * time.Second
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = config.DefaultModelMaxTokens
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = config.DefaultModelTemperature
	}
	return &llmScorer{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		model:       cfg.Model,
		maxTokens:   maxTokens,
		temperature: temperature,
		timeout:     timeout,
		httpClient:  &http.Client{},
	}
}

func (c *llmScorer) ScoreConversation(ctx context.Context, segments []Segment, cfg config.ScoringConfig) (*ModelScore, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return nil, fmt.Errorf("missing model api key")
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("missing model base url")
	}
	if c.model == "" {
		return nil, fmt.Errorf("missing model name")
	}

	system := fmt.Sprintf(scoringSystemPrompt,
		cfg.ExplicitThreshold,
		cfg.EphemeralThreshold, cfg.DefaultSilentDays,
		cfg.EphemeralThreshold, cfg.DefaultEphemeralHours,
	)

	body := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": formatTranscript(segments)},
		},
		"temperature": c.temperature,
		"max_tokens":  c.maxTokens,
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	content, err := c.sendChatCompletion(ctx, body)
	if err != nil {
		return nil, err
	}
	return parseModelScore(content)
}

func (c *llmScorer) sendChatCompletion(ctx context.Context, body map[string]any) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("model http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("empty choices in response")
	}
	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("empty content in response")
	}
	return content, nil
}

// parseModelScore is strict: a missing score or tier field is treated
// like any other model failure and routes to the heuristic fallback.
func parseModelScore(content string) (*ModelScore, error) {
	stripped := stripCodeFences(content)

	var raw struct {
		Score     *float64 `json:"score"`
		Tier      *string  `json:"tier"`
		Reasoning string   `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(stripped), &raw); err != nil {
		return nil, fmt.Errorf("parse model score: %w", err)
	}
	if raw.Score == nil {
		return nil, fmt.Errorf("model response missing score")
	}
	if raw.Tier == nil || strings.TrimSpace(*raw.Tier) == "" {
		return nil, fmt.Errorf("model response missing tier")
	}

	return &ModelScore{
		Score:     clampScore(int(*raw.Score)),
		Tier:      strings.TrimSpace(*raw.Tier),
		Reasoning: strings.TrimSpace(raw.Reasoning),
	}, nil
}

func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		// Drop a language hint like "json" on the opening fence line.
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

func formatTranscript(segments []Segment) string {
	var sb strings.Builder
	for _, seg := range segments {
		role := strings.TrimSpace(seg.Role)
		if role == "" {
			role = "user"
		}
		sb.WriteString(role)
		sb.WriteString(": ")
		sb.WriteString(strings.TrimSpace(seg.Content))
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}
