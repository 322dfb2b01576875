package store

import (
	"strings"
	"unicode"
)

func extractKeywords(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	keywords := make([]string, 0)
	seen := map[string]struct{}{}
	for _, w := range wordRegex.FindAllString(strings.ToLower(text), -1) {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		keywords = append(keywords, w)
	}
	return keywords
}

func buildFTSMatchQuery(tokens []string) string {
	safe := sanitizeFTSTokens(tokens)
	if len(safe) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(safe))
	for _, token := range safe {
		quoted = append(quoted, `"`+token+`"`)
	}
	return strings.Join(quoted, " OR ")
}

func sanitizeFTSTokens(tokens []string) []string {
	if len(tokens) == 0 {
		return nil
	}

	reserved := map[string]struct{}{
		"and":  {},
		"or":   {},
		"not":  {},
		"near": {},
	}

	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		normalized := normalizeFTSToken(token)
		for _, part := range strings.Fields(normalized) {
			if _, blocked := reserved[part]; blocked {
				continue
			}
			if part == "" {
				continue
			}
			if _, exists := seen[part]; exists {
				continue
			}
			seen[part] = struct{}{}
			out = append(out, part)
		}
	}

	if len(out) > maxFTSTokens {
		out = out[:maxFTSTokens]
	}

	return out
}

func normalizeFTSToken(token string) string {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	for _, r := range trimmed {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteByte(' ')
	}

	return b.String()
}

// normalizeBM25 maps raw bm25 scores (lower is better) onto [0,1]
// relevance, 1 being the best match in the set.
func normalizeBM25(rawScores []float64) []float64 {
	if len(rawScores) == 0 {
		return nil
	}

	minScore := rawScores[0]
	maxScore := rawScores[0]
	for _, score := range rawScores[1:] {
		if score < minScore {
			minScore = score
		}
		if score > maxScore {
			maxScore = score
		}
	}

	normalized := make([]float64, len(rawScores))
	if maxScore == minScore {
		for i := range normalized {
			normalized[i] = 1
		}
		return normalized
	}

	rangeSize := maxScore - minScore
	for i, score := range rawScores {
		norm := 1 - ((score - minScore) / rangeSize)
		if norm < 0 {
			norm = 0
		}
		if norm > 1 {
			norm = 1
		}
		normalized[i] = norm
	}
	return normalized
}
