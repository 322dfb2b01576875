package memory

import "strings"

// Lexicons are fixed, matched case-insensitively as substrings over the
// concatenated conversation text.
var (
	emphasisMarkers = []string{
		"remember", "don't forget", "dont forget", "keep in mind",
		"important", "critical", "make sure", "always", "never",
		"note that", "for future reference",
	}

	preferenceWords = []string{"prefer", "favorite", "i like", "i love", "i enjoy", "i want", "i wish"}
	negativeWords   = []string{"hate", "dislike", "annoying", "frustrated", "angry", "can't stand", "terrible"}
	concernWords    = []string{"worried", "concerned", "anxious", "afraid", "scared", "nervous", "stressed"}
	positiveWords   = []string{"great", "awesome", "wonderful", "excellent", "amazing", "happy", "excited"}

	urgentWords    = []string{"urgent", "asap", "immediately", "right away", "right now", "emergency"}
	deadlineWords  = []string{"deadline", "due ", "by tomorrow", "by monday", "by friday", "by the end of"}
	futureWords    = []string{"next week", "next month", "next year", "upcoming", "later this", "soon"}
	recurringWords = []string{"every day", "every week", "every month", "daily", "weekly", "monthly", "each time"}

	highUtilityWords = []string{
		"prefer", "password", "credential", "api key", "token",
		"goal", "plan to", "schedule", "appointment",
		"config", "setting", "email", "phone", "address", "birthday",
	}
	mediumUtilityWords = []string{"project", "work", "meeting", "decision", "idea", "deadline", "name is"}
	lowUtilityPhrases  = []string{
		"hi", "hello", "hey", "thanks", "thank you", "ok", "okay",
		"bye", "goodbye", "good morning", "good night", "yes", "no",
	}
)

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func countHits(text string, words []string) int {
	hits := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			hits++
		}
	}
	return hits
}

// hasExplicitMarker reports whether the text carries an emphasis phrase.
// A marker forces the top-tier storage action downstream.
func hasExplicitMarker(text string) bool {
	return containsAny(strings.ToLower(text), emphasisMarkers)
}

// scoreExplicitEmphasis is all-or-nothing: 10 on any marker, else 0.
func scoreExplicitEmphasis(text string) int {
	if hasExplicitMarker(text) {
		return 10
	}
	return 0
}

// scoreEmotionalWeight sums bucket hits: concern counts 3 per hit,
// preference and negative 2, positive 1. Clamped to 10.
func scoreEmotionalWeight(text string) int {
	lower := strings.ToLower(text)
	score := countHits(lower, preferenceWords)*2 +
		countHits(lower, negativeWords)*2 +
		countHits(lower, concernWords)*3 +
		countHits(lower, positiveWords)
	return clampScore(score)
}

// scoreTimeSensitivity sums bucket hits: urgent and deadline count 3
// per hit, future and recurring 2. Clamped to 10.
func scoreTimeSensitivity(text string) int {
	lower := strings.ToLower(text)
	score := countHits(lower, urgentWords)*3 +
		countHits(lower, deadlineWords)*3 +
		countHits(lower, futureWords)*2 +
		countHits(lower, recurringWords)*2
	return clampScore(score)
}

// scoreFutureUtility starts at a neutral 5. Exactly one utility bucket
// applies, checked high -> medium -> low; a longer conversation adds 1.
func scoreFutureUtility(text string, segmentCount int) int {
	lower := strings.ToLower(text)
	score := 5

	switch {
	case containsAny(lower, highUtilityWords):
		score += 2
	case containsAny(lower, mediumUtilityWords):
		score++
	case isLowUtilityPhrase(lower):
		score -= 2
	}

	if segmentCount > 3 {
		score++
	}
	return clampScore(score)
}

// isLowUtilityPhrase matches only when the entire content is a
// greeting/acknowledgement, not when one appears inside longer text.
func isLowUtilityPhrase(lower string) bool {
	trimmed := strings.TrimSpace(strings.Trim(strings.TrimSpace(lower), ".!?,"))
	for _, phrase := range lowUtilityPhrases {
		if trimmed == phrase {
			return true
		}
	}
	return false
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}
