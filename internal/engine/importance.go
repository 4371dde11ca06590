package engine

import "strings"

// salientKeywords mark content worth holding on to. Each match adds a small
// fixed boost to the initial importance score.
var salientKeywords = []string{
	"important", "critical", "urgent",
	"remember", "always", "never", "must",
	"decision", "decided", "deadline",
	"error", "failure", "root cause", "fix",
	"learned", "insight",
}

const (
	baseImportance     = 0.5
	longContentChars   = 500
	mediumContentChars = 120
	keywordBoost       = 0.05
	maxKeywordBoost    = 0.2
)

// scoreImportance computes the initial importance for new content. Bounded
// and deterministic: content length, tag presence, and salient keywords each
// contribute a fixed amount; the result is clamped to [0,1].
func scoreImportance(content string, tags []string) float64 {
	score := baseImportance

	switch {
	case len(content) > longContentChars:
		score += 0.15
	case len(content) > mediumContentChars:
		score += 0.05
	}

	if len(tags) > 0 {
		score += 0.1
	}

	lower := strings.ToLower(content)
	boost := 0.0
	for _, kw := range salientKeywords {
		if strings.Contains(lower, kw) {
			boost += keywordBoost
			if boost >= maxKeywordBoost {
				boost = maxKeywordBoost
				break
			}
		}
	}
	score += boost

	return clamp01(score)
}
