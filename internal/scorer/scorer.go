// Package scorer implements the Stage-1 pattern-based risk scorer: a pure,
// deterministic, side-effect-free classifier over chat message content. See
// spec.md §4.1.
package scorer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/neuraltrust/cis-interceptor/internal/types"
)

// maxSamples bounds PatternMatch.Samples (spec.md §3: "up to 3 raw substrings").
const maxSamples = 3

// Result is the scorer's output before the dispatcher applies the
// sync-threshold decision (spec.md §4.1 "Decision" is dispatcher-owned but
// defined in this package's Decide helper for reuse/tests).
type Result struct {
	Score   float64
	Labels  []string
	Matches []types.PatternMatch
}

// Score scans content against the v1 pattern taxonomy and returns a risk
// score in [0,1] plus the ordered label set. It performs no I/O and touches
// no shared state: identical content always yields an identical Result.
func Score(content string) Result {
	matches := matchAll(content)
	if len(matches) == 0 {
		return Result{Score: 0.0, Labels: nil, Matches: nil}
	}

	score := computeScore(matches)
	labels := make([]string, 0, len(matches))
	for _, m := range matches {
		labels = append(labels, labelForCategory[Category(m.Type)])
	}

	return Result{Score: score, Labels: labels, Matches: matches}
}

// matchAll scans every category's regex set against content and collapses
// hits into one PatternMatch per matched category, in canonical order.
func matchAll(content string) []types.PatternMatch {
	var out []types.PatternMatch
	for _, cat := range categoryOrder {
		set := map[string]struct{}{}
		var ordered []string
		for _, re := range patternSets[cat] {
			for _, hit := range re.FindAllString(content, -1) {
				trimmed := strings.TrimSpace(hit)
				if trimmed == "" {
					continue
				}
				if _, seen := set[trimmed]; seen {
					continue
				}
				set[trimmed] = struct{}{}
				ordered = append(ordered, trimmed)
			}
		}
		if len(ordered) == 0 {
			continue
		}
		sort.Strings(ordered)
		samples := ordered
		if len(samples) > maxSamples {
			samples = samples[:maxSamples]
		}
		out = append(out, types.PatternMatch{
			Type:    string(cat),
			Count:   len(ordered),
			Samples: samples,
		})
	}
	return out
}

// computeScore implements spec.md §4.1's formula:
//
//	raw   = max(maxWeight*0.85, totalContribution*0.7) + multiTypeBoost
//	score = min(raw, 1.0)
func computeScore(matches []types.PatternMatch) float64 {
	var maxWeight, totalContribution float64
	for _, m := range matches {
		w := weights[Category(m.Type)]
		if w > maxWeight {
			maxWeight = w
		}
		count := m.Count
		if count > 3 {
			count = 3
		}
		totalContribution += w * float64(count) / 3.0
	}

	multiTypeBoost := 0.0
	if len(matches) > 1 {
		multiTypeBoost = 0.10 * float64(len(matches)-1)
	}

	raw := max(maxWeight*0.85, totalContribution*0.7) + multiTypeBoost
	if raw > 1.0 {
		raw = 1.0
	}
	return raw
}

// BlockReason builds the comma-joined, human-readable reason for a hard
// block from the matched categories (spec.md §4.1). Falls back to a generic
// reason if matches is empty (the "defensive" case the spec calls out).
func BlockReason(matches []types.PatternMatch) string {
	if len(matches) == 0 {
		return "This message was blocked for violating platform policies. Keep conversations on the platform for your safety."
	}
	phrases := make([]string, 0, len(matches))
	for _, m := range matches {
		phrases = append(phrases, humanPhrase(Category(m.Type)))
	}
	return fmt.Sprintf("This message contains %s. Keep conversations on the platform for your safety.", joinHuman(phrases))
}

func humanPhrase(cat Category) string {
	switch cat {
	case CategoryPhone:
		return "a phone number"
	case CategoryEmail:
		return "an email address"
	case CategoryURL:
		return "an external link"
	case CategorySocial:
		return "a mention of an off-platform messaging app"
	case CategoryObfuscation:
		return "obfuscated contact information"
	default:
		return "disallowed content"
	}
}

// joinHuman renders ["a", "b", "c"] as "a, b and c" and ["a", "b"] as "a and b".
func joinHuman(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	default:
		return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
	}
}

// NudgeMessage selects user-facing nudge text by the highest-severity
// category present, per spec.md §4.1.
func NudgeMessage(matches []types.PatternMatch) string {
	present := map[Category]bool{}
	for _, m := range matches {
		present[Category(m.Type)] = true
	}
	switch {
	case present[CategoryPhone] || present[CategoryEmail]:
		return "Sharing personal contact information may violate platform policies. For your safety, keep all communication within the app."
	case present[CategorySocial]:
		return "We noticed you're trying to move the conversation off-platform. For your safety, please keep communication here."
	default:
		return "This message may not comply with our community guidelines. Please review our policies before sending."
	}
}
