package resolver

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Acceptance thresholds shared by every entity kind.
const (
	ConfidentScore = 0.8
	AmbiguousScore = 0.6
)

const (
	containmentScore  = 0.9
	overlapBoost      = 1.5
	overlapCap        = 0.95
	genericEditScale  = 0.6
	lastNameEditScale = 0.8
)

// Normalize trims, uppercases and collapses internal whitespace.
func Normalize(name string) string {
	return strings.Join(strings.Fields(strings.ToUpper(name)), " ")
}

// Score rates how well candidate matches query. Both are normalized first.
// lastNameMatch selects the milder edit-distance scaling used when the
// candidate is already known to share the query's last name.
func Score(query, candidate string, lastNameMatch bool) float64 {
	q, c := Normalize(query), Normalize(candidate)
	if q == "" || c == "" {
		return 0
	}
	if q == c {
		return 1.0
	}
	if strings.Contains(q, c) || strings.Contains(c, q) {
		return containmentScore
	}

	if ratio, ok := tokenOverlap(q, c); ok {
		return ratio
	}

	scale := genericEditScale
	if lastNameMatch {
		scale = lastNameEditScale
	}
	return editSimilarity(q, c) * scale
}

// tokenOverlap returns |q∩c|/|q∪c| over whitespace tokens, boosted when the
// shared tokens cover at least half of the query. ok is false when no token
// is shared.
func tokenOverlap(q, c string) (float64, bool) {
	qTokens := tokenSet(q)
	cTokens := tokenSet(c)

	shared := 0
	for tok := range qTokens {
		if cTokens[tok] {
			shared++
		}
	}
	if shared == 0 {
		return 0, false
	}

	union := len(qTokens) + len(cTokens) - shared
	ratio := float64(shared) / float64(union)
	if float64(shared) >= 0.5*float64(len(qTokens)) {
		ratio *= overlapBoost
		if ratio > overlapCap {
			ratio = overlapCap
		}
	}
	return ratio, true
}

func tokenSet(s string) map[string]bool {
	fields := strings.Fields(s)
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

func editSimilarity(a, b string) float64 {
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	if longest == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}

// Decision is the outcome of comparing the best score with the thresholds.
type Decision int

const (
	NotFound Decision = iota
	Ambiguous
	Confident
)

func (d Decision) String() string {
	switch d {
	case Confident:
		return "confident"
	case Ambiguous:
		return "ambiguous"
	default:
		return "not_found"
	}
}

// Decide maps a score onto a decision.
func Decide(score float64) Decision {
	switch {
	case score >= ConfidentScore:
		return Confident
	case score >= AmbiguousScore:
		return Ambiguous
	default:
		return NotFound
	}
}
