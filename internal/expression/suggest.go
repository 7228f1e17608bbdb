package expression

import (
	"regexp"
	"sort"

	"github.com/agnivade/levenshtein"
)

// MaxSuggestions bounds each suggestion group.
const MaxSuggestions = 5

// Candidate is one registered pattern considered for a near-miss suggestion.
type Candidate struct {
	Pattern     string
	Literal     string
	SameKeyword bool
}

// Suggestions are near-miss patterns ranked by edit distance, grouped by
// whether the candidate was registered for the same step keyword.
type Suggestions struct {
	SameKeyword  []string
	OtherKeyword []string
}

// Empty reports whether no candidate was close enough.
func (s Suggestions) Empty() bool {
	return len(s.SameKeyword) == 0 && len(s.OtherKeyword) == 0
}

var (
	quotedText = regexp.MustCompile(`"[^"]*"|'[^']*'`)
	numberText = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
)

// normalize rewrites step text so literal values line up with parameter
// placeholders in candidate literals.
func normalize(text string) string {
	text = quotedText.ReplaceAllString(text, "{string}")
	return numberText.ReplaceAllString(text, "{int}")
}

type ranked struct {
	pattern  string
	distance int
}

// Suggest ranks candidates against unmatched step text. Candidates sharing a
// literal are merged so a pattern registered at several scopes is offered
// once.
func Suggest(text string, candidates []Candidate) Suggestions {
	normalized := normalize(text)
	same := map[string]ranked{}
	other := map[string]ranked{}
	for _, c := range candidates {
		lit := c.Literal
		if lit == "" {
			lit = c.Pattern
		}
		d := levenshtein.ComputeDistance(text, lit)
		if nd := levenshtein.ComputeDistance(normalized, lit); nd < d {
			d = nd
		}
		if !closeEnough(d, text, lit) {
			continue
		}
		bucket := other
		if c.SameKeyword {
			bucket = same
		}
		if prev, ok := bucket[lit]; !ok || d < prev.distance {
			bucket[lit] = ranked{pattern: c.Pattern, distance: d}
		}
	}
	sameOut := top(same)
	seen := make(map[string]bool, len(sameOut))
	for _, p := range sameOut {
		seen[p] = true
	}
	var otherOut []string
	for _, p := range top(other) {
		if !seen[p] {
			otherOut = append(otherOut, p)
		}
	}
	return Suggestions{SameKeyword: sameOut, OtherKeyword: otherOut}
}

func closeEnough(distance int, a, b string) bool {
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	return distance*2 <= longest
}

func top(bucket map[string]ranked) []string {
	list := make([]ranked, 0, len(bucket))
	for _, r := range bucket {
		list = append(list, r)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].distance != list[j].distance {
			return list[i].distance < list[j].distance
		}
		return list[i].pattern < list[j].pattern
	})
	if len(list) > MaxSuggestions {
		list = list[:MaxSuggestions]
	}
	out := make([]string, len(list))
	for i, r := range list {
		out[i] = r.pattern
	}
	return out
}
