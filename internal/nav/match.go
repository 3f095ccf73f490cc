package nav

import (
	"strings"

	"github.com/ashureev/formvoice/internal/domain"
)

// ResolveSpoken maps a spoken answer onto a question's option text before
// validation, so "equipment manufacturer" selects the full option. Values
// that are not option questions, and phrases nothing plausibly matches, pass
// through unchanged for validation to report.
func ResolveSpoken(q domain.Question, raw any) any {
	switch q.Type {
	case domain.TypeChoice:
		if s, ok := raw.(string); ok {
			if opt, matched := MatchOption(s, q.Options); matched {
				return opt
			}
		}
	case domain.TypeMultipleChoice:
		items, err := stringSlice(raw)
		if err != nil {
			return raw
		}
		out := make([]string, len(items))
		for i, item := range items {
			if opt, matched := MatchOption(item, q.Options); matched {
				out[i] = opt
			} else {
				out[i] = item
			}
		}
		return out
	case domain.TypeNumber, domain.TypeCompositeNumber:
		if s, ok := raw.(string); ok && q.UnknownOption != "" {
			if opt, matched := MatchOption(s, []string{q.UnknownOption}); matched {
				return opt
			}
		}
	}
	return raw
}

// MatchOption maps a spoken phrase onto one of a question's options. The
// voice channel calls this before validation so that "equipment manufacturer"
// resolves to the full option text. Matching tiers: exact (case-insensitive),
// substring in either direction, then best word overlap. Returns false when
// nothing plausibly matches.
func MatchOption(spoken string, options []string) (string, bool) {
	spoken = strings.ToLower(strings.TrimSpace(spoken))
	if spoken == "" || len(options) == 0 {
		return "", false
	}

	for _, opt := range options {
		if spoken == strings.ToLower(opt) {
			return opt, true
		}
	}

	for _, opt := range options {
		lower := strings.ToLower(opt)
		if strings.Contains(lower, spoken) || strings.Contains(spoken, lower) {
			return opt, true
		}
	}

	spokenWords := wordSet(spoken)
	best := ""
	bestOverlap := 0
	for _, opt := range options {
		overlap := 0
		for w := range wordSet(strings.ToLower(opt)) {
			if spokenWords[w] {
				overlap++
			}
		}
		if overlap > bestOverlap {
			bestOverlap = overlap
			best = opt
		}
	}
	if bestOverlap > 0 {
		return best, true
	}
	return "", false
}

func wordSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.FieldsFunc(s, func(r rune) bool {
		return !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9')
	}) {
		if len(w) > 2 { // skip filler words like "a", "of", "to"
			out[w] = true
		}
	}
	return out
}
