package domain

import (
	"math"
	"time"
)

// Session is the canonical per-respondent survey state. The ID is opaque and
// client-generated; answers are keyed by step ID.
type Session struct {
	ID          string         `json:"session_id"`
	CurrentStep StepRef        `json:"current_step"`
	Answers     map[string]any `json:"answers"`
	History     []StepRef      `json:"step_history"`
	VoiceMode   bool           `json:"is_audio_mode"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// NewSession creates a fresh session positioned at the given entry step.
func NewSession(id string, entry StepRef, voiceMode bool) *Session {
	now := time.Now()
	return &Session{
		ID:          id,
		CurrentStep: entry,
		Answers:     make(map[string]any),
		History:     []StepRef{},
		VoiceMode:   voiceMode,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy so mutations can be all-or-nothing.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Answers = make(map[string]any, len(s.Answers))
	for k, v := range s.Answers {
		cp.Answers[k] = cloneAnswer(v)
	}
	cp.History = make([]StepRef, len(s.History))
	copy(cp.History, s.History)
	return &cp
}

func cloneAnswer(v any) any {
	switch val := v.(type) {
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	case map[string]int:
		out := make(map[string]int, len(val))
		for k, n := range val {
			out[k] = n
		}
		return out
	default:
		return val
	}
}

// NumericAnswer extracts an int from an answer value. JSON round-trips turn
// numbers into float64, so both forms are accepted.
func NumericAnswer(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == math.Trunc(n) {
			return int(n), true
		}
		return 0, false
	default:
		return 0, false
	}
}

// NormalizeAnswers canonicalizes answer values decoded from JSON or YAML:
// integral floats become ints, []any becomes []string, and nested maps become
// map[string]int. Applied at every ingest boundary so that a saved session
// loads back field-for-field identical.
func NormalizeAnswers(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = NormalizeAnswer(v)
	}
	return out
}

// NormalizeAnswer canonicalizes a single answer value.
func NormalizeAnswer(v any) any {
	switch val := v.(type) {
	case float64:
		if val == math.Trunc(val) {
			return int(val)
		}
		return val
	case int64:
		return int(val)
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return val
	case map[string]any:
		out := make(map[string]int, len(val))
		for k, item := range val {
			if n, ok := NumericAnswer(item); ok {
				out[k] = n
			}
		}
		return out
	default:
		return val
	}
}
