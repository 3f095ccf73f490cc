// Package nav implements the survey navigation engine: answer validation,
// branching next-step computation, and forward/backward/jump transitions.
package nav

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ashureev/formvoice/internal/catalog"
	"github.com/ashureev/formvoice/internal/domain"
)

// Validate checks a raw answer against a question's constraints and returns
// the canonical answer value. It never mutates its inputs. Rejections come
// back as *ValidationError.
func Validate(q domain.Question, raw any, answers map[string]any) (any, error) {
	switch q.Type {
	case domain.TypeShow:
		// Informational steps carry no answer.
		return nil, nil
	case domain.TypeChoice:
		return validateChoice(q, raw)
	case domain.TypeMultipleChoice:
		return validateMultipleChoice(q, raw)
	case domain.TypeNumber:
		return validateNumber(q, raw, answers)
	case domain.TypeText:
		return validateText(q, raw)
	case domain.TypeCompositeNumber:
		return validateComposite(q, raw)
	default:
		return nil, invalid(q.ID, "unsupported question type %q", q.Type)
	}
}

func validateChoice(q domain.Question, raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, invalid(q.ID, "expected a single option, got %T", raw)
	}
	s = strings.TrimSpace(s)
	for _, opt := range q.Options {
		if s == opt {
			return opt, nil
		}
	}
	return nil, invalid(q.ID, "%q is not one of the available options", s)
}

func validateMultipleChoice(q domain.Question, raw any) (any, error) {
	items, err := stringSlice(raw)
	if err != nil {
		return nil, invalid(q.ID, "expected a list of options, got %T", raw)
	}
	if len(items) == 0 {
		return nil, invalid(q.ID, "select at least one option")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		found := false
		for _, opt := range q.Options {
			if item == opt {
				out = append(out, opt)
				found = true
				break
			}
		}
		if !found {
			return nil, invalid(q.ID, "%q is not one of the available options", item)
		}
	}
	return out, nil
}

func validateNumber(q domain.Question, raw any, answers map[string]any) (any, error) {
	if q.UnknownOption != "" {
		if s, ok := raw.(string); ok && strings.TrimSpace(s) == q.UnknownOption {
			return q.UnknownOption, nil
		}
	}
	n, err := parseNumber(raw)
	if err != nil {
		return nil, invalid(q.ID, "expected a whole number")
	}
	if min, ok := q.Min.Resolve(answers); ok && n < min {
		return nil, invalid(q.ID, "value %d is below the minimum of %d", n, min)
	}
	if max, ok := q.Max.Resolve(answers); ok && n > max {
		return nil, invalid(q.ID, "value %d is above the maximum of %d", n, max)
	}
	return n, nil
}

func validateText(q domain.Question, raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, invalid(q.ID, "expected text, got %T", raw)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, invalid(q.ID, "answer cannot be empty")
	}
	return s, nil
}

func validateComposite(q domain.Question, raw any) (any, error) {
	if q.UnknownOption != "" {
		if s, ok := raw.(string); ok && strings.TrimSpace(s) == q.UnknownOption {
			return q.UnknownOption, nil
		}
	}
	fields, ok := raw.(map[string]any)
	if !ok {
		if typed, isTyped := raw.(map[string]int); isTyped {
			fields = make(map[string]any, len(typed))
			for k, v := range typed {
				fields[k] = v
			}
		} else {
			return nil, invalid(q.ID, "expected per-field values, got %T", raw)
		}
	}
	out := make(map[string]int, len(q.SubFields))
	for _, f := range q.SubFields {
		v, present := fields[f.ID]
		if !present {
			return nil, invalid(q.ID, "missing value for %s", f.Label)
		}
		n, err := parseNumber(v)
		if err != nil {
			return nil, invalid(q.ID, "%s must be a whole number", f.Label)
		}
		if n < f.Min || n > f.Max {
			return nil, invalid(q.ID, "%s must be between %d and %d", f.Label, f.Min, f.Max)
		}
		out[f.ID] = n
	}
	return out, nil
}

// NextStep evaluates a question's branching rule with the candidate answer
// overlaid on the accumulated answers. Deterministic: same inputs, same step.
func NextStep(q domain.Question, answer any, answers map[string]any) domain.StepRef {
	merged := make(map[string]any, len(answers)+1)
	for k, v := range answers {
		merged[k] = v
	}
	if answer != nil {
		merged[string(q.ID)] = answer
	}

	r := q.Rule
	switch r.Kind {
	case domain.RuleDefault:
		return r.Default
	case domain.RuleOptions:
		if s, ok := merged[string(q.ID)].(string); ok {
			if next, found := r.Options[s]; found {
				return next
			}
		}
		return r.Default
	case domain.RuleContainsAny:
		selected := selectedSet(merged[string(q.ID)])
		for _, c := range r.Cases {
			for _, opt := range c.Any {
				if selected[opt] {
					return c.Next
				}
			}
		}
		return r.Default
	case domain.RuleRange:
		n, ok := domain.NumericAnswer(merged[string(q.ID)])
		if !ok {
			// Unknown sentinel answers skip the range check.
			return r.InRange
		}
		if min, has := q.Min.Resolve(answers); has && n < min {
			return r.OutOfRange
		}
		if max, has := q.Max.Resolve(answers); has && n > max {
			return r.OutOfRange
		}
		return r.InRange
	case domain.RuleSumThreshold:
		total := 0
		for _, ref := range r.Sum.Of {
			if n, ok := domain.NumericAnswer(merged[string(ref)]); ok {
				total += n
			}
		}
		if total < r.Sum.Threshold {
			return r.Sum.Below
		}
		return r.Sum.Otherwise
	default:
		return r.Default
	}
}

// Advance validates the answer for the session's current step, computes the
// next step, and returns an updated copy of the session with the current step
// pushed onto history and the answer merged. All-or-nothing: on any error the
// original session is untouched and returned as-is.
func Advance(cat *catalog.Catalog, s *domain.Session, raw any) (*domain.Session, domain.StepRef, error) {
	if s.CurrentStep.IsTerminal() {
		return s, "", ErrSessionTerminal
	}
	q, ok := cat.Question(s.CurrentStep)
	if !ok {
		return s, "", fmt.Errorf("current step %q: %w", s.CurrentStep, ErrUnknownStep)
	}

	answer, err := Validate(q, raw, s.Answers)
	if err != nil {
		return s, "", err
	}
	next := NextStep(q, answer, s.Answers)

	updated := s.Clone()
	updated.History = append(updated.History, updated.CurrentStep)
	if answer != nil {
		updated.Answers[string(q.ID)] = answer
	}
	updated.CurrentStep = next
	return updated, next, nil
}

// Preview validates an answer and predicts the next step without mutating the
// session. Backs the dry-run confirmation flow.
func Preview(cat *catalog.Catalog, s *domain.Session, raw any) (domain.StepRef, error) {
	if s.CurrentStep.IsTerminal() {
		return "", ErrSessionTerminal
	}
	q, ok := cat.Question(s.CurrentStep)
	if !ok {
		return "", fmt.Errorf("current step %q: %w", s.CurrentStep, ErrUnknownStep)
	}
	answer, err := Validate(q, raw, s.Answers)
	if err != nil {
		return "", err
	}
	return NextStep(q, answer, s.Answers), nil
}

// GoBack pops the most recent history entry into the current step. Previously
// recorded answers are retained so the respondent sees their prior answer.
func GoBack(s *domain.Session) (*domain.Session, error) {
	if len(s.History) == 0 {
		return s, ErrNoHistory
	}
	updated := s.Clone()
	last := len(updated.History) - 1
	updated.CurrentStep = updated.History[last]
	updated.History = updated.History[:last]
	return updated, nil
}

// JumpTo moves the session directly to target. If the target appears in the
// visited history, history is truncated to just before its first occurrence,
// restoring the state as if the respondent had walked back to it. Otherwise
// the current step changes and history is left untouched.
func JumpTo(cat *catalog.Catalog, s *domain.Session, target domain.StepRef) (*domain.Session, error) {
	if !cat.Has(target) || target.IsTerminal() {
		return s, fmt.Errorf("jump target %q: %w", target, ErrUnknownStep)
	}
	updated := s.Clone()
	for i, step := range updated.History {
		if step == target {
			updated.History = updated.History[:i]
			updated.CurrentStep = target
			return updated, nil
		}
	}
	updated.CurrentStep = target
	return updated, nil
}

// JumpToOrdinal jumps to the n-th visited step (zero-based index into the
// history), truncating history at that point.
func JumpToOrdinal(s *domain.Session, ordinal int) (*domain.Session, error) {
	if ordinal < 0 || ordinal >= len(s.History) {
		return s, fmt.Errorf("history index %d out of range: %w", ordinal, ErrNoHistory)
	}
	updated := s.Clone()
	updated.CurrentStep = updated.History[ordinal]
	updated.History = updated.History[:ordinal]
	return updated, nil
}

// Progress summarizes how far a session has come.
type Progress struct {
	CurrentStep   domain.StepRef `json:"current_step"`
	AnsweredCount int            `json:"answered_count"`
	VisitedCount  int            `json:"visited_count"`
	TotalSteps    int            `json:"total_steps"`
	Completed     bool           `json:"completed"`
	Disqualified  bool           `json:"disqualified"`
}

// SessionProgress computes a progress summary for a session.
func SessionProgress(cat *catalog.Catalog, s *domain.Session) Progress {
	return Progress{
		CurrentStep:   s.CurrentStep,
		AnsweredCount: len(s.Answers),
		VisitedCount:  len(s.History),
		TotalSteps:    cat.Len(),
		Completed:     s.CurrentStep == domain.StepComplete,
		Disqualified:  s.CurrentStep == domain.StepDisqualified,
	}
}

func parseNumber(raw any) (int, error) {
	if n, ok := domain.NumericAnswer(raw); ok {
		return n, nil
	}
	if s, ok := raw.(string); ok {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return 0, fmt.Errorf("parse number %q: %w", s, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("not a number: %T", raw)
}

func stringSlice(raw any) ([]string, error) {
	switch items := raw.(type) {
	case []string:
		return items, nil
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("list element is %T, not string", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("not a list: %T", raw)
	}
}

func selectedSet(v any) map[string]bool {
	out := make(map[string]bool)
	switch val := v.(type) {
	case string:
		out[val] = true
	case []string:
		for _, s := range val {
			out[s] = true
		}
	case []any:
		for _, item := range val {
			if s, ok := item.(string); ok {
				out[s] = true
			}
		}
	}
	return out
}
