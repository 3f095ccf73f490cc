package domain

// QuestionType enumerates the supported kinds of survey questions.
type QuestionType string

const (
	TypeChoice          QuestionType = "choice"
	TypeMultipleChoice  QuestionType = "multiple_choice"
	TypeNumber          QuestionType = "number"
	TypeText            QuestionType = "text"
	TypeCompositeNumber QuestionType = "composite_number"
	TypeShow            QuestionType = "show"
)

// Bound is a numeric limit that is either a literal value or a reference to a
// previously answered numeric question.
type Bound struct {
	Value int
	Ref   StepRef // when non-empty, the bound is the answer to this step
}

// Resolve returns the effective bound value given the accumulated answers.
// A dangling reference resolves to (0, false) and the bound is ignored.
func (b *Bound) Resolve(answers map[string]any) (int, bool) {
	if b == nil {
		return 0, false
	}
	if b.Ref == "" {
		return b.Value, true
	}
	n, ok := NumericAnswer(answers[string(b.Ref)])
	return n, ok
}

// SubField is one component of a composite numeric question.
type SubField struct {
	ID    string
	Label string
	Min   int
	Max   int
}

// Question is a single step of the survey catalogue.
type Question struct {
	ID            StepRef
	Prompt        string // may contain {answer:STEP} substitution tokens
	Type          QuestionType
	Options       []string
	Min           *Bound
	Max           *Bound
	SubFields     []SubField
	UnknownOption string // sentinel answer that bypasses numeric validation
	Expose        bool   // included in the public survey-data view
	Rule          Rule
}

// RuleKind enumerates the declarative branching rule forms.
type RuleKind string

const (
	RuleDefault      RuleKind = "default"
	RuleOptions      RuleKind = "options"
	RuleContainsAny  RuleKind = "contains_any"
	RuleRange        RuleKind = "range"
	RuleSumThreshold RuleKind = "sum_threshold"
)

// ContainsCase maps a set of options to a next step. Cases are evaluated in
// order; the first one whose options intersect the answer wins.
type ContainsCase struct {
	Any  []string
	Next StepRef
}

// SumRule routes on the sum of previously answered numeric questions.
type SumRule struct {
	Of        []StepRef
	Threshold int
	Below     StepRef // taken when the sum is strictly below the threshold
	Otherwise StepRef
}

// Rule decides the next step after a question is answered. Evaluation is pure:
// it reads only the candidate answer and the accumulated answers.
type Rule struct {
	Kind       RuleKind
	Default    StepRef
	Options    map[string]StepRef // RuleOptions
	Cases      []ContainsCase     // RuleContainsAny
	InRange    StepRef            // RuleRange
	OutOfRange StepRef            // RuleRange
	Sum        SumRule            // RuleSumThreshold
}

// Targets returns every step the rule can route to, for catalogue validation.
func (r Rule) Targets() []StepRef {
	var out []StepRef
	add := func(s StepRef) {
		if s != "" {
			out = append(out, s)
		}
	}
	add(r.Default)
	for _, next := range r.Options {
		add(next)
	}
	for _, c := range r.Cases {
		add(c.Next)
	}
	add(r.InRange)
	add(r.OutOfRange)
	add(r.Sum.Below)
	add(r.Sum.Otherwise)
	return out
}
