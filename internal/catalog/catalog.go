// Package catalog loads and validates the survey question catalogue.
package catalog

import (
	"fmt"
	"os"

	"github.com/ashureev/formvoice/internal/domain"
	"gopkg.in/yaml.v3"
)

// Catalog is an immutable, validated set of survey questions plus the entry
// step. Safe for concurrent reads.
type Catalog struct {
	entry     domain.StepRef
	order     []domain.StepRef
	questions map[domain.StepRef]domain.Question
}

// Load reads and parses a catalogue file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalogue file: %w", err)
	}
	cat, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse catalogue %s: %w", path, err)
	}
	return cat, nil
}

// Parse builds a Catalog from YAML and validates it.
func Parse(data []byte) (*Catalog, error) {
	var doc catalogDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal catalogue: %w", err)
	}

	cat := &Catalog{
		entry:     domain.StepRef(doc.Entry),
		questions: make(map[domain.StepRef]domain.Question, len(doc.Questions)),
	}
	for i := range doc.Questions {
		q, err := doc.Questions[i].toDomain()
		if err != nil {
			return nil, err
		}
		if _, dup := cat.questions[q.ID]; dup {
			return nil, fmt.Errorf("duplicate question id %q", q.ID)
		}
		cat.questions[q.ID] = q
		cat.order = append(cat.order, q.ID)
	}

	if err := cat.validate(); err != nil {
		return nil, err
	}
	return cat, nil
}

// EntryStep returns the first step of the survey.
func (c *Catalog) EntryStep() domain.StepRef {
	return c.entry
}

// Question looks up a question by step ID.
func (c *Catalog) Question(id domain.StepRef) (domain.Question, bool) {
	q, ok := c.questions[id]
	return q, ok
}

// Has reports whether id is a catalogue key or a terminal sentinel, i.e. a
// step a session is allowed to point at.
func (c *Catalog) Has(id domain.StepRef) bool {
	if id.IsTerminal() {
		return true
	}
	_, ok := c.questions[id]
	return ok
}

// Steps returns all questions in declaration order.
func (c *Catalog) Steps() []domain.Question {
	out := make([]domain.Question, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.questions[id])
	}
	return out
}

// ExposedSteps returns the subset of questions flagged for the public
// survey-data view.
func (c *Catalog) ExposedSteps() []domain.Question {
	out := make([]domain.Question, 0, len(c.order))
	for _, id := range c.order {
		if q := c.questions[id]; q.Expose {
			out = append(out, q)
		}
	}
	return out
}

// Len returns the number of catalogue questions.
func (c *Catalog) Len() int {
	return len(c.questions)
}

func (c *Catalog) validate() error {
	if len(c.questions) == 0 {
		return fmt.Errorf("catalogue has no questions")
	}
	if c.entry == "" {
		return fmt.Errorf("catalogue entry step is empty")
	}
	if _, ok := c.questions[c.entry]; !ok {
		return fmt.Errorf("entry step %q not in catalogue", c.entry)
	}

	for id, q := range c.questions {
		if err := c.validateQuestion(q); err != nil {
			return fmt.Errorf("question %q: %w", id, err)
		}
	}
	return nil
}

func (c *Catalog) validateQuestion(q domain.Question) error {
	switch q.Type {
	case domain.TypeChoice, domain.TypeMultipleChoice:
		if len(q.Options) == 0 {
			return fmt.Errorf("choice question has no options")
		}
	case domain.TypeNumber:
		min, minOK := staticBound(q.Min)
		max, maxOK := staticBound(q.Max)
		if minOK && maxOK && min > max {
			return fmt.Errorf("min %d exceeds max %d", min, max)
		}
	case domain.TypeCompositeNumber:
		if len(q.SubFields) == 0 {
			return fmt.Errorf("composite question has no sub-fields")
		}
		for _, f := range q.SubFields {
			if f.ID == "" {
				return fmt.Errorf("composite sub-field missing id")
			}
			if f.Min > f.Max {
				return fmt.Errorf("sub-field %q min %d exceeds max %d", f.ID, f.Min, f.Max)
			}
		}
	case domain.TypeText, domain.TypeShow:
	default:
		return fmt.Errorf("unknown question type %q", q.Type)
	}

	if err := c.validateRule(q.Rule); err != nil {
		return err
	}
	for _, b := range []*domain.Bound{q.Min, q.Max} {
		if b != nil && b.Ref != "" {
			if _, ok := c.questions[b.Ref]; !ok {
				return fmt.Errorf("bound references unknown step %q", b.Ref)
			}
		}
	}
	return nil
}

func (c *Catalog) validateRule(r domain.Rule) error {
	switch r.Kind {
	case domain.RuleDefault:
		if r.Default == "" {
			return fmt.Errorf("default rule has no target")
		}
	case domain.RuleOptions:
		if len(r.Options) == 0 {
			return fmt.Errorf("options rule has no cases")
		}
		if r.Default == "" {
			return fmt.Errorf("options rule has no default")
		}
	case domain.RuleContainsAny:
		if len(r.Cases) == 0 {
			return fmt.Errorf("contains_any rule has no cases")
		}
		if r.Default == "" {
			return fmt.Errorf("contains_any rule has no default")
		}
	case domain.RuleRange:
		if r.InRange == "" || r.OutOfRange == "" {
			return fmt.Errorf("range rule missing in/out targets")
		}
	case domain.RuleSumThreshold:
		if len(r.Sum.Of) == 0 {
			return fmt.Errorf("sum_threshold rule sums nothing")
		}
		if r.Sum.Below == "" || r.Sum.Otherwise == "" {
			return fmt.Errorf("sum_threshold rule missing targets")
		}
		for _, ref := range r.Sum.Of {
			if _, ok := c.questions[ref]; !ok {
				return fmt.Errorf("sum_threshold references unknown step %q", ref)
			}
		}
	default:
		return fmt.Errorf("unknown rule kind %q", r.Kind)
	}

	for _, target := range r.Targets() {
		if !c.Has(target) {
			return fmt.Errorf("rule targets unknown step %q", target)
		}
	}
	return nil
}

func staticBound(b *domain.Bound) (int, bool) {
	if b == nil || b.Ref != "" {
		return 0, false
	}
	return b.Value, true
}
