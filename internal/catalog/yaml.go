package catalog

import (
	"fmt"

	"github.com/ashureev/formvoice/internal/domain"
	"gopkg.in/yaml.v3"
)

// catalogDoc is the on-disk YAML shape of a catalogue.
type catalogDoc struct {
	Entry     string         `yaml:"entry"`
	Questions []yamlQuestion `yaml:"questions"`
}

type yamlQuestion struct {
	ID            string         `yaml:"id"`
	Prompt        string         `yaml:"prompt"`
	Type          string         `yaml:"type"`
	Options       []string       `yaml:"options"`
	Min           *yamlBound     `yaml:"min"`
	Max           *yamlBound     `yaml:"max"`
	SubFields     []yamlSubField `yaml:"sub_fields"`
	UnknownOption string         `yaml:"unknown_option"`
	Expose        bool           `yaml:"expose"`
	Next          yamlRule       `yaml:"next"`
}

type yamlSubField struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
	Min   int    `yaml:"min"`
	Max   int    `yaml:"max"`
}

// yamlBound accepts either a bare integer or {ref: STEP}.
type yamlBound struct {
	Value int
	Ref   string
}

func (b *yamlBound) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&b.Value)
	}
	var ref struct {
		Ref string `yaml:"ref"`
	}
	if err := node.Decode(&ref); err != nil {
		return fmt.Errorf("bound must be an integer or {ref: STEP}: %w", err)
	}
	if ref.Ref == "" {
		return fmt.Errorf("bound ref is empty")
	}
	b.Ref = ref.Ref
	return nil
}

type yamlRule struct {
	Kind       string            `yaml:"kind"`
	Default    string            `yaml:"default"`
	Options    map[string]string `yaml:"options"`
	Cases      []yamlCase        `yaml:"cases"`
	InRange    string            `yaml:"in_range"`
	OutOfRange string            `yaml:"out_of_range"`
	Sum        yamlSum           `yaml:"sum"`
}

type yamlCase struct {
	Any  []string `yaml:"any"`
	Next string   `yaml:"next"`
}

type yamlSum struct {
	Of        []string `yaml:"of"`
	Threshold int      `yaml:"threshold"`
	Below     string   `yaml:"below"`
	Otherwise string   `yaml:"otherwise"`
}

func (q *yamlQuestion) toDomain() (domain.Question, error) {
	if q.ID == "" {
		return domain.Question{}, fmt.Errorf("question missing id")
	}
	out := domain.Question{
		ID:            domain.StepRef(q.ID),
		Prompt:        q.Prompt,
		Type:          domain.QuestionType(q.Type),
		Options:       q.Options,
		UnknownOption: q.UnknownOption,
		Expose:        q.Expose,
	}
	if q.Min != nil {
		out.Min = &domain.Bound{Value: q.Min.Value, Ref: domain.StepRef(q.Min.Ref)}
	}
	if q.Max != nil {
		out.Max = &domain.Bound{Value: q.Max.Value, Ref: domain.StepRef(q.Max.Ref)}
	}
	for _, f := range q.SubFields {
		out.SubFields = append(out.SubFields, domain.SubField{
			ID:    f.ID,
			Label: f.Label,
			Min:   f.Min,
			Max:   f.Max,
		})
	}

	rule, err := q.Next.toDomain()
	if err != nil {
		return domain.Question{}, fmt.Errorf("question %q: %w", q.ID, err)
	}
	out.Rule = rule
	return out, nil
}

func (r *yamlRule) toDomain() (domain.Rule, error) {
	kind := domain.RuleKind(r.Kind)
	if r.Kind == "" {
		// A bare "default: STEP" mapping implies the default rule.
		if r.Default == "" {
			return domain.Rule{}, fmt.Errorf("rule missing kind")
		}
		kind = domain.RuleDefault
	}

	out := domain.Rule{
		Kind:       kind,
		Default:    domain.StepRef(r.Default),
		InRange:    domain.StepRef(r.InRange),
		OutOfRange: domain.StepRef(r.OutOfRange),
	}
	if len(r.Options) > 0 {
		m := make(map[string]domain.StepRef, len(r.Options))
		for opt, next := range r.Options {
			m[opt] = domain.StepRef(next)
		}
		out.Options = m
	}
	for _, c := range r.Cases {
		out.Cases = append(out.Cases, domain.ContainsCase{
			Any:  c.Any,
			Next: domain.StepRef(c.Next),
		})
	}
	if kind == domain.RuleSumThreshold {
		sum := domain.SumRule{
			Threshold: r.Sum.Threshold,
			Below:     domain.StepRef(r.Sum.Below),
			Otherwise: domain.StepRef(r.Sum.Otherwise),
		}
		for _, of := range r.Sum.Of {
			sum.Of = append(sum.Of, domain.StepRef(of))
		}
		out.Sum = sum
	}
	return out, nil
}
