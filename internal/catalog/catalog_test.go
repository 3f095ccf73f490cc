package catalog

import (
	"strings"
	"testing"

	"github.com/ashureev/formvoice/internal/domain"
)

const sampleYAML = `
entry: Q1
questions:
  - id: Q1
    prompt: Pick one.
    type: choice
    expose: true
    options: ["Red", "Blue"]
    next:
      kind: options
      options:
        Red: Q2
      default: TERMINATE
  - id: Q2
    prompt: How many?
    type: number
    min: 1
    max: 10
    next:
      kind: range
      in_range: Q3
      out_of_range: TERMINATE
  - id: Q3
    prompt: "You said {answer:Q1}. How many more?"
    type: number
    min: 0
    max:
      ref: Q2
    next:
      kind: default
      default: END
`

func TestParse(t *testing.T) {
	cat, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cat.EntryStep() != "Q1" {
		t.Errorf("Expected entry step Q1, got %s", cat.EntryStep())
	}
	if cat.Len() != 3 {
		t.Errorf("Expected 3 questions, got %d", cat.Len())
	}

	q, ok := cat.Question("Q3")
	if !ok {
		t.Fatal("Expected Q3 to be present")
	}
	if q.Max == nil || q.Max.Ref != "Q2" {
		t.Errorf("Expected Q3 max to reference Q2, got %+v", q.Max)
	}

	if !cat.Has(domain.StepComplete) || !cat.Has(domain.StepDisqualified) {
		t.Error("Expected terminal sentinels to be valid steps")
	}
	if cat.Has("Q99") {
		t.Error("Expected Q99 to be unknown")
	}
}

func TestParse_StepsOrder(t *testing.T) {
	cat, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	steps := cat.Steps()
	want := []domain.StepRef{"Q1", "Q2", "Q3"}
	if len(steps) != len(want) {
		t.Fatalf("Expected %d steps, got %d", len(want), len(steps))
	}
	for i, id := range want {
		if steps[i].ID != id {
			t.Errorf("Expected step %d to be %s, got %s", i, id, steps[i].ID)
		}
	}
}

func TestParse_ExposedSteps(t *testing.T) {
	cat, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	exposed := cat.ExposedSteps()
	if len(exposed) != 1 || exposed[0].ID != "Q1" {
		t.Errorf("Expected only Q1 exposed, got %v", exposed)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "duplicate id",
			yaml: `
entry: Q1
questions:
  - id: Q1
    type: show
    next: {kind: default, default: END}
  - id: Q1
    type: show
    next: {kind: default, default: END}
`,
			want: "duplicate question id",
		},
		{
			name: "unknown entry",
			yaml: `
entry: Q9
questions:
  - id: Q1
    type: show
    next: {kind: default, default: END}
`,
			want: "entry step",
		},
		{
			name: "unknown rule target",
			yaml: `
entry: Q1
questions:
  - id: Q1
    type: show
    next: {kind: default, default: Q7}
`,
			want: "unknown step",
		},
		{
			name: "choice without options",
			yaml: `
entry: Q1
questions:
  - id: Q1
    type: choice
    next: {kind: default, default: END}
`,
			want: "no options",
		},
		{
			name: "dangling bound ref",
			yaml: `
entry: Q1
questions:
  - id: Q1
    type: number
    max: {ref: Q9}
    next: {kind: default, default: END}
`,
			want: "unknown step",
		},
		{
			name: "sum over unknown step",
			yaml: `
entry: Q1
questions:
  - id: Q1
    type: number
    next:
      kind: sum_threshold
      sum: {of: [Q9], threshold: 5, below: END, otherwise: END}
`,
			want: "unknown step",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestRenderPrompt(t *testing.T) {
	cat, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	q, _ := cat.Question("Q3")

	got := RenderPrompt(q, map[string]any{"Q1": "Red"})
	if got != "You said Red. How many more?" {
		t.Errorf("Unexpected rendered prompt: %q", got)
	}

	// Unanswered reference renders as a blank.
	got = RenderPrompt(q, map[string]any{})
	if got != "You said . How many more?" {
		t.Errorf("Unexpected rendered prompt: %q", got)
	}
}

func TestRenderPrompt_AnswerKinds(t *testing.T) {
	q := domain.Question{Prompt: "Selected: {answer:M1}, count: {answer:N1}"}
	got := RenderPrompt(q, map[string]any{
		"M1": []string{"A", "B"},
		"N1": 7,
	})
	if got != "Selected: A, B, count: 7" {
		t.Errorf("Unexpected rendered prompt: %q", got)
	}
}
