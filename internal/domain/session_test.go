package domain

import (
	"reflect"
	"testing"
)

func TestStepRefIsTerminal(t *testing.T) {
	if !StepComplete.IsTerminal() {
		t.Error("Expected END to be terminal")
	}
	if !StepDisqualified.IsTerminal() {
		t.Error("Expected TERMINATE to be terminal")
	}
	if StepRef("S1").IsTerminal() {
		t.Error("Expected S1 to be non-terminal")
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := NewSession("sess-1", "S1", false)
	s.Answers["S2"] = []string{"Cardiology"}
	s.Answers["A6"] = map[string]int{"feet": 5, "inches": 9}
	s.History = []StepRef{"S1"}

	cp := s.Clone()
	cp.Answers["S2"].([]string)[0] = "Oncology"
	cp.Answers["A6"].(map[string]int)["feet"] = 6
	cp.History[0] = "S2"

	if s.Answers["S2"].([]string)[0] != "Cardiology" {
		t.Error("Expected clone to copy slice answers")
	}
	if s.Answers["A6"].(map[string]int)["feet"] != 5 {
		t.Error("Expected clone to copy map answers")
	}
	if s.History[0] != "S1" {
		t.Error("Expected clone to copy history")
	}
}

func TestNumericAnswer(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  int
		ok    bool
	}{
		{"int", 42, 42, true},
		{"int64", int64(7), 7, true},
		{"integral float", float64(12), 12, true},
		{"fractional float", 12.5, 0, false},
		{"string", "12", 0, false},
		{"nil", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NumericAnswer(tt.input)
			if got != tt.want || ok != tt.ok {
				t.Errorf("NumericAnswer(%v) = (%d, %v), want (%d, %v)", tt.input, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestNormalizeAnswers(t *testing.T) {
	raw := map[string]any{
		"S7":  float64(15),
		"S12": 42.5,
		"S2":  []any{"Cardiology", "Oncology"},
		"A6":  map[string]any{"feet": float64(5), "inches": float64(9)},
		"A7":  "free text",
	}

	got := NormalizeAnswers(raw)

	want := map[string]any{
		"S7":  15,
		"S12": 42.5,
		"S2":  []string{"Cardiology", "Oncology"},
		"A6":  map[string]int{"feet": 5, "inches": 9},
		"A7":  "free text",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %#v, got %#v", want, got)
	}
}

func TestBoundResolve(t *testing.T) {
	answers := map[string]any{"S12_1": 40}

	static := &Bound{Value: 10}
	if v, ok := static.Resolve(answers); !ok || v != 10 {
		t.Errorf("Expected static bound 10, got (%d, %v)", v, ok)
	}

	dynamic := &Bound{Ref: "S12_1"}
	if v, ok := dynamic.Resolve(answers); !ok || v != 40 {
		t.Errorf("Expected dynamic bound 40, got (%d, %v)", v, ok)
	}

	missing := &Bound{Ref: "S99"}
	if _, ok := missing.Resolve(answers); ok {
		t.Error("Expected unresolved bound for missing answer")
	}

	var nilBound *Bound
	if _, ok := nilBound.Resolve(answers); ok {
		t.Error("Expected nil bound to report unresolved")
	}
}
