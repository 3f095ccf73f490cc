// Package domain contains core domain types for the formvoice application.
package domain

// StepRef identifies a survey step: either a catalogue question ID or one of
// the terminal sentinels.
type StepRef string

const (
	// StepComplete marks a session that reached the end of the survey.
	StepComplete StepRef = "END"
	// StepDisqualified marks a session terminated by a screening rule.
	StepDisqualified StepRef = "TERMINATE"
)

// IsTerminal returns true if the step is one of the terminal sentinels.
func (s StepRef) IsTerminal() bool {
	return s == StepComplete || s == StepDisqualified
}
