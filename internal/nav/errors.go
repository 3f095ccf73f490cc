package nav

import (
	"errors"
	"fmt"

	"github.com/ashureev/formvoice/internal/domain"
)

var (
	// ErrNoHistory is returned by GoBack when the session is at its first step.
	ErrNoHistory = errors.New("no previous step to return to")

	// ErrSessionTerminal is returned when a mutation targets a completed or
	// disqualified session.
	ErrSessionTerminal = errors.New("session is in a terminal state")

	// ErrUnknownStep is returned when a step reference is neither a catalogue
	// key nor a terminal sentinel.
	ErrUnknownStep = errors.New("unknown step")
)

// ValidationError describes why an answer was rejected. It is an expected
// outcome, reported inline to the submitting driver, never a failure.
type ValidationError struct {
	Step   domain.StepRef
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid answer for %s: %s", e.Step, e.Reason)
}

func invalid(step domain.StepRef, format string, args ...any) error {
	return &ValidationError{Step: step, Reason: fmt.Sprintf(format, args...)}
}
