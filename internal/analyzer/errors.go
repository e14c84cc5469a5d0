package analyzer

import (
	"errors"
	"fmt"
	"strings"
)

// InvalidInputError reports a malformed failure record. It is the only error
// AnalyzeFailure returns to its caller.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid failure record: %s %s", e.Field, e.Reason)
}

// IsInvalidInput checks if an error is an InvalidInputError.
func IsInvalidInput(err error) bool {
	var ie *InvalidInputError
	return errors.As(err, &ie)
}

// Outcome describes what happened to one remote backend during an analysis.
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeFailed       Outcome = "failed"
	OutcomeUnconfigured Outcome = "skipped_unconfigured"
	OutcomeCircuitOpen  Outcome = "skipped_circuit_open"
)

// Attempt is one backend's part in an analysis.
type Attempt struct {
	Backend string
	Outcome Outcome
	Tries   int
	Err     error
}

// ExhaustedError means every remote backend failed or was skipped. It never
// reaches the caller as an error; the heuristic result replaces it.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return "no remote backends available"
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		part := fmt.Sprintf("%s: %s", a.Backend, a.Outcome)
		if a.Err != nil {
			part = fmt.Sprintf("%s (%v)", part, a.Err)
		}
		parts = append(parts, part)
	}
	return "all remote backends exhausted: " + strings.Join(parts, "; ")
}

// IsExhausted checks if an error is an ExhaustedError.
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}
