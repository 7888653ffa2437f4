package utils

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds surfaced by the investigation pipeline. Match with errors.Is.
var (
	// ErrRetrievalUnavailable marks a search call that failed on every leg.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	// ErrSynthesisUnavailable marks a generative model failure or unusable output.
	ErrSynthesisUnavailable = errors.New("synthesis unavailable")
	// ErrScopeResolution marks a question whose scope cannot be resolved.
	ErrScopeResolution = errors.New("scope resolution failed")
	// ErrEvidenceExhausted marks a run with no evidence and no similar incidents.
	ErrEvidenceExhausted = errors.New("evidence exhausted")
	// ErrCircuitOpen is returned while a provider's circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit open")
)

// AppError wraps an operation, human-facing message, and underlying error.
// Kind is set for errors built by KindError, whose Msg already carries the
// cause.
type AppError struct {
	Op   string
	Msg  string
	Kind error
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil || e.Kind != nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// KindError constructs an AppError that matches kind and still unwraps to
// cause. The message names the kind once and stays on a single line.
func KindError(op string, kind, cause error) error {
	if cause == nil {
		return &AppError{Op: op, Msg: kind.Error(), Kind: kind, Err: kind}
	}
	return &AppError{
		Op:   op,
		Msg:  kind.Error() + ": " + singleLine(cause.Error()),
		Kind: kind,
		Err:  errors.Join(kind, cause),
	}
}

func singleLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "; ")
}
