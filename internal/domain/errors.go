package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies stage failures so the orchestrator can decide whether
// a retry makes sense.
type ErrorKind string

const (
	// KindConnectivity covers an unreachable data store or HTTP endpoint.
	KindConnectivity ErrorKind = "connectivity"
	// KindSchema covers a missing column or a structurally wrong payload.
	KindSchema ErrorKind = "schema"
	// KindFormat covers values that do not match their mandatory format.
	KindFormat ErrorKind = "format"
	// KindConfig covers missing or invalid configuration.
	KindConfig ErrorKind = "config"
)

// StageError is the error type returned by every pipeline stage.
type StageError struct {
	Kind  ErrorKind
	Stage string // empty until the executor attributes the error
	Err   error
}

func (e *StageError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("stage %s: %s error: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Connectivity wraps err as a connectivity failure.
func Connectivity(err error) error {
	return &StageError{Kind: KindConnectivity, Err: err}
}

// Schema builds a schema failure from a format string.
func Schema(format string, args ...any) error {
	return &StageError{Kind: KindSchema, Err: fmt.Errorf(format, args...)}
}

// Format builds a value format failure from a format string.
func Format(format string, args ...any) error {
	return &StageError{Kind: KindFormat, Err: fmt.Errorf(format, args...)}
}

// Config builds a configuration failure from a format string.
func Config(format string, args ...any) error {
	return &StageError{Kind: KindConfig, Err: fmt.Errorf(format, args...)}
}

// IsKind reports whether any StageError in err's chain has the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// Retryable reports whether re-running the failed stage could succeed.
// Errors that carry no classification are treated as transient.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var se *StageError
	if !errors.As(err, &se) {
		return true
	}
	return se.Kind == KindConnectivity
}

// WithStage attributes err to the named stage. Unclassified errors are
// wrapped as connectivity failures of that stage.
func WithStage(stage string, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		if se.Stage == "" {
			se.Stage = stage
		}
		return err
	}
	return &StageError{Kind: KindConnectivity, Stage: stage, Err: err}
}
