package runs

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by a Store for an unknown run ID.
var ErrNotFound = errors.New("run not found")

// State is the pipeline-level state of a run.
type State string

const (
	StateNotStarted            State = "not_started"
	StateExtractionInFlight    State = "extraction_in_flight"
	StateExtractionComplete    State = "extraction_complete"
	StateNormalizationInFlight State = "normalization_in_flight"
	StateComplete              State = "complete"
	StateFailed                State = "failed"
)

// transitions lists the legal successors of each state. Failed is reachable
// from every non-terminal state and is handled separately.
var transitions = map[State][]State{
	StateNotStarted:            {StateExtractionInFlight},
	StateExtractionInFlight:    {StateExtractionComplete},
	StateExtractionComplete:    {StateNormalizationInFlight},
	StateNormalizationInFlight: {StateComplete},
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// CanTransition reports whether s may move to next.
func (s State) CanTransition(next State) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// StageStatus is the status of a single stage within a run.
type StageStatus string

const (
	// StageStatusPending indicates the stage has not been started.
	StageStatusPending StageStatus = "pending"
	// StageStatusRunning indicates the stage is currently executing.
	StageStatusRunning StageStatus = "running"
	// StageStatusRetrying indicates the stage failed and will be attempted again.
	StageStatusRetrying StageStatus = "retrying"
	// StageStatusSucceeded indicates the stage produced its artifact.
	StageStatusSucceeded StageStatus = "succeeded"
	// StageStatusFailed indicates the stage gave up.
	StageStatusFailed StageStatus = "failed"
)

// StageRun records the execution of one stage.
type StageRun struct {
	Name        string      `json:"name"`
	Status      StageStatus `json:"status"`
	Attempts    int         `json:"attempts"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// Run is one execution of a pipeline.
type Run struct {
	// RunID is the unique identifier for this run.
	RunID string `json:"run_id"`

	// Pipeline names the DAG being executed.
	Pipeline string `json:"pipeline"`

	State  State                `json:"state"`
	Stages map[string]*StageRun `json:"stages"`

	// FailedStage names the stage that caused a Failed state.
	FailedStage string `json:"failed_stage,omitempty"`
	Error       string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of r.
func (r *Run) Clone() *Run {
	c := *r
	c.Stages = make(map[string]*StageRun, len(r.Stages))
	for k, v := range r.Stages {
		s := *v
		c.Stages[k] = &s
	}
	return &c
}

// Store persists run state.
type Store interface {
	// SaveRun saves or updates a run.
	SaveRun(ctx context.Context, run *Run) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, runID string) (*Run, error)

	// ListRuns retrieves runs with optional filtering.
	ListRuns(ctx context.Context, filter Filter) ([]*Run, error)
}

// Filter defines filtering criteria for listing runs.
type Filter struct {
	Pipeline string
	State    State
	Limit    int
}

// TransitionError reports an illegal state change.
type TransitionError struct {
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal run transition %s -> %s", e.From, e.To)
}
