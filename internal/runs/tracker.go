package runs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Tracker owns the mutable state of one run and mirrors every change into a
// Store. It is safe for concurrent use by the stages of a run.
type Tracker struct {
	mu    sync.Mutex
	store Store
	run   *Run
	now   func() time.Time

	// saveMu orders saves; it is taken before mu, never after.
	saveMu sync.Mutex
}

// NewTracker starts tracking a new run of the named pipeline with the given
// stages, all pending. store may be nil.
func NewTracker(ctx context.Context, store Store, pipeline string, stages ...string) (*Tracker, error) {
	t := &Tracker{
		store: store,
		now:   time.Now,
		run: &Run{
			RunID:    uuid.NewString(),
			Pipeline: pipeline,
			State:    StateNotStarted,
			Stages:   make(map[string]*StageRun, len(stages)),
		},
	}
	t.run.CreatedAt = t.now()
	for _, s := range stages {
		t.run.Stages[s] = &StageRun{Name: s, Status: StageStatusPending}
	}

	if err := t.save(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// RunID returns the identifier of the tracked run.
func (t *Tracker) RunID() string {
	return t.run.RunID
}

// Snapshot returns a copy of the current run state.
func (t *Tracker) Snapshot() *Run {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.run.Clone()
}

// Transition moves the run to next, rejecting illegal moves.
func (t *Tracker) Transition(ctx context.Context, next State) error {
	t.mu.Lock()
	if !t.run.State.CanTransition(next) {
		from := t.run.State
		t.mu.Unlock()
		return &TransitionError{From: from, To: next}
	}
	t.run.State = next
	if next.Terminal() {
		now := t.now()
		t.run.CompletedAt = &now
	}
	t.mu.Unlock()

	return t.save(ctx)
}

// Fail marks the run failed because of stage. The first failure wins; later
// calls are ignored once the run is terminal.
func (t *Tracker) Fail(ctx context.Context, stage string, cause error) error {
	t.mu.Lock()
	if t.run.State.Terminal() {
		t.mu.Unlock()
		return nil
	}
	now := t.now()
	t.run.State = StateFailed
	t.run.FailedStage = stage
	if cause != nil {
		t.run.Error = cause.Error()
	}
	t.run.CompletedAt = &now
	t.mu.Unlock()

	return t.save(ctx)
}

// StageStarted records the start of an attempt.
func (t *Tracker) StageStarted(ctx context.Context, stage string) error {
	return t.updateStage(ctx, stage, func(s *StageRun, now time.Time) {
		s.Status = StageStatusRunning
		s.Attempts++
		s.StartedAt = &now
		s.CompletedAt = nil
	})
}

// StageRetrying records a failed attempt that will be retried.
func (t *Tracker) StageRetrying(ctx context.Context, stage string, cause error) error {
	return t.updateStage(ctx, stage, func(s *StageRun, now time.Time) {
		s.Status = StageStatusRetrying
		s.Error = cause.Error()
	})
}

// StageFinished records the outcome of the final attempt.
func (t *Tracker) StageFinished(ctx context.Context, stage string, cause error) error {
	return t.updateStage(ctx, stage, func(s *StageRun, now time.Time) {
		s.CompletedAt = &now
		if cause != nil {
			s.Status = StageStatusFailed
			s.Error = cause.Error()
			return
		}
		s.Status = StageStatusSucceeded
		s.Error = ""
	})
}

func (t *Tracker) updateStage(ctx context.Context, stage string, fn func(s *StageRun, now time.Time)) error {
	t.mu.Lock()
	s, ok := t.run.Stages[stage]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("Tracker: unknown stage %q", stage)
	}
	fn(s, t.now())
	t.mu.Unlock()

	return t.save(ctx)
}

func (t *Tracker) save(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	t.saveMu.Lock()
	defer t.saveMu.Unlock()
	if err := t.store.SaveRun(ctx, t.Snapshot()); err != nil {
		return fmt.Errorf("Tracker: saving run %s: %w", t.run.RunID, err)
	}
	return nil
}
