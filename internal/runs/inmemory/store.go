package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/audible-pipeline/internal/runs"
)

// Store keeps runs in process memory, which is all a one-shot invocation
// needs. Besides the latest snapshot of each run it records the sequence of
// run states it has seen. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	run     *runs.Run
	history []runs.State
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// SaveRun replaces the stored snapshot of run and appends its state to the
// history when it differs from the previous one.
func (s *Store) SaveRun(ctx context.Context, run *runs.Run) error {
	if run.RunID == "" {
		return fmt.Errorf("SaveRun: run ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[run.RunID]
	if !ok {
		e = &entry{}
		s.entries[run.RunID] = e
	}
	if n := len(e.history); n == 0 || e.history[n-1] != run.State {
		e.history = append(e.history, run.State)
	}
	e.run = run.Clone()
	return nil
}

// GetRun returns a copy of the latest snapshot of runID.
func (s *Store) GetRun(ctx context.Context, runID string) (*runs.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[runID]
	if !ok {
		return nil, fmt.Errorf("GetRun: %s: %w", runID, runs.ErrNotFound)
	}
	return e.run.Clone(), nil
}

// StateHistory returns the run states of runID in the order they were saved.
func (s *Store) StateHistory(ctx context.Context, runID string) ([]runs.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[runID]
	if !ok {
		return nil, fmt.Errorf("StateHistory: %s: %w", runID, runs.ErrNotFound)
	}
	return append([]runs.State(nil), e.history...), nil
}

// ListRuns returns the runs matching filter, oldest first.
func (s *Store) ListRuns(ctx context.Context, filter runs.Filter) ([]*runs.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*runs.Run
	for _, e := range s.entries {
		if filter.Pipeline != "" && e.run.Pipeline != filter.Pipeline {
			continue
		}
		if filter.State != "" && e.run.State != filter.State {
			continue
		}
		result = append(result, e.run.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].RunID < result[j].RunID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

var _ runs.Store = (*Store)(nil)
