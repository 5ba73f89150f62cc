package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"sync"

	"github.com/dvloznov/audible-pipeline/internal/domain"
)

// MockTableSource is a mock implementation of TableSource for testing.
type MockTableSource struct {
	FetchTableFunc func(ctx context.Context, name string) (domain.Table, error)
	Tables         map[string]domain.Table
	Closed         bool
}

func (m *MockTableSource) FetchTable(ctx context.Context, name string) (domain.Table, error) {
	if m.FetchTableFunc != nil {
		return m.FetchTableFunc(ctx, name)
	}
	t, ok := m.Tables[name]
	if !ok {
		return domain.Table{}, domain.Schema("table %s does not exist", name)
	}
	return t, nil
}

func (m *MockTableSource) Close() error {
	m.Closed = true
	return nil
}

// opener returns a SourceOpener handing out m.
func (m *MockTableSource) opener() SourceOpener {
	return func(context.Context) (TableSource, error) { return m, nil }
}

// MockArtifactStore keeps artifacts in memory.
type MockArtifactStore struct {
	WriteFunc func(ctx context.Context, name string, t domain.Table) error

	mu        sync.Mutex
	artifacts map[string]domain.Table
}

func NewMockArtifactStore() *MockArtifactStore {
	return &MockArtifactStore{artifacts: make(map[string]domain.Table)}
}

func (m *MockArtifactStore) Write(ctx context.Context, name string, t domain.Table) error {
	if m.WriteFunc != nil {
		if err := m.WriteFunc(ctx, name, t); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[name] = t
	return nil
}

func (m *MockArtifactStore) Read(ctx context.Context, name string) (domain.Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.artifacts[name]
	if !ok {
		return domain.Table{}, fmt.Errorf("read %s: %w", name, fs.ErrNotExist)
	}
	return t, nil
}

func (m *MockArtifactStore) Location(name string) string {
	return "mem://" + name
}

// MockRateClient is a mock implementation of RateClient for testing.
type MockRateClient struct {
	FetchFunc func(ctx context.Context) (map[string]float64, error)
}

func (m *MockRateClient) Fetch(ctx context.Context) (map[string]float64, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx)
	}
	return map[string]float64{"2023-01-01": 35}, nil
}

// fakeStage is a Stage whose behaviour is supplied by the test.
type fakeStage struct {
	name  string
	runFn func(ctx context.Context) error

	mu    sync.Mutex
	calls int
}

func (s *fakeStage) Name() string { return s.name }

func (s *fakeStage) Run(ctx context.Context) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.runFn != nil {
		return s.runFn(ctx)
	}
	return nil
}

func (s *fakeStage) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// table builds a table from a header and rows; "<null>" marks a null cell.
func table(cols []string, rows ...[]string) domain.Table {
	t := domain.NewTable(cols...)
	for _, r := range rows {
		cells := make([]domain.Cell, len(r))
		for i, v := range r {
			if v != "<null>" {
				cells[i] = domain.Str(v)
			}
		}
		t.Append(cells...)
	}
	return t
}
