package inmemory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/audible-pipeline/internal/runs"
)

func TestStore_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	run := &runs.Run{
		RunID:  "run-1",
		State:  runs.StateNotStarted,
		Stages: map[string]*runs.StageRun{"db_ingest": {Name: "db_ingest", Status: runs.StageStatusPending}},
	}
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}

	// mutations after saving must not leak into the store
	run.State = runs.StateFailed
	run.Stages["db_ingest"].Status = runs.StageStatusFailed

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.State != runs.StateNotStarted {
		t.Errorf("State = %s, want not_started", got.State)
	}
	if got.Stages["db_ingest"].Status != runs.StageStatusPending {
		t.Errorf("stage status = %s, want pending", got.Stages["db_ingest"].Status)
	}
}

func TestStore_SaveWithoutID(t *testing.T) {
	if err := NewStore().SaveRun(context.Background(), &runs.Run{}); err == nil {
		t.Error("SaveRun() error = nil, want error for missing ID")
	}
}

func TestStore_GetMissing(t *testing.T) {
	if _, err := NewStore().GetRun(context.Background(), "nope"); !errors.Is(err, runs.ErrNotFound) {
		t.Errorf("GetRun() error = %v, want ErrNotFound", err)
	}
	if _, err := NewStore().StateHistory(context.Background(), "nope"); !errors.Is(err, runs.ErrNotFound) {
		t.Errorf("StateHistory() error = %v, want ErrNotFound", err)
	}
}

func TestStore_ListRuns(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, st := range []runs.State{runs.StateComplete, runs.StateFailed, runs.StateComplete} {
		_ = store.SaveRun(ctx, &runs.Run{
			RunID:     string(rune('a' + i)),
			Pipeline:  "audible_pipeline",
			State:     st,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}
	_ = store.SaveRun(ctx, &runs.Run{RunID: "other", Pipeline: "other", State: runs.StateComplete, CreatedAt: base})

	tests := []struct {
		name   string
		filter runs.Filter
		want   []string
	}{
		{name: "by pipeline", filter: runs.Filter{Pipeline: "audible_pipeline"}, want: []string{"a", "b", "c"}},
		{name: "by state", filter: runs.Filter{Pipeline: "audible_pipeline", State: runs.StateComplete}, want: []string{"a", "c"}},
		{name: "limit", filter: runs.Filter{Pipeline: "audible_pipeline", Limit: 1}, want: []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListRuns(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListRuns() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ListRuns() = %d runs, want %d", len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].RunID != id {
					t.Errorf("run %d = %s, want %s", i, got[i].RunID, id)
				}
			}
		})
	}
}

func TestStore_StateHistory(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	saves := []runs.State{
		runs.StateNotStarted,
		runs.StateExtractionInFlight,
		runs.StateExtractionInFlight, // stage update, same run state
		runs.StateExtractionComplete,
		runs.StateFailed,
	}
	for _, st := range saves {
		if err := store.SaveRun(ctx, &runs.Run{RunID: "run-1", State: st}); err != nil {
			t.Fatalf("SaveRun(%s) error = %v", st, err)
		}
	}

	got, err := store.StateHistory(ctx, "run-1")
	if err != nil {
		t.Fatalf("StateHistory() error = %v", err)
	}
	want := []runs.State{runs.StateNotStarted, runs.StateExtractionInFlight, runs.StateExtractionComplete, runs.StateFailed}
	if len(got) != len(want) {
		t.Fatalf("StateHistory() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("StateHistory()[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	got[0] = runs.StateComplete
	again, _ := store.StateHistory(ctx, "run-1")
	if again[0] != runs.StateNotStarted {
		t.Error("StateHistory() returned the stored slice")
	}
}
