package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/audible-pipeline/internal/domain"
	"github.com/dvloznov/audible-pipeline/internal/logger"
	"github.com/dvloznov/audible-pipeline/internal/runs"
)

// Stage is a single blocking unit of work in a DAG.
type Stage interface {
	Name() string
	Run(ctx context.Context) error
}

// Node places a stage in a DAG.
type Node struct {
	Stage     Stage
	DependsOn []string
}

// Phase maps a DAG level onto run states: Start on entry, Done once every
// stage of the level has succeeded.
type Phase struct {
	Start runs.State
	Done  runs.State
}

// DAG is a validated set of stages grouped into levels. Every stage of a
// level depends only on stages of earlier levels.
type DAG struct {
	name   string
	nodes  map[string]Node
	levels [][]string
	phases []Phase
}

// NewDAG validates nodes and computes the execution levels. Unknown
// dependencies, duplicate names and cycles are config errors.
func NewDAG(name string, nodes ...Node) (*DAG, error) {
	d := &DAG{name: name, nodes: make(map[string]Node, len(nodes))}
	for _, n := range nodes {
		if n.Stage == nil {
			return nil, domain.Config("NewDAG: %s: node without stage", name)
		}
		id := n.Stage.Name()
		if _, dup := d.nodes[id]; dup {
			return nil, domain.Config("NewDAG: %s: duplicate stage %q", name, id)
		}
		d.nodes[id] = n
	}

	indegree := make(map[string]int, len(d.nodes))
	dependents := make(map[string][]string, len(d.nodes))
	for id := range d.nodes {
		indegree[id] = 0
	}
	for id, n := range d.nodes {
		for _, dep := range n.DependsOn {
			if _, ok := d.nodes[dep]; !ok {
				return nil, domain.Config("NewDAG: %s: stage %q depends on unknown stage %q", name, id, dep)
			}
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []string
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	placed := 0
	for len(ready) > 0 {
		sort.Strings(ready)
		d.levels = append(d.levels, ready)
		placed += len(ready)

		var next []string
		for _, id := range ready {
			for _, dep := range dependents[id] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		ready = next
	}
	if placed != len(d.nodes) {
		return nil, domain.Config("NewDAG: %s: dependency cycle", name)
	}

	return d, nil
}

// WithPhases attaches run states to the levels, in order. The number of
// phases must match the number of levels. Without phases a run only ever
// leaves NotStarted to become Failed.
func (d *DAG) WithPhases(phases ...Phase) (*DAG, error) {
	if len(phases) != len(d.levels) {
		return nil, domain.Config("WithPhases: %s has %d levels, got %d phases", d.name, len(d.levels), len(phases))
	}
	d.phases = phases
	return d, nil
}

// Name returns the DAG name.
func (d *DAG) Name() string { return d.name }

// Levels returns the stage names grouped by execution level.
func (d *DAG) Levels() [][]string {
	out := make([][]string, len(d.levels))
	for i, l := range d.levels {
		out[i] = append([]string(nil), l...)
	}
	return out
}

// Stage returns the named stage.
func (d *DAG) Stage(name string) (Stage, bool) {
	n, ok := d.nodes[name]
	return n.Stage, ok
}

func (d *DAG) stageNames() []string {
	var names []string
	for _, l := range d.levels {
		names = append(names, l...)
	}
	return names
}

// NewAudiblePipeline wires [db_ingest, api_call] >> convert_currency.
func NewAudiblePipeline(joiner, fetcher, normalizer Stage) (*DAG, error) {
	d, err := NewDAG(PipelineName,
		Node{Stage: joiner},
		Node{Stage: fetcher},
		Node{Stage: normalizer, DependsOn: []string{joiner.Name(), fetcher.Name()}},
	)
	if err != nil {
		return nil, err
	}
	return d.WithPhases(
		Phase{Start: runs.StateExtractionInFlight, Done: runs.StateExtractionComplete},
		Phase{Start: runs.StateNormalizationInFlight, Done: runs.StateComplete},
	)
}

// Executor runs DAGs and single stages.
type Executor struct {
	Retry RetryPolicy
	// Store receives every run state change. It may be nil.
	Store runs.Store
}

// Execute runs d once. Stages of a level run concurrently; the next level
// starts only after every stage of the current one has succeeded. The first
// failure cancels its siblings and marks the run failed with that stage.
// The returned run is a snapshot of the final state.
func (e *Executor) Execute(ctx context.Context, d *DAG) (*runs.Run, error) {
	tracker, err := runs.NewTracker(ctx, e.Store, d.name, d.stageNames()...)
	if err != nil {
		return nil, fmt.Errorf("Execute: %w", err)
	}

	log := logger.FromContext(ctx).With().
		Str("run_id", tracker.RunID()).
		Str("pipeline", d.name).
		Logger()
	ctx = logger.WithContext(ctx, log)
	log.Info().Int("levels", len(d.levels)).Msg("run started")
	started := time.Now()

	for i, level := range d.levels {
		if i < len(d.phases) {
			if err := tracker.Transition(ctx, d.phases[i].Start); err != nil {
				return tracker.Snapshot(), fmt.Errorf("Execute: %w", err)
			}
		}

		if err := e.runLevel(ctx, tracker, d, level); err != nil {
			run := tracker.Snapshot()
			log.Error().Err(err).Str("failed_stage", run.FailedStage).Msg("run failed")
			return run, err
		}

		if i < len(d.phases) {
			if err := tracker.Transition(ctx, d.phases[i].Done); err != nil {
				return tracker.Snapshot(), fmt.Errorf("Execute: %w", err)
			}
		}
	}

	run := tracker.Snapshot()
	log.Info().Str("state", string(run.State)).Dur("duration", time.Since(started)).Msg("run finished")
	return run, nil
}

func (e *Executor) runLevel(ctx context.Context, tracker *runs.Tracker, d *DAG, level []string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range level {
		stage := d.nodes[name].Stage
		g.Go(func() error {
			err := e.runStage(gctx, tracker, stage)
			if err != nil {
				// recorded before the group cancels the siblings
				if ferr := tracker.Fail(ctx, stage.Name(), err); ferr != nil {
					log := logger.FromContext(ctx)
					log.Error().Err(ferr).Msg("recording failure")
				}
			}
			return err
		})
	}
	return g.Wait()
}

// RunStage runs a single stage outside a DAG run, with the same retry
// policy and logging.
func (e *Executor) RunStage(ctx context.Context, stage Stage) error {
	return e.runStage(ctx, nil, stage)
}

// runStage runs stage under the retry policy. tracker may be nil.
func (e *Executor) runStage(ctx context.Context, tracker *runs.Tracker, stage Stage) error {
	name := stage.Name()
	runID := ""
	if tracker != nil {
		runID = tracker.RunID()
	}
	ctx, log := logger.ForStage(ctx, runID, name)

	record := func(fn func() error) {
		if tracker == nil {
			return
		}
		if err := fn(); err != nil {
			log.Error().Err(err).Msg("recording stage status")
		}
	}

	started := time.Now()
	err := e.Retry.Do(ctx,
		func(ctx context.Context, attempt int) error {
			record(func() error { return tracker.StageStarted(ctx, name) })
			log.Info().Int("attempt", attempt).Msg("stage started")
			return domain.WithStage(name, stage.Run(ctx))
		},
		func(attempt int, err error) {
			record(func() error { return tracker.StageRetrying(ctx, name, err) })
			log.Warn().Err(err).Int("attempt", attempt).Dur("delay", e.Retry.Delay).Msg("stage failed, retrying")
		},
	)
	record(func() error { return tracker.StageFinished(ctx, name, err) })

	if err != nil {
		log.Error().Err(err).Dur("duration", time.Since(started)).Msg("stage failed")
		return err
	}
	log.Info().Dur("duration", time.Since(started)).Msg("stage succeeded")
	return nil
}
