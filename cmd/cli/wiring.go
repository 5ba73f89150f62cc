package main

import (
	"context"
	"fmt"

	"github.com/dvloznov/audible-pipeline/internal/artifact"
	"github.com/dvloznov/audible-pipeline/internal/config"
	"github.com/dvloznov/audible-pipeline/internal/pipeline"
	"github.com/dvloznov/audible-pipeline/internal/rates"
	"github.com/dvloznov/audible-pipeline/internal/runs/inmemory"
	"github.com/dvloznov/audible-pipeline/internal/source"
)

// wiring builds the stages of the audible pipeline from configuration.
type wiring struct {
	cfg   *config.Config
	store artifact.Store
	runs  *inmemory.Store
}

func newWiring(ctx context.Context, cfg *config.Config) (*wiring, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &wiring{cfg: cfg, store: store, runs: inmemory.NewStore()}, nil
}

func openStore(ctx context.Context, cfg *config.Config) (artifact.Store, error) {
	store, err := artifact.NewStore(ctx, cfg.ArtifactDir)
	if err != nil {
		return nil, fmt.Errorf("openStore: %s: %w", cfg.ArtifactDir, err)
	}
	return store, nil
}

func (w *wiring) Close() error {
	return w.store.Close()
}

func (w *wiring) openSource(ctx context.Context) (pipeline.TableSource, error) {
	src, err := source.Open(ctx, w.cfg)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// Stage builds the stage with the given task id. Building api_call checks
// the rate endpoint settings.
func (w *wiring) Stage(task string) (pipeline.Stage, error) {
	switch task {
	case pipeline.TaskDBIngest:
		return pipeline.NewCatalogTransactionJoiner(w.openSource, w.store, w.cfg.CatalogTable, w.cfg.TransactTable), nil
	case pipeline.TaskAPICall:
		if err := w.cfg.ValidateRateAPI(); err != nil {
			return nil, err
		}
		client, err := rates.NewClient(w.cfg.RateAPIURL, w.cfg.RateAPITimeout)
		if err != nil {
			return nil, err
		}
		return pipeline.NewRateFetcher(client, w.store), nil
	case pipeline.TaskConvertCurrency:
		return pipeline.NewCurrencyNormalizer(w.store, pipeline.NormalizeOptions{
			CurrencySymbol: w.cfg.CurrencySymbol,
			TargetColumn:   w.cfg.TargetPriceColumn,
			Lenient:        w.cfg.PricePolicy == config.PolicyLenient,
		}), nil
	default:
		return nil, fmt.Errorf("Stage: unknown task %q", task)
	}
}

// DAG builds [db_ingest, api_call] >> convert_currency.
func (w *wiring) DAG() (*pipeline.DAG, error) {
	stages := make([]pipeline.Stage, 0, 3)
	for _, task := range []string{pipeline.TaskDBIngest, pipeline.TaskAPICall, pipeline.TaskConvertCurrency} {
		s, err := w.Stage(task)
		if err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	return pipeline.NewAudiblePipeline(stages[0], stages[1], stages[2])
}

func (w *wiring) Executor() *pipeline.Executor {
	return &pipeline.Executor{
		Retry: pipeline.RetryPolicy{Retries: w.cfg.RetryCount, Delay: w.cfg.RetryDelay},
		Store: w.runs,
	}
}
