package pipeline

import (
	"context"

	"github.com/dvloznov/audible-pipeline/internal/domain"
)

// TableSource reads whole tables from the relational store.
type TableSource interface {
	FetchTable(ctx context.Context, name string) (domain.Table, error)
	Close() error
}

// SourceOpener connects to the relational store. Stages open their own
// connection so a connection failure is attributed to the stage.
type SourceOpener func(ctx context.Context) (TableSource, error)

// ArtifactStore persists the tabular artifacts exchanged between stages.
type ArtifactStore interface {
	Write(ctx context.Context, name string, t domain.Table) error
	Read(ctx context.Context, name string) (domain.Table, error)
	Location(name string) string
}

// RateClient retrieves the date to rate mapping.
type RateClient interface {
	Fetch(ctx context.Context) (map[string]float64, error)
}
