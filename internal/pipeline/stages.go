package pipeline

import (
	"context"
	"fmt"

	"github.com/dvloznov/audible-pipeline/internal/logger"
)

// CatalogTransactionJoiner reads the catalog and transaction tables, left
// joins them and writes the transaction artifact.
type CatalogTransactionJoiner struct {
	open         SourceOpener
	store        ArtifactStore
	catalogTable string
	txTable      string
}

// NewCatalogTransactionJoiner creates the db_ingest stage.
func NewCatalogTransactionJoiner(open SourceOpener, store ArtifactStore, catalogTable, txTable string) *CatalogTransactionJoiner {
	return &CatalogTransactionJoiner{
		open:         open,
		store:        store,
		catalogTable: catalogTable,
		txTable:      txTable,
	}
}

// Name implements Stage.
func (s *CatalogTransactionJoiner) Name() string { return TaskDBIngest }

// Run implements Stage.
func (s *CatalogTransactionJoiner) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)

	src, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("closing source")
		}
	}()

	catalog, err := src.FetchTable(ctx, s.catalogTable)
	if err != nil {
		return err
	}
	log.Debug().Str("table", s.catalogTable).Int("rows", catalog.Len()).Msg("catalog fetched")

	transactions, err := src.FetchTable(ctx, s.txTable)
	if err != nil {
		return err
	}
	log.Debug().Str("table", s.txTable).Int("rows", transactions.Len()).Msg("transactions fetched")

	joined, err := JoinTransactions(transactions, catalog)
	if err != nil {
		return err
	}

	if err := s.store.Write(ctx, ArtifactTransactions, joined); err != nil {
		return err
	}

	log.Info().
		Int("rows", joined.Len()).
		Str("artifact", s.store.Location(ArtifactTransactions)).
		Msg("joined transactions written")
	return nil
}

// RateFetcher retrieves the daily conversion rates and writes the rate
// artifact.
type RateFetcher struct {
	client RateClient
	store  ArtifactStore
}

// NewRateFetcher creates the api_call stage.
func NewRateFetcher(client RateClient, store ArtifactStore) *RateFetcher {
	return &RateFetcher{client: client, store: store}
}

// Name implements Stage.
func (s *RateFetcher) Name() string { return TaskAPICall }

// Run implements Stage.
func (s *RateFetcher) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)

	rates, err := s.client.Fetch(ctx)
	if err != nil {
		return err
	}

	t, err := RatesTable(rates)
	if err != nil {
		return err
	}

	if err := s.store.Write(ctx, ArtifactRates, t); err != nil {
		return err
	}

	log.Info().
		Int("rows", t.Len()).
		Str("artifact", s.store.Location(ArtifactRates)).
		Msg("conversion rates written")
	return nil
}

// CurrencyNormalizer joins the transaction artifact with the rate artifact
// and writes the reconciled result.
type CurrencyNormalizer struct {
	store ArtifactStore
	opts  NormalizeOptions
}

// NewCurrencyNormalizer creates the convert_currency stage.
func NewCurrencyNormalizer(store ArtifactStore, opts NormalizeOptions) *CurrencyNormalizer {
	return &CurrencyNormalizer{store: store, opts: opts.withDefaults()}
}

// Name implements Stage.
func (s *CurrencyNormalizer) Name() string { return TaskConvertCurrency }

// Run implements Stage.
func (s *CurrencyNormalizer) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)

	tx, err := s.store.Read(ctx, ArtifactTransactions)
	if err != nil {
		return fmt.Errorf("CurrencyNormalizer: reading %s: %w", ArtifactTransactions, err)
	}
	rates, err := s.store.Read(ctx, ArtifactRates)
	if err != nil {
		return fmt.Errorf("CurrencyNormalizer: reading %s: %w", ArtifactRates, err)
	}

	result, report, err := Normalize(tx, rates, s.opts)
	if err != nil {
		return err
	}
	if report.Malformed > 0 {
		log.Warn().
			Int("rows", report.Malformed).
			Str("column", ColPrice).
			Msg("malformed prices nulled")
	}

	if err := s.store.Write(ctx, ArtifactResult, result); err != nil {
		return err
	}

	log.Info().
		Int("rows", report.Rows).
		Int("matched", report.Matched).
		Int("unmatched", report.Unmatched).
		Str("artifact", s.store.Location(ArtifactResult)).
		Msg("reconciled result written")
	return nil
}

var (
	_ Stage = (*CatalogTransactionJoiner)(nil)
	_ Stage = (*RateFetcher)(nil)
	_ Stage = (*CurrencyNormalizer)(nil)
)
