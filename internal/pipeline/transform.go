package pipeline

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/audible-pipeline/internal/domain"
)

// JoinTransactions left-joins transactions with the catalog on
// book_id = Book_ID. Every transaction is kept exactly once; transactions
// without a catalog entry get null catalog columns.
func JoinTransactions(transactions, catalog domain.Table) (domain.Table, error) {
	if err := transactions.Require("audible_transaction", ColBookID, ColTimestamp, ColPrice); err != nil {
		return domain.Table{}, err
	}
	if err := catalog.Require("audible_data", ColCatalogBookID); err != nil {
		return domain.Table{}, err
	}
	return domain.LeftJoin(transactions, catalog, ColBookID, ColCatalogBookID)
}

// RatesTable reshapes a date to rate mapping into the rate artifact: one row
// per calendar date, sorted by date.
func RatesTable(rates map[string]float64) (domain.Table, error) {
	type entry struct {
		date civil.Date
		rate float64
	}

	seen := make(map[civil.Date]string, len(rates))
	entries := make([]entry, 0, len(rates))
	for raw, rate := range rates {
		d, err := CalendarDate(raw)
		if err != nil {
			return domain.Table{}, domain.Schema("RatesTable: rate key: %v", err)
		}
		if math.IsNaN(rate) || math.IsInf(rate, 0) {
			return domain.Table{}, domain.Schema("RatesTable: rate for %s is not finite", raw)
		}
		if prev, ok := seen[d]; ok {
			return domain.Table{}, domain.Schema("RatesTable: keys %q and %q both map to %s", prev, raw, d)
		}
		seen[d] = raw
		entries = append(entries, entry{date: d, rate: rate})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].date.Before(entries[j].date)
	})

	t := domain.NewTable(ColDate, ColRate)
	for _, e := range entries {
		t.Append(domain.Str(e.date.String()), domain.Str(strconv.FormatFloat(e.rate, 'f', -1, 64)))
	}
	return t, nil
}

// ParsePrice strips the currency symbol prefix from raw and parses the
// remainder as a decimal. A missing prefix or a non-numeric remainder is a
// format error.
func ParsePrice(raw, symbol string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if symbol != "" {
		if !strings.HasPrefix(s, symbol) {
			return decimal.Decimal{}, domain.Format("price %q: missing %q prefix", raw, symbol)
		}
		s = strings.TrimSpace(strings.TrimPrefix(s, symbol))
	}
	if s == "" {
		return decimal.Decimal{}, domain.Format("price %q: no amount", raw)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, domain.Format("price %q: %v", raw, err)
	}
	return d, nil
}

// NormalizeOptions tunes Normalize.
type NormalizeOptions struct {
	// CurrencySymbol is the prefix stripped from Price.
	CurrencySymbol string
	// TargetColumn receives the normalized price.
	TargetColumn string
	// Lenient keeps rows with a malformed price, nulling Price and the
	// target column, instead of failing.
	Lenient bool
}

func (o NormalizeOptions) withDefaults() NormalizeOptions {
	if o.CurrencySymbol == "" {
		o.CurrencySymbol = DefaultCurrencySymbol
	}
	if o.TargetColumn == "" {
		o.TargetColumn = DefaultTargetColumn
	}
	return o
}

// Report summarises a Normalize call.
type Report struct {
	Rows      int
	Matched   int // rows with a rate for their date
	Unmatched int
	Malformed int // rows whose price was nulled under the lenient policy
}

// Normalize joins transactions with the rate table on calendar date and
// writes price x rate into the target column. Rows without a rate for their
// date keep a null rate and a null normalized price. The helper date column
// is not part of the output.
func Normalize(tx, rates domain.Table, opts NormalizeOptions) (domain.Table, Report, error) {
	opts = opts.withDefaults()

	if err := tx.Require(ArtifactTransactions, ColTimestamp, ColPrice); err != nil {
		return domain.Table{}, Report{}, err
	}
	if err := rates.Require(ArtifactRates, ColDate, ColRate); err != nil {
		return domain.Table{}, Report{}, err
	}

	// a rate column left over from an earlier run is replaced
	dated, err := withDateColumn(tx.Drop(ColRate))
	if err != nil {
		return domain.Table{}, Report{}, err
	}
	rates, err = normalizeRateDates(rates)
	if err != nil {
		return domain.Table{}, Report{}, err
	}

	out, err := domain.LeftJoin(dated, rates, ColDate, ColDate)
	if err != nil {
		return domain.Table{}, Report{}, err
	}

	priceIdx := out.Index(ColPrice)
	rateIdx := out.Index(ColRate)
	targetIdx := out.Index(opts.TargetColumn)
	if targetIdx < 0 {
		out.Columns = append(out.Columns, opts.TargetColumn)
		targetIdx = len(out.Columns) - 1
		for i := range out.Rows {
			out.Rows[i] = append(out.Rows[i], domain.Null)
		}
	}

	report := Report{Rows: out.Len()}
	for i, row := range out.Rows {
		var rate decimal.Decimal
		rateCell := row[rateIdx]
		if rateCell.Valid {
			rate, err = decimal.NewFromString(rateCell.Value)
			if err != nil {
				return domain.Table{}, Report{}, domain.Schema("Normalize: rate %q for %s: %v", rateCell.Value, row[out.Index(ColDate)].Value, err)
			}
			report.Matched++
		} else {
			report.Unmatched++
		}

		price, perr := parsePriceCell(row[priceIdx], opts.CurrencySymbol)
		if perr != nil {
			if !opts.Lenient {
				return domain.Table{}, Report{}, domain.Format("Normalize: row %d: %v", i+1, unwrapStageError(perr))
			}
			report.Malformed++
			row[priceIdx] = domain.Null
			row[targetIdx] = domain.Null
			continue
		}

		row[priceIdx] = domain.Str(price.String())
		if rateCell.Valid {
			row[targetIdx] = domain.Str(price.Mul(rate).String())
		} else {
			row[targetIdx] = domain.Null
		}
	}

	return out.Drop(ColDate), report, nil
}

// withDateColumn returns a copy of tx with the calendar date of each
// timestamp in the date column. An existing date column is overwritten, so
// the operation is idempotent. A null timestamp gives a null date.
func withDateColumn(tx domain.Table) (domain.Table, error) {
	tsIdx := tx.Index(ColTimestamp)
	dateIdx := tx.Index(ColDate)

	out := domain.Table{Columns: append([]string(nil), tx.Columns...)}
	if dateIdx < 0 {
		out.Columns = append(out.Columns, ColDate)
		dateIdx = len(out.Columns) - 1
	}

	out.Rows = make([]domain.Row, 0, tx.Len())
	for i, r := range tx.Rows {
		row := make(domain.Row, len(out.Columns))
		copy(row, r)

		ts := row[tsIdx]
		if !ts.Valid || strings.TrimSpace(ts.Value) == "" {
			row[dateIdx] = domain.Null
		} else {
			d, err := CalendarDate(ts.Value)
			if err != nil {
				return domain.Table{}, domain.Format("Normalize: row %d: %v", i+1, err)
			}
			row[dateIdx] = domain.Str(d.String())
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// normalizeRateDates reduces the rate table to its date and rate columns
// and re-derives the calendar dates.
func normalizeRateDates(rates domain.Table) (domain.Table, error) {
	dateIdx := rates.Index(ColDate)
	rateIdx := rates.Index(ColRate)
	out := domain.Table{
		Columns: []string{ColDate, ColRate},
		Rows:    make([]domain.Row, 0, rates.Len()),
	}
	for i, r := range rates.Rows {
		row := domain.Row{domain.Null, domain.Null}
		if dateIdx < len(r) {
			row[0] = r[dateIdx]
		}
		if rateIdx < len(r) {
			row[1] = r[rateIdx]
		}
		if row[0].Valid {
			d, err := CalendarDate(row[0].Value)
			if err != nil {
				return domain.Table{}, domain.Schema("Normalize: rate row %d: %v", i+1, err)
			}
			row[0] = domain.Str(d.String())
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

func parsePriceCell(c domain.Cell, symbol string) (decimal.Decimal, error) {
	if !c.Valid {
		return decimal.Decimal{}, domain.Format("price is null")
	}
	return ParsePrice(c.Value, symbol)
}

// unwrapStageError strips the StageError wrapper so the message is not
// prefixed twice when re-wrapped.
func unwrapStageError(err error) error {
	if se, ok := err.(*domain.StageError); ok {
		return se.Err
	}
	return err
}
