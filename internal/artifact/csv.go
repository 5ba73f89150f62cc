package artifact

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/dvloznov/audible-pipeline/internal/domain"
)

// EncodeCSV writes t as CSV with a header row. Null cells become empty fields.
func EncodeCSV(w io.Writer, t domain.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("EncodeCSV: writing header: %w", err)
	}

	record := make([]string, len(t.Columns))
	for i, row := range t.Rows {
		for j := range record {
			record[j] = ""
			if j < len(row) && row[j].Valid {
				record[j] = row[j].Value
			}
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("EncodeCSV: writing row %d: %w", i+1, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("EncodeCSV: flushing: %w", err)
	}
	return nil
}

// DecodeCSV reads a CSV document with a header row. Empty fields become
// null cells and short records are padded with nulls.
func DecodeCSV(r io.Reader) (domain.Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return domain.Table{}, domain.Schema("DecodeCSV: artifact is empty (no header row)")
	}
	if err != nil {
		return domain.Table{}, fmt.Errorf("DecodeCSV: reading header: %w", err)
	}

	t := domain.NewTable(header...)
	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.Table{}, fmt.Errorf("DecodeCSV: reading line %d: %w", line, err)
		}
		if len(record) > len(header) {
			return domain.Table{}, domain.Schema("DecodeCSV: line %d has %d fields, header has %d", line, len(record), len(header))
		}

		cells := make([]domain.Cell, len(record))
		for i, v := range record {
			if v != "" {
				cells[i] = domain.Str(v)
			}
		}
		t.Append(cells...)
	}

	return t, nil
}
