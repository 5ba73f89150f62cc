package source

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/audible-pipeline/internal/domain"
)

// BigQuerySource reads tables from a BigQuery dataset. It holds a shared
// client for the lifetime of the stage.
type BigQuerySource struct {
	client  *bigquery.Client
	project string
	dataset string
}

// NewBigQuerySource creates a BigQuery client for project.
func NewBigQuerySource(ctx context.Context, project, dataset string) (*BigQuerySource, error) {
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, domain.Connectivity(errorf("NewBigQuerySource", "creating client", err))
	}
	return NewBigQuerySourceWithClient(client, project, dataset), nil
}

// NewBigQuerySourceWithClient wraps an existing client.
func NewBigQuerySourceWithClient(client *bigquery.Client, project, dataset string) *BigQuerySource {
	return &BigQuerySource{client: client, project: project, dataset: dataset}
}

// FetchTable implements TableSource.
func (s *BigQuerySource) FetchTable(ctx context.Context, name string) (domain.Table, error) {
	if err := validateTableName(name); err != nil {
		return domain.Table{}, err
	}

	q := s.client.Query(fmt.Sprintf("SELECT * FROM `%s.%s.%s`", s.project, s.dataset, name))
	it, err := q.Read(ctx)
	if err != nil {
		return domain.Table{}, classifyBigQueryError(name, err)
	}

	var t domain.Table
	for {
		var values []bigquery.Value
		err := it.Next(&values)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return domain.Table{}, classifyBigQueryError(name, err)
		}
		if t.Columns == nil {
			t = domain.NewTable(schemaColumns(it.Schema)...)
		}

		cells := make([]domain.Cell, len(values))
		for i, v := range values {
			cells[i] = renderValue(v)
		}
		t.Append(cells...)
	}
	if t.Columns == nil {
		t = domain.NewTable(schemaColumns(it.Schema)...)
	}

	return t, nil
}

// Close implements TableSource.
func (s *BigQuerySource) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func schemaColumns(schema bigquery.Schema) []string {
	cols := make([]string, len(schema))
	for i, f := range schema {
		cols[i] = f.Name
	}
	return cols
}

// renderValue converts a BigQuery value into the text form a SQL driver
// would produce for the same column.
func renderValue(v bigquery.Value) domain.Cell {
	switch val := v.(type) {
	case nil:
		return domain.Null
	case string:
		return domain.Str(val)
	case int64:
		return domain.Str(strconv.FormatInt(val, 10))
	case float64:
		return domain.Str(strconv.FormatFloat(val, 'f', -1, 64))
	case bool:
		return domain.Str(strconv.FormatBool(val))
	case civil.Date:
		return domain.Str(val.String())
	case civil.DateTime:
		return domain.Str(val.Date.String() + " " + val.Time.String())
	case civil.Time:
		return domain.Str(val.String())
	case time.Time:
		return domain.Str(val.Format(time.RFC3339Nano))
	case *big.Rat:
		if val == nil {
			return domain.Null
		}
		return domain.Str(bigquery.NumericString(val))
	case []byte:
		return domain.Str(base64.StdEncoding.EncodeToString(val))
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return domain.Str(fmt.Sprint(val))
		}
		return domain.Str(string(b))
	}
}

func classifyBigQueryError(table string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return domain.Schema("FetchTable: table %s does not exist: %v", table, err)
	}
	return domain.Connectivity(errorf("FetchTable", "query "+table, err))
}

var _ TableSource = (*BigQuerySource)(nil)
