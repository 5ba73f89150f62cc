package source

import (
	"context"
	"database/sql"
	"errors"
	"math/big"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/dvloznov/audible-pipeline/internal/config"
	"github.com/dvloznov/audible-pipeline/internal/domain"
)

// newSQLiteSource creates a file-backed SQLite database seeded with stmts.
func newSQLiteSource(t *testing.T, stmts ...string) *SQLSource {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "audible.db")

	db, err := sql.Open(driverSQLite, dsn)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seeding %q: %v", stmt, err)
		}
	}
	_ = db.Close()

	src, err := OpenSQL(context.Background(), driverSQLite, dsn)
	if err != nil {
		t.Fatalf("OpenSQL() error = %v", err)
	}
	t.Cleanup(func() { _ = src.Close() })
	return src
}

func TestSQLSource_FetchTable(t *testing.T) {
	src := newSQLiteSource(t,
		`CREATE TABLE audible_transaction (timestamp TEXT, book_id INTEGER, Price TEXT, discount REAL)`,
		`INSERT INTO audible_transaction VALUES ('2023-01-01 10:00:00', 1, '$2.00', 0.5)`,
		`INSERT INTO audible_transaction VALUES ('2023-01-02 11:30:00', 2, NULL, NULL)`,
	)

	got, err := src.FetchTable(context.Background(), "audible_transaction")
	if err != nil {
		t.Fatalf("FetchTable() error = %v", err)
	}

	wantCols := []string{"timestamp", "book_id", "Price", "discount"}
	if strings.Join(got.Columns, ",") != strings.Join(wantCols, ",") {
		t.Errorf("columns = %v, want %v", got.Columns, wantCols)
	}
	if got.Len() != 2 {
		t.Fatalf("rows = %d, want 2", got.Len())
	}
	if c := got.Get(0, "book_id"); c.Value != "1" {
		t.Errorf("book_id = %+v, want 1", c)
	}
	if c := got.Get(0, "discount"); c.Value != "0.5" {
		t.Errorf("discount = %+v, want 0.5", c)
	}
	if c := got.Get(1, "Price"); c.Valid {
		t.Errorf("Price of row 2 = %+v, want null", c)
	}
}

func TestSQLSource_EmptyTableKeepsColumns(t *testing.T) {
	src := newSQLiteSource(t, `CREATE TABLE audible_data (Book_ID INTEGER, title TEXT)`)

	got, err := src.FetchTable(context.Background(), "audible_data")
	if err != nil {
		t.Fatalf("FetchTable() error = %v", err)
	}
	if got.Len() != 0 || len(got.Columns) != 2 {
		t.Errorf("FetchTable() = %+v, want 0 rows and 2 columns", got)
	}
}

func TestSQLSource_MissingTable(t *testing.T) {
	src := newSQLiteSource(t)

	_, err := src.FetchTable(context.Background(), "audible_data")
	if !domain.IsKind(err, domain.KindSchema) {
		t.Errorf("FetchTable() error = %v, want schema error", err)
	}
}

func TestSQLSource_InvalidTableName(t *testing.T) {
	src := newSQLiteSource(t)

	_, err := src.FetchTable(context.Background(), "audible_data; DROP TABLE x")
	if !domain.IsKind(err, domain.KindConfig) {
		t.Errorf("FetchTable() error = %v, want config error", err)
	}
}

func TestSQLSource_ClosedConnection(t *testing.T) {
	src := newSQLiteSource(t, `CREATE TABLE audible_data (Book_ID INTEGER)`)
	_ = src.Close()

	_, err := src.FetchTable(context.Background(), "audible_data")
	if !domain.IsKind(err, domain.KindConnectivity) {
		t.Errorf("FetchTable() error = %v, want connectivity error", err)
	}
}

func TestMySQLDSN(t *testing.T) {
	dsn := MySQLDSN(config.MySQLConfig{
		Host:     "db.internal",
		Port:     3306,
		User:     "airflow",
		Password: "s3cret",
		Database: "audible",
		Charset:  "utf8mb4",
	})

	for _, want := range []string{"airflow:s3cret@tcp(db.internal:3306)/audible", "charset=utf8mb4", "timeout=10s"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("MySQLDSN() = %q, want containing %q", dsn, want)
		}
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), &config.Config{DBDriver: "oracle"})
	if !domain.IsKind(err, domain.KindConfig) {
		t.Errorf("Open() error = %v, want config error", err)
	}
}

func TestClassifyQueryError(t *testing.T) {
	if err := classifyQueryError("t", errors.New("SQL logic error: no such table: t (1)")); !domain.IsKind(err, domain.KindSchema) {
		t.Errorf("no such table classified as %v", err)
	}
	if err := classifyQueryError("t", errors.New("connection refused")); !domain.IsKind(err, domain.KindConnectivity) {
		t.Errorf("connection refused classified as %v", err)
	}
}

func TestRenderValue(t *testing.T) {
	ts := time.Date(2023, 1, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value bigquery.Value
		want  domain.Cell
	}{
		{"null", nil, domain.Null},
		{"string", "X", domain.Str("X")},
		{"int", int64(42), domain.Str("42")},
		{"float", 33.5, domain.Str("33.5")},
		{"bool", true, domain.Str("true")},
		{"date", civil.Date{Year: 2023, Month: 1, Day: 1}, domain.Str("2023-01-01")},
		{"datetime", civil.DateTimeOf(ts), domain.Str("2023-01-01 10:00:00")},
		{"timestamp", ts, domain.Str("2023-01-01T10:00:00Z")},
		{"numeric", big.NewRat(25, 2), domain.Str("12.500000000")},
		{"repeated", []bigquery.Value{"a", "b"}, domain.Str(`["a","b"]`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := renderValue(tt.value); got != tt.want {
				t.Errorf("renderValue(%v) = %+v, want %+v", tt.value, got, tt.want)
			}
		})
	}
}
