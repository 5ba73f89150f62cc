package source

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/dvloznov/audible-pipeline/internal/config"
	"github.com/dvloznov/audible-pipeline/internal/domain"
)

// database/sql driver names registered by the imported drivers.
const (
	driverMySQL  = "mysql"
	driverPgx    = "pgx"
	driverSQLite = "sqlite"
)

const (
	mysqlErrNoSuchTable    = 1146
	postgresUndefinedTable = "42P01"
)

// SQLSource reads tables through database/sql.
type SQLSource struct {
	db *sql.DB
}

// OpenSQL opens and pings a database/sql connection.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLSource, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, domain.Connectivity(errorf("OpenSQL", "open "+driver, err))
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, domain.Connectivity(errorf("OpenSQL", "ping "+driver, err))
	}
	return NewSQLSourceWithDB(db), nil
}

// NewSQLSourceWithDB wraps an existing connection pool.
func NewSQLSourceWithDB(db *sql.DB) *SQLSource {
	return &SQLSource{db: db}
}

// MySQLDSN builds a go-sql-driver DSN from the connection parameters.
// Time columns are left as text so timestamps keep their stored form.
func MySQLDSN(c config.MySQLConfig) string {
	cfg := mysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	cfg.DBName = c.Database
	cfg.Timeout = 10 * time.Second
	if c.Charset != "" {
		cfg.Params = map[string]string{"charset": c.Charset}
	}
	return cfg.FormatDSN()
}

// FetchTable implements TableSource with a full table scan.
func (s *SQLSource) FetchTable(ctx context.Context, name string) (domain.Table, error) {
	if err := validateTableName(name); err != nil {
		return domain.Table{}, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT * FROM "+name)
	if err != nil {
		return domain.Table{}, classifyQueryError(name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return domain.Table{}, domain.Connectivity(errorf("FetchTable", "columns of "+name, err))
	}

	t := domain.NewTable(cols...)
	values := make([]sql.NullString, len(cols))
	dest := make([]any, len(cols))
	for i := range values {
		dest[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return domain.Table{}, errorf("FetchTable", "scan "+name, err)
		}
		cells := make([]domain.Cell, len(cols))
		for i, v := range values {
			if v.Valid {
				cells[i] = domain.Str(v.String)
			}
		}
		t.Append(cells...)
	}
	if err := rows.Err(); err != nil {
		return domain.Table{}, domain.Connectivity(errorf("FetchTable", "iterate "+name, err))
	}

	return t, nil
}

// Close implements TableSource.
func (s *SQLSource) Close() error {
	return s.db.Close()
}

// classifyQueryError turns "table does not exist" into a schema error and
// everything else into a connectivity error.
func classifyQueryError(table string, err error) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlErrNoSuchTable {
		return domain.Schema("FetchTable: table %s does not exist: %v", table, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == postgresUndefinedTable {
		return domain.Schema("FetchTable: table %s does not exist: %v", table, err)
	}
	if strings.Contains(err.Error(), "no such table") {
		return domain.Schema("FetchTable: table %s does not exist: %v", table, err)
	}
	return domain.Connectivity(errorf("FetchTable", "query "+table, err))
}

var _ TableSource = (*SQLSource)(nil)
