package source

import (
	"context"
	"fmt"
	"regexp"

	"github.com/dvloznov/audible-pipeline/internal/config"
	"github.com/dvloznov/audible-pipeline/internal/domain"
)

// TableSource reads whole tables from a relational data store.
type TableSource interface {
	// FetchTable returns every row of the named table.
	FetchTable(ctx context.Context, name string) (domain.Table, error)

	// Close releases the underlying connection.
	Close() error
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validateTableName guards the table names that are interpolated into queries.
func validateTableName(name string) error {
	if !identPattern.MatchString(name) {
		return domain.Config("invalid table name %q", name)
	}
	return nil
}

// Open connects to the data store selected by cfg.DBDriver.
func Open(ctx context.Context, cfg *config.Config) (TableSource, error) {
	switch cfg.DBDriver {
	case config.DriverMySQL:
		return OpenSQL(ctx, driverMySQL, MySQLDSN(cfg.MySQL))
	case config.DriverPostgres:
		return OpenSQL(ctx, driverPgx, cfg.DatabaseURL)
	case config.DriverSQLite:
		return OpenSQL(ctx, driverSQLite, cfg.DatabaseURL)
	case config.DriverBigQuery:
		return NewBigQuerySource(ctx, cfg.BQProject, cfg.BQDataset)
	default:
		return nil, domain.Config("Open: unsupported DB_DRIVER %q", cfg.DBDriver)
	}
}

// errorf wraps err with a "Func: action" prefix.
func errorf(fn, action string, err error) error {
	return fmt.Errorf("%s: %s: %w", fn, action, err)
}
