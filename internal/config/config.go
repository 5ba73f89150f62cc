package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dvloznov/audible-pipeline/internal/domain"
)

// Supported values for Config.DBDriver.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverBigQuery = "bigquery"
)

// Supported values for Config.PricePolicy.
const (
	PolicyStrict  = "strict"
	PolicyLenient = "lenient"
)

// Config is built once at process start and handed to every stage.
type Config struct {
	// Source data store
	DBDriver      string
	MySQL         MySQLConfig
	DatabaseURL   string // postgres / sqlite DSN
	BQProject     string
	BQDataset     string
	CatalogTable  string
	TransactTable string

	// Rate endpoint
	RateAPIURL     string
	RateAPITimeout time.Duration

	// Artifacts: a local directory or gs://bucket/prefix
	ArtifactDir string

	// Normalization
	CurrencySymbol    string
	TargetPriceColumn string
	PricePolicy       string

	// Orchestration
	RetryCount int
	RetryDelay time.Duration

	LogLevel string
}

// MySQLConfig holds the connection parameters of the MySQL source.
type MySQLConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Charset  string
}

// Load reads an optional .env file and then the process environment.
// A missing .env file is not an error.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("Load: reading env file: %w", err)
	}

	port, err := getEnvAsInt("MYSQL_PORT", 3306)
	if err != nil {
		return nil, err
	}
	retries, err := getEnvAsInt("RETRY_COUNT", 1)
	if err != nil {
		return nil, err
	}
	retryDelay, err := getEnvAsDuration("RETRY_DELAY", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	timeout, err := getEnvAsDuration("RATE_API_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	return &Config{
		DBDriver: strings.ToLower(getEnv("DB_DRIVER", DriverMySQL)),
		MySQL: MySQLConfig{
			Host:     getEnv("MYSQL_HOST", "localhost"),
			Port:     port,
			User:     getEnv("MYSQL_USER", ""),
			Password: getEnv("MYSQL_PASSWORD", ""),
			Database: getEnv("MYSQL_DB", ""),
			Charset:  getEnv("MYSQL_CHARSET", "utf8mb4"),
		},
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		BQProject:     getEnv("BIGQUERY_PROJECT", ""),
		BQDataset:     getEnv("BIGQUERY_DATASET", ""),
		CatalogTable:  getEnv("CATALOG_TABLE", "audible_data"),
		TransactTable: getEnv("TRANSACTION_TABLE", "audible_transaction"),

		RateAPIURL:     getEnv("RATE_API_URL", ""),
		RateAPITimeout: timeout,

		ArtifactDir: getEnv("ARTIFACT_DIR", "/home/airflow/data"),

		CurrencySymbol:    getEnv("CURRENCY_SYMBOL", "$"),
		TargetPriceColumn: getEnv("TARGET_PRICE_COLUMN", "THBPrice"),
		PricePolicy:       strings.ToLower(getEnv("PRICE_POLICY", PolicyStrict)),

		RetryCount: retries,
		RetryDelay: retryDelay,

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}, nil
}

// Check collects the problems of one group of settings.
type Check func(c *Config) []string

// Setting groups, one per stage plus the full run.
var (
	SourceSettings    Check = (*Config).sourceProblems
	RateSettings      Check = (*Config).rateProblems
	NormalizeSettings Check = (*Config).normalizeProblems
)

// Validate checks the artifact and retry settings plus the given groups and
// reports all problems at once as a config error. With no groups it checks
// everything a full run needs.
func (c *Config) Validate(checks ...Check) error {
	if len(checks) == 0 {
		checks = []Check{SourceSettings, RateSettings, NormalizeSettings}
	}

	problems := c.commonProblems()
	for _, check := range checks {
		problems = append(problems, check(c)...)
	}
	return report(problems)
}

// ValidateRateAPI checks the rate endpoint settings on their own so the
// fetch stage can be refused before it issues a request.
func (c *Config) ValidateRateAPI() error {
	return report(c.rateProblems())
}

func report(problems []string) error {
	if len(problems) > 0 {
		return domain.Config("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) commonProblems() []string {
	var problems []string
	if c.ArtifactDir == "" {
		problems = append(problems, "ARTIFACT_DIR is required")
	}
	if c.RetryCount < 0 {
		problems = append(problems, "RETRY_COUNT must not be negative")
	}
	if c.RetryDelay < 0 {
		problems = append(problems, "RETRY_DELAY must not be negative")
	}
	return problems
}

func (c *Config) sourceProblems() []string {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.DBDriver {
	case DriverMySQL:
		if c.MySQL.Host == "" {
			add("MYSQL_HOST is required")
		}
		if c.MySQL.User == "" {
			add("MYSQL_USER is required")
		}
		if c.MySQL.Database == "" {
			add("MYSQL_DB is required")
		}
		if c.MySQL.Port <= 0 || c.MySQL.Port > 65535 {
			add("MYSQL_PORT %d is out of range", c.MySQL.Port)
		}
	case DriverPostgres, DriverSQLite:
		if c.DatabaseURL == "" {
			add("DATABASE_URL is required for DB_DRIVER=%s", c.DBDriver)
		}
	case DriverBigQuery:
		if c.BQProject == "" || c.BQDataset == "" {
			add("BIGQUERY_PROJECT and BIGQUERY_DATASET are required for DB_DRIVER=bigquery")
		}
	default:
		add("unsupported DB_DRIVER %q", c.DBDriver)
	}
	return problems
}

func (c *Config) rateProblems() []string {
	switch {
	case strings.TrimSpace(c.RateAPIURL) == "":
		return []string{"RATE_API_URL is required"}
	case !strings.HasPrefix(c.RateAPIURL, "http://") && !strings.HasPrefix(c.RateAPIURL, "https://"):
		return []string{fmt.Sprintf("RATE_API_URL %q must be an http(s) URL", c.RateAPIURL)}
	case c.RateAPITimeout <= 0:
		return []string{"RATE_API_TIMEOUT must be positive"}
	}
	return nil
}

func (c *Config) normalizeProblems() []string {
	var problems []string
	if c.CurrencySymbol == "" {
		problems = append(problems, "CURRENCY_SYMBOL must not be empty")
	}
	if c.TargetPriceColumn == "" {
		problems = append(problems, "TARGET_PRICE_COLUMN must not be empty")
	}
	if c.PricePolicy != PolicyStrict && c.PricePolicy != PolicyLenient {
		problems = append(problems, fmt.Sprintf("PRICE_POLICY must be %q or %q, got %q", PolicyStrict, PolicyLenient, c.PricePolicy))
	}
	return problems
}

// getEnv retrieves an environment variable or returns a fallback value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvAsInt retrieves an environment variable as an integer or returns a fallback.
func getEnvAsInt(key string, fallback int) (int, error) {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if valueStr == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, domain.Config("%s: invalid integer %q", key, valueStr)
	}
	return value, nil
}

// getEnvAsDuration retrieves an environment variable as a time.Duration or returns a fallback.
func getEnvAsDuration(key string, fallback time.Duration) (time.Duration, error) {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if valueStr == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, domain.Config("%s: invalid duration %q", key, valueStr)
	}
	return value, nil
}
