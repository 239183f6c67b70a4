/*
Package config loads process configuration from the environment.

PURPOSE:
  A .env file in the working directory is read first when it exists, then
  the process environment. Command-line flags bound with BindFlags
  override both.

VARIABLES:
  HTTP_PORT       HTTP server port (default 8080)
  DB_DRIVER       sqlite | postgres | memory (default sqlite)
  SQLITE_PATH     SQLite database path (default payroll.db)
  DATABASE_URL    PostgreSQL connection string, required for postgres
  DB_MAX_CONNS    pgx pool size (default 10)
  PARAMS_FILE     YAML parameter overlay applied at startup
  LOG_LEVEL       debug | info | warn | error (default info)
  LOG_FORMAT      text | json (default text)
  CORS_ORIGINS    comma separated allowed origins
  SHUTDOWN_GRACE  graceful shutdown timeout (default 30s)

SEE ALSO:
  - cmd/server/main.go: consumer
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	HTTPPort      int
	DBDriver      string
	SQLitePath    string
	DatabaseURL   string
	DBMaxConns    int
	ParamsFile    string
	LogLevel      string
	LogFormat     string
	CORSOrigins   []string
	ShutdownGrace time.Duration
}

// Load reads .env (if present) and the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to read .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (Config, error) {
	port, err := getEnvInt("HTTP_PORT", 8080)
	if err != nil {
		return Config{}, err
	}
	maxConns, err := getEnvInt("DB_MAX_CONNS", 10)
	if err != nil {
		return Config{}, err
	}
	grace, err := time.ParseDuration(getEnv("SHUTDOWN_GRACE", "30s"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid SHUTDOWN_GRACE: %w", err)
	}

	cfg := Config{
		HTTPPort:      port,
		DBDriver:      strings.ToLower(getEnv("DB_DRIVER", DriverSQLite)),
		SQLitePath:    getEnv("SQLITE_PATH", "payroll.db"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		DBMaxConns:    maxConns,
		ParamsFile:    getEnv("PARAMS_FILE", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "text"),
		CORSOrigins:   splitList(getEnv("CORS_ORIGINS", "http://localhost:5173,http://localhost:8080")),
		ShutdownGrace: grace,
	}
	return cfg, cfg.Validate()
}

// BindFlags registers -port and -db on fs with the current values as defaults.
// -db sets the SQLite path.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.HTTPPort, "port", c.HTTPPort, "HTTP server port")
	fs.StringVar(&c.SQLitePath, "db", c.SQLitePath, "SQLite database path (\":memory:\" for in-memory)")
	fs.StringVar(&c.DBDriver, "driver", c.DBDriver, "storage driver: sqlite, postgres or memory")
}

// Validate checks cross-field requirements.
func (c Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP_PORT %d", c.HTTPPort)
	}
	switch c.DBDriver {
	case DriverSQLite, DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
