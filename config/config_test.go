package config

import (
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"HTTP_PORT", "DB_DRIVER", "SQLITE_PATH", "DATABASE_URL", "DB_MAX_CONNS",
		"PARAMS_FILE", "LOG_LEVEL", "LOG_FORMAT", "CORS_ORIGINS", "SHUTDOWN_GRACE"} {
		t.Setenv(k, "")
	}

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, "payroll.db", cfg.SQLitePath)
	assert.Equal(t, 10, cfg.DBMaxConns)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.ShutdownGrace)
	assert.Equal(t, []string{"http://localhost:5173", "http://localhost:8080"}, cfg.CORSOrigins)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("DB_DRIVER", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/payroll")
	t.Setenv("CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, DriverPostgres, cfg.DBDriver)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestFromEnvRejections(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "bad port", env: map[string]string{"HTTP_PORT": "eighty"}},
		{name: "port out of range", env: map[string]string{"HTTP_PORT": "70000"}},
		{name: "unknown driver", env: map[string]string{"DB_DRIVER": "oracle"}},
		{name: "postgres without url", env: map[string]string{"DB_DRIVER": "postgres", "DATABASE_URL": ""}},
		{name: "bad grace", env: map[string]string{"SHUTDOWN_GRACE": "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestBindFlagsOverride(t *testing.T) {
	cfg := Config{HTTPPort: 8080, SQLitePath: "payroll.db", DBDriver: DriverSQLite}

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	cfg.BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"-port", "3000", "-db", ":memory:"}))

	assert.Equal(t, 3000, cfg.HTTPPort)
	assert.Equal(t, ":memory:", cfg.SQLitePath)
	assert.Equal(t, DriverSQLite, cfg.DBDriver)
}
