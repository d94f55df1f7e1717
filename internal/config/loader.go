// Package config reads the migrator's settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/example/pos-migrate/internal/database"
	"github.com/example/pos-migrate/internal/logging"
	"github.com/example/pos-migrate/internal/migration"
)

// Config captures environment driven configuration values for a migration run.
type Config struct {
	DatabaseURL       string        `env:"DATABASE_URL"`
	TLSInsecure       bool          `env:"DATABASE_TLS_INSECURE"       envDefault:"false"`
	MigrationsDir     string        `env:"MIGRATIONS_DIR"`
	MigrationsTable   string        `env:"MIGRATIONS_TABLE"            envDefault:"schema_migrations"`
	LockRetries       int           `env:"MIGRATE_LOCK_RETRIES"        envDefault:"5"`
	LockRetryInterval time.Duration `env:"MIGRATE_LOCK_RETRY_INTERVAL" envDefault:"500ms"`
	Timeout           time.Duration `env:"MIGRATE_TIMEOUT"             envDefault:"10m"`
	MaxOpenConns      int           `env:"DB_MAX_OPEN_CONNS"           envDefault:"5"`
	MaxIdleConns      int           `env:"DB_MAX_IDLE_CONNS"           envDefault:"2"`
	ConnMaxLifetime   time.Duration `env:"DB_CONN_MAX_LIFETIME"        envDefault:"5m"`
	BusyTimeout       time.Duration `env:"DB_BUSY_TIMEOUT"             envDefault:"30s"`
	LogLevel          string        `env:"LOG_LEVEL"                   envDefault:"info"`
	LogFormat         string        `env:"LOG_FORMAT"                  envDefault:"text"`
}

// Error lists the environment variables that are missing or hold values
// that cannot be used.
type Error struct {
	Missing []string
	Invalid []string
}

func (e *Error) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "required environment variables are not set: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid environment variable values: "+strings.Join(e.Invalid, ", "))
	}
	return strings.Join(parts, "; ")
}

// Load parses configuration values from the current process environment.
func Load() (Config, error) {
	return load(env.ToMap(os.Environ()))
}

func load(environ map[string]string) (Config, error) {
	var invalid []string
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Environment: environ})
	if err != nil {
		var agg env.AggregateError
		if !errors.As(err, &agg) {
			return Config{}, fmt.Errorf("parse environment: %w", err)
		}
		for _, e := range agg.Errors {
			var parseErr env.ParseError
			if !errors.As(e, &parseErr) {
				return Config{}, fmt.Errorf("parse environment: %w", e)
			}
			invalid = append(invalid, envKey(parseErr.Name))
		}
	}

	var missing []string
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	} else if _, err := database.ParseDialect(cfg.DatabaseURL); err != nil {
		invalid = append(invalid, "DATABASE_URL")
	}

	checks := []struct {
		key string
		ok  bool
	}{
		{"MIGRATIONS_TABLE", migration.ValidTableName(cfg.MigrationsTable)},
		{"MIGRATE_LOCK_RETRIES", cfg.LockRetries >= 0},
		{"MIGRATE_LOCK_RETRY_INTERVAL", cfg.LockRetryInterval > 0},
		{"MIGRATE_TIMEOUT", cfg.Timeout > 0},
		{"DB_MAX_OPEN_CONNS", cfg.MaxOpenConns >= 0},
		{"DB_MAX_IDLE_CONNS", cfg.MaxIdleConns >= 0},
		{"DB_CONN_MAX_LIFETIME", cfg.ConnMaxLifetime >= 0},
		{"DB_BUSY_TIMEOUT", cfg.BusyTimeout >= 0},
		{"LOG_FORMAT", cfg.LogFormat == "text" || cfg.LogFormat == "json"},
	}
	for _, c := range checks {
		if !c.ok && !contains(invalid, c.key) {
			invalid = append(invalid, c.key)
		}
	}
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		invalid = append(invalid, "LOG_LEVEL")
	}

	if len(missing) > 0 || len(invalid) > 0 {
		return Config{}, &Error{Missing: missing, Invalid: invalid}
	}
	return cfg, nil
}

// Database returns the gateway settings.
func (c Config) Database() database.Config {
	return database.Config{
		URL:             c.DatabaseURL,
		TLSInsecure:     c.TLSInsecure,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		BusyTimeout:     c.BusyTimeout,
	}
}

// RunnerOptions returns the runner settings carried by the environment.
func (c Config) RunnerOptions() []migration.Option {
	return []migration.Option{
		migration.WithTable(c.MigrationsTable),
		migration.WithLockRetries(c.LockRetries, c.LockRetryInterval),
	}
}

func envKey(field string) string {
	f, ok := reflect.TypeOf(Config{}).FieldByName(field)
	if !ok {
		return field
	}
	key, _, _ := strings.Cut(f.Tag.Get("env"), ",")
	return key
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
