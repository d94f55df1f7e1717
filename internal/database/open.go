package database

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite" // SQLite driver
)

// Config holds connection and pool settings for the gateway.
type Config struct {
	// URL is the connection string; its scheme selects the dialect.
	URL string

	// TLSInsecure disables certificate verification, for managed database
	// endpoints that present certificates the host does not trust.
	TLSInsecure bool

	// MaxOpenConns sets the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns sets the maximum number of idle connections.
	MaxIdleConns int

	// ConnMaxLifetime sets the maximum lifetime of connections.
	ConnMaxLifetime time.Duration

	// BusyTimeout sets how long SQLite waits for file locks.
	BusyTimeout time.Duration
}

// DefaultConfig returns pool settings suitable for a one-shot migration run.
func DefaultConfig(rawURL string) Config {
	return Config{
		URL:             rawURL,
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		BusyTimeout:     30 * time.Second,
	}
}

// Validate checks the configuration for values the gateway cannot use.
func (c Config) Validate() error {
	dialect, err := ParseDialect(c.URL)
	if err != nil {
		return err
	}
	if c.MaxOpenConns < 0 {
		return fmt.Errorf("MaxOpenConns cannot be negative")
	}
	// Session-scoped locks pin one connection while migrations run on another.
	if dialect != SQLite && c.MaxOpenConns == 1 {
		return fmt.Errorf("MaxOpenConns must be at least 2 for %s", dialect)
	}
	if c.MaxIdleConns < 0 {
		return fmt.Errorf("MaxIdleConns cannot be negative")
	}
	if c.ConnMaxLifetime < 0 {
		return fmt.Errorf("ConnMaxLifetime cannot be negative")
	}
	if c.BusyTimeout < 0 {
		return fmt.Errorf("BusyTimeout cannot be negative")
	}
	return nil
}

// Open builds the pool for cfg.URL, applies pool limits and verifies the
// database answers.
func Open(ctx context.Context, cfg Config) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}
	dialect, _ := ParseDialect(cfg.URL)

	var (
		db  *sql.DB
		err error
	)
	switch dialect {
	case Postgres:
		db, err = openPostgres(cfg)
	case MySQL:
		db, err = openMySQL(cfg)
	case SQLite:
		db, err = openSQLite(cfg)
	}
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if dialect == SQLite && isSQLiteMemory(cfg.URL) {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s database: %w", dialect, err)
	}
	return New(db, dialect), nil
}

func openPostgres(cfg Config) (*sql.DB, error) {
	connCfg, err := pgx.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	if cfg.TLSInsecure {
		insecureTLS(connCfg.TLSConfig)
		for _, fallback := range connCfg.Fallbacks {
			insecureTLS(fallback.TLSConfig)
		}
	}
	if connCfg.RuntimeParams == nil {
		connCfg.RuntimeParams = map[string]string{}
	}
	connCfg.RuntimeParams["timezone"] = "UTC"
	return stdlib.OpenDB(*connCfg), nil
}

// insecureTLS only relaxes TLS that sslmode already asked for; it never
// turns TLS on for sslmode=disable.
func insecureTLS(c *tls.Config) {
	if c == nil {
		return
	}
	c.InsecureSkipVerify = true
	c.VerifyPeerCertificate = nil
	c.VerifyConnection = nil
}

func openMySQL(cfg Config) (*sql.DB, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse mysql url: %w", err)
	}
	var userinfo string
	if u.User != nil {
		userinfo = u.User.Username()
		if password, ok := u.User.Password(); ok {
			userinfo += ":" + password
		}
		userinfo += "@"
	}
	dsn := fmt.Sprintf("%stcp(%s)%s", userinfo, u.Host, u.EscapedPath())
	if u.RawQuery != "" {
		dsn += "?" + u.RawQuery
	}

	connCfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	// migration files carry several statements each
	connCfg.MultiStatements = true
	connCfg.ParseTime = true
	connCfg.Loc = time.UTC
	if cfg.TLSInsecure {
		connCfg.TLS = nil
		connCfg.TLSConfig = "skip-verify"
	}

	connector, err := mysql.NewConnector(connCfg)
	if err != nil {
		return nil, fmt.Errorf("create mysql connector: %w", err)
	}
	return sql.OpenDB(connector), nil
}

func openSQLite(cfg Config) (*sql.DB, error) {
	dsn := sqliteDSN(cfg.URL, cfg.BusyTimeout)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	return db, nil
}

// sqliteDSN converts sqlite:// URLs into the driver's file form and attaches
// per-connection pragmas, so every pooled connection gets them. Transactions
// begin IMMEDIATE so a migration takes the write lock up front instead of
// failing on a read-to-write upgrade.
func sqliteDSN(rawURL string, busyTimeout time.Duration) string {
	dsn := strings.TrimSpace(rawURL)
	for _, prefix := range []string{"sqlite://", "sqlite3://"} {
		if strings.HasPrefix(strings.ToLower(dsn), prefix) {
			dsn = "file:" + dsn[len(prefix):]
			break
		}
	}
	if dsn == ":memory:" {
		dsn = "file::memory:"
	}

	pragmas := []string{"_pragma=foreign_keys(1)"}
	if !strings.Contains(dsn, "_txlock=") {
		pragmas = append(pragmas, "_txlock=immediate")
	}
	if busyTimeout > 0 {
		pragmas = append(pragmas, fmt.Sprintf("_pragma=busy_timeout(%d)", busyTimeout.Milliseconds()))
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(pragmas, "&")
}

func isSQLiteMemory(rawURL string) bool {
	return strings.Contains(rawURL, ":memory:") || strings.Contains(rawURL, "mode=memory")
}
