package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Config selects and configures the database engine.
type Config struct {
	// Driver is "sqlite" (embedded, default) or "postgres".
	Driver string
	// DSN is a file path or ":memory:" for sqlite, or a full postgres URL.
	DSN string

	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string

	MaxOpenConns int
	BusyTimeout  time.Duration
}

// DB is an sqlx handle that knows its SQL dialect.
type DB struct {
	*sqlx.DB
	Dialect Dialect
}

// NewDB opens the database, pings it and applies the schema.
func NewDB(ctx context.Context, cfg Config) (*DB, error) {
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	dsn, err := dataSource(dialect, cfg)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(dialect.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	switch {
	case dialect.Name == DialectSQLite && isMemory(cfg.DSN):
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	case cfg.MaxOpenConns > 0:
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &DB{DB: db, Dialect: dialect}
	if err := d.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// Migrate applies the dialect schema. Statements are idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range d.Dialect.Schema {
		if _, err := d.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func isMemory(dsn string) bool {
	return dsn == "" || dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

func dataSource(d Dialect, cfg Config) (string, error) {
	switch d.Name {
	case DialectSQLite:
		return sqliteDSN(cfg), nil
	case DialectPostgres:
		if cfg.DSN != "" {
			return cfg.DSN, nil
		}
		if cfg.Host == "" {
			return "", fmt.Errorf("postgres requires database.dsn or database.host")
		}
		sslMode := cfg.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host,
			cfg.Port,
			cfg.User,
			cfg.Password,
			cfg.Name,
			sslMode,
		), nil
	}
	return "", fmt.Errorf("unsupported database driver %q", d.Name)
}

func sqliteDSN(cfg Config) string {
	if isMemory(cfg.DSN) {
		return ":memory:"
	}
	if strings.HasPrefix(cfg.DSN, "file:") {
		return cfg.DSN
	}
	timeout := cfg.BusyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	// The path is escaped so '?', '#' and '%' stay part of the file name.
	u := url.URL{
		Scheme:   "file",
		Opaque:   (&url.URL{Path: cfg.DSN}).EscapedPath(),
		RawQuery: fmt.Sprintf("_pragma=busy_timeout(%d)", timeout.Milliseconds()),
	}
	return u.String()
}

// WithTx executes a function within a transaction
func (d *DB) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := d.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}
