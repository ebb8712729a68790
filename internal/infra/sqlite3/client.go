package sqlite3

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

var (
	defaultConnTimeout     = 10 * time.Second
	defaultMaxOpenConns    = 1
	defaultMaxIdleConns    = 1
	defaultConnMaxLifetime = time.Hour
	defaultBusyTimeout     = 5 * time.Second
)

type config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnTimeout     time.Duration
	BusyTimeout     time.Duration
	Migrate         bool
}

type Option func(*config)

// WithDSN sets the database file. The default is a private in-memory database.
func WithDSN(dsn string) Option {
	return func(c *config) {
		c.DSN = dsn
	}
}

func WithMaxOpenConns(maxOpen int) Option {
	return func(c *config) {
		c.MaxOpenConns = maxOpen
	}
}

func WithMaxIdleConns(maxIdle int) Option {
	return func(c *config) {
		c.MaxIdleConns = maxIdle
	}
}

func WithConnMaxLifetime(lifetime time.Duration) Option {
	return func(c *config) {
		c.ConnMaxLifetime = lifetime
	}
}

func WithConnTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.ConnTimeout = timeout
	}
}

func WithBusyTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.BusyTimeout = timeout
	}
}

// WithMigrations applies the embedded schema migrations after connecting.
func WithMigrations() Option {
	return func(c *config) {
		c.Migrate = true
	}
}

func newConfig(opts ...Option) *config {
	cfg := &config{
		DSN:             ":memory:",
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime,
		ConnTimeout:     defaultConnTimeout,
		BusyTimeout:     defaultBusyTimeout,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return cfg
}

// dsn appends the pragmas every connection needs. An in-memory database is
// per connection, so it is pinned to a single one.
func (c *config) dsn() string {
	sep := "?"
	for _, r := range c.DSN {
		if r == '?' {
			sep = "&"
			break
		}
	}
	return fmt.Sprintf("file:%s%s_busy_timeout=%d&_foreign_keys=on&_loc=UTC",
		c.DSN, sep, c.BusyTimeout.Milliseconds())
}

func New(ctx context.Context, opts ...Option) (*DB, error) {
	cfg := newConfig(opts...)
	if cfg.DSN == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	db, err := sqlx.Open("sqlite3", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite3 database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite3 database: %w", err)
	}

	d := &DB{DB: db}
	if cfg.Migrate {
		if err := d.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return d, nil
}

type DB struct {
	*sqlx.DB
}

func (d *DB) Close() error {
	return d.DB.Close()
}
