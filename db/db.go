// Package db is the SQL layer behind the student registry's durable store.
// It wraps database/sql with context-aware helpers, statement hooks,
// driver-aware error mapping and transaction management. All SQL stays
// explicit; there is no ORM.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Config describes the pool. DriverName is one of "postgres", "pgx",
// "mysql" or "sqlite3".
type Config struct {
	DSN        string
	DriverName string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// DefaultTimeout bounds Exec, Ping and ExecTx when the caller's context
	// has no deadline. Zero disables it.
	DefaultTimeout time.Duration

	Hooks []Hook
}

// DB is a concurrency-safe pool. Its statement methods come from the
// embedded runner, which dispatches hooks and maps driver errors.
type DB struct {
	*runner
	sqldb  *sql.DB
	driver string
}

// Open opens the database described by cfg and verifies connectivity with
// Ping. A registered Driver for cfg.DriverName contributes its error mapper
// ahead of the default one.
func Open(cfg Config) (*DB, error) {
	switch {
	case cfg.DSN == "":
		return nil, fmt.Errorf("registry/db: DSN must not be empty")
	case cfg.DriverName == "":
		return nil, fmt.Errorf("registry/db: DriverName must not be empty")
	}

	sqldb, err := sql.Open(cfg.DriverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("registry/db: open: %w", err)
	}
	configurePool(sqldb, cfg)

	d := &DB{
		runner: &runner{
			conn:    sqldb,
			hooks:   newHookChain(cfg.Hooks),
			errMap:  mapperFor(cfg.DriverName),
			timeout: cfg.DefaultTimeout,
		},
		sqldb:  sqldb,
		driver: cfg.DriverName,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqldb.PingContext(ctx); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("registry/db: ping: %w", d.mapErr(err))
	}
	return d, nil
}

func configurePool(sqldb *sql.DB, cfg Config) {
	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqldb.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
}

func mapperFor(driverName string) ErrorMapper {
	if drv, err := LookupDriver(driverName); err == nil {
		return ChainMapper(drv.ErrorMapper(), DefaultErrorMapper())
	}
	return DefaultErrorMapper()
}

// MustOpen is like Open but panics on error.
func MustOpen(cfg Config) *DB {
	d, err := Open(cfg)
	if err != nil {
		panic(err)
	}
	return d
}

func (d *DB) Raw() *sql.DB { return d.sqldb }

// DriverName reports the database/sql driver the pool was opened with.
func (d *DB) DriverName() string { return d.driver }

// SetErrorMapper replaces the active error mapper. Call it before the pool
// is shared between goroutines.
func (d *DB) SetErrorMapper(m ErrorMapper) { d.errMap = m }

func (d *DB) Close() error { return d.sqldb.Close() }

func (d *DB) Ping(ctx context.Context) error {
	ctx, cancel := d.deadline(ctx)
	defer cancel()
	return d.mapErr(d.sqldb.PingContext(ctx))
}

func (d *DB) Stats() sql.DBStats { return d.sqldb.Stats() }

// RetryConfig controls WithRetry. The wait before attempt n (counting from
// zero) is n*Delay.
type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
	// RetryOn defaults to connection failures, deadlocks and timeouts.
	RetryOn func(error) bool
}

func (c RetryConfig) retryable(err error) bool {
	if c.RetryOn != nil {
		return c.RetryOn(err)
	}
	return IsConnectionFailed(err) || IsDeadlock(err) || IsTimeout(err)
}

// WithRetry calls fn until it succeeds, fails with a non-retryable error or
// the attempts run out. The service uses it at boot while the database is
// still coming up.
func WithRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	attempts := max(cfg.MaxAttempts, 1)
	var err error
	for n := range attempts {
		if n > 0 {
			t := time.NewTimer(time.Duration(n) * cfg.Delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		if err = fn(); err == nil || !cfg.retryable(err) {
			return err
		}
	}
	return fmt.Errorf("registry/db: giving up after %d attempts: %w", attempts, err)
}
