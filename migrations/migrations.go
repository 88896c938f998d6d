// Package migrations embeds the schema of the SQL store and applies it with
// golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed *.sql
var files embed.FS

// Source returns the embedded migrations as a golang-migrate source.
func Source() (source.Driver, error) {
	return iofs.New(files, ".")
}

// Up applies every pending migration to the database at dsn. The connection
// is private to the call and closed before it returns, so an in-memory
// SQLite database cannot be migrated this way.
func Up(driverName, dsn string, logger *slog.Logger) error {
	m, err := New(driverName, dsn, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: up: %w", err)
	}
	return nil
}

// New opens dsn with the database/sql driver driverName and returns a
// Migrate bound to the embedded source. Closing it closes the connection.
func New(driverName, dsn string, logger *slog.Logger) (*migrate.Migrate, error) {
	sqldb, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("migrations: open %s: %w", driverName, err)
	}
	target, err := databaseDriver(driverName, sqldb)
	if err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	src, err := Source()
	if err != nil {
		_ = target.Close()
		return nil, fmt.Errorf("migrations: source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, driverName, target)
	if err != nil {
		_ = target.Close()
		return nil, fmt.Errorf("migrations: init: %w", err)
	}
	m.Log = NewLogger(logger)
	return m, nil
}

func databaseDriver(driverName string, sqldb *sql.DB) (database.Driver, error) {
	var (
		d   database.Driver
		err error
	)
	switch driverName {
	case "postgres":
		d, err = postgres.WithInstance(sqldb, &postgres.Config{})
	case "pgx":
		d, err = pgxmigrate.WithInstance(sqldb, &pgxmigrate.Config{})
	case "mysql":
		d, err = mysql.WithInstance(sqldb, &mysql.Config{})
	case "sqlite3":
		d, err = sqlite3.WithInstance(sqldb, &sqlite3.Config{})
	default:
		return nil, fmt.Errorf("migrations: unsupported driver %q", driverName)
	}
	if err != nil {
		return nil, fmt.Errorf("migrations: %s: %w", driverName, err)
	}
	return d, nil
}

// Logger adapts slog to migrate.Logger.
type Logger struct {
	logger  *slog.Logger
	verbose bool
}

// NewLogger returns a Logger writing to l, or slog.Default() when l is nil.
func NewLogger(l *slog.Logger) *Logger {
	if l == nil {
		l = slog.Default()
	}
	return &Logger{logger: l}
}

func (l *Logger) Printf(format string, v ...any) {
	l.logger.Info(fmt.Sprintf(format, v...), "component", "migrate")
}

func (l *Logger) Verbose() bool { return l.verbose }
