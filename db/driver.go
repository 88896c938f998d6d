package db

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Driver adapts one database/sql driver: how to spell its DSN and how to
// read its typed errors. Importing this package links and registers the
// postgres, pgx, mysql and sqlite3 drivers.
type Driver interface {
	// Name is the database/sql driver name.
	Name() string
	DSN(opts DriverOptions) (string, error)
	ErrorMapper() ErrorMapper
}

// DriverOptions are connection parameters in driver-neutral form. For
// sqlite3 only Database (the file path) and Extra are used.
type DriverOptions struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	// Extra holds driver-specific parameters appended to the DSN.
	Extra map[string]string
}

func (o DriverOptions) requireServer(driver string, defaultPort int) (int, error) {
	if o.Host == "" || o.Database == "" {
		return 0, fmt.Errorf("registry/db: %s needs a host and a database", driver)
	}
	if o.Port == 0 {
		return defaultPort, nil
	}
	return o.Port, nil
}

var drivers = struct {
	sync.RWMutex
	byName map[string]Driver
}{byName: map[string]Driver{}}

// RegisterDriver adds d, panicking if the name is taken.
func RegisterDriver(d Driver) {
	drivers.Lock()
	defer drivers.Unlock()
	if _, dup := drivers.byName[d.Name()]; dup {
		panic("registry/db: driver " + strconv.Quote(d.Name()) + " registered twice")
	}
	drivers.byName[d.Name()] = d
}

// ReplaceDriver adds or overrides d.
func ReplaceDriver(d Driver) {
	drivers.Lock()
	drivers.byName[d.Name()] = d
	drivers.Unlock()
}

func LookupDriver(name string) (Driver, error) {
	drivers.RLock()
	defer drivers.RUnlock()
	if d, ok := drivers.byName[name]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("registry/db: unknown driver %q", name)
}

// Drivers returns the registered names, sorted.
func Drivers() []string {
	drivers.RLock()
	defer drivers.RUnlock()
	names := make([]string, 0, len(drivers.byName))
	for name := range drivers.byName {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// OpenWithDriver renders opts through the named driver and opens the pool.
// cfg.DSN and cfg.DriverName are overwritten.
func OpenWithDriver(driverName string, opts DriverOptions, cfg Config) (*DB, error) {
	drv, err := LookupDriver(driverName)
	if err != nil {
		return nil, err
	}
	if cfg.DSN, err = drv.DSN(opts); err != nil {
		return nil, err
	}
	cfg.DriverName = drv.Name()
	return Open(cfg)
}

func init() {
	for _, d := range []Driver{PostgresDriver{}, PgxDriver{}, MySQLDriver{}, SQLiteDriver{}} {
		RegisterDriver(d)
	}
}

// codeMapper builds a mapper from a driver error type to sentinels keyed by
// the driver's error code. code reports false for errors it does not own.
func codeMapper[K comparable](code func(error) (K, bool), table map[K]error, fallback func(K) error) ErrorMapper {
	return ErrorMapperFunc(func(err error) error {
		k, ok := code(err)
		if !ok {
			return err
		}
		sentinel := table[k]
		if sentinel == nil && fallback != nil {
			sentinel = fallback(k)
		}
		if sentinel == nil {
			return err
		}
		return &DBError{Sentinel: sentinel, Cause: err}
	})
}

// ── PostgreSQL ───────────────────────────────────────────────────────────────

// SQLSTATE classes, see the PostgreSQL "Errors and Messages" appendix.
var pgStates = map[string]error{
	"23505": ErrDuplicateKey,
	"23503": ErrForeignKeyViolation,
	"23514": ErrCheckViolation,
	"40P01": ErrDeadlock,
	"57014": ErrTimeout,
	"57P03": ErrConnectionFailed,
}

// pgClass maps class 08 (connection exception) as a whole.
func pgClass(state string) error {
	if strings.HasPrefix(state, "08") {
		return ErrConnectionFailed
	}
	return nil
}

func postgresDSN(driver string, o DriverOptions) (string, error) {
	port, err := o.requireServer(driver, 5432)
	if err != nil {
		return "", err
	}
	sslMode := o.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	parts := []string{
		"host=" + o.Host,
		"port=" + strconv.Itoa(port),
		"user=" + o.User,
		"password=" + o.Password,
		"dbname=" + o.Database,
		"sslmode=" + sslMode,
	}
	keys := make([]string, 0, len(o.Extra))
	for k := range o.Extra {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		parts = append(parts, k+"="+o.Extra[k])
	}
	return strings.Join(parts, " "), nil
}

// PostgresDriver adapts lib/pq.
type PostgresDriver struct{}

func (PostgresDriver) Name() string                        { return "postgres" }
func (PostgresDriver) DSN(o DriverOptions) (string, error) { return postgresDSN("postgres", o) }

func (PostgresDriver) ErrorMapper() ErrorMapper {
	return codeMapper(func(err error) (string, bool) {
		var pqe *pq.Error
		if errors.As(err, &pqe) {
			return string(pqe.Code), true
		}
		return "", false
	}, pgStates, pgClass)
}

// PgxDriver adapts jackc/pgx through its database/sql shim.
type PgxDriver struct{}

func (PgxDriver) Name() string                        { return "pgx" }
func (PgxDriver) DSN(o DriverOptions) (string, error) { return postgresDSN("pgx", o) }

func (PgxDriver) ErrorMapper() ErrorMapper {
	byState := codeMapper(func(err error) (string, bool) {
		var pge *pgconn.PgError
		if errors.As(err, &pge) {
			return pge.Code, true
		}
		return "", false
	}, pgStates, pgClass)
	// pgx reports failures that happened before anything reached the
	// server as safe to retry.
	unsent := ErrorMapperFunc(func(err error) error {
		if pgconn.SafeToRetry(err) {
			return &DBError{Sentinel: ErrConnectionFailed, Cause: err}
		}
		return err
	})
	return ChainMapper(byState, unsent)
}

// ── MySQL ────────────────────────────────────────────────────────────────────

var mysqlErrors = map[uint16]error{
	1062: ErrDuplicateKey,        // ER_DUP_ENTRY
	1216: ErrForeignKeyViolation, // ER_NO_REFERENCED_ROW
	1217: ErrForeignKeyViolation, // ER_ROW_IS_REFERENCED
	1452: ErrForeignKeyViolation, // ER_NO_REFERENCED_ROW_2
	3819: ErrCheckViolation,      // ER_CHECK_CONSTRAINT_VIOLATED
	1213: ErrDeadlock,            // ER_LOCK_DEADLOCK
	3024: ErrTimeout,             // ER_QUERY_TIMEOUT
	1045: ErrConnectionFailed,    // access denied
	1049: ErrConnectionFailed,    // unknown database
	2002: ErrConnectionFailed,
	2003: ErrConnectionFailed,
	2006: ErrConnectionFailed, // server gone away
	2013: ErrConnectionFailed, // lost connection
}

// MySQLDriver adapts go-sql-driver/mysql. DSNs always set parseTime.
type MySQLDriver struct{}

func (MySQLDriver) Name() string { return "mysql" }

func (MySQLDriver) DSN(o DriverOptions) (string, error) {
	port, err := o.requireServer("mysql", 3306)
	if err != nil {
		return "", err
	}
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = o.Host + ":" + strconv.Itoa(port)
	cfg.User, cfg.Passwd, cfg.DBName = o.User, o.Password, o.Database
	cfg.ParseTime = true
	if len(o.Extra) > 0 {
		cfg.Params = make(map[string]string, len(o.Extra))
		for k, v := range o.Extra {
			cfg.Params[k] = v
		}
	}
	return cfg.FormatDSN(), nil
}

func (MySQLDriver) ErrorMapper() ErrorMapper {
	invalidConn := ErrorMapperFunc(func(err error) error {
		if errors.Is(err, mysql.ErrInvalidConn) {
			return &DBError{Sentinel: ErrConnectionFailed, Cause: err}
		}
		return err
	})
	byNumber := codeMapper(func(err error) (uint16, bool) {
		var me *mysql.MySQLError
		if errors.As(err, &me) {
			return me.Number, true
		}
		return 0, false
	}, mysqlErrors, nil)
	return ChainMapper(invalidConn, byNumber)
}

// ── SQLite ───────────────────────────────────────────────────────────────────

// sqliteErrors is keyed by extended code first; the primary codes below
// cover busy, locked and unopenable files.
var sqliteErrors = map[int]error{
	int(sqlite3.ErrConstraintUnique):     ErrDuplicateKey,
	int(sqlite3.ErrConstraintPrimaryKey): ErrDuplicateKey,
	int(sqlite3.ErrConstraintForeignKey): ErrForeignKeyViolation,
	int(sqlite3.ErrConstraintCheck):      ErrCheckViolation,
}

func sqlitePrimary(code int) error {
	switch sqlite3.ErrNo(code & 0xff) {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return ErrDeadlock
	case sqlite3.ErrCantOpen:
		return ErrConnectionFailed
	}
	return nil
}

// SQLiteDriver adapts mattn/go-sqlite3.
type SQLiteDriver struct{}

func (SQLiteDriver) Name() string { return "sqlite3" }

func (SQLiteDriver) DSN(o DriverOptions) (string, error) {
	if o.Database == "" {
		return "", errors.New("registry/db: sqlite3 needs a database file path")
	}
	if len(o.Extra) == 0 {
		return o.Database, nil
	}
	q := make(url.Values, len(o.Extra))
	for k, v := range o.Extra {
		q.Set(k, v)
	}
	return o.Database + "?" + q.Encode(), nil
}

func (SQLiteDriver) ErrorMapper() ErrorMapper {
	return codeMapper(func(err error) (int, bool) {
		var se sqlite3.Error
		if errors.As(err, &se) {
			return int(se.ExtendedCode), true
		}
		return 0, false
	}, sqliteErrors, sqlitePrimary)
}
