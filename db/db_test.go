// db/db_test.go: unit tests for the SQL layer.
// Uses an in-memory SQLite database; no external services required.
package db_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Skryldev/student-registry/db"
)

// ─────────────────────────────────────────────────────────────────────────────
// Test helpers
// ─────────────────────────────────────────────────────────────────────────────

const testSchema = `
	CREATE TABLE IF NOT EXISTS students (
		id     VARCHAR(64)  NOT NULL PRIMARY KEY,
		name   VARCHAR(255) NOT NULL,
		course VARCHAR(255) NOT NULL
	)`

func newTestDB(t *testing.T, hooks ...db.Hook) *db.DB {
	t.Helper()
	d, err := db.Open(db.Config{
		DSN:          ":memory:",
		DriverName:   "sqlite3",
		MaxOpenConns: 1,
		Hooks:        append([]db.Hook{db.NewLogHook(db.LogHookConfig{LogArgs: true})}, hooks...),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	if _, err := d.Exec(context.Background(), testSchema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return d
}

func insertStudent(t *testing.T, q db.Querier, id, name string) {
	t.Helper()
	_, err := q.Exec(context.Background(),
		`INSERT INTO students (id, name, course) VALUES (?, ?, ?)`, id, name, "Math")
	if err != nil {
		t.Fatalf("insert %s: %v", id, err)
	}
}

func countStudents(t *testing.T, d *db.DB) int {
	t.Helper()
	var n int
	if err := d.QueryRow(context.Background(), `SELECT COUNT(*) FROM students`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

// ─────────────────────────────────────────────────────────────────────────────
// Open / Ping
// ─────────────────────────────────────────────────────────────────────────────

func TestOpen(t *testing.T) {
	d := newTestDB(t)
	if err := d.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	if d.DriverName() != "sqlite3" {
		t.Fatalf("unexpected driver name: %q", d.DriverName())
	}
}

func TestOpen_InvalidConfig(t *testing.T) {
	if _, err := db.Open(db.Config{DSN: "", DriverName: "sqlite3"}); err == nil {
		t.Fatal("expected error for empty DSN")
	}
	if _, err := db.Open(db.Config{DSN: ":memory:"}); err == nil {
		t.Fatal("expected error for empty driver name")
	}
}

func TestOpenWithDriver_SQLite(t *testing.T) {
	d, err := db.OpenWithDriver("sqlite3", db.DriverOptions{Database: ":memory:"}, db.Config{MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("open with driver: %v", err)
	}
	defer d.Close()
	if err := d.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestOpenWithDriver_Unknown(t *testing.T) {
	if _, err := db.OpenWithDriver("oracle", db.DriverOptions{}, db.Config{}); err == nil {
		t.Fatal("expected error for unregistered driver")
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// QueryRow / Query
// ─────────────────────────────────────────────────────────────────────────────

func TestQueryRow_Scan(t *testing.T) {
	d := newTestDB(t)
	insertStudent(t, d, "a1", "Ada")

	var name string
	err := d.QueryRow(context.Background(), `SELECT name FROM students WHERE id = ?`, "a1").Scan(&name)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if name != "Ada" {
		t.Fatalf("unexpected name: %q", name)
	}
}

func TestQueryRow_NotFound(t *testing.T) {
	d := newTestDB(t)

	var name string
	err := d.QueryRow(context.Background(), `SELECT name FROM students WHERE id = ?`, "missing").Scan(&name)
	if !db.IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestQuery_MultipleRows(t *testing.T) {
	d := newTestDB(t)
	for i, name := range []string{"Ada", "Grace", "Linus"} {
		insertStudent(t, d, fmt.Sprintf("id-%d", i), name)
	}

	rows, err := d.Query(context.Background(), `SELECT name FROM students ORDER BY id`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			t.Fatalf("scan: %v", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows.Err: %v", err)
	}
	if strings.Join(names, ",") != "Ada,Grace,Linus" {
		t.Fatalf("unexpected names: %v", names)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// ExecTx
// ─────────────────────────────────────────────────────────────────────────────

func TestExecTx_Commit(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	err := d.ExecTx(ctx, func(tx *db.Tx) error {
		insertStudent(t, tx, "tx-1", "Dave")
		return nil
	})
	if err != nil {
		t.Fatalf("tx commit: %v", err)
	}
	if n := countStudents(t, d); n != 1 {
		t.Fatalf("expected 1 committed row, got %d", n)
	}
}

func TestExecTx_RollbackOnError(t *testing.T) {
	d := newTestDB(t)
	sentinelErr := errors.New("intentional failure")

	err := d.ExecTx(context.Background(), func(tx *db.Tx) error {
		insertStudent(t, tx, "tx-2", "Eve")
		return sentinelErr
	})
	if !errors.Is(err, sentinelErr) {
		t.Fatalf("expected sentinelErr, got %v", err)
	}
	if n := countStudents(t, d); n != 0 {
		t.Fatalf("expected 0 rows after rollback, got %d", n)
	}
}

func TestExecTx_RollbackOnPanic(t *testing.T) {
	d := newTestDB(t)

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = d.ExecTx(context.Background(), func(tx *db.Tx) error {
			insertStudent(t, tx, "tx-3", "Mallory")
			panic("test panic")
		})
	}()

	if n := countStudents(t, d); n != 0 {
		t.Fatalf("expected 0 rows after panic rollback, got %d", n)
	}
}

func TestInTx_UsesTransactionForDB(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	err := db.InTx(ctx, d, func(q db.Querier) error {
		if _, ok := q.(*db.Tx); !ok {
			t.Fatalf("expected *db.Tx, got %T", q)
		}
		insertStudent(t, q, "in-1", "Ivy")
		return errors.New("abort")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if n := countStudents(t, d); n != 0 {
		t.Fatalf("expected rollback, got %d rows", n)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Error mapping
// ─────────────────────────────────────────────────────────────────────────────

func TestErrorMapper_DuplicateKey(t *testing.T) {
	d := newTestDB(t)
	insertStudent(t, d, "dup", "Alice")

	_, err := d.Exec(context.Background(),
		`INSERT INTO students (id, name, course) VALUES (?, ?, ?)`, "dup", "Alice", "Math")
	if !db.IsDuplicateKey(err) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	var dbErr *db.DBError
	if !errors.As(err, &dbErr) || dbErr.Cause == nil {
		t.Fatalf("expected *db.DBError with cause, got %T", err)
	}
}

func TestDefaultErrorMapper(t *testing.T) {
	m := db.DefaultErrorMapper()

	if err := m.Map(nil); err != nil {
		t.Fatalf("nil should map to nil, got %v", err)
	}
	if err := m.Map(context.DeadlineExceeded); !db.IsTimeout(err) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	plain := errors.New("plain")
	if err := m.Map(plain); err != plain {
		t.Fatalf("unmapped errors must pass through, got %v", err)
	}
	mapped := m.Map(context.Canceled)
	if again := m.Map(mapped); again != mapped {
		t.Fatal("already-mapped errors must not be wrapped twice")
	}
}

func TestChainMapper_FirstMatchWins(t *testing.T) {
	boom := errors.New("boom")
	first := db.ErrorMapperFunc(func(err error) error {
		if errors.Is(err, boom) {
			return &db.DBError{Sentinel: db.ErrDeadlock, Cause: err}
		}
		return err
	})
	m := db.ChainMapper(first, db.DefaultErrorMapper())

	if err := m.Map(boom); !db.IsDeadlock(err) {
		t.Fatalf("expected ErrDeadlock, got %v", err)
	}
	if err := m.Map(context.DeadlineExceeded); !db.IsTimeout(err) {
		t.Fatalf("expected fallthrough to default mapper, got %v", err)
	}
}

func TestErrorMapper_Constraints(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	for _, stmt := range []string{
		`PRAGMA foreign_keys = ON`,
		`CREATE TABLE enrolments (
			student_id VARCHAR(64) NOT NULL REFERENCES students(id),
			year       INTEGER     NOT NULL CHECK (year > 1900)
		)`,
	} {
		if _, err := d.Exec(ctx, stmt); err != nil {
			t.Fatalf("setup %q: %v", stmt, err)
		}
	}
	insertStudent(t, d, "s-1", "Ada")

	_, err := d.Exec(ctx, `INSERT INTO enrolments (student_id, year) VALUES (?, ?)`, "ghost", 2024)
	if !db.IsForeignKeyViolation(err) {
		t.Fatalf("expected ErrForeignKeyViolation, got %v", err)
	}
	_, err = d.Exec(ctx, `INSERT INTO enrolments (student_id, year) VALUES (?, ?)`, "s-1", 1800)
	if !db.IsCheckViolation(err) {
		t.Fatalf("expected ErrCheckViolation, got %v", err)
	}
}

func TestSetErrorMapper(t *testing.T) {
	d := newTestDB(t)
	d.SetErrorMapper(db.ErrorMapperFunc(func(err error) error {
		return &db.DBError{Sentinel: db.ErrDeadlock, Cause: err, Message: "forced"}
	}))

	_, err := d.Exec(context.Background(), `SELECT * FROM no_such_table`)
	if !db.IsDeadlock(err) || !strings.Contains(err.Error(), "forced") {
		t.Fatalf("custom mapper not used: %v", err)
	}
}

func TestMustOpen(t *testing.T) {
	d := db.MustOpen(db.Config{DSN: ":memory:", DriverName: "sqlite3"})
	_ = d.Close()

	defer func() {
		if recover() == nil {
			t.Fatal("expected MustOpen to panic on an empty DSN")
		}
	}()
	db.MustOpen(db.Config{DriverName: "sqlite3"})
}

// ─────────────────────────────────────────────────────────────────────────────
// Drivers
// ─────────────────────────────────────────────────────────────────────────────

func TestDrivers_Registered(t *testing.T) {
	got := strings.Join(db.Drivers(), ",")
	if got != "mysql,pgx,postgres,sqlite3" {
		t.Fatalf("unexpected drivers: %s", got)
	}
}

func TestDriverDSN(t *testing.T) {
	cases := []struct {
		driver string
		opts   db.DriverOptions
		want   string
	}{
		{
			driver: "postgres",
			opts:   db.DriverOptions{Host: "db", User: "app", Password: "pw", Database: "registry"},
			want:   "host=db port=5432 user=app password=pw dbname=registry sslmode=disable",
		},
		{
			driver: "pgx",
			opts:   db.DriverOptions{Host: "db", Port: 6543, Database: "registry", SSLMode: "require"},
			want:   "host=db port=6543 user= password= dbname=registry sslmode=require",
		},
		{
			driver: "sqlite3",
			opts:   db.DriverOptions{Database: "students.db", Extra: map[string]string{"_busy_timeout": "5000"}},
			want:   "students.db?_busy_timeout=5000",
		},
	}
	for _, tc := range cases {
		drv, err := db.LookupDriver(tc.driver)
		if err != nil {
			t.Fatalf("lookup %s: %v", tc.driver, err)
		}
		got, err := drv.DSN(tc.opts)
		if err != nil {
			t.Fatalf("%s dsn: %v", tc.driver, err)
		}
		if got != tc.want {
			t.Fatalf("%s dsn: expected %q got %q", tc.driver, tc.want, got)
		}
	}
}

func TestDriverDSN_MySQL(t *testing.T) {
	drv, err := db.LookupDriver("mysql")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	got, err := drv.DSN(db.DriverOptions{Host: "db", User: "app", Password: "pw", Database: "registry"})
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}
	if !strings.HasPrefix(got, "app:pw@tcp(db:3306)/registry?") || !strings.Contains(got, "parseTime=true") {
		t.Fatalf("unexpected mysql dsn: %q", got)
	}
}

func TestDriverDSN_MissingDatabase(t *testing.T) {
	for _, name := range []string{"postgres", "pgx", "mysql", "sqlite3"} {
		drv, _ := db.LookupDriver(name)
		if _, err := drv.DSN(db.DriverOptions{Host: "db"}); err == nil {
			t.Fatalf("%s: expected error without database", name)
		}
	}
}

// memoryDriver renders every DSN as an in-memory SQLite database.
type memoryDriver struct {
	db.SQLiteDriver
	calls int
}

func (m *memoryDriver) DSN(db.DriverOptions) (string, error) {
	m.calls++
	return ":memory:", nil
}

func TestReplaceDriver(t *testing.T) {
	drv := &memoryDriver{}
	db.ReplaceDriver(drv)
	t.Cleanup(func() { db.ReplaceDriver(db.SQLiteDriver{}) })

	d, err := db.OpenWithDriver("sqlite3", db.DriverOptions{}, db.Config{})
	if err != nil {
		t.Fatalf("open through replaced driver: %v", err)
	}
	defer d.Close()
	if drv.calls != 1 {
		t.Fatalf("replacement DSN called %d times", drv.calls)
	}
	if got := strings.Join(db.Drivers(), ","); got != "mysql,pgx,postgres,sqlite3" {
		t.Fatalf("replace must not add a name: %s", got)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected RegisterDriver to panic on a taken name")
		}
	}()
	db.RegisterDriver(db.SQLiteDriver{})
}

// ─────────────────────────────────────────────────────────────────────────────
// WithRetry
// ─────────────────────────────────────────────────────────────────────────────

func TestWithRetry_SucceedsOnSecondAttempt(t *testing.T) {
	attempts := 0
	err := db.WithRetry(context.Background(), db.RetryConfig{
		MaxAttempts: 3,
		Delay:       time.Millisecond,
	}, func() error {
		attempts++
		if attempts < 2 {
			return &db.DBError{Sentinel: db.ErrConnectionFailed, Cause: errors.New("refused")}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestWithRetry_StopsOnPermanentError(t *testing.T) {
	attempts := 0
	permanent := errors.New("permanent")
	err := db.WithRetry(context.Background(), db.RetryConfig{MaxAttempts: 5}, func() error {
		attempts++
		return permanent
	})
	if !errors.Is(err, permanent) || attempts != 1 {
		t.Fatalf("expected single attempt with permanent error, got %d attempts, err=%v", attempts, err)
	}
}

func TestWithRetry_ExhaustsAttempts(t *testing.T) {
	err := db.WithRetry(context.Background(), db.RetryConfig{
		MaxAttempts: 3,
		Delay:       time.Millisecond,
	}, func() error {
		return &db.DBError{Sentinel: db.ErrTimeout, Cause: context.DeadlineExceeded}
	})
	if !db.IsTimeout(err) {
		t.Fatalf("expected wrapped ErrTimeout after exhausting attempts, got %v", err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Hooks
// ─────────────────────────────────────────────────────────────────────────────

type countingHook struct {
	mu     sync.Mutex
	before int
	after  int
}

func (h *countingHook) BeforeQuery(context.Context, db.Statement) {
	h.mu.Lock()
	h.before++
	h.mu.Unlock()
}

func (h *countingHook) AfterQuery(context.Context, db.Statement) {
	h.mu.Lock()
	h.after++
	h.mu.Unlock()
}

type panickingHook struct{}

func (panickingHook) BeforeQuery(context.Context, db.Statement) { panic("before") }
func (panickingHook) AfterQuery(context.Context, db.Statement)  { panic("after") }

// statementLog records completed statements.
type statementLog struct {
	mu    sync.Mutex
	stmts []db.Statement
}

func (l *statementLog) hook() db.Hook {
	return db.AfterFunc(func(_ context.Context, st db.Statement) {
		l.mu.Lock()
		l.stmts = append(l.stmts, st)
		l.mu.Unlock()
	})
}

func (l *statementLog) reset() {
	l.mu.Lock()
	l.stmts = nil
	l.mu.Unlock()
}

// verbs returns the first word of each statement, with a trailing * when
// it ran inside a transaction.
func (l *statementLog) verbs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.stmts))
	for i, st := range l.stmts {
		v := strings.Fields(st.Query)[0]
		if st.InTx {
			v += "*"
		}
		out[i] = v
	}
	return out
}

func TestHooks_CalledOnExec(t *testing.T) {
	hook := &countingHook{}
	d := newTestDB(t, hook, panickingHook{})

	before, after := hook.before, hook.after
	if _, err := d.Exec(context.Background(), `SELECT 1`); err != nil {
		t.Fatalf("a panicking hook must not fail the statement: %v", err)
	}

	if hook.before != before+1 || hook.after != after+1 {
		t.Fatalf("hook not called: before=%d after=%d", hook.before-before, hook.after-after)
	}
}

func TestHooks_SeeTransactionControl(t *testing.T) {
	log := &statementLog{}
	d := newTestDB(t, log.hook())
	ctx := context.Background()

	log.reset()
	_ = d.ExecTx(ctx, func(tx *db.Tx) error {
		insertStudent(t, tx, "s-1", "Ada")
		return nil
	})
	got := strings.Join(log.verbs(), " ")
	if got != "BEGIN* INSERT* COMMIT*" {
		t.Fatalf("commit path: got %q", got)
	}

	log.reset()
	_ = d.ExecTx(ctx, func(tx *db.Tx) error {
		insertStudent(t, tx, "s-2", "Bola")
		return errors.New("abort")
	})
	got = strings.Join(log.verbs(), " ")
	if got != "BEGIN* INSERT* ROLLBACK*" {
		t.Fatalf("rollback path: got %q", got)
	}

	log.reset()
	countStudents(t, d)
	if got := log.verbs(); len(got) != 1 || got[0] != "SELECT" {
		t.Fatalf("statement outside a transaction: got %v", got)
	}
}

func TestHooks_ReceiveMappedError(t *testing.T) {
	log := &statementLog{}
	d := newTestDB(t, log.hook())
	insertStudent(t, d, "s-1", "Ada")
	log.reset()

	_, err := d.Exec(context.Background(),
		`INSERT INTO students (id, name, course) VALUES (?, ?, ?)`, "s-1", "Ada", "Math")
	if !db.IsDuplicateKey(err) {
		t.Fatalf("want ErrDuplicateKey, got %v", err)
	}
	if len(log.stmts) != 1 || !db.IsDuplicateKey(log.stmts[0].Err) {
		t.Fatalf("hook saw %+v", log.stmts)
	}
	if len(log.stmts[0].Args) != 3 {
		t.Fatalf("hook args = %v", log.stmts[0].Args)
	}
}

type recordingCollector struct {
	queries []string
	ok      []bool
}

func (c *recordingCollector) RecordQuery(query string, _ time.Duration, success bool) {
	c.queries = append(c.queries, query)
	c.ok = append(c.ok, success)
}

func TestMetricsHook_ReportsOutcome(t *testing.T) {
	collector := &recordingCollector{}
	counter := &countingHook{}
	d := newTestDB(t, db.CompositeHook(db.NewMetricsHook(collector), counter))
	collector.queries, collector.ok = nil, nil

	_, _ = d.Exec(context.Background(), `SELECT 1`)
	_, _ = d.Exec(context.Background(), `SELECT * FROM no_such_table`)

	if len(collector.ok) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(collector.ok))
	}
	if !collector.ok[0] || collector.ok[1] {
		t.Fatalf("unexpected outcomes: %v", collector.ok)
	}
	if counter.after < 2 {
		t.Fatalf("composite hook did not fan out: after=%d", counter.after)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Context cancellation
// ─────────────────────────────────────────────────────────────────────────────

func TestContextCancellation(t *testing.T) {
	d := newTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Exec(ctx, `SELECT 1`)
	if err != nil && !db.IsTimeout(err) {
		t.Fatalf("expected ErrTimeout for cancelled context, got %v", err)
	}
}
