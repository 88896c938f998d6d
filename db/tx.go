package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Tx is a transaction with the same statement surface as DB. Statements run
// through it are reported to hooks with InTx set.
type Tx struct {
	*runner
	sqltx *sql.Tx
}

func (t *Tx) Raw() *sql.Tx { return t.sqltx }

// TxOptions configures isolation level and the read-only flag.
type TxOptions struct {
	Isolation sql.IsolationLevel
	ReadOnly  bool
}

func (o TxOptions) toSQL() *sql.TxOptions {
	return &sql.TxOptions{Isolation: o.Isolation, ReadOnly: o.ReadOnly}
}

// ExecTx runs fn in a transaction. It commits when fn returns nil and rolls
// back when fn fails or panics; a panic is re-raised after the rollback.
// BEGIN, COMMIT and ROLLBACK reach the hooks as statements of their own.
// Nested transactions are not supported.
func (d *DB) ExecTx(ctx context.Context, fn func(*Tx) error, opts ...TxOptions) (err error) {
	ctx, cancel := d.deadline(ctx)
	defer cancel()

	var sqlOpts *sql.TxOptions
	if len(opts) > 0 {
		sqlOpts = opts[0].toSQL()
	}

	var sqltx *sql.Tx
	if err := d.control(ctx, "BEGIN", func() (err error) {
		sqltx, err = d.sqldb.BeginTx(ctx, sqlOpts)
		return err
	}); err != nil {
		return err
	}

	tx := &Tx{
		runner: &runner{conn: sqltx, hooks: d.hooks, errMap: d.errMap, inTx: true},
		sqltx:  sqltx,
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		rbErr := tx.control(ctx, "ROLLBACK", sqltx.Rollback)
		if p := recover(); p != nil {
			panic(p)
		}
		if rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = fmt.Errorf("registry/db: rollback failed (%v) after: %w", rbErr, err)
		}
	}()

	if err = fn(tx); err != nil {
		return d.mapErr(err)
	}
	if err = tx.control(ctx, "COMMIT", sqltx.Commit); err != nil {
		return err
	}
	committed = true
	return nil
}

// control reports a transaction control step to the hooks and maps its error.
func (r *runner) control(ctx context.Context, verb string, step func() error) error {
	st := Statement{Query: verb, InTx: true}
	r.hooks.before(ctx, st)
	start := time.Now()
	err := r.mapErr(step())
	st.Duration, st.Err = time.Since(start), err
	r.hooks.after(ctx, st)
	return err
}

// Querier is the statement surface shared by *DB and *Tx. Repository
// constructors accept it so they work inside and outside transactions.
type Querier interface {
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) *Row
}

var (
	_ Querier = (*DB)(nil)
	_ Querier = (*Tx)(nil)
)

// InTx runs fn in a transaction when q is a *DB. Any other Querier is
// already scoped, so fn runs on it directly.
func InTx(ctx context.Context, q Querier, fn func(Querier) error) error {
	d, ok := q.(*DB)
	if !ok {
		return fn(q)
	}
	return d.ExecTx(ctx, func(tx *Tx) error { return fn(tx) })
}
