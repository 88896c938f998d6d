package db

import (
	"context"
	"database/sql"
	"time"
)

// conn is the statement surface shared by *sql.DB and *sql.Tx.
type conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// runner executes statements on a conn, timing them for the hooks and
// mapping driver errors. DB and Tx are thin fronts over it.
type runner struct {
	conn    conn
	hooks   hookChain
	errMap  ErrorMapper
	inTx    bool
	timeout time.Duration
}

func (r *runner) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, cancel := r.deadline(ctx)
	defer cancel()

	var res sql.Result
	err := r.observe(ctx, query, args, func(ctx context.Context) error {
		var err error
		res, err = r.conn.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

// Query runs a statement returning rows. The caller must close them. The
// default timeout is not applied: it would cancel the rows mid-iteration.
func (r *runner) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	err := r.observe(ctx, query, args, func(ctx context.Context) error {
		var err error
		rows, err = r.conn.QueryContext(ctx, query, args...)
		return err
	})
	return rows, err
}

// QueryRow runs a statement expected to return at most one row. Row.Scan
// reports ErrNotFound when nothing matched.
func (r *runner) QueryRow(ctx context.Context, query string, args ...any) *Row {
	var raw *sql.Row
	_ = r.observe(ctx, query, args, func(ctx context.Context) error {
		raw = r.conn.QueryRowContext(ctx, query, args...)
		return raw.Err()
	})
	return &Row{raw: raw, errMap: r.errMap}
}

func (r *runner) observe(ctx context.Context, query string, args []any, run func(context.Context) error) error {
	st := Statement{Query: query, Args: args, InTx: r.inTx}
	r.hooks.before(ctx, st)
	start := time.Now()
	err := r.mapErr(run(ctx))
	st.Duration, st.Err = time.Since(start), err
	r.hooks.after(ctx, st)
	return err
}

// deadline applies the default timeout unless ctx already has a deadline.
func (r *runner) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *runner) mapErr(err error) error {
	if err == nil {
		return nil
	}
	return r.errMap.Map(err)
}

// Row wraps *sql.Row and maps Scan errors.
type Row struct {
	raw    *sql.Row
	errMap ErrorMapper
}

func (r *Row) Scan(dest ...any) error {
	if err := r.raw.Scan(dest...); err != nil {
		return r.errMap.Map(err)
	}
	return nil
}
