package db

import (
	"context"
	"log/slog"
	"time"
)

// Statement describes one statement as seen by hooks. Transaction control
// (BEGIN, COMMIT, ROLLBACK) is reported as a statement too, with InTx set.
type Statement struct {
	Query string
	Args  []any
	InTx  bool

	// Duration and Err are only set for AfterQuery. Err is the mapped error
	// returned to the caller.
	Duration time.Duration
	Err      error
}

// Hook observes statements. Implementations must be goroutine-safe; a
// panicking hook is recovered and logged without failing the statement.
type Hook interface {
	BeforeQuery(ctx context.Context, st Statement)
	AfterQuery(ctx context.Context, st Statement)
}

// AfterFunc adapts a function to a Hook that only observes completions.
type AfterFunc func(ctx context.Context, st Statement)

func (f AfterFunc) BeforeQuery(context.Context, Statement)         {}
func (f AfterFunc) AfterQuery(ctx context.Context, st Statement) { f(ctx, st) }

type hookChain []Hook

func newHookChain(hooks []Hook) hookChain {
	chain := make(hookChain, 0, len(hooks))
	for _, h := range hooks {
		if h != nil {
			chain = append(chain, h)
		}
	}
	return chain
}

func (c hookChain) before(ctx context.Context, st Statement) {
	for _, h := range c {
		c.guard(ctx, "BeforeQuery", func() { h.BeforeQuery(ctx, st) })
	}
}

func (c hookChain) after(ctx context.Context, st Statement) {
	for _, h := range c {
		c.guard(ctx, "AfterQuery", func() { h.AfterQuery(ctx, st) })
	}
}

func (hookChain) guard(ctx context.Context, phase string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "registry/db: hook panic", "phase", phase, "panic", r)
		}
	}()
	fn()
}

// CompositeHook fans out to several hooks as one.
func CompositeHook(hooks ...Hook) Hook { return newHookChain(hooks) }

func (c hookChain) BeforeQuery(ctx context.Context, st Statement) { c.before(ctx, st) }
func (c hookChain) AfterQuery(ctx context.Context, st Statement)  { c.after(ctx, st) }

// ── Logging ──────────────────────────────────────────────────────────────────

type LogHookConfig struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// SlowQueryThreshold logs a warning above this duration; zero disables it.
	SlowQueryThreshold time.Duration
	// LogArgs includes bound parameters. Student rows carry names and
	// birth dates, so keep this off outside development.
	LogArgs bool
}

// NewLogHook logs failures at error, slow statements at warn and everything
// else at debug. A lookup that matched nothing is not a failure.
func NewLogHook(cfg LogHookConfig) Hook {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return AfterFunc(func(ctx context.Context, st Statement) {
		attrs := []any{
			slog.String("query", trimQuery(st.Query)),
			slog.Duration("duration", st.Duration),
			slog.Bool("in_tx", st.InTx),
		}
		if cfg.LogArgs && len(st.Args) > 0 {
			attrs = append(attrs, slog.Any("args", st.Args))
		}
		switch {
		case st.Err != nil && !IsNotFound(st.Err):
			logger.ErrorContext(ctx, "registry/db: statement failed", append(attrs, slog.Any("error", st.Err))...)
		case cfg.SlowQueryThreshold > 0 && st.Duration > cfg.SlowQueryThreshold:
			logger.WarnContext(ctx, "registry/db: slow statement", attrs...)
		default:
			logger.DebugContext(ctx, "registry/db: statement", attrs...)
		}
	})
}

func trimQuery(q string) string {
	const max = 500
	if len(q) > max {
		return q[:max] + "…"
	}
	return q
}

// ── Metrics ──────────────────────────────────────────────────────────────────

// MetricsCollector receives one observation per statement. The metrics
// package provides the Prometheus implementation.
type MetricsCollector interface {
	RecordQuery(query string, duration time.Duration, success bool)
}

// NewMetricsHook reports every statement to c. Not-found counts as success.
func NewMetricsHook(c MetricsCollector) Hook {
	return AfterFunc(func(_ context.Context, st Statement) {
		c.RecordQuery(st.Query, st.Duration, st.Err == nil || IsNotFound(st.Err))
	})
}
