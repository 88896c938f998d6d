package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock supplies nanosecond timestamps for createdAt and updatedAt.
type Clock interface {
	Now() uint64
}

// MonotonicClock reads the wall clock but never returns a value lower than
// one it already returned.
type MonotonicClock struct {
	mu   sync.Mutex
	last uint64
}

func (c *MonotonicClock) Now() uint64 {
	now := uint64(time.Now().UnixNano())
	c.mu.Lock()
	defer c.mu.Unlock()
	if now < c.last {
		now = c.last
	}
	c.last = now
	return now
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() uint64

func (f ClockFunc) Now() uint64 { return f() }

// IDGenerator supplies a fresh identifier per created student.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator issues random (version 4) UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string { return uuid.NewString() }

// IdentityProvider reports who is making the current call.
type IdentityProvider interface {
	Caller(ctx context.Context) string
}

// Anonymous is the caller recorded when the context carries none.
const Anonymous = "anonymous"

type callerKey struct{}

// WithCaller returns a copy of ctx that carries caller.
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the caller stored by WithCaller.
func CallerFrom(ctx context.Context) (string, bool) {
	c, ok := ctx.Value(callerKey{}).(string)
	return c, ok && c != ""
}

// ContextIdentity reads the caller placed in the context by WithCaller.
type ContextIdentity struct{}

func (ContextIdentity) Caller(ctx context.Context) string {
	if c, ok := CallerFrom(ctx); ok {
		return c
	}
	return Anonymous
}
