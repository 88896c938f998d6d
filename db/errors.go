package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
)

// Sentinels every ErrorMapper maps onto. Match them with errors.Is or the
// Is* helpers; the raw driver error stays reachable through errors.As.
var (
	// ErrNotFound also reports absence from the Redis and MongoDB stores.
	ErrNotFound            = errors.New("registry/db: record not found")
	ErrDuplicateKey        = errors.New("registry/db: duplicate key")
	ErrForeignKeyViolation = errors.New("registry/db: foreign key violation")
	ErrCheckViolation      = errors.New("registry/db: check constraint violation")
	// ErrDeadlock covers SQLite's busy and locked results as well.
	ErrDeadlock         = errors.New("registry/db: deadlock detected")
	ErrTimeout          = errors.New("registry/db: query timeout")
	ErrConnectionFailed = errors.New("registry/db: connection failed")
)

func IsNotFound(err error) bool            { return errors.Is(err, ErrNotFound) }
func IsDuplicateKey(err error) bool        { return errors.Is(err, ErrDuplicateKey) }
func IsForeignKeyViolation(err error) bool { return errors.Is(err, ErrForeignKeyViolation) }
func IsCheckViolation(err error) bool      { return errors.Is(err, ErrCheckViolation) }
func IsDeadlock(err error) bool            { return errors.Is(err, ErrDeadlock) }
func IsTimeout(err error) bool             { return errors.Is(err, ErrTimeout) }
func IsConnectionFailed(err error) bool    { return errors.Is(err, ErrConnectionFailed) }

// IsUnavailable reports whether err means the backing store could not be
// reached in time, as opposed to a fault in the request itself.
func IsUnavailable(err error) bool { return IsTimeout(err) || IsConnectionFailed(err) }

// DBError carries a sentinel alongside the driver error it was mapped from.
type DBError struct {
	Sentinel error
	Cause    error
	// Message is an optional hint, e.g. the violated constraint.
	Message string
}

func (e *DBError) Error() string {
	msg := e.Sentinel.Error()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += " (cause: " + e.Cause.Error() + ")"
	}
	return msg
}

func (e *DBError) Is(target error) bool { return errors.Is(e.Sentinel, target) }
func (e *DBError) Unwrap() error        { return e.Cause }

// ErrorMapper translates driver errors into the sentinels above. A mapper
// that does not recognise err returns it unchanged.
type ErrorMapper interface {
	Map(err error) error
}

type ErrorMapperFunc func(error) error

func (f ErrorMapperFunc) Map(err error) error { return f(err) }

// genericRules apply to every driver, in order.
var genericRules = []struct {
	sentinel error
	match    func(error) bool
}{
	{ErrNotFound, func(err error) bool { return errors.Is(err, sql.ErrNoRows) }},
	{ErrTimeout, func(err error) bool {
		var ne net.Error
		return errors.Is(err, context.DeadlineExceeded) ||
			errors.Is(err, context.Canceled) ||
			(errors.As(err, &ne) && ne.Timeout())
	}},
	{ErrConnectionFailed, func(err error) bool {
		var ne net.Error
		return errors.Is(err, driver.ErrBadConn) || errors.As(err, &ne)
	}},
}

// DefaultErrorMapper recognises no-rows, context expiry and network
// failures. Already-mapped errors pass through.
func DefaultErrorMapper() ErrorMapper {
	return ErrorMapperFunc(func(err error) error {
		var dbe *DBError
		if err == nil || errors.As(err, &dbe) {
			return err
		}
		for _, r := range genericRules {
			if r.match(err) {
				return &DBError{Sentinel: r.sentinel, Cause: err}
			}
		}
		return err
	})
}

// ChainMapper returns the first mapping that changes err.
func ChainMapper(mappers ...ErrorMapper) ErrorMapper {
	return ErrorMapperFunc(func(err error) error {
		if err == nil {
			return nil
		}
		for _, m := range mappers {
			if mapped := m.Map(err); mapped != err {
				return mapped
			}
		}
		return err
	})
}
