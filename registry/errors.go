package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches every *NotFoundError.
	ErrNotFound = errors.New("registry: student not found")

	// ErrNoStudents is returned by AverageAge when there is no age to average.
	ErrNoStudents = errors.New("registry: no students")
)

// NotFoundError names the key a lookup failed on.
type NotFoundError struct {
	Field string
	Value string
}

func (e *NotFoundError) Error() string {
	if e.Field == "id" {
		return fmt.Sprintf("student with id=%s not found", e.Value)
	}
	return fmt.Sprintf("student with %s=%q not found", e.Field, e.Value)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
