// Package registry implements the student registry: the operations that
// create, look up, filter, update and delete student records on top of a
// repo.StudentStore.
//
// Update operations hold an exclusive lock for their whole
// read/compute/write sequence; query operations share a read lock.
//
//	reg := registry.New(repo.NewStudentRepo(database, repo.SQLite))
//	s, err := reg.Create(registry.WithCaller(ctx, "alice"), params)
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Skryldev/student-registry/db"
	"github.com/Skryldev/student-registry/models"
	"github.com/Skryldev/student-registry/repo"
)

// Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	store    repo.StudentStore
	clock    Clock
	ids      IDGenerator
	identity IdentityProvider
	logger   *slog.Logger
}

// Option overrides one of the registry's default collaborators.
type Option func(*Registry)

// WithClock overrides the MonotonicClock.
func WithClock(c Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithIDGenerator overrides the UUIDGenerator.
func WithIDGenerator(g IDGenerator) Option {
	return func(r *Registry) { r.ids = g }
}

// WithIdentity overrides ContextIdentity.
func WithIdentity(p IdentityProvider) Option {
	return func(r *Registry) { r.identity = p }
}

// WithLogger overrides slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New returns a Registry over store.
func New(store repo.StudentStore, opts ...Option) *Registry {
	r := &Registry{
		store:    store,
		clock:    &MonotonicClock{},
		ids:      UUIDGenerator{},
		identity: ContextIdentity{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ─────────────────────────────────────────────────────────────────────────────
// Update operations
// ─────────────────────────────────────────────────────────────────────────────

// Create stores a new student built from p. The id, createdAt and parent
// fields are always derived here, never taken from the caller.
func (r *Registry) Create(ctx context.Context, p models.CreateStudentParams) (*models.Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &models.Student{
		ID:            r.ids.NewID(),
		Name:          p.Name,
		DateBirth:     p.DateBirth,
		DateAdmission: p.DateAdmission,
		Course:        p.Course,
		CourseType:    p.CourseType,
		Location:      p.Location,
		Parent:        r.identity.Caller(ctx),
		ParentNumber:  p.ParentNumber,
		CreatedAt:     r.clock.Now(),
	}
	if err := r.store.Put(ctx, s); err != nil {
		return nil, fmt.Errorf("registry: %s: %w", OpCreate, err)
	}
	r.logger.InfoContext(ctx, "student created", "id", s.ID, "caller", s.Parent)
	return s, nil
}

// Update merges p over the stored student. id, createdAt and parent are
// preserved; updatedAt is set to the current time.
func (r *Registry) Update(ctx context.Context, id string, p models.UpdateStudentParams) (*models.Student, error) {
	return r.mutate(ctx, OpUpdate, id, p.Apply)
}

// UpdateCourse replaces only the course. Like every mutation it stamps
// updatedAt.
func (r *Registry) UpdateCourse(ctx context.Context, id, course string) (*models.Student, error) {
	return r.mutate(ctx, OpUpdateCourse, id, func(s *models.Student) { s.Course = course })
}

func (r *Registry) mutate(ctx context.Context, op, id string, apply func(*models.Student)) (*models.Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.get(ctx, op, id)
	if err != nil {
		return nil, err
	}
	apply(s)
	s.UpdatedAt = models.StampOf(r.clock.Now())

	if err := r.store.Put(ctx, s); err != nil {
		return nil, fmt.Errorf("registry: %s: %w", op, err)
	}
	r.logger.InfoContext(ctx, "student updated", "op", op, "id", id, "caller", r.identity.Caller(ctx))
	return s, nil
}

// Delete removes the student and returns the removed record.
func (r *Registry) Delete(ctx context.Context, id string) (*models.Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.store.Remove(ctx, id)
	if err != nil {
		return nil, r.wrap(OpDelete, "id", id, err)
	}
	r.logger.InfoContext(ctx, "student deleted", "id", id, "caller", r.identity.Caller(ctx))
	return s, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Query operations
// ─────────────────────────────────────────────────────────────────────────────

// GetByID returns the student stored under id.
func (r *Registry) GetByID(ctx context.Context, id string) (*models.Student, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.get(ctx, OpGetByID, id)
}

// GetByName returns the student whose name matches, ignoring case. When
// several match, the one with the lowest id wins.
func (r *Registry) GetByName(ctx context.Context, name string) (*models.Student, error) {
	matches, err := r.filter(ctx, OpGetByName, func(s *models.Student) bool {
		return strings.EqualFold(s.Name, name)
	})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, &NotFoundError{Field: "name", Value: name}
	}
	return matches[0], nil
}

// GetAll returns every student ordered by id.
func (r *Registry) GetAll(ctx context.Context) ([]*models.Student, error) {
	return r.filter(ctx, OpGetAll, func(*models.Student) bool { return true })
}

func (r *Registry) GetByCourse(ctx context.Context, course string) ([]*models.Student, error) {
	return r.filter(ctx, OpGetByCourse, func(s *models.Student) bool {
		return strings.EqualFold(s.Course, course)
	})
}

func (r *Registry) GetByLocation(ctx context.Context, location string) ([]*models.Student, error) {
	return r.filter(ctx, OpGetByLocation, func(s *models.Student) bool {
		return strings.EqualFold(s.Location, location)
	})
}

func (r *Registry) GetByParent(ctx context.Context, parent string) ([]*models.Student, error) {
	return r.filter(ctx, OpGetByParent, func(s *models.Student) bool {
		return strings.EqualFold(s.Parent, parent)
	})
}

// GetAdmittedAfter compares dateAdmission with date as plain strings, which
// orders correctly for YYYY-MM-DD values.
func (r *Registry) GetAdmittedAfter(ctx context.Context, date string) ([]*models.Student, error) {
	return r.filter(ctx, OpGetAdmittedAfter, func(s *models.Student) bool {
		return s.DateAdmission > date
	})
}

// Count returns the number of stored students.
func (r *Registry) Count(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, err := r.store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("registry: %s: %w", OpCount, err)
	}
	return n, nil
}

// GetParent returns the identity that created the student.
func (r *Registry) GetParent(ctx context.Context, id string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, err := r.get(ctx, OpGetParent, id)
	if err != nil {
		return "", err
	}
	return s.Parent, nil
}

// GetByAge returns students whose age, taken as the current year minus the
// birth year, equals age. Month and day are ignored.
func (r *Registry) GetByAge(ctx context.Context, age int) ([]*models.Student, error) {
	year := r.currentYear()
	return r.filter(ctx, OpGetByAge, func(s *models.Student) bool {
		a, ok := ageOf(s, year)
		return ok && a == age
	})
}

// Exists reports whether a student is stored under id. Only storage faults
// produce an error.
func (r *Registry) Exists(ctx context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, err := r.store.Get(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case db.IsNotFound(err):
		return false, nil
	}
	return false, fmt.Errorf("registry: %s: %w", OpExists, err)
}

// AverageAge returns the mean age over students with a parseable birth
// year. It returns ErrNoStudents when there are none.
func (r *Registry) AverageAge(ctx context.Context) (float64, error) {
	students, err := r.filter(ctx, OpAverageAge, func(*models.Student) bool { return true })
	if err != nil {
		return 0, err
	}
	year := r.currentYear()
	var sum, n int
	for _, s := range students {
		if a, ok := ageOf(s, year); ok {
			sum += a
			n++
		}
	}
	if n == 0 {
		return 0, ErrNoStudents
	}
	return float64(sum) / float64(n), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// helpers
// ─────────────────────────────────────────────────────────────────────────────

// get reads one student; callers hold the lock.
func (r *Registry) get(ctx context.Context, op, id string) (*models.Student, error) {
	s, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, r.wrap(op, "id", id, err)
	}
	return s, nil
}

// filter scans every student under the read lock. The result is ordered by
// id and never nil.
func (r *Registry) filter(ctx context.Context, op string, keep func(*models.Student) bool) ([]*models.Student, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all, err := r.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: %s: %w", op, err)
	}
	out := make([]*models.Student, 0, len(all))
	for _, s := range all {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *Registry) wrap(op, field, value string, err error) error {
	if db.IsNotFound(err) {
		return &NotFoundError{Field: field, Value: value}
	}
	return fmt.Errorf("registry: %s: %w", op, err)
}

func (r *Registry) currentYear() int {
	return time.Unix(0, int64(r.clock.Now())).UTC().Year()
}

// ageOf parses the leading year of dateBirth.
func ageOf(s *models.Student, currentYear int) (int, bool) {
	yearPart, _, _ := strings.Cut(s.DateBirth, "-")
	year, err := strconv.Atoi(strings.TrimSpace(yearPart))
	if err != nil {
		return 0, false
	}
	return currentYear - year, true
}
