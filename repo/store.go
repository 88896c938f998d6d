// Package repo holds the Entity Store: the durable ordered map from student
// id to student record that the registry reads and writes through.
package repo

import (
	"context"
	"sort"

	"github.com/Skryldev/student-registry/models"
)

//go:generate mockgen -source=store.go -destination=../mocks/store_mock.go -package=mocks

// StudentStore is the Entity Store contract. Every method is a single atomic
// operation on the backing storage; absence is reported as db.ErrNotFound.
type StudentStore interface {
	// Get returns the student stored under id.
	Get(ctx context.Context, id string) (*models.Student, error)
	// Put inserts s, or fully replaces the record with the same id.
	Put(ctx context.Context, s *models.Student) error
	// Remove deletes the student under id and returns what was stored.
	Remove(ctx context.Context, id string) (*models.Student, error)
	// All returns every stored student ordered by id.
	All(ctx context.Context) ([]*models.Student, error)
	// Count returns the number of stored students.
	Count(ctx context.Context) (int64, error)
}

func sortByID(students []*models.Student) {
	sort.Slice(students, func(i, j int) bool { return students[i].ID < students[j].ID })
}
