// repo/store_test.go: behaviour every StudentStore must share.
// Each backend test builds a fresh, empty store and hands it to
// testStudentStore.
package repo_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/Skryldev/student-registry/db"
	"github.com/Skryldev/student-registry/models"
	"github.com/Skryldev/student-registry/repo"
)

func sampleStudent(id, name string) *models.Student {
	return &models.Student{
		ID:            id,
		Name:          name,
		DateBirth:     "2005-03-14",
		DateAdmission: "2023-09-01",
		Course:        "Physics",
		CourseType:    "Science",
		Location:      "Lagos",
		Parent:        "2vxsx-fae",
		ParentNumber:  8_000_000_001,
		CreatedAt:     1_700_000_000_000_000_000,
	}
}

func testStudentStore(t *testing.T, store repo.StudentStore) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		n, err := store.Count(ctx)
		if err != nil || n != 0 {
			t.Fatalf("Count on empty store = %d, %v", n, err)
		}
		all, err := store.All(ctx)
		if err != nil {
			t.Fatalf("All: %v", err)
		}
		if all == nil || len(all) != 0 {
			t.Fatalf("All on empty store = %#v, want empty non-nil slice", all)
		}
		if _, err := store.Get(ctx, "missing"); !db.IsNotFound(err) {
			t.Fatalf("Get missing: want ErrNotFound, got %v", err)
		}
		if _, err := store.Remove(ctx, "missing"); !db.IsNotFound(err) {
			t.Fatalf("Remove missing: want ErrNotFound, got %v", err)
		}
	})

	t.Run("put and get", func(t *testing.T) {
		s := sampleStudent("b-2", "Bola")
		if err := store.Put(ctx, s); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := store.Get(ctx, "b-2")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if *got != *s {
			t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, s)
		}
		if got.UpdatedAt.Valid {
			t.Fatal("a never-updated student must have no updatedAt")
		}
	})

	t.Run("put replaces", func(t *testing.T) {
		s := sampleStudent("b-2", "Bola Ade")
		s.Course = "Chemistry"
		s.UpdatedAt = models.StampOf(1_700_000_000_000_000_500)
		if err := store.Put(ctx, s); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := store.Get(ctx, "b-2")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if *got != *s {
			t.Fatalf("replace mismatch:\n got  %+v\n want %+v", got, s)
		}
		if n, _ := store.Count(ctx); n != 1 {
			t.Fatalf("replace must not add a record, count = %d", n)
		}
	})

	t.Run("caller values are stored unchanged", func(t *testing.T) {
		s := sampleStudent("z-9", strings.Repeat("N", 300))
		s.DateBirth = "2005-01-01T00:00:00+01:00"
		s.DateAdmission = "sometime in 2023"
		s.ParentNumber = math.MaxUint64
		if err := store.Put(ctx, s); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := store.Get(ctx, "z-9")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if *got != *s {
			t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, s)
		}
		if _, err := store.Remove(ctx, "z-9"); err != nil {
			t.Fatalf("Remove: %v", err)
		}
	})

	t.Run("all is ordered by id", func(t *testing.T) {
		for _, s := range []*models.Student{
			sampleStudent("c-3", "Chi"),
			sampleStudent("a-1", "Ada"),
		} {
			if err := store.Put(ctx, s); err != nil {
				t.Fatalf("Put %s: %v", s.ID, err)
			}
		}
		all, err := store.All(ctx)
		if err != nil {
			t.Fatalf("All: %v", err)
		}
		var ids []string
		for _, s := range all {
			ids = append(ids, s.ID)
		}
		if len(ids) != 3 || ids[0] != "a-1" || ids[1] != "b-2" || ids[2] != "c-3" {
			t.Fatalf("unexpected order: %v", ids)
		}
	})

	t.Run("remove returns the stored record", func(t *testing.T) {
		removed, err := store.Remove(ctx, "a-1")
		if err != nil {
			t.Fatalf("Remove: %v", err)
		}
		if removed.ID != "a-1" || removed.Name != "Ada" {
			t.Fatalf("unexpected removed record: %+v", removed)
		}
		if _, err := store.Get(ctx, "a-1"); !errors.Is(err, db.ErrNotFound) {
			t.Fatalf("Get after Remove: want ErrNotFound, got %v", err)
		}
		if n, _ := store.Count(ctx); n != 2 {
			t.Fatalf("count after remove = %d, want 2", n)
		}
	})
}
