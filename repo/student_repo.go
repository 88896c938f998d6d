package repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/Skryldev/student-registry/db"
	"github.com/Skryldev/student-registry/models"
)

// ─────────────────────────────────────────────────────────────────────────────
// studentRepo: SQL-backed StudentStore
// ─────────────────────────────────────────────────────────────────────────────

// studentRepo stores one student per row in the "students" table, keyed by
// the primary key id.
type studentRepo struct {
	q       db.Querier
	dialect Dialect

	sqlGet    string
	sqlUpsert string
	sqlDelete string
	sqlAll    string
	sqlCount  string
}

// NewStudentRepo returns a StudentStore backed by q.
// q can be a *db.DB or *db.Tx; both satisfy db.Querier.
func NewStudentRepo(q db.Querier, dialect Dialect) StudentStore {
	return &studentRepo{
		q:         q,
		dialect:   dialect,
		sqlGet:    fmt.Sprintf(sqlSelectStudents+"\n\t\tWHERE  id = %s", dialect.bind(1)),
		sqlUpsert: buildUpsert(dialect),
		sqlDelete: fmt.Sprintf(`DELETE FROM students WHERE id = %s`, dialect.bind(1)),
		sqlAll:    sqlSelectStudents + "\n\t\tORDER  BY id",
		sqlCount:  `SELECT COUNT(*) FROM students`,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// SQL
// ─────────────────────────────────────────────────────────────────────────────

var studentColumns = []string{
	"id", "name", "date_birth", "date_admission", "course", "course_type",
	"location", "parent", "parent_number", "created_at", "updated_at",
}

var sqlSelectStudents = `
		SELECT ` + strings.Join(studentColumns, ", ") + `
		FROM   students`

func buildUpsert(d Dialect) string {
	return fmt.Sprintf(`
		INSERT INTO students (%s)
		VALUES (%s)
		%s`,
		strings.Join(studentColumns, ", "),
		d.placeholders(len(studentColumns)),
		d.upsert(studentColumns[1:]))
}

// ─────────────────────────────────────────────────────────────────────────────
// StudentStore
// ─────────────────────────────────────────────────────────────────────────────

// Get returns a single student by primary key.
// Returns db.ErrNotFound when no record matches.
func (r *studentRepo) Get(ctx context.Context, id string) (*models.Student, error) {
	return scanStudent(r.q.QueryRow(ctx, r.sqlGet, id))
}

// Put inserts the student or replaces every column of an existing row.
// parent_number is a signed BIGINT; the uint64 is stored bit for bit.
func (r *studentRepo) Put(ctx context.Context, s *models.Student) error {
	_, err := r.q.Exec(ctx, r.sqlUpsert,
		s.ID, s.Name, s.DateBirth, s.DateAdmission, s.Course, s.CourseType,
		s.Location, s.Parent, int64(s.ParentNumber), s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repo/student: put %s: %w", s.ID, err)
	}
	return nil
}

// Remove deletes a student and returns the deleted record. The read and the
// delete share one transaction when the repo sits on a *db.DB.
func (r *studentRepo) Remove(ctx context.Context, id string) (*models.Student, error) {
	var removed *models.Student
	err := db.InTx(ctx, r.q, func(q db.Querier) error {
		s, err := scanStudent(q.QueryRow(ctx, r.sqlGet, id))
		if err != nil {
			return err
		}
		res, err := q.Exec(ctx, r.sqlDelete, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return db.ErrNotFound
		}
		removed = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// All returns every student ordered by id.
func (r *studentRepo) All(ctx context.Context) ([]*models.Student, error) {
	rows, err := r.q.Query(ctx, r.sqlAll)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	students := make([]*models.Student, 0)
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		students = append(students, s)
	}
	return students, rows.Err()
}

// Count returns the total number of students.
func (r *studentRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.q.QueryRow(ctx, r.sqlCount).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// scanStudent: centralised column mapping
// ─────────────────────────────────────────────────────────────────────────────

type scanner interface {
	Scan(dest ...any) error
}

// scanStudent reads one row in studentColumns order.
func scanStudent(row scanner) (*models.Student, error) {
	s := &models.Student{}
	var parentNumber int64
	err := row.Scan(
		&s.ID, &s.Name, &s.DateBirth, &s.DateAdmission, &s.Course, &s.CourseType,
		&s.Location, &s.Parent, &parentNumber, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("repo/student: %w", err)
	}
	s.ParentNumber = uint64(parentNumber)
	return s, nil
}

var _ StudentStore = (*studentRepo)(nil)
