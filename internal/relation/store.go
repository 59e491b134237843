// Package relation reads educator/student/classroom relationships from the
// system of record. The store is read-only on the request path; Seed exists
// for the seed command and tests.
package relation

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tilliq/classgate/internal/access"
	"github.com/tilliq/classgate/internal/db"
)

// Store implements access.Store over the relationship tables. Only current
// associations count: ended assignments and withdrawn enrollments never grant
// access.
type Store struct {
	db *db.DB
}

func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// SchoolOfStudent resolves the school owning a student. A student appearing
// under more than one school is ambiguous and reported as such rather than
// resolved to either.
func (s *Store) SchoolOfStudent(ctx context.Context, studentID string) (string, error) {
	return s.schoolOf(ctx,
		`SELECT DISTINCT school_id FROM student_classrooms
		 WHERE student_id = ? AND withdrawn_at IS NULL`, studentID)
}

// SchoolOfClassroom resolves the school owning a classroom.
func (s *Store) SchoolOfClassroom(ctx context.Context, classroomID string) (string, error) {
	return s.schoolOf(ctx,
		`SELECT DISTINCT school_id FROM educator_classrooms
		 WHERE classroom_id = ? AND ended_at IS NULL
		 UNION
		 SELECT DISTINCT school_id FROM student_classrooms
		 WHERE classroom_id = ? AND withdrawn_at IS NULL`, classroomID, classroomID)
}

func (s *Store) schoolOf(ctx context.Context, query string, args ...any) (string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return "", fmt.Errorf("querying school: %w", err)
	}
	defer rows.Close()

	var schools []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", fmt.Errorf("scanning school: %w", err)
		}
		schools = append(schools, id)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("reading schools: %w", err)
	}

	switch len(schools) {
	case 0:
		return "", access.ErrNotFound
	case 1:
		return schools[0], nil
	default:
		return "", access.ErrAmbiguous
	}
}

// ClassroomsOfEducator returns the educator's current classroom assignments.
// An unknown educator yields an empty set, not an error.
func (s *Store) ClassroomsOfEducator(ctx context.Context, educatorID string) ([]string, error) {
	return s.classrooms(ctx,
		`SELECT classroom_id FROM educator_classrooms
		 WHERE educator_id = ? AND ended_at IS NULL`, educatorID)
}

// ClassroomsOfStudent returns the student's current enrollments.
func (s *Store) ClassroomsOfStudent(ctx context.Context, studentID string) ([]string, error) {
	return s.classrooms(ctx,
		`SELECT classroom_id FROM student_classrooms
		 WHERE student_id = ? AND withdrawn_at IS NULL`, studentID)
}

func (s *Store) classrooms(ctx context.Context, query string, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("querying classrooms: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scanning classroom: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading classrooms: %w", err)
	}
	return out, nil
}

// Assignment is one educator-classroom or student-classroom row for seeding.
type Assignment struct {
	SubjectID   string // educator or student id
	ClassroomID string
	SchoolID    string
	Ended       bool
}

// SeedEducator inserts an educator-classroom assignment.
func (s *Store) SeedEducator(ctx context.Context, a Assignment) error {
	return s.seed(ctx,
		`INSERT OR IGNORE INTO educator_classrooms (educator_id, classroom_id, school_id, ended_at)
		 VALUES (?, ?, ?, ?)`, a)
}

// SeedStudent inserts a student-classroom enrollment.
func (s *Store) SeedStudent(ctx context.Context, a Assignment) error {
	return s.seed(ctx,
		`INSERT OR IGNORE INTO student_classrooms (student_id, classroom_id, school_id, withdrawn_at)
		 VALUES (?, ?, ?, ?)`, a)
}

func (s *Store) seed(ctx context.Context, query string, a Assignment) error {
	var ended sql.NullString
	if a.Ended {
		ended = sql.NullString{String: "2000-01-01", Valid: true}
	}
	if _, err := s.db.ExecContext(ctx, query, a.SubjectID, a.ClassroomID, a.SchoolID, ended); err != nil {
		return fmt.Errorf("seeding assignment: %w", err)
	}
	return nil
}
