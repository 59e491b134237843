package relation

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/tilliq/classgate/internal/access"
	"github.com/tilliq/classgate/internal/db"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "relations.db"))
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewStore(database)
}

func TestSchoolOfStudent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	mustSeedStudent(t, s, Assignment{SubjectID: "s1", ClassroomID: "c1", SchoolID: "s99"})
	mustSeedStudent(t, s, Assignment{SubjectID: "s1", ClassroomID: "c2", SchoolID: "s99"})

	t.Run("Known", func(t *testing.T) {
		school, err := s.SchoolOfStudent(ctx, "s1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if school != "s99" {
			t.Errorf("expected s99, got %q", school)
		}
	})

	t.Run("Unknown", func(t *testing.T) {
		_, err := s.SchoolOfStudent(ctx, "nope")
		if !errors.Is(err, access.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("AmbiguousAcrossSchools", func(t *testing.T) {
		mustSeedStudent(t, s, Assignment{SubjectID: "split", ClassroomID: "c5", SchoolID: "s99"})
		mustSeedStudent(t, s, Assignment{SubjectID: "split", ClassroomID: "c9", SchoolID: "s42"})
		_, err := s.SchoolOfStudent(ctx, "split")
		if !errors.Is(err, access.ErrAmbiguous) {
			t.Fatalf("expected ErrAmbiguous, got %v", err)
		}
	})

	t.Run("WithdrawnExcluded", func(t *testing.T) {
		mustSeedStudent(t, s, Assignment{SubjectID: "gone", ClassroomID: "c1", SchoolID: "s99", Ended: true})
		_, err := s.SchoolOfStudent(ctx, "gone")
		if !errors.Is(err, access.ErrNotFound) {
			t.Fatalf("withdrawn enrollment should not resolve, got %v", err)
		}
	})
}

func TestSchoolOfClassroom(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// A classroom known only through student enrollments still resolves.
	mustSeedStudent(t, s, Assignment{SubjectID: "s1", ClassroomID: "c_students_only", SchoolID: "s99"})
	mustSeedEducator(t, s, Assignment{SubjectID: "alice", ClassroomID: "c_educators_only", SchoolID: "s99"})

	for _, id := range []string{"c_students_only", "c_educators_only"} {
		school, err := s.SchoolOfClassroom(ctx, id)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", id, err)
		}
		if school != "s99" {
			t.Errorf("%s: expected s99, got %q", id, school)
		}
	}

	if _, err := s.SchoolOfClassroom(ctx, "nope"); !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClassroomsOfEducator(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	mustSeedEducator(t, s, Assignment{SubjectID: "alice", ClassroomID: "c1", SchoolID: "s99"})
	mustSeedEducator(t, s, Assignment{SubjectID: "alice", ClassroomID: "c2", SchoolID: "s99"})
	mustSeedEducator(t, s, Assignment{SubjectID: "alice", ClassroomID: "c_old", SchoolID: "s99", Ended: true})

	rooms, err := s.ClassroomsOfEducator(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("expected 2 current classrooms, got %v", rooms)
	}
	for _, c := range rooms {
		if c == "c_old" {
			t.Error("ended assignment must not appear in current classrooms")
		}
	}

	// Unknown educator is an empty set, not an error.
	rooms, err = s.ClassroomsOfEducator(ctx, "nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rooms) != 0 {
		t.Errorf("expected no classrooms, got %v", rooms)
	}
}

func TestClassroomsOfStudent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	mustSeedStudent(t, s, Assignment{SubjectID: "s1", ClassroomID: "c1", SchoolID: "s99"})
	mustSeedStudent(t, s, Assignment{SubjectID: "s1", ClassroomID: "c_left", SchoolID: "s99", Ended: true})

	rooms, err := s.ClassroomsOfStudent(ctx, "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rooms) != 1 || rooms[0] != "c1" {
		t.Fatalf("expected [c1], got %v", rooms)
	}
}

func TestGuardOverStore(t *testing.T) {
	// End-to-end over real SQL: alice teaches c1; s1 is enrolled in c1; s50 is
	// in the same school but a different classroom.
	s := testStore(t)
	ctx := context.Background()

	mustSeedEducator(t, s, Assignment{SubjectID: "alice", ClassroomID: "c1", SchoolID: "s99"})
	mustSeedStudent(t, s, Assignment{SubjectID: "s1", ClassroomID: "c1", SchoolID: "s99"})
	mustSeedStudent(t, s, Assignment{SubjectID: "s50", ClassroomID: "c3", SchoolID: "s99"})
	mustSeedEducator(t, s, Assignment{SubjectID: "dana", ClassroomID: "c3", SchoolID: "s99"})

	g := access.NewGuard(s)
	alice := access.Principal{SubjectID: "alice", Role: access.RoleEducator, SchoolID: "s99"}

	if d := g.Authorize(ctx, alice, access.Student("s1")); !d.Allowed() {
		t.Errorf("expected allow for enrolled student, got %s (%s)", d.Outcome, d.Reason)
	}
	if d := g.Authorize(ctx, alice, access.Student("s50")); d.Allowed() {
		t.Error("expected deny for student in another classroom")
	}
}

func mustSeedEducator(t *testing.T, s *Store, a Assignment) {
	t.Helper()
	if err := s.SeedEducator(context.Background(), a); err != nil {
		t.Fatalf("seeding educator: %v", err)
	}
}

func mustSeedStudent(t *testing.T, s *Store, a Assignment) {
	t.Helper()
	if err := s.SeedStudent(context.Background(), a); err != nil {
		t.Fatalf("seeding student: %v", err)
	}
}
