package db

// schema holds the relationship tables the access guard reads. Assignments and
// enrollments carry an end date so historical rows stay queryable without ever
// granting access.
const schema = `
CREATE TABLE IF NOT EXISTS educator_classrooms (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	educator_id TEXT NOT NULL,
	classroom_id TEXT NOT NULL,
	school_id TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'teacher',
	started_at TEXT NOT NULL DEFAULT (date('now')),
	ended_at TEXT,
	created_at TEXT NOT NULL DEFAULT (datetime('now')),
	UNIQUE(educator_id, classroom_id)
);

CREATE TABLE IF NOT EXISTS student_classrooms (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	student_id TEXT NOT NULL,
	classroom_id TEXT NOT NULL,
	school_id TEXT NOT NULL,
	enrolled_at TEXT NOT NULL DEFAULT (date('now')),
	withdrawn_at TEXT,
	created_at TEXT NOT NULL DEFAULT (datetime('now')),
	UNIQUE(student_id, classroom_id)
);

CREATE INDEX IF NOT EXISTS idx_educator_classrooms_educator ON educator_classrooms(educator_id);
CREATE INDEX IF NOT EXISTS idx_educator_classrooms_school ON educator_classrooms(school_id);
CREATE INDEX IF NOT EXISTS idx_student_classrooms_student ON student_classrooms(student_id);
CREATE INDEX IF NOT EXISTS idx_student_classrooms_classroom ON student_classrooms(classroom_id);
CREATE INDEX IF NOT EXISTS idx_student_classrooms_school ON student_classrooms(school_id);
`
