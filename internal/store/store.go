// Package store provides tenant-scoped access to a shard's tables.
//
// A Store is bound to one shard; a Tx is additionally bound to one tenant,
// so every operation it exposes is tenant-filtered by construction. Entity
// lookups use the natural keys (student email; assignment name+date;
// grade student+assignment), never cross-tenant identifiers.
//
// Two implementations exist: Postgres on a pgx pool, and Memory for tests.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by lookups that match no row.
	ErrNotFound = errors.New("not found")

	// ErrTimeout is returned when the storage operation exceeded its
	// deadline. The transaction is rolled back; nothing is half-applied.
	ErrTimeout = errors.New("storage timeout")

	// ErrConflict is returned on serialization failures, deadlocks, and
	// natural-key unique violations from concurrent uploads. The caller
	// may retry the entire upload; reconciliation is idempotent.
	ErrConflict = errors.New("storage conflict")
)

// Student row. Email is the natural key within a tenant.
type Student struct {
	ID            int64
	Email         string
	FirstName     string
	LastName      string
	StudentNumber string
}

// Assignment row. (Name, Date) is the natural key within a tenant; Date may
// be nil, and the same name may recur across terms with different dates.
type Assignment struct {
	ID          int64
	Name        string
	Date        *time.Time
	MaxPoints   float64
	Description string
}

// Grade row. (StudentID, AssignmentID) is unique. Score is nullable:
// a stored grade without a score exists only via the management surface,
// never via ingestion.
type Grade struct {
	ID           int64
	StudentID    int64
	AssignmentID int64
	Score        *float64
	GradedAt     *time.Time
}

// Store opens tenant-scoped transactions against one shard.
type Store interface {
	// Begin opens a transaction bound to the given tenant. The caller must
	// Commit or Rollback; Rollback after Commit is a no-op.
	Begin(ctx context.Context, tenantID string) (Tx, error)
}

// Tx is a tenant-scoped transaction. All reads and writes see and touch
// only the bound tenant's rows.
type Tx interface {
	GetStudentByEmail(ctx context.Context, email string) (*Student, error)
	InsertStudent(ctx context.Context, s *Student) error
	UpdateStudent(ctx context.Context, s *Student) error

	GetAssignment(ctx context.Context, name string, date *time.Time) (*Assignment, error)
	InsertAssignment(ctx context.Context, a *Assignment) error
	UpdateAssignmentMaxPoints(ctx context.Context, id int64, maxPoints float64) error

	GetGrade(ctx context.Context, studentID, assignmentID int64) (*Grade, error)
	InsertGrade(ctx context.Context, g *Grade) error
	UpdateGradeScore(ctx context.Context, id int64, score float64) error

	// TagsByName resolves existing tag names to ids. Unknown names are
	// simply absent from the result; ingestion never creates tags.
	TagsByName(ctx context.Context, names []string) (map[string]int64, error)
	LinkAssignmentTag(ctx context.Context, assignmentID, tagID int64) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
