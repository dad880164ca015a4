package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a shard-backed Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps a shard's connection pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Close releases the underlying pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// Ping verifies shard connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Begin opens a tenant-scoped transaction.
func (p *Postgres) Begin(ctx context.Context, tenantID string) (Tx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return &pgTx{tx: tx, tenantID: tenantID}, nil
}

type pgTx struct {
	tx       pgx.Tx
	tenantID string
}

func (t *pgTx) GetStudentByEmail(ctx context.Context, email string) (*Student, error) {
	var s Student
	err := t.tx.QueryRow(ctx, `
		SELECT id, email, first_name, last_name, COALESCE(student_number, '')
		FROM students
		WHERE tenant_id = $1 AND email = $2`,
		t.tenantID, email,
	).Scan(&s.ID, &s.Email, &s.FirstName, &s.LastName, &s.StudentNumber)
	if err != nil {
		return nil, classify(err)
	}
	return &s, nil
}

func (t *pgTx) InsertStudent(ctx context.Context, s *Student) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO students (tenant_id, email, first_name, last_name, student_number)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		RETURNING id`,
		t.tenantID, s.Email, s.FirstName, s.LastName, s.StudentNumber,
	).Scan(&s.ID)
	return classify(err)
}

func (t *pgTx) UpdateStudent(ctx context.Context, s *Student) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE students
		SET first_name = $3, last_name = $4, student_number = NULLIF($5, ''), updated_at = now()
		WHERE tenant_id = $1 AND id = $2`,
		t.tenantID, s.ID, s.FirstName, s.LastName, s.StudentNumber,
	)
	return classify(err)
}

func (t *pgTx) GetAssignment(ctx context.Context, name string, date *time.Time) (*Assignment, error) {
	var a Assignment
	err := t.tx.QueryRow(ctx, `
		SELECT id, name, assigned_on, max_points, COALESCE(description, '')
		FROM assignments
		WHERE tenant_id = $1 AND name = $2 AND assigned_on IS NOT DISTINCT FROM $3`,
		t.tenantID, name, date,
	).Scan(&a.ID, &a.Name, &a.Date, &a.MaxPoints, &a.Description)
	if err != nil {
		return nil, classify(err)
	}
	return &a, nil
}

func (t *pgTx) InsertAssignment(ctx context.Context, a *Assignment) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO assignments (tenant_id, name, assigned_on, max_points, description)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		RETURNING id`,
		t.tenantID, a.Name, a.Date, a.MaxPoints, a.Description,
	).Scan(&a.ID)
	return classify(err)
}

func (t *pgTx) UpdateAssignmentMaxPoints(ctx context.Context, id int64, maxPoints float64) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE assignments
		SET max_points = $3, updated_at = now()
		WHERE tenant_id = $1 AND id = $2`,
		t.tenantID, id, maxPoints,
	)
	return classify(err)
}

func (t *pgTx) GetGrade(ctx context.Context, studentID, assignmentID int64) (*Grade, error) {
	var g Grade
	err := t.tx.QueryRow(ctx, `
		SELECT id, student_id, assignment_id, score, graded_at
		FROM grades
		WHERE tenant_id = $1 AND student_id = $2 AND assignment_id = $3`,
		t.tenantID, studentID, assignmentID,
	).Scan(&g.ID, &g.StudentID, &g.AssignmentID, &g.Score, &g.GradedAt)
	if err != nil {
		return nil, classify(err)
	}
	return &g, nil
}

func (t *pgTx) InsertGrade(ctx context.Context, g *Grade) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO grades (tenant_id, student_id, assignment_id, score, graded_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		t.tenantID, g.StudentID, g.AssignmentID, g.Score, g.GradedAt,
	).Scan(&g.ID)
	return classify(err)
}

func (t *pgTx) UpdateGradeScore(ctx context.Context, id int64, score float64) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE grades
		SET score = $3, graded_at = now(), updated_at = now()
		WHERE tenant_id = $1 AND id = $2`,
		t.tenantID, id, score,
	)
	return classify(err)
}

func (t *pgTx) TagsByName(ctx context.Context, names []string) (map[string]int64, error) {
	result := make(map[string]int64, len(names))
	if len(names) == 0 {
		return result, nil
	}

	rows, err := t.tx.Query(ctx, `
		SELECT id, name
		FROM tags
		WHERE tenant_id = $1 AND name = ANY($2)`,
		t.tenantID, names,
	)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, classify(err)
		}
		result[name] = id
	}
	return result, classify(rows.Err())
}

func (t *pgTx) LinkAssignmentTag(ctx context.Context, assignmentID, tagID int64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO assignment_tags (tenant_id, assignment_id, tag_id)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`,
		t.tenantID, assignmentID, tagID,
	)
	return classify(err)
}

func (t *pgTx) Commit(ctx context.Context) error {
	return classify(t.tx.Commit(ctx))
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return classify(err)
	}
	return nil
}

// classify maps driver errors onto the package's error taxonomy so callers
// never have to inspect pg error codes.
func classify(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "57014", "55P03": // query_canceled, lock_not_available
			return fmt.Errorf("%w: %s", ErrTimeout, pgErr.Message)
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		case "23505": // unique_violation on a natural key
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		}
	}

	return err
}
