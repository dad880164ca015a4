// Package reconcile merges normalized grade batches into a tenant's shard.
//
// Reconciliation is keyed entirely on natural identity (student email,
// assignment name+date, grade student+assignment) and runs inside a single
// transaction, so re-uploading the same file is a no-op and a mid-upload
// failure leaves stored state untouched.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gradeinsight/gradeport/internal/gradesheet"
	"github.com/gradeinsight/gradeport/internal/store"
)

// Engine reconciles batches. One Engine serves all tenants; uploads for
// the same tenant are serialized, different tenants proceed in parallel.
type Engine struct {
	locks     tenantLocks
	txTimeout time.Duration
	now       func() time.Time
}

// NewEngine creates an engine whose transactions are bounded by txTimeout.
func NewEngine(txTimeout time.Duration) *Engine {
	return &Engine{
		txTimeout: txTimeout,
		now:       time.Now,
	}
}

// Reconcile applies one batch to a tenant's shard in a single transaction.
// On any storage error the transaction is rolled back and no report is
// produced; on success the report covers everything the upload did and
// everything the uploader should fix.
func (e *Engine) Reconcile(ctx context.Context, st store.Store, tenantID string, batch *gradesheet.Batch) (*Report, error) {
	lock := e.locks.get(tenantID)
	lock.Lock()
	defer lock.Unlock()

	started := e.now()
	report := &Report{
		UploadID: uuid.NewString(),
		Warnings: append([]gradesheet.Warning(nil), batch.Warnings...),
	}

	ctx, cancel := context.WithTimeout(ctx, e.txTimeout)
	defer cancel()

	tx, err := st.Begin(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	// Rollback must run even after the deadline fires. No-op after Commit.
	defer tx.Rollback(context.WithoutCancel(ctx))

	studentIDs, err := e.reconcileStudents(ctx, tx, batch, report)
	if err != nil {
		return nil, fmt.Errorf("reconcile students: %w", err)
	}

	assignmentIDs, err := e.reconcileAssignments(ctx, tx, batch, report)
	if err != nil {
		return nil, fmt.Errorf("reconcile assignments: %w", err)
	}

	if err := e.reconcileGrades(ctx, tx, batch, report, studentIDs, assignmentIDs); err != nil {
		return nil, fmt.Errorf("reconcile grades: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	report.Duration = e.now().Sub(started)
	return report, nil
}

// reconcileStudents upserts every student in the batch and returns their
// storage ids keyed by email.
func (e *Engine) reconcileStudents(ctx context.Context, tx store.Tx, batch *gradesheet.Batch, report *Report) (map[string]int64, error) {
	ids := make(map[string]int64, len(batch.Students))

	for i := range batch.Students {
		in := &batch.Students[i]

		existing, err := tx.GetStudentByEmail(ctx, in.Email)
		switch {
		case errors.Is(err, store.ErrNotFound):
			s := &store.Student{
				Email:         in.Email,
				FirstName:     in.FirstName,
				LastName:      in.LastName,
				StudentNumber: in.StudentNumber,
			}
			if err := tx.InsertStudent(ctx, s); err != nil {
				return nil, fmt.Errorf("insert student %s: %w", in.Email, err)
			}
			ids[in.Email] = s.ID
			report.StudentsCreated++

		case err != nil:
			return nil, fmt.Errorf("lookup student %s: %w", in.Email, err)

		default:
			if mergeStudent(existing, in) {
				if err := tx.UpdateStudent(ctx, existing); err != nil {
					return nil, fmt.Errorf("update student %s: %w", in.Email, err)
				}
				report.StudentsUpdated++
			}
			ids[in.Email] = existing.ID
		}
	}

	return ids, nil
}

// mergeStudent folds the uploaded identity fields into the stored row.
// Blank uploaded fields never erase stored values. Returns true when the
// row changed.
func mergeStudent(dst *store.Student, src *gradesheet.Student) bool {
	changed := false
	if src.FirstName != "" && src.FirstName != dst.FirstName {
		dst.FirstName = src.FirstName
		changed = true
	}
	if src.LastName != "" && src.LastName != dst.LastName {
		dst.LastName = src.LastName
		changed = true
	}
	if src.StudentNumber != "" && src.StudentNumber != dst.StudentNumber {
		dst.StudentNumber = src.StudentNumber
		changed = true
	}
	return changed
}

// reconcileAssignments upserts every assignment column and returns storage
// ids indexed by batch position. Existing tags named in header suffixes are
// linked; unknown tag names produce warnings, never new tags.
func (e *Engine) reconcileAssignments(ctx context.Context, tx store.Tx, batch *gradesheet.Batch, report *Report) ([]int64, error) {
	ids := make([]int64, len(batch.Assignments))

	tagIDs, err := e.resolveTags(ctx, tx, batch, report)
	if err != nil {
		return nil, err
	}

	for i := range batch.Assignments {
		in := &batch.Assignments[i]

		existing, err := tx.GetAssignment(ctx, in.Name, in.Date)
		switch {
		case errors.Is(err, store.ErrNotFound):
			a := &store.Assignment{
				Name:      in.Name,
				Date:      in.Date,
				MaxPoints: in.MaxPoints,
			}
			if err := tx.InsertAssignment(ctx, a); err != nil {
				return nil, fmt.Errorf("insert assignment %q: %w", in.Name, err)
			}
			ids[i] = a.ID
			report.AssignmentsCreated++

		case err != nil:
			return nil, fmt.Errorf("lookup assignment %q: %w", in.Name, err)

		default:
			if existing.MaxPoints != in.MaxPoints {
				if err := tx.UpdateAssignmentMaxPoints(ctx, existing.ID, in.MaxPoints); err != nil {
					return nil, fmt.Errorf("update assignment %q: %w", in.Name, err)
				}
				report.warnf(0, in.Name, "max points changed from %v to %v", existing.MaxPoints, in.MaxPoints)
				report.AssignmentsUpdated++
			}
			ids[i] = existing.ID
		}

		for _, tag := range in.Tags {
			id, ok := tagIDs[tag]
			if !ok {
				continue // already warned in resolveTags
			}
			if err := tx.LinkAssignmentTag(ctx, ids[i], id); err != nil {
				return nil, fmt.Errorf("link tag %q to %q: %w", tag, in.Name, err)
			}
		}
	}

	return ids, nil
}

// resolveTags looks up every tag name referenced by the batch in one pass
// and warns once per unknown name.
func (e *Engine) resolveTags(ctx context.Context, tx store.Tx, batch *gradesheet.Batch, report *Report) (map[string]int64, error) {
	seen := make(map[string]bool)
	var names []string
	for _, a := range batch.Assignments {
		for _, tag := range a.Tags {
			if !seen[tag] {
				seen[tag] = true
				names = append(names, tag)
			}
		}
	}
	if len(names) == 0 {
		return nil, nil
	}

	tagIDs, err := tx.TagsByName(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("resolve tags: %w", err)
	}
	for _, name := range names {
		if _, ok := tagIDs[name]; !ok {
			report.warnf(0, "", "unknown tag %q ignored", name)
		}
	}
	return tagIDs, nil
}

// reconcileGrades upserts one grade per score cell. A stored grade with
// the same score is left untouched; blank cells never reach this point, so
// nothing here can delete or zero a grade.
func (e *Engine) reconcileGrades(ctx context.Context, tx store.Tx, batch *gradesheet.Batch, report *Report, studentIDs map[string]int64, assignmentIDs []int64) error {
	now := e.now()

	for _, sc := range batch.Scores {
		studentID, ok := studentIDs[sc.StudentEmail]
		if !ok {
			// Normalization guarantees every score's email is in Students.
			return fmt.Errorf("score references unknown student %s", sc.StudentEmail)
		}
		assignmentID := assignmentIDs[sc.Assignment]

		existing, err := tx.GetGrade(ctx, studentID, assignmentID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			points := sc.Points
			gradedAt := now
			g := &store.Grade{
				StudentID:    studentID,
				AssignmentID: assignmentID,
				Score:        &points,
				GradedAt:     &gradedAt,
			}
			if err := tx.InsertGrade(ctx, g); err != nil {
				return fmt.Errorf("insert grade (%s, %q): %w", sc.StudentEmail, sc.Column, err)
			}
			report.GradesCreated++

		case err != nil:
			return fmt.Errorf("lookup grade (%s, %q): %w", sc.StudentEmail, sc.Column, err)

		case existing.Score != nil && *existing.Score == sc.Points:
			report.GradesUnchanged++

		default:
			if err := tx.UpdateGradeScore(ctx, existing.ID, sc.Points); err != nil {
				return fmt.Errorf("update grade (%s, %q): %w", sc.StudentEmail, sc.Column, err)
			}
			report.GradesUpdated++
		}
	}

	return nil
}
