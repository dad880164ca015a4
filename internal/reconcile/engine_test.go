package reconcile

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradeinsight/gradeport/internal/gradesheet"
	"github.com/gradeinsight/gradeport/internal/store"
)

func testEngine() *Engine {
	return NewEngine(30 * time.Second)
}

func date(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

// sampleBatch is two students, two assignments, three graded cells. Bob has
// no score for the quiz.
func sampleBatch() *gradesheet.Batch {
	return &gradesheet.Batch{
		Assignments: []gradesheet.Assignment{
			{Name: "Homework 1", Date: date("2026-02-10"), MaxPoints: 20},
			{Name: "Quiz 1", Date: date("2026-02-14"), MaxPoints: 10},
		},
		Students: []gradesheet.Student{
			{Email: "alice@school.test", FirstName: "Alice", LastName: "Nguyen"},
			{Email: "bob@school.test", FirstName: "Bob", LastName: "Ortiz"},
		},
		Scores: []gradesheet.Score{
			{StudentEmail: "alice@school.test", Assignment: 0, Points: 18, Row: 4, Column: "Homework 1"},
			{StudentEmail: "alice@school.test", Assignment: 1, Points: 9, Row: 4, Column: "Quiz 1"},
			{StudentEmail: "bob@school.test", Assignment: 0, Points: 15, Row: 5, Column: "Homework 1"},
		},
	}
}

func TestReconcile_FirstUpload(t *testing.T) {
	mem := store.NewMemory()
	rep, err := testEngine().Reconcile(context.Background(), mem, "lincoln-high", sampleBatch())
	require.NoError(t, err)

	assert.Equal(t, 2, rep.StudentsCreated)
	assert.Equal(t, 2, rep.AssignmentsCreated)
	assert.Equal(t, 3, rep.GradesCreated)
	assert.Zero(t, rep.GradesUpdated)
	assert.Zero(t, rep.GradesUnchanged)
	assert.NotEmpty(t, rep.UploadID)
	assert.True(t, rep.Changed())

	snap := mem.Snapshot("lincoln-high")
	assert.Len(t, snap.Students, 2)
	assert.Len(t, snap.Assignments, 2)
	assert.Len(t, snap.Grades, 3)
	for _, g := range snap.Grades {
		require.NotNil(t, g.Score)
		require.NotNil(t, g.GradedAt)
	}
}

func TestReconcile_ReuploadIsIdempotent(t *testing.T) {
	mem := store.NewMemory()
	eng := testEngine()

	_, err := eng.Reconcile(context.Background(), mem, "lincoln-high", sampleBatch())
	require.NoError(t, err)
	before := mem.Snapshot("lincoln-high")

	rep, err := eng.Reconcile(context.Background(), mem, "lincoln-high", sampleBatch())
	require.NoError(t, err)

	assert.Zero(t, rep.StudentsCreated)
	assert.Zero(t, rep.StudentsUpdated)
	assert.Zero(t, rep.AssignmentsCreated)
	assert.Zero(t, rep.GradesCreated)
	assert.Zero(t, rep.GradesUpdated)
	assert.Equal(t, 3, rep.GradesUnchanged)
	assert.False(t, rep.Changed())

	assert.Equal(t, before, mem.Snapshot("lincoln-high"), "re-upload must not change stored state")
}

func TestReconcile_CorrectedScoreUpdatesOneGrade(t *testing.T) {
	mem := store.NewMemory()
	eng := testEngine()

	_, err := eng.Reconcile(context.Background(), mem, "lincoln-high", sampleBatch())
	require.NoError(t, err)

	batch := sampleBatch()
	batch.Scores[0].Points = 20 // regrade of Alice's homework

	rep, err := eng.Reconcile(context.Background(), mem, "lincoln-high", batch)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.GradesUpdated)
	assert.Equal(t, 2, rep.GradesUnchanged)
	assert.Zero(t, rep.GradesCreated)
}

func TestReconcile_BlankCellNeverDeletes(t *testing.T) {
	mem := store.NewMemory()
	eng := testEngine()

	_, err := eng.Reconcile(context.Background(), mem, "lincoln-high", sampleBatch())
	require.NoError(t, err)

	// Re-upload where Alice's quiz cell went blank: the score simply is not
	// in the batch. Her stored quiz grade must survive.
	batch := sampleBatch()
	batch.Scores = batch.Scores[:1]

	rep, err := eng.Reconcile(context.Background(), mem, "lincoln-high", batch)
	require.NoError(t, err)
	assert.Zero(t, rep.GradesUpdated)

	snap := mem.Snapshot("lincoln-high")
	assert.Len(t, snap.Grades, 3, "missing cells must not delete grades")
}

func TestReconcile_TenantIsolation(t *testing.T) {
	mem := store.NewMemory()
	eng := testEngine()

	_, err := eng.Reconcile(context.Background(), mem, "lincoln-high", sampleBatch())
	require.NoError(t, err)
	other := mem.Snapshot("jefferson-middle")
	assert.Empty(t, other.Students)

	// Same sheet uploaded by a second tenant creates parallel rows, not
	// shared ones.
	_, err = eng.Reconcile(context.Background(), mem, "jefferson-middle", sampleBatch())
	require.NoError(t, err)

	a := mem.Snapshot("lincoln-high")
	b := mem.Snapshot("jefferson-middle")
	assert.Len(t, a.Grades, 3)
	assert.Len(t, b.Grades, 3)
	assert.NotEqual(t, a.Grades[0].ID, b.Grades[0].ID)
}

func TestReconcile_MidUploadFailureRollsBack(t *testing.T) {
	mem := store.NewMemory()
	eng := testEngine()

	_, err := eng.Reconcile(context.Background(), mem, "lincoln-high", sampleBatch())
	require.NoError(t, err)
	before := mem.Snapshot("lincoln-high")

	// Next upload adds a student and corrects a score, but storage dies
	// partway through the writes.
	batch := sampleBatch()
	batch.Students = append(batch.Students, gradesheet.Student{Email: "carol@school.test", FirstName: "Carol"})
	batch.Scores[0].Points = 20
	batch.Scores = append(batch.Scores, gradesheet.Score{
		StudentEmail: "carol@school.test", Assignment: 1, Points: 7, Row: 6, Column: "Quiz 1",
	})

	injected := errors.New("shard connection lost")
	mem.FailWrites(1, injected)

	_, err = eng.Reconcile(context.Background(), mem, "lincoln-high", batch)
	require.ErrorIs(t, err, injected)
	mem.FailWrites(-1, nil)

	assert.Equal(t, before, mem.Snapshot("lincoln-high"), "failed upload must apply nothing")
}

func TestReconcile_FailureOnFirstWriteRollsBack(t *testing.T) {
	mem := store.NewMemory()
	mem.FailWrites(0, nil)

	_, err := testEngine().Reconcile(context.Background(), mem, "lincoln-high", sampleBatch())
	require.Error(t, err)
	mem.FailWrites(-1, nil)

	snap := mem.Snapshot("lincoln-high")
	assert.Empty(t, snap.Students)
	assert.Empty(t, snap.Grades)
}

func TestReconcile_MaxPointsDrift(t *testing.T) {
	mem := store.NewMemory()
	eng := testEngine()

	_, err := eng.Reconcile(context.Background(), mem, "lincoln-high", sampleBatch())
	require.NoError(t, err)

	batch := sampleBatch()
	batch.Assignments[0].MaxPoints = 25

	rep, err := eng.Reconcile(context.Background(), mem, "lincoln-high", batch)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.AssignmentsUpdated)
	require.NotEmpty(t, rep.Warnings)
	found := false
	for _, w := range rep.Warnings {
		if w.Column == "Homework 1" && strings.Contains(w.Reason, "max points changed") {
			found = true
		}
	}
	assert.True(t, found, "max points drift must be reported: %+v", rep.Warnings)
}

func TestReconcile_StudentIdentityMerge(t *testing.T) {
	mem := store.NewMemory()
	eng := testEngine()

	_, err := eng.Reconcile(context.Background(), mem, "lincoln-high", sampleBatch())
	require.NoError(t, err)

	// Bob's last name is corrected; Alice's row now omits her last name,
	// which must not erase the stored one.
	batch := sampleBatch()
	batch.Students[0].LastName = ""
	batch.Students[1].LastName = "Ortiz-Ramos"

	rep, err := eng.Reconcile(context.Background(), mem, "lincoln-high", batch)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.StudentsUpdated)

	snap := mem.Snapshot("lincoln-high")
	byEmail := make(map[string]store.Student)
	for _, s := range snap.Students {
		byEmail[s.Email] = s
	}
	assert.Equal(t, "Nguyen", byEmail["alice@school.test"].LastName)
	assert.Equal(t, "Ortiz-Ramos", byEmail["bob@school.test"].LastName)
}

func TestReconcile_AssignmentDateDisambiguates(t *testing.T) {
	mem := store.NewMemory()
	eng := testEngine()

	_, err := eng.Reconcile(context.Background(), mem, "lincoln-high", sampleBatch())
	require.NoError(t, err)

	// Same assignment name, different date: a new assignment, not an update.
	batch := sampleBatch()
	batch.Assignments[0].Date = date("2026-03-10")

	rep, err := eng.Reconcile(context.Background(), mem, "lincoln-high", batch)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.AssignmentsCreated)
	assert.Zero(t, rep.AssignmentsUpdated)

	snap := mem.Snapshot("lincoln-high")
	assert.Len(t, snap.Assignments, 3)
}

func TestReconcile_Tags(t *testing.T) {
	mem := store.NewMemory()
	mem.SeedTag("lincoln-high", "homework")

	batch := sampleBatch()
	batch.Assignments[0].Tags = []string{"homework", "week2"}

	rep, err := testEngine().Reconcile(context.Background(), mem, "lincoln-high", batch)
	require.NoError(t, err)

	found := false
	for _, w := range rep.Warnings {
		if strings.Contains(w.Reason, `unknown tag "week2"`) {
			found = true
		}
	}
	assert.True(t, found, "unknown tag must warn, not create: %+v", rep.Warnings)
}

func TestReconcile_TimeoutSurfacesAsStorageTimeout(t *testing.T) {
	mem := store.NewMemory()
	eng := NewEngine(-time.Nanosecond) // already expired when Begin runs

	_, err := eng.Reconcile(context.Background(), mem, "lincoln-high", sampleBatch())
	require.ErrorIs(t, err, store.ErrTimeout)

	snap := mem.Snapshot("lincoln-high")
	assert.Empty(t, snap.Students)
}

func TestReconcile_CarriesNormalizationWarnings(t *testing.T) {
	mem := store.NewMemory()
	batch := sampleBatch()
	batch.Warnings = []gradesheet.Warning{{Row: 7, Column: "Quiz 1", Reason: "score is not numeric"}}

	rep, err := testEngine().Reconcile(context.Background(), mem, "lincoln-high", batch)
	require.NoError(t, err)
	require.NotEmpty(t, rep.Warnings)
	assert.Equal(t, 7, rep.Warnings[0].Row)
}

func TestReconcile_ParallelTenants(t *testing.T) {
	mem := store.NewMemory()
	eng := testEngine()
	tenants := []string{"t1", "t2", "t3", "t4"}

	var wg sync.WaitGroup
	for _, id := range tenants {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := eng.Reconcile(context.Background(), mem, id, sampleBatch())
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	for _, id := range tenants {
		snap := mem.Snapshot(id)
		assert.Len(t, snap.Grades, 3, "tenant %s", id)
	}
}

func TestReport_Summary(t *testing.T) {
	rep := &Report{
		StudentsCreated: 2,
		GradesCreated:   3,
		Warnings: []gradesheet.Warning{
			{Row: 4, Column: "Quiz 1", Reason: "score is not numeric"},
		},
	}
	s := rep.Summary()
	assert.Contains(t, s, "students: 2 created")
	assert.Contains(t, s, "grades: 3 created")
	assert.Contains(t, s, "row 4")
	assert.Contains(t, s, "score is not numeric")
}
