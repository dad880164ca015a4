package store

// memory.go is an in-memory Store used by engine and service tests.
//
// A transaction operates on a deep copy of the tenant's tables and swaps
// it back on Commit, so rollback-on-failure behaves like the real thing
// and atomicity can be asserted by snapshot comparison. FailWrites injects
// a storage error after N successful writes to exercise mid-transaction
// failure paths.

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is an in-memory Store implementation.
type Memory struct {
	mu     sync.Mutex
	data   map[string]*memTables // keyed by tenant id
	nextID int64

	failAfter int // -1: disabled
	failErr   error
}

type memTables struct {
	students    map[string]*Student // by email
	assignments map[memAssignKey]*Assignment
	grades      map[memGradeKey]*Grade
	tags        map[string]int64
	links       map[memLinkKey]bool
}

type memAssignKey struct {
	name string
	date string // YYYY-MM-DD, "" when nil
}

type memGradeKey struct {
	studentID    int64
	assignmentID int64
}

type memLinkKey struct {
	assignmentID int64
	tagID        int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		data:      make(map[string]*memTables),
		failAfter: -1,
	}
}

// FailWrites makes the next transaction fail with err after n successful
// write operations. Pass n=0 to fail on the first write. The injection
// stays armed until disarmed with FailWrites(-1, nil).
func (m *Memory) FailWrites(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
	if err == nil {
		err = fmt.Errorf("injected storage failure")
	}
	m.failErr = err
}

// SeedTag registers an existing tag for a tenant, standing in for the tag
// CRUD surface that lives outside the ingestion path.
func (m *Memory) SeedTag(tenantID, name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tables(tenantID)
	m.nextID++
	t.tags[name] = m.nextID
	return m.nextID
}

// Snapshot returns a deterministic copy of a tenant's state, for
// before/after comparison in atomicity tests.
type Snapshot struct {
	Students    []Student
	Assignments []Assignment
	Grades      []Grade
}

func (m *Memory) Snapshot(tenantID string) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.tables(tenantID)
	var snap Snapshot
	for _, s := range t.students {
		snap.Students = append(snap.Students, *s)
	}
	for _, a := range t.assignments {
		snap.Assignments = append(snap.Assignments, cloneAssignment(a))
	}
	for _, g := range t.grades {
		snap.Grades = append(snap.Grades, cloneGrade(g))
	}

	sort.Slice(snap.Students, func(i, j int) bool { return snap.Students[i].Email < snap.Students[j].Email })
	sort.Slice(snap.Assignments, func(i, j int) bool { return snap.Assignments[i].ID < snap.Assignments[j].ID })
	sort.Slice(snap.Grades, func(i, j int) bool { return snap.Grades[i].ID < snap.Grades[j].ID })
	return snap
}

func (m *Memory) tables(tenantID string) *memTables {
	t, ok := m.data[tenantID]
	if !ok {
		t = &memTables{
			students:    make(map[string]*Student),
			assignments: make(map[memAssignKey]*Assignment),
			grades:      make(map[memGradeKey]*Grade),
			tags:        make(map[string]int64),
			links:       make(map[memLinkKey]bool),
		}
		m.data[tenantID] = t
	}
	return t
}

// Begin opens a transaction over a deep copy of the tenant's tables.
func (m *Memory) Begin(ctx context.Context, tenantID string) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, classifyMem(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return &memTx{
		store:    m,
		tenantID: tenantID,
		work:     cloneTables(m.tables(tenantID)),
	}, nil
}

type memTx struct {
	store    *Memory
	tenantID string
	work     *memTables
	writes   int
	done     bool
}

func (t *memTx) checkWrite(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return classifyMem(err)
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.store.failAfter >= 0 && t.writes >= t.store.failAfter {
		return t.store.failErr
	}
	t.writes++
	return nil
}

func (t *memTx) GetStudentByEmail(ctx context.Context, email string) (*Student, error) {
	if err := ctx.Err(); err != nil {
		return nil, classifyMem(err)
	}
	s, ok := t.work.students[email]
	if !ok {
		return nil, ErrNotFound
	}
	out := *s
	return &out, nil
}

func (t *memTx) InsertStudent(ctx context.Context, s *Student) error {
	if err := t.checkWrite(ctx); err != nil {
		return err
	}
	if _, exists := t.work.students[s.Email]; exists {
		return fmt.Errorf("%w: student %s", ErrConflict, s.Email)
	}
	s.ID = t.store.id()
	cp := *s
	t.work.students[s.Email] = &cp
	return nil
}

func (t *memTx) UpdateStudent(ctx context.Context, s *Student) error {
	if err := t.checkWrite(ctx); err != nil {
		return err
	}
	for _, existing := range t.work.students {
		if existing.ID == s.ID {
			existing.FirstName = s.FirstName
			existing.LastName = s.LastName
			existing.StudentNumber = s.StudentNumber
			return nil
		}
	}
	return ErrNotFound
}

func (t *memTx) GetAssignment(ctx context.Context, name string, date *time.Time) (*Assignment, error) {
	if err := ctx.Err(); err != nil {
		return nil, classifyMem(err)
	}
	a, ok := t.work.assignments[assignKey(name, date)]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneAssignment(a)
	return &out, nil
}

func (t *memTx) InsertAssignment(ctx context.Context, a *Assignment) error {
	if err := t.checkWrite(ctx); err != nil {
		return err
	}
	key := assignKey(a.Name, a.Date)
	if _, exists := t.work.assignments[key]; exists {
		return fmt.Errorf("%w: assignment %s", ErrConflict, a.Name)
	}
	a.ID = t.store.id()
	cp := cloneAssignment(a)
	t.work.assignments[key] = &cp
	return nil
}

func (t *memTx) UpdateAssignmentMaxPoints(ctx context.Context, id int64, maxPoints float64) error {
	if err := t.checkWrite(ctx); err != nil {
		return err
	}
	for _, a := range t.work.assignments {
		if a.ID == id {
			a.MaxPoints = maxPoints
			return nil
		}
	}
	return ErrNotFound
}

func (t *memTx) GetGrade(ctx context.Context, studentID, assignmentID int64) (*Grade, error) {
	if err := ctx.Err(); err != nil {
		return nil, classifyMem(err)
	}
	g, ok := t.work.grades[memGradeKey{studentID, assignmentID}]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneGrade(g)
	return &out, nil
}

func (t *memTx) InsertGrade(ctx context.Context, g *Grade) error {
	if err := t.checkWrite(ctx); err != nil {
		return err
	}
	key := memGradeKey{g.StudentID, g.AssignmentID}
	if _, exists := t.work.grades[key]; exists {
		return fmt.Errorf("%w: grade for student %d assignment %d", ErrConflict, g.StudentID, g.AssignmentID)
	}
	g.ID = t.store.id()
	cp := cloneGrade(g)
	t.work.grades[key] = &cp
	return nil
}

func (t *memTx) UpdateGradeScore(ctx context.Context, id int64, score float64) error {
	if err := t.checkWrite(ctx); err != nil {
		return err
	}
	for _, g := range t.work.grades {
		if g.ID == id {
			s := score
			now := time.Now()
			g.Score = &s
			g.GradedAt = &now
			return nil
		}
	}
	return ErrNotFound
}

func (t *memTx) TagsByName(ctx context.Context, names []string) (map[string]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, classifyMem(err)
	}
	result := make(map[string]int64, len(names))
	for _, n := range names {
		if id, ok := t.work.tags[n]; ok {
			result[n] = id
		}
	}
	return result, nil
}

func (t *memTx) LinkAssignmentTag(ctx context.Context, assignmentID, tagID int64) error {
	if err := t.checkWrite(ctx); err != nil {
		return err
	}
	t.work.links[memLinkKey{assignmentID, tagID}] = true
	return nil
}

func (t *memTx) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return classifyMem(err)
	}
	if t.done {
		return fmt.Errorf("commit on finished transaction")
	}
	t.done = true

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.data[t.tenantID] = t.work
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	// Discarding the working copy is all a rollback takes.
	t.done = true
	return nil
}

func (m *Memory) id() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	return m.nextID
}

func assignKey(name string, date *time.Time) memAssignKey {
	k := memAssignKey{name: name}
	if date != nil {
		k.date = date.Format("2006-01-02")
	}
	return k
}

func classifyMem(err error) error {
	if err == context.DeadlineExceeded {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

func cloneTables(t *memTables) *memTables {
	out := &memTables{
		students:    make(map[string]*Student, len(t.students)),
		assignments: make(map[memAssignKey]*Assignment, len(t.assignments)),
		grades:      make(map[memGradeKey]*Grade, len(t.grades)),
		tags:        make(map[string]int64, len(t.tags)),
		links:       make(map[memLinkKey]bool, len(t.links)),
	}
	for k, v := range t.students {
		cp := *v
		out.students[k] = &cp
	}
	for k, v := range t.assignments {
		cp := cloneAssignment(v)
		out.assignments[k] = &cp
	}
	for k, v := range t.grades {
		cp := cloneGrade(v)
		out.grades[k] = &cp
	}
	for k, v := range t.tags {
		out.tags[k] = v
	}
	for k, v := range t.links {
		out.links[k] = v
	}
	return out
}

func cloneAssignment(a *Assignment) Assignment {
	cp := *a
	if a.Date != nil {
		d := *a.Date
		cp.Date = &d
	}
	return cp
}

func cloneGrade(g *Grade) Grade {
	cp := *g
	if g.Score != nil {
		s := *g.Score
		cp.Score = &s
	}
	if g.GradedAt != nil {
		at := *g.GradedAt
		cp.GradedAt = &at
	}
	return cp
}
