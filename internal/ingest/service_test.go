package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradeinsight/gradeport/internal/config"
	"github.com/gradeinsight/gradeport/internal/reconcile"
	"github.com/gradeinsight/gradeport/internal/store"
	"github.com/gradeinsight/gradeport/internal/tenant"
)

type fakeSource struct {
	tenants map[string]*tenant.Tenant
}

func (f *fakeSource) Get(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	t, ok := f.tenants[tenantID]
	if !ok {
		return nil, tenant.ErrUnavailable
	}
	cp := *t
	return &cp, nil
}

func testUploadConfig() config.UploadConfig {
	return config.UploadConfig{
		MaxFileSize:      1 << 20,
		MaxConcurrent:    2,
		MaxWaitTime:      time.Second,
		TxTimeout:        30 * time.Second,
		DefaultMaxPoints: 100,
	}
}

func newTestService(cfg config.UploadConfig, tenants ...*tenant.Tenant) (*Service, *store.Memory) {
	src := &fakeSource{tenants: make(map[string]*tenant.Tenant)}
	for _, t := range tenants {
		src.tenants[t.ID] = t
	}
	mem := store.NewMemory()
	router := tenant.NewRouter(src, []store.Store{mem})
	engine := reconcile.NewEngine(cfg.TxTimeout)
	return NewService(router, engine, cfg), mem
}

const sampleCSV = `email,first_name,last_name,Homework 1,Quiz 1
-,date,-,2026-02-10,2026-02-14
-,points,-,20,10
alice@school.test,Alice,Nguyen,18,9
bob@school.test,Bob,Ortiz,15,
`

func activeTenant() *tenant.Tenant {
	return &tenant.Tenant{ID: "lincoln-high", Shard: 1, Status: tenant.StatusActive}
}

func TestIngest_FullPipeline(t *testing.T) {
	svc, mem := newTestService(testUploadConfig(), activeTenant())

	rep, err := svc.Ingest(context.Background(), "lincoln-high", "grades.csv", []byte(sampleCSV))
	require.NoError(t, err)

	assert.Equal(t, 2, rep.StudentsCreated)
	assert.Equal(t, 2, rep.AssignmentsCreated)
	assert.Equal(t, 3, rep.GradesCreated)
	assert.Empty(t, rep.Warnings)

	snap := mem.Snapshot("lincoln-high")
	assert.Len(t, snap.Grades, 3)
}

func TestIngest_ReuploadChangesNothing(t *testing.T) {
	svc, mem := newTestService(testUploadConfig(), activeTenant())
	ctx := context.Background()

	_, err := svc.Ingest(ctx, "lincoln-high", "grades.csv", []byte(sampleCSV))
	require.NoError(t, err)
	before := mem.Snapshot("lincoln-high")

	rep, err := svc.Ingest(ctx, "lincoln-high", "grades.csv", []byte(sampleCSV))
	require.NoError(t, err)

	assert.False(t, rep.Changed())
	assert.Equal(t, 3, rep.GradesUnchanged)
	assert.Equal(t, before, mem.Snapshot("lincoln-high"))
}

func TestIngest_UnknownTenant(t *testing.T) {
	svc, _ := newTestService(testUploadConfig())

	_, err := svc.Ingest(context.Background(), "nope", "grades.csv", []byte(sampleCSV))
	require.Error(t, err)

	var ie *Error
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, KindTenantUnavailable, ie.Kind)
}

func TestIngest_SuspendedTenantRejectedBeforeParsing(t *testing.T) {
	svc, _ := newTestService(testUploadConfig(),
		&tenant.Tenant{ID: "closed", Shard: 1, Status: tenant.StatusSuspended})

	// The file is garbage; a parse attempt would fail with a different
	// kind, so this asserts the tenant check runs first.
	_, err := svc.Ingest(context.Background(), "closed", "grades.csv", []byte{0x00, 0x01})
	var ie *Error
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, KindTenantUnavailable, ie.Kind)
}

func TestIngest_EmptyFile(t *testing.T) {
	svc, _ := newTestService(testUploadConfig(), activeTenant())

	_, err := svc.Ingest(context.Background(), "lincoln-high", "grades.csv", nil)
	var ie *Error
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, KindMalformedInput, ie.Kind)
}

func TestIngest_MissingEmailColumn(t *testing.T) {
	svc, _ := newTestService(testUploadConfig(), activeTenant())

	csv := "name,Homework 1\nAlice,18\n"
	_, err := svc.Ingest(context.Background(), "lincoln-high", "grades.csv", []byte(csv))
	var ie *Error
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, KindSchema, ie.Kind)
}

func TestIngest_FileTooLarge(t *testing.T) {
	cfg := testUploadConfig()
	cfg.MaxFileSize = 16
	svc, _ := newTestService(cfg, activeTenant())

	_, err := svc.Ingest(context.Background(), "lincoln-high", "grades.csv", []byte(sampleCSV))
	var ie *Error
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, KindFileTooLarge, ie.Kind)
}

func TestIngest_TSVByExtension(t *testing.T) {
	svc, _ := newTestService(testUploadConfig(), activeTenant())

	tsv := "email\tHomework 1\nalice@school.test\t18\n"
	rep, err := svc.Ingest(context.Background(), "lincoln-high", "grades.TSV", []byte(tsv))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.GradesCreated)
}

func TestIngest_StorageTimeout(t *testing.T) {
	cfg := testUploadConfig()
	cfg.TxTimeout = -time.Nanosecond
	svc, _ := newTestService(cfg, activeTenant())

	_, err := svc.Ingest(context.Background(), "lincoln-high", "grades.csv", []byte(sampleCSV))
	var ie *Error
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, KindStorageTimeout, ie.Kind)
}

func TestIngest_WarningsSurfaceInReport(t *testing.T) {
	svc, _ := newTestService(testUploadConfig(), activeTenant())

	csv := `email,first_name,Homework 1
alice@school.test,Alice,18
bob@school.test,Bob,absent
`
	rep, err := svc.Ingest(context.Background(), "lincoln-high", "grades.csv", []byte(csv))
	require.NoError(t, err)

	require.Len(t, rep.Warnings, 1)
	assert.Equal(t, 3, rep.Warnings[0].Row)
	assert.Equal(t, "Homework 1", rep.Warnings[0].Column)
	assert.Equal(t, 1, rep.GradesCreated)
}

func TestIngest_SingleStudentLifecycle(t *testing.T) {
	svc, _ := newTestService(testUploadConfig(), activeTenant())
	ctx := context.Background()

	first := "last_name,first_name,email,Quiz1\n-,-,-,100\nDoe,Jane,jane@x.com,85\n"
	rep, err := svc.Ingest(ctx, "lincoln-high", "grades.csv", []byte(first))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.StudentsCreated)
	assert.Equal(t, 1, rep.AssignmentsCreated)
	assert.Equal(t, 1, rep.GradesCreated)

	// Identical re-upload: nothing created, nothing updated.
	rep, err = svc.Ingest(ctx, "lincoln-high", "grades.csv", []byte(first))
	require.NoError(t, err)
	assert.False(t, rep.Changed())
	assert.Equal(t, 1, rep.GradesUnchanged)

	// Max points lowered: assignment updated with a warning, the stored
	// score itself stays untouched.
	second := "last_name,first_name,email,Quiz1\n-,-,-,50\nDoe,Jane,jane@x.com,85\n"
	rep, err = svc.Ingest(ctx, "lincoln-high", "grades.csv", []byte(second))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.AssignmentsUpdated)
	assert.Equal(t, 1, rep.GradesUnchanged)
	require.NotEmpty(t, rep.Warnings)
	assert.Contains(t, rep.Warnings[0].Reason, "max points changed")
}

func TestErrorKindStrings(t *testing.T) {
	assert.Equal(t, "malformed_input", KindMalformedInput.String())
	assert.Equal(t, "tenant_unavailable", KindTenantUnavailable.String())
	assert.Equal(t, "internal", Kind(99).String())
}
