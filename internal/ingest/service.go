// Package ingest drives the upload pipeline: tenant resolution, parsing,
// normalization, and reconciliation, with admission control in front.
package ingest

import (
	"context"
	"path"
	"strings"

	"github.com/gradeinsight/gradeport/internal/config"
	"github.com/gradeinsight/gradeport/internal/gradesheet"
	"github.com/gradeinsight/gradeport/internal/logging"
	"github.com/gradeinsight/gradeport/internal/reconcile"
	"github.com/gradeinsight/gradeport/internal/tabular"
	"github.com/gradeinsight/gradeport/internal/tenant"
)

// Service processes grade sheet uploads end to end.
type Service struct {
	router  *tenant.Router
	engine  *reconcile.Engine
	limiter *Limiter

	maxFileSize      int64
	defaultMaxPoints float64
}

// NewService wires the upload pipeline together.
func NewService(router *tenant.Router, engine *reconcile.Engine, cfg config.UploadConfig) *Service {
	return &Service{
		router:           router,
		engine:           engine,
		limiter:          NewLimiter(cfg.MaxConcurrent, cfg.MaxWaitTime),
		maxFileSize:      cfg.MaxFileSize,
		defaultMaxPoints: cfg.DefaultMaxPoints,
	}
}

// Ingest runs one uploaded file through the full pipeline for a tenant.
//
// The tenant is resolved before anything else: a file for a suspended or
// unknown tenant is rejected without being parsed. Failures return an
// *Error whose Kind tells the caller what went wrong; a returned report
// means the transaction committed.
func (s *Service) Ingest(ctx context.Context, tenantID, filename string, data []byte) (*reconcile.Report, error) {
	log := logging.FromContext(ctx).With("tenant_id", tenantID)

	shard, err := s.router.Resolve(ctx, tenantID)
	if err != nil {
		return nil, classify(err)
	}

	if s.maxFileSize > 0 && int64(len(data)) > s.maxFileSize {
		return nil, failf(KindFileTooLarge, "file is %d bytes, limit is %d", len(data), s.maxFileSize)
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, classify(err)
	}
	defer s.limiter.Release()

	grid, err := tabular.Parse(data, tabular.Options{Delimiter: delimiterFor(filename)})
	if err != nil {
		return nil, classify(err)
	}

	batch, err := gradesheet.Normalize(grid, gradesheet.Options{DefaultMaxPoints: s.defaultMaxPoints})
	if err != nil {
		return nil, classify(err)
	}

	log.Info("upload accepted",
		"shard", shard.Number,
		"file", filename,
		"students", len(batch.Students),
		"assignments", len(batch.Assignments),
		"scores", len(batch.Scores),
	)

	report, err := s.engine.Reconcile(ctx, shard.Store, tenantID, batch)
	if err != nil {
		log.Error("upload failed", "error", err)
		return nil, classify(err)
	}

	logging.ForUpload(ctx, tenantID, report.UploadID).Info("upload committed",
		"students_created", report.StudentsCreated,
		"assignments_created", report.AssignmentsCreated,
		"grades_created", report.GradesCreated,
		"grades_updated", report.GradesUpdated,
		"grades_unchanged", report.GradesUnchanged,
		"warnings", len(report.Warnings),
		"duration", report.Duration,
	)
	return report, nil
}

// WaitForDrain blocks until in-flight uploads finish, for shutdown.
func (s *Service) WaitForDrain(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// ActiveUploads reports how many uploads are currently being processed.
func (s *Service) ActiveUploads() int {
	return s.limiter.Active()
}

// delimiterFor picks the cell separator from the file extension. Tab for
// .tsv exports, comma otherwise.
func delimiterFor(filename string) rune {
	if strings.EqualFold(path.Ext(filename), ".tsv") {
		return '\t'
	}
	return ','
}
