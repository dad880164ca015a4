package reconcile

import (
	"fmt"
	"strings"
	"time"

	"github.com/gradeinsight/gradeport/internal/gradesheet"
)

// SummaryWarningLimit caps how many warnings the human-readable summary
// includes; the full list is always in the report itself.
const SummaryWarningLimit = 5

// Report is the outcome of one upload: what was created, what was updated,
// what was already in place, and everything the uploader should fix in the
// source file. It is returned for every successful upload, including a
// fully idempotent re-upload, so "0 created, 0 updated" is visible.
type Report struct {
	UploadID string `json:"upload_id"`

	StudentsCreated    int `json:"students_created"`
	StudentsUpdated    int `json:"students_updated"`
	AssignmentsCreated int `json:"assignments_created"`
	AssignmentsUpdated int `json:"assignments_updated"`
	GradesCreated      int `json:"grades_created"`
	GradesUpdated      int `json:"grades_updated"`
	GradesUnchanged    int `json:"grades_unchanged"`

	Warnings []gradesheet.Warning `json:"warnings,omitempty"`

	Duration time.Duration `json:"-"`
}

// Changed reports whether the upload modified any stored state.
func (r *Report) Changed() bool {
	return r.StudentsCreated+r.StudentsUpdated+
		r.AssignmentsCreated+r.AssignmentsUpdated+
		r.GradesCreated+r.GradesUpdated > 0
}

// Summary renders a one-paragraph human-readable account of the upload.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "students: %d created, %d updated; assignments: %d created, %d updated; grades: %d created, %d updated, %d unchanged",
		r.StudentsCreated, r.StudentsUpdated,
		r.AssignmentsCreated, r.AssignmentsUpdated,
		r.GradesCreated, r.GradesUpdated, r.GradesUnchanged,
	)

	if n := len(r.Warnings); n > 0 {
		fmt.Fprintf(&b, "; %d warning(s)", n)
		limit := n
		if limit > SummaryWarningLimit {
			limit = SummaryWarningLimit
		}
		for _, w := range r.Warnings[:limit] {
			b.WriteString("\n  - ")
			if w.Row > 0 {
				fmt.Fprintf(&b, "row %d", w.Row)
				if w.Column != "" {
					fmt.Fprintf(&b, ", column %q", w.Column)
				}
				b.WriteString(": ")
			} else if w.Column != "" {
				fmt.Fprintf(&b, "column %q: ", w.Column)
			}
			b.WriteString(w.Reason)
		}
		if n > limit {
			fmt.Fprintf(&b, "\n  ... and %d more", n-limit)
		}
	}

	return b.String()
}

func (r *Report) warnf(row int, column, format string, args ...any) {
	r.Warnings = append(r.Warnings, gradesheet.Warning{
		Row:    row,
		Column: column,
		Reason: fmt.Sprintf(format, args...),
	})
}
