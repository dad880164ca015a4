package gradesheet

import "time"

// Batch is the normalized form of one uploaded grade sheet, expressed
// entirely in natural keys. It carries no tenant or storage identifiers;
// the reconciliation engine binds it to a tenant's shard.
type Batch struct {
	// Assignments in header column order. Columns with no scores anywhere
	// have already been dropped.
	Assignments []Assignment

	// Students in first-appearance order, one entry per distinct email.
	Students []Student

	// Scores for non-blank, numeric cells only. A blank cell produces no
	// Score: blank means "not graded", never zero.
	Scores []Score

	// Warnings collected during normalization. Warnings are data, not
	// control flow; they never abort the upload.
	Warnings []Warning
}

// Assignment is one graded column. (Name, Date) is the natural key.
type Assignment struct {
	Name      string
	Date      *time.Time // nil when the date row is absent or the cell unparseable
	MaxPoints float64
	Tags      []string // tag names referenced by the header, resolved read-only
}

// Student identity as it appears in the sheet. Email is the natural key.
type Student struct {
	Email         string
	FirstName     string
	LastName      string
	StudentNumber string
}

// Score is one graded cell.
type Score struct {
	StudentEmail string
	Assignment   int // index into Batch.Assignments
	Points       float64
	Row          int    // 1-based row in the uploaded file, for the report
	Column       string // assignment header, for the report
}

// Warning describes a per-row or per-cell problem with enough context for
// the uploader to fix the source file.
type Warning struct {
	Row    int    `json:"row,omitempty"`
	Column string `json:"column,omitempty"`
	Reason string `json:"reason"`
}
