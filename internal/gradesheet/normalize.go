// Package gradesheet interprets a parsed grid as a grade sheet.
//
// The normalizer classifies rows and columns into semantic roles without
// relying on a single rigid layout: identity columns are located by header
// aliases, the per-assignment date and max-points rows are recognized by
// content rather than position, and everything else is scored cells. The
// output is a Batch keyed entirely by natural keys (student email,
// assignment name+date).
//
// Structural problems (no email column, a non-numeric max-points cell)
// abort the upload with ErrSchema. Per-cell problems (a non-numeric score,
// an unparseable date, conflicting names for the same email) are recorded
// as warnings and the upload proceeds.
package gradesheet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gradeinsight/gradeport/internal/tabular"
)

// ErrSchema indicates the grid cannot be interpreted as a grade sheet.
var ErrSchema = errors.New("schema error")

// Options controls normalization.
type Options struct {
	// DefaultMaxPoints is applied to every assignment when the sheet has
	// no points row, and to individual assignments whose points cell is
	// blank.
	DefaultMaxPoints float64
}

// Identity column aliases, matched case-insensitively. Covers the native
// template and the classroom-export shape.
var (
	emailAliases  = []string{"email", "student_email"}
	firstAliases  = []string{"first_name", "firstname"}
	lastAliases   = []string{"last_name", "lastname"}
	numberAliases = []string{"student_number"}
)

// Sentinel markers that identity cells carry in the date and points rows.
var sentinelMarkers = map[string]bool{"": true, "-": true, "date": true, "points": true}

type assignColumn struct {
	idx  int // column index in the grid
	name string
	tags []string
}

// Normalize interprets a parsed grid as a grade sheet.
func Normalize(g *tabular.Grid, opts Options) (*Batch, error) {
	batch := &Batch{}

	emailCol, firstCol, lastCol, numberCol := -1, -1, -1, -1
	var assignCols []assignColumn

	for i, h := range g.Header() {
		key := strings.ToLower(CleanCell(h))
		switch {
		case matchAlias(key, emailAliases) && emailCol < 0:
			emailCol = i
		case matchAlias(key, firstAliases) && firstCol < 0:
			firstCol = i
		case matchAlias(key, lastAliases) && lastCol < 0:
			lastCol = i
		case matchAlias(key, numberAliases) && numberCol < 0:
			numberCol = i
		case key == "":
			batch.warnf(1, "", "column %d has a blank header; column ignored", i+1)
		default:
			name, tags := splitHeaderTags(CleanCell(h))
			assignCols = append(assignCols, assignColumn{idx: i, name: name, tags: tags})
		}
	}

	if emailCol < 0 {
		return nil, fmt.Errorf("%w: no email column (expected one of %v)", ErrSchema, emailAliases)
	}

	idCols := make([]int, 0, 4)
	for _, c := range []int{emailCol, firstCol, lastCol, numberCol} {
		if c >= 0 {
			idCols = append(idCols, c)
		}
	}

	rows := g.DataRows()

	// Up to two special rows directly below the header carry per-assignment
	// dates and max points. They are recognized by their identity cells,
	// in either order, and may be absent.
	var dateRow, pointsRow []string
	dateRowNum := 0
	next := 0
	for next < len(rows) && next < 2 {
		row := rows[next]
		if !isSentinelRow(row, idCols) {
			break
		}
		marker := sentinelWord(row, idCols)
		switch {
		case marker == "date" && dateRow == nil:
			dateRow, dateRowNum = row, next+2
		case marker == "points" && pointsRow == nil:
			pointsRow = row
		case pointsRow == nil && allCellsNumeric(row, assignCols):
			pointsRow = row
		case dateRow == nil && allCellsDateOrBlank(row, assignCols):
			dateRow, dateRowNum = row, next+2
		case pointsRow == nil:
			// Not dates, not blanks: this can only be a points row, and
			// its non-numeric cells are rejected below.
			pointsRow = row
		case dateRow == nil:
			dateRow, dateRowNum = row, next+2
		}
		next++
	}

	assignments := make([]Assignment, len(assignCols))
	for j, c := range assignCols {
		a := Assignment{Name: c.name, MaxPoints: opts.DefaultMaxPoints, Tags: c.tags}

		if dateRow != nil {
			cell := CleanCell(dateRow[c.idx])
			if cell != "" && cell != "-" {
				if t, ok := ParseDate(cell); ok {
					a.Date = &t
				} else {
					batch.warnf(dateRowNum, c.name, "date %q is not a recognized date; assignment stored without a date", cell)
				}
			}
		}

		if pointsRow != nil {
			cell := CleanCell(pointsRow[c.idx])
			if cell != "" && cell != "-" {
				v, ok := ParseScore(cell)
				if !ok || v < 0 {
					return nil, fmt.Errorf("%w: max points for %q: %q is not a non-negative number", ErrSchema, c.name, cell)
				}
				a.MaxPoints = v
			}
		}

		assignments[j] = a
	}

	// Everything after the special rows is a student record.
	studentIdx := make(map[string]int)
	type cellKey struct {
		email string
		col   int
	}
	scorePos := make(map[cellKey]int)

	for i := next; i < len(rows); i++ {
		row := rows[i]
		rowNum := i + 2 // 1-based, header is row 1

		email := strings.ToLower(CleanCell(row[emailCol]))
		if email == "" {
			if !isBlankRow(row) {
				batch.warnf(rowNum, "", "missing email; row skipped")
			}
			continue
		}

		s := Student{Email: email}
		if firstCol >= 0 {
			s.FirstName = CleanCell(row[firstCol])
		}
		if lastCol >= 0 {
			s.LastName = CleanCell(row[lastCol])
		}
		if numberCol >= 0 {
			s.StudentNumber = CleanCell(row[numberCol])
		}

		if pos, seen := studentIdx[email]; seen {
			prev := batch.Students[pos]
			if prev.FirstName != s.FirstName || prev.LastName != s.LastName {
				batch.warnf(rowNum, "", "duplicate row for %s with conflicting name %q %q; keeping %q %q",
					email, s.FirstName, s.LastName, prev.FirstName, prev.LastName)
			}
		} else {
			studentIdx[email] = len(batch.Students)
			batch.Students = append(batch.Students, s)
		}

		for j, c := range assignCols {
			raw := row[c.idx]
			if strings.TrimSpace(raw) == "" {
				continue // ungraded, not zero
			}
			v, ok := ParseScore(CleanCell(raw))
			if !ok {
				batch.warnf(rowNum, c.name, "score %q is not numeric; cell skipped", strings.TrimSpace(raw))
				continue
			}
			key := cellKey{email, j}
			score := Score{StudentEmail: email, Assignment: j, Points: v, Row: rowNum, Column: c.name}
			if pos, dup := scorePos[key]; dup {
				batch.Scores[pos] = score // later duplicate row wins
			} else {
				scorePos[key] = len(batch.Scores)
				batch.Scores = append(batch.Scores, score)
			}
		}
	}

	batch.Assignments = assignments
	dropEmptyColumns(batch)

	return batch, nil
}

// dropEmptyColumns removes assignments that received no scores anywhere.
// Placeholder template columns must not create empty assignment rows.
func dropEmptyColumns(b *Batch) {
	used := make(map[int]bool, len(b.Assignments))
	for _, s := range b.Scores {
		used[s.Assignment] = true
	}

	if len(used) == len(b.Assignments) {
		return
	}

	remap := make(map[int]int, len(used))
	kept := make([]Assignment, 0, len(used))
	for i, a := range b.Assignments {
		if used[i] {
			remap[i] = len(kept)
			kept = append(kept, a)
		}
	}

	b.Assignments = kept
	for i := range b.Scores {
		b.Scores[i].Assignment = remap[b.Scores[i].Assignment]
	}
}

func (b *Batch) warnf(row int, column, format string, args ...any) {
	b.Warnings = append(b.Warnings, Warning{
		Row:    row,
		Column: column,
		Reason: fmt.Sprintf(format, args...),
	})
}

func matchAlias(key string, aliases []string) bool {
	for _, a := range aliases {
		if key == a {
			return true
		}
	}
	return false
}

// isSentinelRow reports whether every identity cell carries a sentinel
// marker rather than real student data.
func isSentinelRow(row []string, idCols []int) bool {
	for _, c := range idCols {
		if !sentinelMarkers[strings.ToLower(CleanCell(row[c]))] {
			return false
		}
	}
	return true
}

// sentinelWord returns the first non-blank marker found in the identity
// cells ("date" or "points"), or "".
func sentinelWord(row []string, idCols []int) string {
	for _, c := range idCols {
		w := strings.ToLower(CleanCell(row[c]))
		if w == "date" || w == "points" {
			return w
		}
	}
	return ""
}

// allCellsNumeric reports whether every non-blank assignment cell in the
// row parses as a number. Used to tell a points row from a date row when
// the identity cells carry only dashes.
func allCellsNumeric(row []string, cols []assignColumn) bool {
	any := false
	for _, c := range cols {
		cell := CleanCell(row[c.idx])
		if cell == "" || cell == "-" {
			continue
		}
		if _, ok := ParseScore(cell); !ok {
			return false
		}
		any = true
	}
	return any
}

// allCellsDateOrBlank reports whether every assignment cell in the row is
// blank, a dash, or a parseable date.
func allCellsDateOrBlank(row []string, cols []assignColumn) bool {
	for _, c := range cols {
		cell := CleanCell(row[c.idx])
		if cell == "" || cell == "-" {
			continue
		}
		if _, ok := ParseDate(cell); !ok {
			return false
		}
	}
	return true
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// splitHeaderTags splits an assignment header of the form
// "Quiz 1 [homework, week2]" into the assignment name and its tag names.
// Tags are consumed read-only by reconciliation; unknown names produce a
// warning there, never a new tag.
func splitHeaderTags(h string) (string, []string) {
	open := strings.LastIndex(h, "[")
	if open < 0 || !strings.HasSuffix(h, "]") {
		return h, nil
	}

	name := strings.TrimSpace(h[:open])
	if name == "" {
		return h, nil
	}

	var tags []string
	for _, t := range strings.Split(h[open+1:len(h)-1], ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			tags = append(tags, t)
		}
	}
	return name, tags
}
