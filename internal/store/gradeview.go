package store

// gradeview.go holds read-side conveniences for presenting stored grades.
// Reconciliation never uses these; it compares raw points only.

// Percent returns the score as a percentage of the assignment's max points.
// The second return is false when the grade has no score or max points is
// not positive.
func (g *Grade) Percent(maxPoints float64) (float64, bool) {
	if g.Score == nil || maxPoints <= 0 {
		return 0, false
	}
	return *g.Score / maxPoints * 100, true
}

// Letter maps a percentage to the standard letter grade.
func Letter(percent float64) string {
	switch {
	case percent >= 90:
		return "A"
	case percent >= 80:
		return "B"
	case percent >= 70:
		return "C"
	case percent >= 60:
		return "D"
	default:
		return "F"
	}
}
