package gradesheet

import (
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		wantOK bool
		want   string // YYYY-MM-DD when wantOK
	}{
		{"iso", "2024-09-15", true, "2024-09-15"},
		{"us slashes", "9/15/2024", true, "2024-09-15"},
		{"us slashes padded", "09/15/2024", true, "2024-09-15"},
		{"dashes", "9-15-2024", true, "2024-09-15"},
		{"month name", "Sep 15, 2024", true, "2024-09-15"},
		{"two digit year", "9/15/24", true, "2024-09-15"},
		{"empty", "", false, ""},
		{"whitespace", "   ", false, ""},
		{"garbage", "next tuesday", false, ""},
		{"number", "100", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDate(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ParseDate(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if tt.wantOK {
				want, _ := time.Parse("2006-01-02", tt.want)
				if !got.Equal(want) {
					t.Errorf("ParseDate(%q) = %v, want %v", tt.input, got, want)
				}
			}
		})
	}
}

func TestParseScore(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		wantOK bool
		want   float64
	}{
		{"integer", "85", true, 85},
		{"decimal", "85.5", true, 85.5},
		{"zero", "0", true, 0},
		{"negative", "-2", true, -2},
		{"leading decimal", ".5", true, 0.5},
		{"thousands separator", "1,000", true, 1000},
		{"percent suffix", "85%", true, 85},
		{"whitespace", "  85  ", true, 85},
		{"empty", "", false, 0},
		{"letters", "abc", false, 0},
		{"mixed", "85abc", false, 0},
		{"dash", "-", false, 0},
		{"double dot", "8.5.1", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseScore(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ParseScore(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if tt.wantOK && got != tt.want {
				t.Errorf("ParseScore(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestCleanCell(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"  hello  ", "hello"},
		{`="12345"`, "12345"},
		{"=formula", "formula"},
		{`"quoted"`, "quoted"},
		{"plain", "plain"},
	}

	for _, tt := range tests {
		if got := CleanCell(tt.input); got != tt.want {
			t.Errorf("CleanCell(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
