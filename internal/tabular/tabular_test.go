package tabular

import (
	"errors"
	"testing"
)

func TestParse_Basic(t *testing.T) {
	data := []byte("last_name,first_name,email,Quiz1\nDoe,Jane,jane@x.com,85\n")

	g, err := Parse(data, Options{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if g.Width != 4 {
		t.Errorf("Width = %d, want 4", g.Width)
	}
	if len(g.Rows) != 2 {
		t.Fatalf("len(Rows) = %d, want 2", len(g.Rows))
	}
	if g.Rows[1][3] != "85" {
		t.Errorf("cell = %q, want %q", g.Rows[1][3], "85")
	}
}

func TestParse_BOMAndCRLF(t *testing.T) {
	data := []byte("\xEF\xBB\xBFemail,Quiz1\r\na@x.com,90\r\n")

	g, err := Parse(data, Options{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if g.Rows[0][0] != "email" {
		t.Errorf("header cell = %q, want %q (BOM not stripped)", g.Rows[0][0], "email")
	}
	if g.Rows[1][1] != "90" {
		t.Errorf("cell = %q, want %q", g.Rows[1][1], "90")
	}
}

func TestParse_QuotedDelimiter(t *testing.T) {
	data := []byte("email,\"Quiz 1, Part A\"\na@x.com,85\n")

	g, err := Parse(data, Options{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if g.Rows[0][1] != "Quiz 1, Part A" {
		t.Errorf("header cell = %q, want %q", g.Rows[0][1], "Quiz 1, Part A")
	}
}

func TestParse_ShortRowsPadded(t *testing.T) {
	data := []byte("email,Quiz1,Quiz2\na@x.com,85\n")

	g, err := Parse(data, Options{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	row := g.Rows[1]
	if len(row) != 3 {
		t.Fatalf("len(row) = %d, want 3", len(row))
	}
	if row[2] != "" {
		t.Errorf("padded cell = %q, want empty", row[2])
	}
}

func TestParse_LongRowRejected(t *testing.T) {
	data := []byte("email,Quiz1\na@x.com,85,extra,cells\n")

	_, err := Parse(data, Options{})
	if !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("Parse() error = %v, want ErrMalformedInput", err)
	}
}

func TestParse_TrailingBlanksTolerated(t *testing.T) {
	// Trailing blank cells and rows are export padding, not data.
	data := []byte("email,Quiz1,,\na@x.com,85,,\n,,,\n\n")

	g, err := Parse(data, Options{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if g.Width != 2 {
		t.Errorf("Width = %d, want 2", g.Width)
	}
	if len(g.Rows) != 2 {
		t.Errorf("len(Rows) = %d, want 2", len(g.Rows))
	}
}

func TestParse_EmptyFile(t *testing.T) {
	for _, data := range [][]byte{nil, []byte(""), []byte("\n\n"), []byte(",,\n,,\n")} {
		if _, err := Parse(data, Options{}); !errors.Is(err, ErrMalformedInput) {
			t.Errorf("Parse(%q) error = %v, want ErrMalformedInput", data, err)
		}
	}
}

func TestParse_AlternateDelimiter(t *testing.T) {
	data := []byte("email;Quiz1\na@x.com;85\n")

	g, err := Parse(data, Options{Delimiter: ';'})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if g.Rows[1][0] != "a@x.com" {
		t.Errorf("cell = %q, want %q", g.Rows[1][0], "a@x.com")
	}
}

func TestParse_InvalidUTF8Sanitized(t *testing.T) {
	data := []byte("email,Quiz1\na\xff@x.com,85\n")

	g, err := Parse(data, Options{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if g.Rows[1][0] == "" {
		t.Error("cell unexpectedly empty after sanitization")
	}
}
