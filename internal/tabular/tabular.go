// Package tabular turns raw delimited text into a row/column grid.
//
// The parser carries no semantics: it does not know what a student or an
// assignment is. It tolerates the usual artifacts of spreadsheet exports
// (byte-order marks, mixed line endings, quoted cells containing the
// delimiter, trailing blank rows and columns) and normalizes the grid to a
// uniform width so downstream code never has to bounds-check cells.
package tabular

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrMalformedInput indicates the file could not be parsed into a usable
// grid: invalid CSV structure, an empty file, or a row wider than the header.
var ErrMalformedInput = errors.New("malformed input")

// Options controls parsing.
type Options struct {
	// Delimiter is the cell separator. Zero means comma.
	Delimiter rune
}

// Grid is the parsed file: Rows[0] is the header, every row has exactly
// Width cells. Short rows are padded with empty cells; rows wider than the
// header (after trailing blanks are trimmed) are rejected.
type Grid struct {
	Width int
	Rows  [][]string
}

// Header returns the header row.
func (g *Grid) Header() []string { return g.Rows[0] }

// DataRows returns every row after the header.
func (g *Grid) DataRows() [][]string { return g.Rows[1:] }

// Parse reads delimited text into a Grid.
func Parse(data []byte, opts Options) (*Grid, error) {
	delim := opts.Delimiter
	if delim == 0 {
		delim = ','
	}

	data = stripBOM(data)
	data = sanitizeUTF8(data)

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}

	// Drop trailing blank cells per row, then trailing blank rows.
	for i, row := range records {
		records[i] = trimTrailingEmpty(row)
	}
	for len(records) > 0 && len(records[len(records)-1]) == 0 {
		records = records[:len(records)-1]
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrMalformedInput)
	}

	width := len(records[0])
	if width == 0 {
		return nil, fmt.Errorf("%w: empty header row", ErrMalformedInput)
	}

	rows := make([][]string, 0, len(records))
	for i, row := range records {
		if len(row) > width {
			return nil, fmt.Errorf("%w: row %d has %d cells, header has %d", ErrMalformedInput, i+1, len(row), width)
		}
		// Pad short rows so every row has Width cells.
		for len(row) < width {
			row = append(row, "")
		}
		rows = append(rows, row)
	}

	return &Grid{Width: width, Rows: rows}, nil
}

// trimTrailingEmpty removes blank cells from the end of a row. Interior
// blanks are preserved; they are meaningful (an ungraded score cell).
func trimTrailingEmpty(row []string) []string {
	end := len(row)
	for end > 0 && strings.TrimSpace(row[end-1]) == "" {
		end--
	}
	return row[:end]
}

// stripBOM removes a leading UTF-8 byte-order mark, commonly added by
// Windows spreadsheet exports.
func stripBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}

// sanitizeUTF8 replaces invalid UTF-8 sequences with the Unicode
// replacement character. Returns the input unchanged when already valid,
// which is the overwhelmingly common case.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune('�')
			data = data[1:]
		} else {
			buf.WriteRune(r)
			data = data[size:]
		}
	}

	return buf.Bytes()
}
