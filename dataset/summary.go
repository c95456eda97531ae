package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// PreviewRows is the number of leading rows kept in a Table.
const PreviewRows = 5

var ErrEmpty = errors.New("dataset is empty")

// Table summarizes parsed CSV text.
type Table struct {
	Columns []string
	Rows    int
	Head    [][]string
}

// Shape formats the table dimensions as (rows, cols).
func (t Table) Shape() string {
	return fmt.Sprintf("(%d, %d)", t.Rows, len(t.Columns))
}

// Summarize parses raw CSV text with a header row. Every record must have as
// many fields as the header.
func Summarize(raw string) (Table, error) {
	r := csv.NewReader(strings.NewReader(raw))
	r.TrimLeadingSpace = true
	r.ReuseRecord = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return Table{}, ErrEmpty
	}
	if err != nil {
		return Table{}, fmt.Errorf("parse header: %w", err)
	}

	t := Table{Columns: append([]string(nil), header...)}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return t, fmt.Errorf("parse row %d: %w", t.Rows+1, err)
		}
		if t.Rows < PreviewRows {
			t.Head = append(t.Head, append([]string(nil), rec...))
		}
		t.Rows++
	}
	return t, nil
}

// Preview returns the first n characters of raw for diagnostics.
func Preview(raw string, n int) string {
	r := []rune(raw)
	if len(r) <= n {
		return raw
	}
	return string(r[:n])
}
