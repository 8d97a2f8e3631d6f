// Package tabular reads uploaded CSV files into a header and data rows.
package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"csvsearch/internal/domain"
)

const utf8BOM = "\ufeff"

// Table is a parsed CSV file. Header names are trimmed.
type Table struct {
	Header []string
	Rows   []Row
}

// Row is one data row. Number counts data rows from 1; Line is the line in
// the file where the row starts.
type Row struct {
	Number int
	Line   int
	Cells  []string
}

// Read parses a CSV document whose first row is the header. Rows may have
// fewer or more cells than the header; missing cells read as empty.
func Read(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: file is empty, a header row is required", domain.ErrMalformedFile)
	}
	if err != nil {
		return nil, parseError(err)
	}

	header[0] = strings.TrimPrefix(header[0], utf8BOM)
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	t := &Table{Header: header}
	for n := 1; ; n++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, parseError(err)
		}
		line, _ := cr.FieldPos(0)
		t.Rows = append(t.Rows, Row{Number: n, Line: line, Cells: record})
	}
	return t, nil
}

// Column returns the index of the first header equal to name after
// trimming, or -1.
func (t *Table) Column(name string) int {
	name = strings.TrimSpace(name)
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// Cell returns the cell at column i, or "" when the row is short.
func (r Row) Cell(i int) string {
	if i < 0 || i >= len(r.Cells) {
		return ""
	}
	return r.Cells[i]
}

func parseError(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return fmt.Errorf("%w: line %d: %v", domain.ErrMalformedFile, pe.Line, pe.Err)
	}
	return fmt.Errorf("%w: %v", domain.ErrMalformedFile, err)
}
