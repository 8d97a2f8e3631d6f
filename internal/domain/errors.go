package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Errors surfaced by the ingest and query pipelines. Everything except
// ErrModelUnavailable is request-scoped; ErrModelUnavailable is raised by the
// startup check and stops the process.
var (
	ErrModelUnavailable   = errors.New("embedding model unavailable")
	ErrMalformedFile      = errors.New("malformed file")
	ErrMissingColumn      = errors.New("missing required column")
	ErrInvalidBatch       = errors.New("invalid batch")
	ErrDimensionMismatch  = errors.New("dimension mismatch")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrEmptyQuery         = errors.New("empty query")
	ErrModelMismatch      = errors.New("embedding model mismatch")
)

// Pipeline stages reported on failures.
const (
	StageParse    = "parse"
	StageValidate = "validate"
	StageEmbed    = "embed"
	StageStore    = "store"
	StageQuery    = "query"
)

// StageError records where in a pipeline a failure happened. Row is the
// 1-based data row number, zero when no single row applies.
type StageError struct {
	Stage      string
	Collection string
	Row        int
	Err        error
}

func (e *StageError) Error() string {
	var b strings.Builder
	b.WriteString(e.Stage)
	b.WriteString(" failed")
	if e.Collection != "" {
		fmt.Fprintf(&b, " (collection %q", e.Collection)
		if e.Row > 0 {
			fmt.Fprintf(&b, ", row %d", e.Row)
		}
		b.WriteString(")")
	} else if e.Row > 0 {
		fmt.Fprintf(&b, " (row %d)", e.Row)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *StageError) Unwrap() error { return e.Err }

// StageOf returns the stage recorded on err, or "" if none.
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
