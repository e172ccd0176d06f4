package parser

import (
	"fmt"
	"strings"
)

// SchemaError reports that mandatory fields could not be resolved after all
// detection strategies. It carries the detected columns and a small data
// preview so the exact column/format mismatch is visible to the uploader.
type SchemaError struct {
	FoundColumns []string
	Missing      []string
	Preview      [][]string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("columns missing: found [%s], missing [%s]",
		strings.Join(e.FoundColumns, ", "), strings.Join(e.Missing, ", "))
}

// ParseError reports a value that failed to parse in a single record. It
// fails that record, never the batch; the caller surfaces it per-row.
type ParseError struct {
	Row     int
	Field   string
	Value   string
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("row %d: invalid %s %q: %s", e.Row, e.Field, e.Value, e.Message)
}
