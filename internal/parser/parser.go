package parser

import (
	"time"

	"oee-platform/internal/models"
)

// Strategy identifies which layout detection produced a batch
type Strategy string

const (
	StrategyHeaderMapped Strategy = "header_mapped"
	StrategyPositional   Strategy = "positional"
)

// RowError attributes a non-fatal parse failure to one input row
type RowError struct {
	Row int
	Err error
}

// Result is one parsed upload: canonical records plus enough context for the
// caller to report what happened (layout used, per-row failures, a preview).
type Result struct {
	Records   []*models.ProductionRecord
	Strategy  Strategy
	RowErrors []RowError
	Preview   []*models.ProductionRecord
}

const previewSize = 3

// requiredFields must be resolvable for a batch to be accepted
var requiredFields = []string{fieldPart, fieldRun, fieldGood}

// Parse turns an uploaded spreadsheet into canonical production records.
// Layout detection: a vendor marker or sentinel row forces the positional
// strategy; otherwise the header row is alias-mapped, falling back to
// positional when no part identifier resolves. Returns a SchemaError when
// mandatory fields cannot be resolved by any strategy.
func Parse(data []byte, filename string, ingestedAt time.Time) (*Result, error) {
	grid, err := LoadGrid(data, filename)
	if err != nil {
		return nil, err
	}

	result := &Result{}

	if carmiLayout.matchesVendor(grid) || hasSentinelRow(grid) {
		result.Strategy = StrategyPositional
		result.Records, result.RowErrors = parsePositional(grid, carmiLayout, ingestedAt)
	} else {
		records, rowErrors, ok := parseHeaderMapped(grid, ingestedAt)
		if ok {
			result.Strategy = StrategyHeaderMapped
			result.Records = records
			result.RowErrors = rowErrors
		} else {
			result.Strategy = StrategyPositional
			result.Records, result.RowErrors = parsePositional(grid, carmiLayout, ingestedAt)
		}
	}

	if len(result.Records) == 0 {
		return nil, schemaError(grid)
	}

	applyTimeUnitHeuristic(result.Records)
	applyBatchDefaults(result.Records)

	result.Preview = result.Records
	if len(result.Preview) > previewSize {
		result.Preview = result.Preview[:previewSize]
	}

	return result, nil
}

// hasSentinelRow scans the first rows for the positional layout's main-row
// sentinel so unlabeled exports without a vendor banner are still caught.
func hasSentinelRow(grid [][]string) bool {
	limit := len(grid)
	if limit > 20 {
		limit = 20
	}
	for _, row := range grid[:limit] {
		if carmiLayout.sentinelIndex(row) >= 0 {
			return true
		}
	}
	return false
}

func schemaError(grid [][]string) *SchemaError {
	e := &SchemaError{Missing: requiredFields}

	if len(grid) > 0 {
		index, found := mapHeader(grid[0])
		e.FoundColumns = found

		missing := make([]string, 0, len(requiredFields))
		for _, f := range requiredFields {
			if _, ok := index[f]; !ok {
				missing = append(missing, f)
			}
		}
		e.Missing = missing

		preview := grid
		if len(preview) > previewSize {
			preview = preview[:previewSize]
		}
		e.Preview = preview
	}

	return e
}
