package parser

import (
	"strings"
	"time"

	"oee-platform/internal/models"
)

// Canonical field names used by the alias table
const (
	fieldDate    = "date"
	fieldOp      = "operator"
	fieldMachine = "machine"
	fieldPart    = "part_number"
	fieldJob     = "job"
	fieldShift   = "shift"
	fieldGood    = "good_count"
	fieldReject  = "reject_count"
	fieldTotal   = "total_count"
	fieldRun     = "run_time_min"
	fieldDown    = "downtime_min"
	fieldPlanned = "planned_production_time_min"
)

// columnAliases is the documented synonym table for header-mapped layouts.
// Matching is case-insensitive and whitespace-trimmed.
var columnAliases = map[string]string{
	"part #s":     fieldPart,
	"part #":      fieldPart,
	"partnumber":  fieldPart,
	"part_number": fieldPart,

	"operator": fieldOp,

	"position":    fieldMachine,
	"machine":     fieldMachine,
	"workstation": fieldMachine,

	"so#s": fieldJob,
	"so#":  fieldJob,
	"job":  fieldJob,

	"good pieces": fieldGood,
	"good":        fieldGood,
	"goodcount":   fieldGood,
	"good pcs":    fieldGood,
	"good_pcs":    fieldGood,

	"scrap":       fieldReject,
	"reject":      fieldReject,
	"rejectcount": fieldReject,
	"rejects":     fieldReject,
	"scrap pcs":   fieldReject,

	"total":       fieldTotal,
	"total_count": fieldTotal,

	"uptime":       fieldRun,
	"runtime":      fieldRun,
	"run time":     fieldRun,
	"run_time_min": fieldRun,

	"downtime":     fieldDown,
	"downtime_min": fieldDown,

	"planned time":                fieldPlanned,
	"planned_production_time_min": fieldPlanned,

	"date":  fieldDate,
	"shift": fieldShift,
}

// mapHeader resolves a header row against the alias table. Returns the
// canonical field -> column index map and the list of detected fields.
func mapHeader(header []string) (map[string]int, []string) {
	index := make(map[string]int)
	found := make([]string, 0, len(header))

	for i, col := range header {
		norm := strings.ToLower(strings.TrimSpace(col))
		canonical, ok := columnAliases[norm]
		if !ok {
			continue
		}
		if _, dup := index[canonical]; dup {
			continue // first alias wins
		}
		index[canonical] = i
		found = append(found, canonical)
	}

	return index, found
}

// parseHeaderMapped runs the header-mapped strategy. ok is false when the
// layout cannot resolve a part identifier, signalling the positional
// fallback. Row errors fail single records, never the batch.
func parseHeaderMapped(grid [][]string, ingestedAt time.Time) (records []*models.ProductionRecord, rowErrors []RowError, ok bool) {
	if len(grid) == 0 {
		return nil, nil, false
	}

	index, _ := mapHeader(grid[0])
	if _, hasPart := index[fieldPart]; !hasPart {
		return nil, nil, false
	}

	field := func(row []string, name string) (string, bool) {
		idx, present := index[name]
		if !present {
			return "", false
		}
		return cell(row, idx), true
	}

	defaultDate := ingestedAt.UTC().Truncate(24 * time.Hour)

	for i, row := range grid[1:] {
		rowNum := i + 2 // 1-based, counting the header

		rec := &models.ProductionRecord{
			Date:     defaultDate,
			Operator: "Unknown",
			Machine:  "Unknown",
		}

		if raw, present := field(row, fieldDate); present {
			if v := cleanString(raw); v != "" {
				date, err := parseDate(v)
				if err != nil {
					if perr, isParse := err.(*ParseError); isParse {
						perr.Row = rowNum
					}
					rowErrors = append(rowErrors, RowError{Row: rowNum, Err: err})
					continue
				}
				rec.Date = date
			}
		}

		if v, present := field(row, fieldPart); present {
			if s := cleanString(v); s != "" {
				rec.PartNumber = s
			} else {
				rec.PartNumber = "Unknown"
			}
		}
		if v, present := field(row, fieldOp); present {
			if s := cleanString(v); s != "" {
				rec.Operator = s
			}
		}
		if v, present := field(row, fieldMachine); present {
			if s := cleanString(v); s != "" {
				rec.Machine = s
			}
		}
		if v, present := field(row, fieldJob); present {
			rec.Job = cleanString(v)
		}
		if v, present := field(row, fieldShift); present {
			rec.Shift = cleanString(v)
		}

		if v, present := field(row, fieldGood); present {
			rec.GoodCount = safeInt(v)
		}
		if v, present := field(row, fieldReject); present {
			rec.RejectCount = safeInt(v)
		}
		if v, present := field(row, fieldTotal); present {
			rec.TotalCount = safeInt(v)
		}
		if v, present := field(row, fieldRun); present {
			rec.RunTimeMin = safeFloat(v)
		}
		if v, present := field(row, fieldDown); present {
			rec.DowntimeMin = safeFloat(v)
		}
		if v, present := field(row, fieldPlanned); present {
			rec.PlannedTimeMin = safeFloat(v)
		}

		records = append(records, rec)
	}

	return records, rowErrors, true
}

// applyBatchDefaults fills derived fields after strategy parsing and the
// time-unit heuristic: total from good+reject when absent or zero-summed,
// planned time from run+downtime when absent.
func applyBatchDefaults(records []*models.ProductionRecord) {
	totalSum := 0
	for _, r := range records {
		totalSum += r.TotalCount
	}

	for _, r := range records {
		if totalSum == 0 {
			r.TotalCount = r.GoodCount + r.RejectCount
		}
		if r.PlannedTimeMin == 0 {
			r.PlannedTimeMin = r.RunTimeMin + r.DowntimeMin
		}
	}
}
