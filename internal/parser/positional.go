package parser

import (
	"fmt"
	"strings"
	"time"

	"oee-platform/internal/models"
)

// PositionalLayout describes an unlabeled vendor export. A row is a main
// record row when Sentinel appears within its first SentinelScanWidth cells;
// the sentinel's column establishes offset = index - ReferenceIndex, applied
// to every field column for that run of rows. Kept as configuration data so
// layout drift can be corrected without touching the scan logic.
type PositionalLayout struct {
	Sentinel          string
	SentinelScanWidth int
	ReferenceIndex    int
	MinRowLen         int

	// Field columns before offset adjustment
	PartCol     int
	OperatorCol int
	DateCol     int
	ShiftCol    int
	MachineCol  int
	JobCol      int
	GoodCol     int
	RejectCol   int
	RunCol      int
	DowntimeCol int

	// Run and downtime cells carry hours in this layout
	TimeScale float64

	// Reason text is the first non-numeric token scanned in
	// [ReasonScanStart, ReasonScanEnd), skipping consumed columns
	ReasonScanStart int
	ReasonScanEnd   int
	MainRowSkip     []int
	SubRowSkip      []int

	// Markers in the header row or first cell that force this layout
	VendorMarkers []string
}

// carmiLayout matches the Carmi Mold division press exports
var carmiLayout = PositionalLayout{
	Sentinel:          "Workstation",
	SentinelScanWidth: 10,
	ReferenceIndex:    3,
	MinRowLen:         26,

	PartCol:     4,
	OperatorCol: 15,
	DateCol:     16,
	ShiftCol:    17,
	MachineCol:  18,
	JobCol:      19,
	GoodCol:     21,
	RejectCol:   22,
	RunCol:      24,
	DowntimeCol: 25,

	TimeScale: 60,

	ReasonScanStart: 10,
	ReasonScanEnd:   30,
	MainRowSkip:     []int{4, 15, 16, 17, 18, 19, 21, 22, 24, 25},
	SubRowSkip:      []int{21, 22, 24, 25},

	VendorMarkers: []string{"Carmi Mold", "Barcode"},
}

const defaultDowntimeReason = "Unknown Reason"

// matchesVendor reports whether the grid carries one of the layout's vendor
// markers in its header row or first data cell.
func (l PositionalLayout) matchesVendor(grid [][]string) bool {
	if len(grid) == 0 {
		return false
	}
	probe := strings.Join(grid[0], " ")
	if len(grid) > 1 && len(grid[1]) > 0 {
		probe += " " + grid[1][0]
	}
	for _, marker := range l.VendorMarkers {
		if strings.Contains(probe, marker) {
			return true
		}
	}
	return false
}

// sentinelIndex locates the layout sentinel within a row's scan window.
// Returns -1 when the row is not a main record row.
func (l PositionalLayout) sentinelIndex(row []string) int {
	limit := l.SentinelScanWidth
	if limit > len(row) {
		limit = len(row)
	}
	for i := 0; i < limit; i++ {
		if strings.TrimSpace(row[i]) == l.Sentinel {
			return i
		}
	}
	return -1
}

// scanReason finds the first plausible reason token in the row: non-empty,
// non-numeric, not in the skip list. A token equal to the open record's
// machine name is passed over for the next candidate.
func (l PositionalLayout) scanReason(row []string, offset int, skip []int, machine string) string {
	skipSet := make(map[int]bool, len(skip))
	for _, c := range skip {
		skipSet[c] = true
	}

	candidates := make([]string, 0, 2)
	for idx := l.ReasonScanStart + offset; idx < l.ReasonScanEnd+offset; idx++ {
		if skipSet[idx-offset] {
			continue
		}
		val := cleanString(cell(row, idx))
		if val == "" || isNumericToken(val) {
			continue
		}
		candidates = append(candidates, val)
	}

	if len(candidates) == 0 {
		return ""
	}
	reason := candidates[0]
	if reason == machine && len(candidates) > 1 {
		reason = candidates[1]
	}
	return reason
}

// parsePositional scans an unlabeled grid for main rows and their downtime
// sub-rows. Malformed main rows are reported as row errors and close the
// open record so stray sub-rows are not misattributed.
func parsePositional(grid [][]string, layout PositionalLayout, ingestedAt time.Time) (records []*models.ProductionRecord, rowErrors []RowError) {
	defaultDate := ingestedAt.UTC().Truncate(24 * time.Hour)

	var current *models.ProductionRecord
	currentOffset := 0

	for i, row := range grid {
		rowNum := i + 1

		if wsIdx := layout.sentinelIndex(row); wsIdx >= 0 {
			if len(row) < layout.MinRowLen {
				rowErrors = append(rowErrors, RowError{
					Row: rowNum,
					Err: fmt.Errorf("main row too short: %d cells, need %d", len(row), layout.MinRowLen),
				})
				current = nil
				continue
			}

			offset := wsIdx - layout.ReferenceIndex
			currentOffset = offset

			rec := &models.ProductionRecord{
				PartNumber:  cleanString(cell(row, layout.PartCol+offset)),
				Operator:    cleanString(cell(row, layout.OperatorCol+offset)),
				Machine:     cleanString(cell(row, layout.MachineCol+offset)),
				Job:         cleanString(cell(row, layout.JobCol+offset)),
				Shift:       normalizeShift(cell(row, layout.ShiftCol+offset)),
				GoodCount:   safeInt(cell(row, layout.GoodCol+offset)),
				RejectCount: safeInt(cell(row, layout.RejectCol+offset)),
				RunTimeMin:  safeFloat(cell(row, layout.RunCol+offset)) * layout.TimeScale,
				DowntimeMin: safeFloat(cell(row, layout.DowntimeCol+offset)) * layout.TimeScale,
				Date:        defaultDate,
			}

			if raw := cleanString(cell(row, layout.DateCol+offset)); raw != "" {
				date, err := parseDate(raw)
				if err != nil {
					rowErrors = append(rowErrors, RowError{Row: rowNum, Err: err})
					current = nil
					continue
				}
				rec.Date = date
			}

			// The main row itself sometimes carries the downtime reason
			if rec.DowntimeMin > 0 {
				if reason := layout.scanReason(row, offset, layout.MainRowSkip, rec.Machine); reason != "" {
					rec.DowntimeEvents = append(rec.DowntimeEvents, models.DowntimeEvent{
						Reason:  reason,
						Minutes: rec.DowntimeMin,
					})
				}
			}

			records = append(records, rec)
			current = rec
			continue
		}

		// Sub-row: itemized downtime event attributed to the open record
		if current == nil {
			continue
		}
		minutes := safeFloat(cell(row, layout.DowntimeCol+currentOffset)) * layout.TimeScale
		if minutes <= 0 {
			continue
		}
		reason := layout.scanReason(row, currentOffset, layout.SubRowSkip, current.Machine)
		if reason == "" {
			reason = defaultDowntimeReason
		}
		current.DowntimeEvents = append(current.DowntimeEvents, models.DowntimeEvent{
			Reason:  reason,
			Minutes: minutes,
		})
	}

	return records, rowErrors
}
