package parser

import (
	"strconv"
	"strings"
	"time"

	"oee-platform/internal/models"
)

// hoursSuspectMean is the batch mean below which run-time values are assumed
// to be hours. A real shift is several hundred minutes, so a mean under 12
// only happens when the export recorded hours.
const hoursSuspectMean = 12.0

// applyTimeUnitHeuristic normalizes a batch recorded in hours to minutes.
// Applied exactly once per batch, never cumulatively.
func applyTimeUnitHeuristic(records []*models.ProductionRecord) bool {
	if len(records) == 0 {
		return false
	}

	var sum float64
	for _, r := range records {
		sum += r.RunTimeMin
	}

	if sum/float64(len(records)) >= hoursSuspectMean {
		return false
	}

	for _, r := range records {
		r.RunTimeMin *= 60
		r.DowntimeMin *= 60
	}
	return true
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"01-02-2006",
	"01/02/2006",
	"1/2/2006",
	"2006/01/02",
	"02-Jan-2006",
	"Jan 2, 2006",
}

// parseDate accepts the date formats seen across vendor exports
func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, &ParseError{
		Field:   "date",
		Value:   value,
		Message: "unrecognized date format",
	}
}

// cleanString trims a cell and maps pandas-style "nan" artifacts to empty
func cleanString(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "nan") || strings.EqualFold(s, "none") {
		return ""
	}
	return s
}

// safeFloat converts a cell to float64, returning 0 for anything unparseable
func safeFloat(s string) float64 {
	s = cleanString(s)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// safeInt converts a cell to int, tolerating float renderings like "12.0"
func safeInt(s string) int {
	return int(safeFloat(s))
}

// isNumericToken reports whether a cell is purely numeric (at most one
// decimal point). Used to reject numbers when scanning for reason text.
func isNumericToken(s string) bool {
	s = strings.Replace(s, ".", "", 1)
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// normalizeShift strips trailing ".0" from numeric shift cells and maps an
// empty value to "Unknown"
func normalizeShift(s string) string {
	s = strings.TrimSuffix(cleanString(s), ".0")
	if s == "" {
		return "Unknown"
	}
	return s
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}
