package parser

import (
	"math"
	"strings"
	"testing"
	"time"
)

var testIngestedAt = time.Date(2025, 1, 10, 14, 30, 0, 0, time.UTC)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestParseHeaderMappedCSV(t *testing.T) {
	csvData := strings.Join([]string{
		"Date,Shift,Operator,Position,Part #s,SO#s,Good Pieces,Scrap,Uptime,Downtime",
		"2025-01-05,1,Alice,Press 3,P-100,SO123,100,5,7.5,0.5",
		"2025-01-05,1,Bob,Press 4,P-200,SO124,200,10,8,1",
	}, "\n")

	result, err := Parse([]byte(csvData), "production.csv", testIngestedAt)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if result.Strategy != StrategyHeaderMapped {
		t.Errorf("Expected strategy %s, got %s", StrategyHeaderMapped, result.Strategy)
	}
	if len(result.Records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(result.Records))
	}

	rec := result.Records[0]
	if rec.PartNumber != "P-100" {
		t.Errorf("Expected part P-100, got %s", rec.PartNumber)
	}
	if rec.Machine != "Press 3" {
		t.Errorf("Expected machine Press 3, got %s", rec.Machine)
	}
	if rec.Operator != "Alice" {
		t.Errorf("Expected operator Alice, got %s", rec.Operator)
	}
	if rec.Job != "SO123" {
		t.Errorf("Expected job SO123, got %s", rec.Job)
	}
	if rec.GoodCount != 100 || rec.RejectCount != 5 {
		t.Errorf("Expected counts 100/5, got %d/%d", rec.GoodCount, rec.RejectCount)
	}

	// Mean run time 7.75 is below the hours threshold, so values convert
	if !almostEqual(rec.RunTimeMin, 450) {
		t.Errorf("Expected run time 450 after hours conversion, got %f", rec.RunTimeMin)
	}
	if !almostEqual(rec.DowntimeMin, 30) {
		t.Errorf("Expected downtime 30 after hours conversion, got %f", rec.DowntimeMin)
	}

	// Batch defaults: no total column, no planned column
	if rec.TotalCount != 105 {
		t.Errorf("Expected total 105 from good+reject, got %d", rec.TotalCount)
	}
	if !almostEqual(rec.PlannedTimeMin, 480) {
		t.Errorf("Expected planned 480 from run+down, got %f", rec.PlannedTimeMin)
	}

	wantDate := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)
	if !rec.Date.Equal(wantDate) {
		t.Errorf("Expected date %v, got %v", wantDate, rec.Date)
	}
}

func TestParseHeaderAliases(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		wantKey string
	}{
		{"part alias", "PartNumber", fieldPart},
		{"part hash alias", "Part #", fieldPart},
		{"good pcs alias", "Good Pcs", fieldGood},
		{"goodcount alias", "GoodCount", fieldGood},
		{"rejects alias", "Rejects", fieldReject},
		{"runtime alias", "RunTime", fieldRun},
		{"run time alias", "Run Time", fieldRun},
		{"workstation alias", "Workstation", fieldMachine},
		{"job alias", "SO#", fieldJob},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			index, _ := mapHeader([]string{tt.header})
			if _, ok := index[tt.wantKey]; !ok {
				t.Errorf("Header %q did not map to %s", tt.header, tt.wantKey)
			}
		})
	}
}

func TestParseMinutesBatchNotConverted(t *testing.T) {
	csvData := strings.Join([]string{
		"Part #s,Good,Scrap,Uptime,Downtime",
		"P-100,100,5,450,30",
		"P-200,200,10,480,0",
	}, "\n")

	result, err := Parse([]byte(csvData), "minutes.csv", testIngestedAt)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	// Mean run time 465 is well above the hours threshold
	if !almostEqual(result.Records[0].RunTimeMin, 450) {
		t.Errorf("Minutes batch should not be converted, got %f", result.Records[0].RunTimeMin)
	}
}

func TestParseDateErrorFailsSingleRecord(t *testing.T) {
	csvData := strings.Join([]string{
		"Date,Part #s,Good,Uptime",
		"not-a-date,P-100,100,450",
		"2025-01-05,P-200,200,480",
	}, "\n")

	result, err := Parse([]byte(csvData), "dates.csv", testIngestedAt)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(result.Records) != 1 {
		t.Fatalf("Expected 1 surviving record, got %d", len(result.Records))
	}
	if result.Records[0].PartNumber != "P-200" {
		t.Errorf("Wrong record survived: %s", result.Records[0].PartNumber)
	}
	if len(result.RowErrors) != 1 {
		t.Fatalf("Expected 1 row error, got %d", len(result.RowErrors))
	}
	if result.RowErrors[0].Row != 2 {
		t.Errorf("Expected row error on row 2, got %d", result.RowErrors[0].Row)
	}
}

func TestParseEmptyDateDefaultsToIngestionDay(t *testing.T) {
	csvData := strings.Join([]string{
		"Date,Part #s,Good,Uptime",
		",P-100,100,450",
	}, "\n")

	result, err := Parse([]byte(csvData), "nodate.csv", testIngestedAt)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	wantDate := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	if !result.Records[0].Date.Equal(wantDate) {
		t.Errorf("Expected ingestion-day default %v, got %v", wantDate, result.Records[0].Date)
	}
}

func TestParseSchemaError(t *testing.T) {
	csvData := strings.Join([]string{
		"Date,Operator",
		"2025-01-05,Bob",
	}, "\n")

	_, err := Parse([]byte(csvData), "broken.csv", testIngestedAt)
	if err == nil {
		t.Fatal("Expected SchemaError, got nil")
	}

	schemaErr, ok := err.(*SchemaError)
	if !ok {
		t.Fatalf("Expected *SchemaError, got %T", err)
	}

	foundDate := false
	for _, col := range schemaErr.FoundColumns {
		if col == fieldDate {
			foundDate = true
		}
	}
	if !foundDate {
		t.Errorf("Expected date among found columns, got %v", schemaErr.FoundColumns)
	}

	missingPart := false
	for _, f := range schemaErr.Missing {
		if f == fieldPart {
			missingPart = true
		}
	}
	if !missingPart {
		t.Errorf("Expected part_number among missing fields, got %v", schemaErr.Missing)
	}
	if len(schemaErr.Preview) == 0 {
		t.Error("Expected a data preview in the schema error")
	}
}

// positionalRow builds a 26-cell row with the given overrides
func positionalRow(cells map[int]string) []string {
	row := make([]string, 26)
	for idx, v := range cells {
		row[idx] = v
	}
	return row
}

func TestParsePositionalMainAndSubRows(t *testing.T) {
	grid := [][]string{
		positionalRow(map[int]string{
			3: "Workstation", 4: "P-500", 15: "Carol", 16: "01/05/2025",
			17: "2.0", 18: "ASY-01", 19: "SO900", 21: "300", 22: "12",
			24: "7.5", 25: "0.5",
		}),
		positionalRow(map[int]string{19: "Jam", 25: "0.166666666666667"}),
		positionalRow(map[int]string{19: "Break", 25: "0.333333333333333"}),
	}

	records, rowErrors := parsePositional(grid, carmiLayout, testIngestedAt)
	if len(rowErrors) != 0 {
		t.Fatalf("Unexpected row errors: %v", rowErrors)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}

	rec := records[0]
	if rec.PartNumber != "P-500" {
		t.Errorf("Expected part P-500, got %s", rec.PartNumber)
	}
	if rec.Machine != "ASY-01" {
		t.Errorf("Expected machine ASY-01, got %s", rec.Machine)
	}
	if rec.Shift != "2" {
		t.Errorf("Expected shift 2, got %s", rec.Shift)
	}
	if !almostEqual(rec.RunTimeMin, 450) {
		t.Errorf("Expected run time 450, got %f", rec.RunTimeMin)
	}
	if !almostEqual(rec.DowntimeMin, 30) {
		t.Errorf("Expected downtime 30 from the main row, got %f", rec.DowntimeMin)
	}

	if len(rec.DowntimeEvents) != 2 {
		t.Fatalf("Expected 2 downtime events, got %d", len(rec.DowntimeEvents))
	}
	if rec.DowntimeEvents[0].Reason != "Jam" || !almostEqual(rec.DowntimeEvents[0].Minutes, 10) {
		t.Errorf("Unexpected first event: %+v", rec.DowntimeEvents[0])
	}
	if rec.DowntimeEvents[1].Reason != "Break" || !almostEqual(rec.DowntimeEvents[1].Minutes, 20) {
		t.Errorf("Unexpected second event: %+v", rec.DowntimeEvents[1])
	}
}

func TestParsePositionalOffsetShift(t *testing.T) {
	// Sentinel at index 5 shifts every field column by +2
	base := positionalRow(map[int]string{
		3: "Workstation", 4: "P-500", 15: "Carol", 16: "01/05/2025",
		17: "1", 18: "Press 1", 19: "SO1", 21: "50", 22: "2", 24: "4", 25: "0",
	})
	shifted := make([]string, len(base)+2)
	copy(shifted[2:], base)

	records, rowErrors := parsePositional([][]string{shifted}, carmiLayout, testIngestedAt)
	if len(rowErrors) != 0 {
		t.Fatalf("Unexpected row errors: %v", rowErrors)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if records[0].PartNumber != "P-500" {
		t.Errorf("Offset extraction failed, part = %q", records[0].PartNumber)
	}
	if records[0].Machine != "Press 1" {
		t.Errorf("Offset extraction failed, machine = %q", records[0].Machine)
	}
}

func TestParsePositionalMachineNameNotReason(t *testing.T) {
	grid := [][]string{
		positionalRow(map[int]string{
			3: "Workstation", 4: "P-1", 15: "Dan", 16: "01/06/2025",
			17: "1", 18: "ASY-01", 19: "SO2", 21: "10", 22: "0",
			24: "5", 25: "0",
		}),
		// Machine name leaks into the sub-row; the real reason follows it
		positionalRow(map[int]string{18: "ASY-01", 19: "Material Wait", 25: "0.25"}),
	}

	records, _ := parsePositional(grid, carmiLayout, testIngestedAt)
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	events := records[0].DowntimeEvents
	if len(events) != 1 {
		t.Fatalf("Expected 1 downtime event, got %d", len(events))
	}
	if events[0].Reason != "Material Wait" {
		t.Errorf("Expected machine-name candidate to be skipped, got reason %q", events[0].Reason)
	}
}

func TestParsePositionalUnknownReason(t *testing.T) {
	grid := [][]string{
		positionalRow(map[int]string{
			3: "Workstation", 4: "P-1", 15: "Dan", 16: "01/06/2025",
			17: "1", 18: "M1", 19: "SO2", 21: "10", 22: "0", 24: "5", 25: "0",
		}),
		positionalRow(map[int]string{25: "0.5"}),
	}

	records, _ := parsePositional(grid, carmiLayout, testIngestedAt)
	events := records[0].DowntimeEvents
	if len(events) != 1 {
		t.Fatalf("Expected 1 downtime event, got %d", len(events))
	}
	if events[0].Reason != defaultDowntimeReason {
		t.Errorf("Expected default reason, got %q", events[0].Reason)
	}
}

func TestParsePositionalShortMainRowClosesRecord(t *testing.T) {
	short := []string{"", "", "", "Workstation", "P-9"}
	grid := [][]string{
		positionalRow(map[int]string{
			3: "Workstation", 4: "P-1", 15: "Dan", 16: "01/06/2025",
			17: "1", 18: "M1", 19: "SO2", 21: "10", 22: "0", 24: "5", 25: "0",
		}),
		short,
		// Would be a sub-row, but the short main row closed the record
		positionalRow(map[int]string{19: "Jam", 25: "0.5"}),
	}

	records, rowErrors := parsePositional(grid, carmiLayout, testIngestedAt)
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if len(rowErrors) != 1 {
		t.Fatalf("Expected 1 row error for the short main row, got %d", len(rowErrors))
	}
	if len(records[0].DowntimeEvents) != 0 {
		t.Errorf("Sub-row after malformed main row should not attach, got %d events", len(records[0].DowntimeEvents))
	}
}

func TestParseVendorMarkerForcesPositional(t *testing.T) {
	main := positionalRow(map[int]string{
		3: "Workstation", 4: "P-7", 15: "Eve", 16: "01/07/2025",
		17: "1", 18: "M2", 19: "SO5", 21: "40", 22: "1", 24: "6", 25: "0",
	})
	rows := []string{
		"Carmi Mold Division Production Export",
		strings.Join(main, ","),
	}

	result, err := Parse([]byte(strings.Join(rows, "\n")), "carmi.csv", testIngestedAt)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if result.Strategy != StrategyPositional {
		t.Errorf("Expected positional strategy, got %s", result.Strategy)
	}
	if len(result.Records) != 1 || result.Records[0].PartNumber != "P-7" {
		t.Errorf("Unexpected records: %+v", result.Records)
	}
}

func TestParseDateFormats(t *testing.T) {
	tests := []struct {
		value string
		want  time.Time
	}{
		{"2025-01-05", time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)},
		{"01/05/2025", time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)},
		{"1/5/2025", time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)},
		{"2025-01-05 07:00:00", time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		got, err := parseDate(tt.value)
		if err != nil {
			t.Errorf("parseDate(%q) failed: %v", tt.value, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseDate(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}

	if _, err := parseDate("garbage"); err == nil {
		t.Error("Expected error for unparseable date")
	}
}
