package services

import (
	"context"
	"testing"
	"time"

	"oee-platform/internal/models"
)

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatalf("bad date %q: %v", s, err)
	}
	return d
}

func metricWith(date string, operator, machine, part, shift string, oee float64, good, reject int, downtime float64, events []models.DowntimeEvent) *models.OeeMetric {
	d, _ := time.Parse("2006-01-02", date)
	return &models.OeeMetric{
		Date:       d,
		Operator:   operator,
		Machine:    machine,
		PartNumber: part,
		Shift:      shift,
		OEE:        oee,
		Diagnostics: models.Diagnostics{
			GoodCount:      good,
			RejectCount:    reject,
			DowntimeMin:    downtime,
			RunTimeMin:     450,
			DowntimeEvents: events,
		},
	}
}

func TestWeeklySummaryWeightedVsSimple(t *testing.T) {
	repo := newFakeRepo()
	repo.metricsByReport[1] = []*models.OeeMetric{
		metricWith("2023-01-02", "Alice", "Press 3", "P-1", "1", 1.0, 1, 0, 0, nil),
		metricWith("2023-01-03", "Bob", "Press 4", "P-2", "1", 0.5, 900, 100, 0, nil),
	}

	svc := NewAnalyticsService(repo, testLogger)
	start := mustDate(t, "2023-01-01")
	end := mustDate(t, "2023-01-07")

	summary, err := svc.WeeklySummary(context.Background(), start, end, "All")
	if err != nil {
		t.Fatalf("WeeklySummary failed: %v", err)
	}

	// (1×1 + 0.5×1000) / 1001, never the average of averages
	if summary.Overall.WeightedOee != 0.5005 {
		t.Errorf("Expected weighted OEE 0.5005, got %f", summary.Overall.WeightedOee)
	}
	if summary.Overall.SimpleOee != 0.75 {
		t.Errorf("Expected simple OEE 0.75, got %f", summary.Overall.SimpleOee)
	}
	if summary.Overall.TotalParts != 1001 {
		t.Errorf("Expected 1001 total parts, got %d", summary.Overall.TotalParts)
	}

	// Operators sorted by descending volume
	if len(summary.Operators) != 2 {
		t.Fatalf("Expected 2 operators, got %d", len(summary.Operators))
	}
	if summary.Operators[0].Operator != "Bob" {
		t.Errorf("Expected Bob first by volume, got %s", summary.Operators[0].Operator)
	}
	if summary.Operators[0].ContributionPct != 99.9 {
		t.Errorf("Expected contribution 99.9, got %f", summary.Operators[0].ContributionPct)
	}

	// Daily trend ascending
	if len(summary.DailyTrend) != 2 {
		t.Fatalf("Expected 2 trend days, got %d", len(summary.DailyTrend))
	}
	if summary.DailyTrend[0].Date != "2023-01-02" {
		t.Errorf("Expected trend sorted ascending, got %s first", summary.DailyTrend[0].Date)
	}
}

func TestWeeklySummaryShiftFilter(t *testing.T) {
	repo := newFakeRepo()
	repo.metricsByReport[1] = []*models.OeeMetric{
		metricWith("2023-01-02", "Alice", "Press 3", "P-1", "1", 1.0, 10, 0, 0, nil),
		metricWith("2023-01-02", "Bob", "Press 3", "P-1", "2", 0.5, 10, 0, 0, nil),
	}

	svc := NewAnalyticsService(repo, testLogger)
	start := mustDate(t, "2023-01-01")
	end := mustDate(t, "2023-01-07")

	summary, err := svc.WeeklySummary(context.Background(), start, end, "2")
	if err != nil {
		t.Fatalf("WeeklySummary failed: %v", err)
	}
	if summary.Overall.Count != 1 {
		t.Fatalf("Expected shift filter to keep 1 metric, got %d", summary.Overall.Count)
	}
	if summary.Operators[0].Operator != "Bob" {
		t.Errorf("Expected Bob, got %s", summary.Operators[0].Operator)
	}
}

func TestCompareByDimension(t *testing.T) {
	repo := newFakeRepo()
	repo.metricsByReport[1] = []*models.OeeMetric{
		metricWith("2023-01-02", "Alice", "Press 3", "P-1", "1", 0.9, 100, 5, 0, nil),
		metricWith("2023-01-02", "Alice", "Press 3", "P-1", "1", 0.7, 100, 5, 0, nil),
		metricWith("2023-01-03", "Bob", "Press 4", "P-2", "2", 0.5, 50, 2, 0, nil),
	}

	svc := NewAnalyticsService(repo, testLogger)
	start := mustDate(t, "2023-01-01")
	end := mustDate(t, "2023-01-07")

	results, err := svc.Compare(context.Background(), DimensionMachine, start, end, 10)
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("Expected 2 machine groups, got %d", len(results))
	}
	if results[0].Name != "Press 3" {
		t.Errorf("Expected Press 3 first by OEE, got %s", results[0].Name)
	}
	if results[0].Oee != 0.8 {
		t.Errorf("Expected average OEE 0.8, got %f", results[0].Oee)
	}
	if results[0].TotalProduced != 210 {
		t.Errorf("Expected 210 produced, got %d", results[0].TotalProduced)
	}
	if results[0].SampleSize != 2 {
		t.Errorf("Expected sample size 2, got %d", results[0].SampleSize)
	}
}

func TestParseDimension(t *testing.T) {
	for _, valid := range []string{"shift", "part", "machine", "operator"} {
		if _, err := ParseDimension(valid); err != nil {
			t.Errorf("ParseDimension(%q) failed: %v", valid, err)
		}
	}
	if _, err := ParseDimension("job"); err == nil {
		t.Error("Expected error for unsupported dimension")
	}
}

func TestQualityByPart(t *testing.T) {
	repo := newFakeRepo()
	repo.metricsByReport[1] = []*models.OeeMetric{
		metricWith("2023-01-02", "Alice", "Press 3", "P-1", "1", 0.9, 90, 10, 0, nil),
		metricWith("2023-01-03", "Bob", "Press 4", "P-2", "1", 0.9, 99, 1, 0, nil),
	}

	svc := NewAnalyticsService(repo, testLogger)
	start := mustDate(t, "2023-01-01")
	end := mustDate(t, "2023-01-07")

	results, err := svc.QualityByPart(context.Background(), start, end, 10)
	if err != nil {
		t.Fatalf("QualityByPart failed: %v", err)
	}

	if results[0].PartNumber != "P-1" {
		t.Errorf("Expected P-1 first by rejects, got %s", results[0].PartNumber)
	}
	if results[0].RejectRate != 10.0 {
		t.Errorf("Expected reject rate 10%%, got %f", results[0].RejectRate)
	}
}

func TestDowntimeByMachine(t *testing.T) {
	repo := newFakeRepo()
	cycle := 60.0
	repo.rates = append(repo.rates, &models.StandardRate{
		ID: 1, PartNumber: "P-1", IdealCycleTimeSeconds: &cycle, Active: true,
	})

	events := []models.DowntimeEvent{
		{Reason: "Jam", Minutes: 10},
		{Reason: "Break", Minutes: 20},
	}
	repo.metricsByReport[1] = []*models.OeeMetric{
		metricWith("2023-01-02", "Alice", "Press 3", "P-1", "1", 0.9, 90, 10, 30, events),
		metricWith("2023-01-03", "Bob", "Press 4", "P-2", "1", 0.9, 90, 10, 120, nil),
	}

	svc := NewAnalyticsService(repo, testLogger)
	start := mustDate(t, "2023-01-01")
	end := mustDate(t, "2023-01-07")

	results, err := svc.DowntimeByMachine(context.Background(), start, end, 10)
	if err != nil {
		t.Fatalf("DowntimeByMachine failed: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("Expected 2 machines, got %d", len(results))
	}

	// Press 4 first: 120 min total downtime, single uncategorized event
	if results[0].Machine != "Press 4" {
		t.Errorf("Expected Press 4 first, got %s", results[0].Machine)
	}
	if results[0].Pattern != "Breakdown driven" {
		t.Errorf("Expected breakdown pattern, got %s", results[0].Pattern)
	}
	if results[0].Details[0].Reason != "Uncategorized Downtime" {
		t.Errorf("Expected uncategorized fallback, got %s", results[0].Details[0].Reason)
	}

	press3 := results[1]
	if press3.EventCount != 2 {
		t.Errorf("Expected 2 events, got %d", press3.EventCount)
	}
	// avg event 15 min -> mixed; 30 min at 60 s/cycle -> 30 parts lost
	if press3.Pattern != "Mixed" {
		t.Errorf("Expected mixed pattern, got %s", press3.Pattern)
	}
	if press3.PartsLost != 30 {
		t.Errorf("Expected 30 parts lost, got %d", press3.PartsLost)
	}
}
