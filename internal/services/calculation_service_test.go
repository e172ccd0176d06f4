package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"oee-platform/internal/models"
)

func testDate(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func seedReport(repo *fakeRepo, records ...*models.ProductionRecord) int64 {
	report := &models.Report{Filename: "test.csv", UploadedAt: time.Now().UTC()}
	repo.CreateReport(context.Background(), report)
	repo.CreateEntriesBatch(context.Background(), report.ID, records)
	return report.ID
}

func seedRate(repo *fakeRepo, part, machine string, cycleSeconds float64) {
	rate := &models.StandardRate{
		PartNumber:            part,
		IdealCycleTimeSeconds: &cycleSeconds,
		StartDate:             testDate(2020, 1, 1),
		Active:                true,
	}
	if machine != "" {
		rate.Machine = &machine
	}
	repo.CreateRate(context.Background(), rate)
}

func TestCalculateReportComputesOee(t *testing.T) {
	repo := newFakeRepo()
	seedRate(repo, "P-100", "Press 3", 270)

	reportID := seedReport(repo, &models.ProductionRecord{
		Date: testDate(2025, 1, 5), Operator: "Alice", Machine: "Press 3",
		PartNumber: "P-100", Shift: "1",
		PlannedTimeMin: 480, RunTimeMin: 450, DowntimeMin: 30,
		TotalCount: 100, GoodCount: 80, RejectCount: 20,
	})

	svc := NewCalculationService(repo, testLogger, testMetrics)
	result, err := svc.CalculateReport(context.Background(), reportID)
	if err != nil {
		t.Fatalf("CalculateReport failed: %v", err)
	}

	if result.Computed != 1 {
		t.Fatalf("Expected 1 computed metric, got %d", result.Computed)
	}
	if result.MissingRates != 0 {
		t.Errorf("Expected no missing rates, got %d", result.MissingRates)
	}

	m := repo.metricsByReport[reportID][0]
	// availability = 27000/28800, performance = 270*100/27000, quality = 80/100
	if m.Availability != 0.9375 {
		t.Errorf("Expected availability 0.9375, got %f", m.Availability)
	}
	if m.Performance != 1.0 {
		t.Errorf("Expected performance 1.0, got %f", m.Performance)
	}
	if m.Quality != 0.8 {
		t.Errorf("Expected quality 0.8, got %f", m.Quality)
	}
	if m.OEE != 0.75 {
		t.Errorf("Expected OEE 0.75, got %f", m.OEE)
	}
	if m.Confidence != models.ConfidenceHigh {
		t.Errorf("Expected high confidence, got %s", m.Confidence)
	}
	if m.Diagnostics.TargetCount != 100 {
		t.Errorf("Expected target count 100, got %d", m.Diagnostics.TargetCount)
	}
}

func TestCalculateReportSelfHealsTotal(t *testing.T) {
	repo := newFakeRepo()
	seedRate(repo, "P-100", "", 270)

	reportID := seedReport(repo, &models.ProductionRecord{
		Date: testDate(2025, 1, 5), Operator: "Alice", Machine: "Press 3",
		PartNumber:     "P-100",
		PlannedTimeMin: 480, RunTimeMin: 450,
		TotalCount: 0, GoodCount: 80, RejectCount: 20,
	})

	svc := NewCalculationService(repo, testLogger, testMetrics)
	if _, err := svc.CalculateReport(context.Background(), reportID); err != nil {
		t.Fatalf("CalculateReport failed: %v", err)
	}

	m := repo.metricsByReport[reportID][0]
	if m.Quality != 0.8 {
		t.Errorf("Expected self-healed quality 0.8, got %f", m.Quality)
	}
}

func TestCalculateReportCapsPerformance(t *testing.T) {
	repo := newFakeRepo()
	seedRate(repo, "P-100", "", 600) // raw performance would be 2.2222

	reportID := seedReport(repo, &models.ProductionRecord{
		Date: testDate(2025, 1, 5), Operator: "Alice", Machine: "Press 3",
		PartNumber:     "P-100",
		PlannedTimeMin: 480, RunTimeMin: 450,
		TotalCount: 100, GoodCount: 100,
	})

	svc := NewCalculationService(repo, testLogger, testMetrics)
	if _, err := svc.CalculateReport(context.Background(), reportID); err != nil {
		t.Fatalf("CalculateReport failed: %v", err)
	}

	m := repo.metricsByReport[reportID][0]
	if m.Performance != 1.10 {
		t.Errorf("Expected performance capped at 1.10, got %f", m.Performance)
	}
}

func TestCalculateReportPerformanceCapSetting(t *testing.T) {
	repo := newFakeRepo()
	repo.settings[SettingPerformanceCap] = "1.5"
	seedRate(repo, "P-100", "", 600)

	reportID := seedReport(repo, &models.ProductionRecord{
		Date: testDate(2025, 1, 5), Operator: "Alice", Machine: "Press 3",
		PartNumber:     "P-100",
		PlannedTimeMin: 480, RunTimeMin: 450,
		TotalCount: 100, GoodCount: 100,
	})

	svc := NewCalculationService(repo, testLogger, testMetrics)
	if _, err := svc.CalculateReport(context.Background(), reportID); err != nil {
		t.Fatalf("CalculateReport failed: %v", err)
	}

	m := repo.metricsByReport[reportID][0]
	if m.Performance != 1.5 {
		t.Errorf("Expected configured cap 1.5, got %f", m.Performance)
	}
}

func TestCalculateReportMissingRate(t *testing.T) {
	repo := newFakeRepo()

	reportID := seedReport(repo, &models.ProductionRecord{
		Date: testDate(2025, 1, 5), Operator: "Alice", Machine: "Press 3",
		PartNumber:     "P-404",
		PlannedTimeMin: 480, RunTimeMin: 450,
		TotalCount: 100, GoodCount: 90, RejectCount: 10,
	})

	svc := NewCalculationService(repo, testLogger, testMetrics)
	result, err := svc.CalculateReport(context.Background(), reportID)
	if err != nil {
		t.Fatalf("CalculateReport failed: %v", err)
	}

	if result.MissingRates != 1 {
		t.Fatalf("Expected 1 missing rate, got %d", result.MissingRates)
	}
	wantID := "P-404 (Machine: Press 3)"
	if result.MissingRateIdentifiers[0] != wantID {
		t.Errorf("Expected identifier %q, got %q", wantID, result.MissingRateIdentifiers[0])
	}

	m := repo.metricsByReport[reportID][0]
	if m.Confidence != models.ConfidenceLow {
		t.Errorf("Expected low confidence, got %s", m.Confidence)
	}
	if m.Performance != 0 {
		t.Errorf("Expected zero performance without a rate, got %f", m.Performance)
	}
	if m.Diagnostics.Warning != "No Rate found for P-404 (Machine: Press 3)" {
		t.Errorf("Unexpected warning: %q", m.Diagnostics.Warning)
	}
}

func TestCalculateReportGroupsRuns(t *testing.T) {
	repo := newFakeRepo()
	seedRate(repo, "P-100", "", 270)

	shared := models.ProductionRecord{
		Date: testDate(2025, 1, 5), Operator: "Alice", Machine: "Press 3",
		PartNumber: "P-100", Shift: "1",
		PlannedTimeMin: 240, RunTimeMin: 225, DowntimeMin: 15,
		TotalCount: 50, GoodCount: 40, RejectCount: 10,
	}
	first, second := shared, shared
	third := shared
	third.Operator = "Bob"

	reportID := seedReport(repo, &first, &second, &third)

	svc := NewCalculationService(repo, testLogger, testMetrics)
	result, err := svc.CalculateReport(context.Background(), reportID)
	if err != nil {
		t.Fatalf("CalculateReport failed: %v", err)
	}

	if result.Computed != 2 {
		t.Fatalf("Expected 2 aggregated runs, got %d", result.Computed)
	}

	// Alice's two records summed before computation
	m := repo.metricsByReport[reportID][0]
	if m.Diagnostics.GoodCount != 80 {
		t.Errorf("Expected summed good count 80, got %d", m.Diagnostics.GoodCount)
	}
	if m.Diagnostics.RunTimeMin != 450 {
		t.Errorf("Expected summed run time 450, got %f", m.Diagnostics.RunTimeMin)
	}
}

func TestCalculateReportIdempotent(t *testing.T) {
	repo := newFakeRepo()
	seedRate(repo, "P-100", "", 270)

	reportID := seedReport(repo, &models.ProductionRecord{
		Date: testDate(2025, 1, 5), Operator: "Alice", Machine: "Press 3",
		PartNumber:     "P-100",
		PlannedTimeMin: 480, RunTimeMin: 450,
		TotalCount: 100, GoodCount: 90, RejectCount: 10,
	})

	svc := NewCalculationService(repo, testLogger, testMetrics)
	for i := 0; i < 2; i++ {
		if _, err := svc.CalculateReport(context.Background(), reportID); err != nil {
			t.Fatalf("CalculateReport run %d failed: %v", i+1, err)
		}
	}

	if len(repo.metricsByReport[reportID]) != 1 {
		t.Errorf("Expected 1 metric row after recalculation, got %d", len(repo.metricsByReport[reportID]))
	}
}

func TestCalculateReportPersistenceFailure(t *testing.T) {
	repo := newFakeRepo()
	seedRate(repo, "P-100", "", 270)
	repo.replaceErr = errors.New("connection reset")

	reportID := seedReport(repo, &models.ProductionRecord{
		Date: testDate(2025, 1, 5), Operator: "Alice", Machine: "Press 3",
		PartNumber:     "P-100",
		PlannedTimeMin: 480, RunTimeMin: 450,
		TotalCount: 100, GoodCount: 90, RejectCount: 10,
	})

	svc := NewCalculationService(repo, testLogger, testMetrics)
	result, err := svc.CalculateReport(context.Background(), reportID)
	if err != nil {
		t.Fatalf("Persistence failure must not surface as an error, got: %v", err)
	}
	if result.Computed != 0 {
		t.Errorf("Expected zero computed metrics after persistence failure, got %d", result.Computed)
	}
}
