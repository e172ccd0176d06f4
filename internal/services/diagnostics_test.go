package services

import (
	"strings"
	"testing"

	"oee-platform/internal/models"
)

func baseRun() *models.AggregatedRun {
	return &models.AggregatedRun{
		Key: models.RunKey{
			Operator: "Alice", Machine: "Press 3", PartNumber: "P-100",
		},
		PlannedTimeMin: 480,
		RunTimeMin:     450,
		DowntimeMin:    30,
		TotalCount:     100,
		GoodCount:      90,
		RejectCount:    10,
	}
}

func tagTypes(d models.Diagnostics) []string {
	types := make([]string, 0, len(d.Tags))
	for _, tag := range d.Tags {
		types = append(types, tag.Type)
	}
	return types
}

func TestBuildDiagnosticsTagOrder(t *testing.T) {
	// A run pathological enough to fire every per-run check at once
	run := baseRun()
	run.RunTimeMin = 30
	run.DowntimeMin = 90
	run.GoodCount = 50
	run.RejectCount = 50
	run.TotalCount = 100

	lowAvg := 0.5
	d := buildDiagnostics(diagnosticsInput{
		Run:            run,
		Performance:    0.5,
		PerformanceRaw: 0.5,
		CycleSeconds:   10,
		GlobalAvgPerf:  &lowAvg,
	}, defaultThresholds())

	want := []string{
		models.TagLowPerf,
		models.TagHighDowntime,
		models.TagHighScrap,
		models.TagShortRun,
		models.TagRateTooHigh,
	}
	got := tagTypes(d)
	if len(got) != len(want) {
		t.Fatalf("Expected tags %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Tag %d: expected %s, got %s (all: %v)", i, want[i], got[i], got)
		}
	}
}

func TestBuildDiagnosticsHighPerfAndRateTooLow(t *testing.T) {
	run := baseRun()
	highAvg := 1.08

	d := buildDiagnostics(diagnosticsInput{
		Run:            run,
		Performance:    1.10,
		PerformanceRaw: 1.10,
		CycleSeconds:   270,
		GlobalAvgPerf:  &highAvg,
	}, defaultThresholds())

	if !d.HasTag(models.TagHighPerf) {
		t.Error("Expected high_perf tag")
	}
	if !d.HasTag(models.TagRateTooLow) {
		t.Error("Expected rate_too_low tag")
	}
	if d.HasTag(models.TagLowPerf) {
		t.Error("Did not expect low_perf tag")
	}
}

func TestBuildDiagnosticsNoGlobalAverage(t *testing.T) {
	run := baseRun()

	d := buildDiagnostics(diagnosticsInput{
		Run:            run,
		Performance:    1.0,
		PerformanceRaw: 1.0,
		CycleSeconds:   270,
	}, defaultThresholds())

	if d.HasTag(models.TagRateTooHigh) || d.HasTag(models.TagRateTooLow) {
		t.Errorf("Rate sanity tags require a global average, got %v", tagTypes(d))
	}
}

func TestBuildDiagnosticsTargetCount(t *testing.T) {
	run := baseRun() // 450 min = 27000 s

	d := buildDiagnostics(diagnosticsInput{
		Run:          run,
		CycleSeconds: 280,
	}, defaultThresholds())

	if d.TargetCount != 96 { // floor(27000/280)
		t.Errorf("Expected target count 96, got %d", d.TargetCount)
	}

	d = buildDiagnostics(diagnosticsInput{Run: run}, defaultThresholds())
	if d.TargetCount != 0 {
		t.Errorf("Expected zero target count without a cycle, got %d", d.TargetCount)
	}
}

func TestBuildDiagnosticsWarningPrecedence(t *testing.T) {
	run := baseRun()

	// Missing rate takes precedence over the OEE > 100% warning
	d := buildDiagnostics(diagnosticsInput{
		Run:           run,
		OEE:           1.2,
		MissingRateID: "P-100 (Machine: Press 3)",
	}, defaultThresholds())

	if !strings.HasPrefix(d.Warning, "No Rate found for") {
		t.Errorf("Expected missing-rate warning, got %q", d.Warning)
	}

	d = buildDiagnostics(diagnosticsInput{
		Run: run,
		OEE: 1.2,
	}, defaultThresholds())
	if d.Warning != msgOeeOver100 {
		t.Errorf("Expected OEE warning, got %q", d.Warning)
	}

	cfg := defaultThresholds()
	cfg.ShowOeeWarning = false
	d = buildDiagnostics(diagnosticsInput{Run: run, OEE: 1.2}, cfg)
	if d.Warning != "" {
		t.Errorf("Expected no warning when disabled, got %q", d.Warning)
	}
}

func TestPerformanceInsight(t *testing.T) {
	tests := []struct {
		name    string
		perfRaw float64
		want    string
	}{
		{"within band", 1.0, ""},
		{"high output", 1.3, "High Output (>125%): Verify Std vs Speed"},
		{"low output", 0.5, "Low Output (<75%): Verify Std vs Speed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := performanceInsight(tt.perfRaw, 25.0); got != tt.want {
				t.Errorf("performanceInsight(%f) = %q, want %q", tt.perfRaw, got, tt.want)
			}
		})
	}
}
