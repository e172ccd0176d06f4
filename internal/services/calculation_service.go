package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"oee-platform/internal/models"
	"oee-platform/internal/repository"
	"oee-platform/pkg/logging"
	"oee-platform/pkg/metrics"
)

// CalculationService computes OEE metrics per report. Recomputation is
// idempotent and destructive: existing metric rows for the report are
// replaced wholesale inside one transaction.
type CalculationService struct {
	repo     repository.OeeRepository
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
	settings settingsReader
}

// CalculationResult reports what one calculation pass produced. A zero
// Computed count can mean a persistence failure, not just an empty report;
// callers must check the count rather than rely on the absence of an error.
type CalculationResult struct {
	ReportID               int64    `json:"report_id"`
	Computed               int      `json:"computed"`
	MissingRates           int      `json:"missing_rates"`
	MissingRateIdentifiers []string `json:"missing_rate_identifiers"`
}

// NewCalculationService creates a new calculation service
func NewCalculationService(repo repository.OeeRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *CalculationService {
	return &CalculationService{
		repo:     repo,
		logger:   logger,
		metrics:  metricsCollector,
		settings: settingsReader{repo: repo, logger: logger},
	}
}

// CalculateReport recomputes all OEE metrics for one report
func (s *CalculationService) CalculateReport(ctx context.Context, reportID int64) (*CalculationResult, error) {
	startTime := time.Now()

	s.logger.Info(ctx, "[CALC_START] Starting OEE calculation", logging.Fields{
		"report_id": reportID,
		"stage":     "INITIALIZATION",
	})

	cfg := s.settings.load(ctx)

	entries, err := s.repo.GetEntriesByReport(ctx, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to load report entries: %w", err)
	}

	runs := models.AggregateRecords(entries)

	result := &CalculationResult{
		ReportID:               reportID,
		MissingRateIdentifiers: make([]string, 0),
	}

	missing := make(map[string]bool)
	perfCache := make(map[string]*float64)
	computed := make([]*models.OeeMetric, 0, len(runs))

	for _, run := range runs {
		run.SelfHeal()
		metric := s.computeRun(ctx, run, cfg, missing, perfCache)
		computed = append(computed, metric)
	}

	if err := s.repo.ReplaceReportMetrics(ctx, reportID, computed); err != nil {
		// Persistence failure yields zero computed metrics, not an error;
		// the transaction rolled back so no stale/fresh mix exists.
		s.logger.Error(ctx, "[CALC_PERSIST_ERROR] Failed to persist computed metrics", logging.Fields{
			"report_id": reportID,
			"runs":      len(computed),
			"stage":     "PERSISTENCE",
		}, err)
		return result, nil
	}

	result.Computed = len(computed)
	result.MissingRates = len(missing)
	for id := range missing {
		result.MissingRateIdentifiers = append(result.MissingRateIdentifiers, id)
	}
	sort.Strings(result.MissingRateIdentifiers)

	s.metrics.RunsComputedTotal.Add(float64(result.Computed))
	s.metrics.MissingRatesTotal.Add(float64(result.MissingRates))

	s.logger.Info(ctx, "[CALC_COMPLETE] OEE calculation completed", logging.Fields{
		"report_id":     reportID,
		"computed":      result.Computed,
		"missing_rates": result.MissingRates,
		"duration_ms":   time.Since(startTime).Milliseconds(),
		"stage":         "COMPLETE",
	})

	return result, nil
}

// computeRun computes one aggregated run's metric and diagnostics
func (s *CalculationService) computeRun(ctx context.Context, run *models.AggregatedRun, cfg Thresholds, missing map[string]bool, perfCache map[string]*float64) *models.OeeMetric {
	key := run.Key

	rate := s.resolveRunRate(ctx, key)

	var cycleSeconds float64
	missingRateID := ""
	matchedMachine := ""
	confidence := models.ConfidenceHigh

	if rate == nil {
		missingRateID = fmt.Sprintf("%s (Machine: %s)", key.PartNumber, key.Machine)
		missing[missingRateID] = true
		confidence = models.ConfidenceLow
	} else {
		cycleSeconds = rate.CycleSeconds()
		matchedMachine = rate.MachineName()
	}

	runSec := run.RunTimeMin * 60
	plannedSec := run.PlannedTimeMin * 60

	availability := 0.0
	if plannedSec > 0 {
		availability = runSec / plannedSec
	}

	performanceRaw := 0.0
	if runSec > 0 {
		performanceRaw = cycleSeconds * float64(run.TotalCount) / runSec
	}
	performance := math.Min(performanceRaw, cfg.PerformanceCap)

	quality := 0.0
	if run.TotalCount > 0 {
		quality = float64(run.GoodCount) / float64(run.TotalCount)
	}

	oee := availability * performance * quality

	metric := &models.OeeMetric{
		Date:         key.Date,
		Operator:     key.Operator,
		Machine:      key.Machine,
		PartNumber:   key.PartNumber,
		Job:          key.Job,
		Shift:        key.Shift,
		Availability: round4(availability),
		Performance:  round4(performance),
		Quality:      round4(quality),
		OEE:          round4(oee),
		Confidence:   confidence,
	}

	metric.Diagnostics = buildDiagnostics(diagnosticsInput{
		Run:            run,
		Performance:    metric.Performance,
		PerformanceRaw: performanceRaw,
		OEE:            metric.OEE,
		CycleSeconds:   cycleSeconds,
		MissingRateID:  missingRateID,
		MatchedMachine: matchedMachine,
		GlobalAvgPerf:  s.globalAvgPerf(ctx, key.PartNumber, key.Machine, perfCache),
	}, cfg)

	return metric
}

// resolveRunRate loads the active candidates for the run's part and applies
// the tie-break. Resolution never fails the calculation: a lookup error
// degrades to the missing-rate path.
func (s *CalculationService) resolveRunRate(ctx context.Context, key models.RunKey) *models.StandardRate {
	candidates, err := s.repo.ActiveRatesByPart(ctx, key.PartNumber, key.Date)
	if err != nil {
		s.logger.Warn(ctx, "[CALC_RATE_LOOKUP] Rate lookup failed, treating as missing", logging.Fields{
			"part_number": key.PartNumber,
			"machine":     key.Machine,
		})
		return nil
	}
	return ResolveRate(candidates, key.Machine)
}

// globalAvgPerf returns the historical average performance for a
// (part, machine) pair, memoized per calculation pass. Nil when no history
// exists or the lookup fails.
func (s *CalculationService) globalAvgPerf(ctx context.Context, partNumber, machine string, cache map[string]*float64) *float64 {
	cacheKey := partNumber + "|" + machine
	if avg, ok := cache[cacheKey]; ok {
		return avg
	}

	var avg *float64
	stat, err := s.repo.AvgPerformanceForPartMachine(ctx, partNumber, machine)
	if err == nil && stat.RunCount > 0 {
		v := stat.AvgPerformance
		avg = &v
	}

	cache[cacheKey] = avg
	return avg
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
