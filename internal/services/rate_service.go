package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"oee-platform/internal/models"
	"oee-platform/internal/parser"
	"oee-platform/internal/repository"
	"oee-platform/pkg/logging"
	"oee-platform/pkg/metrics"
)

// RateService manages the standard-rate catalog. Every mutation fans out a
// background recalculation of historical reports containing the affected
// part, one fire-and-forget job per part.
type RateService struct {
	repo    repository.OeeRepository
	calc    *CalculationService
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// RateUploadResult summarizes a bulk rate upload
type RateUploadResult struct {
	Created       int      `json:"created"`
	Skipped       int      `json:"skipped"`
	AffectedParts []string `json:"affected_parts"`
}

// NewRateService creates a new rate catalog service
func NewRateService(repo repository.OeeRepository, calc *CalculationService, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *RateService {
	return &RateService{
		repo:    repo,
		calc:    calc,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// CreateRate adds a rate to the catalog and triggers recalculation
func (s *RateService) CreateRate(ctx context.Context, rate *models.StandardRate) error {
	now := time.Now().UTC()
	rate.CreatedAt = now
	rate.UpdatedAt = now
	if rate.EntryMode == "" {
		rate.EntryMode = models.EntryModeSeconds
	}
	if rate.CavityCount == 0 {
		rate.CavityCount = 1
	}
	if rate.StartDate.IsZero() {
		rate.StartDate = now.Truncate(24 * time.Hour)
	}

	if err := s.repo.CreateRate(ctx, rate); err != nil {
		return err
	}

	s.recalcParts(rate.PartNumber)
	return nil
}

// UpdateRate applies a rate edit with field-level audit records, then
// triggers recalculation for both the old and new part when it changed
func (s *RateService) UpdateRate(ctx context.Context, rate *models.StandardRate) error {
	existing, err := s.repo.GetRate(ctx, rate.ID)
	if err != nil {
		return err
	}

	rate.CreatedAt = existing.CreatedAt
	rate.UpdatedAt = time.Now().UTC()

	audits := diffRateFields(existing, rate)

	if err := s.repo.UpdateRate(ctx, rate); err != nil {
		return err
	}
	if err := s.repo.CreateRateAudits(ctx, audits); err != nil {
		// The edit itself succeeded; a failed audit write is logged, not
		// surfaced as a failure of the edit.
		s.logger.Error(ctx, "[RATE_AUDIT_ERROR] Failed to write rate audits", logging.Fields{
			"rate_id": rate.ID,
			"audits":  len(audits),
		}, err)
	}

	parts := []string{existing.PartNumber}
	if rate.PartNumber != existing.PartNumber {
		parts = append(parts, rate.PartNumber)
	}
	s.recalcParts(parts...)
	return nil
}

// DeleteRate removes a rate and triggers recalculation of its part
func (s *RateService) DeleteRate(ctx context.Context, id int64) error {
	rate, err := s.repo.GetRate(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteRate(ctx, id); err != nil {
		return err
	}
	s.recalcParts(rate.PartNumber)
	return nil
}

// rateUploadColumns maps bulk-upload headers to catalog fields. Matching is
// exact after trimming; these are the headers of the rate template sheet.
var rateUploadColumns = map[string]string{
	"PartNumber":            "part_number",
	"Workstation":           "machine",
	"StandardRatePPH":       "ideal_units_per_hour",
	"IdealCycleTimeSeconds": "ideal_cycle_time_seconds",
	"Cavities":              "cavity_count",
	"EntryMode":             "entry_mode",
	"MachineCycleTime":      "machine_cycle_time",
}

// BulkUpload ingests a rate template sheet, creating one catalog entry per
// row with a part number, then fanning out recalculation per affected part
func (s *RateService) BulkUpload(ctx context.Context, data []byte, filename string) (*RateUploadResult, error) {
	grid, err := parser.LoadGrid(data, filename)
	if err != nil {
		return nil, err
	}
	if len(grid) == 0 {
		return nil, fmt.Errorf("rate upload %s is empty", filename)
	}

	index := make(map[string]int)
	for i, col := range grid[0] {
		if field, ok := rateUploadColumns[strings.TrimSpace(col)]; ok {
			index[field] = i
		}
	}
	if _, ok := index["part_number"]; !ok {
		return nil, fmt.Errorf("rate upload %s is missing required column PartNumber", filename)
	}

	cell := func(row []string, field string) string {
		idx, ok := index[field]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	now := time.Now().UTC()
	result := &RateUploadResult{AffectedParts: make([]string, 0)}
	seen := make(map[string]bool)

	for _, row := range grid[1:] {
		partNumber := cell(row, "part_number")
		if partNumber == "" {
			result.Skipped++
			continue
		}

		rate := &models.StandardRate{
			PartNumber:  partNumber,
			StartDate:   now.Truncate(24 * time.Hour),
			Active:      true,
			CavityCount: 1,
			EntryMode:   models.EntryModeSeconds,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		if machine := cell(row, "machine"); machine != "" {
			rate.Machine = &machine
		}
		if v, ok := parsePositiveFloat(cell(row, "ideal_units_per_hour")); ok {
			rate.IdealUnitsPerHour = &v
		}
		if v, ok := parsePositiveFloat(cell(row, "ideal_cycle_time_seconds")); ok {
			rate.IdealCycleTimeSeconds = &v
		}
		if v, ok := parsePositiveFloat(cell(row, "cavity_count")); ok {
			rate.CavityCount = int(v)
		}
		if mode := cell(row, "entry_mode"); mode != "" {
			rate.EntryMode = mode
		}
		if v, ok := parsePositiveFloat(cell(row, "machine_cycle_time")); ok {
			rate.MachineCycleTime = &v
		}
		notes := "Bulk Upload"
		rate.Notes = &notes

		if err := s.repo.CreateRate(ctx, rate); err != nil {
			return nil, fmt.Errorf("failed to create rate for part %s: %w", partNumber, err)
		}
		result.Created++

		if !seen[partNumber] {
			seen[partNumber] = true
			result.AffectedParts = append(result.AffectedParts, partNumber)
		}
	}

	s.logger.Info(ctx, "[RATE_BULK_UPLOAD] Rate sheet ingested", logging.Fields{
		"filename":       filename,
		"created":        result.Created,
		"skipped":        result.Skipped,
		"affected_parts": len(result.AffectedParts),
	})

	s.recalcParts(result.AffectedParts...)
	return result, nil
}

func parsePositiveFloat(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// recalcParts launches one background recalculation job per affected part.
// Jobs are fire-and-forget with their own context, so the triggering request
// does not bound them and one job's failure cannot affect another's
// transaction.
func (s *RateService) recalcParts(parts ...string) {
	for _, part := range parts {
		if part == "" {
			continue
		}
		go s.recalcPart(part)
	}
}

func (s *RateService) recalcPart(partNumber string) {
	ctx := context.Background()

	reportIDs, err := s.repo.ReportIDsWithPart(ctx, partNumber)
	if err != nil {
		s.logger.Error(ctx, "[RECALC_LOOKUP_ERROR] Failed to find affected reports", logging.Fields{
			"part_number": partNumber,
		}, err)
		s.metrics.RecordRecalcJob("lookup_error")
		return
	}

	s.logger.Info(ctx, "[RECALC_START] Retroactive recalculation triggered", logging.Fields{
		"part_number":      partNumber,
		"affected_reports": len(reportIDs),
	})

	failures := 0
	for _, reportID := range reportIDs {
		if _, err := s.calc.CalculateReport(ctx, reportID); err != nil {
			failures++
			s.logger.Error(ctx, "[RECALC_REPORT_ERROR] Report recalculation failed", logging.Fields{
				"part_number": partNumber,
				"report_id":   reportID,
			}, err)
		}
	}

	if failures > 0 {
		s.metrics.RecordRecalcJob("partial_failure")
	} else {
		s.metrics.RecordRecalcJob("success")
	}

	s.logger.Info(ctx, "[RECALC_COMPLETE] Retroactive recalculation finished", logging.Fields{
		"part_number":      partNumber,
		"affected_reports": len(reportIDs),
		"failures":         failures,
	})
}

// diffRateFields produces one audit row per changed field
func diffRateFields(old, updated *models.StandardRate) []*models.RateAudit {
	now := time.Now().UTC()
	audits := make([]*models.RateAudit, 0)

	add := func(field, oldVal, newVal string) {
		if oldVal == newVal {
			return
		}
		o, n := oldVal, newVal
		audits = append(audits, &models.RateAudit{
			RateID:    old.ID,
			ChangedAt: now,
			FieldName: field,
			OldValue:  &o,
			NewValue:  &n,
		})
	}

	add("part_number", old.PartNumber, updated.PartNumber)
	add("machine", strPtrValue(old.Machine), strPtrValue(updated.Machine))
	add("operator", strPtrValue(old.Operator), strPtrValue(updated.Operator))
	add("job", strPtrValue(old.Job), strPtrValue(updated.Job))
	add("ideal_units_per_hour", floatPtrValue(old.IdealUnitsPerHour), floatPtrValue(updated.IdealUnitsPerHour))
	add("ideal_cycle_time_seconds", floatPtrValue(old.IdealCycleTimeSeconds), floatPtrValue(updated.IdealCycleTimeSeconds))
	add("start_date", old.StartDate.Format("2006-01-02"), updated.StartDate.Format("2006-01-02"))
	add("end_date", datePtrValue(old.EndDate), datePtrValue(updated.EndDate))
	add("active", strconv.FormatBool(old.Active), strconv.FormatBool(updated.Active))
	add("cavity_count", strconv.Itoa(old.CavityCount), strconv.Itoa(updated.CavityCount))
	add("entry_mode", old.EntryMode, updated.EntryMode)
	add("machine_cycle_time", floatPtrValue(old.MachineCycleTime), floatPtrValue(updated.MachineCycleTime))
	add("notes", strPtrValue(old.Notes), strPtrValue(updated.Notes))

	return audits
}

func strPtrValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func floatPtrValue(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}

func datePtrValue(p *time.Time) string {
	if p == nil {
		return ""
	}
	return p.Format("2006-01-02")
}
