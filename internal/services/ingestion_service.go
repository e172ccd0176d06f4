package services

import (
	"context"
	"fmt"
	"time"

	"oee-platform/internal/models"
	"oee-platform/internal/parser"
	"oee-platform/internal/repository"
	"oee-platform/pkg/logging"
	"oee-platform/pkg/metrics"
)

// IngestionService turns uploaded spreadsheets into persisted canonical
// production records
type IngestionService struct {
	repo    repository.OeeRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// IngestResult contains ingestion statistics for one upload
type IngestResult struct {
	Report    *models.Report             `json:"report"`
	Records   int                        `json:"records"`
	Strategy  parser.Strategy            `json:"strategy"`
	Preview   []*models.ProductionRecord `json:"preview"`
	RowErrors []string                   `json:"row_errors,omitempty"`
}

// NewIngestionService creates a new ingestion service
func NewIngestionService(repo repository.OeeRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *IngestionService {
	return &IngestionService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// IngestReport parses one uploaded file and persists a new report with its
// canonical records. A SchemaError propagates before anything is written.
func (s *IngestionService) IngestReport(ctx context.Context, data []byte, filename string) (*IngestResult, error) {
	startTime := time.Now()
	defer func() {
		s.metrics.IngestionDuration.Observe(time.Since(startTime).Seconds())
	}()

	s.logger.Info(ctx, "[INGEST_START] Starting report ingestion", logging.Fields{
		"filename": filename,
		"bytes":    len(data),
		"stage":    "INITIALIZATION",
	})

	parsed, err := parser.Parse(data, filename, startTime.UTC())
	if err != nil {
		s.logger.Error(ctx, "[INGEST_PARSE_ERROR] Upload could not be parsed", logging.Fields{
			"filename": filename,
			"stage":    "PARSING",
		}, err)
		s.metrics.RecordIngestionError("parse_error")
		return nil, err
	}

	for _, rowErr := range parsed.RowErrors {
		s.logger.Warn(ctx, "[INGEST_ROW_SKIPPED] Row failed to parse", logging.Fields{
			"filename": filename,
			"row":      rowErr.Row,
			"error":    rowErr.Err.Error(),
		})
		s.metrics.RecordIngestionError("row_error")
	}

	report := &models.Report{
		Filename:   filename,
		UploadedAt: startTime.UTC(),
	}
	if err := s.repo.CreateReport(ctx, report); err != nil {
		return nil, err
	}

	if err := s.repo.CreateEntriesBatch(ctx, report.ID, parsed.Records); err != nil {
		s.metrics.RecordIngestionError("persist_error")
		return nil, fmt.Errorf("failed to persist report entries: %w", err)
	}

	result := &IngestResult{
		Report:    report,
		Records:   len(parsed.Records),
		Strategy:  parsed.Strategy,
		Preview:   parsed.Preview,
		RowErrors: make([]string, 0, len(parsed.RowErrors)),
	}
	for _, rowErr := range parsed.RowErrors {
		result.RowErrors = append(result.RowErrors, fmt.Sprintf("row %d: %v", rowErr.Row, rowErr.Err))
	}

	s.logger.Info(ctx, "[INGEST_COMPLETE] Report ingested", logging.Fields{
		"report_id":   report.ID,
		"filename":    filename,
		"records":     result.Records,
		"strategy":    string(result.Strategy),
		"row_errors":  len(result.RowErrors),
		"duration_ms": time.Since(startTime).Milliseconds(),
		"stage":       "COMPLETE",
	})

	return result, nil
}

// UpdateEntry applies an explicit edit to one canonical record, recomputing
// the derived totals the same way ingestion does, then returns the record
func (s *IngestionService) UpdateEntry(ctx context.Context, rec *models.ProductionRecord) (*models.ProductionRecord, error) {
	rec.Normalize()
	if err := s.repo.UpdateEntry(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// CreateEntry adds one manually-entered record to an existing report, with
// the same derived-field normalization as an edit
func (s *IngestionService) CreateEntry(ctx context.Context, reportID int64, rec *models.ProductionRecord) (*models.ProductionRecord, error) {
	rec.Normalize()
	if rec.Date.IsZero() {
		now := time.Now().UTC()
		rec.Date = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
	if err := s.repo.CreateEntriesBatch(ctx, reportID, []*models.ProductionRecord{rec}); err != nil {
		return nil, err
	}
	return rec, nil
}
