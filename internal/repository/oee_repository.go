package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"oee-platform/internal/models"
	"oee-platform/pkg/database"
	"oee-platform/pkg/logging"
	"oee-platform/pkg/metrics"
)

// OeeRepository provides data access for production reports, rate catalog
// entries, computed metrics, and settings
type OeeRepository interface {
	// Report operations
	CreateReport(ctx context.Context, report *models.Report) error
	GetReport(ctx context.Context, id int64) (*models.Report, error)
	ListReports(ctx context.Context, limit, offset int) ([]*models.Report, int, error)
	RenameReport(ctx context.Context, id int64, filename string) error
	DeleteReport(ctx context.Context, id int64) error

	// Entry operations
	CreateEntriesBatch(ctx context.Context, reportID int64, records []*models.ProductionRecord) error
	GetEntriesByReport(ctx context.Context, reportID int64) ([]*models.ProductionRecord, error)
	GetEntry(ctx context.Context, id int64) (*models.ProductionRecord, error)
	UpdateEntry(ctx context.Context, rec *models.ProductionRecord) error
	DeleteEntry(ctx context.Context, id int64) error
	ReportIDsWithPart(ctx context.Context, partNumber string) ([]int64, error)

	// Rate catalog operations
	CreateRate(ctx context.Context, rate *models.StandardRate) error
	GetRate(ctx context.Context, id int64) (*models.StandardRate, error)
	ListRates(ctx context.Context, filter RateFilter) ([]*models.StandardRate, int, error)
	UpdateRate(ctx context.Context, rate *models.StandardRate) error
	DeleteRate(ctx context.Context, id int64) error
	ActiveRatesByPart(ctx context.Context, partNumber string, asOf time.Time) ([]*models.StandardRate, error)
	CreateRateAudits(ctx context.Context, audits []*models.RateAudit) error
	GetRateAudits(ctx context.Context, rateID int64) ([]*models.RateAudit, error)

	// Metric operations
	ReplaceReportMetrics(ctx context.Context, reportID int64, computed []*models.OeeMetric) error
	GetMetricsByReport(ctx context.Context, reportID int64) ([]*models.OeeMetric, error)
	GetMetricsByDateRange(ctx context.Context, start, end time.Time, shift string) ([]*models.OeeMetric, error)
	AvgPerformanceForPartMachine(ctx context.Context, partNumber, machine string) (*PerformanceStat, error)

	// Settings operations
	GetSetting(ctx context.Context, key string) (*models.Setting, error)
	ListSettings(ctx context.Context) ([]*models.Setting, error)
	UpsertSetting(ctx context.Context, setting *models.Setting) error

	// Utility operations
	HealthCheck(ctx context.Context) error
}

// RateFilter defines filters for querying the rate catalog
type RateFilter struct {
	PartNumber *string
	Active     *bool
	Limit      int
	Offset     int
}

// PerformanceStat is the historical performance summary for one
// (part, machine) pair, used for rate sanity diagnostics
type PerformanceStat struct {
	AvgPerformance float64 `db:"avg_performance"`
	RunCount       int     `db:"run_count"`
}

// oeeRepository implements OeeRepository
type oeeRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewOeeRepository creates a new production data repository
func NewOeeRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) OeeRepository {
	return &oeeRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// CreateReport creates a new production report
func (r *oeeRepository) CreateReport(ctx context.Context, report *models.Report) error {
	query := `
		INSERT INTO production_reports (filename, uploaded_at)
		VALUES ($1, $2)
		RETURNING id
	`

	err := r.db.DB().QueryRowContext(ctx, query,
		report.Filename,
		report.UploadedAt,
	).Scan(&report.ID)

	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_CREATE_REPORT] Report created", logging.Fields{
		"report_id": report.ID,
		"filename":  report.Filename,
	})

	return nil
}

// GetReport retrieves a production report by ID
func (r *oeeRepository) GetReport(ctx context.Context, id int64) (*models.Report, error) {
	query := `
		SELECT id, filename, uploaded_at
		FROM production_reports
		WHERE id = $1
	`

	var report models.Report
	err := r.db.GetContext(ctx, "get_report", &report, query, id)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{
			Resource: "production_report",
			ID:       fmt.Sprintf("%d", id),
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	return &report, nil
}

// RenameReport updates a report's filename
func (r *oeeRepository) RenameReport(ctx context.Context, id int64, filename string) error {
	result, err := r.db.ExecContext(ctx, "rename_report",
		"UPDATE production_reports SET filename = $1 WHERE id = $2", filename, id)
	if err != nil {
		return fmt.Errorf("failed to rename report: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rename result: %w", err)
	}
	if affected == 0 {
		return &NotFoundError{
			Resource: "production_report",
			ID:       fmt.Sprintf("%d", id),
		}
	}

	return nil
}

// ListReports retrieves production reports with pagination, newest first
func (r *oeeRepository) ListReports(ctx context.Context, limit, offset int) ([]*models.Report, int, error) {
	var totalCount int
	err := r.db.GetContext(ctx, "count_reports", &totalCount,
		"SELECT COUNT(*) FROM production_reports")
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count reports: %w", err)
	}

	query := `
		SELECT id, filename, uploaded_at
		FROM production_reports
		ORDER BY uploaded_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`

	var reports []*models.Report
	err = r.db.SelectContext(ctx, "list_reports", &reports, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list reports: %w", err)
	}

	return reports, totalCount, nil
}

// DeleteReport removes a report and everything derived from it. The cascade
// metrics -> entries -> report runs in one transaction; the schema does not
// cascade implicitly.
func (r *oeeRepository) DeleteReport(ctx context.Context, id int64) error {
	err := r.db.WithinTx(ctx, "delete_report", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM oee_metrics WHERE report_id = $1", id); err != nil {
			return fmt.Errorf("failed to delete report metrics: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM report_entries WHERE report_id = $1", id); err != nil {
			return fmt.Errorf("failed to delete report entries: %w", err)
		}
		result, err := tx.ExecContext(ctx, "DELETE FROM production_reports WHERE id = $1", id)
		if err != nil {
			return fmt.Errorf("failed to delete report: %w", err)
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return &NotFoundError{Resource: "production_report", ID: fmt.Sprintf("%d", id)}
		}
		return nil
	})

	if err != nil {
		return err
	}

	r.logger.Info(ctx, "[REPO_DELETE_REPORT] Report and derived rows deleted", logging.Fields{
		"report_id": id,
	})

	return nil
}

// entryRow is the persistence shape of a production record; downtime events
// are stored as a JSON text column
type entryRow struct {
	models.ProductionRecord
	DowntimeEventsJSON sql.NullString `db:"downtime_events"`
}

func (row *entryRow) toRecord() (*models.ProductionRecord, error) {
	rec := row.ProductionRecord
	if row.DowntimeEventsJSON.Valid && row.DowntimeEventsJSON.String != "" {
		if err := json.Unmarshal([]byte(row.DowntimeEventsJSON.String), &rec.DowntimeEvents); err != nil {
			return nil, fmt.Errorf("failed to decode downtime events for entry %d: %w", rec.ID, err)
		}
	}
	return &rec, nil
}

func encodeDowntimeEvents(events []models.DowntimeEvent) (sql.NullString, error) {
	if len(events) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(events)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode downtime events: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// CreateEntriesBatch inserts all canonical records of one report in a single
// transaction
func (r *oeeRepository) CreateEntriesBatch(ctx context.Context, reportID int64, records []*models.ProductionRecord) error {
	if len(records) == 0 {
		return nil
	}

	timer := time.Now()
	defer func() {
		duration := time.Since(timer)
		r.metrics.IngestionBatchSize.Observe(float64(len(records)))
		r.logger.Debug(ctx, "[REPO_BATCH_INSERT] Entry batch insert completed", logging.Fields{
			"report_id":   reportID,
			"count":       len(records),
			"duration_ms": duration.Milliseconds(),
		})
	}()

	err := r.db.WithinTx(ctx, "create_entries_batch", func(tx *sqlx.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO report_entries (
				report_id, date, operator, machine, part_number, job, shift,
				planned_production_time_min, run_time_min, downtime_min,
				total_count, good_count, reject_count, downtime_events, created_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for _, rec := range records {
			events, err := encodeDowntimeEvents(rec.DowntimeEvents)
			if err != nil {
				return err
			}
			_, err = stmt.ExecContext(ctx,
				reportID,
				rec.Date,
				rec.Operator,
				rec.Machine,
				rec.PartNumber,
				rec.Job,
				rec.Shift,
				rec.PlannedTimeMin,
				rec.RunTimeMin,
				rec.DowntimeMin,
				rec.TotalCount,
				rec.GoodCount,
				rec.RejectCount,
				events,
				now,
			)
			if err != nil {
				return fmt.Errorf("failed to insert entry: %w", err)
			}
		}
		return nil
	})

	if err != nil {
		return err
	}

	r.metrics.IngestionRecordsTotal.Add(float64(len(records)))

	return nil
}

// GetEntriesByReport retrieves all canonical records for one report in
// insertion order
func (r *oeeRepository) GetEntriesByReport(ctx context.Context, reportID int64) ([]*models.ProductionRecord, error) {
	query := `
		SELECT id, report_id, date, operator, machine, part_number, job, shift,
		       planned_production_time_min, run_time_min, downtime_min,
		       total_count, good_count, reject_count, downtime_events, created_at
		FROM report_entries
		WHERE report_id = $1
		ORDER BY id
	`

	var rows []*entryRow
	err := r.db.SelectContext(ctx, "get_entries_by_report", &rows, query, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to get entries: %w", err)
	}

	records := make([]*models.ProductionRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, nil
}

// GetEntry retrieves a single canonical record
func (r *oeeRepository) GetEntry(ctx context.Context, id int64) (*models.ProductionRecord, error) {
	query := `
		SELECT id, report_id, date, operator, machine, part_number, job, shift,
		       planned_production_time_min, run_time_min, downtime_min,
		       total_count, good_count, reject_count, downtime_events, created_at
		FROM report_entries
		WHERE id = $1
	`

	var row entryRow
	err := r.db.GetContext(ctx, "get_entry", &row, query, id)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{
			Resource: "report_entry",
			ID:       fmt.Sprintf("%d", id),
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}

	return row.toRecord()
}

// UpdateEntry rewrites an edited canonical record
func (r *oeeRepository) UpdateEntry(ctx context.Context, rec *models.ProductionRecord) error {
	events, err := encodeDowntimeEvents(rec.DowntimeEvents)
	if err != nil {
		return err
	}

	query := `
		UPDATE report_entries SET
			date = $1, operator = $2, machine = $3, part_number = $4,
			job = $5, shift = $6,
			planned_production_time_min = $7, run_time_min = $8, downtime_min = $9,
			total_count = $10, good_count = $11, reject_count = $12,
			downtime_events = $13
		WHERE id = $14
	`

	result, err := r.db.ExecContext(ctx, "update_entry", query,
		rec.Date,
		rec.Operator,
		rec.Machine,
		rec.PartNumber,
		rec.Job,
		rec.Shift,
		rec.PlannedTimeMin,
		rec.RunTimeMin,
		rec.DowntimeMin,
		rec.TotalCount,
		rec.GoodCount,
		rec.RejectCount,
		events,
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update entry: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return &NotFoundError{Resource: "report_entry", ID: fmt.Sprintf("%d", rec.ID)}
	}

	return nil
}

// DeleteEntry removes a single canonical record
func (r *oeeRepository) DeleteEntry(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, "delete_entry",
		"DELETE FROM report_entries WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return &NotFoundError{Resource: "report_entry", ID: fmt.Sprintf("%d", id)}
	}

	return nil
}

// ReportIDsWithPart returns the IDs of every report containing the given
// part, used to fan out recalculation after a rate change
func (r *oeeRepository) ReportIDsWithPart(ctx context.Context, partNumber string) ([]int64, error) {
	query := `
		SELECT DISTINCT report_id
		FROM report_entries
		WHERE part_number = $1
		ORDER BY report_id
	`

	var ids []int64
	err := r.db.SelectContext(ctx, "report_ids_with_part", &ids, query, partNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to find reports for part: %w", err)
	}

	return ids, nil
}

// HealthCheck performs a repository health check
func (r *oeeRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}
