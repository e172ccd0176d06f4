package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"oee-platform/internal/models"
	"oee-platform/pkg/logging"
)

// metricRow is the persistence shape of a computed metric; the diagnostics
// payload is stored as a JSON text column and decoded immediately on read
type metricRow struct {
	models.OeeMetric
	DiagnosticsJSON sql.NullString `db:"diagnostics"`
}

func (row *metricRow) toMetric() (*models.OeeMetric, error) {
	m := row.OeeMetric
	if row.DiagnosticsJSON.Valid && row.DiagnosticsJSON.String != "" {
		if err := json.Unmarshal([]byte(row.DiagnosticsJSON.String), &m.Diagnostics); err != nil {
			return nil, fmt.Errorf("failed to decode diagnostics for metric %d: %w", m.ID, err)
		}
	}
	return &m, nil
}

const metricColumns = `
	id, report_id, date, operator, machine, part_number, job, shift,
	availability, performance, quality, oee, confidence, diagnostics, created_at
`

// ReplaceReportMetrics replaces all computed metrics for one report. Delete
// and insert run in a single transaction so recalculation is idempotent and
// a crash never leaves a mix of stale and fresh rows.
func (r *oeeRepository) ReplaceReportMetrics(ctx context.Context, reportID int64, computed []*models.OeeMetric) error {
	timer := time.Now()
	defer func() {
		r.metrics.CalculationDuration.Observe(time.Since(timer).Seconds())
	}()

	err := r.db.WithinTx(ctx, "replace_report_metrics", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM oee_metrics WHERE report_id = $1", reportID); err != nil {
			return fmt.Errorf("failed to delete stale metrics: %w", err)
		}

		if len(computed) == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO oee_metrics (
				report_id, date, operator, machine, part_number, job, shift,
				availability, performance, quality, oee, confidence,
				diagnostics, created_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for _, m := range computed {
			data, err := json.Marshal(m.Diagnostics)
			if err != nil {
				return fmt.Errorf("failed to encode diagnostics: %w", err)
			}
			_, err = stmt.ExecContext(ctx,
				reportID,
				m.Date,
				m.Operator,
				m.Machine,
				m.PartNumber,
				m.Job,
				m.Shift,
				m.Availability,
				m.Performance,
				m.Quality,
				m.OEE,
				m.Confidence,
				string(data),
				now,
			)
			if err != nil {
				return fmt.Errorf("failed to insert metric: %w", err)
			}
		}
		return nil
	})

	if err != nil {
		return err
	}

	r.logger.Debug(ctx, "[REPO_REPLACE_METRICS] Report metrics replaced", logging.Fields{
		"report_id": reportID,
		"count":     len(computed),
	})

	return nil
}

// GetMetricsByReport retrieves all computed metrics for one report
func (r *oeeRepository) GetMetricsByReport(ctx context.Context, reportID int64) ([]*models.OeeMetric, error) {
	query := "SELECT " + metricColumns + `
		FROM oee_metrics
		WHERE report_id = $1
		ORDER BY id
	`

	var rows []*metricRow
	err := r.db.SelectContext(ctx, "get_metrics_by_report", &rows, query, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics: %w", err)
	}

	return decodeMetricRows(rows)
}

// GetMetricsByDateRange retrieves computed metrics in [start, end], with an
// optional shift filter ("All" or empty disables it)
func (r *oeeRepository) GetMetricsByDateRange(ctx context.Context, start, end time.Time, shift string) ([]*models.OeeMetric, error) {
	query := "SELECT " + metricColumns + `
		FROM oee_metrics
		WHERE date >= $1 AND date <= $2
	`
	args := []interface{}{start, end}

	if shift != "" && !strings.EqualFold(shift, "All") {
		query += " AND shift = $3"
		args = append(args, shift)
	}

	query += " ORDER BY date, id"

	var rows []*metricRow
	err := r.db.SelectContext(ctx, "get_metrics_by_date_range", &rows, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics: %w", err)
	}

	return decodeMetricRows(rows)
}

func decodeMetricRows(rows []*metricRow) ([]*models.OeeMetric, error) {
	result := make([]*models.OeeMetric, 0, len(rows))
	for _, row := range rows {
		m, err := row.toMetric()
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, nil
}

// AvgPerformanceForPartMachine returns the historical average performance of
// one (part, machine) pair across all reports
func (r *oeeRepository) AvgPerformanceForPartMachine(ctx context.Context, partNumber, machine string) (*PerformanceStat, error) {
	query := `
		SELECT COALESCE(AVG(performance), 0) AS avg_performance,
		       COUNT(*) AS run_count
		FROM oee_metrics
		WHERE part_number = $1 AND machine = $2
	`

	var stat PerformanceStat
	err := r.db.GetContext(ctx, "avg_performance_part_machine", &stat, query, partNumber, machine)
	if err != nil {
		return nil, fmt.Errorf("failed to get performance stats: %w", err)
	}

	return &stat, nil
}

// GetSetting retrieves one configuration entry
func (r *oeeRepository) GetSetting(ctx context.Context, key string) (*models.Setting, error) {
	query := "SELECT key, value, description FROM settings WHERE key = $1"

	var setting models.Setting
	err := r.db.GetContext(ctx, "get_setting", &setting, query, key)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "setting", ID: key}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get setting: %w", err)
	}

	return &setting, nil
}

// ListSettings retrieves all configuration entries
func (r *oeeRepository) ListSettings(ctx context.Context) ([]*models.Setting, error) {
	query := "SELECT key, value, description FROM settings ORDER BY key"

	var settings []*models.Setting
	err := r.db.SelectContext(ctx, "list_settings", &settings, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}

	return settings, nil
}

// UpsertSetting creates or updates a configuration entry
func (r *oeeRepository) UpsertSetting(ctx context.Context, setting *models.Setting) error {
	query := `
		INSERT INTO settings (key, value, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			description = COALESCE(EXCLUDED.description, settings.description)
	`

	_, err := r.db.ExecContext(ctx, "upsert_setting", query,
		setting.Key,
		setting.Value,
		setting.Description,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert setting: %w", err)
	}

	return nil
}
