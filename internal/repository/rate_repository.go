package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"oee-platform/internal/models"
	"oee-platform/pkg/logging"
)

const rateColumns = `
	id, part_number, machine, operator, job,
	ideal_units_per_hour, ideal_cycle_time_seconds,
	start_date, end_date, active, cavity_count, entry_mode,
	machine_cycle_time, notes, created_at, updated_at
`

// CreateRate creates a new rate catalog entry
func (r *oeeRepository) CreateRate(ctx context.Context, rate *models.StandardRate) error {
	query := `
		INSERT INTO standard_rates (
			part_number, machine, operator, job,
			ideal_units_per_hour, ideal_cycle_time_seconds,
			start_date, end_date, active, cavity_count, entry_mode,
			machine_cycle_time, notes, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id
	`

	err := r.db.DB().QueryRowContext(ctx, query,
		rate.PartNumber,
		rate.Machine,
		rate.Operator,
		rate.Job,
		rate.IdealUnitsPerHour,
		rate.IdealCycleTimeSeconds,
		rate.StartDate,
		rate.EndDate,
		rate.Active,
		rate.CavityCount,
		rate.EntryMode,
		rate.MachineCycleTime,
		rate.Notes,
		rate.CreatedAt,
		rate.UpdatedAt,
	).Scan(&rate.ID)

	if err != nil {
		return fmt.Errorf("failed to create rate: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_CREATE_RATE] Rate created", logging.Fields{
		"rate_id":     rate.ID,
		"part_number": rate.PartNumber,
	})

	return nil
}

// GetRate retrieves a rate catalog entry by ID
func (r *oeeRepository) GetRate(ctx context.Context, id int64) (*models.StandardRate, error) {
	query := "SELECT " + rateColumns + " FROM standard_rates WHERE id = $1"

	var rate models.StandardRate
	err := r.db.GetContext(ctx, "get_rate", &rate, query, id)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{
			Resource: "standard_rate",
			ID:       fmt.Sprintf("%d", id),
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get rate: %w", err)
	}

	return &rate, nil
}

// ListRates retrieves rate catalog entries with filtering and pagination
func (r *oeeRepository) ListRates(ctx context.Context, filter RateFilter) ([]*models.StandardRate, int, error) {
	query := "SELECT " + rateColumns + " FROM standard_rates WHERE 1=1"
	args := []interface{}{}
	argNum := 1

	if filter.PartNumber != nil {
		query += fmt.Sprintf(" AND part_number = $%d", argNum)
		args = append(args, *filter.PartNumber)
		argNum++
	}

	if filter.Active != nil {
		query += fmt.Sprintf(" AND active = $%d", argNum)
		args = append(args, *filter.Active)
		argNum++
	}

	countQuery := "SELECT COUNT(*) FROM (" + query + ") AS count_query"
	var totalCount int
	err := r.db.GetContext(ctx, "count_rates", &totalCount, countQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count rates: %w", err)
	}

	query += " ORDER BY part_number, id"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	var rates []*models.StandardRate
	err = r.db.SelectContext(ctx, "list_rates", &rates, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list rates: %w", err)
	}

	return rates, totalCount, nil
}

// UpdateRate rewrites a rate catalog entry
func (r *oeeRepository) UpdateRate(ctx context.Context, rate *models.StandardRate) error {
	query := `
		UPDATE standard_rates SET
			part_number = $1, machine = $2, operator = $3, job = $4,
			ideal_units_per_hour = $5, ideal_cycle_time_seconds = $6,
			start_date = $7, end_date = $8, active = $9,
			cavity_count = $10, entry_mode = $11, machine_cycle_time = $12,
			notes = $13, updated_at = $14
		WHERE id = $15
	`

	result, err := r.db.ExecContext(ctx, "update_rate", query,
		rate.PartNumber,
		rate.Machine,
		rate.Operator,
		rate.Job,
		rate.IdealUnitsPerHour,
		rate.IdealCycleTimeSeconds,
		rate.StartDate,
		rate.EndDate,
		rate.Active,
		rate.CavityCount,
		rate.EntryMode,
		rate.MachineCycleTime,
		rate.Notes,
		rate.UpdatedAt,
		rate.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update rate: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return &NotFoundError{Resource: "standard_rate", ID: fmt.Sprintf("%d", rate.ID)}
	}

	return nil
}

// DeleteRate removes a rate and its audit trail in one transaction
func (r *oeeRepository) DeleteRate(ctx context.Context, id int64) error {
	return r.db.WithinTx(ctx, "delete_rate", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM rate_audits WHERE rate_id = $1", id); err != nil {
			return fmt.Errorf("failed to delete rate audits: %w", err)
		}
		result, err := tx.ExecContext(ctx, "DELETE FROM standard_rates WHERE id = $1", id)
		if err != nil {
			return fmt.Errorf("failed to delete rate: %w", err)
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return &NotFoundError{Resource: "standard_rate", ID: fmt.Sprintf("%d", id)}
		}
		return nil
	})
}

// ActiveRatesByPart returns the active rate candidates for a part whose
// effective window covers asOf, in catalog iteration order
func (r *oeeRepository) ActiveRatesByPart(ctx context.Context, partNumber string, asOf time.Time) ([]*models.StandardRate, error) {
	query := "SELECT " + rateColumns + `
		FROM standard_rates
		WHERE part_number = $1
		  AND active = TRUE
		  AND start_date <= $2
		  AND (end_date IS NULL OR end_date >= $2)
		ORDER BY id
	`

	var rates []*models.StandardRate
	err := r.db.SelectContext(ctx, "active_rates_by_part", &rates, query, partNumber, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to get active rates: %w", err)
	}

	return rates, nil
}

// CreateRateAudits inserts all field-level audit rows of one rate change in
// a single transaction
func (r *oeeRepository) CreateRateAudits(ctx context.Context, audits []*models.RateAudit) error {
	if len(audits) == 0 {
		return nil
	}

	return r.db.WithinTx(ctx, "create_rate_audits", func(tx *sqlx.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO rate_audits (rate_id, changed_at, field_name, old_value, new_value)
			VALUES ($1, $2, $3, $4, $5)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, audit := range audits {
			_, err := stmt.ExecContext(ctx,
				audit.RateID,
				audit.ChangedAt,
				audit.FieldName,
				audit.OldValue,
				audit.NewValue,
			)
			if err != nil {
				return fmt.Errorf("failed to insert rate audit: %w", err)
			}
		}
		return nil
	})
}

// GetRateAudits retrieves the audit trail for one rate, newest first
func (r *oeeRepository) GetRateAudits(ctx context.Context, rateID int64) ([]*models.RateAudit, error) {
	query := `
		SELECT id, rate_id, changed_at, field_name, old_value, new_value
		FROM rate_audits
		WHERE rate_id = $1
		ORDER BY changed_at DESC, id DESC
	`

	var audits []*models.RateAudit
	err := r.db.SelectContext(ctx, "get_rate_audits", &audits, query, rateID)
	if err != nil {
		return nil, fmt.Errorf("failed to get rate audits: %w", err)
	}

	return audits, nil
}
