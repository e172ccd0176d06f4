package models

import (
	"time"
)

// Rate entry modes accepted by the catalog
const (
	EntryModeSeconds    = "seconds"
	EntryModePartsShift = "parts_shift"
	EntryModeHeatsShift = "heats_shift"
)

// StandardRate defines the ideal production rate for a part, optionally
// scoped to a machine and operator. Many rates may exist per part; machine
// disambiguation happens at resolution time.
type StandardRate struct {
	ID                    int64      `json:"id" db:"id"`
	PartNumber            string     `json:"part_number" db:"part_number"`
	Machine               *string    `json:"machine,omitempty" db:"machine"`
	Operator              *string    `json:"operator,omitempty" db:"operator"`
	Job                   *string    `json:"job,omitempty" db:"job"`
	IdealUnitsPerHour     *float64   `json:"ideal_units_per_hour,omitempty" db:"ideal_units_per_hour"`
	IdealCycleTimeSeconds *float64   `json:"ideal_cycle_time_seconds,omitempty" db:"ideal_cycle_time_seconds"`
	StartDate             time.Time  `json:"start_date" db:"start_date"`
	EndDate               *time.Time `json:"end_date,omitempty" db:"end_date"`
	Active                bool       `json:"active" db:"active"`
	CavityCount           int        `json:"cavity_count" db:"cavity_count"`
	EntryMode             string     `json:"entry_mode" db:"entry_mode"`
	MachineCycleTime      *float64   `json:"machine_cycle_time,omitempty" db:"machine_cycle_time"`
	Notes                 *string    `json:"notes,omitempty" db:"notes"`
	CreatedAt             time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at" db:"updated_at"`
}

// CycleSeconds returns the effective ideal cycle time in seconds: the stored
// cycle when present, else derived from units per hour (cycle = 3600/units),
// else 0. The derived value is never written back without an audit record.
func (r *StandardRate) CycleSeconds() float64 {
	if r.IdealCycleTimeSeconds != nil && *r.IdealCycleTimeSeconds > 0 {
		return *r.IdealCycleTimeSeconds
	}
	if r.IdealUnitsPerHour != nil && *r.IdealUnitsPerHour > 0 {
		return 3600.0 / *r.IdealUnitsPerHour
	}
	return 0
}

// MachineName returns the scoped machine name or "" when unscoped
func (r *StandardRate) MachineName() string {
	if r.Machine == nil {
		return ""
	}
	return *r.Machine
}

// RateAudit records one field-level change to a standard rate
type RateAudit struct {
	ID        int64     `json:"id" db:"id"`
	RateID    int64     `json:"rate_id" db:"rate_id"`
	ChangedAt time.Time `json:"changed_at" db:"changed_at"`
	FieldName string    `json:"field_name" db:"field_name"`
	OldValue  *string   `json:"old_value,omitempty" db:"old_value"`
	NewValue  *string   `json:"new_value,omitempty" db:"new_value"`
}
