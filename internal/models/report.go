package models

import (
	"time"
)

// Report represents one ingested production export file
type Report struct {
	ID         int64     `json:"id" db:"id"`
	Filename   string    `json:"filename" db:"filename"`
	UploadedAt time.Time `json:"uploaded_at" db:"uploaded_at"`
}

// DowntimeEvent is one itemized downtime occurrence attributed to a record
type DowntimeEvent struct {
	Reason  string  `json:"reason"`
	Minutes float64 `json:"minutes"`
}

// ProductionRecord is the canonical row produced by ingestion. One per input
// row in header-mapped layouts, one per detected main row in positional
// layouts. Immutable after creation except through explicit entry edits.
type ProductionRecord struct {
	ID             int64           `json:"id" db:"id"`
	ReportID       int64           `json:"report_id" db:"report_id"`
	Date           time.Time       `json:"date" db:"date"`
	Operator       string          `json:"operator" db:"operator"`
	Machine        string          `json:"machine" db:"machine"`
	PartNumber     string          `json:"part_number" db:"part_number"`
	Job            string          `json:"job" db:"job"`
	Shift          string          `json:"shift" db:"shift"`
	PlannedTimeMin float64         `json:"planned_production_time_min" db:"planned_production_time_min"`
	RunTimeMin     float64         `json:"run_time_min" db:"run_time_min"`
	DowntimeMin    float64         `json:"downtime_min" db:"downtime_min"`
	TotalCount     int             `json:"total_count" db:"total_count"`
	GoodCount      int             `json:"good_count" db:"good_count"`
	RejectCount    int             `json:"reject_count" db:"reject_count"`
	DowntimeEvents []DowntimeEvent `json:"downtime_events,omitempty" db:"-"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Normalize recomputes the derived fields the same way an explicit entry edit
// does: total from good+reject, planned time from run+down.
func (r *ProductionRecord) Normalize() {
	r.TotalCount = r.GoodCount + r.RejectCount
	r.PlannedTimeMin = r.RunTimeMin + r.DowntimeMin
}

// RunKey identifies one aggregated production run
type RunKey struct {
	Date       time.Time
	Operator   string
	Machine    string
	PartNumber string
	Shift      string
	Job        string
}

// AggregatedRun is the grouping unit for metric computation: all records
// sharing one (date, operator, machine, part, shift, job) key, summed.
// Transient; never persisted directly.
type AggregatedRun struct {
	Key            RunKey
	PlannedTimeMin float64
	RunTimeMin     float64
	DowntimeMin    float64
	TotalCount     int
	GoodCount      int
	RejectCount    int
	DowntimeEvents []DowntimeEvent
}

// Accumulate adds one canonical record's numeric fields into the run
func (a *AggregatedRun) Accumulate(rec *ProductionRecord) {
	a.PlannedTimeMin += rec.PlannedTimeMin
	a.RunTimeMin += rec.RunTimeMin
	a.DowntimeMin += rec.DowntimeMin
	a.TotalCount += rec.TotalCount
	a.GoodCount += rec.GoodCount
	a.RejectCount += rec.RejectCount
	a.DowntimeEvents = append(a.DowntimeEvents, rec.DowntimeEvents...)
}

// SelfHeal recomputes a zero total from good+reject so quality can still be
// derived. Totals are repaired, never rejected.
func (a *AggregatedRun) SelfHeal() {
	if a.TotalCount == 0 && a.GoodCount > 0 {
		a.TotalCount = a.GoodCount + a.RejectCount
	}
}

// AggregateRecords groups canonical records into runs, preserving first-seen
// key order so output is deterministic for a given batch.
func AggregateRecords(records []*ProductionRecord) []*AggregatedRun {
	byKey := make(map[RunKey]*AggregatedRun)
	order := make([]RunKey, 0)

	for _, rec := range records {
		key := RunKey{
			Date:       rec.Date,
			Operator:   rec.Operator,
			Machine:    rec.Machine,
			PartNumber: rec.PartNumber,
			Shift:      rec.Shift,
			Job:        rec.Job,
		}
		run, ok := byKey[key]
		if !ok {
			run = &AggregatedRun{Key: key}
			byKey[key] = run
			order = append(order, key)
		}
		run.Accumulate(rec)
	}

	runs := make([]*AggregatedRun, 0, len(order))
	for _, key := range order {
		runs = append(runs, byKey[key])
	}
	return runs
}
