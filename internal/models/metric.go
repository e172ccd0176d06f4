package models

import (
	"time"
)

// Confidence values for a computed metric
const (
	ConfidenceHigh = "high"
	ConfidenceLow  = "low"
)

// Canonical diagnostic tag types, in the order the engine evaluates them
const (
	TagLowPerf      = "low_perf"
	TagHighPerf     = "high_perf"
	TagHighDowntime = "high_downtime"
	TagHighScrap    = "high_scrap"
	TagShortRun     = "short_run"
	TagRateTooHigh  = "rate_too_high"
	TagRateTooLow   = "rate_too_low"
)

// DiagnosticTag is one independently-evaluated anomaly flag on a run
type DiagnosticTag struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Diagnostics is the typed payload attached to every computed metric. It is
// carried as a struct through all business logic and serialized to JSON only
// at the persistence edge.
type Diagnostics struct {
	Warning            string          `json:"warning,omitempty"`
	Insight            string          `json:"insight,omitempty"`
	MatchedRateMachine string          `json:"matched_rate_machine,omitempty"`
	TargetCount        int             `json:"target_count"`
	RunTimeMin         float64         `json:"run_time_min"`
	DowntimeMin        float64         `json:"downtime_min"`
	GoodCount          int             `json:"good_count"`
	RejectCount        int             `json:"reject_count"`
	DowntimeEvents     []DowntimeEvent `json:"downtime_events,omitempty"`
	Tags               []DiagnosticTag `json:"tags,omitempty"`
}

// HasTag reports whether a tag of the given canonical type is already present
func (d *Diagnostics) HasTag(tagType string) bool {
	for _, t := range d.Tags {
		if t.Type == tagType {
			return true
		}
	}
	return false
}

// Weight returns the run's production volume (good + reject), used by the
// weighted aggregator. Zero when counts are absent.
func (d *Diagnostics) Weight() int {
	return d.GoodCount + d.RejectCount
}

// OeeMetric is one computed metric row per aggregated run. Rows for a report
// are replaced wholesale on every calculation; never partially updated.
type OeeMetric struct {
	ID           int64       `json:"id" db:"id"`
	ReportID     int64       `json:"report_id" db:"report_id"`
	Date         time.Time   `json:"date" db:"date"`
	Operator     string      `json:"operator" db:"operator"`
	Machine      string      `json:"machine" db:"machine"`
	PartNumber   string      `json:"part_number" db:"part_number"`
	Job          string      `json:"job" db:"job"`
	Shift        string      `json:"shift" db:"shift"`
	Availability float64     `json:"availability" db:"availability"`
	Performance  float64     `json:"performance" db:"performance"`
	Quality      float64     `json:"quality" db:"quality"`
	OEE          float64     `json:"oee" db:"oee"`
	Confidence   string      `json:"confidence" db:"confidence"`
	Diagnostics  Diagnostics `json:"diagnostics" db:"-"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
}

// Setting is one key-value configuration entry. Values are strings coercible
// to float/bool by the reader; read fresh per calculation, never cached.
type Setting struct {
	Key         string  `json:"key" db:"key"`
	Value       string  `json:"value" db:"value"`
	Description *string `json:"description,omitempty" db:"description"`
}
