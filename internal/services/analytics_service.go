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
)

// AnalyticsService builds read-side aggregations over computed metrics
type AnalyticsService struct {
	repo   repository.OeeRepository
	logger *logging.StructuredLogger
}

// NewAnalyticsService creates a new analytics service
func NewAnalyticsService(repo repository.OeeRepository, logger *logging.StructuredLogger) *AnalyticsService {
	return &AnalyticsService{repo: repo, logger: logger}
}

// Dimension is the grouping axis for metric comparison. Enumerated dispatch
// only; each dimension maps to a typed accessor.
type Dimension string

const (
	DimensionShift    Dimension = "shift"
	DimensionPart     Dimension = "part"
	DimensionMachine  Dimension = "machine"
	DimensionOperator Dimension = "operator"
)

// ParseDimension validates a request-supplied grouping axis
func ParseDimension(s string) (Dimension, error) {
	switch Dimension(s) {
	case DimensionShift, DimensionPart, DimensionMachine, DimensionOperator:
		return Dimension(s), nil
	}
	return "", fmt.Errorf("unknown dimension %q: must be one of shift, part, machine, operator", s)
}

func (d Dimension) accessor() func(*models.OeeMetric) string {
	switch d {
	case DimensionShift:
		return func(m *models.OeeMetric) string { return m.Shift }
	case DimensionPart:
		return func(m *models.OeeMetric) string { return m.PartNumber }
	case DimensionMachine:
		return func(m *models.OeeMetric) string { return m.Machine }
	case DimensionOperator:
		return func(m *models.OeeMetric) string { return m.Operator }
	}
	return func(m *models.OeeMetric) string { return "" }
}

// WeightedSummary is the weighted vs simple OEE rollup for a date range
type WeightedSummary struct {
	Overall    SummaryBucket     `json:"overall"`
	Operators  []OperatorSummary `json:"operators"`
	DailyTrend []DailyOee        `json:"daily_trend"`
}

// SummaryBucket holds the overall aggregates
type SummaryBucket struct {
	WeightedOee  float64 `json:"weighted_oee"`
	SimpleOee    float64 `json:"simple_oee"`
	TotalParts   int     `json:"total_parts"`
	TotalRunTime float64 `json:"total_run_time"`
	Count        int     `json:"count"`
}

// OperatorSummary is one operator's contribution to the range
type OperatorSummary struct {
	Operator        string  `json:"operator"`
	WeightedOee     float64 `json:"weighted_oee"`
	SimpleOee       float64 `json:"simple_oee"`
	TotalParts      int     `json:"total_parts"`
	TotalRunTime    float64 `json:"total_run_time"`
	ContributionPct float64 `json:"contribution_pct"`
	ShiftCount      int     `json:"shift_count"`
}

// DailyOee is one day of the trend line
type DailyOee struct {
	Date        string  `json:"date"`
	WeightedOee float64 `json:"weighted_oee"`
	SimpleOee   float64 `json:"simple_oee"`
	TotalParts  int     `json:"total_parts"`
}

type oeeAccumulator struct {
	parts       int
	runTime     float64
	weightedNum float64
	simpleSum   float64
	count       int
}

func (a *oeeAccumulator) add(oee float64, weight int, runTime float64) {
	a.parts += weight
	a.runTime += runTime
	a.weightedNum += oee * float64(weight)
	a.simpleSum += oee
	a.count++
}

// weightedOee derives the volume-weighted OEE from the summed numerator and
// denominator. Never computed by averaging pre-computed per-group averages.
func (a *oeeAccumulator) weightedOee() float64 {
	if a.parts == 0 {
		return 0
	}
	return a.weightedNum / float64(a.parts)
}

func (a *oeeAccumulator) simpleOee() float64 {
	if a.count == 0 {
		return 0
	}
	return a.simpleSum / float64(a.count)
}

// WeeklySummary computes the weighted vs simple OEE rollup over [start, end],
// optionally filtered by shift ("All" or empty disables the filter). Weight
// per metric is its produced volume (good + reject) from diagnostics.
func (s *AnalyticsService) WeeklySummary(ctx context.Context, start, end time.Time, shift string) (*WeightedSummary, error) {
	metrics, err := s.repo.GetMetricsByDateRange(ctx, start, end, shift)
	if err != nil {
		return nil, err
	}

	summary := &WeightedSummary{
		Operators:  make([]OperatorSummary, 0),
		DailyTrend: make([]DailyOee, 0),
	}

	overall := &oeeAccumulator{}
	byOperator := make(map[string]*oeeAccumulator)
	byDay := make(map[string]*oeeAccumulator)

	for _, m := range metrics {
		weight := m.Diagnostics.Weight()
		runTime := m.Diagnostics.RunTimeMin

		overall.add(m.OEE, weight, runTime)

		opName := m.Operator
		if opName == "" {
			opName = "Unknown"
		}
		op, ok := byOperator[opName]
		if !ok {
			op = &oeeAccumulator{}
			byOperator[opName] = op
		}
		op.add(m.OEE, weight, runTime)

		day := m.Date.Format("2006-01-02")
		d, ok := byDay[day]
		if !ok {
			d = &oeeAccumulator{}
			byDay[day] = d
		}
		d.add(m.OEE, weight, runTime)
	}

	summary.Overall = SummaryBucket{
		WeightedOee:  round4(overall.weightedOee()),
		SimpleOee:    round4(overall.simpleOee()),
		TotalParts:   overall.parts,
		TotalRunTime: round1(overall.runTime),
		Count:        overall.count,
	}

	for name, acc := range byOperator {
		contribution := 0.0
		if overall.parts > 0 {
			contribution = float64(acc.parts) / float64(overall.parts) * 100
		}
		summary.Operators = append(summary.Operators, OperatorSummary{
			Operator:        name,
			WeightedOee:     round4(acc.weightedOee()),
			SimpleOee:       round4(acc.simpleOee()),
			TotalParts:      acc.parts,
			TotalRunTime:    round1(acc.runTime),
			ContributionPct: round1(contribution),
			ShiftCount:      acc.count,
		})
	}
	sort.Slice(summary.Operators, func(i, j int) bool {
		if summary.Operators[i].TotalParts != summary.Operators[j].TotalParts {
			return summary.Operators[i].TotalParts > summary.Operators[j].TotalParts
		}
		return summary.Operators[i].Operator < summary.Operators[j].Operator
	})

	for day, acc := range byDay {
		summary.DailyTrend = append(summary.DailyTrend, DailyOee{
			Date:        day,
			WeightedOee: round4(acc.weightedOee()),
			SimpleOee:   round4(acc.simpleOee()),
			TotalParts:  acc.parts,
		})
	}
	sort.Slice(summary.DailyTrend, func(i, j int) bool {
		return summary.DailyTrend[i].Date < summary.DailyTrend[j].Date
	})

	return summary, nil
}

// DimensionComparison is one group's average metrics
type DimensionComparison struct {
	Name          string  `json:"name"`
	Oee           float64 `json:"oee"`
	Availability  float64 `json:"availability"`
	Performance   float64 `json:"performance"`
	Quality       float64 `json:"quality"`
	TotalProduced int     `json:"total_produced"`
	TotalGood     int     `json:"total_good"`
	SampleSize    int     `json:"sample_size"`
}

// Compare averages metrics per group along the given dimension, sorted by
// descending OEE
func (s *AnalyticsService) Compare(ctx context.Context, dim Dimension, start, end time.Time, limit int) ([]DimensionComparison, error) {
	metrics, err := s.repo.GetMetricsByDateRange(ctx, start, end, "")
	if err != nil {
		return nil, err
	}

	access := dim.accessor()

	type groupAcc struct {
		oee, avail, perf, qual float64
		produced, good, count  int
	}
	groups := make(map[string]*groupAcc)

	for _, m := range metrics {
		key := access(m)
		if key == "" {
			key = "Unknown"
		}
		g, ok := groups[key]
		if !ok {
			g = &groupAcc{}
			groups[key] = g
		}
		g.oee += m.OEE
		g.avail += m.Availability
		g.perf += m.Performance
		g.qual += m.Quality
		g.good += m.Diagnostics.GoodCount
		g.produced += m.Diagnostics.Weight()
		g.count++
	}

	results := make([]DimensionComparison, 0, len(groups))
	for name, g := range groups {
		n := float64(g.count)
		results = append(results, DimensionComparison{
			Name:          name,
			Oee:           round4(g.oee / n),
			Availability:  round4(g.avail / n),
			Performance:   round4(g.perf / n),
			Quality:       round4(g.qual / n),
			TotalProduced: g.produced,
			TotalGood:     g.good,
			SampleSize:    g.count,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Oee != results[j].Oee {
			return results[i].Oee > results[j].Oee
		}
		return results[i].Name < results[j].Name
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// PartQuality is one part's reject summary
type PartQuality struct {
	PartNumber    string  `json:"part_number"`
	TotalProduced int     `json:"total_produced"`
	TotalRejects  int     `json:"total_rejects"`
	RejectRate    float64 `json:"reject_rate"`
}

// QualityByPart ranks parts by total rejects over [start, end]
func (s *AnalyticsService) QualityByPart(ctx context.Context, start, end time.Time, limit int) ([]PartQuality, error) {
	metrics, err := s.repo.GetMetricsByDateRange(ctx, start, end, "")
	if err != nil {
		return nil, err
	}

	type qualAcc struct{ good, reject int }
	parts := make(map[string]*qualAcc)

	for _, m := range metrics {
		part := m.PartNumber
		if part == "" {
			part = "Unknown"
		}
		p, ok := parts[part]
		if !ok {
			p = &qualAcc{}
			parts[part] = p
		}
		p.good += m.Diagnostics.GoodCount
		p.reject += m.Diagnostics.RejectCount
	}

	results := make([]PartQuality, 0, len(parts))
	for part, p := range parts {
		total := p.good + p.reject
		rejectRate := 0.0
		if total > 0 {
			rejectRate = float64(p.reject) / float64(total)
		}
		results = append(results, PartQuality{
			PartNumber:    part,
			TotalProduced: total,
			TotalRejects:  p.reject,
			RejectRate:    round2(rejectRate * 100),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].TotalRejects != results[j].TotalRejects {
			return results[i].TotalRejects > results[j].TotalRejects
		}
		return results[i].PartNumber < results[j].PartNumber
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// DowntimeDetail is one downtime event surfaced in the machine breakdown
type DowntimeDetail struct {
	Date       string  `json:"date"`
	Shift      string  `json:"shift"`
	Reason     string  `json:"reason"`
	Minutes    float64 `json:"minutes"`
	PartNumber string  `json:"part_number"`
}

// MachineDowntime is one machine's downtime summary
type MachineDowntime struct {
	Machine       string           `json:"machine"`
	TotalDowntime float64          `json:"total_downtime"`
	EventCount    int              `json:"event_count"`
	AvgEventMin   float64          `json:"avg_event_min"`
	Pattern       string           `json:"pattern"`
	PartsLost     int              `json:"parts_lost"`
	Details       []DowntimeDetail `json:"details"`
}

// Downtime pattern classification bounds, in minutes per event
const (
	microStopMaxMin = 10.0
	mixedMaxMin     = 45.0
)

// DowntimeByMachine ranks machines by total downtime, classifies each
// machine's downtime pattern by average event length, and estimates parts
// lost from the active rate catalog.
func (s *AnalyticsService) DowntimeByMachine(ctx context.Context, start, end time.Time, limit int) ([]MachineDowntime, error) {
	metrics, err := s.repo.GetMetricsByDateRange(ctx, start, end, "")
	if err != nil {
		return nil, err
	}

	cycleFor, err := s.loadCycleLookup(ctx)
	if err != nil {
		return nil, err
	}

	type machineAcc struct {
		downtime  float64
		events    int
		partsLost float64
		details   []DowntimeDetail
	}
	machines := make(map[string]*machineAcc)

	for _, m := range metrics {
		machine := m.Machine
		if machine == "" {
			machine = "Unknown"
		}
		acc, ok := machines[machine]
		if !ok {
			acc = &machineAcc{}
			machines[machine] = acc
		}

		downtime := m.Diagnostics.DowntimeMin
		day := m.Date.Format("2006-01-02")

		if len(m.Diagnostics.DowntimeEvents) > 0 {
			acc.events += len(m.Diagnostics.DowntimeEvents)
			for _, e := range m.Diagnostics.DowntimeEvents {
				acc.details = append(acc.details, DowntimeDetail{
					Date:       day,
					Shift:      m.Shift,
					Reason:     e.Reason,
					Minutes:    e.Minutes,
					PartNumber: m.PartNumber,
				})
			}
		} else if downtime > 0 {
			acc.events++
			acc.details = append(acc.details, DowntimeDetail{
				Date:       day,
				Shift:      m.Shift,
				Reason:     "Uncategorized Downtime",
				Minutes:    downtime,
				PartNumber: m.PartNumber,
			})
		}

		acc.downtime += downtime

		if downtime > 0 {
			if cycle := cycleFor(m.PartNumber, m.Machine); cycle > 0 {
				acc.partsLost += downtime * 60 / cycle
			}
		}
	}

	results := make([]MachineDowntime, 0, len(machines))
	for machine, acc := range machines {
		avgLen := 0.0
		pattern := "N/A"
		if acc.events > 0 {
			avgLen = acc.downtime / float64(acc.events)
			switch {
			case avgLen < microStopMaxMin:
				pattern = "Micro-stop driven"
			case avgLen <= mixedMaxMin:
				pattern = "Mixed"
			default:
				pattern = "Breakdown driven"
			}
		}

		sort.Slice(acc.details, func(i, j int) bool {
			return acc.details[i].Date > acc.details[j].Date
		})

		results = append(results, MachineDowntime{
			Machine:       machine,
			TotalDowntime: round1(acc.downtime),
			EventCount:    acc.events,
			AvgEventMin:   round1(avgLen),
			Pattern:       pattern,
			PartsLost:     int(acc.partsLost),
			Details:       acc.details,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].TotalDowntime != results[j].TotalDowntime {
			return results[i].TotalDowntime > results[j].TotalDowntime
		}
		return results[i].Machine < results[j].Machine
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// loadCycleLookup builds a cycle-time resolver from the active rate catalog:
// exact (part, machine) match first, then any rate for the part
func (s *AnalyticsService) loadCycleLookup(ctx context.Context) (func(part, machine string) float64, error) {
	active := true
	rates, _, err := s.repo.ListRates(ctx, repository.RateFilter{Active: &active, Limit: 10000})
	if err != nil {
		return nil, fmt.Errorf("failed to load rate catalog: %w", err)
	}

	exact := make(map[string]float64)
	byPart := make(map[string]float64)
	for _, r := range rates {
		cycle := r.CycleSeconds()
		if cycle <= 0 {
			continue
		}
		exact[r.PartNumber+"|"+r.MachineName()] = cycle
		byPart[r.PartNumber] = cycle
	}

	return func(part, machine string) float64 {
		if cycle, ok := exact[part+"|"+machine]; ok {
			return cycle
		}
		return byPart[part]
	}, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
