package services

import (
	"fmt"
	"math"

	"oee-platform/internal/models"
)

// Diagnostic tag messages shown to operators
const (
	msgLowPerf     = "Performance below target. Check if cycle time is accurate, look for small stops/jams, and ensure training."
	msgHighPerf    = "Performance above 100%. Verify rate isn't set too low and counts are recorded correctly."
	msgShortRun    = "Short run (< 1hr). OEE may be misleading; consider grouping orders or factoring setup separately."
	msgRateTooHigh = "Global rate may be too high. This part/press consistently underperforms across shifts."
	msgRateTooLow  = "Operators consistently exceed 100%. Rate may be too low; verify ideal cycle time."
	msgOeeOver100  = "OEE > 100%: Check Standard Rate"
)

// rateTooLowBuffer is the global-average performance above which the rate
// itself is suspect. 105% gives legitimate overperformance some headroom.
const rateTooLowBuffer = 1.05

// diagnosticsInput carries everything one run's diagnostics depend on
type diagnosticsInput struct {
	Run            *models.AggregatedRun
	Performance    float64
	PerformanceRaw float64
	OEE            float64
	CycleSeconds   float64
	MissingRateID  string   // "" when a rate resolved
	MatchedMachine string   // machine scope of the resolved rate, "" if unscoped
	GlobalAvgPerf  *float64 // precomputed (part, machine) average, nil when unknown
}

// buildDiagnostics assembles the typed diagnostics payload for one run. Tags
// are evaluated independently in a fixed order; a tag firing never suppresses
// later checks. The payload is serialized only at the persistence edge.
func buildDiagnostics(in diagnosticsInput, cfg Thresholds) models.Diagnostics {
	run := in.Run

	d := models.Diagnostics{
		MatchedRateMachine: in.MatchedMachine,
		RunTimeMin:         run.RunTimeMin,
		DowntimeMin:        run.DowntimeMin,
		GoodCount:          run.GoodCount,
		RejectCount:        run.RejectCount,
		DowntimeEvents:     run.DowntimeEvents,
	}

	runSec := run.RunTimeMin * 60
	if in.CycleSeconds > 0 {
		d.TargetCount = int(math.Floor(runSec / in.CycleSeconds))
	}

	if in.MissingRateID != "" {
		d.Warning = fmt.Sprintf("No Rate found for %s", in.MissingRateID)
	} else if cfg.ShowOeeWarning && in.OEE > 1.0 {
		d.Warning = msgOeeOver100
	}

	d.Insight = performanceInsight(in.PerformanceRaw, cfg.PerformanceThreshold)

	if in.Performance < cfg.PerfLow {
		d.Tags = append(d.Tags, models.DiagnosticTag{Type: models.TagLowPerf, Message: msgLowPerf})
	}
	if in.Performance >= cfg.PerfHigh {
		d.Tags = append(d.Tags, models.DiagnosticTag{Type: models.TagHighPerf, Message: msgHighPerf})
	}
	if run.DowntimeMin > cfg.DowntimeMin {
		d.Tags = append(d.Tags, models.DiagnosticTag{
			Type:    models.TagHighDowntime,
			Message: fmt.Sprintf("Downtime (%.0fm) exceeds threshold. Document breakdown reasons and schedule maintenance.", run.DowntimeMin),
		})
	}
	if rate := scrapRate(run.GoodCount, run.RejectCount); rate >= cfg.ScrapRate {
		d.Tags = append(d.Tags, models.DiagnosticTag{
			Type:    models.TagHighScrap,
			Message: fmt.Sprintf("High Rejects (%d%%). Identify defect patterns and perform root-cause analysis.", int(rate*100)),
		})
	}
	if run.RunTimeMin < cfg.ShortRunMin {
		d.Tags = append(d.Tags, models.DiagnosticTag{Type: models.TagShortRun, Message: msgShortRun})
	}

	if in.GlobalAvgPerf != nil && *in.GlobalAvgPerf > 0 {
		if *in.GlobalAvgPerf < cfg.PerfLow && !d.HasTag(models.TagRateTooHigh) {
			d.Tags = append(d.Tags, models.DiagnosticTag{Type: models.TagRateTooHigh, Message: msgRateTooHigh})
		}
		if *in.GlobalAvgPerf > rateTooLowBuffer && !d.HasTag(models.TagRateTooLow) {
			d.Tags = append(d.Tags, models.DiagnosticTag{Type: models.TagRateTooLow, Message: msgRateTooLow})
		}
	}

	return d
}

// performanceInsight flags raw performance outside the configured deviation
// band. The band is expressed in percent around 100%.
func performanceInsight(perfRaw, thresholdPct float64) string {
	threshold := thresholdPct / 100.0
	highLimit := 1.0 + threshold
	lowLimit := math.Max(0.0, 1.0-threshold)

	if perfRaw > highLimit {
		return fmt.Sprintf("High Output (>%d%%): Verify Std vs Speed", int(highLimit*100))
	}
	if perfRaw < lowLimit {
		return fmt.Sprintf("Low Output (<%d%%): Verify Std vs Speed", int(lowLimit*100))
	}
	return ""
}

func scrapRate(good, reject int) float64 {
	total := good + reject
	if total == 0 {
		return 0
	}
	return float64(reject) / float64(total)
}
