package services

import (
	"context"
	"strconv"
	"strings"

	"oee-platform/internal/repository"
	"oee-platform/pkg/logging"
)

// Configuration keys in the settings store
const (
	SettingPerformanceCap       = "performance_cap"
	SettingPerformanceThreshold = "performance_threshold"
	SettingPerfLow              = "threshold_performance_low"
	SettingPerfHigh             = "threshold_performance_high"
	SettingDowntimeMin          = "threshold_downtime_min"
	SettingScrapRate            = "threshold_scrap_rate"
	SettingShortRunMin          = "threshold_short_run_min"
	SettingShowOeeWarning       = "show_oee_over_100_warning"
	SettingOeeTarget            = "oee_target"
)

// Thresholds is the configuration bundle consumed by one calculation pass.
// Read fresh per call; edits through the settings API apply to the next
// calculation without a restart.
type Thresholds struct {
	PerformanceCap       float64
	PerformanceThreshold float64 // percent, drives the insight text
	PerfLow              float64
	PerfHigh             float64
	DowntimeMin          float64
	ScrapRate            float64
	ShortRunMin          float64
	ShowOeeWarning       bool
}

func defaultThresholds() Thresholds {
	return Thresholds{
		PerformanceCap:       1.10,
		PerformanceThreshold: 25.0,
		PerfLow:              0.80,
		PerfHigh:             1.10,
		DowntimeMin:          20.0,
		ScrapRate:            0.05,
		ShortRunMin:          60.0,
		ShowOeeWarning:       true,
	}
}

// settingsReader loads thresholds from the key-value store, falling back to
// the documented default when a key is missing or unparseable
type settingsReader struct {
	repo   repository.OeeRepository
	logger *logging.StructuredLogger
}

func (sr *settingsReader) load(ctx context.Context) Thresholds {
	t := defaultThresholds()

	sr.readFloat(ctx, SettingPerformanceCap, &t.PerformanceCap)
	sr.readFloat(ctx, SettingPerformanceThreshold, &t.PerformanceThreshold)
	sr.readFloat(ctx, SettingPerfLow, &t.PerfLow)
	sr.readFloat(ctx, SettingPerfHigh, &t.PerfHigh)
	sr.readFloat(ctx, SettingDowntimeMin, &t.DowntimeMin)
	sr.readFloat(ctx, SettingScrapRate, &t.ScrapRate)
	sr.readFloat(ctx, SettingShortRunMin, &t.ShortRunMin)
	sr.readBool(ctx, SettingShowOeeWarning, &t.ShowOeeWarning)

	return t
}

func (sr *settingsReader) readFloat(ctx context.Context, key string, dest *float64) {
	setting, err := sr.repo.GetSetting(ctx, key)
	if err != nil {
		return
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(setting.Value), 64)
	if err != nil {
		sr.logger.Warn(ctx, "[SETTINGS_PARSE] Ignoring unparseable setting", logging.Fields{
			"key":   key,
			"value": setting.Value,
		})
		return
	}
	*dest = v
}

func (sr *settingsReader) readBool(ctx context.Context, key string, dest *bool) {
	setting, err := sr.repo.GetSetting(ctx, key)
	if err != nil {
		return
	}
	*dest = strings.EqualFold(strings.TrimSpace(setting.Value), "true")
}
