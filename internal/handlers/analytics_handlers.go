package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"oee-platform/internal/repository"
	"oee-platform/internal/services"
	"oee-platform/pkg/logging"
	"oee-platform/pkg/metrics"
)

// AnalyticsHandler handles read-side aggregation endpoints
type AnalyticsHandler struct {
	analytics *services.AnalyticsService
	repo      repository.OeeRepository
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector
}

// NewAnalyticsHandler creates a new analytics handler
func NewAnalyticsHandler(
	analytics *services.AnalyticsService,
	repo repository.OeeRepository,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *AnalyticsHandler {
	return &AnalyticsHandler{
		analytics: analytics,
		repo:      repo,
		logger:    logger,
		metrics:   metricsCollector,
	}
}

// dateRange parses start_date/end_date query parameters. When absent the
// range defaults to the trailing seven days ending today (UTC).
func dateRange(r *http.Request) (start, end time.Time, err error) {
	now := time.Now().UTC()
	end = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	start = end.AddDate(0, 0, -6)

	if s := r.URL.Query().Get("start_date"); s != "" {
		start, err = time.Parse("2006-01-02", s)
		if err != nil {
			return start, end, err
		}
	}
	if s := r.URL.Query().Get("end_date"); s != "" {
		end, err = time.Parse("2006-01-02", s)
		if err != nil {
			return start, end, err
		}
	}
	return start, end, nil
}

// limitParam parses an optional result limit with a default
func limitParam(r *http.Request, def int) int {
	if s := r.URL.Query().Get("limit"); s != "" {
		if l, err := strconv.Atoi(s); err == nil && l > 0 && l <= 1000 {
			return l
		}
	}
	return def
}

// WeeklySummary handles GET /api/analytics/summary
func (h *AnalyticsHandler) WeeklySummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	start, end, err := dateRange(r)
	if err != nil {
		sendError(w, r, h.metrics, "invalid date format, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	shift := r.URL.Query().Get("shift")

	summary, err := h.analytics.WeeklySummary(ctx, start, end, shift)
	if err != nil {
		h.logger.Error(ctx, "[API_SUMMARY_ERROR] Failed to build summary", logging.Fields{
			"start": start.Format("2006-01-02"),
			"end":   end.Format("2006-01-02"),
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/analytics/summary")
		sendError(w, r, h.metrics, "failed to build summary", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/analytics/summary", "GET", "200")
	sendJSON(w, summary, http.StatusOK)
}

// Compare handles GET /api/analytics/compare?group_by=
func (h *AnalyticsHandler) Compare(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dim, err := services.ParseDimension(r.URL.Query().Get("group_by"))
	if err != nil {
		sendError(w, r, h.metrics, err.Error(), http.StatusBadRequest)
		return
	}

	start, end, err := dateRange(r)
	if err != nil {
		sendError(w, r, h.metrics, "invalid date format, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	results, err := h.analytics.Compare(ctx, dim, start, end, limitParam(r, 50))
	if err != nil {
		h.logger.Error(ctx, "[API_COMPARE_ERROR] Failed to compare groups", logging.Fields{
			"dimension": string(dim),
		}, err)
		sendError(w, r, h.metrics, "failed to compare groups", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/analytics/compare", "GET", "200")
	sendJSON(w, map[string]interface{}{"group_by": dim, "data": results}, http.StatusOK)
}

// Quality handles GET /api/analytics/quality
func (h *AnalyticsHandler) Quality(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	start, end, err := dateRange(r)
	if err != nil {
		sendError(w, r, h.metrics, "invalid date format, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	results, err := h.analytics.QualityByPart(ctx, start, end, limitParam(r, 20))
	if err != nil {
		h.logger.Error(ctx, "[API_QUALITY_ERROR] Failed to rank part quality", logging.Fields{}, err)
		sendError(w, r, h.metrics, "failed to rank part quality", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/analytics/quality", "GET", "200")
	sendJSON(w, map[string]interface{}{"data": results}, http.StatusOK)
}

// Downtime handles GET /api/analytics/downtime
func (h *AnalyticsHandler) Downtime(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	start, end, err := dateRange(r)
	if err != nil {
		sendError(w, r, h.metrics, "invalid date format, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	results, err := h.analytics.DowntimeByMachine(ctx, start, end, limitParam(r, 20))
	if err != nil {
		h.logger.Error(ctx, "[API_DOWNTIME_ERROR] Failed to break down downtime", logging.Fields{}, err)
		sendError(w, r, h.metrics, "failed to break down downtime", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/analytics/downtime", "GET", "200")
	sendJSON(w, map[string]interface{}{"data": results}, http.StatusOK)
}

// GetMetrics handles GET /api/metrics/range, returning computed metrics with
// deserialized diagnostics over a date range
func (h *AnalyticsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	start, end, err := dateRange(r)
	if err != nil {
		sendError(w, r, h.metrics, "invalid date format, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	shift := r.URL.Query().Get("shift")

	computed, err := h.repo.GetMetricsByDateRange(ctx, start, end, shift)
	if err != nil {
		h.logger.Error(ctx, "[API_METRICS_RANGE_ERROR] Failed to load metrics", logging.Fields{}, err)
		sendError(w, r, h.metrics, "failed to retrieve metrics", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/metrics/range", "GET", "200")
	sendJSON(w, map[string]interface{}{"data": computed, "count": len(computed)}, http.StatusOK)
}

// RegisterRoutes registers analytics routes
func (h *AnalyticsHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/analytics/summary", h.WeeklySummary).Methods("GET")
	router.HandleFunc("/api/analytics/compare", h.Compare).Methods("GET")
	router.HandleFunc("/api/analytics/quality", h.Quality).Methods("GET")
	router.HandleFunc("/api/analytics/downtime", h.Downtime).Methods("GET")
	router.HandleFunc("/api/metrics/range", h.GetMetrics).Methods("GET")
}
