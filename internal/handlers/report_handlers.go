package handlers

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"oee-platform/internal/models"
	"oee-platform/internal/repository"
	"oee-platform/internal/services"
	"oee-platform/pkg/logging"
	"oee-platform/pkg/metrics"
)

// maxUploadBytes caps spreadsheet uploads at 32 MiB
const maxUploadBytes = 32 << 20

// ReportHandler handles report ingestion, entry editing, calculation, and
// metric retrieval endpoints
type ReportHandler struct {
	ingestion *services.IngestionService
	calc      *services.CalculationService
	repo      repository.OeeRepository
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector
}

// NewReportHandler creates a new report handler
func NewReportHandler(
	ingestion *services.IngestionService,
	calc *services.CalculationService,
	repo repository.OeeRepository,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *ReportHandler {
	return &ReportHandler{
		ingestion: ingestion,
		calc:      calc,
		repo:      repo,
		logger:    logger,
		metrics:   metricsCollector,
	}
}

// UploadReport handles POST /api/reports
func (h *ReportHandler) UploadReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		sendError(w, r, h.metrics, "expected multipart form with a file field", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		sendError(w, r, h.metrics, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		sendError(w, r, h.metrics, "failed to read upload", http.StatusBadRequest)
		return
	}

	result, err := h.ingestion.IngestReport(ctx, data, header.Filename)
	if err != nil {
		h.logger.Error(ctx, "[API_UPLOAD_ERROR] Report upload failed", logging.Fields{
			"filename": header.Filename,
		}, err)
		h.metrics.RecordAPIError("upload_error", "/api/reports")
		sendDomainError(w, r, h.metrics, err, "failed to ingest report")
		return
	}

	h.metrics.RecordAPIRequest("/api/reports", "POST", "201")
	sendJSON(w, result, http.StatusCreated)
}

// ListReports handles GET /api/reports
func (h *ReportHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page, limit, offset := pagination(r)

	reports, total, err := h.repo.ListReports(ctx, limit, offset)
	if err != nil {
		h.logger.Error(ctx, "[API_LIST_REPORTS_ERROR] Failed to list reports", logging.Fields{}, err)
		h.metrics.RecordAPIError("internal_error", "/api/reports")
		sendError(w, r, h.metrics, "failed to retrieve reports", http.StatusInternalServerError)
		return
	}

	totalPages := (total + limit - 1) / limit

	h.metrics.RecordAPIRequest("/api/reports", "GET", "200")
	sendJSON(w, PaginatedResponse{
		Data:       reports,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
	}, http.StatusOK)
}

// GetReport handles GET /api/reports/{id}; the response includes the
// report's canonical entries
func (h *ReportHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(mux.Vars(r))
	if err != nil {
		sendError(w, r, h.metrics, "invalid report id", http.StatusBadRequest)
		return
	}

	report, err := h.repo.GetReport(ctx, id)
	if err != nil {
		sendDomainError(w, r, h.metrics, err, "failed to retrieve report")
		return
	}

	entries, err := h.repo.GetEntriesByReport(ctx, id)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_REPORT_ERROR] Failed to load entries", logging.Fields{
			"report_id": id,
		}, err)
		sendError(w, r, h.metrics, "failed to retrieve report entries", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/reports/{id}", "GET", "200")
	sendJSON(w, map[string]interface{}{
		"report":  report,
		"entries": entries,
	}, http.StatusOK)
}

// RenameReport handles PUT /api/reports/{id}
func (h *ReportHandler) RenameReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(mux.Vars(r))
	if err != nil {
		sendError(w, r, h.metrics, "invalid report id", http.StatusBadRequest)
		return
	}

	var payload struct {
		Filename string `json:"filename"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		sendError(w, r, h.metrics, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(payload.Filename) == "" {
		sendError(w, r, h.metrics, "filename is required", http.StatusBadRequest)
		return
	}

	if err := h.repo.RenameReport(ctx, id, payload.Filename); err != nil {
		sendDomainError(w, r, h.metrics, err, "failed to rename report")
		return
	}

	report, err := h.repo.GetReport(ctx, id)
	if err != nil {
		sendDomainError(w, r, h.metrics, err, "failed to retrieve report")
		return
	}

	h.metrics.RecordAPIRequest("/api/reports/{id}", "PUT", "200")
	sendJSON(w, report, http.StatusOK)
}

// DeleteReport handles DELETE /api/reports/{id}
func (h *ReportHandler) DeleteReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(mux.Vars(r))
	if err != nil {
		sendError(w, r, h.metrics, "invalid report id", http.StatusBadRequest)
		return
	}

	if err := h.repo.DeleteReport(ctx, id); err != nil {
		sendDomainError(w, r, h.metrics, err, "failed to delete report")
		return
	}

	h.logger.Info(ctx, "[API_DELETE_REPORT] Report deleted", logging.Fields{"report_id": id})
	h.metrics.RecordAPIRequest("/api/reports/{id}", "DELETE", "204")
	w.WriteHeader(http.StatusNoContent)
}

// CalculateReport handles POST /api/reports/{id}/calculate
func (h *ReportHandler) CalculateReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(mux.Vars(r))
	if err != nil {
		sendError(w, r, h.metrics, "invalid report id", http.StatusBadRequest)
		return
	}

	if _, err := h.repo.GetReport(ctx, id); err != nil {
		sendDomainError(w, r, h.metrics, err, "failed to retrieve report")
		return
	}

	result, err := h.calc.CalculateReport(ctx, id)
	if err != nil {
		h.logger.Error(ctx, "[API_CALCULATE_ERROR] Calculation failed", logging.Fields{
			"report_id": id,
		}, err)
		h.metrics.RecordAPIError("calculation_error", "/api/reports/{id}/calculate")
		sendError(w, r, h.metrics, "failed to calculate metrics", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/reports/{id}/calculate", "POST", "200")
	sendJSON(w, result, http.StatusOK)
}

// GetReportMetrics handles GET /api/reports/{id}/metrics
func (h *ReportHandler) GetReportMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(mux.Vars(r))
	if err != nil {
		sendError(w, r, h.metrics, "invalid report id", http.StatusBadRequest)
		return
	}

	computed, err := h.repo.GetMetricsByReport(ctx, id)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_METRICS_ERROR] Failed to load metrics", logging.Fields{
			"report_id": id,
		}, err)
		sendError(w, r, h.metrics, "failed to retrieve metrics", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/reports/{id}/metrics", "GET", "200")
	sendJSON(w, map[string]interface{}{"data": computed, "count": len(computed)}, http.StatusOK)
}

// ExportReport handles GET /api/reports/{id}/export, streaming the report's
// canonical entries as CSV
func (h *ReportHandler) ExportReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(mux.Vars(r))
	if err != nil {
		sendError(w, r, h.metrics, "invalid report id", http.StatusBadRequest)
		return
	}

	report, err := h.repo.GetReport(ctx, id)
	if err != nil {
		sendDomainError(w, r, h.metrics, err, "failed to retrieve report")
		return
	}

	entries, err := h.repo.GetEntriesByReport(ctx, id)
	if err != nil {
		sendError(w, r, h.metrics, "failed to retrieve report entries", http.StatusInternalServerError)
		return
	}

	computed, err := h.repo.GetMetricsByReport(ctx, id)
	if err != nil {
		sendError(w, r, h.metrics, "failed to retrieve report metrics", http.StatusInternalServerError)
		return
	}

	// Entries join their run's computed metric on the aggregation key; a run
	// spanning several entries repeats its metric on each.
	type exportKey struct {
		date, operator, machine, part, shift, job string
	}
	metricByKey := make(map[exportKey]*models.OeeMetric, len(computed))
	for _, m := range computed {
		metricByKey[exportKey{
			date: m.Date.Format("2006-01-02"), operator: m.Operator, machine: m.Machine,
			part: m.PartNumber, shift: m.Shift, job: m.Job,
		}] = m
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "report_"+strconv.FormatInt(report.ID, 10)+".csv"))

	cw := csv.NewWriter(w)
	cw.Write([]string{
		"date", "shift", "operator", "machine", "part_number", "job",
		"good_count", "reject_count", "total_count",
		"run_time_min", "downtime_min", "planned_production_time_min",
		"availability", "performance", "quality", "oee", "confidence",
	})
	for _, e := range entries {
		row := []string{
			e.Date.Format("2006-01-02"),
			e.Shift,
			e.Operator,
			e.Machine,
			e.PartNumber,
			e.Job,
			strconv.Itoa(e.GoodCount),
			strconv.Itoa(e.RejectCount),
			strconv.Itoa(e.TotalCount),
			strconv.FormatFloat(e.RunTimeMin, 'f', -1, 64),
			strconv.FormatFloat(e.DowntimeMin, 'f', -1, 64),
			strconv.FormatFloat(e.PlannedTimeMin, 'f', -1, 64),
		}
		if m, ok := metricByKey[exportKey{
			date: e.Date.Format("2006-01-02"), operator: e.Operator, machine: e.Machine,
			part: e.PartNumber, shift: e.Shift, job: e.Job,
		}]; ok {
			row = append(row,
				strconv.FormatFloat(m.Availability, 'f', 4, 64),
				strconv.FormatFloat(m.Performance, 'f', 4, 64),
				strconv.FormatFloat(m.Quality, 'f', 4, 64),
				strconv.FormatFloat(m.OEE, 'f', 4, 64),
				m.Confidence,
			)
		} else {
			row = append(row, "", "", "", "", "")
		}
		cw.Write(row)
	}
	cw.Flush()

	h.metrics.RecordAPIRequest("/api/reports/{id}/export", "GET", "200")
}

// CreateEntry handles POST /api/reports/{id}/entries for manual record entry
func (h *ReportHandler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(mux.Vars(r))
	if err != nil {
		sendError(w, r, h.metrics, "invalid report id", http.StatusBadRequest)
		return
	}

	if _, err := h.repo.GetReport(ctx, id); err != nil {
		sendDomainError(w, r, h.metrics, err, "failed to retrieve report")
		return
	}

	var payload models.ProductionRecord
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		sendError(w, r, h.metrics, "invalid JSON body", http.StatusBadRequest)
		return
	}

	created, err := h.ingestion.CreateEntry(ctx, id, &payload)
	if err != nil {
		h.logger.Error(ctx, "[API_CREATE_ENTRY_ERROR] Failed to create entry", logging.Fields{
			"report_id": id,
		}, err)
		sendError(w, r, h.metrics, "failed to create entry", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/reports/{id}/entries", "POST", "201")
	sendJSON(w, created, http.StatusCreated)
}

// UpdateEntry handles PUT /api/entries/{id}. Derived fields are recomputed
// from the submitted counts and times before persisting.
func (h *ReportHandler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(mux.Vars(r))
	if err != nil {
		sendError(w, r, h.metrics, "invalid entry id", http.StatusBadRequest)
		return
	}

	existing, err := h.repo.GetEntry(ctx, id)
	if err != nil {
		sendDomainError(w, r, h.metrics, err, "failed to retrieve entry")
		return
	}

	var payload models.ProductionRecord
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		sendError(w, r, h.metrics, "invalid JSON body", http.StatusBadRequest)
		return
	}
	payload.ID = existing.ID
	payload.ReportID = existing.ReportID

	updated, err := h.ingestion.UpdateEntry(ctx, &payload)
	if err != nil {
		h.logger.Error(ctx, "[API_UPDATE_ENTRY_ERROR] Failed to update entry", logging.Fields{
			"entry_id": id,
		}, err)
		sendDomainError(w, r, h.metrics, err, "failed to update entry")
		return
	}

	h.metrics.RecordAPIRequest("/api/entries/{id}", "PUT", "200")
	sendJSON(w, updated, http.StatusOK)
}

// DeleteEntry handles DELETE /api/entries/{id}
func (h *ReportHandler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(mux.Vars(r))
	if err != nil {
		sendError(w, r, h.metrics, "invalid entry id", http.StatusBadRequest)
		return
	}

	if err := h.repo.DeleteEntry(ctx, id); err != nil {
		sendDomainError(w, r, h.metrics, err, "failed to delete entry")
		return
	}

	h.metrics.RecordAPIRequest("/api/entries/{id}", "DELETE", "204")
	w.WriteHeader(http.StatusNoContent)
}

// HealthCheck handles GET /health, probing database connectivity
func (h *ReportHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if err := h.repo.HealthCheck(ctx); err != nil {
		h.logger.Error(ctx, "[HEALTH_CHECK_ERROR] Database unreachable", logging.Fields{}, err)
		status["status"] = "unhealthy"
		sendJSON(w, status, http.StatusServiceUnavailable)
		return
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{})
	sendJSON(w, status, http.StatusOK)
}

// RegisterRoutes registers report, entry, and health routes
func (h *ReportHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/reports", h.UploadReport).Methods("POST")
	router.HandleFunc("/api/reports", h.ListReports).Methods("GET")
	router.HandleFunc("/api/reports/{id:[0-9]+}", h.GetReport).Methods("GET")
	router.HandleFunc("/api/reports/{id:[0-9]+}", h.RenameReport).Methods("PUT")
	router.HandleFunc("/api/reports/{id:[0-9]+}", h.DeleteReport).Methods("DELETE")
	router.HandleFunc("/api/reports/{id:[0-9]+}/calculate", h.CalculateReport).Methods("POST")
	router.HandleFunc("/api/reports/{id:[0-9]+}/metrics", h.GetReportMetrics).Methods("GET")
	router.HandleFunc("/api/reports/{id:[0-9]+}/export", h.ExportReport).Methods("GET")
	router.HandleFunc("/api/reports/{id:[0-9]+}/entries", h.CreateEntry).Methods("POST")
	router.HandleFunc("/api/entries/{id:[0-9]+}", h.UpdateEntry).Methods("PUT")
	router.HandleFunc("/api/entries/{id:[0-9]+}", h.DeleteEntry).Methods("DELETE")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
}
