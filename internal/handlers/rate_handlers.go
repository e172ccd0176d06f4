package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"oee-platform/internal/models"
	"oee-platform/internal/repository"
	"oee-platform/internal/services"
	"oee-platform/pkg/logging"
	"oee-platform/pkg/metrics"
)

// RateHandler handles rate catalog endpoints
type RateHandler struct {
	rates   *services.RateService
	repo    repository.OeeRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewRateHandler creates a new rate handler
func NewRateHandler(
	rates *services.RateService,
	repo repository.OeeRepository,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *RateHandler {
	return &RateHandler{
		rates:   rates,
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// ListRates handles GET /api/rates
func (h *RateHandler) ListRates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page, limit, offset := pagination(r)

	filter := repository.RateFilter{Limit: limit, Offset: offset}

	if part := strings.TrimSpace(r.URL.Query().Get("part_number")); part != "" {
		filter.PartNumber = &part
	}
	if activeStr := r.URL.Query().Get("active"); activeStr != "" {
		active, err := strconv.ParseBool(activeStr)
		if err != nil {
			sendError(w, r, h.metrics, "invalid active flag, expected true or false", http.StatusBadRequest)
			return
		}
		filter.Active = &active
	}

	rates, total, err := h.repo.ListRates(ctx, filter)
	if err != nil {
		h.logger.Error(ctx, "[API_LIST_RATES_ERROR] Failed to list rates", logging.Fields{}, err)
		h.metrics.RecordAPIError("internal_error", "/api/rates")
		sendError(w, r, h.metrics, "failed to retrieve rates", http.StatusInternalServerError)
		return
	}

	totalPages := (total + limit - 1) / limit

	h.metrics.RecordAPIRequest("/api/rates", "GET", "200")
	sendJSON(w, PaginatedResponse{
		Data:       rates,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
	}, http.StatusOK)
}

// CreateRate handles POST /api/rates
func (h *RateHandler) CreateRate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rate models.StandardRate
	if err := json.NewDecoder(r.Body).Decode(&rate); err != nil {
		sendError(w, r, h.metrics, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(rate.PartNumber) == "" {
		sendError(w, r, h.metrics, "part_number is required", http.StatusBadRequest)
		return
	}

	if err := h.rates.CreateRate(ctx, &rate); err != nil {
		h.logger.Error(ctx, "[API_CREATE_RATE_ERROR] Failed to create rate", logging.Fields{
			"part_number": rate.PartNumber,
		}, err)
		sendError(w, r, h.metrics, "failed to create rate", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/rates", "POST", "201")
	sendJSON(w, rate, http.StatusCreated)
}

// GetRate handles GET /api/rates/{id}
func (h *RateHandler) GetRate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(mux.Vars(r))
	if err != nil {
		sendError(w, r, h.metrics, "invalid rate id", http.StatusBadRequest)
		return
	}

	rate, err := h.repo.GetRate(ctx, id)
	if err != nil {
		sendDomainError(w, r, h.metrics, err, "failed to retrieve rate")
		return
	}

	h.metrics.RecordAPIRequest("/api/rates/{id}", "GET", "200")
	sendJSON(w, rate, http.StatusOK)
}

// UpdateRate handles PUT /api/rates/{id}. Field-level changes are written to
// the audit trail and affected reports are recalculated in the background.
func (h *RateHandler) UpdateRate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(mux.Vars(r))
	if err != nil {
		sendError(w, r, h.metrics, "invalid rate id", http.StatusBadRequest)
		return
	}

	var rate models.StandardRate
	if err := json.NewDecoder(r.Body).Decode(&rate); err != nil {
		sendError(w, r, h.metrics, "invalid JSON body", http.StatusBadRequest)
		return
	}
	rate.ID = id

	if err := h.rates.UpdateRate(ctx, &rate); err != nil {
		h.logger.Error(ctx, "[API_UPDATE_RATE_ERROR] Failed to update rate", logging.Fields{
			"rate_id": id,
		}, err)
		sendDomainError(w, r, h.metrics, err, "failed to update rate")
		return
	}

	h.metrics.RecordAPIRequest("/api/rates/{id}", "PUT", "200")
	sendJSON(w, rate, http.StatusOK)
}

// DeleteRate handles DELETE /api/rates/{id}
func (h *RateHandler) DeleteRate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(mux.Vars(r))
	if err != nil {
		sendError(w, r, h.metrics, "invalid rate id", http.StatusBadRequest)
		return
	}

	if err := h.rates.DeleteRate(ctx, id); err != nil {
		sendDomainError(w, r, h.metrics, err, "failed to delete rate")
		return
	}

	h.metrics.RecordAPIRequest("/api/rates/{id}", "DELETE", "204")
	w.WriteHeader(http.StatusNoContent)
}

// GetRateAudits handles GET /api/rates/{id}/audits
func (h *RateHandler) GetRateAudits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(mux.Vars(r))
	if err != nil {
		sendError(w, r, h.metrics, "invalid rate id", http.StatusBadRequest)
		return
	}

	if _, err := h.repo.GetRate(ctx, id); err != nil {
		sendDomainError(w, r, h.metrics, err, "failed to retrieve rate")
		return
	}

	audits, err := h.repo.GetRateAudits(ctx, id)
	if err != nil {
		h.logger.Error(ctx, "[API_RATE_AUDITS_ERROR] Failed to load audits", logging.Fields{
			"rate_id": id,
		}, err)
		sendError(w, r, h.metrics, "failed to retrieve audit trail", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/rates/{id}/audits", "GET", "200")
	sendJSON(w, map[string]interface{}{"data": audits, "count": len(audits)}, http.StatusOK)
}

// BulkUpload handles POST /api/rates/upload
func (h *RateHandler) BulkUpload(w http.ResponseWriter, r *http.Request) {
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

	result, err := h.rates.BulkUpload(ctx, data, header.Filename)
	if err != nil {
		h.logger.Error(ctx, "[API_RATE_UPLOAD_ERROR] Bulk rate upload failed", logging.Fields{
			"filename": header.Filename,
		}, err)
		sendDomainError(w, r, h.metrics, err, "failed to process rate upload")
		return
	}

	h.metrics.RecordAPIRequest("/api/rates/upload", "POST", "201")
	sendJSON(w, result, http.StatusCreated)
}

// RegisterRoutes registers rate catalog routes
func (h *RateHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/rates", h.ListRates).Methods("GET")
	router.HandleFunc("/api/rates", h.CreateRate).Methods("POST")
	router.HandleFunc("/api/rates/upload", h.BulkUpload).Methods("POST")
	router.HandleFunc("/api/rates/{id:[0-9]+}", h.GetRate).Methods("GET")
	router.HandleFunc("/api/rates/{id:[0-9]+}", h.UpdateRate).Methods("PUT")
	router.HandleFunc("/api/rates/{id:[0-9]+}", h.DeleteRate).Methods("DELETE")
	router.HandleFunc("/api/rates/{id:[0-9]+}/audits", h.GetRateAudits).Methods("GET")
}
