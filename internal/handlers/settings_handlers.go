package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"oee-platform/internal/models"
	"oee-platform/internal/repository"
	"oee-platform/pkg/logging"
	"oee-platform/pkg/metrics"
)

// SettingsHandler handles calculation settings endpoints
type SettingsHandler struct {
	repo    repository.OeeRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(repo repository.OeeRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *SettingsHandler {
	return &SettingsHandler{repo: repo, logger: logger, metrics: metricsCollector}
}

// ListSettings handles GET /api/settings
func (h *SettingsHandler) ListSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	settings, err := h.repo.ListSettings(ctx)
	if err != nil {
		h.logger.Error(ctx, "[API_LIST_SETTINGS_ERROR] Failed to list settings", logging.Fields{}, err)
		sendError(w, r, h.metrics, "failed to retrieve settings", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/settings", "GET", "200")
	sendJSON(w, map[string]interface{}{"data": settings}, http.StatusOK)
}

// GetSetting handles GET /api/settings/{key}
func (h *SettingsHandler) GetSetting(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := mux.Vars(r)["key"]

	setting, err := h.repo.GetSetting(ctx, key)
	if err != nil {
		sendDomainError(w, r, h.metrics, err, "failed to retrieve setting")
		return
	}

	h.metrics.RecordAPIRequest("/api/settings/{key}", "GET", "200")
	sendJSON(w, setting, http.StatusOK)
}

// UpsertSetting handles PUT /api/settings/{key}. Settings take effect on the
// next calculation; no recalculation is triggered.
func (h *SettingsHandler) UpsertSetting(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := mux.Vars(r)["key"]

	var setting models.Setting
	if err := json.NewDecoder(r.Body).Decode(&setting); err != nil {
		sendError(w, r, h.metrics, "invalid JSON body", http.StatusBadRequest)
		return
	}
	setting.Key = key

	if strings.TrimSpace(setting.Value) == "" {
		sendError(w, r, h.metrics, "value is required", http.StatusBadRequest)
		return
	}

	if err := h.repo.UpsertSetting(ctx, &setting); err != nil {
		h.logger.Error(ctx, "[API_UPSERT_SETTING_ERROR] Failed to save setting", logging.Fields{
			"key": key,
		}, err)
		sendError(w, r, h.metrics, "failed to save setting", http.StatusInternalServerError)
		return
	}

	h.logger.Info(ctx, "[API_SETTING_SAVED] Setting updated", logging.Fields{
		"key":   key,
		"value": setting.Value,
	})
	h.metrics.RecordAPIRequest("/api/settings/{key}", "PUT", "200")
	sendJSON(w, setting, http.StatusOK)
}

// RegisterRoutes registers settings routes
func (h *SettingsHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/settings", h.ListSettings).Methods("GET")
	router.HandleFunc("/api/settings/{key}", h.GetSetting).Methods("GET")
	router.HandleFunc("/api/settings/{key}", h.UpsertSetting).Methods("PUT")
}
