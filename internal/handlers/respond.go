package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"oee-platform/internal/parser"
	"oee-platform/internal/repository"
	"oee-platform/pkg/metrics"
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Code    int         `json:"code"`
	Detail  interface{} `json:"detail,omitempty"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

// sendJSON sends a JSON response
func sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response and records it against the request path
func sendError(w http.ResponseWriter, r *http.Request, mc *metrics.Collector, message string, statusCode int) {
	mc.RecordAPIRequest(r.URL.Path, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	sendJSON(w, response, statusCode)
}

// sendDomainError maps known domain errors onto HTTP statuses; anything
// unrecognized is a 500 with the supplied fallback message.
func sendDomainError(w http.ResponseWriter, r *http.Request, mc *metrics.Collector, err error, fallback string) {
	var notFound *repository.NotFoundError
	if errors.As(err, &notFound) {
		sendError(w, r, mc, notFound.Error(), http.StatusNotFound)
		return
	}

	var schemaErr *parser.SchemaError
	if errors.As(err, &schemaErr) {
		mc.RecordAPIRequest(r.URL.Path, r.Method, strconv.Itoa(http.StatusBadRequest))
		sendJSON(w, ErrorResponse{
			Error:   http.StatusText(http.StatusBadRequest),
			Message: schemaErr.Error(),
			Code:    http.StatusBadRequest,
			Detail: map[string]interface{}{
				"found_columns": schemaErr.FoundColumns,
				"missing":       schemaErr.Missing,
				"preview":       schemaErr.Preview,
			},
		}, http.StatusBadRequest)
		return
	}

	var parseErr *parser.ParseError
	if errors.As(err, &parseErr) {
		sendError(w, r, mc, parseErr.Error(), http.StatusBadRequest)
		return
	}

	sendError(w, r, mc, fallback, http.StatusInternalServerError)
}

// pagination extracts page/limit query parameters with defaults
func pagination(r *http.Request) (page, limit, offset int) {
	page = 1
	limit = 100

	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}

	offset = (page - 1) * limit
	return page, limit, offset
}

// pathID parses the {id} route variable
func pathID(vars map[string]string) (int64, error) {
	return strconv.ParseInt(vars["id"], 10, 64)
}
