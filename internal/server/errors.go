package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"csvsearch/internal/domain"
	"csvsearch/internal/logging"
)

type apiError struct {
	Error   string `json:"error"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, stage, message string) {
	writeJSON(w, status, apiError{Error: code, Stage: stage, Message: message})
}

// errorStatus maps a pipeline error to an HTTP status and a stable error code.
func errorStatus(err error) (int, string) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge, "upload_too_large"
	case errors.Is(err, domain.ErrCollectionNotFound):
		return http.StatusNotFound, "collection_not_found"
	case errors.Is(err, domain.ErrModelUnavailable):
		return http.StatusServiceUnavailable, "model_unavailable"
	case errors.Is(err, domain.ErrModelMismatch):
		return http.StatusConflict, "model_mismatch"
	case errors.Is(err, domain.ErrMalformedFile):
		return http.StatusBadRequest, "malformed_file"
	case errors.Is(err, domain.ErrMissingColumn):
		return http.StatusBadRequest, "missing_column"
	case errors.Is(err, domain.ErrEmptyQuery):
		return http.StatusBadRequest, "empty_query"
	case errors.Is(err, domain.ErrInvalidBatch):
		return http.StatusBadRequest, "invalid_batch"
	case errors.Is(err, domain.ErrDimensionMismatch):
		return http.StatusBadRequest, "dimension_mismatch"
	}
	return http.StatusInternalServerError, "internal"
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	stage := domain.StageOf(err)

	lg := logging.FromContext(r.Context(), s.logger)
	if status >= http.StatusInternalServerError {
		lg.Error("request failed", "path", r.URL.Path, "stage", stage, "err", err)
	} else {
		lg.Warn("request rejected", "path", r.URL.Path, "stage", stage, "code", code, "err", err)
	}
	writeError(w, status, code, stage, err.Error())
}
