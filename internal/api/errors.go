package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/sensor"
)

// Error is the JSON body of every failed request.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	ErrCodeBadRequest        = "bad_request"
	ErrCodeNotFound          = "not_found"
	ErrCodeNotConnected      = "not_connected"
	ErrCodeNoDataYet         = "no_data_yet"
	ErrCodeResourceExhausted = "resource_exhausted"
	ErrCodeConnection        = "connection_error"
	ErrCodeUnsupported       = "unsupported"
	ErrCodeInvalidArgument   = "invalid_argument"
	ErrCodeControlFailure    = "control_failure"
	ErrCodeCancelled         = "request_cancelled"
	ErrCodeInternal          = "internal_error"
	ErrCodeMethodNotAllow    = "method_not_allowed"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // connection may already be gone
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeHubError maps a hub error to its status code.
func writeHubError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	writeError(w, status, code, err.Error())
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, sensor.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, sensor.ErrNotConnected):
		return http.StatusBadRequest, ErrCodeNotConnected
	case errors.Is(err, sensor.ErrNoDataYet):
		return http.StatusServiceUnavailable, ErrCodeNoDataYet
	case errors.Is(err, sensor.ErrResourceExhausted):
		return http.StatusServiceUnavailable, ErrCodeResourceExhausted
	case errors.Is(err, sensor.ErrConnection):
		return http.StatusBadGateway, ErrCodeConnection
	case errors.Is(err, sensor.ErrUnsupported):
		return http.StatusBadRequest, ErrCodeUnsupported
	case errors.Is(err, sensor.ErrInvalidArgument):
		return http.StatusBadRequest, ErrCodeInvalidArgument
	case errors.Is(err, sensor.ErrControlFailure):
		return http.StatusInternalServerError, ErrCodeControlFailure
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, ErrCodeCancelled
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}
