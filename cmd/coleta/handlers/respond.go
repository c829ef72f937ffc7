// Package handlers provides the REST API of the survey capture service.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/errors"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/logging"
)

// Broadcaster pushes an event to connected WebSocket clients.
type Broadcaster interface {
	Broadcast(eventType string, data interface{})
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrInvalid, apperrors.ErrValidation, apperrors.ErrMalformedRecord:
		return http.StatusBadRequest
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrDuplicate, apperrors.ErrSyncInProgress:
		return http.StatusConflict
	case apperrors.ErrConnectivityUnavailable, apperrors.ErrSyncNotConfigured:
		return http.StatusServiceUnavailable
	case apperrors.ErrUploadFailed, apperrors.ErrSubmissionFailed:
		return http.StatusBadGateway
	case apperrors.ErrSyncTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.CodeOf(err)
	status := StatusFor(code)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithCode("request failed", string(code), err, map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
		})
	}

	var body errorBody
	body.Error.Code = string(code)
	body.Error.Message = err.Error()
	var ae *apperrors.AppError
	if errors.As(err, &ae) {
		body.Error.Message = ae.Message
	}
	writeJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, r *http.Request, message string) {
	writeError(w, r, apperrors.New(apperrors.ErrInvalid, message))
}
