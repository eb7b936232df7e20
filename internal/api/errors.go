package api

import (
	"encoding/json"
	"net/http"
)

// Error represents a structured error response. TraceID echoes the
// request's X-Request-ID.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest          = "bad_request"
	ErrCodeMalformed           = "malformed"
	ErrCodeNotFound            = "not_found"
	ErrCodeUnauthenticated     = "unauthenticated"
	ErrCodeForbidden           = "forbidden"
	ErrCodeRetentionKeyInvalid = "retention_key_invalid"
	ErrCodeInternal            = "internal_error"
	ErrCodeMethodNotAllow      = "method_not_allowed"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
		TraceID: requestID(r),
	})
}

func writeBadRequest(w http.ResponseWriter, r *http.Request, message string) {
	writeError(w, r, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeMalformed(w http.ResponseWriter, r *http.Request, message string) {
	writeError(w, r, http.StatusBadRequest, ErrCodeMalformed, message)
}

func writeInternalError(w http.ResponseWriter, r *http.Request, message string) {
	writeError(w, r, http.StatusInternalServerError, ErrCodeInternal, message)
}
