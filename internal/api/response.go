// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

package api

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/crewmint/shiftbeacon/internal/logging"
)

// APIResponse is the envelope every endpoint answers with, so the host
// application can process success and failure uniformly.
type APIResponse struct {
	Success bool `json:"success"`

	// Data carries the payload, nil on failure.
	Data interface{} `json:"data,omitempty"`

	// Error carries the failure, nil on success.
	Error *APIError `json:"error,omitempty"`

	Meta *APIMeta `json:"meta,omitempty"`
}

// APIError pairs a machine-readable code with a message the worker-facing
// app can surface as-is.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	// Details holds structured context, typically per-field validation
	// failures.
	Details interface{} `json:"details,omitempty"`

	RequestID string `json:"request_id,omitempty"`
}

// APIMeta stamps a response for request tracing.
type APIMeta struct {
	RequestID  string    `json:"request_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms,omitempty"`
}

// Machine-readable error codes. The host application switches on these,
// so they are stable across releases.
const (
	ErrCodeBadRequest           = "BAD_REQUEST"
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeMethodNotAllowed     = "METHOD_NOT_ALLOWED"
	ErrCodeConflict             = "CONFLICT"
	ErrCodeTooManyRequests      = "TOO_MANY_REQUESTS"
	ErrCodeUnsupportedMediaType = "UNSUPPORTED_MEDIA_TYPE"
	ErrCodeValidationFailed     = "VALIDATION_FAILED"
	ErrCodeInternalError        = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable   = "SERVICE_UNAVAILABLE"
)

// ResponseWriter renders envelopes for one request/response pair.
type ResponseWriter struct {
	w     http.ResponseWriter
	r     *http.Request
	start time.Time
}

func NewResponseWriter(w http.ResponseWriter, r *http.Request) *ResponseWriter {
	return &ResponseWriter{w: w, r: r, start: time.Now()}
}

// Success writes 200 with the payload.
func (rw *ResponseWriter) Success(data interface{}) {
	rw.send(http.StatusOK, APIResponse{Success: true, Data: data})
}

// Accepted writes 202. Fix intake uses it: the sample has been taken by
// the capture path, and delivery happens after the response.
func (rw *ResponseWriter) Accepted(data interface{}) {
	rw.send(http.StatusAccepted, APIResponse{Success: true, Data: data})
}

// Error writes an error envelope with the given status and code.
func (rw *ResponseWriter) Error(status int, code, message string) {
	rw.ErrorWithDetails(status, code, message, nil)
}

// ErrorWithDetails writes an error envelope carrying structured details.
func (rw *ResponseWriter) ErrorWithDetails(status int, code, message string, details interface{}) {
	rw.send(status, APIResponse{
		Success: false,
		Error:   &APIError{Code: code, Message: message, Details: details},
	})
}

// BadRequest writes 400 for requests the server could not parse.
func (rw *ResponseWriter) BadRequest(message string) {
	rw.Error(http.StatusBadRequest, ErrCodeBadRequest, message)
}

// NotFound writes 404.
func (rw *ResponseWriter) NotFound(message string) {
	rw.Error(http.StatusNotFound, ErrCodeNotFound, message)
}

// MethodNotAllowed writes 405.
func (rw *ResponseWriter) MethodNotAllowed(message string) {
	rw.Error(http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, message)
}

// Conflict writes 409 for operations invalid in the current tracking state.
func (rw *ResponseWriter) Conflict(message string) {
	rw.Error(http.StatusConflict, ErrCodeConflict, message)
}

// UnsupportedMediaType writes 415 for non-JSON request bodies.
func (rw *ResponseWriter) UnsupportedMediaType(message string) {
	rw.Error(http.StatusUnsupportedMediaType, ErrCodeUnsupportedMediaType, message)
}

// ValidationError writes 422 with the per-field failures as details.
func (rw *ResponseWriter) ValidationError(message string, details interface{}) {
	rw.ErrorWithDetails(http.StatusUnprocessableEntity, ErrCodeValidationFailed, message, details)
}

// TooManyRequests writes 429 when the rate limiter rejects the caller.
func (rw *ResponseWriter) TooManyRequests(message string) {
	rw.Error(http.StatusTooManyRequests, ErrCodeTooManyRequests, message)
}

// InternalError writes 500.
func (rw *ResponseWriter) InternalError(message string) {
	rw.Error(http.StatusInternalServerError, ErrCodeInternalError, message)
}

// ServiceUnavailable writes 503.
func (rw *ResponseWriter) ServiceUnavailable(message string) {
	rw.Error(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, message)
}

func (rw *ResponseWriter) send(status int, resp APIResponse) {
	meta := &APIMeta{
		RequestID:  chimiddleware.GetReqID(rw.r.Context()),
		Timestamp:  time.Now().UTC(),
		DurationMs: time.Since(rw.start).Milliseconds(),
	}
	resp.Meta = meta
	if resp.Error != nil {
		resp.Error.RequestID = meta.RequestID
	}

	rw.w.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.w.WriteHeader(status)
	if err := json.NewEncoder(rw.w).Encode(resp); err != nil {
		logging.Error().Err(err).Msg("Failed to encode response envelope")
	}
}
