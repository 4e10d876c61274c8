// Wayfarer - Location-Based POI Aggregation and Narration
// Copyright 2026 Wayfarer Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wayfarerhq/wayfarer

// Package api provides the HTTP surface: Chi routing, middleware and
// handlers with a standardized response envelope.
package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/wayfarerhq/wayfarer/internal/logging"
	"github.com/wayfarerhq/wayfarer/internal/models"
)

// Error codes for API responses.
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeConflict        = "CONFLICT"
	ErrCodeUpstream        = "UPSTREAM_UNAVAILABLE"
	ErrCodeDatabase        = "DATABASE_ERROR"
	ErrCodeRateLimit       = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal        = "INTERNAL_ERROR"
	ErrCodeMethodNotAllow  = "METHOD_NOT_ALLOWED"
	ErrCodeRequestTooLarge = "REQUEST_TOO_LARGE"
)

// ResponseWriter writes the standardized envelope.
type ResponseWriter struct {
	w         http.ResponseWriter
	r         *http.Request
	startTime time.Time
}

// NewResponseWriter creates a response writer for one request.
func NewResponseWriter(w http.ResponseWriter, r *http.Request) *ResponseWriter {
	return &ResponseWriter{w: w, r: r, startTime: time.Now()}
}

// Success writes a 200 envelope with data.
func (rw *ResponseWriter) Success(data interface{}) {
	rw.SuccessCached(data, false)
}

// SuccessCached writes a 200 envelope marking whether the payload came
// from a cache.
func (rw *ResponseWriter) SuccessCached(data interface{}, cached bool) {
	rw.writeJSON(http.StatusOK, models.APIResponse{
		Status:   "success",
		Data:     data,
		Metadata: rw.metadata(cached),
	})
}

// Created writes a 201 envelope with data.
func (rw *ResponseWriter) Created(data interface{}) {
	rw.writeJSON(http.StatusCreated, models.APIResponse{
		Status:   "success",
		Data:     data,
		Metadata: rw.metadata(false),
	})
}

// Error writes an error envelope with the given status code.
func (rw *ResponseWriter) Error(statusCode int, code, message string) {
	rw.ErrorWithDetails(statusCode, code, message, nil)
}

// ErrorWithDetails writes an error envelope with structured details.
func (rw *ResponseWriter) ErrorWithDetails(statusCode int, code, message string, details map[string]interface{}) {
	rw.writeJSON(statusCode, models.APIResponse{
		Status: "error",
		Error: &models.APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		Metadata: rw.metadata(false),
	})
}

// BadRequest writes a 400 validation error.
func (rw *ResponseWriter) BadRequest(message string) {
	rw.Error(http.StatusBadRequest, ErrCodeValidation, message)
}

// NotFound writes a 404 error.
func (rw *ResponseWriter) NotFound(message string) {
	rw.Error(http.StatusNotFound, ErrCodeNotFound, message)
}

// Conflict writes a 409 error.
func (rw *ResponseWriter) Conflict(message string) {
	rw.Error(http.StatusConflict, ErrCodeConflict, message)
}

// UpstreamUnavailable writes a 503 error for provider failures.
func (rw *ResponseWriter) UpstreamUnavailable(message string) {
	rw.Error(http.StatusServiceUnavailable, ErrCodeUpstream, message)
}

// DatabaseError logs the cause and writes a 500 without leaking it.
func (rw *ResponseWriter) DatabaseError(err error) {
	logging.Error().Err(err).Msg("Database error")
	rw.Error(http.StatusInternalServerError, ErrCodeDatabase, "A database error occurred")
}

// InternalError writes a 500 error.
func (rw *ResponseWriter) InternalError(message string) {
	rw.Error(http.StatusInternalServerError, ErrCodeInternal, message)
}

func (rw *ResponseWriter) metadata(cached bool) models.Metadata {
	return models.Metadata{
		Timestamp:   time.Now(),
		QueryTimeMS: time.Since(rw.startTime).Milliseconds(),
		Cached:      cached,
		RequestID:   logging.RequestIDFromContext(rw.r.Context()),
	}
}

func (rw *ResponseWriter) writeJSON(statusCode int, data interface{}) {
	rw.w.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.w.WriteHeader(statusCode)

	if err := json.NewEncoder(rw.w).Encode(data); err != nil {
		logging.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
