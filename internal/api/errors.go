package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-sim/internal/clock"
	"github.com/nerrad567/gray-logic-sim/internal/composer"
	"github.com/nerrad567/gray-logic-sim/internal/device"
	"github.com/nerrad567/gray-logic-sim/internal/entity"
	"github.com/nerrad567/gray-logic-sim/internal/host"
	"github.com/nerrad567/gray-logic-sim/internal/recorder"
)

// Error is the body of every error response, wrapped as {"error": {...}}.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error Error `json:"error"`
}

// Common error codes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeUnauthorized       = "unauthorised"
	ErrCodeForbidden          = "forbidden"
	ErrCodeConflict           = "conflict"
	ErrCodeInternal           = "internal_error"
	ErrCodeValidation         = "validation_error"
	ErrCodeTimeout            = "timeout"
	ErrCodeServiceUnavailable = "service_unavailable"
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
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: Error{Code: code, Message: message}})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps an error from the simulator onto a status code.
func writeDomainError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeError(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, host.ErrEntityNotFound),
		errors.Is(err, device.ErrFunctionNotFound),
		errors.Is(err, device.ErrVarNotFound),
		errors.Is(err, device.ErrLinkNotFound),
		errors.Is(err, recorder.ErrRunNotFound):
		return http.StatusNotFound, ErrCodeNotFound

	case errors.Is(err, composer.ErrAlreadyActive),
		errors.Is(err, composer.ErrAlreadyConfigured),
		errors.Is(err, composer.ErrNotInactive),
		errors.Is(err, composer.ErrNotLoaded),
		errors.Is(err, composer.ErrNotActive),
		errors.Is(err, composer.ErrDuplicateEntity),
		errors.Is(err, composer.ErrMissingHost),
		errors.Is(err, composer.ErrMissingParameters),
		errors.Is(err, entity.ErrMissingDependency),
		errors.Is(err, host.ErrEntityExists),
		errors.Is(err, clock.ErrStopped),
		errors.Is(err, clock.ErrAlreadyRunning):
		return http.StatusConflict, ErrCodeConflict

	case errors.Is(err, entity.ErrMalformedDeclaration),
		errors.Is(err, device.ErrUnknownEntityType),
		errors.Is(err, entity.ErrInvalidParameters),
		errors.Is(err, entity.ErrNotMaterializable),
		errors.Is(err, composer.ErrInvalidScenario),
		errors.Is(err, clock.ErrInvalidTarget),
		errors.Is(err, clock.ErrInvalidCommand),
		errors.Is(err, clock.ErrUnknownCommand),
		errors.Is(err, device.ErrReadOnly),
		errors.Is(err, device.ErrInvalidValue),
		errors.Is(err, device.ErrInvalidLink),
		errors.Is(err, device.ErrInvalidConfig):
		return http.StatusBadRequest, ErrCodeValidation

	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, ErrCodeTimeout
	}
	return http.StatusInternalServerError, ErrCodeInternal
}
