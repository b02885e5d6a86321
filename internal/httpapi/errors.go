package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"streamd/internal/inference"
	"streamd/internal/session"
	"streamd/internal/tools"
	"streamd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var he HTTPError
	switch {
	case errors.As(err, &he):
		return he.StatusCode()
	case session.IsNotLoaded(err), session.IsLoadSuperseded(err), session.IsGenerationInProgress(err):
		return http.StatusConflict
	case session.IsTooBusy(err):
		return http.StatusTooManyRequests
	case inference.IsModelNotFound(err):
		return http.StatusNotFound
	case inference.IsDependencyUnavailable(err):
		return http.StatusServiceUnavailable
	case tools.IsDuplicateToolName(err), tools.IsUnknownTool(err), tools.IsInvalidDefinition(err):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}
