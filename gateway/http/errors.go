package http

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/c360/quakestream/errors"
	"github.com/c360/quakestream/health"
)

// errorResponse is the body of every error reply
type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// mapErrorToHTTPStatus maps classified errors to HTTP status codes.
// Upstream feed failures are 502 whatever their class.
func mapErrorToHTTPStatus(err error) int {
	if err == nil {
		return http.StatusInternalServerError
	}

	switch {
	case stderrors.Is(err, errors.ErrFeedUnavailable), stderrors.Is(err, errors.ErrFeedMalformed):
		return http.StatusBadGateway
	case stderrors.Is(err, errors.ErrRequestTooLarge):
		return http.StatusRequestEntityTooLarge
	case stderrors.Is(err, errors.ErrRateLimited):
		return http.StatusTooManyRequests
	}

	if errors.IsInvalid(err) {
		return http.StatusBadRequest
	}
	if errors.IsFatal(err) {
		return http.StatusInternalServerError
	}
	if errors.IsTransient(err) {
		if strings.Contains(err.Error(), "timeout") {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	}

	return http.StatusInternalServerError
}

// shortMessage is the stable "error" field for a status code
func shortMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid request"
	case http.StatusRequestEntityTooLarge:
		return "request body too large"
	case http.StatusTooManyRequests:
		return "rate limit exceeded"
	case http.StatusBadGateway:
		return "upstream feed unavailable"
	case http.StatusServiceUnavailable:
		return "service temporarily unavailable"
	case http.StatusGatewayTimeout:
		return "request timeout"
	default:
		return "internal server error"
	}
}

// clientDetail returns the cause of err without the component.method
// prefix, with URLs, addresses and credentials removed. Fatal errors
// expose nothing.
func clientDetail(err error) string {
	if err == nil || errors.IsFatal(err) {
		return ""
	}

	cause := err
	var ce *errors.ClassifiedError
	if stderrors.As(err, &ce) {
		// ce.Err is the "component.method: action failed: %w" wrapper
		if inner := stderrors.Unwrap(ce.Err); inner != nil {
			cause = inner
		}
	}
	return health.SanitizeError(cause)
}

// writeFailure maps err to a status and writes the error body
func (g *Gateway) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	g.writeError(w, r, status, shortMessage(status), clientDetail(err))
}

// writeError writes an error response
func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, status int, message, details string) {
	g.requestsFailed.Add(1)
	g.logger.Debug("Request failed",
		"request_id", RequestIDFromContext(r.Context()),
		"path", r.URL.Path,
		"status", status,
		"details", details)
	g.writeJSON(w, status, errorResponse{Error: message, Details: details})
}

// writeJSON writes v as the JSON response body
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		g.logger.Error("Failed to encode response", "error", err)
		status = http.StatusInternalServerError
		data = []byte(`{"error":"internal server error"}`)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
