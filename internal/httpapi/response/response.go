// Package response provides the standard JSON error envelope for the HTTP
// surface, matching the shape the validation middleware already emits.
package response

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

// Envelope is the standard error response body.
type Envelope struct {
	Error Detail `json:"error"`
}

type Detail struct {
	Code    string  `json:"code"`
	Message string  `json:"message"`
	Details []Field `json:"details"`
}

type Field struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("response: failed to encode json body", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Envelope{Error: Detail{Code: code, Message: message, Details: []Field{}}})
}

// Unauthorized writes a 401 response (bad or missing shared secret).
func Unauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", message)
}

// BadRequest writes a 400 response (malformed request body).
func BadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, "BAD_REQUEST", message)
}

// NotFound writes a 404 response.
func NotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, "NOT_FOUND", message)
}

// TooManyRequests writes a 429 response with a Retry-After header.
func TooManyRequests(w http.ResponseWriter, retryAfterSeconds int) {
	if retryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
}

// ServiceUnavailable writes a 503 response (concurrency guard saturated).
func ServiceUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, "SATURATED", message)
}

// InternalError writes a 500 response.
func InternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", message)
}

// BadGateway writes a 502 response (a synchronous provider call failed).
func BadGateway(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadGateway, "BAD_GATEWAY", message)
}

// GatewayTimeout writes a 504 response (a synchronous provider call didn't
// finish before the handler's own deadline).
func GatewayTimeout(w http.ResponseWriter, message string) {
	writeError(w, http.StatusGatewayTimeout, "GATEWAY_TIMEOUT", message)
}

// JSON writes any successful response body as JSON with the given status.
func JSON(w http.ResponseWriter, status int, body any) {
	writeJSON(w, status, body)
}
