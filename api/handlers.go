package api

import (
	"encoding/json"
	"net/http"
	"time"
)

// HealthResponse is the body of the health probe
type HealthResponse struct {
	Status      string `json:"status"`
	Environment string `json:"environment"`
	Time        string `json:"time"`
	Uptime      string `json:"uptime"`
}

// ErrorResponse is the JSON error body returned by the pipeline
type ErrorResponse struct {
	Error     string `json:"error"`
	Status    int    `json:"status"`
	RequestID string `json:"request_id,omitempty"`
}

// healthCheck reports healthy until Stop flips the handler to draining
func (s *Startup) healthCheck(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if s.draining.Load() {
		status, code = "draining", http.StatusServiceUnavailable
	}

	s.respondJSON(w, HealthResponse{
		Status:      status,
		Environment: string(s.config.Environment),
		Time:        time.Now().UTC().Format(time.RFC3339),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}, code)
}

func (s *Startup) notFound(w http.ResponseWriter, r *http.Request) {
	writeErrorWithID(w, http.StatusNotFound, "Not found", GetRequestIDOrDefault(r.Context()))
}

func (s *Startup) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeErrorWithID(w, http.StatusMethodNotAllowed, "Method not allowed", GetRequestIDOrDefault(r.Context()))
}

func (s *Startup) respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Response already started, can't send error to client
		s.logger.Errorw("Failed to encode JSON response", "error", err)
	}
}

// writeError writes a JSON error body. Messages are fixed strings, never
// internal error text.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeErrorWithID(w, statusCode, message, w.Header().Get(RequestIDHeader))
}

func writeErrorWithID(w http.ResponseWriter, statusCode int, message, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:     message,
		Status:    statusCode,
		RequestID: requestID,
	})
}
