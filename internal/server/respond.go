package server

import (
	"encoding/json"
	"net/http"

	"modeldrop/internal/logging"
)

type errorResponse struct {
	Error string `json:"error"`
}

type urlResponse struct {
	URL string `json:"url"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// storedFile is one entry of the list response.
type storedFile struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("response_encode_failed", logging.Fields{"status": status, "error": err.Error()})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// clientError answers a request the client got wrong. Logged at debug so a
// noisy client does not flood the log.
func clientError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	logging.Debug("client_error", logging.Fields{
		"rid":    RequestIDFromContext(r.Context()),
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
		"reason": msg,
	})
	writeError(w, status, msg)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	clientError(w, r, http.StatusMethodNotAllowed, "Method not allowed")
}

func notFound(w http.ResponseWriter, r *http.Request) {
	clientError(w, r, http.StatusNotFound, "Not found")
}

func missingFilename(w http.ResponseWriter, r *http.Request) {
	clientError(w, r, http.StatusBadRequest, "Missing filename")
}
