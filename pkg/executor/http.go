package executor

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"
)

// Handler exposes the runner over HTTP
type Handler struct {
	runner *Runner
}

// NewHandler creates an HTTP handler around a runner
func NewHandler(runner *Runner) *Handler {
	return &Handler{runner: runner}
}

// RegisterRoutes registers the executor routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/run", h.RunCode).Methods("POST")
	r.HandleFunc("/health", h.Health).Methods("GET")
}

// RunCode executes a node script and returns the execution envelope
func (h *Handler) RunCode(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.runner.Run(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrEmptyCode) {
			http.Error(w, "code must be a non-empty string", http.StatusBadRequest)
			return
		}
		log.Printf("Error executing code: %v", err)
		http.Error(w, "Execution failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Health reports executor liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}
