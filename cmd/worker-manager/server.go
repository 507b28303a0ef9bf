package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"policy-orchestrator/internal/common/database"
	"policy-orchestrator/internal/common/errors"
	"policy-orchestrator/internal/common/logger"
	"policy-orchestrator/internal/models"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type statusReader interface {
	Status(ctx context.Context, id string, logLines int) (models.Summary, error)
}

type server struct {
	deps    []database.Pinger
	status  statusReader
	logTail int
	version string
	logger  logger.Logger
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /transactions/{id}", s.handleTransaction)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": s.version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	failures := database.CheckAll(r.Context(), 2*time.Second, s.deps...)
	if len(failures) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ready",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	reasons := make(map[string]string, len(failures))
	for name, err := range failures {
		reasons[name] = err.Error()
	}
	s.logger.Warn("readiness check failed", map[string]interface{}{"failures": reasons})
	writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
		"status":   "unavailable",
		"failures": reasons,
	})
}

// handleTransaction reports the persisted summary; ?log=N overrides how many
// recent log lines are included, 0 meaning all of them.
func (s *server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	lines := s.logTail
	if v := r.URL.Query().Get("log"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "log must be a non-negative integer"})
			return
		}
		lines = n
	}

	summary, err := s.status.Status(r.Context(), r.PathValue("id"), lines)
	switch {
	case errors.Is(err, errors.ErrCodeNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "transaction not found"})
	case err != nil:
		s.logger.Error("failed to load transaction", map[string]interface{}{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	default:
		writeJSON(w, http.StatusOK, summary)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
