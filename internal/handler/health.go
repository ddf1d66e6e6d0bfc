package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/matcha/internal/repository"
)

const healthPingTimeout = 2 * time.Second

// HealthHandler reports process and database liveness.
type HealthHandler struct {
	db     repository.Pinger
	logger *slog.Logger
}

func NewHealthHandler(db repository.Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, logger: logger}
}

// HandleHealth answers 200 {"status":"ok"} when the database answers a ping
// and 503 {"status":"unavailable"} when it does not.
//
// HTTP: GET /health
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.logger.WarnContext(r.Context(), "health check failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
