package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/matiasleandrokruk/obra/internal/version"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Probe checks one dependency. Any llm.HealthChecker adapter is a Probe.
type Probe interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	db      Pinger
	probes  map[string]Probe
	timeout time.Duration
}

// NewHealthHandler creates a HealthHandler. probes are checked by /ready next to
// the database, keyed by the name reported in the response.
func NewHealthHandler(db Pinger, probes map[string]Probe) *HealthHandler {
	return &HealthHandler{db: db, probes: probes, timeout: 3 * time.Second}
}

type readyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Health handles GET /health. It never touches a dependency.
func (h *HealthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.Version})
}

// Ready handles GET /ready: 200 when the database and every probe answer, 503
// otherwise.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := readyResponse{Status: "ready", Checks: map[string]string{}}
	check := func(name string, err error) {
		if err != nil {
			resp.Status = "unavailable"
			resp.Checks[name] = err.Error()
			return
		}
		resp.Checks[name] = "ok"
	}

	check("database", h.db.PingContext(ctx))
	for name, p := range h.probes {
		check(name, p.HealthCheck(ctx))
	}

	status := http.StatusOK
	if resp.Status != "ready" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
