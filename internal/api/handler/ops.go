package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsefit/pulsefit/internal/api/models"
	"github.com/pulsefit/pulsefit/internal/api/response"
)

// OpsHandler serves health and readiness probes.
type OpsHandler struct {
	pool *pgxpool.Pool
}

func NewOpsHandler(pool *pgxpool.Pool) *OpsHandler {
	return &OpsHandler{pool: pool}
}

// Health handles GET /v1/ops/health.
func (h *OpsHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now().UTC()),
	})
}

// Ready handles GET /v1/ops/ready. The database is the only hard
// dependency of the API process.
func (h *OpsHandler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]models.HealthStatus{
		"database": models.HealthStatusOK,
	}
	status := models.HealthStatusOK
	httpStatus := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.pool.Ping(ctx); err != nil {
		checks["database"] = models.HealthStatusFail
		status = models.HealthStatusFail
		httpStatus = http.StatusServiceUnavailable
	}

	response.JSON(w, r, httpStatus, models.Readiness{
		Status: status,
		Time:   models.Timestamp(time.Now().UTC()),
		Checks: checks,
	})
}

// queryInt parses an integer query parameter with a fallback.
func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
