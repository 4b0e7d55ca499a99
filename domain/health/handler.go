package health

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cortexa-labs/ragserver/internal/config"
	"github.com/cortexa-labs/ragserver/internal/embedding"
	"github.com/cortexa-labs/ragserver/internal/queue"
	"github.com/cortexa-labs/ragserver/internal/vectorstore"
	"github.com/cortexa-labs/ragserver/internal/version"
)

// Handler handles health check requests
type Handler struct {
	queue     *queue.Client
	embedding *embedding.Client
	vectors   *vectorstore.Store
	cfg       *config.Config
	startAt   time.Time
}

// NewHandler creates a new health handler
func NewHandler(q *queue.Client, emb *embedding.Client, vectors *vectorstore.Store, cfg *config.Config) *Handler {
	return &Handler{
		queue:     q,
		embedding: emb,
		vectors:   vectors,
		cfg:       cfg,
		startAt:   time.Now(),
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string           `json:"status"`
	Timestamp string           `json:"timestamp"`
	Uptime    string           `json:"uptime"`
	Version   string           `json:"version"`
	Checks    map[string]Check `json:"checks"`
}

// Check represents an individual health check result
type Check struct {
	Status string `json:"status"`
}

// Health returns the overall service health with per-dependency checks.
// Degraded dependencies do not fail the endpoint: the queue has a
// synchronous fallback and retrieval degrades per-mode, so only a fully
// broken service reports unhealthy.
func (h *Handler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := map[string]Check{
		"redis":     checkOf(h.queue.Healthy(ctx)),
		"embedding": checkOf(h.embedding.Healthy(ctx)),
		"qdrant":    checkOf(h.vectors.Healthy(ctx)),
	}

	overallStatus := "healthy"
	statusCode := http.StatusOK
	for _, check := range checks {
		if check.Status != "healthy" {
			overallStatus = "degraded"
		}
	}

	return c.JSON(statusCode, HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(h.startAt).String(),
		Version:   version.Version,
		Checks:    checks,
	})
}

// Healthz returns a simple health check (for k8s liveness probe)
func (h *Handler) Healthz(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// Ready returns readiness status (for k8s readiness probe). Readiness
// requires the vector store; everything else degrades gracefully.
func (h *Handler) Ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if !h.vectors.Healthy(ctx) {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status":  "not_ready",
			"message": "Vector store connection failed",
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// Debug returns debug information (only in development)
func (h *Handler) Debug(c echo.Context) error {
	if h.cfg.Environment == "production" {
		return echo.NewHTTPError(http.StatusNotFound, "Not found")
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return c.JSON(http.StatusOK, map[string]any{
		"environment": h.cfg.Environment,
		"debug":       h.cfg.Debug,
		"build":       version.Current(),
		"go_version":  runtime.Version(),
		"goroutines":  runtime.NumGoroutine(),
		"memory": map[string]any{
			"alloc_mb":       mem.Alloc / 1024 / 1024,
			"total_alloc_mb": mem.TotalAlloc / 1024 / 1024,
			"sys_mb":         mem.Sys / 1024 / 1024,
			"num_gc":         mem.NumGC,
		},
		"redis": map[string]any{
			"addr": h.cfg.Redis.Addr(),
		},
		"qdrant": map[string]any{
			"collection": h.cfg.Vector.Collection,
		},
	})
}

func checkOf(healthy bool) Check {
	if healthy {
		return Check{Status: "healthy"}
	}
	return Check{Status: "unhealthy"}
}
