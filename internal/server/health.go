package server

import (
	"context"
	"net/http"
	"time"

	"modeldrop/internal/logging"
	"modeldrop/internal/storage"
)

// HealthStatus represents the overall health of the system
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentStatus represents the health of an individual component
type ComponentStatus string

const (
	ComponentStatusUp       ComponentStatus = "up"
	ComponentStatusDown     ComponentStatus = "down"
	ComponentStatusDegraded ComponentStatus = "degraded"
)

const (
	readyTimeout         = 2 * time.Second
	healthTimeout        = 5 * time.Second
	slowStorageThreshold = time.Second
)

// Health is the body of GET /health.
type Health struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components"`
}

type ComponentHealth struct {
	Status    ComponentStatus `json:"status"`
	Message   string          `json:"message,omitempty"`
	LatencyMs float64         `json:"latency_ms,omitempty"`
	Details   any             `json:"details,omitempty"`
}

// HandleHealth reports per-component health. Degraded still answers 200.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.checkHealth(r.Context())

	status := http.StatusOK
	if health.Status == HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// HandleReady answers 200 once the object store is reachable.
func (s *Server) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if err := s.cfg.Store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "not_ready",
			"message": "storage unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": s.cfg.Now().UTC().Format(time.RFC3339),
	})
}

// HandleLive answers 200 while the process is running.
func (s *Server) HandleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) checkHealth(ctx context.Context) Health {
	health := Health{
		Timestamp:  s.cfg.Now().UTC(),
		Version:    s.cfg.Build.Version,
		Components: make(map[string]ComponentHealth),
	}
	health.Components["storage"] = s.checkStorageHealth(ctx)
	health.Components["live"] = ComponentHealth{
		Status: ComponentStatusUp,
		Details: map[string]any{
			"clients":   s.cfg.Hub.Len(),
			"published": s.cfg.Hub.Published(),
			"dropped":   s.cfg.Hub.Dropped(),
		},
	}
	health.Status = overallHealth(health.Components)
	return health
}

func (s *Server) checkStorageHealth(ctx context.Context) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	var details any
	if b, ok := s.cfg.Store.(*storage.Breaker); ok {
		details = b.Stats()
	}

	start := time.Now()
	if err := s.cfg.Store.Ping(ctx); err != nil {
		logging.Warn("health_storage_down", logging.Fields{"error": err.Error()})
		return ComponentHealth{
			Status:  ComponentStatusDown,
			Message: "storage unavailable",
			Details: details,
		}
	}
	latency := time.Since(start)

	c := ComponentHealth{
		Status:    ComponentStatusUp,
		Message:   "storage reachable",
		LatencyMs: float64(latency.Milliseconds()),
		Details:   details,
	}
	if latency > slowStorageThreshold {
		c.Status = ComponentStatusDegraded
		c.Message = "storage latency high"
	}
	return c
}

// overallHealth is unhealthy if any component is down, degraded if any is
// degraded, healthy otherwise.
func overallHealth(components map[string]ComponentHealth) HealthStatus {
	status := HealthStatusHealthy
	for _, c := range components {
		switch c.Status {
		case ComponentStatusDown:
			return HealthStatusUnhealthy
		case ComponentStatusDegraded:
			status = HealthStatusDegraded
		}
	}
	return status
}
