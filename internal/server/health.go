// Package server wires the HTTP surface of the connector: health and
// readiness probes, the image upload endpoint, metrics, and the MCP mount.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// HealthStatus is the aggregate state reported by the health endpoints.
type HealthStatus string

const (
	// HealthStatusOK matches the external contract: platform health checks
	// look for {"status":"ok"} on GET /health.
	HealthStatusOK        HealthStatus = "ok"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck is the result of probing a single dependency.
type HealthCheck struct {
	Name    string            `json:"name"`
	Status  HealthStatus      `json:"status"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// HealthResponse is the body returned by /health, /ready and /live.
type HealthResponse struct {
	Status    HealthStatus  `json:"status"`
	Service   string        `json:"service,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Version   string        `json:"version,omitempty"`
	Checks    []HealthCheck `json:"checks,omitempty"`
}

// HealthChecker probes one dependency.
type HealthChecker func(ctx context.Context) HealthCheck

// Health aggregates dependency checks and serves the probe endpoints.
type Health struct {
	mu      sync.RWMutex
	checks  map[string]HealthChecker
	service string
	version string
	ready   bool
	live    bool
}

// NewHealth creates a health aggregator for the named service.
func NewHealth(service, version string) *Health {
	return &Health{
		checks:  make(map[string]HealthChecker),
		service: service,
		version: version,
		live:    true,
	}
}

// RegisterCheck adds a named dependency check.
func (h *Health) RegisterCheck(name string, checker HealthChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = checker
}

// SetReady marks the service as ready to accept traffic.
func (h *Health) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// SetLive marks the service as live (or not).
func (h *Health) SetLive(live bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.live = live
}

// Register mounts the probe endpoints on mux, including Kubernetes aliases.
func (h *Health) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/ready", h.handleReady)
	mux.HandleFunc("/live", h.handleLive)
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/readyz", h.handleReady)
	mux.HandleFunc("/livez", h.handleLive)
}

func (h *Health) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	h.mu.RLock()
	checks := make(map[string]HealthChecker, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	service, version := h.service, h.version
	h.mu.RUnlock()

	response := HealthResponse{
		Status:    HealthStatusOK,
		Service:   service,
		Timestamp: time.Now().UTC(),
		Version:   version,
		Checks:    make([]HealthCheck, 0, len(checks)),
	}

	for name, checker := range checks {
		check := checker(ctx)
		check.Name = name
		response.Checks = append(response.Checks, check)

		if check.Status == HealthStatusUnhealthy {
			response.Status = HealthStatusUnhealthy
		} else if check.Status == HealthStatusDegraded && response.Status == HealthStatusOK {
			response.Status = HealthStatusDegraded
		}
	}

	statusCode := http.StatusOK
	if response.Status == HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, response)
}

func (h *Health) handleReady(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	ready := h.ready
	h.mu.RUnlock()

	response := HealthResponse{
		Status:    HealthStatusOK,
		Timestamp: time.Now().UTC(),
	}
	if !ready {
		response.Status = HealthStatusUnhealthy
		writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *Health) handleLive(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	live := h.live
	h.mu.RUnlock()

	response := HealthResponse{
		Status:    HealthStatusOK,
		Timestamp: time.Now().UTC(),
	}
	if !live {
		response.Status = HealthStatusUnhealthy
		writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// WeaviateHealthChecker probes the vector store's readiness endpoint.
// A failed probe is reported as degraded, not unhealthy: the connector can
// still serve get_config and upload_image while the cluster recovers, and
// the two-attempt retry policy on searches covers transient blips.
func WeaviateHealthChecker(readyFn func(ctx context.Context) (bool, error)) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		ready, err := readyFn(ctx)
		if err != nil {
			return HealthCheck{
				Status:  HealthStatusDegraded,
				Message: "weaviate readiness probe failed: " + err.Error(),
			}
		}
		if !ready {
			return HealthCheck{
				Status:  HealthStatusDegraded,
				Message: "weaviate cluster not ready",
			}
		}
		return HealthCheck{
			Status:  HealthStatusOK,
			Message: "weaviate connection OK",
		}
	}
}

// VertexHealthChecker reports whether image embedding is available and how
// it authenticates. When no embedder is configured the check stays ok since
// image-augmented search is an optional capability.
func VertexHealthChecker(authMode string) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		if authMode == "" {
			return HealthCheck{
				Status:  HealthStatusOK,
				Message: "vertex embedder not configured",
			}
		}
		return HealthCheck{
			Status:  HealthStatusOK,
			Message: "vertex embedder configured",
			Details: map[string]string{"auth_mode": authMode},
		}
	}
}

// ImageStoreHealthChecker reports how many uploaded images are held in memory.
func ImageStoreHealthChecker(lenFn func() int) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		return HealthCheck{
			Status:  HealthStatusOK,
			Message: "image store OK",
			Details: map[string]string{"stored": strconv.Itoa(lenFn())},
		}
	}
}
