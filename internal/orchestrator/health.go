package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/couriermq/courier/pkg/federation"
)

// HealthServer provides HTTP health endpoints for a running orchestrator.
type HealthServer struct {
	client *federation.Client
	logger *zap.Logger
	server *http.Server
}

// NewHealthServer creates a health check server. A nil logger defaults to a
// no-op logger.
func NewHealthServer(client *federation.Client, logger *zap.Logger) *HealthServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthServer{
		client: client,
		logger: logger.With(zap.String("component", "healthz")),
	}
}

// Start serves the health endpoints on addr in a background goroutine.
func (h *HealthServer) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.healthCheckHandler)
	mux.HandleFunc("/stats", h.statsHandler)

	h.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("health server failed", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the health check server.
func (h *HealthServer) Shutdown(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status string `json:"status"`
	Broker string `json:"broker,omitempty"`
	Error  string `json:"error,omitempty"`
}

// healthCheckHandler handles GET /healthz requests.
// Returns 200 OK if the broker is accessible, 503 Service Unavailable otherwise.
func (h *HealthServer) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{Status: "healthy"}

	if err := h.client.Ping(ctx); err != nil {
		response.Status = "unhealthy"
		response.Broker = "disconnected"
		response.Error = err.Error()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(response)
		return
	}

	response.Broker = "connected"

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// statsHandler handles GET /stats requests, returning per-agent mailbox
// depths and consumer counts plus the health heuristic. Read-only: the
// verdict is derived from stats, no heartbeats are sent.
func (h *HealthServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	stats := h.client.QueueStats(ctx)
	payload := struct {
		Queues map[string]federation.QueueInfo `json:"queues"`
		Health map[string]string               `json:"health"`
	}{
		Queues: stats,
		Health: healthFromStats(stats),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(payload)
}
