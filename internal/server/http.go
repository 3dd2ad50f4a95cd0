package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edkek/eyerobot/internal/config"
	"github.com/edkek/eyerobot/internal/journal"
	"github.com/edkek/eyerobot/internal/metrics"
	"github.com/edkek/eyerobot/internal/session"
	"github.com/edkek/eyerobot/internal/world"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// HTTPDeps are the components the HTTP API reports on
type HTTPDeps struct {
	Sessions *session.Manager
	World    *world.World
	UDP      *UDPServer
	Journal  *journal.Journal // nil when the journal is disabled
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	// WebSocket serves the reliable transport upgrade; nil disables it
	WebSocket http.HandlerFunc
}

// HTTPServer provides HTTP API endpoints for monitoring and the WebSocket
// transport
type HTTPServer struct {
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger
	config   *config.Config
	deps     HTTPDeps

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(appConfig *config.Config, logger *slog.Logger, deps HTTPDeps) *HTTPServer {
	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		deps:      deps,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         appConfig.HTTP.ListenAddress(),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed handler, for tests and embedding
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	mux.HandleFunc("/clients", h.withMetrics("/clients", h.handleClients))
	mux.HandleFunc("/clients/", h.withMetrics("/clients/{id}", h.handleClientDetail))
	mux.HandleFunc("/robots", h.withMetrics("/robots", h.handleRobots))

	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/history", h.withMetrics("/history", h.handleHistory))

	// The upgrade hijacks the connection, so it is not wrapped
	if h.deps.WebSocket != nil && h.config.HTTP.WebSocketPath != "" {
		mux.HandleFunc(h.config.HTTP.WebSocketPath, h.deps.WebSocket)
	}

	gatherer := h.deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}
		handler(ww, r)

		if h.deps.Metrics == nil {
			return
		}

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)
		h.deps.Metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.deps.Metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start binds the listener and serves in the background
func (h *HTTPServer) Start() error {
	listener, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on HTTP address %s: %w", h.server.Addr, err)
	}
	h.listener = listener

	h.logger.Info("Starting HTTP API server",
		slog.String("address", listener.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Addr returns the bound address once started
func (h *HTTPServer) Addr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := "healthy"
	if !h.deps.Sessions.Running() {
		status = "stopping"
	}

	udpStats := h.deps.UDP.GetStatistics()

	health := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    ServiceName,
			"version": ServiceVersion,
		},
		"components": map[string]interface{}{
			"udp_server": map[string]interface{}{
				"datagrams_received": udpStats.DatagramsReceived,
				"handshakes":         udpStats.Handshakes,
				"queue_size":         udpStats.QueueSize,
			},
			"sessions": map[string]interface{}{
				"running":        h.deps.Sessions.Running(),
				"clients":        h.deps.Sessions.Count(),
				"udp_sessions":   h.deps.Sessions.SessionCount(),
				"stream_clients": h.deps.Sessions.StreamCount(),
			},
			"journal": map[string]interface{}{
				"enabled": h.deps.Journal != nil,
			},
		},
	}

	writeJSON(w, health)
}

// handleClients implements the /clients endpoint
func (h *HTTPServer) handleClients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clients := h.deps.Sessions.ClientInfos()

	writeJSON(w, map[string]interface{}{
		"total_clients": len(clients),
		"timestamp":     time.Now().UTC(),
		"clients":       clients,
	})
}

// handleClientDetail implements the /clients/{id} endpoint
func (h *HTTPServer) handleClientDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/clients/")
	if id == "" {
		http.Error(w, "Client ID required", http.StatusBadRequest)
		return
	}

	client, exists := h.deps.Sessions.Client(id)
	if !exists {
		http.Error(w, "Client not found", http.StatusNotFound)
		return
	}

	writeJSON(w, client.Info())
}

// handleRobots implements the /robots endpoint
func (h *HTTPServer) handleRobots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	robots := h.deps.World.Robots()

	writeJSON(w, map[string]interface{}{
		"total_robots": len(robots),
		"timestamp":    time.Now().UTC(),
		"robots":       robots,
	})
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg := map[string]interface{}{
		"server": map[string]interface{}{
			"bind_address":         h.config.Server.BindAddress,
			"udp_port":             h.config.Server.UDPPort,
			"tcp_port":             h.config.Server.GetTCPPort(),
			"buffer_size":          h.config.Server.BufferSize,
			"handshake_workers":    h.config.Server.HandshakeWorkers,
			"handshake_queue_size": h.config.Server.HandshakeQueueSize,
			"handshake_rate":       h.config.Server.HandshakeRate,
			"handshake_burst":      h.config.Server.HandshakeBurst,
		},
		"session": map[string]interface{}{
			"allow_reconnect": h.config.Session.AllowReconnect,
			"enforce_ip":      h.config.Session.EnforceIP,
			"peer_redirect":   h.config.Session.PeerRedirect,
			"idle_timeout":    h.config.Session.IdleTimeout,
		},
		"http": map[string]interface{}{
			"address":        h.config.HTTP.Address,
			"port":           h.config.HTTP.Port,
			"websocket_path": h.config.HTTP.WebSocketPath,
		},
		"journal": map[string]interface{}{
			"enabled":    h.config.Journal.Enabled,
			"queue_size": h.config.Journal.QueueSize,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, cfg)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"udp":       h.deps.UDP.GetStatistics(),
		"sessions": map[string]interface{}{
			"clients":        h.deps.Sessions.Count(),
			"udp_sessions":   h.deps.Sessions.SessionCount(),
			"stream_clients": h.deps.Sessions.StreamCount(),
			"robots":         h.deps.World.Count(),
		},
	})
}

// handleHistory implements the /history endpoint
func (h *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.deps.Journal == nil {
		http.Error(w, "Session journal disabled", http.StatusServiceUnavailable)
		return
	}

	limit := defaultHistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	events, err := h.deps.Journal.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to read session journal", slog.String("error", err.Error()))
		http.Error(w, "Failed to read journal", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"total_events": len(events),
		"timestamp":    time.Now().UTC(),
		"events":       events,
	})
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	endpoints := map[string]interface{}{
		"GET /":             "API documentation",
		"GET /health":       "Service health check",
		"GET /clients":      "List connected clients on both transports",
		"GET /clients/{id}": "Get detailed client information",
		"GET /robots":       "List robots and their latest telemetry",
		"GET /config":       "Get service configuration",
		"GET /stats":        "Get service statistics",
		"GET /history":      "Recent session connects and disconnects",
		"GET /metrics":      "Prometheus metrics",
	}
	if h.deps.WebSocket != nil && h.config.HTTP.WebSocketPath != "" {
		endpoints["GET "+h.config.HTTP.WebSocketPath] = "WebSocket reliable transport"
	}

	writeJSON(w, map[string]interface{}{
		"service":   ServiceName,
		"version":   ServiceVersion,
		"endpoints": endpoints,
		"timestamp": time.Now().UTC(),
	})
}
