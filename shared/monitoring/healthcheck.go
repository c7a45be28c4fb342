package monitoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

type HealthServer struct {
	monitor *Monitor
	port    string
	mux     *http.ServeMux
	server  *http.Server
	logger  *slog.Logger
}

func NewHealthServer(monitor *Monitor, port string, logger *slog.Logger) *HealthServer {
	if port == "" {
		port = "8080"
	}
	h := &HealthServer{
		monitor: monitor,
		port:    port,
		mux:     http.NewServeMux(),
		logger:  logger,
	}
	h.mux.HandleFunc("/health", h.healthHandler)
	h.mux.HandleFunc("/status", h.statusHandler)
	return h
}

// Handle registers an additional route next to /health and /status.
func (h *HealthServer) Handle(pattern string, handler http.Handler) {
	h.mux.Handle(pattern, handler)
}

// Handler exposes the routes, mainly for tests.
func (h *HealthServer) Handler() http.Handler {
	return h.mux
}

// Start listens in the background. Bind errors are returned synchronously.
func (h *HealthServer) Start() error {
	ln, err := net.Listen("tcp", ":"+h.port)
	if err != nil {
		return fmt.Errorf("health server listen on %s: %w", h.port, err)
	}

	h.server = &http.Server{Handler: h.mux, ReadHeaderTimeout: 10 * time.Second}
	h.logger.Info("Health check server starting", slog.String("port", h.port))
	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("Health server error", slog.Any("error", err))
		}
	}()
	return nil
}

func (h *HealthServer) Shutdown(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

func (h *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if h.monitor.IsHealthy() {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK - %s", h.monitor.GetStatusSummary())
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, "Service unhealthy - %s", h.monitor.GetStatusSummary())
	}
}

func (h *HealthServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "%s", h.monitor.GetStatusSummary())
}
