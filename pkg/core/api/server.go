// Package api exposes the dashboard HTTP and WebSocket surface.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/fleetdash/fleetdash/pkg/core"
	"github.com/fleetdash/fleetdash/pkg/logger"
)

const (
	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
)

// APIServer serves the dashboard API on top of a core.Service.
type APIServer struct {
	router      *mux.Router
	service     *core.Service
	hub         *Hub
	apiKey      string
	corsOrigins []string
	logger      logger.Logger
	httpServer  *http.Server
}

// NewAPIServer builds a server with the given options applied.
func NewAPIServer(service *core.Service, options ...func(server *APIServer)) *APIServer {
	s := &APIServer{
		router:  mux.NewRouter(),
		service: service,
		logger:  logger.Global(),
	}

	for _, o := range options {
		o(s)
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// WithLogger sets the server logger.
func WithLogger(log logger.Logger) func(*APIServer) {
	return func(server *APIServer) {
		server.logger = log
	}
}

// WithAPIKey enables API key authentication on all /api routes.
func WithAPIKey(apiKey string) func(*APIServer) {
	return func(server *APIServer) {
		server.apiKey = apiKey
	}
}

// WithCORSOrigins restricts cross-origin requests to the given origins.
func WithCORSOrigins(origins []string) func(*APIServer) {
	return func(server *APIServer) {
		server.corsOrigins = origins
	}
}

// WithHub attaches the WebSocket fan-out hub serving /api/stream.
func WithHub(hub *Hub) func(*APIServer) {
	return func(server *APIServer) {
		server.hub = hub
	}
}

// Router exposes the handler for tests and embedding.
func (s *APIServer) Router() http.Handler {
	return s.router
}

func (s *APIServer) setupMiddleware() {
	s.router.Use(s.requestLogging)
	s.router.Use(s.corsMiddleware)
}

func (s *APIServer) setupRoutes() {
	s.router.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()

	if s.apiKey != "" {
		api.Use(s.apiKeyMiddleware)
	}

	api.HandleFunc("/devices", s.getDevices).Methods(http.MethodGet)
	api.HandleFunc("/devices/export", s.exportDevices).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.getStats).Methods(http.MethodGet)
	api.HandleFunc("/activity", s.getActivity).Methods(http.MethodGet)
	api.HandleFunc("/activity", s.clearActivity).Methods(http.MethodDelete)
	api.HandleFunc("/connection", s.getConnection).Methods(http.MethodGet)
	api.HandleFunc("/connection/connect", s.postConnect).Methods(http.MethodPost)
	api.HandleFunc("/connection/disconnect", s.postDisconnect).Methods(http.MethodPost)
	api.HandleFunc("/connection/refresh", s.postRefresh).Methods(http.MethodPost)
	api.HandleFunc("/settings/integration", s.getIntegrationSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings/integration", s.putIntegrationEnabled).Methods(http.MethodPut)

	if s.hub != nil {
		api.HandleFunc("/stream", s.hub.handleStream).Methods(http.MethodGet)
	}
}

// Start begins serving on addr and blocks until the listener fails.
func (s *APIServer) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}

	s.logger.Info().Str("addr", addr).Msg("Dashboard API listening")

	return s.httpServer.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *APIServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *APIServer) encodeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
