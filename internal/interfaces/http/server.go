// Package http serves the read-only monitor: health, metrics, open positions,
// the exit ledger and a websocket stream of tick results.
package http

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/swingrun/internal/application/evaluate"
	"github.com/sawpanic/swingrun/internal/infrastructure/providers"
	"github.com/sawpanic/swingrun/internal/metrics"
	"github.com/sawpanic/swingrun/internal/persistence"
	"github.com/sawpanic/swingrun/internal/regime"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string        `yaml:"host"`            // Default: 127.0.0.1, local-only
	Port           int           `yaml:"port"`            // Default: 8080
	ReadTimeout    time.Duration `yaml:"read_timeout"`    // Default: 10s
	WriteTimeout   time.Duration `yaml:"write_timeout"`   // Default: 10s
	IdleTimeout    time.Duration `yaml:"idle_timeout"`    // Default: 60s
	RequestTimeout time.Duration `yaml:"request_timeout"` // Default: 5s per API request
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:           "127.0.0.1",
		Port:           8080,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 5 * time.Second,
	}
}

// Dependencies are what the monitor reports on. Repository is required.
type Dependencies struct {
	Repository *persistence.Repository
	Database   persistence.RepositoryHealth    // nil when running on memory repos
	Breakers   *providers.CircuitBreakerManager // optional
	Detector   *regime.Detector                 // optional
	Engine     *evaluate.Engine                 // optional; enables /passes/last and /ws
	Metrics    *metrics.Registry                // optional; enables /metrics
	Version    string
}

// Server represents the read-only HTTP server
type Server struct {
	router *mux.Router
	server *http.Server
	config ServerConfig
	deps   Dependencies
	hub    *Hub
}

// NewServer creates a new HTTP server instance
func NewServer(config ServerConfig, deps Dependencies) (*Server, error) {
	if deps.Repository == nil || deps.Repository.Positions == nil || deps.Repository.Exits == nil {
		return nil, fmt.Errorf("http: repository is required")
	}
	d := DefaultServerConfig()
	if config.Host == "" {
		config.Host = d.Host
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = d.RequestTimeout
	}

	s := &Server{
		router: mux.NewRouter(),
		config: config,
		deps:   deps,
		hub:    NewHub(0),
	}
	if deps.Engine != nil {
		deps.Engine.OnTick(s.hub.Publish)
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.GetAddress(),
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)
	s.router.Use(s.corsMiddleware)

	// Streaming and exposition routes bypass the JSON timeout stack
	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
	}
	s.router.Handle("/ws", s.hub).Methods(http.MethodGet)

	// API routes (JSON only)
	api := s.router.PathPrefix("/").Subrouter()
	api.Use(s.timeoutMiddleware)
	api.Use(s.jsonContentTypeMiddleware)

	h := &handlers{deps: s.deps}
	api.Handle("/health", NewHealthHandler(s.deps)).Methods(http.MethodGet)
	api.HandleFunc("/positions", h.listPositions).Methods(http.MethodGet)
	api.HandleFunc("/positions/{ticker}", h.getPosition).Methods(http.MethodGet)
	api.HandleFunc("/exits", h.listExits).Methods(http.MethodGet)
	api.HandleFunc("/report", h.exitReport).Methods(http.MethodGet)
	api.HandleFunc("/passes/last", h.lastPass).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(notFound)
}

// Router exposes the handler tree, for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// Hub returns the tick stream hub
func (s *Server) Hub() *Hub {
	return s.hub
}

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestID returns the request ID set by the middleware
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// requestIDMiddleware adds unique request ID to each request
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLoggingMiddleware logs all requests with structured format
func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		log.Debug().
			Str("request_id", RequestID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("HTTP request")
	})
}

// timeoutMiddleware enforces request timeouts
func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// corsMiddleware adds CORS headers for local development
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && localOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// localOrigin only admits browsers served from this machine
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// jsonContentTypeMiddleware sets JSON content type for API responses
func (s *Server) jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Start listens and serves until Shutdown. A busy port fails immediately.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.GetAddress())
	if err != nil {
		return fmt.Errorf("port %d is busy or unavailable: %w", s.config.Port, err)
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("Starting monitor (read-only)")
	if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down monitor")
	s.hub.Close()
	return s.server.Shutdown(ctx)
}

// GetAddress returns the server address
func (s *Server) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// responseWrapper captures HTTP status codes for logging
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade through the logging wrapper
func (rw *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}
