package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Server provides HTTP endpoints for observability
type Server struct {
	httpServer *http.Server
	port       int
	checker    *HealthChecker
	mu         sync.Mutex
}

// NewServer creates a new observability server
func NewServer(port int, checker *HealthChecker) *Server {
	if checker == nil {
		checker = NewHealthChecker()
	}
	return &Server{
		port:    port,
		checker: checker,
	}
}

// Handler returns the mux serving the health and metrics endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/health", HealthHandler(s.checker))
	mux.HandleFunc("/health/live", LivenessHandler())
	mux.HandleFunc("/health/ready", ReadinessHandler(s.checker))

	// Metrics endpoint
	mux.Handle("/metrics", MetricsHandler())

	return mux
}

// Start starts the observability server. It blocks until the server stops
// and returns nil after a graceful Shutdown.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}
