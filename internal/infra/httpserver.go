package infra

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// HTTPServer wraps http.Server to provide graceful startup and shutdown helpers.
type HTTPServer struct {
	server *http.Server
}

// NewHTTPServer creates a configured HTTP server instance. The write timeout
// is raised to cover a whole generate request: the polling budget plus every
// per-call deadline around it.
func NewHTTPServer(cfg *Config, handler http.Handler) *HTTPServer {
	writeTimeout := cfg.HTTPWriteTimeout
	if floor := cfg.MaxWait + GenerateBudget; writeTimeout < floor {
		writeTimeout = floor
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
	}

	return &HTTPServer{server: srv}
}

// Addr reports the listen address.
func (s *HTTPServer) Addr() string {
	if s.server == nil {
		return ""
	}
	return s.server.Addr
}

// Start runs the HTTP server in the current goroutine. A graceful shutdown is
// not reported as an error.
func (s *HTTPServer) Start() error {
	if s.server == nil {
		return nil
	}
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
