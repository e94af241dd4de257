// Package http provides the HTTP adapter layer using Gin.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/jsamuelsen/go-request-registry/internal/platform/config"
)

// Server wraps http.Server with Gin. Shutdown drains in-flight requests,
// then runs the AfterDrain hooks, which is where the request registry is
// closed.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	config     *config.ServerConfig
	logger     *slog.Logger

	mu         sync.Mutex
	listener   net.Listener
	afterDrain []func(ctx context.Context) error
}

// New creates a new HTTP server with the provided configuration.
func New(cfg *config.ServerConfig, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()

	// Handlers that pass *gin.Context as a context.Context resolve values
	// through the request context, where the diagnostic flow lives.
	engine.ContextWithFallback = true

	engine.Use(maxBodySize(cfg.MaxRequestSize))

	return &Server{
		engine: engine,
		httpServer: &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
			Handler:           engine,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		},
		config: cfg,
		logger: logger,
	}
}

// Engine returns the underlying Gin engine for route registration.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Config returns the server configuration.
func (s *Server) Config() *config.ServerConfig {
	return s.config
}

// AfterDrain registers fn to run once Shutdown has drained the server,
// whether or not the drain finished in time. Hooks run in registration
// order.
func (s *Server) AfterDrain(fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.afterDrain = append(s.afterDrain, fn)
}

// Listen binds the configured address. Start calls it when needed; calling
// it first surfaces bind errors synchronously.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}

	s.listener = ln

	return nil
}

// Start serves HTTP requests in the background. The returned channel
// receives a serve error, if any, and is closed when serving stops.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)

	if err := s.Listen(); err != nil {
		errCh <- err
		close(errCh)

		return errCh
	}

	go func() {
		defer close(errCh)

		s.logger.Info("starting HTTP server",
			slog.String("addr", s.Addr()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
			slog.Duration("request_timeout", s.config.RequestTimeout),
		)

		if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	return errCh
}

// Shutdown stops accepting requests, waits for in-flight ones until ctx is
// done, then runs the AfterDrain hooks. Errors from every step are joined.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
	}

	s.mu.Lock()
	hooks := s.afterDrain
	s.mu.Unlock()

	for _, fn := range hooks {
		if err := fn(context.WithoutCancel(ctx)); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}

	s.logger.Info("HTTP server stopped")

	return nil
}

// Addr returns the bound address once listening, else the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}

	return s.httpServer.Addr
}

func maxBodySize(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
