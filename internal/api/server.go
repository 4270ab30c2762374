// Package api exposes the HTTP surface: health, Prometheus metrics and the
// endpoint chat backends call when a message is posted.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/chatreply/internal/api/auth"
	"github.com/chatreply/internal/jobqueue"
)

// Enqueuer queues reply handling for a posted message.
type Enqueuer interface {
	EnqueueMessagePosted(ctx context.Context, args jobqueue.MessagePostedArgs) (jobID int64, duplicate bool, err error)
}

// Options configures the server.
type Options struct {
	Addr            string
	ShutdownTimeout time.Duration
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// Server represents the API server
type Server struct {
	echo     *echo.Echo
	opts     Options
	enqueuer Enqueuer
	tokens   *auth.TokenService
}

// NewServer creates a new API server
func NewServer(opts Options, enqueuer Enqueuer, tokens *auth.TokenService) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("64K"))

	server := &Server{
		echo:     e,
		opts:     opts,
		enqueuer: enqueuer,
		tokens:   tokens,
	}
	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	if s.opts.Gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.echo.Group("/api/v1", auth.RequireAuth(s.tokens))
	v1.POST("/messages/posted", s.messagePosted)
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.opts.Addr).Msg("API server listening")
		if err := s.echo.Start(s.opts.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	log.Info().Msg("shutting down API server")
	return s.echo.Shutdown(shutdownCtx)
}
