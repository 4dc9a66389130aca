// Package httpapi exposes a running bridge over HTTP: health, Prometheus
// metrics, center statistics, and endpoints to call or notify the peer.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/webbridge/pkg/bridge"
)

const maxBodySize = "1M"

// Server provides the admin HTTP endpoints.
type Server struct {
	echo     *echo.Echo
	center   *bridge.Center
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// Registry serves /metrics and records HTTP metrics. Nil disables both.
	Registry *prometheus.Registry
}

// NewServer creates a new HTTP server for center.
func NewServer(center *bridge.Center, logger *zap.Logger, cfg *Config) (*Server, error) {
	if center == nil {
		return nil, fmt.Errorf("center cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 9191,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(maxBodySize))
	if cfg.Registry != nil {
		e.Use(NewHTTPMetrics(cfg.Registry).Middleware())
	}
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Debug("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:   e,
		center: center,
		logger: logger,
		config: cfg,
	}
	if cfg.Registry != nil {
		s.gatherer = cfg.Registry
	}
	s.registerRoutes()
	return s, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.echo.Group("/v1")
	v1.GET("/stats", s.handleStats)
	v1.POST("/call/:channel", s.handleCall)
	v1.POST("/notify/:channel", s.handleNotify)
}

func (s *Server) handleHealth(c echo.Context) error {
	closed := s.center.Stats().Closed
	if closed {
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "closed", Closed: true})
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, StatsResponse{
		Stats:    s.center.Stats(),
		Commands: s.center.Responder().Channels(),
	})
}

// handleCall sends the request body as args on :channel and waits for the
// reply. The optional timeout query parameter bounds the wait.
func (s *Server) handleCall(c echo.Context) error {
	channel := c.Param("channel")
	args, err := readArgs(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}

	var opts []bridge.SendOption
	if raw := c.QueryParam("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid timeout")
		}
		opts = append(opts, bridge.WithTimeout(d))
	}

	reply, err := s.center.Call(c.Request().Context(), channel, args, opts...)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return c.JSON(http.StatusGatewayTimeout, ErrorResponse{Channel: channel, Description: bridge.DescCanceled})
		}
		return err
	}
	if fail, ok := reply.Failure(); ok {
		s.logger.Debug("call failed", zap.String("channel", channel), zap.String("description", fail.Description))
		return c.JSON(failureStatus(fail.Description), ErrorResponse{Channel: channel, Description: fail.Description})
	}

	return c.JSON(http.StatusOK, CallResponse{
		Channel: channel,
		Seq:     reply.Seq,
		Data:    reply.Payload(),
		Extra:   reply.Extra,
	})
}

func (s *Server) handleNotify(c echo.Context) error {
	channel := c.Param("channel")
	args, err := readArgs(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if err := s.center.Post(c.Request().Context(), channel, args); err != nil {
		if errors.Is(err, bridge.ErrClosed) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.NoContent(http.StatusAccepted)
}

// readArgs decodes an optional JSON body. An empty body is nil args.
func readArgs(c echo.Context) (any, error) {
	var args any
	err := json.NewDecoder(c.Request().Body).Decode(&args)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	return args, err
}

func failureStatus(desc string) int {
	switch desc {
	case bridge.DescTimeout, bridge.DescCanceled:
		return http.StatusGatewayTimeout
	case bridge.DescClosed:
		return http.StatusServiceUnavailable
	case bridge.DescRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
