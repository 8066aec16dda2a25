package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/crypto/acme/autocert"

	mw "github.com/digitlab/digitlab/internal/api/middleware"
	v2 "github.com/digitlab/digitlab/internal/api/v2"
	"github.com/digitlab/digitlab/internal/buildinfo"
	"github.com/digitlab/digitlab/internal/conf"
	"github.com/digitlab/digitlab/internal/httpcontroller"
	"github.com/digitlab/digitlab/internal/imagestore"
	"github.com/digitlab/digitlab/internal/logger"
	"github.com/digitlab/digitlab/internal/ngsild"
	"github.com/digitlab/digitlab/internal/observability"
	"github.com/digitlab/digitlab/internal/predictor"
	"github.com/digitlab/digitlab/internal/registry"
	"github.com/digitlab/digitlab/internal/saga"
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}

// Server is the main HTTP server. It owns the echo instance, the
// middleware stack and every route.
type Server struct {
	echo     *echo.Echo
	config   *Config
	settings *conf.Settings
	log      logger.Logger

	// Dependencies
	broker  *ngsild.Client
	images  *imagestore.Store
	model   predictor.Model
	metrics *observability.Metrics
	build   *buildinfo.Context

	apiController *v2.Controller
	pages         *httpcontroller.Pages
	models        *registry.Registry

	startTime time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// WithBroker sets the context broker client.
func WithBroker(c *ngsild.Client) ServerOption {
	return func(s *Server) { s.broker = c }
}

// WithImageStore sets the image store.
func WithImageStore(store *imagestore.Store) ServerOption {
	return func(s *Server) { s.images = store }
}

// WithModel overrides the classifier; the mock model is used otherwise.
func WithModel(m predictor.Model) ServerOption {
	return func(s *Server) { s.model = m }
}

// WithMetrics sets the observability metrics for the server.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithBuildInfo sets version metadata.
func WithBuildInfo(b *buildinfo.Context) ServerOption {
	return func(s *Server) { s.build = b }
}

// New creates a new HTTP server with the given settings and options.
func New(settings *conf.Settings, opts ...ServerOption) (*Server, error) {
	config := ConfigFromSettings(settings)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	s := &Server{
		config:    config,
		settings:  settings,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.log == nil {
		s.log = GetLogger()
	}
	if s.broker == nil {
		return nil, fmt.Errorf("server requires a context broker client")
	}
	if s.images == nil {
		return nil, fmt.Errorf("server requires an image store")
	}
	if s.model == nil {
		s.model = predictor.NewMock(nil)
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Debug = config.Debug
	s.echo.Logger = logger.NewEchoLoggerAdapter(s.log.Module("echo"))

	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()

	if err := s.setupRoutes(); err != nil {
		return nil, fmt.Errorf("failed to setup routes: %w", err)
	}

	s.log.Info("HTTP server initialized",
		logger.String("address", config.Address()),
		logger.Bool("autotls", config.AutoTLS),
		logger.Bool("metrics", config.MetricsEnabled),
		logger.Bool("debug", config.Debug))

	return s, nil
}

// setupMiddleware configures the Echo middleware stack. Order matters:
// metrics wraps the request logger, which resolves handler errors into
// responses, so both see the final status code.
func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(mw.NewRequestID())

	if s.metrics != nil {
		s.echo.Use(mw.NewMetrics(s.metrics.HTTP))
	}

	s.echo.Use(mw.NewRequestLoggerWithSkipper(s.log.Module("access"), s.skipAccessLog))

	securityConfig := mw.DefaultSecurityConfig()
	s.echo.Use(mw.NewCORS(securityConfig))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewSecureHeaders(securityConfig))
}

// skipAccessLog keeps static assets and scrapes out of the access log.
func (s *Server) skipAccessLog(c echo.Context) bool {
	path := c.Request().URL.Path
	if strings.HasPrefix(path, "/assets/") {
		return true
	}
	return s.config.MetricsEnabled && path == s.config.MetricsPath
}

// setupRoutes wires the flows into the API controller and registers pages
// and the metrics endpoint.
func (s *Server) setupRoutes() error {
	sagaOpts := []saga.Option{saga.WithLogger(s.log.Module("saga"))}
	var cacheObserver registry.CacheObserver
	if s.metrics != nil {
		sagaOpts = append(sagaOpts, saga.WithObserver(s.metrics.Saga))
		cacheObserver = s.metrics.Broker
	}

	s.models = registry.New(s.broker, s.settings.Registry.CacheTTL, s.log.Module("registry"), cacheObserver)

	controllerOpts := []v2.Option{
		v2.WithCollector(saga.NewCollector(s.broker, s.images, sagaOpts...)),
		v2.WithPredictor(saga.NewPredictor(s.broker, s.images, s.model, sagaOpts...)),
		v2.WithModels(s.models),
		v2.WithBroker(s.broker),
		v2.WithImages(s.images),
		v2.WithBuildInfo(s.build),
		v2.WithLogger(s.log),
	}
	if s.metrics != nil {
		controllerOpts = append(controllerOpts, v2.WithMetrics(s.metrics))
	}
	if s.config.RateLimit > 0 {
		controllerOpts = append(controllerOpts,
			v2.WithGroupMiddleware(mw.NewRateLimiter(s.config.RateLimit, s.config.RateBurst)))
	}

	controller, err := v2.New(s.echo, controllerOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize API controller: %w", err)
	}
	s.apiController = controller

	pages, err := httpcontroller.New(s.build, s.log.Module("httpcontroller"))
	if err != nil {
		return fmt.Errorf("failed to initialize pages: %w", err)
	}
	pages.RegisterRoutes(s.echo)
	s.pages = pages

	if s.config.MetricsEnabled && s.metrics != nil {
		s.echo.GET(s.config.MetricsPath, echo.WrapHandler(s.metrics.Handler()))
	}

	return nil
}

// Start serves HTTP requests and blocks until the server is shut down.
// A clean shutdown returns nil.
func (s *Server) Start() error {
	addr := s.config.Address()

	var err error
	if s.config.AutoTLS {
		s.echo.AutoTLSManager.Prompt = autocert.AcceptTOS
		s.echo.AutoTLSManager.Cache = autocert.DirCache(s.config.CacheDir)
		s.echo.AutoTLSManager.HostPolicy = autocert.HostWhitelist(s.config.TLSHost)

		s.log.Info("Starting HTTPS server with AutoTLS",
			logger.String("address", addr),
			logger.String("host", s.config.TLSHost))
		err = s.echo.StartAutoTLS(addr)
	} else {
		s.log.Info("Starting HTTP server", logger.String("address", addr))
		err = s.echo.Start(addr)
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, waiting at most the configured
// shutdown timeout for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		s.log.Error("Error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}

	s.log.Info("Server shutdown complete",
		logger.Duration("uptime", time.Since(s.startTime)))
	return nil
}

// Echo returns the underlying Echo instance.
// This is useful for testing or advanced configuration.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Config returns the effective server configuration.
func (s *Server) Config() *Config {
	return s.config
}
