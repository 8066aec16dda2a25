// Package api implements the JSON endpoints under /api and the image file routes.
package api

import (
	"context"
	"crypto/rand"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/digitlab/digitlab/internal/buildinfo"
	"github.com/digitlab/digitlab/internal/errors"
	"github.com/digitlab/digitlab/internal/imagestore"
	"github.com/digitlab/digitlab/internal/logger"
	"github.com/digitlab/digitlab/internal/observability"
	"github.com/digitlab/digitlab/internal/registry"
	"github.com/digitlab/digitlab/internal/saga"
)

// MsgInternalError is the only message clients see for unexpected failures.
const MsgInternalError = "An internal error occurred"

// Collector runs the collect flow.
type Collector interface {
	Collect(ctx context.Context, req saga.CollectRequest) (*saga.CollectResult, error)
}

// Predictor runs the predict flow.
type Predictor interface {
	Predict(ctx context.Context, req saga.PredictRequest) (*saga.PredictResult, error)
}

// ModelLister lists the models offered to the prediction page.
type ModelLister interface {
	List(ctx context.Context) []registry.ModelInfo
}

// BrokerPinger reports broker reachability for the health endpoint.
type BrokerPinger interface {
	Ping(ctx context.Context) (bool, map[string]any, error)
	BaseURL() string
}

// ImageServer streams stored images.
type ImageServer interface {
	Serve(c echo.Context, kind imagestore.Kind, relPath string) error
}

// Controller manages the API routes and handlers
type Controller struct {
	Echo  *echo.Echo
	Group *echo.Group

	collector Collector
	predictor Predictor
	models    ModelLister
	broker    BrokerPinger
	images    ImageServer

	build     *buildinfo.Context
	metrics   *observability.Metrics
	log       logger.Logger
	startTime time.Time

	groupMiddleware []echo.MiddlewareFunc
}

// Option is a functional option for configuring the Controller.
type Option func(*Controller)

// WithCollector sets the collect flow.
func WithCollector(col Collector) Option {
	return func(c *Controller) { c.collector = col }
}

// WithPredictor sets the predict flow.
func WithPredictor(p Predictor) Option {
	return func(c *Controller) { c.predictor = p }
}

// WithModels sets the model registry.
func WithModels(m ModelLister) Option {
	return func(c *Controller) { c.models = m }
}

// WithBroker sets the broker used by the health check.
func WithBroker(b BrokerPinger) Option {
	return func(c *Controller) { c.broker = b }
}

// WithImages sets the image store backing /images and /predictions.
func WithImages(s ImageServer) Option {
	return func(c *Controller) { c.images = s }
}

// WithBuildInfo sets version metadata reported by the health check.
func WithBuildInfo(b *buildinfo.Context) Option {
	return func(c *Controller) { c.build = b }
}

// WithMetrics sets the shared metrics instance.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithGroupMiddleware adds middleware to every /api route, e.g. rate limiting.
func WithGroupMiddleware(m ...echo.MiddlewareFunc) Option {
	return func(c *Controller) { c.groupMiddleware = append(c.groupMiddleware, m...) }
}

// WithLogger overrides the api module logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// New creates the controller, registers its routes on e and installs
// HTTPErrorHandler as e's error handler.
func New(e *echo.Echo, opts ...Option) (*Controller, error) {
	c := &Controller{
		Echo:      e,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Global().Module("api")
	}

	switch {
	case c.collector == nil:
		return nil, errors.Newf("api controller requires a collector").Component("api").Category(errors.CategoryConfiguration).Build()
	case c.predictor == nil:
		return nil, errors.Newf("api controller requires a predictor").Component("api").Category(errors.CategoryConfiguration).Build()
	case c.models == nil:
		return nil, errors.Newf("api controller requires a model registry").Component("api").Category(errors.CategoryConfiguration).Build()
	case c.images == nil:
		return nil, errors.Newf("api controller requires an image store").Component("api").Category(errors.CategoryConfiguration).Build()
	}

	c.Group = e.Group("/api", c.groupMiddleware...)
	e.HTTPErrorHandler = c.HTTPErrorHandler
	c.initRoutes()
	return c, nil
}

// initRoutes registers all API endpoints
func (c *Controller) initRoutes() {
	c.Group.GET("/health", c.HealthCheck)
	c.Group.GET("/models", c.ListModels)
	c.Group.POST("/collect", c.Collect)
	c.Group.POST("/predict", c.Predict)

	c.initMediaRoutes()
}

// HealthCheck reports build metadata and whether the broker answers.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	uptime := time.Since(c.startTime)
	response := map[string]any{
		"status":         "healthy",
		"version":        c.build.Version(),
		"build_date":     c.build.BuildDate(),
		"timestamp":      time.Now().Format(time.RFC3339),
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
	}

	if c.broker != nil {
		ok, info, err := c.broker.Ping(ctx.Request().Context())
		broker := map[string]any{
			"url":       c.broker.BaseURL(),
			"reachable": ok,
		}
		if ok {
			broker["version"] = info
		} else {
			response["status"] = "degraded"
			if err != nil {
				c.log.Warn("Broker health check failed", logger.Error(err))
			}
		}
		response["broker"] = broker
		if c.metrics != nil {
			c.metrics.Broker.SetReachable(ok)
		}
	}

	return ctx.JSON(http.StatusOK, response)
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id,omitempty"` // set on 5xx responses for log lookup
}

// generateCorrelationID creates a short random identifier for error tracking.
func generateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 8

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}

// errorStatus maps err to a status code and the message the client may see.
// Categorised errors win over any echo error they wrap.
func errorStatus(err error) (int, string) {
	switch errors.CategoryOf(err) {
	case errors.CategoryInvalidInput:
		msg, _ := errors.PublicMessage(err)
		return http.StatusBadRequest, msg
	case errors.CategoryUpstream:
		if msg, ok := errors.PublicMessage(err); ok {
			return http.StatusInternalServerError, msg
		}
		return http.StatusInternalServerError, MsgInternalError
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		if he.Code >= http.StatusInternalServerError {
			return he.Code, MsgInternalError
		}
		if msg, ok := he.Message.(string); ok {
			return he.Code, msg
		}
		return he.Code, http.StatusText(he.Code)
	}
	return http.StatusInternalServerError, MsgInternalError
}

// HandleError writes the JSON error response for err. Client errors are
// logged at debug level; server errors get a correlation id and the full
// error chain in the log, never in the response.
func (c *Controller) HandleError(ctx echo.Context, err error) error {
	code, message := errorStatus(err)
	resp := ErrorResponse{Error: message}
	req := ctx.Request()

	if code >= http.StatusInternalServerError {
		resp.CorrelationID = generateCorrelationID()
		c.log.WithContext(req.Context()).Error("API error",
			logger.String("correlation_id", resp.CorrelationID),
			logger.String("method", req.Method),
			logger.String("path", req.URL.Path),
			logger.String("ip", ctx.RealIP()),
			logger.Int("code", code),
			logger.Error(err))
	} else {
		c.log.Debug("Request rejected",
			logger.String("method", req.Method),
			logger.String("path", req.URL.Path),
			logger.Int("code", code),
			logger.String("message", message))
	}

	if c.metrics != nil {
		c.metrics.HTTP.RecordHTTPRequestError(req.Method, ctx.Path(), string(errors.CategoryOf(err)))
	}

	return ctx.JSON(code, resp)
}

// HTTPErrorHandler is installed as echo's global error handler so routing
// errors, body limit rejections and recovered panics share the JSON shape.
func (c *Controller) HTTPErrorHandler(err error, ctx echo.Context) {
	if ctx.Response().Committed {
		return
	}
	if ctx.Request().Method == http.MethodHead {
		code, _ := errorStatus(err)
		_ = ctx.NoContent(code)
		return
	}
	if herr := c.HandleError(ctx, err); herr != nil {
		c.log.Error("Failed to write error response", logger.Error(herr))
	}
}
