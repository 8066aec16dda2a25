// Package ngsild is a thin client for an NGSI-LD v1 context broker.
//
// Only the calls the application needs are implemented: version ping,
// entity query by type, create, read and attribute patch. There is no retry;
// callers decide whether a failure is fatal for their flow.
package ngsild

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/digitlab/digitlab/internal/errors"
	"github.com/digitlab/digitlab/internal/httpclient"
	"github.com/digitlab/digitlab/internal/logger"
)

const (
	ContentTypeLDJSON = "application/ld+json"
	ContentTypeJSON   = "application/json"

	// DefaultQueryLimit is the page size used when QueryEntities gets limit <= 0.
	DefaultQueryLimit = 1000

	entitiesPath = "/ngsi-ld/v1/entities"
	versionPath  = "/version"

	componentName = "ngsild"

	// maxLoggedBody caps response bodies copied into logs and errors.
	maxLoggedBody = 512
)

// Operation names used for logging and metrics.
const (
	OpPing   = "ping"
	OpQuery  = "query"
	OpCreate = "create"
	OpGet    = "get"
	OpUpdate = "update"
)

// ErrEntityNotFound is returned by GetEntity when the broker answers 404.
var ErrEntityNotFound = errors.NewStd("entity not found")

// StatusError is a non-2xx broker response.
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("context broker %s returned status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// Response is the status and raw body of a successful write.
type Response struct {
	StatusCode int
	Body       []byte
}

// Observer receives one call per broker round trip.
// outcome is "success", "not_found", "status_error" or "transport_error".
type Observer interface {
	RecordBrokerCall(operation, outcome string, duration time.Duration)
}

// Config describes how to reach the broker.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Client talks to one context broker. Safe for concurrent use.
type Client struct {
	baseURL  string
	http     *httpclient.Client
	log      logger.Logger
	observer Observer
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger; defaults to the global "ngsild" module logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// NewClient validates cfg and returns a broker client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Newf("invalid context broker URL %q", cfg.BaseURL).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http: httpclient.New(&httpclient.Config{
			DefaultTimeout: cfg.Timeout,
			UserAgent:      cfg.UserAgent,
		}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Global().Module(componentName)
	}
	return c, nil
}

// BaseURL returns the broker root without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// HTTPClient exposes the transport so tests can mock it.
func (c *Client) HTTPClient() *http.Client { return c.http.HTTPClient() }

// Close releases idle connections.
func (c *Client) Close() { c.http.Close() }

// Ping requests the broker version document. A reachable broker that answers
// non-2xx reports false with a *StatusError.
func (c *Client) Ping(ctx context.Context) (bool, map[string]any, error) {
	start := time.Now()
	resp, err := c.http.Get(ctx, c.baseURL+versionPath, httpclient.WithHeader("Accept", ContentTypeLDJSON))
	if err != nil {
		c.observe(OpPing, "transport_error", start)
		return false, nil, c.transportError(OpPing, err)
	}
	body, err := readBody(resp)
	if err != nil {
		c.observe(OpPing, "transport_error", start)
		return false, nil, c.transportError(OpPing, err)
	}
	if !isSuccess(resp.StatusCode) {
		c.observe(OpPing, "status_error", start)
		return false, nil, c.statusError(OpPing, resp.StatusCode, body)
	}
	c.observe(OpPing, "success", start)

	info := map[string]any{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &info); err != nil {
			// Reachable but not JSON; keep the raw text for the caller.
			info = map[string]any{"raw": truncate(string(body))}
		}
	}
	return true, info, nil
}

// QueryEntities lists entities of the given type. Failures are logged and
// yield an empty slice so listing pages keep working with the broker down.
func (c *Client) QueryEntities(ctx context.Context, entityType string, limit, offset int) []Entity {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if offset < 0 {
		offset = 0
	}

	q := url.Values{}
	q.Set("type", entityType)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	start := time.Now()
	resp, err := c.http.Get(ctx, c.baseURL+entitiesPath+"?"+q.Encode(), httpclient.WithHeader("Accept", ContentTypeLDJSON))
	if err != nil {
		c.observe(OpQuery, "transport_error", start)
		c.log.Error("Entity query failed",
			logger.String("entity_type", entityType),
			logger.Error(err))
		return []Entity{}
	}
	body, err := readBody(resp)
	if err != nil || !isSuccess(resp.StatusCode) {
		c.observe(OpQuery, "status_error", start)
		c.log.Error("Entity query failed",
			logger.String("entity_type", entityType),
			logger.Int("status", resp.StatusCode),
			logger.String("body", truncate(string(body))))
		return []Entity{}
	}

	var entities []Entity
	if err := json.Unmarshal(body, &entities); err != nil {
		c.observe(OpQuery, "status_error", start)
		c.log.Error("Entity query returned malformed JSON",
			logger.String("entity_type", entityType),
			logger.Error(err))
		return []Entity{}
	}
	c.observe(OpQuery, "success", start)
	if entities == nil {
		entities = []Entity{}
	}
	return entities
}

// CreateEntity posts a new entity. Creates are not idempotent; a 409 for an
// existing id comes back as a *StatusError.
func (c *Client) CreateEntity(ctx context.Context, entity Entity) (*Response, error) {
	start := time.Now()
	resp, err := c.http.Post(ctx, c.baseURL+entitiesPath, ContentTypeLDJSON, map[string]any(entity))
	if err != nil {
		c.observe(OpCreate, "transport_error", start)
		return nil, c.transportError(OpCreate, err, "entity_id", entity.ID())
	}
	body, err := readBody(resp)
	if err != nil {
		c.observe(OpCreate, "transport_error", start)
		return nil, c.transportError(OpCreate, err, "entity_id", entity.ID())
	}
	if !isSuccess(resp.StatusCode) {
		c.observe(OpCreate, "status_error", start)
		c.log.Error("Entity creation rejected",
			logger.String("entity_id", entity.ID()),
			logger.Int("status", resp.StatusCode),
			logger.String("body", truncate(string(body))))
		return nil, c.statusError(OpCreate, resp.StatusCode, body, "entity_id", entity.ID())
	}

	c.observe(OpCreate, "success", start)
	c.log.Info("Entity created",
		logger.String("entity_id", entity.ID()),
		logger.String("entity_type", entity.Type()))
	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

// GetEntity reads one entity. A 404 is reported as ErrEntityNotFound.
func (c *Client) GetEntity(ctx context.Context, id string) (Entity, error) {
	start := time.Now()
	resp, err := c.http.Get(ctx, c.entityURL(id), httpclient.WithHeader("Accept", ContentTypeLDJSON))
	if err != nil {
		c.observe(OpGet, "transport_error", start)
		return nil, c.transportError(OpGet, err, "entity_id", id)
	}
	body, err := readBody(resp)
	if err != nil {
		c.observe(OpGet, "transport_error", start)
		return nil, c.transportError(OpGet, err, "entity_id", id)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.observe(OpGet, "not_found", start)
		return nil, errors.New(ErrEntityNotFound).
			Component(componentName).
			Category(errors.CategoryNotFound).
			Context("entity_id", id).
			Build()
	case !isSuccess(resp.StatusCode):
		c.observe(OpGet, "status_error", start)
		return nil, c.statusError(OpGet, resp.StatusCode, body, "entity_id", id)
	}

	var entity Entity
	if err := json.Unmarshal(body, &entity); err != nil {
		c.observe(OpGet, "status_error", start)
		return nil, errors.Newf("decode entity %s: %w", id, err).
			Component(componentName).
			Category(errors.CategoryUpstream).
			Build()
	}
	c.observe(OpGet, "success", start)
	return entity, nil
}

// UpdateEntityAttrs patches attributes of an existing entity.
func (c *Client) UpdateEntityAttrs(ctx context.Context, id string, attrs Attributes) (*Response, error) {
	start := time.Now()
	resp, err := c.http.Patch(ctx, c.entityURL(id)+"/attrs", ContentTypeJSON, map[string]any(attrs))
	if err != nil {
		c.observe(OpUpdate, "transport_error", start)
		return nil, c.transportError(OpUpdate, err, "entity_id", id)
	}
	body, err := readBody(resp)
	if err != nil {
		c.observe(OpUpdate, "transport_error", start)
		return nil, c.transportError(OpUpdate, err, "entity_id", id)
	}
	if !isSuccess(resp.StatusCode) {
		c.observe(OpUpdate, "status_error", start)
		c.log.Error("Entity update rejected",
			logger.String("entity_id", id),
			logger.Int("status", resp.StatusCode),
			logger.String("body", truncate(string(body))))
		return nil, c.statusError(OpUpdate, resp.StatusCode, body, "entity_id", id)
	}

	c.observe(OpUpdate, "success", start)
	c.log.Debug("Entity attributes updated", logger.String("entity_id", id))
	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

func (c *Client) entityURL(id string) string {
	return c.baseURL + entitiesPath + "/" + url.PathEscape(id)
}

func (c *Client) observe(op, outcome string, start time.Time) {
	if c.observer != nil {
		c.observer.RecordBrokerCall(op, outcome, time.Since(start))
	}
}

func (c *Client) transportError(op string, err error, kv ...string) error {
	b := errors.Newf("context broker %s failed: %w", op, err).
		Component(componentName).
		Category(errors.CategoryUpstream).
		Context("operation", op)
	for i := 0; i+1 < len(kv); i += 2 {
		b.Context(kv[i], kv[i+1])
	}
	return b.Build()
}

func (c *Client) statusError(op string, status int, body []byte, kv ...string) error {
	b := errors.New(&StatusError{Operation: op, StatusCode: status, Body: truncate(string(body))}).
		Component(componentName).
		Category(errors.CategoryUpstream).
		Context("operation", op).
		Context("status_code", status)
	for i := 0; i+1 < len(kv); i += 2 {
		b.Context(kv[i], kv[i+1])
	}
	return b.Build()
}

func readBody(resp *http.Response) ([]byte, error) {
	defer func() { _ = resp.Body.Close() }()
	return io.ReadAll(resp.Body)
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func truncate(s string) string {
	if len(s) > maxLoggedBody {
		return s[:maxLoggedBody] + "..."
	}
	return s
}
