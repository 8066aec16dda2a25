package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitlab/digitlab/internal/logger"
	"github.com/digitlab/digitlab/internal/observability/metrics"
)

func serve(e *echo.Echo, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, http.NoBody)
	req.RemoteAddr = "192.0.2.10:4242"
	e.ServeHTTP(rec, req)
	return rec
}

func TestRequestLogger_LogsFinalStatus(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	e := echo.New()
	e.Use(NewRequestLogger(logger.NewSlogLogger(&buf, logger.LogLevelDebug, nil)))
	e.GET("/boom", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "bad")
	})

	rec := serve(e, http.MethodGet, "/boom")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, buf.String(), `"status":400`)
	assert.Contains(t, buf.String(), `"uri":"/boom"`)
	assert.Contains(t, buf.String(), `"level":"INFO"`)
}

func TestRequestLogger_ServerErrorsAtWarn(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	e := echo.New()
	e.Use(NewRequestLogger(logger.NewSlogLogger(&buf, logger.LogLevelDebug, nil)))
	e.GET("/fail", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadGateway)
	})

	serve(e, http.MethodGet, "/fail")
	assert.Contains(t, buf.String(), `"level":"WARN"`)
}

func TestRequestID_TagsContextLoggerAndAccessLog(t *testing.T) {
	t.Parallel()

	var handlerLog, accessLog bytes.Buffer
	handlerLogger := logger.NewSlogLogger(&handlerLog, logger.LogLevelDebug, nil)

	e := echo.New()
	e.Use(NewRequestID())
	e.Use(NewRequestLogger(logger.NewSlogLogger(&accessLog, logger.LogLevelDebug, nil)))
	e.GET("/ok", func(c echo.Context) error {
		handlerLogger.WithContext(c.Request().Context()).Info("handled")
		return c.NoContent(http.StatusNoContent)
	})

	rec := serve(e, http.MethodGet, "/ok")

	id := rec.Header().Get(echo.HeaderXRequestID)
	require.NotEmpty(t, id)
	assert.Contains(t, handlerLog.String(), `"request_id":"`+id+`"`)
	assert.Contains(t, accessLog.String(), `"request_id":"`+id+`"`)
}

func TestRequestID_KeepsIncomingHeader(t *testing.T) {
	t.Parallel()

	e := echo.New()
	e.Use(NewRequestID())
	e.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/ok", http.NoBody)
	req.Header.Set(echo.HeaderXRequestID, "client-supplied")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, "client-supplied", rec.Header().Get(echo.HeaderXRequestID))
}

func TestRateLimiter(t *testing.T) {
	t.Parallel()

	e := echo.New()
	e.Use(NewRateLimiter(1, 2))
	e.GET("/ping", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	assert.Equal(t, http.StatusNoContent, serve(e, http.MethodGet, "/ping").Code)
	assert.Equal(t, http.StatusNoContent, serve(e, http.MethodGet, "/ping").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(e, http.MethodGet, "/ping").Code)
}

func TestBodyLimit(t *testing.T) {
	t.Parallel()

	e := echo.New()
	e.Use(NewBodyLimit("1K"))
	e.POST("/upload", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewReader(make([]byte, 4096)))
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := metrics.NewHTTPMetrics(reg)
	require.NoError(t, err)

	e := echo.New()
	e.Use(NewMetrics(m))
	e.GET("/images/*", func(c echo.Context) error { return c.String(http.StatusOK, "png") })

	serve(e, http.MethodGet, "/images/3/a.png")
	serve(e, http.MethodGet, "/images/4/b.png")

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range families {
		if mf.GetName() != "digitlab_http_requests_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["path"] == "/images/*" && labels["status_code"] == "200" {
				found = true
				assert.InDelta(t, 2, metric.GetCounter().GetValue(), 0)
			}
		}
	}
	assert.True(t, found, "expected request counter for route pattern")
	assert.Equal(t, 1, testutil.CollectAndCount(m, "digitlab_http_requests_total"))
}

func TestSecureHeaders(t *testing.T) {
	t.Parallel()

	e := echo.New()
	e.Use(NewSecureHeaders(DefaultSecurityConfig()))
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	rec := serve(e, http.MethodGet, "/")
	assert.Equal(t, "nosniff", rec.Header().Get(echo.HeaderXContentTypeOptions))
	assert.Equal(t, "SAMEORIGIN", rec.Header().Get(echo.HeaderXFrameOptions))
}
