package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/digitlab/digitlab/internal/observability/metrics"
)

// NewMetrics records request counts, latency and response sizes. Paths are
// labelled with the matched route pattern to keep cardinality bounded.
// It must wrap the request logger so the status is final when it runs.
func NewMetrics(m *metrics.HTTPMetrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			req := c.Request()
			res := c.Response()
			m.RecordHTTPRequest(req.Method, path, res.Status, time.Since(start).Seconds())
			m.RecordHTTPResponseSize(req.Method, path, res.Size)
			return err
		}
	}
}
