package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/softcenter/pkg/metrics"
)

// unmatchedRoute labels requests that did not resolve to a registered route so probing
// traffic cannot grow the label set without bound.
const unmatchedRoute = "unmatched"

// Metrics records request latency by route pattern and tracks in-flight requests.
// Routes listed in skip (matched against the route pattern) are not observed; the
// websocket endpoint belongs there because its latency is the connection lifetime.
func Metrics(skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, route := range skip {
		skipped[route] = struct{}{}
	}

	return func(c *gin.Context) {
		route := c.FullPath()
		if _, ok := skipped[route]; ok && route != "" {
			c.Next()
			return
		}

		metrics.HTTPInFlight.Inc()
		defer metrics.HTTPInFlight.Dec()

		start := time.Now()
		c.Next()

		if route == "" {
			route = unmatchedRoute
		}
		status := strconv.Itoa(c.Writer.Status())
		metrics.APILatency.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
	}
}
