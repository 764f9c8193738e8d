package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"antigravity2api-go/internal/monitoring"
)

// Metrics records request counts, latency and in-flight gauge. Routes
// are labeled by their registered pattern so path parameters do not
// explode the cardinality.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		monitoring.HTTPInFlight.Inc()
		c.Next()
		monitoring.HTTPInFlight.Dec()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		monitoring.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		monitoring.HTTPRequestDuration.WithLabelValues(
			c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
