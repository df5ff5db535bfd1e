package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"rewardflow/internal/monitor"
)

// Metrics records HTTP request counters and latency.
func Metrics(mc *monitor.MetricsCollector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		mc.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
