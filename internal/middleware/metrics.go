package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/deployops/approval-gate/internal/service"
)

// Metrics captures per-request metrics. The wait endpoint legitimately
// holds requests open for minutes, so duration buckets are interpreted per
// route, not globally.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		metricsSvc.ObserveRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
