package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rewardflow/pkg/limiter"
	"rewardflow/pkg/log"
	"rewardflow/pkg/utils"
)

// RateLimit caps requests per client IP before they reach the report
// pipeline. Limiter failures let the request through; the pipeline's
// own per-user limits still apply.
func RateLimit(l limiter.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, err := l.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			log.Warnf("Rate limiter degraded: %v", err)
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, utils.Response{
				Code:    http.StatusTooManyRequests,
				Message: "Too many requests",
			})
			return
		}
		c.Next()
	}
}
