package middleware

import (
	"github.com/gin-gonic/gin"

	"rewardflow/pkg/snowflake"
)

// TraceIDKey is the gin context key carrying the request trace ID.
const TraceIDKey = "trace_id"

// Trace assigns every request a trace ID, honoring one supplied by the
// caller. The ID rides on the response header and through the pipeline
// into the ledger rows it produces.
func Trace(idgen *snowflake.IDGenerator) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader("X-Trace-Id")
		if traceID == "" {
			traceID = idgen.NextString()
		}
		c.Set(TraceIDKey, traceID)
		c.Header("X-Trace-Id", traceID)
		c.Next()
	}
}
