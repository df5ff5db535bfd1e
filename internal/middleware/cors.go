package middleware

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS Cross-Origin Resource Sharing middleware
func CORS() gin.HandlerFunc {
	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"X-Requested-With",
		"X-Trace-Id",
		"Accept",
	}
	config.AllowMethods = []string{
		"GET",
		"POST",
		"HEAD",
		"OPTIONS",
	}
	return cors.New(config)
}
