package utils

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Response standard response structure
type Response struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// SuccessResponse returns success response
func SuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:      0,
		Message:   "success",
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

// ErrorResponse returns error response
func ErrorResponse(c *gin.Context, httpCode int, message string) {
	c.JSON(httpCode, Response{
		Code:      httpCode,
		Message:   message,
		Timestamp: time.Now().Unix(),
	})
}

// BizErrorResponse maps a business error to an HTTP response, keeping
// the business code in the body.
func BizErrorResponse(c *gin.Context, be *BizError) {
	httpCode := http.StatusBadRequest
	if be.Code == CodeTooManyReports || be.Code == CodeTooMuchDuration {
		httpCode = http.StatusTooManyRequests
	}
	c.JSON(httpCode, Response{
		Code:      be.Code,
		Message:   be.Message,
		Timestamp: time.Now().Unix(),
	})
}
