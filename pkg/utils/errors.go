package utils

import (
	"errors"
	"fmt"
)

// BizError carries a stable business code that the caller can act on.
type BizError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implement error interface
func (e *BizError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("code: %d, message: %s, error: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("code: %d, message: %s", e.Code, e.Message)
}

// Unwrap implement errors.Unwrap interface
func (e *BizError) Unwrap() error {
	return e.Err
}

// NewBizError create new business error
func NewBizError(code int, message string) *BizError {
	return &BizError{Code: code, Message: message}
}

// AsBizError extracts a BizError from an error chain.
func AsBizError(err error) (*BizError, bool) {
	var be *BizError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// Business error codes. 4xxx are caller-correctable rejections.
const (
	CodeInvalidDuration      = 4001
	CodeInvalidSyncTime      = 4002
	CodeTooManyReports       = 4291
	CodeTooMuchDuration      = 4292
	CodeSceneNotConfigured   = 4101
	CodeFeatureDisabled      = 4102
	CodeInternal             = 5000
)
