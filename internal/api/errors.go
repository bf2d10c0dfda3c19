package api

import (
	"fmt"
	"net/http"
)

// BusinessError is an operation failure with an HTTP mapping.
type BusinessError struct {
	Code       string
	Message    string
	Details    string
	StatusCode int
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewPoolNotFoundError reports a request against an unknown pool.
func NewPoolNotFoundError(name string) *BusinessError {
	return &BusinessError{
		Code:       "pool_not_found",
		Message:    fmt.Sprintf("Pool %q not found", name),
		StatusCode: http.StatusNotFound,
	}
}

// NewInvalidRequestError reports a malformed or out-of-range request.
func NewInvalidRequestError(details string) *BusinessError {
	return &BusinessError{
		Code:       "invalid_request",
		Message:    "Invalid request",
		Details:    details,
		StatusCode: http.StatusBadRequest,
	}
}

// NewOperationFailedError reports a request that was valid but could not
// be carried out.
func NewOperationFailedError(operation string, cause error) *BusinessError {
	return &BusinessError{
		Code:       "operation_failed",
		Message:    fmt.Sprintf("Failed to %s", operation),
		Details:    cause.Error(),
		StatusCode: http.StatusInternalServerError,
	}
}
