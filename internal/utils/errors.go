package utils

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error kinds. Services wrap one of these sentinels with context via
// fmt.Errorf("...: %w", kind); controllers translate them to HTTP with
// RespondError.
var (
	ErrBadRequest         = errors.New("bad request")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrGone               = errors.New("gone")
	ErrConflict           = errors.New("conflict")
	ErrResourceExhausted  = errors.New("resource exhausted")
	ErrFailedPrecondition = errors.New("failed precondition")
	ErrInternal           = errors.New("internal error")
	ErrUnavailable        = errors.New("unavailable")
)

// Error codes used in responses and structured logs.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeNotFound           = "NOT_FOUND"
	CodeGone               = "GONE"
	CodeConflict           = "CONFLICT"
	CodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	CodeMeetingFull        = "MEETING_FULL"
	CodeFailedPrecondition = "FAILED_PRECONDITION"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeUnavailable        = "SERVICE_UNAVAILABLE"
)

// httpStatus maps an error kind to its HTTP status and code string.
func httpStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized, CodeUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, CodeForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, ErrGone):
		return http.StatusGone, CodeGone
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, ErrResourceExhausted):
		return http.StatusTooManyRequests, CodeRateLimitExceeded
	case errors.Is(err, ErrFailedPrecondition):
		return http.StatusPreconditionFailed, CodeFailedPrecondition
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable, CodeUnavailable
	default:
		return http.StatusInternalServerError, CodeInternalError
	}
}

// RespondError writes the JSON error envelope for a service error.
// Internal errors are masked with a generic message.
func RespondError(c *gin.Context, err error) {
	status, code := httpStatus(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}

	c.JSON(status, ErrorEnvelope{
		Success: false,
		Message: message,
		Code:    code,
	})
}

// AbortError is RespondError followed by c.Abort, for middleware use.
func AbortError(c *gin.Context, err error) {
	RespondError(c, err)
	c.Abort()
}
