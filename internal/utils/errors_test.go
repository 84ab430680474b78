package utils

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{ErrBadRequest, http.StatusBadRequest, CodeValidation},
		{ErrUnauthenticated, http.StatusUnauthorized, CodeUnauthorized},
		{ErrForbidden, http.StatusForbidden, CodeForbidden},
		{ErrNotFound, http.StatusNotFound, CodeNotFound},
		{ErrGone, http.StatusGone, CodeGone},
		{ErrConflict, http.StatusConflict, CodeConflict},
		{ErrResourceExhausted, http.StatusTooManyRequests, CodeRateLimitExceeded},
		{ErrFailedPrecondition, http.StatusPreconditionFailed, CodeFailedPrecondition},
		{ErrUnavailable, http.StatusServiceUnavailable, CodeUnavailable},
		{fmt.Errorf("something broke"), http.StatusInternalServerError, CodeInternalError},
	}

	for _, tc := range cases {
		status, code := httpStatus(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}

func TestHTTPStatusUnwrapsContext(t *testing.T) {
	wrapped := fmt.Errorf("meeting XYZ-123-ABC: %w", ErrGone)
	status, code := httpStatus(wrapped)
	assert.Equal(t, http.StatusGone, status)
	assert.Equal(t, CodeGone, code)

	twice := fmt.Errorf("join failed: %w", wrapped)
	status, _ = httpStatus(twice)
	assert.Equal(t, http.StatusGone, status)
}
