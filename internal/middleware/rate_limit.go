package middleware

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/confera-app/backend/internal/services"
	"github.com/confera-app/backend/internal/utils"
)

func applyLimit(c *gin.Context, result services.RateLimitResult, message string) {
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.Itoa(result.ResetInSeconds))
	if !result.Allowed {
		c.Header("Retry-After", strconv.Itoa(result.ResetInSeconds))
		utils.AbortError(c, fmt.Errorf("%s: %w", message, utils.ErrResourceExhausted))
		return
	}
	c.Next()
}

// RateLimit applies the general per-IP limit.
func RateLimit(limiter *services.RateLimiterService) gin.HandlerFunc {
	return func(c *gin.Context) {
		applyLimit(c, limiter.AllowGeneral(c.Request.Context(), c.ClientIP()), "too many requests")
	}
}

// AuthRateLimit applies the tighter limit on credential endpoints.
func AuthRateLimit(limiter *services.RateLimiterService) gin.HandlerFunc {
	return func(c *gin.Context) {
		applyLimit(c, limiter.AllowAuth(c.Request.Context(), c.ClientIP()), "too many authentication attempts")
	}
}
