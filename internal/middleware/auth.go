package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/confera-app/backend/internal/services"
	"github.com/confera-app/backend/internal/utils"
)

// Auth validates the Bearer token and stores the caller's identity on
// the context under "userID", "username", and "isGuest".
func Auth(jwtService *services.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := jwtService.ExtractTokenFromHeader(c.GetHeader("Authorization"))
		if err != nil {
			utils.AbortError(c, err)
			return
		}

		claims, err := jwtService.ValidateAccessToken(token)
		if err != nil {
			utils.AbortError(c, err)
			return
		}

		c.Set("userID", claims.UserID)
		c.Set("username", claims.Username)
		c.Set("isGuest", claims.IsGuest)
		c.Next()
	}
}

// RequireRegistered rejects guest tokens. Used on endpoints that create
// durable resources, guests may only join.
func RequireRegistered() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isGuest, exists := c.Get("isGuest"); exists && isGuest == true {
			utils.AbortError(c, fmt.Errorf("guests cannot perform this action: %w", utils.ErrForbidden))
			return
		}
		c.Next()
	}
}
