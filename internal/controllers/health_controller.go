package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/confera-app/backend/internal/redis"
)

type HealthController struct {
	db          *gorm.DB
	redisClient *redis.Client
}

func NewHealthController(db *gorm.DB, redisClient *redis.Client) *HealthController {
	return &HealthController{db: db, redisClient: redisClient}
}

// Check reports process health. Redis being down does not fail the
// check because every Redis-backed feature degrades gracefully.
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (c *HealthController) Check(ctx *gin.Context) {
	dbStatus := "up"
	if sqlDB, err := c.db.DB(); err != nil {
		dbStatus = "down"
	} else if err := sqlDB.PingContext(ctx.Request.Context()); err != nil {
		dbStatus = "down"
	}

	redisStatus := "up"
	if !c.redisClient.IsConnected() {
		redisStatus = "down"
	}

	status := http.StatusOK
	overall := "healthy"
	if dbStatus == "down" {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}

	ctx.JSON(status, gin.H{
		"status":    overall,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"database":  dbStatus,
		"redis":     redisStatus,
	})
}
