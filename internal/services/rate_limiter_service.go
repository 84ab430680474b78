package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/confera-app/backend/internal/config"
	"github.com/confera-app/backend/internal/redis"
)

// RateLimiterService enforces per-IP sliding window limits over a
// Redis sorted set. Fail-open: when Redis is unavailable the request is
// allowed, rate limiting is protection, not a dependency.
type RateLimiterService struct {
	redisClient *redis.Client
	config      config.RateLimitConfig
}

func NewRateLimiterService(redisClient *redis.Client, cfg config.RateLimitConfig) *RateLimiterService {
	return &RateLimiterService{
		redisClient: redisClient,
		config:      cfg,
	}
}

// RateLimitResult is the outcome of one limit check. ResetInSeconds is
// how long a limited caller should wait before the window frees up.
type RateLimitResult struct {
	Allowed        bool
	Remaining      int
	ResetInSeconds int
}

// AllowGeneral checks the broad per-IP limit.
func (s *RateLimiterService) AllowGeneral(ctx context.Context, ip string) RateLimitResult {
	return s.allow(ctx, "ratelimit:general:"+ip, s.config.GeneralRequests, s.config.GeneralWindow)
}

// AllowAuth checks the tighter limit on credential endpoints.
func (s *RateLimiterService) AllowAuth(ctx context.Context, ip string) RateLimitResult {
	return s.allow(ctx, "ratelimit:auth:"+ip, s.config.AuthRequests, s.config.AuthWindow)
}

func (s *RateLimiterService) allow(ctx context.Context, key string, limit int, window time.Duration) RateLimitResult {
	open := RateLimitResult{Allowed: true, Remaining: limit, ResetInSeconds: int(window.Seconds())}
	if !s.config.Enabled {
		return open
	}

	now := time.Now()
	windowStart := now.Add(-window)

	err := s.redisClient.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixMilli()))
	if err != nil {
		if err != redis.ErrNotConnected {
			logrus.WithError(err).WithField("key", key).Warn("Rate limiter prune failed, allowing request")
		}
		return open
	}

	count, err := s.redisClient.ZCard(ctx, key)
	if err != nil {
		logrus.WithError(err).WithField("key", key).Warn("Rate limiter count failed, allowing request")
		return open
	}
	if count >= int64(limit) {
		return RateLimitResult{Allowed: false, Remaining: 0, ResetInSeconds: int(window.Seconds())}
	}

	// Member must be unique per request within the window.
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.New().String()[:8])
	if err := s.redisClient.ZAdd(ctx, key, float64(now.UnixMilli()), member); err != nil {
		logrus.WithError(err).WithField("key", key).Warn("Rate limiter record failed")
		return open
	}
	if err := s.redisClient.Expire(key, window); err != nil {
		logrus.WithError(err).WithField("key", key).Warn("Rate limiter expire failed")
	}

	remaining := limit - int(count) - 1
	if remaining < 0 {
		remaining = 0
	}
	return RateLimitResult{Allowed: true, Remaining: remaining, ResetInSeconds: int(window.Seconds())}
}
