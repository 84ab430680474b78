package cache

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/confera-app/backend/internal/models"
	"github.com/confera-app/backend/internal/redis"
)

// CacheRepository implements cache-aside for hot read paths. Every
// method degrades silently on Redis failure: a miss is returned and the
// caller reads the database.
type CacheRepository struct {
	redisClient *redis.Client
}

// Cache key patterns
const (
	UserProfileKeyPattern    = "user:profile:%s"
	MeetingDetailsKeyPattern = "meeting:details:%s"
	ICEConfigKey             = "ice:config"
)

// TTL values
const (
	UserProfileTTL    = 30 * time.Minute
	MeetingDetailsTTL = 30 * time.Second
	ICEConfigTTL      = 10 * time.Minute
)

func NewCacheRepository(redisClient *redis.Client) *CacheRepository {
	return &CacheRepository{redisClient: redisClient}
}

// Get retrieves a value from cache. A false return means miss, whether
// from absence or from Redis being unavailable.
func (r *CacheRepository) Get(key string, dest interface{}) bool {
	err := r.redisClient.Get(key, dest)
	if err == nil {
		return true
	}
	if err != redis.ErrNotConnected && !redis.IsNil(err) {
		logrus.WithError(err).WithField("key", key).Warn("Cache get failed")
	}
	return false
}

// Set stores a value with a TTL. Failures are logged and swallowed.
func (r *CacheRepository) Set(key string, data interface{}, ttl time.Duration) {
	if err := r.redisClient.Set(key, data, ttl); err != nil &&
		err != redis.ErrNotConnected {
		logrus.WithError(err).WithField("key", key).Warn("Cache set failed")
	}
}

// Delete removes a key.
func (r *CacheRepository) Delete(keys ...string) {
	if err := r.redisClient.Delete(keys...); err != nil &&
		err != redis.ErrNotConnected {
		logrus.WithError(err).WithField("keys", keys).Warn("Cache delete failed")
	}
}

// DeleteByPattern removes all keys matching a pattern.
func (r *CacheRepository) DeleteByPattern(pattern string) {
	keys, err := r.redisClient.Keys(pattern)
	if err != nil {
		if err != redis.ErrNotConnected {
			logrus.WithError(err).WithField("pattern", pattern).Warn("Cache pattern scan failed")
		}
		return
	}
	if len(keys) > 0 {
		r.Delete(keys...)
	}
}

func (r *CacheRepository) UserProfileKey(userID string) string {
	return fmt.Sprintf(UserProfileKeyPattern, userID)
}

func (r *CacheRepository) MeetingDetailsKey(meetingID string) string {
	return fmt.Sprintf(MeetingDetailsKeyPattern, meetingID)
}

// GetUserProfile returns a cached user response, if present.
func (r *CacheRepository) GetUserProfile(userID string) (*models.UserResponse, bool) {
	var resp models.UserResponse
	if r.Get(r.UserProfileKey(userID), &resp) {
		return &resp, true
	}
	return nil, false
}

func (r *CacheRepository) SetUserProfile(userID string, resp *models.UserResponse) {
	r.Set(r.UserProfileKey(userID), resp, UserProfileTTL)
}

func (r *CacheRepository) InvalidateUserProfile(userID string) {
	r.Delete(r.UserProfileKey(userID))
}

// GetMeetingDetails returns a cached meeting, if present. The short TTL
// keeps room state near-fresh without hammering the database on every
// signaling event.
func (r *CacheRepository) GetMeetingDetails(meetingID string) (*models.Meeting, bool) {
	var meeting models.Meeting
	if r.Get(r.MeetingDetailsKey(meetingID), &meeting) {
		return &meeting, true
	}
	return nil, false
}

func (r *CacheRepository) SetMeetingDetails(meetingID string, meeting *models.Meeting) {
	r.Set(r.MeetingDetailsKey(meetingID), meeting, MeetingDetailsTTL)
}

// InvalidateMeeting drops the cached meeting view after a write.
func (r *CacheRepository) InvalidateMeeting(meetingID string) {
	r.Delete(r.MeetingDetailsKey(meetingID))
}

// InvalidateMeetingAll sweeps every key scoped to a meeting, details
// and the meeting:<id>:* namespace alike. Reserved for terminal
// transitions: the pattern also covers the presence hash, which must
// survive ordinary writes.
func (r *CacheRepository) InvalidateMeetingAll(meetingID string) {
	r.Delete(r.MeetingDetailsKey(meetingID))
	r.DeleteByPattern(fmt.Sprintf("meeting:%s:*", meetingID))
}
