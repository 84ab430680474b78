package cache

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/confera-app/backend/internal/redis"
)

// OnlineUser is one live connection in a meeting room.
type OnlineUser struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username"`
	SocketID string    `json:"socketId"`
	JoinedAt time.Time `json:"joinedAt"`
}

const (
	onlineUsersKeyPattern = "meeting:%s:online"
	// onlineUsersTTL bounds stale presence after an unclean shutdown.
	onlineUsersTTL = time.Hour
)

// PresenceStore tracks who is connected to which meeting. Redis-backed
// when available; a process-local map otherwise. Presence is advisory,
// so every failure degrades to the fallback instead of erroring.
type PresenceStore struct {
	redisClient *redis.Client

	mu    sync.RWMutex
	local map[string]map[string]OnlineUser
}

func NewPresenceStore(redisClient *redis.Client) *PresenceStore {
	return &PresenceStore{
		redisClient: redisClient,
		local:       make(map[string]map[string]OnlineUser),
	}
}

func onlineUsersKey(meetingID string) string {
	return fmt.Sprintf(onlineUsersKeyPattern, meetingID)
}

// AddOnlineUser records a connection in the meeting's presence hash.
func (p *PresenceStore) AddOnlineUser(meetingID string, user OnlineUser) {
	key := onlineUsersKey(meetingID)
	if err := p.redisClient.HSet(key, user.UserID, user); err == nil {
		if err := p.redisClient.Expire(key, onlineUsersTTL); err != nil {
			logrus.WithError(err).WithField("meeting_id", meetingID).Warn("Failed to refresh presence TTL")
		}
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	room := p.local[meetingID]
	if room == nil {
		room = make(map[string]OnlineUser)
		p.local[meetingID] = room
	}
	room[user.UserID] = user
}

// RemoveOnlineUser drops a connection from the meeting's presence hash.
func (p *PresenceStore) RemoveOnlineUser(meetingID, userID string) {
	if err := p.redisClient.HDel(onlineUsersKey(meetingID), userID); err != nil &&
		err != redis.ErrNotConnected {
		logrus.WithError(err).WithFields(logrus.Fields{
			"meeting_id": meetingID,
			"user_id":    userID,
		}).Warn("Failed to remove online user")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if room, ok := p.local[meetingID]; ok {
		delete(room, userID)
		if len(room) == 0 {
			delete(p.local, meetingID)
		}
	}
}

// GetOnlineUsers lists the connections in a meeting. Errors yield an
// empty list: presence readers must tolerate missing data.
func (p *PresenceStore) GetOnlineUsers(meetingID string) []OnlineUser {
	fields, err := p.redisClient.HGetAll(onlineUsersKey(meetingID))
	if err == nil {
		users := make([]OnlineUser, 0, len(fields))
		for _, raw := range fields {
			var user OnlineUser
			if err := json.Unmarshal([]byte(raw), &user); err != nil {
				logrus.WithError(err).WithField("meeting_id", meetingID).Warn("Skipping malformed presence entry")
				continue
			}
			users = append(users, user)
		}
		return users
	}
	if err != redis.ErrNotConnected {
		logrus.WithError(err).WithField("meeting_id", meetingID).Warn("Failed to read online users")
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	users := make([]OnlineUser, 0, len(p.local[meetingID]))
	for _, user := range p.local[meetingID] {
		users = append(users, user)
	}
	return users
}

// ClearMeeting drops all presence for a meeting, used when it ends.
func (p *PresenceStore) ClearMeeting(meetingID string) {
	if err := p.redisClient.Delete(onlineUsersKey(meetingID)); err != nil &&
		err != redis.ErrNotConnected {
		logrus.WithError(err).WithField("meeting_id", meetingID).Warn("Failed to clear meeting presence")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.local, meetingID)
}
