package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/confera-app/backend/internal/config"
	"github.com/confera-app/backend/internal/redis"
)

// Without Redis the store must keep working on its local map.
func newLocalPresenceStore() *PresenceStore {
	return NewPresenceStore(redis.NewClient(&config.RedisConfig{Host: "127.0.0.1", Port: "1"}))
}

func TestPresenceLocalFallback(t *testing.T) {
	store := newLocalPresenceStore()

	store.AddOnlineUser("AAA-BBB-CCC", OnlineUser{UserID: "u1", Username: "alice", SocketID: "s1", JoinedAt: time.Now()})
	store.AddOnlineUser("AAA-BBB-CCC", OnlineUser{UserID: "u2", Username: "bob", SocketID: "s2", JoinedAt: time.Now()})
	store.AddOnlineUser("DDD-EEE-FFF", OnlineUser{UserID: "u3", Username: "carol", SocketID: "s3", JoinedAt: time.Now()})

	users := store.GetOnlineUsers("AAA-BBB-CCC")
	assert.Len(t, users, 2)
	assert.Len(t, store.GetOnlineUsers("DDD-EEE-FFF"), 1)
	assert.Empty(t, store.GetOnlineUsers("no-such-meeting"))

	store.RemoveOnlineUser("AAA-BBB-CCC", "u1")
	users = store.GetOnlineUsers("AAA-BBB-CCC")
	assert.Len(t, users, 1)
	assert.Equal(t, "u2", users[0].UserID)

	// Removing an absent user is a no-op.
	store.RemoveOnlineUser("AAA-BBB-CCC", "ghost")
	assert.Len(t, store.GetOnlineUsers("AAA-BBB-CCC"), 1)
}

func TestPresenceReconnectReplacesEntry(t *testing.T) {
	store := newLocalPresenceStore()

	store.AddOnlineUser("AAA-BBB-CCC", OnlineUser{UserID: "u1", SocketID: "old"})
	store.AddOnlineUser("AAA-BBB-CCC", OnlineUser{UserID: "u1", SocketID: "new"})

	users := store.GetOnlineUsers("AAA-BBB-CCC")
	assert.Len(t, users, 1, "one entry per user, keyed by user ID")
	assert.Equal(t, "new", users[0].SocketID)
}

func TestPresenceClearMeeting(t *testing.T) {
	store := newLocalPresenceStore()

	store.AddOnlineUser("AAA-BBB-CCC", OnlineUser{UserID: "u1"})
	store.ClearMeeting("AAA-BBB-CCC")
	assert.Empty(t, store.GetOnlineUsers("AAA-BBB-CCC"))
}
