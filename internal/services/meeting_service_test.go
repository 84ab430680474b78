package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/confera-app/backend/internal/cache"
	"github.com/confera-app/backend/internal/config"
	"github.com/confera-app/backend/internal/models"
	"github.com/confera-app/backend/internal/queue"
	"github.com/confera-app/backend/internal/redis"
	"github.com/confera-app/backend/internal/repository"
	"github.com/confera-app/backend/internal/scheduler"
	"github.com/confera-app/backend/internal/utils"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Meeting{},
		&models.Participant{},
		&models.ChatMessage{},
		&models.TranscriptSegment{},
		&models.RecordingFile{},
		&models.MeetingMinutes{},
	))
	return db
}

// testRedisClient points at a closed port so every Redis-backed layer
// runs on its in-memory fallback.
func testRedisClient() *redis.Client {
	return redis.NewClient(&config.RedisConfig{Host: "127.0.0.1", Port: "1"})
}

func newTestMeetingService(t *testing.T, db *gorm.DB) *MeetingService {
	t.Helper()

	redisClient := testRedisClient()
	q := queue.NewManager(redisClient, nil)
	return NewMeetingService(
		db,
		repository.NewMeetingRepository(db),
		cache.NewCacheRepository(redisClient),
		scheduler.NewReminderScheduler(q),
		cache.NewPresenceStore(redisClient),
	)
}

func createTestUser(t *testing.T, db *gorm.DB, username string, guest bool) *models.User {
	t.Helper()

	user := &models.User{
		Username: username,
		Email:    username + "@example.com",
		IsGuest:  guest,
		IsActive: true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func TestCreateMeeting(t *testing.T) {
	db := newTestDB(t)
	svc := newTestMeetingService(t, db)
	host := createTestUser(t, db, "host", false)

	meeting, err := svc.CreateMeeting(context.Background(), host.ID, &models.CreateMeetingRequest{Title: "Standup"})
	require.NoError(t, err)

	assert.True(t, utils.ValidMeetingCode(meeting.MeetingID))
	assert.Equal(t, models.MeetingStatusOngoing, meeting.Status)
	assert.Equal(t, 1, meeting.Statistics.TotalParticipants)
	assert.Equal(t, 1, meeting.Statistics.PeakParticipants)
	assert.Equal(t, 50, meeting.Settings.MaxParticipants)

	p := meeting.FindParticipant(host.ID)
	require.NotNil(t, p)
	assert.Equal(t, models.RoleHost, p.Role)
	assert.Equal(t, models.ParticipantJoined, p.Status)

	var stored models.User
	require.NoError(t, db.First(&stored, "id = ?", host.ID).Error)
	assert.Equal(t, 1, stored.Statistics.MeetingsHosted)
}

func TestCreateMeetingWithPassword(t *testing.T) {
	db := newTestDB(t)
	svc := newTestMeetingService(t, db)
	host := createTestUser(t, db, "host", false)

	meeting, err := svc.CreateMeeting(context.Background(), host.ID, &models.CreateMeetingRequest{
		Title:    "Private",
		Password: "s3cret",
	})
	require.NoError(t, err)
	assert.True(t, meeting.Settings.RequirePassword)
}

func TestScheduleMeeting(t *testing.T) {
	db := newTestDB(t)
	svc := newTestMeetingService(t, db)
	host := createTestUser(t, db, "host", false)

	_, err := svc.ScheduleMeeting(context.Background(), host.ID, &models.ScheduleMeetingRequest{
		CreateMeetingRequest: models.CreateMeetingRequest{Title: "Past"},
		ScheduledFor:         time.Now().Add(-time.Hour),
	})
	assert.ErrorIs(t, err, utils.ErrBadRequest)

	meeting, err := svc.ScheduleMeeting(context.Background(), host.ID, &models.ScheduleMeetingRequest{
		CreateMeetingRequest: models.CreateMeetingRequest{Title: "Planning"},
		ScheduledFor:         time.Now().Add(2 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, models.MeetingStatusScheduled, meeting.Status)

	p := meeting.FindParticipant(host.ID)
	require.NotNil(t, p)
	assert.Equal(t, models.ParticipantInvited, p.Status)
}

func TestJoinMeetingIdempotent(t *testing.T) {
	db := newTestDB(t)
	svc := newTestMeetingService(t, db)
	host := createTestUser(t, db, "host", false)
	alice := createTestUser(t, db, "alice", false)

	meeting, err := svc.CreateMeeting(context.Background(), host.ID, &models.CreateMeetingRequest{Title: "Sync"})
	require.NoError(t, err)

	first, err := svc.JoinMeeting(context.Background(), meeting.MeetingID, alice.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 2, first.Statistics.TotalParticipants)

	second, err := svc.JoinMeeting(context.Background(), meeting.MeetingID, alice.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 2, second.Statistics.TotalParticipants)
	assert.Equal(t, 2, second.JoinedCount())

	var stored models.User
	require.NoError(t, db.First(&stored, "id = ?", alice.ID).Error)
	assert.Equal(t, 1, stored.Statistics.MeetingsAttended)
}

func TestJoinMeetingRejoinAfterLeave(t *testing.T) {
	db := newTestDB(t)
	svc := newTestMeetingService(t, db)
	host := createTestUser(t, db, "host", false)
	alice := createTestUser(t, db, "alice", false)

	meeting, err := svc.CreateMeeting(context.Background(), host.ID, &models.CreateMeetingRequest{Title: "Sync"})
	require.NoError(t, err)

	_, err = svc.JoinMeeting(context.Background(), meeting.MeetingID, alice.ID, "")
	require.NoError(t, err)
	_, err = svc.LeaveMeeting(context.Background(), meeting.MeetingID, alice.ID)
	require.NoError(t, err)

	rejoined, err := svc.JoinMeeting(context.Background(), meeting.MeetingID, alice.ID, "")
	require.NoError(t, err)

	p := rejoined.FindParticipant(alice.ID)
	require.NotNil(t, p)
	assert.Equal(t, models.ParticipantJoined, p.Status)
	assert.Nil(t, p.LeftAt)

	// Returning does not double-count attendance.
	var stored models.User
	require.NoError(t, db.First(&stored, "id = ?", alice.ID).Error)
	assert.Equal(t, 1, stored.Statistics.MeetingsAttended)
}

func TestJoinMeetingCapacity(t *testing.T) {
	db := newTestDB(t)
	svc := newTestMeetingService(t, db)
	host := createTestUser(t, db, "host", false)
	alice := createTestUser(t, db, "alice", false)
	bob := createTestUser(t, db, "bob", false)

	max := 2
	meeting, err := svc.CreateMeeting(context.Background(), host.ID, &models.CreateMeetingRequest{
		Title:    "Tiny",
		Settings: &models.UpdateSettingsRequest{MaxParticipants: &max},
	})
	require.NoError(t, err)

	_, err = svc.JoinMeeting(context.Background(), meeting.MeetingID, alice.ID, "")
	require.NoError(t, err)

	_, err = svc.JoinMeeting(context.Background(), meeting.MeetingID, bob.ID, "")
	assert.ErrorIs(t, err, utils.ErrResourceExhausted)

	// A joined user re-joining is exempt from the capacity check.
	_, err = svc.JoinMeeting(context.Background(), meeting.MeetingID, alice.ID, "")
	assert.NoError(t, err)
}

func TestJoinMeetingPassword(t *testing.T) {
	db := newTestDB(t)
	svc := newTestMeetingService(t, db)
	host := createTestUser(t, db, "host", false)
	alice := createTestUser(t, db, "alice", false)

	meeting, err := svc.CreateMeeting(context.Background(), host.ID, &models.CreateMeetingRequest{
		Title:    "Private",
		Password: "s3cret",
	})
	require.NoError(t, err)

	_, err = svc.JoinMeeting(context.Background(), meeting.MeetingID, alice.ID, "wrong")
	assert.ErrorIs(t, err, utils.ErrUnauthenticated)

	_, err = svc.JoinMeeting(context.Background(), meeting.MeetingID, alice.ID, "s3cret")
	assert.NoError(t, err)
}

func TestJoinMeetingGuestsBlocked(t *testing.T) {
	db := newTestDB(t)
	svc := newTestMeetingService(t, db)
	host := createTestUser(t, db, "host", false)
	guest := createTestUser(t, db, "guest-abc", true)

	off := false
	meeting, err := svc.CreateMeeting(context.Background(), host.ID, &models.CreateMeetingRequest{
		Title:    "Members only",
		Settings: &models.UpdateSettingsRequest{AllowGuests: &off},
	})
	require.NoError(t, err)

	_, err = svc.JoinMeeting(context.Background(), meeting.MeetingID, guest.ID, "")
	assert.ErrorIs(t, err, utils.ErrForbidden)
}

func TestJoinMeetingEnded(t *testing.T) {
	db := newTestDB(t)
	svc := newTestMeetingService(t, db)
	host := createTestUser(t, db, "host", false)
	alice := createTestUser(t, db, "alice", false)

	meeting, err := svc.CreateMeeting(context.Background(), host.ID, &models.CreateMeetingRequest{Title: "Short"})
	require.NoError(t, err)
	_, err = svc.EndMeeting(context.Background(), meeting.MeetingID, host.ID)
	require.NoError(t, err)

	_, err = svc.JoinMeeting(context.Background(), meeting.MeetingID, alice.ID, "")
	assert.ErrorIs(t, err, utils.ErrGone)
}

func TestJoinMeetingUnknownCode(t *testing.T) {
	db := newTestDB(t)
	svc := newTestMeetingService(t, db)
	alice := createTestUser(t, db, "alice", false)

	_, err := svc.JoinMeeting(context.Background(), "AAA-BBB-CCC", alice.ID, "")
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestLeaveMeetingHostSuccession(t *testing.T) {
	db := newTestDB(t)
	svc := newTestMeetingService(t, db)
	host := createTestUser(t, db, "host", false)
	alice := createTestUser(t, db, "alice", false)
	bob := createTestUser(t, db, "bob", false)

	meeting, err := svc.CreateMeeting(context.Background(), host.ID, &models.CreateMeetingRequest{Title: "Handover"})
	require.NoError(t, err)

	_, err = svc.JoinMeeting(context.Background(), meeting.MeetingID, alice.ID, "")
	require.NoError(t, err)
	_, err = svc.JoinMeeting(context.Background(), meeting.MeetingID, bob.ID, "")
	require.NoError(t, err)

	// Bob joined later but is a co-host, so he outranks Alice.
	require.NoError(t, db.Model(&models.Participant{}).
		Where("meeting_id = ? AND user_id = ?", meeting.ID, bob.ID).
		Update("role", models.RoleCoHost).Error)

	after, err := svc.LeaveMeeting(context.Background(), meeting.MeetingID, host.ID)
	require.NoError(t, err)

	assert.Equal(t, bob.ID, after.HostUserID)
	assert.Equal(t, models.RoleHost, after.FindParticipant(bob.ID).Role)
	assert.Equal(t, models.RoleParticipant, after.FindParticipant(host.ID).Role)
	assert.Equal(t, models.MeetingStatusOngoing, after.Status)
}

func TestLeaveMeetingSuccessionFallsBackToParticipant(t *testing.T) {
	db := newTestDB(t)
	svc := newTestMeetingService(t, db)
	host := createTestUser(t, db, "host", false)
	alice := createTestUser(t, db, "alice", false)

	meeting, err := svc.CreateMeeting(context.Background(), host.ID, &models.CreateMeetingRequest{Title: "Handover"})
	require.NoError(t, err)
	_, err = svc.JoinMeeting(context.Background(), meeting.MeetingID, alice.ID, "")
	require.NoError(t, err)

	after, err := svc.LeaveMeeting(context.Background(), meeting.MeetingID, host.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, after.HostUserID)
	assert.Equal(t, models.RoleHost, after.FindParticipant(alice.ID).Role)
}

func TestLeaveMeetingLastLeaverEnds(t *testing.T) {
	db := newTestDB(t)
	svc := newTestMeetingService(t, db)
	host := createTestUser(t, db, "host", false)

	meeting, err := svc.CreateMeeting(context.Background(), host.ID, &models.CreateMeetingRequest{Title: "Solo"})
	require.NoError(t, err)

	after, err := svc.LeaveMeeting(context.Background(), meeting.MeetingID, host.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MeetingStatusEnded, after.Status)
}

func TestLeaveMeetingNotJoined(t *testing.T) {
	db := newTestDB(t)
	svc := newTestMeetingService(t, db)
	host := createTestUser(t, db, "host", false)
	alice := createTestUser(t, db, "alice", false)

	meeting, err := svc.CreateMeeting(context.Background(), host.ID, &models.CreateMeetingRequest{Title: "Sync"})
	require.NoError(t, err)

	_, err = svc.LeaveMeeting(context.Background(), meeting.MeetingID, alice.ID)
	assert.ErrorIs(t, err, utils.ErrFailedPrecondition)
}

func TestEndMeeting(t *testing.T) {
	db := newTestDB(t)
	svc := newTestMeetingService(t, db)
	host := createTestUser(t, db, "host", false)
	alice := createTestUser(t, db, "alice", false)

	meeting, err := svc.CreateMeeting(context.Background(), host.ID, &models.CreateMeetingRequest{Title: "Wrap"})
	require.NoError(t, err)
	_, err = svc.JoinMeeting(context.Background(), meeting.MeetingID, alice.ID, "")
	require.NoError(t, err)

	_, err = svc.EndMeeting(context.Background(), meeting.MeetingID, alice.ID)
	assert.ErrorIs(t, err, utils.ErrForbidden)

	ended, err := svc.EndMeeting(context.Background(), meeting.MeetingID, host.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MeetingStatusEnded, ended.Status)
	for _, p := range ended.Participants {
		assert.Equal(t, models.ParticipantLeft, p.Status)
		assert.NotNil(t, p.LeftAt)
	}

	_, err = svc.EndMeeting(context.Background(), meeting.MeetingID, host.ID)
	assert.ErrorIs(t, err, utils.ErrGone)
}

func TestEndMeetingClearsPresence(t *testing.T) {
	db := newTestDB(t)
	redisClient := testRedisClient()
	presence := cache.NewPresenceStore(redisClient)
	svc := NewMeetingService(
		db,
		repository.NewMeetingRepository(db),
		cache.NewCacheRepository(redisClient),
		scheduler.NewReminderScheduler(queue.NewManager(redisClient, nil)),
		presence,
	)
	host := createTestUser(t, db, "host", false)

	meeting, err := svc.CreateMeeting(context.Background(), host.ID, &models.CreateMeetingRequest{Title: "Wrap"})
	require.NoError(t, err)

	presence.AddOnlineUser(meeting.MeetingID, cache.OnlineUser{UserID: host.ID.String(), Username: "host", SocketID: "sock-1"})
	require.Len(t, presence.GetOnlineUsers(meeting.MeetingID), 1)

	_, err = svc.EndMeeting(context.Background(), meeting.MeetingID, host.ID)
	require.NoError(t, err)
	assert.Empty(t, presence.GetOnlineUsers(meeting.MeetingID))
}

func TestLastLeaverClearsPresence(t *testing.T) {
	db := newTestDB(t)
	redisClient := testRedisClient()
	presence := cache.NewPresenceStore(redisClient)
	svc := NewMeetingService(
		db,
		repository.NewMeetingRepository(db),
		cache.NewCacheRepository(redisClient),
		scheduler.NewReminderScheduler(queue.NewManager(redisClient, nil)),
		presence,
	)
	host := createTestUser(t, db, "host", false)

	meeting, err := svc.CreateMeeting(context.Background(), host.ID, &models.CreateMeetingRequest{Title: "Solo"})
	require.NoError(t, err)
	presence.AddOnlineUser(meeting.MeetingID, cache.OnlineUser{UserID: host.ID.String(), Username: "host", SocketID: "sock-1"})

	after, err := svc.LeaveMeeting(context.Background(), meeting.MeetingID, host.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MeetingStatusEnded, after.Status)
	assert.Empty(t, presence.GetOnlineUsers(meeting.MeetingID))
}

func TestCancelMeeting(t *testing.T) {
	db := newTestDB(t)
	svc := newTestMeetingService(t, db)
	host := createTestUser(t, db, "host", false)
	alice := createTestUser(t, db, "alice", false)

	scheduled, err := svc.ScheduleMeeting(context.Background(), host.ID, &models.ScheduleMeetingRequest{
		CreateMeetingRequest: models.CreateMeetingRequest{Title: "Planning"},
		ScheduledFor:         time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	_, err = svc.CancelMeeting(context.Background(), scheduled.MeetingID, alice.ID)
	assert.ErrorIs(t, err, utils.ErrForbidden)

	cancelled, err := svc.CancelMeeting(context.Background(), scheduled.MeetingID, host.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MeetingStatusCancelled, cancelled.Status)

	ongoing, err := svc.CreateMeeting(context.Background(), host.ID, &models.CreateMeetingRequest{Title: "Live"})
	require.NoError(t, err)
	_, err = svc.CancelMeeting(context.Background(), ongoing.MeetingID, host.ID)
	assert.ErrorIs(t, err, utils.ErrFailedPrecondition)
}

func TestUpdateSettings(t *testing.T) {
	db := newTestDB(t)
	svc := newTestMeetingService(t, db)
	host := createTestUser(t, db, "host", false)
	alice := createTestUser(t, db, "alice", false)

	meeting, err := svc.CreateMeeting(context.Background(), host.ID, &models.CreateMeetingRequest{Title: "Sync"})
	require.NoError(t, err)

	off := false
	max := 10
	req := &models.UpdateSettingsRequest{EnableChat: &off, MaxParticipants: &max}

	_, err = svc.UpdateSettings(context.Background(), meeting.MeetingID, alice.ID, req)
	assert.ErrorIs(t, err, utils.ErrForbidden)

	updated, err := svc.UpdateSettings(context.Background(), meeting.MeetingID, host.ID, req)
	require.NoError(t, err)
	assert.False(t, updated.Settings.EnableChat)
	assert.Equal(t, 10, updated.Settings.MaxParticipants)
	// Untouched fields keep their values.
	assert.True(t, updated.Settings.EnableScreenShare)
}

func TestTranscripts(t *testing.T) {
	db := newTestDB(t)
	svc := newTestMeetingService(t, db)
	host := createTestUser(t, db, "host", false)
	outsider := createTestUser(t, db, "outsider", false)

	meeting, err := svc.CreateMeeting(context.Background(), host.ID, &models.CreateMeetingRequest{Title: "Recorded"})
	require.NoError(t, err)

	batch := &models.AppendTranscriptsRequest{Transcripts: []models.TranscriptInput{
		{SpeakerID: host.ID, SpeakerName: "host", Text: "hello", TimestampMS: 1000},
		{SpeakerID: host.ID, SpeakerName: "host", Text: "world", TimestampMS: 2000},
	}}

	n, err := svc.AppendTranscripts(context.Background(), meeting.MeetingID, host.ID, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Retransmitted batch deduplicates on (speaker, timestamp).
	n, err = svc.AppendTranscripts(context.Background(), meeting.MeetingID, host.ID, &models.AppendTranscriptsRequest{
		Transcripts: []models.TranscriptInput{
			{SpeakerID: host.ID, SpeakerName: "host", Text: "hello", TimestampMS: 1000},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	segments, err := svc.GetTranscripts(context.Background(), meeting.MeetingID, host.ID)
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.Equal(t, int64(1000), segments[0].TimestampMS)

	_, err = svc.GetTranscripts(context.Background(), meeting.MeetingID, outsider.ID)
	assert.ErrorIs(t, err, utils.ErrForbidden)
}

func TestGetMeetingInvalidCode(t *testing.T) {
	db := newTestDB(t)
	svc := newTestMeetingService(t, db)

	_, err := svc.GetMeeting(context.Background(), "not-a-code")
	assert.ErrorIs(t, err, utils.ErrBadRequest)
}

func TestJoinMeetingStartsScheduled(t *testing.T) {
	db := newTestDB(t)
	svc := newTestMeetingService(t, db)
	host := createTestUser(t, db, "host", false)

	meeting, err := svc.ScheduleMeeting(context.Background(), host.ID, &models.ScheduleMeetingRequest{
		CreateMeetingRequest: models.CreateMeetingRequest{Title: "Planning"},
		ScheduledFor:         time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	joined, err := svc.JoinMeeting(context.Background(), meeting.MeetingID, host.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.MeetingStatusOngoing, joined.Status)

	p := joined.FindParticipant(host.ID)
	require.NotNil(t, p)
	assert.Equal(t, models.ParticipantJoined, p.Status)

	var stored models.User
	require.NoError(t, db.First(&stored, "id = ?", host.ID).Error)
	assert.Equal(t, 0, stored.Statistics.MeetingsAttended, "host attendance comes from hosting, not joining")
}

func TestPeakParticipantsMonotone(t *testing.T) {
	db := newTestDB(t)
	svc := newTestMeetingService(t, db)
	host := createTestUser(t, db, "host", false)
	alice := createTestUser(t, db, "alice", false)
	bob := createTestUser(t, db, "bob", false)

	meeting, err := svc.CreateMeeting(context.Background(), host.ID, &models.CreateMeetingRequest{Title: "Busy"})
	require.NoError(t, err)

	_, err = svc.JoinMeeting(context.Background(), meeting.MeetingID, alice.ID, "")
	require.NoError(t, err)
	_, err = svc.JoinMeeting(context.Background(), meeting.MeetingID, bob.ID, "")
	require.NoError(t, err)
	_, err = svc.LeaveMeeting(context.Background(), meeting.MeetingID, bob.ID)
	require.NoError(t, err)

	after, err := svc.JoinMeeting(context.Background(), meeting.MeetingID, bob.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 3, after.Statistics.PeakParticipants)
}
