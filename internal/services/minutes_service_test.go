package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/confera-app/backend/internal/config"
	"github.com/confera-app/backend/internal/gemini"
	"github.com/confera-app/backend/internal/models"
	"github.com/confera-app/backend/internal/queue"
	"github.com/confera-app/backend/internal/repository"
	"github.com/confera-app/backend/internal/utils"
)

func newTestMinutesService(t *testing.T, db *gorm.DB, handler http.HandlerFunc) *MinutesService {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := gemini.NewClient(config.GeminiConfig{
		APIKey:   "test-key",
		Model:    "gemini-1.5-flash",
		Endpoint: srv.URL,
		Timeout:  5 * time.Second,
	})
	q := queue.NewManager(testRedisClient(), map[string]queue.Policy{
		queue.QueueEmail: {Concurrency: 1, MaxAttempts: 1},
	})
	return NewMinutesService(db, repository.NewMeetingRepository(db), client, q)
}

func geminiReply(t *testing.T, text string) []byte {
	t.Helper()

	raw, err := json.Marshal(map[string]interface{}{
		"candidates": []map[string]interface{}{
			{"content": map[string]interface{}{"parts": []map[string]string{{"text": text}}}},
		},
		"usageMetadata": map[string]int{"totalTokenCount": 77},
	})
	require.NoError(t, err)
	return raw
}

func TestParseMinutesContent(t *testing.T) {
	content, err := parseMinutesContent(`{"summary": "We met.", "decisions": ["ship it"]}`)
	require.NoError(t, err)
	assert.Equal(t, "We met.", content.Summary)
	assert.Equal(t, []string{"ship it"}, content.Decisions)
}

func TestParseMinutesContentStripsFences(t *testing.T) {
	raw := "```json\n{\"summary\": \"Fenced.\"}\n```"
	content, err := parseMinutesContent(raw)
	require.NoError(t, err)
	assert.Equal(t, "Fenced.", content.Summary)

	raw = "```\n{\"summary\": \"Bare fence.\"}\n```"
	content, err = parseMinutesContent(raw)
	require.NoError(t, err)
	assert.Equal(t, "Bare fence.", content.Summary)
}

func TestParseMinutesContentRejectsMissingSummary(t *testing.T) {
	_, err := parseMinutesContent(`{"decisions": ["no summary"]}`)
	assert.Error(t, err)
}

func TestParseMinutesContentRejectsProse(t *testing.T) {
	_, err := parseMinutesContent("Here are your minutes:\n- we talked")
	assert.Error(t, err)
}

func TestGenerateUnparsableReplyFailsButKeepsText(t *testing.T) {
	db := newTestDB(t)
	host := createTestUser(t, db, "host", false)
	meetingSvc := newTestMeetingService(t, db)
	meeting, err := meetingSvc.CreateMeeting(context.Background(), host.ID, &models.CreateMeetingRequest{Title: "Sync"})
	require.NoError(t, err)

	calls := 0
	svc := newTestMinutesService(t, db, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			_, _ = w.Write(geminiReply(t, "Here are your minutes:\n- we talked"))
			return
		}
		_, _ = w.Write(geminiReply(t, `{"summary": "We met and decided.", "decisions": ["ship it"]}`))
	})

	record, err := svc.Generate(context.Background(), meeting.MeetingID, host.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.MinutesFailed, record.Status)
	assert.Equal(t, "Here are your minutes:\n- we talked", record.Summary)
	assert.Equal(t, 0.3, record.AI.Confidence)
	assert.Equal(t, 77, record.AI.TokensUsed)
	assert.NotEmpty(t, record.AI.Error)

	// A failed record does not block regeneration.
	record, err = svc.Generate(context.Background(), meeting.MeetingID, host.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.MinutesCompleted, record.Status)
	assert.Equal(t, "We met and decided.", record.Summary)
	assert.Equal(t, minutesConfidence, record.AI.Confidence)
	assert.Empty(t, record.AI.Error)

	// A completed record does.
	_, err = svc.Generate(context.Background(), meeting.MeetingID, host.ID, false)
	assert.ErrorIs(t, err, utils.ErrConflict)
}

func TestResendEmail(t *testing.T) {
	db := newTestDB(t)
	host := createTestUser(t, db, "host", false)
	outsider := createTestUser(t, db, "outsider", false)
	meetingSvc := newTestMeetingService(t, db)
	meeting, err := meetingSvc.CreateMeeting(context.Background(), host.ID, &models.CreateMeetingRequest{Title: "Sync"})
	require.NoError(t, err)

	svc := newTestMinutesService(t, db, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(geminiReply(t, `{"summary": "We met."}`))
	})

	// No minutes yet.
	_, err = svc.ResendEmail(context.Background(), meeting.MeetingID, host.ID, "")
	assert.ErrorIs(t, err, utils.ErrNotFound)

	_, err = svc.Generate(context.Background(), meeting.MeetingID, host.ID, false)
	require.NoError(t, err)

	_, err = svc.ResendEmail(context.Background(), meeting.MeetingID, outsider.ID, "")
	assert.ErrorIs(t, err, utils.ErrForbidden)

	record, err := svc.ResendEmail(context.Background(), meeting.MeetingID, host.ID, "")
	require.NoError(t, err)
	assert.True(t, record.Email.Requested)
	require.NotEmpty(t, record.Email.Recipients)
	assert.Equal(t, "host@example.com", record.Email.Recipients[0].Email)

	// An override redirects the send to one address.
	record, err = svc.ResendEmail(context.Background(), meeting.MeetingID, host.ID, "boss@example.com")
	require.NoError(t, err)
	last := record.Email.Recipients[len(record.Email.Recipients)-1]
	assert.Equal(t, "boss@example.com", last.Email)
	assert.Equal(t, models.RecipientPending, last.Status)
}

func TestResendEmailRequiresCompletedMinutes(t *testing.T) {
	db := newTestDB(t)
	host := createTestUser(t, db, "host", false)
	meetingSvc := newTestMeetingService(t, db)
	meeting, err := meetingSvc.CreateMeeting(context.Background(), host.ID, &models.CreateMeetingRequest{Title: "Sync"})
	require.NoError(t, err)

	svc := newTestMinutesService(t, db, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(geminiReply(t, "not json"))
	})

	_, err = svc.Generate(context.Background(), meeting.MeetingID, host.ID, false)
	require.NoError(t, err)

	_, err = svc.ResendEmail(context.Background(), meeting.MeetingID, host.ID, "")
	assert.ErrorIs(t, err, utils.ErrFailedPrecondition)
}

func TestListForUserScopesToAttendance(t *testing.T) {
	db := newTestDB(t)
	host := createTestUser(t, db, "host", false)
	stranger := createTestUser(t, db, "stranger", false)
	meetingSvc := newTestMeetingService(t, db)

	mine, err := meetingSvc.CreateMeeting(context.Background(), host.ID, &models.CreateMeetingRequest{Title: "Mine"})
	require.NoError(t, err)
	other, err := meetingSvc.CreateMeeting(context.Background(), stranger.ID, &models.CreateMeetingRequest{Title: "Theirs"})
	require.NoError(t, err)

	require.NoError(t, db.Create(&models.MeetingMinutes{
		MeetingID: mine.ID, Status: models.MinutesCompleted, Summary: "ours",
	}).Error)
	require.NoError(t, db.Create(&models.MeetingMinutes{
		MeetingID: other.ID, Status: models.MinutesCompleted, Summary: "theirs",
	}).Error)

	svc := newTestMinutesService(t, db, func(w http.ResponseWriter, r *http.Request) {})

	records, total, err := svc.ListForUser(context.Background(), host.ID, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, records, 1)
	assert.Equal(t, "ours", records[0].Summary)
}

func TestApplyContentNormalizesActionItems(t *testing.T) {
	record := &models.MeetingMinutes{}
	applyContent(record, &minutesContent{
		Summary: "Done.",
		ActionItems: []models.ActionItem{
			{Description: "valid", Priority: models.PriorityHigh, DueDate: "2026-09-01"},
			{Description: "odd priority", Priority: "urgent"},
			{Description: "bad date", Priority: models.PriorityLow, DueDate: "next tuesday"},
		},
	})

	require.Len(t, record.ActionItems, 3)
	assert.Equal(t, models.PriorityHigh, record.ActionItems[0].Priority)
	assert.Equal(t, "2026-09-01", record.ActionItems[0].DueDate)
	assert.Equal(t, models.PriorityMedium, record.ActionItems[1].Priority)
	assert.Equal(t, "pending", record.ActionItems[1].Status)
	assert.Empty(t, record.ActionItems[2].DueDate)
}
