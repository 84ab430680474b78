package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/confera-app/backend/internal/gemini"
	"github.com/confera-app/backend/internal/models"
	"github.com/confera-app/backend/internal/queue"
	"github.com/confera-app/backend/internal/repository"
	"github.com/confera-app/backend/internal/utils"
)

// minutesConfidence is recorded when the model's JSON parses cleanly.
const minutesConfidence = 0.85

type MinutesService struct {
	db     *gorm.DB
	repo   repository.MeetingRepository
	gemini *gemini.Client
	queue  *queue.Manager
}

func NewMinutesService(db *gorm.DB, repo repository.MeetingRepository, geminiClient *gemini.Client, q *queue.Manager) *MinutesService {
	return &MinutesService{
		db:     db,
		repo:   repo,
		gemini: geminiClient,
		queue:  q,
	}
}

// minutesContent mirrors the JSON object the model is asked to emit.
type minutesContent struct {
	Summary          string              `json:"summary"`
	Agenda           []string            `json:"agenda"`
	DiscussionPoints []string            `json:"discussionPoints"`
	Decisions        []string            `json:"decisions"`
	ActionItems      []models.ActionItem `json:"actionItems"`
	Highlights       []string            `json:"highlights"`
	QuestionsRaised  []string            `json:"questionsRaised"`
	FollowUps        []models.FollowUp   `json:"followUps"`
}

// Generate runs the full pipeline for a meeting: guard, snapshot
// attendees, prompt the model, parse, persist, optionally fan out
// email. Callable synchronously from the HTTP layer or from a queue
// worker.
func (s *MinutesService) Generate(ctx context.Context, publicID string, callerID uuid.UUID, sendEmail bool) (*models.MeetingMinutes, error) {
	meeting, err := s.repo.FindByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if !meeting.IsHost(callerID) {
		return nil, fmt.Errorf("only the host can generate minutes: %w", utils.ErrForbidden)
	}

	record, err := s.claim(ctx, meeting)
	if err != nil {
		return nil, err
	}

	transcripts, err := s.repo.ListTranscripts(ctx, meeting.ID)
	if err != nil {
		return nil, err
	}

	prompt := s.buildPrompt(meeting, record.Attendees, transcripts)
	raw, tokens, err := s.gemini.GenerateContent(ctx, prompt)
	if err != nil {
		s.markFailed(ctx, record, err)
		return nil, fmt.Errorf("minutes generation failed: %w", err)
	}

	content, parseErr := parseMinutesContent(raw)
	now := time.Now()
	record.AI.Model = s.gemini.Model()
	record.AI.ProcessedAt = &now
	record.AI.TokensUsed = tokens

	if parseErr != nil {
		// Keep whatever text came back rather than discarding the run.
		// The record stays failed so the host can regenerate.
		logrus.WithError(parseErr).WithField("meeting_id", publicID).Warn("Minutes response did not parse as JSON, storing raw text")
		record.Summary = strings.TrimSpace(raw)
		record.AI.Confidence = 0.3
		record.AI.Error = parseErr.Error()
		record.Status = models.MinutesFailed
	} else {
		applyContent(record, content)
		record.AI.Confidence = minutesConfidence
		record.AI.Error = ""
		record.Status = models.MinutesCompleted
	}

	if err := s.db.WithContext(ctx).Save(record).Error; err != nil {
		return nil, fmt.Errorf("save minutes: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"meeting_id": publicID,
		"minutes_id": record.ID,
		"parsed":     parseErr == nil,
	}).Info("Meeting minutes generated")

	if sendEmail {
		s.enqueueEmailFanout(ctx, meeting, record)
	}
	return record, nil
}

// claim upserts the minutes record into processing. A record that
// already completed blocks regeneration; a failed one is reclaimed.
func (s *MinutesService) claim(ctx context.Context, meeting *models.Meeting) (*models.MeetingMinutes, error) {
	var record models.MeetingMinutes
	err := s.db.WithContext(ctx).First(&record, "meeting_id = ?", meeting.ID).Error
	switch {
	case err == nil:
		if record.Status == models.MinutesCompleted {
			return nil, fmt.Errorf("minutes already generated for this meeting: %w", utils.ErrConflict)
		}
		if record.Status == models.MinutesProcessing {
			return nil, fmt.Errorf("minutes generation already in progress: %w", utils.ErrConflict)
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		record = models.MeetingMinutes{MeetingID: meeting.ID}
	default:
		return nil, fmt.Errorf("load minutes: %w", err)
	}

	record.Status = models.MinutesProcessing
	record.Attendees = buildAttendees(ctx, s.db, meeting)

	if err := s.db.WithContext(ctx).Save(&record).Error; err != nil {
		return nil, fmt.Errorf("claim minutes record: %w", err)
	}
	return &record, nil
}

func buildAttendees(ctx context.Context, db *gorm.DB, meeting *models.Meeting) []models.MinutesAttendee {
	attendees := make([]models.MinutesAttendee, 0, len(meeting.Participants))
	for _, p := range meeting.Participants {
		if p.JoinedAt.IsZero() {
			continue
		}

		var user models.User
		if err := db.WithContext(ctx).First(&user, "id = ?", p.UserID).Error; err != nil {
			continue
		}

		left := p.LeftAt
		duration := 0
		if left != nil {
			duration = int(left.Sub(p.JoinedAt).Minutes())
		} else if meeting.Status == models.MeetingStatusEnded {
			duration = meeting.Statistics.TotalDurationMinutes
		}

		email := user.Email
		if user.IsGuest {
			email = ""
		}
		attendees = append(attendees, models.MinutesAttendee{
			UserID:      p.UserID,
			Name:        user.Profile.DisplayName,
			Email:       email,
			Role:        string(p.Role),
			JoinedAt:    p.JoinedAt,
			LeftAt:      left,
			DurationMin: duration,
		})
	}
	return attendees
}

func (s *MinutesService) buildPrompt(meeting *models.Meeting, attendees []models.MinutesAttendee, transcripts []models.TranscriptSegment) string {
	var b strings.Builder
	b.WriteString("You are a professional meeting secretary. Produce minutes for the meeting below.\n\n")
	fmt.Fprintf(&b, "Title: %s\n", meeting.Title)
	if meeting.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", meeting.Description)
	}
	fmt.Fprintf(&b, "Date: %s\n", meeting.ScheduledFor.Format("2006-01-02"))
	fmt.Fprintf(&b, "Duration: %d minutes\n\n", meeting.Statistics.TotalDurationMinutes)

	b.WriteString("Attendees (name | email | role):\n")
	for _, a := range attendees {
		fmt.Fprintf(&b, "- %s | %s | %s\n", a.Name, a.Email, a.Role)
	}

	b.WriteString("\nTranscript:\n")
	if len(transcripts) == 0 {
		b.WriteString("(no transcript captured)\n")
	}
	base := meeting.ScheduledFor
	for _, t := range transcripts {
		offset := time.Duration(t.TimestampMS) * time.Millisecond
		stamp := base.Add(offset).Format("15:04:05")
		fmt.Fprintf(&b, "[%s] (%s): %s\n", t.SpeakerName, stamp, t.Text)
	}

	b.WriteString(`
Respond with a single JSON object and nothing else, using exactly these keys:
{
  "summary": "2-4 sentence overview",
  "agenda": ["..."],
  "discussionPoints": ["..."],
  "decisions": ["..."],
  "actionItems": [{"description": "...", "assignedTo": "...", "dueDate": "YYYY-MM-DD or empty", "priority": "high|medium|low"}],
  "highlights": ["..."],
  "questionsRaised": ["..."],
  "followUps": [{"topic": "...", "description": "..."}]
}`)
	return b.String()
}

// parseMinutesContent strips markdown code fences and decodes the JSON
// body.
func parseMinutesContent(raw string) (*minutesContent, error) {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	var content minutesContent
	if err := json.Unmarshal([]byte(text), &content); err != nil {
		return nil, fmt.Errorf("decode minutes JSON: %w", err)
	}
	if content.Summary == "" {
		return nil, fmt.Errorf("minutes JSON missing summary")
	}
	return &content, nil
}

func applyContent(record *models.MeetingMinutes, content *minutesContent) {
	record.Summary = content.Summary
	record.Agenda = content.Agenda
	record.DiscussionPoints = content.DiscussionPoints
	record.Decisions = content.Decisions
	record.Highlights = content.Highlights
	record.QuestionsRaised = content.QuestionsRaised
	record.FollowUps = content.FollowUps

	items := make([]models.ActionItem, 0, len(content.ActionItems))
	for _, item := range content.ActionItems {
		if item.Priority != models.PriorityHigh && item.Priority != models.PriorityLow {
			item.Priority = models.PriorityMedium
		}
		if item.Status == "" {
			item.Status = "pending"
		}
		if item.DueDate != "" {
			if _, err := time.Parse("2006-01-02", item.DueDate); err != nil {
				item.DueDate = ""
			}
		}
		items = append(items, item)
	}
	record.ActionItems = items
}

func (s *MinutesService) markFailed(ctx context.Context, record *models.MeetingMinutes, cause error) {
	record.Status = models.MinutesFailed
	record.AI.Error = cause.Error()
	if err := s.db.WithContext(ctx).Save(record).Error; err != nil {
		logrus.WithError(err).WithField("minutes_id", record.ID).Error("Failed to persist failed minutes state")
	}
}

// enqueueEmailFanout queues one minutes email per attendee with an
// address and records each recipient as pending.
func (s *MinutesService) enqueueEmailFanout(ctx context.Context, meeting *models.Meeting, record *models.MeetingMinutes) {
	now := time.Now()
	record.Email.Requested = true
	record.Email.RequestedAt = &now

	for _, attendee := range record.Attendees {
		if attendee.Email == "" {
			continue
		}

		payload := queue.EmailPayload{
			Kind:      EmailKindMinutes,
			To:        attendee.Email,
			ToName:    attendee.Name,
			MeetingID: meeting.ID,
			MinutesID: record.ID,
		}
		if _, err := s.queue.Enqueue(ctx, queue.QueueEmail, queue.JobTypeEmail, payload); err != nil {
			logrus.WithError(err).WithField("email", attendee.Email).Error("Failed to enqueue minutes email")
			record.Email.Recipients = append(record.Email.Recipients, models.MinutesRecipient{
				Email:  attendee.Email,
				Name:   attendee.Name,
				Status: models.RecipientFailed,
				Error:  err.Error(),
			})
			continue
		}
		record.Email.Recipients = append(record.Email.Recipients, models.MinutesRecipient{
			Email:  attendee.Email,
			Name:   attendee.Name,
			Status: models.RecipientPending,
		})
	}

	if err := s.db.WithContext(ctx).Save(record).Error; err != nil {
		logrus.WithError(err).WithField("minutes_id", record.ID).Error("Failed to persist email fanout state")
	}
}

// RecordDelivery updates one recipient's status after the email worker
// finishes.
func (s *MinutesService) RecordDelivery(ctx context.Context, minutesID uuid.UUID, email string, sendErr error) {
	var record models.MeetingMinutes
	if err := s.db.WithContext(ctx).First(&record, "id = ?", minutesID).Error; err != nil {
		logrus.WithError(err).WithField("minutes_id", minutesID).Warn("Minutes record missing for delivery update")
		return
	}

	now := time.Now()
	for i := range record.Email.Recipients {
		r := &record.Email.Recipients[i]
		if r.Email != email {
			continue
		}
		if sendErr != nil {
			r.Status = models.RecipientFailed
			r.Error = sendErr.Error()
		} else {
			r.Status = models.RecipientSent
			r.SentAt = &now
			r.Error = ""
		}
	}

	if err := s.db.WithContext(ctx).Save(&record).Error; err != nil {
		logrus.WithError(err).WithField("minutes_id", minutesID).Error("Failed to persist delivery status")
	}
}

// Get returns the minutes record for a meeting. Participants only.
func (s *MinutesService) Get(ctx context.Context, publicID string, callerID uuid.UUID) (*models.MeetingMinutes, error) {
	meeting, err := s.repo.FindByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if p := meeting.FindParticipant(callerID); p == nil && !meeting.IsHost(callerID) {
		return nil, fmt.Errorf("caller is not a participant: %w", utils.ErrForbidden)
	}

	var record models.MeetingMinutes
	err = s.db.WithContext(ctx).First(&record, "meeting_id = ?", meeting.ID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("no minutes for this meeting: %w", utils.ErrNotFound)
		}
		return nil, fmt.Errorf("load minutes: %w", err)
	}
	return &record, nil
}

// ListForUser pages the minutes records for meetings the caller hosts
// or attends, newest first.
func (s *MinutesService) ListForUser(ctx context.Context, userID uuid.UUID, page, limit int) ([]models.MeetingMinutes, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	scope := s.db.WithContext(ctx).Model(&models.MeetingMinutes{}).
		Where("meeting_id IN (?)",
			s.db.Model(&models.Meeting{}).Select("id").
				Where("host_user_id = ? OR id IN (?)",
					userID,
					s.db.Model(&models.Participant{}).Select("meeting_id").Where("user_id = ?", userID),
				),
		)

	var total int64
	if err := scope.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count minutes: %w", err)
	}

	var records []models.MeetingMinutes
	err := scope.
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list minutes: %w", err)
	}
	return records, total, nil
}

// ResendEmail re-queues the minutes email for a completed record. An
// override address redirects the send to that one recipient; otherwise
// the attendee fanout runs again. Participants only.
func (s *MinutesService) ResendEmail(ctx context.Context, publicID string, callerID uuid.UUID, override string) (*models.MeetingMinutes, error) {
	meeting, err := s.repo.FindByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if p := meeting.FindParticipant(callerID); p == nil && !meeting.IsHost(callerID) {
		return nil, fmt.Errorf("caller is not a participant: %w", utils.ErrForbidden)
	}

	var record models.MeetingMinutes
	if err := s.db.WithContext(ctx).First(&record, "meeting_id = ?", meeting.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("no minutes for this meeting: %w", utils.ErrNotFound)
		}
		return nil, fmt.Errorf("load minutes: %w", err)
	}
	if record.Status != models.MinutesCompleted {
		return nil, fmt.Errorf("minutes are %s, nothing to send: %w", record.Status, utils.ErrFailedPrecondition)
	}

	if override == "" {
		s.enqueueEmailFanout(ctx, meeting, &record)
		return &record, nil
	}

	payload := queue.EmailPayload{
		Kind:      EmailKindMinutes,
		To:        override,
		MeetingID: meeting.ID,
		MinutesID: record.ID,
	}
	if _, err := s.queue.Enqueue(ctx, queue.QueueEmail, queue.JobTypeEmail, payload); err != nil {
		return nil, fmt.Errorf("enqueue minutes email: %w", err)
	}

	now := time.Now()
	record.Email.Requested = true
	record.Email.RequestedAt = &now
	record.Email.Recipients = append(record.Email.Recipients, models.MinutesRecipient{
		Email:  override,
		Status: models.RecipientPending,
	})
	if err := s.db.WithContext(ctx).Save(&record).Error; err != nil {
		logrus.WithError(err).WithField("minutes_id", record.ID).Error("Failed to persist email resend state")
	}

	logrus.WithFields(logrus.Fields{
		"meeting_id": publicID,
		"minutes_id": record.ID,
		"override":   override != "",
	}).Info("Minutes email resend queued")
	return &record, nil
}

// GetByID loads a minutes record directly, used by the email worker.
func (s *MinutesService) GetByID(ctx context.Context, minutesID uuid.UUID) (*models.MeetingMinutes, error) {
	var record models.MeetingMinutes
	err := s.db.WithContext(ctx).First(&record, "id = ?", minutesID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("minutes %s: %w", minutesID, utils.ErrNotFound)
		}
		return nil, fmt.Errorf("load minutes: %w", err)
	}
	return &record, nil
}
