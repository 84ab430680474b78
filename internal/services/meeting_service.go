package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/confera-app/backend/internal/cache"
	"github.com/confera-app/backend/internal/models"
	"github.com/confera-app/backend/internal/repository"
	"github.com/confera-app/backend/internal/scheduler"
	"github.com/confera-app/backend/internal/utils"
)

// meetingCodeAttempts bounds the rejection sampling loop for public
// codes. The keyspace is 36^9, collisions are vanishingly rare.
const meetingCodeAttempts = 5

type MeetingService struct {
	db        *gorm.DB
	repo      repository.MeetingRepository
	cacheRepo *cache.CacheRepository
	scheduler *scheduler.ReminderScheduler
	presence  *cache.PresenceStore
}

func NewMeetingService(db *gorm.DB, repo repository.MeetingRepository, cacheRepo *cache.CacheRepository, sched *scheduler.ReminderScheduler, presence *cache.PresenceStore) *MeetingService {
	return &MeetingService{
		db:        db,
		repo:      repo,
		cacheRepo: cacheRepo,
		scheduler: sched,
		presence:  presence,
	}
}

// CreateMeeting creates an instant meeting. The host is seeded as the
// first joined participant and the meeting starts ongoing.
func (s *MeetingService) CreateMeeting(ctx context.Context, hostID uuid.UUID, req *models.CreateMeetingRequest) (*models.Meeting, error) {
	meeting, err := s.buildMeeting(ctx, hostID, req, time.Now())
	if err != nil {
		return nil, err
	}
	meeting.Status = models.MeetingStatusOngoing
	meeting.Participants = []models.Participant{{
		UserID:   hostID,
		Role:     models.RoleHost,
		Status:   models.ParticipantJoined,
		JoinedAt: time.Now(),
	}}
	meeting.Statistics.TotalParticipants = 1
	meeting.Statistics.PeakParticipants = 1

	if err := s.repo.Insert(ctx, meeting); err != nil {
		return nil, err
	}
	s.bumpHostStats(ctx, hostID)

	logrus.WithFields(logrus.Fields{
		"meeting_id": meeting.MeetingID,
		"host_id":    hostID,
	}).Info("Instant meeting created")
	return meeting, nil
}

// ScheduleMeeting creates a future meeting and arms its reminder
// ladder. The host is invited, not joined.
func (s *MeetingService) ScheduleMeeting(ctx context.Context, hostID uuid.UUID, req *models.ScheduleMeetingRequest) (*models.Meeting, error) {
	if !req.ScheduledFor.After(time.Now()) {
		return nil, fmt.Errorf("scheduledFor must be in the future: %w", utils.ErrBadRequest)
	}

	meeting, err := s.buildMeeting(ctx, hostID, &req.CreateMeetingRequest, req.ScheduledFor)
	if err != nil {
		return nil, err
	}
	meeting.Status = models.MeetingStatusScheduled
	meeting.Participants = []models.Participant{{
		UserID: hostID,
		Role:   models.RoleHost,
		Status: models.ParticipantInvited,
	}}

	if err := s.repo.Insert(ctx, meeting); err != nil {
		return nil, err
	}
	s.bumpHostStats(ctx, hostID)

	if err := s.scheduler.ScheduleReminders(ctx, meeting.ID, meeting.ScheduledFor); err != nil {
		logrus.WithError(err).WithField("meeting_id", meeting.ID).Error("Failed to schedule reminders")
	}

	logrus.WithFields(logrus.Fields{
		"meeting_id":    meeting.MeetingID,
		"host_id":       hostID,
		"scheduled_for": meeting.ScheduledFor,
	}).Info("Meeting scheduled")
	return meeting, nil
}

func (s *MeetingService) buildMeeting(ctx context.Context, hostID uuid.UUID, req *models.CreateMeetingRequest, scheduledFor time.Time) (*models.Meeting, error) {
	code, err := s.mintMeetingCode(ctx)
	if err != nil {
		return nil, err
	}

	duration := req.DurationMinutes
	if duration <= 0 {
		duration = 60
	}

	settings := models.DefaultMeetingSettings()
	if req.Settings != nil {
		req.Settings.Apply(&settings)
	}
	if req.Password != "" {
		settings.RequirePassword = true
	}

	return &models.Meeting{
		MeetingID:       code,
		Title:           req.Title,
		Description:     req.Description,
		HostUserID:      hostID,
		Password:        req.Password,
		ScheduledFor:    scheduledFor,
		DurationMinutes: duration,
		Settings:        settings,
	}, nil
}

// mintMeetingCode generates a public code, rejection-sampling on the
// rare collision.
func (s *MeetingService) mintMeetingCode(ctx context.Context) (string, error) {
	for i := 0; i < meetingCodeAttempts; i++ {
		code, err := utils.GenerateMeetingCode()
		if err != nil {
			return "", err
		}
		exists, err := s.repo.ExistsByPublicID(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
		logrus.WithField("code", code).Warn("Meeting code collision, resampling")
	}
	return "", fmt.Errorf("could not mint unique meeting code: %w", utils.ErrInternal)
}

// GetMeeting resolves a meeting by public code, cache-aside.
func (s *MeetingService) GetMeeting(ctx context.Context, publicID string) (*models.Meeting, error) {
	if !utils.ValidMeetingCode(publicID) {
		return nil, fmt.Errorf("invalid meeting code format: %w", utils.ErrBadRequest)
	}

	if cached, ok := s.cacheRepo.GetMeetingDetails(publicID); ok {
		return cached, nil
	}

	meeting, err := s.repo.FindByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	s.cacheRepo.SetMeetingDetails(publicID, meeting)
	return meeting, nil
}

// ListMeetings pages the meetings the user hosts or attends.
func (s *MeetingService) ListMeetings(ctx context.Context, userID uuid.UUID, filter repository.ListFilter) ([]models.Meeting, int64, error) {
	return s.repo.ListForUser(ctx, userID, filter)
}

// ListUpcoming returns the next scheduled meetings for the user.
func (s *MeetingService) ListUpcoming(ctx context.Context, userID uuid.UUID, limit int) ([]models.Meeting, error) {
	return s.repo.ListUpcoming(ctx, userID, limit)
}

// JoinMeeting admits a user. Re-joining while already joined is an
// idempotent success; returning after leaving flips the row back
// without double-counting stats.
func (s *MeetingService) JoinMeeting(ctx context.Context, publicID string, userID uuid.UUID, password string) (*models.Meeting, error) {
	existing, err := s.repo.FindByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		return nil, fmt.Errorf("user %s: %w", userID, utils.ErrNotFound)
	}

	firstJoin := false
	meeting, err := s.repo.UpdateAtomic(ctx, existing.ID, func(tx *gorm.DB, m *models.Meeting) error {
		if m.Status.Terminal() {
			return fmt.Errorf("meeting has %s: %w", m.Status, utils.ErrGone)
		}
		if m.Settings.RequirePassword && password != m.Password {
			return fmt.Errorf("invalid meeting password: %w", utils.ErrUnauthenticated)
		}
		if user.IsGuest && !m.Settings.AllowGuests {
			return fmt.Errorf("guests are not allowed in this meeting: %w", utils.ErrForbidden)
		}

		participant := m.FindParticipant(userID)

		if participant == nil || participant.Status != models.ParticipantJoined {
			if m.JoinedCount() >= m.Settings.MaxParticipants {
				return fmt.Errorf("meeting is full: %w", utils.ErrResourceExhausted)
			}
		}

		switch {
		case participant == nil:
			firstJoin = true
			newParticipant := models.Participant{
				MeetingID: m.ID,
				UserID:    userID,
				Role:      models.RoleParticipant,
				Status:    models.ParticipantJoined,
				JoinedAt:  time.Now(),
			}
			if err := tx.Create(&newParticipant).Error; err != nil {
				return fmt.Errorf("insert participant: %w", err)
			}
			m.Participants = append(m.Participants, newParticipant)
			m.Statistics.TotalParticipants++

		case participant.Status == models.ParticipantJoined:
			// Idempotent re-join, nothing to change.

		default:
			participant.Status = models.ParticipantJoined
			participant.JoinedAt = time.Now()
			participant.LeftAt = nil
			if err := tx.Save(participant).Error; err != nil {
				return fmt.Errorf("update participant: %w", err)
			}
		}

		if joined := m.JoinedCount(); joined > m.Statistics.PeakParticipants {
			m.Statistics.PeakParticipants = joined
		}

		if m.Status == models.MeetingStatusScheduled {
			m.Status = models.MeetingStatusOngoing
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if firstJoin {
		s.bumpAttendeeStats(ctx, userID)
	}
	s.cacheRepo.InvalidateMeeting(publicID)

	logrus.WithFields(logrus.Fields{
		"meeting_id": publicID,
		"user_id":    userID,
	}).Info("User joined meeting")
	return meeting, nil
}

// LeaveMeeting marks the user as left and runs host succession. When
// nobody remains joined the meeting ends.
func (s *MeetingService) LeaveMeeting(ctx context.Context, publicID string, userID uuid.UUID) (*models.Meeting, error) {
	existing, err := s.repo.FindByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}

	meeting, err := s.repo.UpdateAtomic(ctx, existing.ID, func(tx *gorm.DB, m *models.Meeting) error {
		participant := m.FindParticipant(userID)
		if participant == nil || participant.Status != models.ParticipantJoined {
			return fmt.Errorf("user is not in this meeting: %w", utils.ErrFailedPrecondition)
		}

		now := time.Now()
		participant.Status = models.ParticipantLeft
		participant.LeftAt = &now
		wasHost := participant.Role == models.RoleHost
		if wasHost {
			participant.Role = models.RoleParticipant
		}
		if err := tx.Save(participant).Error; err != nil {
			return fmt.Errorf("update participant: %w", err)
		}

		m.Statistics.TotalParticipants = m.JoinedCount()

		if wasHost {
			if successor := pickSuccessor(m); successor != nil {
				successor.Role = models.RoleHost
				m.HostUserID = successor.UserID
				if err := tx.Save(successor).Error; err != nil {
					return fmt.Errorf("promote successor: %w", err)
				}
				logrus.WithFields(logrus.Fields{
					"meeting_id":  m.MeetingID,
					"new_host_id": successor.UserID,
				}).Info("Host succession")
			}
		}

		if m.JoinedCount() == 0 && m.Status == models.MeetingStatusOngoing {
			endMeeting(m, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordMeetingTime(ctx, userID, meeting)
	if meeting.Status == models.MeetingStatusEnded {
		// The last leaver took the meeting down with them.
		s.presence.ClearMeeting(publicID)
		s.scheduler.CancelReminders(ctx, meeting.ID)
		s.cacheRepo.InvalidateMeetingAll(publicID)
	} else {
		s.cacheRepo.InvalidateMeeting(publicID)
	}

	logrus.WithFields(logrus.Fields{
		"meeting_id": publicID,
		"user_id":    userID,
	}).Info("User left meeting")
	return meeting, nil
}

// pickSuccessor chooses the next host: first co-host by join order,
// else the first joined participant.
func pickSuccessor(m *models.Meeting) *models.Participant {
	var coHost, participant *models.Participant
	for i := range m.Participants {
		p := &m.Participants[i]
		if p.Status != models.ParticipantJoined {
			continue
		}
		switch p.Role {
		case models.RoleCoHost:
			if coHost == nil || p.JoinedAt.Before(coHost.JoinedAt) {
				coHost = p
			}
		case models.RoleParticipant:
			if participant == nil || p.JoinedAt.Before(participant.JoinedAt) {
				participant = p
			}
		}
	}
	if coHost != nil {
		return coHost
	}
	return participant
}

func endMeeting(m *models.Meeting, now time.Time) {
	m.Status = models.MeetingStatusEnded
	minutes := now.Sub(m.ScheduledFor).Minutes()
	if minutes < 0 {
		minutes = 0
	}
	m.Statistics.TotalDurationMinutes = int(math.Round(minutes))
}

// EndMeeting ends the meeting. Host only.
func (s *MeetingService) EndMeeting(ctx context.Context, publicID string, callerID uuid.UUID) (*models.Meeting, error) {
	existing, err := s.repo.FindByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}

	meeting, err := s.repo.UpdateAtomic(ctx, existing.ID, func(tx *gorm.DB, m *models.Meeting) error {
		if !m.IsHost(callerID) {
			return fmt.Errorf("only the host can end the meeting: %w", utils.ErrForbidden)
		}
		if m.Status.Terminal() {
			return fmt.Errorf("meeting has %s: %w", m.Status, utils.ErrGone)
		}

		now := time.Now()
		endMeeting(m, now)
		for i := range m.Participants {
			p := &m.Participants[i]
			if p.Status == models.ParticipantJoined {
				p.Status = models.ParticipantLeft
				p.LeftAt = &now
				if err := tx.Save(p).Error; err != nil {
					return fmt.Errorf("update participant: %w", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.presence.ClearMeeting(publicID)
	s.scheduler.CancelReminders(ctx, meeting.ID)
	s.cacheRepo.InvalidateMeetingAll(publicID)

	logrus.WithFields(logrus.Fields{
		"meeting_id": publicID,
		"host_id":    callerID,
	}).Info("Meeting ended")
	return meeting, nil
}

// CancelMeeting cancels a scheduled meeting and clears its reminders.
// Host only; only scheduled meetings can be cancelled.
func (s *MeetingService) CancelMeeting(ctx context.Context, publicID string, callerID uuid.UUID) (*models.Meeting, error) {
	existing, err := s.repo.FindByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}

	meeting, err := s.repo.UpdateAtomic(ctx, existing.ID, func(tx *gorm.DB, m *models.Meeting) error {
		if !m.IsHost(callerID) {
			return fmt.Errorf("only the host can cancel the meeting: %w", utils.ErrForbidden)
		}
		if m.Status != models.MeetingStatusScheduled {
			return fmt.Errorf("only scheduled meetings can be cancelled: %w", utils.ErrFailedPrecondition)
		}
		m.Status = models.MeetingStatusCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.scheduler.CancelReminders(ctx, meeting.ID)
	s.cacheRepo.InvalidateMeetingAll(publicID)

	logrus.WithFields(logrus.Fields{
		"meeting_id": publicID,
		"host_id":    callerID,
	}).Info("Meeting cancelled")
	return meeting, nil
}

// UpdateSettings shallow-merges the supplied settings. Host only.
func (s *MeetingService) UpdateSettings(ctx context.Context, publicID string, callerID uuid.UUID, req *models.UpdateSettingsRequest) (*models.Meeting, error) {
	existing, err := s.repo.FindByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}

	meeting, err := s.repo.UpdateAtomic(ctx, existing.ID, func(tx *gorm.DB, m *models.Meeting) error {
		if !m.IsHost(callerID) {
			return fmt.Errorf("only the host can update settings: %w", utils.ErrForbidden)
		}
		if m.Status.Terminal() {
			return fmt.Errorf("meeting has %s: %w", m.Status, utils.ErrGone)
		}
		req.Apply(&m.Settings)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cacheRepo.InvalidateMeeting(publicID)
	return meeting, nil
}

// AppendTranscripts stores a transcript batch, deduplicating on the
// (speaker, timestamp) pair.
func (s *MeetingService) AppendTranscripts(ctx context.Context, publicID string, callerID uuid.UUID, req *models.AppendTranscriptsRequest) (int, error) {
	meeting, err := s.repo.FindByPublicID(ctx, publicID)
	if err != nil {
		return 0, err
	}
	if p := meeting.FindParticipant(callerID); p == nil && !meeting.IsHost(callerID) {
		return 0, fmt.Errorf("caller is not a participant: %w", utils.ErrForbidden)
	}

	segments := make([]models.TranscriptSegment, 0, len(req.Transcripts))
	for _, in := range req.Transcripts {
		segments = append(segments, models.TranscriptSegment{
			SpeakerID:   in.SpeakerID,
			SpeakerName: in.SpeakerName,
			Text:        in.Text,
			TimestampMS: in.TimestampMS,
		})
	}
	return s.repo.AppendTranscripts(ctx, meeting.ID, segments)
}

// GetTranscripts returns the ordered transcript for a meeting.
func (s *MeetingService) GetTranscripts(ctx context.Context, publicID string, callerID uuid.UUID) ([]models.TranscriptSegment, error) {
	meeting, err := s.repo.FindByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if p := meeting.FindParticipant(callerID); p == nil && !meeting.IsHost(callerID) {
		return nil, fmt.Errorf("caller is not a participant: %w", utils.ErrForbidden)
	}
	return s.repo.ListTranscripts(ctx, meeting.ID)
}

func (s *MeetingService) bumpHostStats(ctx context.Context, hostID uuid.UUID) {
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", hostID).
		UpdateColumns(map[string]interface{}{
			"stat_meetings_hosted": gorm.Expr("stat_meetings_hosted + 1"),
			"stat_total_meetings":  gorm.Expr("stat_total_meetings + 1"),
		}).Error
	if err != nil {
		logrus.WithError(err).WithField("user_id", hostID).Warn("Failed to bump host stats")
	}
	s.cacheRepo.InvalidateUserProfile(hostID.String())
}

func (s *MeetingService) bumpAttendeeStats(ctx context.Context, userID uuid.UUID) {
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumns(map[string]interface{}{
			"stat_meetings_attended": gorm.Expr("stat_meetings_attended + 1"),
			"stat_total_meetings":    gorm.Expr("stat_total_meetings + 1"),
		}).Error
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID).Warn("Failed to bump attendee stats")
	}
	s.cacheRepo.InvalidateUserProfile(userID.String())
}

// recordMeetingTime adds the participant's session length to their
// lifetime total.
func (s *MeetingService) recordMeetingTime(ctx context.Context, userID uuid.UUID, meeting *models.Meeting) {
	p := meeting.FindParticipant(userID)
	if p == nil || p.LeftAt == nil || p.JoinedAt.IsZero() {
		return
	}
	minutes := int(math.Round(p.LeftAt.Sub(p.JoinedAt).Minutes()))
	if minutes <= 0 {
		return
	}

	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("stat_total_meeting_time_minutes", gorm.Expr("stat_total_meeting_time_minutes + ?", minutes)).Error
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID).Warn("Failed to record meeting time")
	}
}
