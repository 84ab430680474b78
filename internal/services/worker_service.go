package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/confera-app/backend/internal/models"
	"github.com/confera-app/backend/internal/queue"
	"github.com/confera-app/backend/internal/repository"
	"github.com/confera-app/backend/internal/utils"
)

// WorkerService registers the job handlers that connect the queue to
// the domain services.
type WorkerService struct {
	queue          *queue.Manager
	repo           repository.MeetingRepository
	emailService   *EmailService
	minutesService *MinutesService
	recordingSvc   *RecordingService
	clientURL      string
}

func NewWorkerService(q *queue.Manager, repo repository.MeetingRepository, emailService *EmailService, minutesService *MinutesService, recordingSvc *RecordingService, clientURL string) *WorkerService {
	return &WorkerService{
		queue:          q,
		repo:           repo,
		emailService:   emailService,
		minutesService: minutesService,
		recordingSvc:   recordingSvc,
		clientURL:      clientURL,
	}
}

// Register binds every job type. Call once before the queue starts.
func (w *WorkerService) Register() {
	w.queue.RegisterHandler(queue.JobTypeReminder, w.handleReminder)
	w.queue.RegisterHandler(queue.JobTypeEmail, w.handleEmail)
	w.queue.RegisterHandler(queue.JobTypeMinutes, w.handleMinutes)
	w.queue.RegisterHandler(queue.JobTypeRecording, w.handleRecording)
}

// handleReminder fires one rung of the ladder: reload the meeting, and
// if it still stands, fan out one reminder email per attendee with an
// address. A cancelled or vanished meeting is a silent no-op.
func (w *WorkerService) handleReminder(ctx context.Context, job *queue.Job) error {
	var payload queue.ReminderPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal reminder payload: %w", err)
	}

	meeting, err := w.repo.FindByID(ctx, payload.MeetingID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil
		}
		return err
	}
	if meeting.Status != models.MeetingStatusScheduled {
		logrus.WithFields(logrus.Fields{
			"meeting_id": meeting.MeetingID,
			"status":     meeting.Status,
		}).Debug("Skipping reminder, meeting no longer scheduled")
		return nil
	}

	recipients := w.reminderRecipients(ctx, meeting)
	for _, r := range recipients {
		emailPayload := queue.EmailPayload{
			Kind:          EmailKindReminder,
			To:            r.email,
			ToName:        r.name,
			MeetingID:     meeting.ID,
			MinutesBefore: payload.MinutesBefore,
		}
		if _, err := w.queue.Enqueue(ctx, queue.QueueEmail, queue.JobTypeEmail, emailPayload); err != nil {
			logrus.WithError(err).WithField("email", r.email).Error("Failed to enqueue reminder email")
		}
	}

	logrus.WithFields(logrus.Fields{
		"meeting_id":     meeting.MeetingID,
		"minutes_before": payload.MinutesBefore,
		"recipients":     len(recipients),
	}).Info("Reminder fired")
	return nil
}

type reminderRecipient struct {
	name  string
	email string
}

func (w *WorkerService) reminderRecipients(ctx context.Context, meeting *models.Meeting) []reminderRecipient {
	seen := make(map[string]bool)
	var out []reminderRecipient
	for _, p := range meeting.Participants {
		if p.Status == models.ParticipantRemoved {
			continue
		}
		user := p.User
		if user.IsGuest || user.Email == "" || !user.Preferences.EmailNotifications {
			continue
		}
		if seen[user.Email] {
			continue
		}
		seen[user.Email] = true
		out = append(out, reminderRecipient{
			name:  user.Profile.DisplayName,
			email: user.Email,
		})
	}
	return out
}

// handleEmail renders and sends one email. Minutes deliveries also
// update the per-recipient status on the minutes record.
func (w *WorkerService) handleEmail(ctx context.Context, job *queue.Job) error {
	var payload queue.EmailPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal email payload: %w", err)
	}

	meeting, err := w.repo.FindByID(ctx, payload.MeetingID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil
		}
		return err
	}

	switch payload.Kind {
	case EmailKindReminder:
		return w.emailService.SendReminder(ctx, payload.To, ReminderEmailData{
			RecipientName: payload.ToName,
			MeetingTitle:  meeting.Title,
			MeetingCode:   meeting.MeetingID,
			StartsAt:      meeting.ScheduledFor,
			MinutesBefore: payload.MinutesBefore,
			JoinURL:       fmt.Sprintf("%s/meeting/%s", w.clientURL, meeting.MeetingID),
		})

	case EmailKindMinutes:
		record, err := w.minutesService.GetByID(ctx, payload.MinutesID)
		if err != nil {
			if errors.Is(err, utils.ErrNotFound) {
				return nil
			}
			return err
		}

		items := make([]MinutesEmailActionItem, 0, len(record.ActionItems))
		for _, item := range record.ActionItems {
			items = append(items, MinutesEmailActionItem{
				Description: item.Description,
				AssignedTo:  item.AssignedTo,
				Priority:    string(item.Priority),
				DueDate:     item.DueDate,
			})
		}

		sendErr := w.emailService.SendMinutes(ctx, payload.To, MinutesEmailData{
			RecipientName: payload.ToName,
			MeetingTitle:  meeting.Title,
			MeetingDate:   meeting.ScheduledFor,
			Duration:      meeting.Statistics.TotalDurationMinutes,
			Summary:       record.Summary,
			KeyPoints:     record.DiscussionPoints,
			Decisions:     record.Decisions,
			ActionItems:   items,
		})
		w.minutesService.RecordDelivery(ctx, payload.MinutesID, payload.To, sendErr)
		return sendErr

	default:
		return fmt.Errorf("unknown email kind %q", payload.Kind)
	}
}

// handleMinutes runs the generation pipeline off the HTTP request path.
func (w *WorkerService) handleMinutes(ctx context.Context, job *queue.Job) error {
	var payload queue.MinutesPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal minutes payload: %w", err)
	}

	meeting, err := w.repo.FindByID(ctx, payload.MeetingID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil
		}
		return err
	}

	_, err = w.minutesService.Generate(ctx, meeting.MeetingID, meeting.HostUserID, payload.SendEmail)
	if errors.Is(err, utils.ErrConflict) {
		// Already generated or another worker holds it.
		return nil
	}
	return err
}

func (w *WorkerService) handleRecording(ctx context.Context, job *queue.Job) error {
	var payload queue.RecordingPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal recording payload: %w", err)
	}
	return w.recordingSvc.Process(ctx, payload.RecordingID)
}
