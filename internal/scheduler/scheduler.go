package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/confera-app/backend/internal/queue"
)

// ReminderLadder lists how many minutes before start each reminder
// fires.
var ReminderLadder = []int{60, 30, 15, 5}

// ReminderScheduler maintains the reminder jobs for scheduled meetings.
// Job IDs are deterministic per meeting and rung, so rescheduling a
// meeting replaces its pending reminders instead of stacking new ones.
type ReminderScheduler struct {
	queue *queue.Manager
}

func NewReminderScheduler(q *queue.Manager) *ReminderScheduler {
	return &ReminderScheduler{queue: q}
}

// ReminderJobID returns the stable job ID for one rung of the ladder.
func ReminderJobID(meetingID uuid.UUID, minutesBefore int) string {
	return fmt.Sprintf("reminder-%s-%d", meetingID, minutesBefore)
}

// ScheduleReminders enqueues a delayed job per ladder rung that still
// lies in the future. Rungs whose fire time already passed are skipped.
func (s *ReminderScheduler) ScheduleReminders(ctx context.Context, meetingID uuid.UUID, scheduledFor time.Time) error {
	now := time.Now()
	scheduled := 0

	for _, minutes := range ReminderLadder {
		fireAt := scheduledFor.Add(-time.Duration(minutes) * time.Minute)
		if !fireAt.After(now) {
			continue
		}

		payload := queue.ReminderPayload{
			MeetingID:     meetingID,
			MinutesBefore: minutes,
		}
		id := ReminderJobID(meetingID, minutes)
		if err := s.queue.Schedule(ctx, queue.QueueReminder, id, queue.JobTypeReminder, payload, fireAt); err != nil {
			return fmt.Errorf("schedule %d-minute reminder: %w", minutes, err)
		}
		scheduled++
	}

	logrus.WithFields(logrus.Fields{
		"meeting_id": meetingID,
		"scheduled":  scheduled,
	}).Info("Meeting reminders scheduled")
	return nil
}

// CancelReminders drops every pending reminder for a meeting. Used on
// cancellation and on early start.
func (s *ReminderScheduler) CancelReminders(ctx context.Context, meetingID uuid.UUID) {
	for _, minutes := range ReminderLadder {
		id := ReminderJobID(meetingID, minutes)
		if err := s.queue.Cancel(ctx, queue.QueueReminder, id); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"meeting_id": meetingID,
				"job_id":     id,
			}).Warn("Failed to cancel reminder")
		}
	}
}

// RescheduleReminders replaces the pending ladder after a meeting's
// start time changes.
func (s *ReminderScheduler) RescheduleReminders(ctx context.Context, meetingID uuid.UUID, scheduledFor time.Time) error {
	s.CancelReminders(ctx, meetingID)
	return s.ScheduleReminders(ctx, meetingID, scheduledFor)
}
