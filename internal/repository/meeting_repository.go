package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/confera-app/backend/internal/models"
	"github.com/confera-app/backend/internal/utils"
)

// MeetingRepository is the storage contract for meetings and their
// owned collections. Callers receive utils error kinds, never raw gorm
// errors.
type MeetingRepository interface {
	Insert(ctx context.Context, meeting *models.Meeting) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Meeting, error)
	FindByPublicID(ctx context.Context, publicID string) (*models.Meeting, error)
	ExistsByPublicID(ctx context.Context, publicID string) (bool, error)
	// UpdateAtomic runs fn against a row-locked copy of the meeting and
	// persists the result in the same transaction. Concurrent joins and
	// host transfers serialize here.
	UpdateAtomic(ctx context.Context, id uuid.UUID, fn func(tx *gorm.DB, meeting *models.Meeting) error) (*models.Meeting, error)
	ListForUser(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]models.Meeting, int64, error)
	ListUpcoming(ctx context.Context, userID uuid.UUID, limit int) ([]models.Meeting, error)

	PushChat(ctx context.Context, message *models.ChatMessage) error
	ListChat(ctx context.Context, meetingID uuid.UUID, limit int, before *uuid.UUID) ([]models.ChatMessage, error)

	AppendTranscripts(ctx context.Context, meetingID uuid.UUID, segments []models.TranscriptSegment) (int, error)
	ListTranscripts(ctx context.Context, meetingID uuid.UUID) ([]models.TranscriptSegment, error)
}

// ListFilter narrows and pages meeting listings.
type ListFilter struct {
	Status models.MeetingStatus
	Search string
	Page   int
	Limit  int
}

type meetingRepository struct {
	db *gorm.DB
}

func NewMeetingRepository(db *gorm.DB) MeetingRepository {
	return &meetingRepository{db: db}
}

func (r *meetingRepository) Insert(ctx context.Context, meeting *models.Meeting) error {
	if err := r.db.WithContext(ctx).Create(meeting).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("meeting code collision: %w", utils.ErrConflict)
		}
		return fmt.Errorf("insert meeting: %w", err)
	}
	return nil
}

func (r *meetingRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Meeting, error) {
	var meeting models.Meeting
	err := r.db.WithContext(ctx).
		Preload("Participants").
		Preload("Participants.User").
		First(&meeting, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("meeting %s: %w", id, utils.ErrNotFound)
		}
		return nil, fmt.Errorf("find meeting: %w", err)
	}
	return &meeting, nil
}

func (r *meetingRepository) FindByPublicID(ctx context.Context, publicID string) (*models.Meeting, error) {
	var meeting models.Meeting
	err := r.db.WithContext(ctx).
		Preload("Participants").
		Preload("Participants.User").
		First(&meeting, "meeting_id = ?", publicID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("meeting %s: %w", publicID, utils.ErrNotFound)
		}
		return nil, fmt.Errorf("find meeting: %w", err)
	}
	return &meeting, nil
}

func (r *meetingRepository) ExistsByPublicID(ctx context.Context, publicID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Meeting{}).
		Where("meeting_id = ?", publicID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check meeting code: %w", err)
	}
	return count > 0, nil
}

func (r *meetingRepository) UpdateAtomic(ctx context.Context, id uuid.UUID, fn func(tx *gorm.DB, meeting *models.Meeting) error) (*models.Meeting, error) {
	var result *models.Meeting

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked := tx
		// SQLite has no row locks; its transactions already serialize
		// writers.
		if tx.Dialector.Name() == "postgres" {
			locked = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var meeting models.Meeting
		err := locked.First(&meeting, "id = ?", id).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("meeting %s: %w", id, utils.ErrNotFound)
			}
			return fmt.Errorf("lock meeting: %w", err)
		}

		// Participants load after the lock so fn sees a stable set.
		if err := tx.Preload("User").
			Where("meeting_id = ?", meeting.ID).
			Find(&meeting.Participants).Error; err != nil {
			return fmt.Errorf("load participants: %w", err)
		}

		if err := fn(tx, &meeting); err != nil {
			return err
		}

		if err := tx.Session(&gorm.Session{FullSaveAssociations: false}).
			Omit("Participants", "Chat", "Transcripts", "Host").
			Save(&meeting).Error; err != nil {
			return fmt.Errorf("save meeting: %w", err)
		}

		result = &meeting
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *meetingRepository) ListForUser(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]models.Meeting, int64, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 || filter.Limit > 100 {
		filter.Limit = 20
	}

	query := r.db.WithContext(ctx).Model(&models.Meeting{}).
		Where("host_user_id = ? OR id IN (?)",
			userID,
			r.db.Model(&models.Participant{}).Select("meeting_id").Where("user_id = ?", userID),
		)

	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Search != "" {
		// LOWER/LIKE works on both postgres and sqlite; ILIKE does not.
		query = query.Where("LOWER(title) LIKE LOWER(?)", "%"+filter.Search+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count meetings: %w", err)
	}

	var meetings []models.Meeting
	err := query.
		Order("scheduled_for DESC").
		Offset((filter.Page - 1) * filter.Limit).
		Limit(filter.Limit).
		Find(&meetings).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list meetings: %w", err)
	}
	return meetings, total, nil
}

func (r *meetingRepository) ListUpcoming(ctx context.Context, userID uuid.UUID, limit int) ([]models.Meeting, error) {
	if limit < 1 || limit > 50 {
		limit = 10
	}

	var meetings []models.Meeting
	err := r.db.WithContext(ctx).
		Where("status = ?", models.MeetingStatusScheduled).
		Where("scheduled_for > ?", time.Now()).
		Where("host_user_id = ? OR id IN (?)",
			userID,
			r.db.Model(&models.Participant{}).Select("meeting_id").Where("user_id = ?", userID),
		).
		Order("scheduled_for ASC").
		Limit(limit).
		Find(&meetings).Error
	if err != nil {
		return nil, fmt.Errorf("list upcoming meetings: %w", err)
	}
	return meetings, nil
}

func (r *meetingRepository) PushChat(ctx context.Context, message *models.ChatMessage) error {
	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}

	err := r.db.WithContext(ctx).Model(&models.Meeting{}).
		Where("id = ?", message.MeetingID).
		UpdateColumn("stat_chat_messages", gorm.Expr("stat_chat_messages + 1")).Error
	if err != nil {
		return fmt.Errorf("bump chat counter: %w", err)
	}
	return nil
}

func (r *meetingRepository) ListChat(ctx context.Context, meetingID uuid.UUID, limit int, before *uuid.UUID) ([]models.ChatMessage, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}

	query := r.db.WithContext(ctx).
		Preload("Sender").
		Where("meeting_id = ?", meetingID)

	if before != nil {
		var pivot models.ChatMessage
		if err := r.db.WithContext(ctx).First(&pivot, "id = ?", *before).Error; err == nil {
			query = query.Where("created_at < ?", pivot.CreatedAt)
		}
	}

	var messages []models.ChatMessage
	err := query.Order("created_at DESC").Limit(limit).Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}

	// Oldest first for the client.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *meetingRepository) AppendTranscripts(ctx context.Context, meetingID uuid.UUID, segments []models.TranscriptSegment) (int, error) {
	if len(segments) == 0 {
		return 0, nil
	}
	for i := range segments {
		segments[i].MeetingID = meetingID
	}

	// Duplicate (speaker, timestamp) pairs are silently skipped; clients
	// retransmit transcript batches on reconnect.
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&segments)
	if result.Error != nil {
		return 0, fmt.Errorf("append transcripts: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

func (r *meetingRepository) ListTranscripts(ctx context.Context, meetingID uuid.UUID) ([]models.TranscriptSegment, error) {
	var segments []models.TranscriptSegment
	err := r.db.WithContext(ctx).
		Where("meeting_id = ?", meetingID).
		Order("timestamp_ms ASC").
		Find(&segments).Error
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	return segments, nil
}
