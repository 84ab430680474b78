package services

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/confera-app/backend/internal/config"
	"github.com/confera-app/backend/internal/models"
	"github.com/confera-app/backend/internal/queue"
	"github.com/confera-app/backend/internal/repository"
	"github.com/confera-app/backend/internal/utils"
)

var recordingMimeTypes = map[string]bool{
	"video/webm": true,
	"video/mp4":  true,
	"audio/webm": true,
	"audio/mpeg": true,
	"audio/ogg":  true,
}

// RecordingService tracks recording state on the meeting and stores
// uploaded files. Capture happens client-side; the server only receives
// the finished blob.
type RecordingService struct {
	db        *gorm.DB
	repo      repository.MeetingRepository
	queue     *queue.Manager
	uploadCfg config.UploadConfig
}

func NewRecordingService(db *gorm.DB, repo repository.MeetingRepository, q *queue.Manager, uploadCfg config.UploadConfig) *RecordingService {
	return &RecordingService{
		db:        db,
		repo:      repo,
		queue:     q,
		uploadCfg: uploadCfg,
	}
}

// Start flips the meeting's recording flag. Requires record permission.
func (s *RecordingService) Start(ctx context.Context, publicID string, callerID uuid.UUID) (*models.Meeting, error) {
	existing, err := s.repo.FindByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}

	return s.repo.UpdateAtomic(ctx, existing.ID, func(tx *gorm.DB, m *models.Meeting) error {
		if !m.CanRecord(callerID) {
			return fmt.Errorf("no permission to record: %w", utils.ErrForbidden)
		}
		if m.Status != models.MeetingStatusOngoing {
			return fmt.Errorf("meeting is not ongoing: %w", utils.ErrFailedPrecondition)
		}
		if m.Recording.IsRecording {
			return fmt.Errorf("recording already in progress: %w", utils.ErrConflict)
		}

		now := time.Now()
		m.Recording.IsRecording = true
		m.Recording.StartedBy = &callerID
		m.Recording.StartedAt = &now
		m.Recording.StoppedAt = nil
		return nil
	})
}

// Stop clears the recording flag.
func (s *RecordingService) Stop(ctx context.Context, publicID string, callerID uuid.UUID) (*models.Meeting, error) {
	existing, err := s.repo.FindByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}

	return s.repo.UpdateAtomic(ctx, existing.ID, func(tx *gorm.DB, m *models.Meeting) error {
		if !m.CanRecord(callerID) {
			return fmt.Errorf("no permission to record: %w", utils.ErrForbidden)
		}
		if !m.Recording.IsRecording {
			return fmt.Errorf("no recording in progress: %w", utils.ErrFailedPrecondition)
		}

		now := time.Now()
		m.Recording.IsRecording = false
		m.Recording.StoppedAt = &now
		return nil
	})
}

// Upload stores a finished recording blob and queues post-processing.
func (s *RecordingService) Upload(ctx context.Context, publicID string, callerID uuid.UUID, header *multipart.FileHeader) (*models.RecordingFile, error) {
	meeting, err := s.repo.FindByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if !meeting.CanRecord(callerID) {
		return nil, fmt.Errorf("no permission to record: %w", utils.ErrForbidden)
	}

	if header.Size > s.uploadCfg.MaxRecordingBytes {
		return nil, fmt.Errorf("recording exceeds %d bytes: %w", s.uploadCfg.MaxRecordingBytes, utils.ErrBadRequest)
	}
	mimeType := header.Header.Get("Content-Type")
	if !recordingMimeTypes[mimeType] {
		return nil, fmt.Errorf("unsupported recording type %q: %w", mimeType, utils.ErrBadRequest)
	}

	dir := filepath.Join(s.uploadCfg.Dir, "recordings", meeting.MeetingID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}

	storedName := fmt.Sprintf("%s%s", uuid.New(), filepath.Ext(header.Filename))
	path := filepath.Join(dir, storedName)

	src, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	defer dst.Close()

	written, err := io.Copy(dst, src)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write recording: %w", err)
	}

	recording := &models.RecordingFile{
		MeetingID:  meeting.ID,
		UploaderID: callerID,
		FileName:   header.Filename,
		MimeType:   mimeType,
		SizeBytes:  written,
		Path:       path,
	}
	if err := s.db.WithContext(ctx).Create(recording).Error; err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("insert recording: %w", err)
	}

	payload := queue.RecordingPayload{RecordingID: recording.ID}
	if _, err := s.queue.Enqueue(ctx, queue.QueueRecording, queue.JobTypeRecording, payload); err != nil {
		logrus.WithError(err).WithField("recording_id", recording.ID).Warn("Failed to queue recording post-processing")
	}

	logrus.WithFields(logrus.Fields{
		"meeting_id":   publicID,
		"recording_id": recording.ID,
		"size":         written,
	}).Info("Recording uploaded")
	return recording, nil
}

// ListForUser returns the recordings the user uploaded or hosted.
func (s *RecordingService) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.RecordingFile, error) {
	var recordings []models.RecordingFile
	err := s.db.WithContext(ctx).
		Where("uploader_id = ? OR meeting_id IN (?)",
			userID,
			s.db.Model(&models.Meeting{}).Select("id").Where("host_user_id = ?", userID),
		).
		Order("created_at DESC").
		Find(&recordings).Error
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	return recordings, nil
}

// Process verifies an uploaded file is still on disk and finalizes its
// size. Runs on the recording queue.
func (s *RecordingService) Process(ctx context.Context, recordingID uuid.UUID) error {
	var recording models.RecordingFile
	if err := s.db.WithContext(ctx).First(&recording, "id = ?", recordingID).Error; err != nil {
		return fmt.Errorf("recording %s: %w", recordingID, utils.ErrNotFound)
	}

	info, err := os.Stat(recording.Path)
	if err != nil {
		return fmt.Errorf("stat recording file: %w", err)
	}
	if info.Size() != recording.SizeBytes {
		if err := s.db.WithContext(ctx).Model(&recording).
			UpdateColumn("size_bytes", info.Size()).Error; err != nil {
			return fmt.Errorf("update recording size: %w", err)
		}
	}
	return nil
}
