package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/confera-app/backend/internal/config"
	"github.com/confera-app/backend/internal/models"
	"github.com/confera-app/backend/internal/repository"
	"github.com/confera-app/backend/internal/utils"
)

// chatFileMimeTypes whitelists attachments.
var chatFileMimeTypes = map[string]bool{
	"image/jpeg":         true,
	"image/png":          true,
	"image/gif":          true,
	"image/webp":         true,
	"application/pdf":    true,
	"text/plain":         true,
	"application/zip":    true,
	"video/mp4":          true,
	"audio/mpeg":         true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
}

type ChatService struct {
	db        *gorm.DB
	repo      repository.MeetingRepository
	uploadCfg config.UploadConfig
}

func NewChatService(db *gorm.DB, repo repository.MeetingRepository, uploadCfg config.UploadConfig) *ChatService {
	return &ChatService{
		db:        db,
		repo:      repo,
		uploadCfg: uploadCfg,
	}
}

// SendMessage persists a text message after permission checks. Both the
// socket path and the HTTP endpoint land here.
func (s *ChatService) SendMessage(ctx context.Context, publicID string, senderID uuid.UUID, text string) (*models.ChatMessage, error) {
	meeting, err := s.authorize(ctx, publicID, senderID)
	if err != nil {
		return nil, err
	}

	message := &models.ChatMessage{
		MeetingID: meeting.ID,
		SenderID:  senderID,
		Type:      models.ChatMessageText,
		Message:   text,
	}
	if err := s.repo.PushChat(ctx, message); err != nil {
		return nil, err
	}

	s.populateSender(ctx, message)
	return message, nil
}

// SendFileMessage stores an attachment on disk and records a file-type
// chat message pointing at it.
func (s *ChatService) SendFileMessage(ctx context.Context, publicID string, senderID uuid.UUID, header *multipart.FileHeader, caption string) (*models.ChatMessage, error) {
	meeting, err := s.authorize(ctx, publicID, senderID)
	if err != nil {
		return nil, err
	}

	if header.Size > s.uploadCfg.MaxChatFileBytes {
		return nil, fmt.Errorf("file exceeds %d bytes: %w", s.uploadCfg.MaxChatFileBytes, utils.ErrBadRequest)
	}
	mimeType := header.Header.Get("Content-Type")
	if !chatFileMimeTypes[mimeType] {
		return nil, fmt.Errorf("unsupported file type %q: %w", mimeType, utils.ErrBadRequest)
	}

	storedName := fmt.Sprintf("%s%s", uuid.New(), filepath.Ext(header.Filename))
	dir := filepath.Join(s.uploadCfg.Dir, "chat", meeting.MeetingID)
	path, err := s.saveFile(header, dir, storedName)
	if err != nil {
		return nil, err
	}

	message := &models.ChatMessage{
		MeetingID: meeting.ID,
		SenderID:  senderID,
		Type:      models.ChatMessageFile,
		Message:   caption,
		FileURL:   "/uploads/chat/" + meeting.MeetingID + "/" + storedName,
		FileName:  header.Filename,
	}
	if err := s.repo.PushChat(ctx, message); err != nil {
		os.Remove(path)
		return nil, err
	}

	s.populateSender(ctx, message)
	logrus.WithFields(logrus.Fields{
		"meeting_id": publicID,
		"sender_id":  senderID,
		"file":       header.Filename,
		"size":       header.Size,
	}).Info("Chat file uploaded")
	return message, nil
}

// ListMessages pages the chat log, oldest first.
func (s *ChatService) ListMessages(ctx context.Context, publicID string, callerID uuid.UUID, limit int, before *uuid.UUID) ([]models.ChatMessage, error) {
	meeting, err := s.repo.FindByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if p := meeting.FindParticipant(callerID); p == nil && !meeting.IsHost(callerID) {
		return nil, fmt.Errorf("caller is not a participant: %w", utils.ErrForbidden)
	}
	return s.repo.ListChat(ctx, meeting.ID, limit, before)
}

func (s *ChatService) authorize(ctx context.Context, publicID string, senderID uuid.UUID) (*models.Meeting, error) {
	meeting, err := s.repo.FindByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if meeting.Status.Terminal() {
		return nil, fmt.Errorf("meeting has %s: %w", meeting.Status, utils.ErrGone)
	}
	if p := meeting.FindParticipant(senderID); p == nil && !meeting.IsHost(senderID) {
		return nil, fmt.Errorf("caller is not a participant: %w", utils.ErrForbidden)
	}
	if !meeting.CanChat(senderID) {
		return nil, fmt.Errorf("chat is disabled in this meeting: %w", utils.ErrForbidden)
	}
	return meeting, nil
}

func (s *ChatService) saveFile(header *multipart.FileHeader, dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	src, err := header.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	path := filepath.Join(dir, name)
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

func (s *ChatService) populateSender(ctx context.Context, message *models.ChatMessage) {
	var sender models.User
	err := s.db.WithContext(ctx).First(&sender, "id = ?", message.SenderID).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		logrus.WithError(err).WithField("sender_id", message.SenderID).Warn("Failed to load chat sender")
		return
	}
	message.Sender = sender
}
