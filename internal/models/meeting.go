package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MeetingStatus string

const (
	MeetingStatusScheduled MeetingStatus = "scheduled"
	MeetingStatusOngoing   MeetingStatus = "ongoing"
	MeetingStatusEnded     MeetingStatus = "ended"
	MeetingStatusCancelled MeetingStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s MeetingStatus) Terminal() bool {
	return s == MeetingStatusEnded || s == MeetingStatusCancelled
}

type ParticipantRole string

const (
	RoleHost        ParticipantRole = "host"
	RoleCoHost      ParticipantRole = "co-host"
	RoleParticipant ParticipantRole = "participant"
)

type ParticipantStatus string

const (
	ParticipantJoined  ParticipantStatus = "joined"
	ParticipantLeft    ParticipantStatus = "left"
	ParticipantRemoved ParticipantStatus = "removed"
	ParticipantInvited ParticipantStatus = "invited"
)

type MeetingSettings struct {
	AllowGuests       bool `json:"allowGuests"`
	RequirePassword   bool `json:"requirePassword"`
	EnableRecording   bool `json:"enableRecording"`
	EnableChat        bool `json:"enableChat"`
	EnableScreenShare bool `json:"enableScreenShare"`
	EnableRaiseHand   bool `json:"enableRaiseHand"`
	EnableReactions   bool `json:"enableReactions"`
	MaxParticipants   int  `json:"maxParticipants"`
	WaitingRoom       bool `json:"waitingRoom"`
	MuteOnEntry       bool `json:"muteOnEntry"`
	VideoOnEntry      bool `json:"videoOnEntry"`
}

// DefaultMeetingSettings returns the documented defaults.
func DefaultMeetingSettings() MeetingSettings {
	return MeetingSettings{
		AllowGuests:       true,
		EnableChat:        true,
		EnableScreenShare: true,
		EnableRaiseHand:   true,
		EnableReactions:   true,
		MaxParticipants:   50,
	}
}

// UpdateSettingsRequest carries a shallow merge: only non-nil fields are
// applied.
type UpdateSettingsRequest struct {
	AllowGuests       *bool `json:"allowGuests,omitempty"`
	RequirePassword   *bool `json:"requirePassword,omitempty"`
	EnableRecording   *bool `json:"enableRecording,omitempty"`
	EnableChat        *bool `json:"enableChat,omitempty"`
	EnableScreenShare *bool `json:"enableScreenShare,omitempty"`
	EnableRaiseHand   *bool `json:"enableRaiseHand,omitempty"`
	EnableReactions   *bool `json:"enableReactions,omitempty"`
	MaxParticipants   *int  `json:"maxParticipants,omitempty" validate:"omitempty,min=2,max=200"`
	WaitingRoom       *bool `json:"waitingRoom,omitempty"`
	MuteOnEntry       *bool `json:"muteOnEntry,omitempty"`
	VideoOnEntry      *bool `json:"videoOnEntry,omitempty"`
}

// Apply merges the request into settings.
func (r *UpdateSettingsRequest) Apply(s *MeetingSettings) {
	if r.AllowGuests != nil {
		s.AllowGuests = *r.AllowGuests
	}
	if r.RequirePassword != nil {
		s.RequirePassword = *r.RequirePassword
	}
	if r.EnableRecording != nil {
		s.EnableRecording = *r.EnableRecording
	}
	if r.EnableChat != nil {
		s.EnableChat = *r.EnableChat
	}
	if r.EnableScreenShare != nil {
		s.EnableScreenShare = *r.EnableScreenShare
	}
	if r.EnableRaiseHand != nil {
		s.EnableRaiseHand = *r.EnableRaiseHand
	}
	if r.EnableReactions != nil {
		s.EnableReactions = *r.EnableReactions
	}
	if r.MaxParticipants != nil {
		s.MaxParticipants = *r.MaxParticipants
	}
	if r.WaitingRoom != nil {
		s.WaitingRoom = *r.WaitingRoom
	}
	if r.MuteOnEntry != nil {
		s.MuteOnEntry = *r.MuteOnEntry
	}
	if r.VideoOnEntry != nil {
		s.VideoOnEntry = *r.VideoOnEntry
	}
}

type ParticipantPermissions struct {
	CanShare        bool `json:"canShare"`
	CanRecord       bool `json:"canRecord"`
	CanMuteOthers   bool `json:"canMuteOthers"`
	CanRemoveOthers bool `json:"canRemoveOthers"`
}

type MediaState struct {
	AudioEnabled  bool `json:"audioEnabled"`
	VideoEnabled  bool `json:"videoEnabled"`
	ScreenSharing bool `json:"screenSharing"`
	HandRaised    bool `json:"handRaised"`
}

type Participant struct {
	ID          uuid.UUID              `gorm:"type:uuid;primary_key" json:"id"`
	MeetingID   uuid.UUID              `gorm:"type:uuid;not null;uniqueIndex:idx_participants_meeting_user" json:"-"`
	UserID      uuid.UUID              `gorm:"type:uuid;not null;uniqueIndex:idx_participants_meeting_user" json:"userId"`
	Role        ParticipantRole        `gorm:"size:16;not null;default:participant" json:"role"`
	Status      ParticipantStatus      `gorm:"size:16;not null;default:invited" json:"status"`
	JoinedAt    time.Time              `json:"joinedAt"`
	LeftAt      *time.Time             `json:"leftAt,omitempty"`
	Permissions ParticipantPermissions `gorm:"embedded;embeddedPrefix:perm_" json:"permissions"`
	MediaState  MediaState             `gorm:"embedded;embeddedPrefix:media_" json:"mediaState"`

	User User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (p *Participant) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

type MeetingStatistics struct {
	TotalParticipants    int `json:"totalParticipants"`
	PeakParticipants     int `json:"peakParticipants"`
	ChatMessages         int `json:"chatMessages"`
	TotalDurationMinutes int `json:"totalDuration"`
}

type RecordingState struct {
	IsRecording bool       `json:"isRecording"`
	StartedBy   *uuid.UUID `gorm:"type:uuid" json:"startedBy,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	StoppedAt   *time.Time `json:"stoppedAt,omitempty"`
}

type ChatMessageType string

const (
	ChatMessageText ChatMessageType = "text"
	ChatMessageFile ChatMessageType = "file"
)

type ChatMessage struct {
	ID        uuid.UUID       `gorm:"type:uuid;primary_key" json:"id"`
	MeetingID uuid.UUID       `gorm:"type:uuid;not null;index" json:"-"`
	SenderID  uuid.UUID       `gorm:"type:uuid;not null" json:"-"`
	Type      ChatMessageType `gorm:"size:8;not null;default:text" json:"type"`
	Message   string          `gorm:"size:4000;not null" json:"message"`
	FileURL   string          `gorm:"size:500" json:"fileUrl,omitempty"`
	FileName  string          `gorm:"size:255" json:"fileName,omitempty"`
	CreatedAt time.Time       `gorm:"autoCreateTime;index" json:"timestamp"`

	Sender User `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
}

func (m *ChatMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// TranscriptSegment is one utterance. Deduplication key is the composite
// (speaker_id, timestamp_ms) rather than timestamp alone.
type TranscriptSegment struct {
	ID          uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	MeetingID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_transcripts_dedupe" json:"-"`
	SpeakerID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_transcripts_dedupe" json:"speakerId"`
	SpeakerName string    `gorm:"size:255" json:"speakerName"`
	Text        string    `gorm:"size:8000;not null" json:"text"`
	TimestampMS int64     `gorm:"not null;uniqueIndex:idx_transcripts_dedupe" json:"timestamp"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (t *TranscriptSegment) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

type RecordingFile struct {
	ID         uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	MeetingID  uuid.UUID `gorm:"type:uuid;not null;index" json:"meetingId"`
	UploaderID uuid.UUID `gorm:"type:uuid;not null;index" json:"uploaderId"`
	FileName   string    `gorm:"size:255;not null" json:"fileName"`
	MimeType   string    `gorm:"size:64;not null" json:"mimeType"`
	SizeBytes  int64     `gorm:"not null" json:"sizeBytes"`
	Path       string    `gorm:"size:500;not null" json:"-"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (r *RecordingFile) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

type Meeting struct {
	ID              uuid.UUID         `gorm:"type:uuid;primary_key" json:"id"`
	MeetingID       string            `gorm:"uniqueIndex;not null;size:11" json:"meetingId"`
	Title           string            `gorm:"not null;size:100" json:"title" validate:"required,min=1,max=100"`
	Description     string            `gorm:"size:500" json:"description" validate:"max=500"`
	HostUserID      uuid.UUID         `gorm:"type:uuid;not null;index" json:"hostUserId"`
	Password        string            `gorm:"size:255" json:"-"`
	ScheduledFor    time.Time         `gorm:"not null;index" json:"scheduledFor"`
	DurationMinutes int               `gorm:"default:60" json:"durationMinutes"`
	Status          MeetingStatus     `gorm:"size:16;not null;default:scheduled;index" json:"status"`
	Settings        MeetingSettings   `gorm:"embedded;embeddedPrefix:setting_" json:"settings"`
	Statistics      MeetingStatistics `gorm:"embedded;embeddedPrefix:stat_" json:"statistics"`
	Recording       RecordingState    `gorm:"embedded;embeddedPrefix:recording_" json:"recording"`
	CreatedAt       time.Time         `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time         `gorm:"autoUpdateTime" json:"updatedAt"`

	Host         User                `gorm:"foreignKey:HostUserID" json:"host,omitempty"`
	Participants []Participant       `gorm:"foreignKey:MeetingID" json:"participants,omitempty"`
	Chat         []ChatMessage       `gorm:"foreignKey:MeetingID" json:"chat,omitempty"`
	Transcripts  []TranscriptSegment `gorm:"foreignKey:MeetingID" json:"transcripts,omitempty"`
}

func (m *Meeting) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// JoinedCount returns the number of participants currently joined.
func (m *Meeting) JoinedCount() int {
	n := 0
	for i := range m.Participants {
		if m.Participants[i].Status == ParticipantJoined {
			n++
		}
	}
	return n
}

// FindParticipant returns the participant entry for a user, if any.
func (m *Meeting) FindParticipant(userID uuid.UUID) *Participant {
	for i := range m.Participants {
		if m.Participants[i].UserID == userID {
			return &m.Participants[i]
		}
	}
	return nil
}

// IsHost reports whether the user is the meeting host, either by the
// meeting record or by participant role.
func (m *Meeting) IsHost(userID uuid.UUID) bool {
	if m.HostUserID == userID {
		return true
	}
	p := m.FindParticipant(userID)
	return p != nil && p.Role == RoleHost
}

// CanRecord reports whether the user may start/stop/upload recordings.
func (m *Meeting) CanRecord(userID uuid.UUID) bool {
	if m.IsHost(userID) {
		return true
	}
	p := m.FindParticipant(userID)
	if p == nil {
		return false
	}
	return p.Role == RoleCoHost || p.Permissions.CanRecord
}

// CanChat reports whether the user may send chat messages.
func (m *Meeting) CanChat(userID uuid.UUID) bool {
	return m.IsHost(userID) || m.Settings.EnableChat
}

// CanScreenShare reports whether the user may share their screen.
func (m *Meeting) CanScreenShare(userID uuid.UUID) bool {
	if m.IsHost(userID) {
		return true
	}
	p := m.FindParticipant(userID)
	if p != nil && p.Role == RoleCoHost {
		return true
	}
	return m.Settings.EnableScreenShare
}

// CanMuteOthers reports whether the user may mute other participants.
func (m *Meeting) CanMuteOthers(userID uuid.UUID) bool {
	if m.IsHost(userID) {
		return true
	}
	p := m.FindParticipant(userID)
	return p != nil && p.Permissions.CanMuteOthers
}

// CanRemoveOthers reports whether the user may remove other participants.
func (m *Meeting) CanRemoveOthers(userID uuid.UUID) bool {
	if m.IsHost(userID) {
		return true
	}
	p := m.FindParticipant(userID)
	return p != nil && p.Permissions.CanRemoveOthers
}

type CreateMeetingRequest struct {
	Title           string                 `json:"title" validate:"required,min=1,max=100"`
	Description     string                 `json:"description" validate:"max=500"`
	DurationMinutes int                    `json:"durationMinutes" validate:"omitempty,min=5,max=1440"`
	Password        string                 `json:"password,omitempty"`
	Settings        *UpdateSettingsRequest `json:"settings,omitempty"`
}

type ScheduleMeetingRequest struct {
	CreateMeetingRequest
	ScheduledFor time.Time `json:"scheduledFor" validate:"required"`
}

type JoinMeetingRequest struct {
	Password string `json:"password,omitempty"`
}

type AppendTranscriptsRequest struct {
	Transcripts []TranscriptInput `json:"transcripts" validate:"required,min=1,dive"`
}

type TranscriptInput struct {
	SpeakerID   uuid.UUID `json:"speakerId" validate:"required"`
	SpeakerName string    `json:"speakerName"`
	Text        string    `json:"text" validate:"required"`
	TimestampMS int64     `json:"timestamp" validate:"required"`
}

type SendChatMessageRequest struct {
	MeetingID string `json:"meetingId" validate:"required"`
	Message   string `json:"message" validate:"required,max=4000"`
}
