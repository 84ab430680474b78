package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MinutesStatus string

const (
	MinutesPending    MinutesStatus = "pending"
	MinutesProcessing MinutesStatus = "processing"
	MinutesCompleted  MinutesStatus = "completed"
	MinutesFailed     MinutesStatus = "failed"
)

type ActionItemPriority string

const (
	PriorityHigh   ActionItemPriority = "high"
	PriorityMedium ActionItemPriority = "medium"
	PriorityLow    ActionItemPriority = "low"
)

type ActionItem struct {
	Description string             `json:"description"`
	AssignedTo  string             `json:"assignedTo,omitempty"`
	DueDate     string             `json:"dueDate,omitempty"`
	Priority    ActionItemPriority `json:"priority"`
	Status      string             `json:"status"`
}

type FollowUp struct {
	Topic       string `json:"topic"`
	Description string `json:"description,omitempty"`
}

type MinutesAttendee struct {
	UserID      uuid.UUID `json:"userId"`
	Name        string    `json:"name"`
	Email       string    `json:"email,omitempty"`
	Role        string    `json:"role"`
	JoinedAt    time.Time `json:"joinedAt"`
	LeftAt      *time.Time `json:"leftAt,omitempty"`
	DurationMin int       `json:"durationMinutes"`
}

// AIProcessing records how the minutes content was produced.
type AIProcessing struct {
	Model       string     `json:"model"`
	Confidence  float64    `json:"confidence"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
	TokensUsed  int        `json:"tokensUsed"`
	Error       string     `json:"error,omitempty"`
}

type RecipientStatus string

const (
	RecipientPending RecipientStatus = "pending"
	RecipientSent    RecipientStatus = "sent"
	RecipientFailed  RecipientStatus = "failed"
)

type MinutesRecipient struct {
	Email  string          `json:"email"`
	Name   string          `json:"name,omitempty"`
	Status RecipientStatus `json:"status"`
	SentAt *time.Time      `json:"sentAt,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// EmailDelivery tracks the fanout of the minutes email to attendees.
type EmailDelivery struct {
	Requested   bool               `json:"requested"`
	RequestedAt *time.Time         `json:"requestedAt,omitempty"`
	Recipients  []MinutesRecipient `json:"recipients,omitempty"`
}

// MeetingMinutes is the generated minutes record for a meeting. A meeting
// has at most one; regeneration overwrites in place only from a failed
// state.
type MeetingMinutes struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	MeetingID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"meetingId"`

	Status MinutesStatus `gorm:"size:16;not null;default:pending" json:"status"`

	Summary          string            `gorm:"size:8000" json:"summary"`
	Agenda           []string          `gorm:"serializer:json" json:"agenda"`
	DiscussionPoints []string          `gorm:"serializer:json" json:"discussionPoints"`
	Decisions        []string          `gorm:"serializer:json" json:"decisions"`
	ActionItems      []ActionItem      `gorm:"serializer:json" json:"actionItems"`
	Highlights       []string          `gorm:"serializer:json" json:"highlights"`
	QuestionsRaised  []string          `gorm:"serializer:json" json:"questionsRaised"`
	FollowUps        []FollowUp        `gorm:"serializer:json" json:"followUps"`
	Attendees        []MinutesAttendee `gorm:"serializer:json" json:"attendees"`

	AI    AIProcessing  `gorm:"serializer:json" json:"aiProcessing"`
	Email EmailDelivery `gorm:"serializer:json" json:"emailDelivery"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (m *MeetingMinutes) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

type GenerateMinutesRequest struct {
	SendEmail bool `json:"sendEmail"`
}

// ResendMinutesEmailRequest optionally redirects the resend to a single
// address instead of the attendee list.
type ResendMinutesEmailRequest struct {
	Email string `json:"email" validate:"omitempty,email"`
}
