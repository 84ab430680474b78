package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// BcryptCost is the work factor for password hashing.
const BcryptCost = 12

type UserProfile struct {
	DisplayName string `gorm:"size:255" json:"displayName,omitempty"`
	AvatarURL   string `gorm:"size:500" json:"avatarUrl,omitempty"`
	Bio         string `gorm:"size:500" json:"bio,omitempty"`
}

type UserPreferences struct {
	MuteOnJoin        bool `json:"muteOnJoin"`
	VideoOnJoin       bool `json:"videoOnJoin"`
	EmailNotifications bool `json:"emailNotifications"`
}

type UserStatistics struct {
	TotalMeetings           int `json:"totalMeetings"`
	MeetingsHosted          int `json:"meetingsHosted"`
	MeetingsAttended        int `json:"meetingsAttended"`
	TotalMeetingTimeMinutes int `json:"totalMeetingTimeMinutes"`
}

type User struct {
	ID           uuid.UUID       `gorm:"type:uuid;primary_key" json:"id"`
	Username     string          `gorm:"uniqueIndex;not null;size:30" json:"username" validate:"required,min=3,max=30"`
	Email        string          `gorm:"uniqueIndex;not null;size:255" json:"email" validate:"required,email"`
	PasswordHash string          `gorm:"size:255" json:"-"`
	IsGuest      bool            `gorm:"default:false" json:"isGuest"`
	Profile      UserProfile     `gorm:"embedded;embeddedPrefix:profile_" json:"profile"`
	Preferences  UserPreferences `gorm:"embedded;embeddedPrefix:pref_" json:"preferences"`
	Statistics   UserStatistics  `gorm:"embedded;embeddedPrefix:stat_" json:"statistics"`
	IsActive     bool            `gorm:"default:true" json:"isActive"`
	LastSeenAt   *time.Time      `json:"lastSeenAt,omitempty"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updatedAt"`
}

// SetPassword hashes and stores the password.
func (u *User) SetPassword(password string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u.PasswordHash = string(hashed)
	return nil
}

// ComparePassword reports whether the candidate matches the stored hash.
// Guests never match: they carry no password at all.
func (u *User) ComparePassword(password string) bool {
	if u.IsGuest || u.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// NormalizeEmail lowercases and trims the stored email.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type UserResponse struct {
	ID         uuid.UUID      `json:"id"`
	Username   string         `json:"username"`
	Email      string         `json:"email"`
	IsGuest    bool           `json:"isGuest"`
	Profile    UserProfile    `json:"profile"`
	Statistics UserStatistics `json:"statistics"`
	CreatedAt  time.Time      `json:"createdAt"`
}

func (u *User) ToResponse() UserResponse {
	return UserResponse{
		ID:         u.ID,
		Username:   u.Username,
		Email:      u.Email,
		IsGuest:    u.IsGuest,
		Profile:    u.Profile,
		Statistics: u.Statistics,
		CreatedAt:  u.CreatedAt,
	}
}

type RegisterRequest struct {
	Username string       `json:"username" validate:"required,min=3,max=30"`
	Email    string       `json:"email" validate:"required,email"`
	Password string       `json:"password" validate:"required,min=8"`
	Profile  *UserProfile `json:"profile,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type GuestRequest struct {
	Username string `json:"username" validate:"required,min=1,max=24"`
}

type UpdateProfileRequest struct {
	Profile     *UserProfile     `json:"profile,omitempty"`
	Preferences *UserPreferences `json:"preferences,omitempty"`
}

// BeforeCreate hook to generate UUID
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
