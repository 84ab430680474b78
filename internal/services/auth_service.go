package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/confera-app/backend/internal/cache"
	"github.com/confera-app/backend/internal/models"
	"github.com/confera-app/backend/internal/utils"
)

type AuthService struct {
	db         *gorm.DB
	jwtService *JWTService
	cacheRepo  *cache.CacheRepository
}

type AuthResult struct {
	User   models.UserResponse `json:"user"`
	Tokens TokenPair           `json:"tokens"`
}

func NewAuthService(db *gorm.DB, jwtService *JWTService, cacheRepo *cache.CacheRepository) *AuthService {
	return &AuthService{
		db:         db,
		jwtService: jwtService,
		cacheRepo:  cacheRepo,
	}
}

// Register creates a new account. Username and email must be unique.
func (s *AuthService) Register(ctx context.Context, req *models.RegisterRequest) (*AuthResult, error) {
	email := models.NormalizeEmail(req.Email)

	var count int64
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("username = ? OR email = ?", req.Username, email).
		Count(&count).Error
	if err != nil {
		return nil, fmt.Errorf("check existing user: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("username or email already in use: %w", utils.ErrConflict)
	}

	user := &models.User{
		Username: req.Username,
		Email:    email,
		IsActive: true,
		Preferences: models.UserPreferences{
			EmailNotifications: true,
		},
	}
	if req.Profile != nil {
		user.Profile = *req.Profile
	}
	if user.Profile.DisplayName == "" {
		user.Profile.DisplayName = req.Username
	}
	if err := user.SetPassword(req.Password); err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("username or email already in use: %w", utils.ErrConflict)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"user_id":  user.ID,
		"username": user.Username,
	}).Info("User registered")

	return s.authResult(user)
}

// Login verifies credentials. Lookup failures and bad passwords return
// the same error so the response does not leak which emails exist.
func (s *AuthService) Login(ctx context.Context, req *models.LoginRequest) (*AuthResult, error) {
	email := models.NormalizeEmail(req.Email)

	var user models.User
	err := s.db.WithContext(ctx).First(&user, "email = ?", email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("invalid email or password: %w", utils.ErrUnauthenticated)
		}
		return nil, fmt.Errorf("find user: %w", err)
	}

	if !user.IsActive {
		return nil, fmt.Errorf("account is deactivated: %w", utils.ErrForbidden)
	}
	if !user.ComparePassword(req.Password) {
		return nil, fmt.Errorf("invalid email or password: %w", utils.ErrUnauthenticated)
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&user).UpdateColumn("last_seen_at", now).Error; err != nil {
		logrus.WithError(err).WithField("user_id", user.ID).Warn("Failed to update last seen")
	}

	logrus.WithField("user_id", user.ID).Info("User logged in")
	return s.authResult(&user)
}

// CreateGuest mints a throwaway account so unauthenticated visitors can
// join meetings that allow guests. Guest usernames get a random suffix
// to dodge collisions.
func (s *AuthService) CreateGuest(ctx context.Context, req *models.GuestRequest) (*AuthResult, error) {
	suffix := uuid.New().String()[:8]
	user := &models.User{
		Username: fmt.Sprintf("%s-%s", req.Username, suffix),
		Email:    fmt.Sprintf("guest-%s@guest.confera.app", suffix),
		IsGuest:  true,
		IsActive: true,
		Profile: models.UserProfile{
			DisplayName: req.Username,
		},
	}

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, fmt.Errorf("create guest: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"user_id":  user.ID,
		"username": user.Username,
	}).Info("Guest session created")

	return s.authResult(user)
}

// Refresh exchanges a valid refresh token for a fresh pair.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	claims, err := s.jwtService.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := s.findUser(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, fmt.Errorf("account is deactivated: %w", utils.ErrForbidden)
	}
	return s.authResult(user)
}

// GetMe returns the current user's profile, cache-aside.
func (s *AuthService) GetMe(ctx context.Context, userID uuid.UUID) (*models.UserResponse, error) {
	if cached, ok := s.cacheRepo.GetUserProfile(userID.String()); ok {
		return cached, nil
	}

	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	resp := user.ToResponse()
	s.cacheRepo.SetUserProfile(userID.String(), &resp)
	return &resp, nil
}

// UpdateProfile applies a shallow merge of profile and preferences.
func (s *AuthService) UpdateProfile(ctx context.Context, userID uuid.UUID, req *models.UpdateProfileRequest) (*models.UserResponse, error) {
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if req.Profile != nil {
		user.Profile = *req.Profile
	}
	if req.Preferences != nil {
		user.Preferences = *req.Preferences
	}

	if err := s.db.WithContext(ctx).Save(user).Error; err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}

	s.cacheRepo.InvalidateUserProfile(userID.String())
	resp := user.ToResponse()
	return &resp, nil
}

// Logout records the sign-out. Tokens are stateless, so this only
// touches last-seen and drops the cached profile.
func (s *AuthService) Logout(ctx context.Context, userID uuid.UUID) error {
	now := time.Now()
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("last_seen_at", now).Error
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID).Warn("Failed to update last seen on logout")
	}
	s.cacheRepo.InvalidateUserProfile(userID.String())
	return nil
}

func (s *AuthService) findUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %s: %w", userID, utils.ErrNotFound)
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &user, nil
}

func (s *AuthService) authResult(user *models.User) (*AuthResult, error) {
	tokens, err := s.jwtService.GenerateTokenPair(user)
	if err != nil {
		return nil, fmt.Errorf("generate tokens: %w", err)
	}
	return &AuthResult{
		User:   user.ToResponse(),
		Tokens: *tokens,
	}, nil
}
