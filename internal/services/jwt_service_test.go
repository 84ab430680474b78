package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confera-app/backend/internal/config"
	"github.com/confera-app/backend/internal/models"
	"github.com/confera-app/backend/internal/utils"
)

func newTestJWTService(accessExpiry time.Duration) *JWTService {
	return NewJWTService(config.JWTConfig{
		Secret:             "test-secret",
		AccessTokenExpiry:  accessExpiry,
		RefreshTokenExpiry: time.Hour,
	})
}

func testTokenUser() *models.User {
	return &models.User{
		ID:       uuid.New(),
		Username: "alice",
		Email:    "alice@example.com",
	}
}

func TestGenerateAndValidateTokenPair(t *testing.T) {
	svc := newTestJWTService(time.Hour)
	user := testTokenUser()

	pair, err := svc.GenerateTokenPair(user)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	claims, err := svc.ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, user.Username, claims.Username)
	assert.False(t, claims.IsGuest)
}

func TestTokenTypeSeparation(t *testing.T) {
	svc := newTestJWTService(time.Hour)
	pair, err := svc.GenerateTokenPair(testTokenUser())
	require.NoError(t, err)

	// A refresh token is not an access token and vice versa.
	_, err = svc.ValidateAccessToken(pair.RefreshToken)
	assert.ErrorIs(t, err, utils.ErrUnauthenticated)

	_, err = svc.ValidateRefreshToken(pair.AccessToken)
	assert.ErrorIs(t, err, utils.ErrUnauthenticated)

	_, err = svc.ValidateRefreshToken(pair.RefreshToken)
	assert.NoError(t, err)
}

func TestExpiredTokenRejected(t *testing.T) {
	svc := newTestJWTService(-time.Minute)
	pair, err := svc.GenerateTokenPair(testTokenUser())
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(pair.AccessToken)
	assert.ErrorIs(t, err, utils.ErrUnauthenticated)
}

func TestWrongSecretRejected(t *testing.T) {
	pair, err := newTestJWTService(time.Hour).GenerateTokenPair(testTokenUser())
	require.NoError(t, err)

	other := NewJWTService(config.JWTConfig{Secret: "different", AccessTokenExpiry: time.Hour, RefreshTokenExpiry: time.Hour})
	_, err = other.ValidateAccessToken(pair.AccessToken)
	assert.ErrorIs(t, err, utils.ErrUnauthenticated)
}

func TestExtractTokenFromHeader(t *testing.T) {
	svc := newTestJWTService(time.Hour)

	token, err := svc.ExtractTokenFromHeader("Bearer abc.def.ghi")
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", token)

	_, err = svc.ExtractTokenFromHeader("")
	assert.ErrorIs(t, err, utils.ErrUnauthenticated)

	_, err = svc.ExtractTokenFromHeader("Token abc")
	assert.ErrorIs(t, err, utils.ErrUnauthenticated)
}
