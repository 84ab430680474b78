package controllers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/confera-app/backend/internal/models"
	"github.com/confera-app/backend/internal/services"
	"github.com/confera-app/backend/internal/utils"
)

type AuthController struct {
	authService *services.AuthService
	validator   *validator.Validate
}

func NewAuthController(authService *services.AuthService) *AuthController {
	return &AuthController{
		authService: authService,
		validator:   validator.New(),
	}
}

// Register handles user registration
// @Summary Register a new user
// @Tags auth
// @Accept json
// @Produce json
// @Param request body models.RegisterRequest true "Registration request"
// @Success 201 {object} utils.APIResponse
// @Failure 400 {object} utils.ErrorEnvelope
// @Failure 409 {object} utils.ErrorEnvelope
// @Router /api/auth/register [post]
func (c *AuthController) Register(ctx *gin.Context) {
	var req models.RegisterRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.RespondError(ctx, fmt.Errorf("%s: %w", err.Error(), utils.ErrBadRequest))
		return
	}
	if err := c.validator.Struct(&req); err != nil {
		utils.RespondError(ctx, fmt.Errorf("%s: %w", err.Error(), utils.ErrBadRequest))
		return
	}

	result, err := c.authService.Register(ctx.Request.Context(), &req)
	if err != nil {
		utils.RespondError(ctx, err)
		return
	}
	utils.SuccessResponse(ctx, http.StatusCreated, result, "User registered successfully")
}

// Login authenticates a user
// @Summary Login with email and password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body models.LoginRequest true "Login request"
// @Success 200 {object} utils.APIResponse
// @Failure 401 {object} utils.ErrorEnvelope
// @Router /api/auth/login [post]
func (c *AuthController) Login(ctx *gin.Context) {
	var req models.LoginRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.RespondError(ctx, fmt.Errorf("%s: %w", err.Error(), utils.ErrBadRequest))
		return
	}
	if err := c.validator.Struct(&req); err != nil {
		utils.RespondError(ctx, fmt.Errorf("%s: %w", err.Error(), utils.ErrBadRequest))
		return
	}

	result, err := c.authService.Login(ctx.Request.Context(), &req)
	if err != nil {
		utils.RespondError(ctx, err)
		return
	}
	utils.SuccessResponse(ctx, http.StatusOK, result, "Login successful")
}

// Guest creates a guest session
// @Summary Create a guest session
// @Tags auth
// @Accept json
// @Produce json
// @Param request body models.GuestRequest true "Guest request"
// @Success 201 {object} utils.APIResponse
// @Router /api/auth/guest [post]
func (c *AuthController) Guest(ctx *gin.Context) {
	var req models.GuestRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.RespondError(ctx, fmt.Errorf("%s: %w", err.Error(), utils.ErrBadRequest))
		return
	}
	if err := c.validator.Struct(&req); err != nil {
		utils.RespondError(ctx, fmt.Errorf("%s: %w", err.Error(), utils.ErrBadRequest))
		return
	}

	result, err := c.authService.CreateGuest(ctx.Request.Context(), &req)
	if err != nil {
		utils.RespondError(ctx, err)
		return
	}
	utils.SuccessResponse(ctx, http.StatusCreated, result, "Guest session created")
}

// Refresh exchanges a refresh token for a new token pair
// @Summary Refresh tokens
// @Tags auth
// @Accept json
// @Produce json
// @Success 200 {object} utils.APIResponse
// @Failure 401 {object} utils.ErrorEnvelope
// @Router /api/auth/refresh [post]
func (c *AuthController) Refresh(ctx *gin.Context) {
	var req struct {
		RefreshToken string `json:"refreshToken" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.RespondError(ctx, fmt.Errorf("refreshToken is required: %w", utils.ErrBadRequest))
		return
	}

	result, err := c.authService.Refresh(ctx.Request.Context(), req.RefreshToken)
	if err != nil {
		utils.RespondError(ctx, err)
		return
	}
	utils.SuccessResponse(ctx, http.StatusOK, result, "Tokens refreshed")
}

// Me returns the current user
// @Summary Get current user profile
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} utils.APIResponse
// @Router /api/auth/me [get]
func (c *AuthController) Me(ctx *gin.Context) {
	userID, ok := utils.GetUserID(ctx)
	if !ok {
		utils.RespondError(ctx, utils.ErrUnauthenticated)
		return
	}

	profile, err := c.authService.GetMe(ctx.Request.Context(), userID)
	if err != nil {
		utils.RespondError(ctx, err)
		return
	}
	utils.SuccessResponse(ctx, http.StatusOK, profile, "")
}

// UpdateProfile updates profile and preferences
// @Summary Update current user profile
// @Tags auth
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.UpdateProfileRequest true "Profile update"
// @Success 200 {object} utils.APIResponse
// @Router /api/auth/profile [put]
func (c *AuthController) UpdateProfile(ctx *gin.Context) {
	userID, ok := utils.GetUserID(ctx)
	if !ok {
		utils.RespondError(ctx, utils.ErrUnauthenticated)
		return
	}

	var req models.UpdateProfileRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.RespondError(ctx, fmt.Errorf("%s: %w", err.Error(), utils.ErrBadRequest))
		return
	}

	profile, err := c.authService.UpdateProfile(ctx.Request.Context(), userID, &req)
	if err != nil {
		utils.RespondError(ctx, err)
		return
	}
	utils.SuccessResponse(ctx, http.StatusOK, profile, "Profile updated")
}

// Logout ends the session
// @Summary Logout
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} utils.APIResponse
// @Router /api/auth/logout [post]
func (c *AuthController) Logout(ctx *gin.Context) {
	userID, ok := utils.GetUserID(ctx)
	if !ok {
		utils.RespondError(ctx, utils.ErrUnauthenticated)
		return
	}

	if err := c.authService.Logout(ctx.Request.Context(), userID); err != nil {
		utils.RespondError(ctx, err)
		return
	}
	utils.SuccessResponse(ctx, http.StatusOK, nil, "Logged out")
}
