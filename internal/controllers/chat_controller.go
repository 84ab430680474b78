package controllers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/confera-app/backend/internal/models"
	"github.com/confera-app/backend/internal/services"
	"github.com/confera-app/backend/internal/utils"
)

type ChatController struct {
	chatService      *services.ChatService
	signalingService *services.SignalingService
	validator        *validator.Validate
}

func NewChatController(chatService *services.ChatService, signalingService *services.SignalingService) *ChatController {
	return &ChatController{
		chatService:      chatService,
		signalingService: signalingService,
		validator:        validator.New(),
	}
}

// Send posts a text message; it fans out over the socket path too
// @Summary Send a chat message
// @Tags chat
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.SendChatMessageRequest true "Message"
// @Success 201 {object} utils.APIResponse
// @Router /api/chat/send [post]
func (c *ChatController) Send(ctx *gin.Context) {
	userID, ok := utils.GetUserID(ctx)
	if !ok {
		utils.RespondError(ctx, utils.ErrUnauthenticated)
		return
	}

	var req models.SendChatMessageRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.RespondError(ctx, fmt.Errorf("%s: %w", err.Error(), utils.ErrBadRequest))
		return
	}
	if err := c.validator.Struct(&req); err != nil {
		utils.RespondError(ctx, fmt.Errorf("%s: %w", err.Error(), utils.ErrBadRequest))
		return
	}

	message, err := c.chatService.SendMessage(ctx.Request.Context(), req.MeetingID, userID, req.Message)
	if err != nil {
		utils.RespondError(ctx, err)
		return
	}

	// REST-originated messages must fan out identically to socket ones.
	c.signalingService.BroadcastChatMessage(req.MeetingID, message)
	utils.SuccessResponse(ctx, http.StatusCreated, message, "Message sent")
}

// Upload attaches a file to the chat
// @Summary Upload a chat file
// @Tags chat
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param meetingId formData string true "Meeting code"
// @Param file formData file true "Attachment"
// @Success 201 {object} utils.APIResponse
// @Router /api/chat/upload [post]
func (c *ChatController) Upload(ctx *gin.Context) {
	userID, ok := utils.GetUserID(ctx)
	if !ok {
		utils.RespondError(ctx, utils.ErrUnauthenticated)
		return
	}

	meetingID := ctx.PostForm("meetingId")
	if meetingID == "" {
		utils.RespondError(ctx, fmt.Errorf("meetingId is required: %w", utils.ErrBadRequest))
		return
	}

	header, err := ctx.FormFile("file")
	if err != nil {
		utils.RespondError(ctx, fmt.Errorf("file is required: %w", utils.ErrBadRequest))
		return
	}

	message, err := c.chatService.SendFileMessage(ctx.Request.Context(), meetingID, userID, header, ctx.PostForm("caption"))
	if err != nil {
		utils.RespondError(ctx, err)
		return
	}

	c.signalingService.BroadcastChatMessage(meetingID, message)
	utils.SuccessResponse(ctx, http.StatusCreated, message, "File uploaded")
}

// History pages the chat log
// @Summary Get chat history
// @Tags chat
// @Produce json
// @Security BearerAuth
// @Param meetingId path string true "Meeting code"
// @Param limit query int false "Page size"
// @Param before query string false "Message ID to page before"
// @Success 200 {object} utils.APIResponse
// @Router /api/chat/{meetingId} [get]
func (c *ChatController) History(ctx *gin.Context) {
	userID, ok := utils.GetUserID(ctx)
	if !ok {
		utils.RespondError(ctx, utils.ErrUnauthenticated)
		return
	}

	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "50"))

	var before *uuid.UUID
	if raw := ctx.Query("before"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			utils.RespondError(ctx, fmt.Errorf("invalid before cursor: %w", utils.ErrBadRequest))
			return
		}
		before = &parsed
	}

	messages, err := c.chatService.ListMessages(ctx.Request.Context(), ctx.Param("meetingId"), userID, limit, before)
	if err != nil {
		utils.RespondError(ctx, err)
		return
	}
	utils.SuccessResponse(ctx, http.StatusOK, messages, "")
}
