package controllers

import (
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/confera-app/backend/internal/cache"
	"github.com/confera-app/backend/internal/models"
	"github.com/confera-app/backend/internal/repository"
	"github.com/confera-app/backend/internal/services"
	"github.com/confera-app/backend/internal/utils"
)

type MeetingController struct {
	meetingService *services.MeetingService
	iceService     *services.ICEService
	presence       *cache.PresenceStore
	signaling      *services.SignalingService
	validator      *validator.Validate
}

func NewMeetingController(meetingService *services.MeetingService, iceService *services.ICEService, presence *cache.PresenceStore, signaling *services.SignalingService) *MeetingController {
	return &MeetingController{
		meetingService: meetingService,
		iceService:     iceService,
		presence:       presence,
		signaling:      signaling,
		validator:      validator.New(),
	}
}

// Create starts an instant meeting
// @Summary Create an instant meeting
// @Tags meetings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.CreateMeetingRequest true "Meeting"
// @Success 201 {object} utils.APIResponse
// @Router /api/meetings/create [post]
func (c *MeetingController) Create(ctx *gin.Context) {
	userID, ok := utils.GetUserID(ctx)
	if !ok {
		utils.RespondError(ctx, utils.ErrUnauthenticated)
		return
	}

	var req models.CreateMeetingRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.RespondError(ctx, fmt.Errorf("%s: %w", err.Error(), utils.ErrBadRequest))
		return
	}
	if err := c.validator.Struct(&req); err != nil {
		utils.RespondError(ctx, fmt.Errorf("%s: %w", err.Error(), utils.ErrBadRequest))
		return
	}

	meeting, err := c.meetingService.CreateMeeting(ctx.Request.Context(), userID, &req)
	if err != nil {
		utils.RespondError(ctx, err)
		return
	}
	utils.SuccessResponse(ctx, http.StatusCreated, meeting, "Meeting created")
}

// Schedule creates a future meeting
// @Summary Schedule a meeting
// @Tags meetings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.ScheduleMeetingRequest true "Meeting"
// @Success 201 {object} utils.APIResponse
// @Router /api/meetings/schedule [post]
func (c *MeetingController) Schedule(ctx *gin.Context) {
	userID, ok := utils.GetUserID(ctx)
	if !ok {
		utils.RespondError(ctx, utils.ErrUnauthenticated)
		return
	}

	var req models.ScheduleMeetingRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.RespondError(ctx, fmt.Errorf("%s: %w", err.Error(), utils.ErrBadRequest))
		return
	}
	if err := c.validator.Struct(&req); err != nil {
		utils.RespondError(ctx, fmt.Errorf("%s: %w", err.Error(), utils.ErrBadRequest))
		return
	}

	meeting, err := c.meetingService.ScheduleMeeting(ctx.Request.Context(), userID, &req)
	if err != nil {
		utils.RespondError(ctx, err)
		return
	}
	utils.SuccessResponse(ctx, http.StatusCreated, meeting, "Meeting scheduled")
}

// Get fetches one meeting by public code
// @Summary Get a meeting
// @Tags meetings
// @Produce json
// @Security BearerAuth
// @Param id path string true "Meeting code"
// @Success 200 {object} utils.APIResponse
// @Failure 404 {object} utils.ErrorEnvelope
// @Router /api/meetings/{id} [get]
func (c *MeetingController) Get(ctx *gin.Context) {
	meeting, err := c.meetingService.GetMeeting(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		utils.RespondError(ctx, err)
		return
	}
	utils.SuccessResponse(ctx, http.StatusOK, meeting, "")
}

// List pages the caller's meetings
// @Summary List my meetings
// @Tags meetings
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Param status query string false "Status filter"
// @Success 200 {object} utils.APIResponse
// @Router /api/meetings/my-meetings [get]
func (c *MeetingController) List(ctx *gin.Context) {
	userID, ok := utils.GetUserID(ctx)
	if !ok {
		utils.RespondError(ctx, utils.ErrUnauthenticated)
		return
	}

	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "20"))
	filter := repository.ListFilter{
		Status: models.MeetingStatus(ctx.Query("status")),
		Search: ctx.Query("search"),
		Page:   page,
		Limit:  limit,
	}

	meetings, total, err := c.meetingService.ListMeetings(ctx.Request.Context(), userID, filter)
	if err != nil {
		utils.RespondError(ctx, err)
		return
	}

	totalPages := 0
	if limit > 0 {
		totalPages = int(math.Ceil(float64(total) / float64(limit)))
	}
	utils.SuccessResponse(ctx, http.StatusOK, gin.H{
		"meetings": meetings,
		"pagination": utils.PaginationInfo{
			Page:       page,
			Limit:      limit,
			Total:      int(total),
			TotalPages: totalPages,
		},
	}, "")
}

// Upcoming lists the next scheduled meetings
// @Summary List upcoming meetings
// @Tags meetings
// @Produce json
// @Security BearerAuth
// @Success 200 {object} utils.APIResponse
// @Router /api/meetings/upcoming [get]
func (c *MeetingController) Upcoming(ctx *gin.Context) {
	userID, ok := utils.GetUserID(ctx)
	if !ok {
		utils.RespondError(ctx, utils.ErrUnauthenticated)
		return
	}

	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "10"))
	meetings, err := c.meetingService.ListUpcoming(ctx.Request.Context(), userID, limit)
	if err != nil {
		utils.RespondError(ctx, err)
		return
	}
	utils.SuccessResponse(ctx, http.StatusOK, meetings, "")
}

// Join admits the caller to a meeting
// @Summary Join a meeting
// @Tags meetings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Meeting code"
// @Param request body models.JoinMeetingRequest false "Join request"
// @Success 200 {object} utils.APIResponse
// @Failure 410 {object} utils.ErrorEnvelope
// @Failure 429 {object} utils.ErrorEnvelope
// @Router /api/meetings/{id}/join [post]
func (c *MeetingController) Join(ctx *gin.Context) {
	userID, ok := utils.GetUserID(ctx)
	if !ok {
		utils.RespondError(ctx, utils.ErrUnauthenticated)
		return
	}

	var req models.JoinMeetingRequest
	// Body is optional; password-less meetings send none.
	_ = ctx.ShouldBindJSON(&req)

	meeting, err := c.meetingService.JoinMeeting(ctx.Request.Context(), ctx.Param("id"), userID, req.Password)
	if err != nil {
		utils.RespondError(ctx, err)
		return
	}
	utils.SuccessResponse(ctx, http.StatusOK, meeting, "Joined meeting")
}

// Leave marks the caller as left
// @Summary Leave a meeting
// @Tags meetings
// @Produce json
// @Security BearerAuth
// @Param id path string true "Meeting code"
// @Success 200 {object} utils.APIResponse
// @Router /api/meetings/{id}/leave [post]
func (c *MeetingController) Leave(ctx *gin.Context) {
	userID, ok := utils.GetUserID(ctx)
	if !ok {
		utils.RespondError(ctx, utils.ErrUnauthenticated)
		return
	}

	meeting, err := c.meetingService.LeaveMeeting(ctx.Request.Context(), ctx.Param("id"), userID)
	if err != nil {
		utils.RespondError(ctx, err)
		return
	}
	utils.SuccessResponse(ctx, http.StatusOK, meeting, "Left meeting")
}

// End ends an ongoing meeting
// @Summary End a meeting (host only)
// @Tags meetings
// @Produce json
// @Security BearerAuth
// @Param id path string true "Meeting code"
// @Success 200 {object} utils.APIResponse
// @Failure 403 {object} utils.ErrorEnvelope
// @Router /api/meetings/{id}/end [post]
func (c *MeetingController) End(ctx *gin.Context) {
	userID, ok := utils.GetUserID(ctx)
	if !ok {
		utils.RespondError(ctx, utils.ErrUnauthenticated)
		return
	}

	meeting, err := c.meetingService.EndMeeting(ctx.Request.Context(), ctx.Param("id"), userID)
	if err != nil {
		utils.RespondError(ctx, err)
		return
	}
	c.signaling.NotifyMeetingEnded(meeting.MeetingID)
	utils.SuccessResponse(ctx, http.StatusOK, meeting, "Meeting ended")
}

// Cancel cancels a scheduled meeting
// @Summary Cancel a scheduled meeting (host only)
// @Tags meetings
// @Produce json
// @Security BearerAuth
// @Param id path string true "Meeting code"
// @Success 200 {object} utils.APIResponse
// @Failure 412 {object} utils.ErrorEnvelope
// @Router /api/meetings/{id}/cancel [post]
func (c *MeetingController) Cancel(ctx *gin.Context) {
	userID, ok := utils.GetUserID(ctx)
	if !ok {
		utils.RespondError(ctx, utils.ErrUnauthenticated)
		return
	}

	meeting, err := c.meetingService.CancelMeeting(ctx.Request.Context(), ctx.Param("id"), userID)
	if err != nil {
		utils.RespondError(ctx, err)
		return
	}
	utils.SuccessResponse(ctx, http.StatusOK, meeting, "Meeting cancelled")
}

// UpdateSettings merges settings changes
// @Summary Update meeting settings (host only)
// @Tags meetings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Meeting code"
// @Param request body models.UpdateSettingsRequest true "Settings"
// @Success 200 {object} utils.APIResponse
// @Router /api/meetings/{id}/settings [put]
func (c *MeetingController) UpdateSettings(ctx *gin.Context) {
	userID, ok := utils.GetUserID(ctx)
	if !ok {
		utils.RespondError(ctx, utils.ErrUnauthenticated)
		return
	}

	var req models.UpdateSettingsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.RespondError(ctx, fmt.Errorf("%s: %w", err.Error(), utils.ErrBadRequest))
		return
	}
	if err := c.validator.Struct(&req); err != nil {
		utils.RespondError(ctx, fmt.Errorf("%s: %w", err.Error(), utils.ErrBadRequest))
		return
	}

	meeting, err := c.meetingService.UpdateSettings(ctx.Request.Context(), ctx.Param("id"), userID, &req)
	if err != nil {
		utils.RespondError(ctx, err)
		return
	}
	utils.SuccessResponse(ctx, http.StatusOK, meeting, "Settings updated")
}

// AppendTranscripts stores a transcript batch
// @Summary Append transcript segments
// @Tags meetings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Meeting code"
// @Param request body models.AppendTranscriptsRequest true "Transcript batch"
// @Success 200 {object} utils.APIResponse
// @Router /api/meetings/{id}/transcripts [post]
func (c *MeetingController) AppendTranscripts(ctx *gin.Context) {
	userID, ok := utils.GetUserID(ctx)
	if !ok {
		utils.RespondError(ctx, utils.ErrUnauthenticated)
		return
	}

	var req models.AppendTranscriptsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.RespondError(ctx, fmt.Errorf("%s: %w", err.Error(), utils.ErrBadRequest))
		return
	}
	if err := c.validator.Struct(&req); err != nil {
		utils.RespondError(ctx, fmt.Errorf("%s: %w", err.Error(), utils.ErrBadRequest))
		return
	}

	stored, err := c.meetingService.AppendTranscripts(ctx.Request.Context(), ctx.Param("id"), userID, &req)
	if err != nil {
		utils.RespondError(ctx, err)
		return
	}
	utils.SuccessResponse(ctx, http.StatusOK, gin.H{"stored": stored}, "Transcripts stored")
}

// Transcripts returns the ordered transcript
// @Summary Get meeting transcripts
// @Tags meetings
// @Produce json
// @Security BearerAuth
// @Param id path string true "Meeting code"
// @Success 200 {object} utils.APIResponse
// @Router /api/meetings/{id}/transcripts [get]
func (c *MeetingController) Transcripts(ctx *gin.Context) {
	userID, ok := utils.GetUserID(ctx)
	if !ok {
		utils.RespondError(ctx, utils.ErrUnauthenticated)
		return
	}

	segments, err := c.meetingService.GetTranscripts(ctx.Request.Context(), ctx.Param("id"), userID)
	if err != nil {
		utils.RespondError(ctx, err)
		return
	}
	utils.SuccessResponse(ctx, http.StatusOK, segments, "")
}

// Online lists currently connected participants
// @Summary Get online participants
// @Tags meetings
// @Produce json
// @Security BearerAuth
// @Param id path string true "Meeting code"
// @Success 200 {object} utils.APIResponse
// @Router /api/meetings/{id}/online [get]
func (c *MeetingController) Online(ctx *gin.Context) {
	utils.SuccessResponse(ctx, http.StatusOK, c.presence.GetOnlineUsers(ctx.Param("id")), "")
}

// ICEConfig returns STUN/TURN servers
// @Summary Get ICE server configuration
// @Tags meetings
// @Produce json
// @Security BearerAuth
// @Success 200 {object} utils.APIResponse
// @Router /api/meetings/ice-config [get]
func (c *MeetingController) ICEConfig(ctx *gin.Context) {
	utils.SuccessResponse(ctx, http.StatusOK, gin.H{"iceServers": c.iceService.Servers()}, "")
}
