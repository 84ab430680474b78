package controllers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/confera-app/backend/internal/services"
	"github.com/confera-app/backend/internal/utils"
)

type RecordingController struct {
	recordingService *services.RecordingService
}

func NewRecordingController(recordingService *services.RecordingService) *RecordingController {
	return &RecordingController{recordingService: recordingService}
}

// Start begins recording
// @Summary Start recording
// @Tags recordings
// @Produce json
// @Security BearerAuth
// @Param id path string true "Meeting code"
// @Success 200 {object} utils.APIResponse
// @Router /api/recordings/{id}/start [post]
func (c *RecordingController) Start(ctx *gin.Context) {
	userID, ok := utils.GetUserID(ctx)
	if !ok {
		utils.RespondError(ctx, utils.ErrUnauthenticated)
		return
	}

	meeting, err := c.recordingService.Start(ctx.Request.Context(), ctx.Param("id"), userID)
	if err != nil {
		utils.RespondError(ctx, err)
		return
	}
	utils.SuccessResponse(ctx, http.StatusOK, meeting.Recording, "Recording started")
}

// Stop halts recording
// @Summary Stop recording
// @Tags recordings
// @Produce json
// @Security BearerAuth
// @Param id path string true "Meeting code"
// @Success 200 {object} utils.APIResponse
// @Router /api/recordings/{id}/stop [post]
func (c *RecordingController) Stop(ctx *gin.Context) {
	userID, ok := utils.GetUserID(ctx)
	if !ok {
		utils.RespondError(ctx, utils.ErrUnauthenticated)
		return
	}

	meeting, err := c.recordingService.Stop(ctx.Request.Context(), ctx.Param("id"), userID)
	if err != nil {
		utils.RespondError(ctx, err)
		return
	}
	utils.SuccessResponse(ctx, http.StatusOK, meeting.Recording, "Recording stopped")
}

// Upload stores a finished recording
// @Summary Upload a recording file
// @Tags recordings
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param id path string true "Meeting code"
// @Param file formData file true "Recording"
// @Success 201 {object} utils.APIResponse
// @Router /api/recordings/{id}/upload [post]
func (c *RecordingController) Upload(ctx *gin.Context) {
	userID, ok := utils.GetUserID(ctx)
	if !ok {
		utils.RespondError(ctx, utils.ErrUnauthenticated)
		return
	}

	header, err := ctx.FormFile("file")
	if err != nil {
		utils.RespondError(ctx, fmt.Errorf("file is required: %w", utils.ErrBadRequest))
		return
	}

	recording, err := c.recordingService.Upload(ctx.Request.Context(), ctx.Param("id"), userID, header)
	if err != nil {
		utils.RespondError(ctx, err)
		return
	}
	utils.SuccessResponse(ctx, http.StatusCreated, recording, "Recording uploaded")
}

// MyRecordings lists the caller's recordings
// @Summary List my recordings
// @Tags recordings
// @Produce json
// @Security BearerAuth
// @Success 200 {object} utils.APIResponse
// @Router /api/recordings/my-recordings [get]
func (c *RecordingController) MyRecordings(ctx *gin.Context) {
	userID, ok := utils.GetUserID(ctx)
	if !ok {
		utils.RespondError(ctx, utils.ErrUnauthenticated)
		return
	}

	recordings, err := c.recordingService.ListForUser(ctx.Request.Context(), userID)
	if err != nil {
		utils.RespondError(ctx, err)
		return
	}
	utils.SuccessResponse(ctx, http.StatusOK, recordings, "")
}
