package controllers

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/confera-app/backend/internal/models"
	"github.com/confera-app/backend/internal/services"
	"github.com/confera-app/backend/internal/utils"
)

type MinutesController struct {
	minutesService *services.MinutesService
	// generateTimeout bounds the synchronous pipeline; the LLM call
	// dominates it.
	generateTimeout time.Duration
}

func NewMinutesController(minutesService *services.MinutesService, generateTimeout time.Duration) *MinutesController {
	return &MinutesController{
		minutesService:  minutesService,
		generateTimeout: generateTimeout,
	}
}

// Generate runs the minutes pipeline synchronously
// @Summary Generate meeting minutes (host only)
// @Tags meeting-minutes
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Meeting code"
// @Param request body models.GenerateMinutesRequest false "Options"
// @Success 200 {object} utils.APIResponse
// @Failure 409 {object} utils.ErrorEnvelope
// @Router /api/meeting-minutes/{id}/generate [post]
func (c *MinutesController) Generate(ctx *gin.Context) {
	userID, ok := utils.GetUserID(ctx)
	if !ok {
		utils.RespondError(ctx, utils.ErrUnauthenticated)
		return
	}

	var req models.GenerateMinutesRequest
	_ = ctx.ShouldBindJSON(&req)

	// Detach from the request context's default timeout; generation
	// legitimately runs close to a minute.
	genCtx, cancel := context.WithTimeout(context.Background(), c.generateTimeout)
	defer cancel()

	record, err := c.minutesService.Generate(genCtx, ctx.Param("id"), userID, req.SendEmail)
	if err != nil {
		utils.RespondError(ctx, err)
		return
	}
	utils.SuccessResponse(ctx, http.StatusOK, record, "Minutes generated")
}

// List pages the caller's minutes
// @Summary List minutes for my meetings
// @Tags meeting-minutes
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} utils.APIResponse
// @Router /api/meeting-minutes [get]
func (c *MinutesController) List(ctx *gin.Context) {
	userID, ok := utils.GetUserID(ctx)
	if !ok {
		utils.RespondError(ctx, utils.ErrUnauthenticated)
		return
	}

	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "20"))

	records, total, err := c.minutesService.ListForUser(ctx.Request.Context(), userID, page, limit)
	if err != nil {
		utils.RespondError(ctx, err)
		return
	}

	totalPages := 0
	if limit > 0 {
		totalPages = int(math.Ceil(float64(total) / float64(limit)))
	}
	utils.SuccessResponse(ctx, http.StatusOK, gin.H{
		"minutes": records,
		"pagination": utils.PaginationInfo{
			Page:       page,
			Limit:      limit,
			Total:      int(total),
			TotalPages: totalPages,
		},
	}, "")
}

// Get returns the minutes record
// @Summary Get meeting minutes
// @Tags meeting-minutes
// @Produce json
// @Security BearerAuth
// @Param id path string true "Meeting code"
// @Success 200 {object} utils.APIResponse
// @Failure 404 {object} utils.ErrorEnvelope
// @Router /api/meeting-minutes/{id} [get]
func (c *MinutesController) Get(ctx *gin.Context) {
	userID, ok := utils.GetUserID(ctx)
	if !ok {
		utils.RespondError(ctx, utils.ErrUnauthenticated)
		return
	}

	record, err := c.minutesService.Get(ctx.Request.Context(), ctx.Param("id"), userID)
	if err != nil {
		utils.RespondError(ctx, err)
		return
	}
	utils.SuccessResponse(ctx, http.StatusOK, record, "")
}

// ResendEmail re-queues the minutes email
// @Summary Resend the minutes email
// @Tags meeting-minutes
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Meeting code"
// @Param request body models.ResendMinutesEmailRequest false "Optional recipient override"
// @Success 200 {object} utils.APIResponse
// @Failure 412 {object} utils.ErrorEnvelope
// @Router /api/meeting-minutes/{id}/resend-email [post]
func (c *MinutesController) ResendEmail(ctx *gin.Context) {
	userID, ok := utils.GetUserID(ctx)
	if !ok {
		utils.RespondError(ctx, utils.ErrUnauthenticated)
		return
	}

	var req models.ResendMinutesEmailRequest
	// Body is optional; without it the attendee fanout runs again.
	_ = ctx.ShouldBindJSON(&req)

	record, err := c.minutesService.ResendEmail(ctx.Request.Context(), ctx.Param("id"), userID, req.Email)
	if err != nil {
		utils.RespondError(ctx, err)
		return
	}
	utils.SuccessResponse(ctx, http.StatusOK, record, "Minutes email queued")
}
