package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/signage-rotation-api/internal/dto"
	appErrors "github.com/noah-isme/signage-rotation-api/pkg/errors"
	"github.com/noah-isme/signage-rotation-api/pkg/response"
)

type scheduleService interface {
	GetActive(ctx context.Context) (*dto.ScheduleVersionResponse, error)
	Propose(ctx context.Context, req dto.ProposeScheduleRequest, actor string) (*dto.ScheduleVersionResponse, error)
	Preview(ctx context.Context, req dto.PreviewRequest, now time.Time) (*dto.PreviewResponse, error)
}

// ScheduleHandler manages the schedule document endpoints.
type ScheduleHandler struct {
	service scheduleService
}

// NewScheduleHandler constructs handler.
func NewScheduleHandler(svc scheduleService) *ScheduleHandler {
	return &ScheduleHandler{service: svc}
}

// GetActive godoc
// @Summary Active schedule
// @Description Return the currently active schedule version with its document
// @Tags Schedule
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /schedule [get]
func (h *ScheduleHandler) GetActive(c *gin.Context) {
	version, err := h.service.GetActive(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, version, nil)
}

// Propose godoc
// @Summary Propose a schedule document
// @Description Migrate and validate the document; on success it becomes the active version
// @Tags Schedule
// @Accept json
// @Produce json
// @Param payload body dto.ProposeScheduleRequest true "Schedule document"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /schedule [put]
func (h *ScheduleHandler) Propose(c *gin.Context) {
	var req dto.ProposeScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid schedule payload"))
		return
	}

	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	version, err := h.service.Propose(c.Request.Context(), req, claims.Email)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, version)
}

// Export godoc
// @Summary Download the active document
// @Description Serve the active schedule document as a JSON attachment
// @Tags Schedule
// @Produce json
// @Success 200 {string} string "attachment"
// @Failure 404 {object} response.Envelope
// @Router /schedule/export [get]
func (h *ScheduleHandler) Export(c *gin.Context) {
	version, err := h.service.GetActive(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	filename := fmt.Sprintf("schedule_v%d.json", version.VersionID)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/json", version.Document)
}

// Preview godoc
// @Summary Preview a rotation
// @Description Simulate the next screens for the active or an inline document without touching live state
// @Tags Schedule
// @Accept json
// @Produce json
// @Param payload body dto.PreviewRequest true "Preview parameters"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /schedule/preview [post]
func (h *ScheduleHandler) Preview(c *gin.Context) {
	var req dto.PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid preview payload"))
		return
	}

	preview, err := h.service.Preview(c.Request.Context(), req, time.Now())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, preview, nil)
}
