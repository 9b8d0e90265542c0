package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/signage-rotation-api/internal/dto"
	appErrors "github.com/noah-isme/signage-rotation-api/pkg/errors"
	"github.com/noah-isme/signage-rotation-api/pkg/response"
)

type rotationControls interface {
	Current(ctx context.Context) (dto.CurrentScreenResponse, error)
	Skip(ctx context.Context, actor string) (dto.CurrentScreenResponse, error)
}

// RotationHandler exposes the live player plane.
type RotationHandler struct {
	player rotationControls
}

// NewRotationHandler constructs handler.
func NewRotationHandler(player rotationControls) *RotationHandler {
	return &RotationHandler{player: player}
}

// Current godoc
// @Summary Current screen
// @Description Return the screen the rotation is showing right now
// @Tags Rotation
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /rotation/current [get]
func (h *RotationHandler) Current(c *gin.Context) {
	current, err := h.player.Current(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, current, nil)
}

// Skip godoc
// @Summary Skip to the next screen
// @Description Advance the rotation out of cadence and restart the dwell timer
// @Tags Rotation
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /rotation/skip [post]
func (h *RotationHandler) Skip(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	current, err := h.player.Skip(c.Request.Context(), claims.Email)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, current, nil)
}
