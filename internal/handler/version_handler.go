package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/signage-rotation-api/internal/dto"
	"github.com/noah-isme/signage-rotation-api/internal/middleware"
	"github.com/noah-isme/signage-rotation-api/internal/models"
	appErrors "github.com/noah-isme/signage-rotation-api/pkg/errors"
	"github.com/noah-isme/signage-rotation-api/pkg/response"
)

type versionService interface {
	ListVersions(ctx context.Context, query dto.VersionListQuery) ([]dto.VersionSummary, int, bool, error)
	GetVersion(ctx context.Context, versionID int64) (*dto.ScheduleVersionResponse, error)
	Rollback(ctx context.Context, req dto.RollbackRequest, actor string) (*dto.ScheduleVersionResponse, error)
	Pin(ctx context.Context, versionID int64, pinned bool, actor string) error
}

// VersionHandler exposes the append-only version ledger.
type VersionHandler struct {
	service versionService
}

// NewVersionHandler constructs handler.
func NewVersionHandler(svc versionService) *VersionHandler {
	return &VersionHandler{service: svc}
}

// List godoc
// @Summary List schedule versions
// @Tags Versions
// @Produce json
// @Param actor query string false "Filter by actor"
// @Param pinned query bool false "Only pinned versions"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /schedule/versions [get]
func (h *VersionHandler) List(c *gin.Context) {
	var query dto.VersionListQuery
	query.Actor = c.Query("actor")
	query.PinnedOnly = c.Query("pinned") == "true"
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		query.Page = page
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		query.PageSize = limit
	}

	versions, total, cacheHit, err := h.service.ListVersions(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}

	middleware.SetCacheHit(c, cacheHit)
	pagination := &models.Pagination{Page: query.Page, PageSize: query.PageSize, TotalCount: total}
	response.JSON(c, http.StatusOK, versions, pagination, middleware.ExtractMeta(c))
}

// Get godoc
// @Summary Get a schedule version
// @Tags Versions
// @Produce json
// @Param id path int true "Version ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /schedule/versions/{id} [get]
func (h *VersionHandler) Get(c *gin.Context) {
	versionID, err := parseVersionID(c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	version, err := h.service.GetVersion(c.Request.Context(), versionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, version, nil)
}

// Rollback godoc
// @Summary Roll back to a version
// @Description Commit an earlier version's document as a new head version
// @Tags Versions
// @Accept json
// @Produce json
// @Param id path int true "Version ID"
// @Param payload body dto.RollbackRequest false "Rollback options"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /schedule/versions/{id}/rollback [post]
func (h *VersionHandler) Rollback(c *gin.Context) {
	versionID, err := parseVersionID(c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	var req dto.RollbackRequest
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid rollback payload"))
			return
		}
	}
	req.VersionID = versionID

	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	version, err := h.service.Rollback(c.Request.Context(), req, claims.Email)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, version)
}

// Pin godoc
// @Summary Pin or unpin a version
// @Description Pinned versions survive retention pruning
// @Tags Versions
// @Accept json
// @Produce json
// @Param id path int true "Version ID"
// @Param payload body dto.PinRequest true "Pin flag"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /schedule/versions/{id}/pin [put]
func (h *VersionHandler) Pin(c *gin.Context) {
	versionID, err := parseVersionID(c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	var req dto.PinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid pin payload"))
		return
	}

	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.Pin(c.Request.Context(), versionID, req.Pinned, claims.Email); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func parseVersionID(raw string) (int64, error) {
	versionID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || versionID < 1 {
		return 0, appErrors.Clone(appErrors.ErrValidation, "version id must be a positive integer")
	}
	return versionID, nil
}
