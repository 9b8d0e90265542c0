package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/signage-rotation-api/internal/dto"
	"github.com/noah-isme/signage-rotation-api/internal/middleware"
	appErrors "github.com/noah-isme/signage-rotation-api/pkg/errors"
)

type rotationControlsMock struct {
	current   dto.CurrentScreenResponse
	currErr   error
	skipResp  dto.CurrentScreenResponse
	skipErr   error
	skipActor string
}

func (m *rotationControlsMock) Current(ctx context.Context) (dto.CurrentScreenResponse, error) {
	return m.current, m.currErr
}

func (m *rotationControlsMock) Skip(ctx context.Context, actor string) (dto.CurrentScreenResponse, error) {
	m.skipActor = actor
	return m.skipResp, m.skipErr
}

func TestRotationHandlerCurrent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockPlayer := &rotationControlsMock{
		current: dto.CurrentScreenResponse{Screen: "welcome", VersionID: 3, ChangedAt: time.Now()},
	}
	handler := NewRotationHandler(mockPlayer)

	c, w := newGinContext(http.MethodGet, "/rotation/current", nil)
	handler.Current(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"screen":"welcome"`)
}

func TestRotationHandlerCurrentWithoutSchedule(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockPlayer := &rotationControlsMock{
		currErr: appErrors.Clone(appErrors.ErrNotFound, "no schedule committed"),
	}
	handler := NewRotationHandler(mockPlayer)

	c, w := newGinContext(http.MethodGet, "/rotation/current", nil)
	handler.Current(c)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRotationHandlerSkip(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockPlayer := &rotationControlsMock{
		skipResp: dto.CurrentScreenResponse{Screen: "next", VersionID: 3},
	}
	handler := NewRotationHandler(mockPlayer)

	c, w := newGinContext(http.MethodPost, "/rotation/skip", nil)
	c.Set(middleware.ContextUserKey, adminClaims())

	handler.Skip(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "admin@example.com", mockPlayer.skipActor)
	require.Contains(t, w.Body.String(), `"screen":"next"`)
}

func TestRotationHandlerSkipRequiresClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewRotationHandler(&rotationControlsMock{})

	c, w := newGinContext(http.MethodPost, "/rotation/skip", nil)
	handler.Skip(c)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRotationHandlerSkipSurfacesHalt(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockPlayer := &rotationControlsMock{
		skipErr: appErrors.Clone(appErrors.ErrNoEligibleScreen, "every step is gated"),
	}
	handler := NewRotationHandler(mockPlayer)

	c, w := newGinContext(http.MethodPost, "/rotation/skip", nil)
	c.Set(middleware.ContextUserKey, adminClaims())

	handler.Skip(c)
	require.Equal(t, http.StatusConflict, w.Code)
	require.Contains(t, w.Body.String(), appErrors.ErrNoEligibleScreen.Code)
}
