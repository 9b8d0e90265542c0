package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/signage-rotation-api/internal/middleware"
	"github.com/noah-isme/signage-rotation-api/internal/models"
)

// claimsFromContext returns the JWT claims stored by the auth middleware,
// or nil when the route ran without it.
func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, ok := c.Get(middleware.ContextUserKey)
	if !ok {
		return nil
	}
	claims, _ := value.(*models.JWTClaims)
	return claims
}
