package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/FLX-Software/flx-assets-2026-sub000/internal/middleware"
	"github.com/FLX-Software/flx-assets-2026-sub000/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	return middleware.ClaimsFromContext(c)
}

func actorFromContext(c *gin.Context) models.Actor {
	return claimsFromContext(c).Actor()
}

// queryInt returns 0 for missing or malformed values; services apply defaults.
func queryInt(c *gin.Context, key string) int {
	value, err := strconv.Atoi(c.Query(key))
	if err != nil || value < 0 {
		return 0
	}
	return value
}
