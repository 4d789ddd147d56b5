package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/crescent-api/internal/middleware"
	"github.com/noah-isme/crescent-api/internal/models"
)

func callerFromContext(c *gin.Context) models.Caller {
	return middleware.Caller(c)
}
