package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/openmined/drivesync/internal/localhttp/errors"
	"github.com/openmined/drivesync/internal/localhttp/services"
)

type HealthController struct {
	healthService *services.HealthService
}

func NewHealthController(healthService *services.HealthService) *HealthController {
	return &HealthController{
		healthService: healthService,
	}
}

func (c *HealthController) RegisterRoutes(router gin.IRouter) {
	router.GET("/health", c.getHealth)
}

func (c *HealthController) getHealth(ctx *gin.Context) {
	health, err := c.healthService.GetHealth(ctx)
	if err != nil {
		_ = ctx.Error(errors.Unavailable("health check failed", err))
		return
	}
	ctx.JSON(http.StatusOK, health)
}
