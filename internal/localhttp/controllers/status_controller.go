package controllers

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/openmined/drivesync/internal/localhttp/errors"
	"github.com/openmined/drivesync/internal/localhttp/services"
)

// StatusController serves the agent overview and the path map.
type StatusController struct {
	statusService *services.StatusService
}

func NewStatusController(statusService *services.StatusService) *StatusController {
	return &StatusController{
		statusService: statusService,
	}
}

func (c *StatusController) RegisterRoutes(router gin.IRouter) {
	router.GET("/status", c.getStatus)
	router.GET("/paths", c.getPaths)
}

// getStatus returns the overview, or the status of one path when the path
// query parameter is set.
func (c *StatusController) getStatus(ctx *gin.Context) {
	if path := ctx.Query("path"); path != "" {
		st, err := c.statusService.GetPathStatus(path)
		if stderrors.Is(err, services.ErrUnknownPath) {
			_ = ctx.Error(errors.NotFound("no sync status for path", nil).WithDetails(map[string]any{"path": path}))
			return
		} else if err != nil {
			_ = ctx.Error(errors.Internal("", err))
			return
		}
		ctx.JSON(http.StatusOK, st)
		return
	}

	status, err := c.statusService.GetStatus(ctx)
	if err != nil {
		_ = ctx.Error(errors.Internal("failed to read status", err))
		return
	}
	ctx.JSON(http.StatusOK, status)
}

func (c *StatusController) getPaths(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, c.statusService.GetPaths())
}
