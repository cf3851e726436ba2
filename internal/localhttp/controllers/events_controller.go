package controllers

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/openmined/drivesync/internal/localhttp/errors"
	"github.com/openmined/drivesync/internal/localhttp/services"
)

const (
	writeTimeout   = 10 * time.Second
	shutdownReason = "shutdown"
)

// EventsController streams sync status changes over a websocket.
type EventsController struct {
	statusService *services.StatusService
}

func NewEventsController(statusService *services.StatusService) *EventsController {
	return &EventsController{
		statusService: statusService,
	}
}

func (c *EventsController) RegisterRoutes(router gin.IRouter) {
	router.GET("/events", c.stream)
}

func (c *EventsController) stream(ctx *gin.Context) {
	// subscribed before the handshake completes so no change is missed
	events := c.statusService.Subscribe()
	defer c.statusService.Unsubscribe(events)

	conn, err := websocket.Accept(ctx.Writer, ctx.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // bearer token auth already ran
	})
	if err != nil {
		_ = ctx.Error(errors.BadRequest("websocket accept failed", err))
		return
	}
	defer conn.CloseNow()

	// the stream is write only; CloseRead handles pings and notices the peer leaving
	streamCtx := conn.CloseRead(ctx.Request.Context())
	slog.Debug("events stream open", "ip", ctx.ClientIP())

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, shutdownReason)
				return
			}
			writeCtx, cancel := context.WithTimeout(streamCtx, writeTimeout)
			err := wsjson.Write(writeCtx, conn, ev)
			cancel()
			if err != nil {
				slog.Debug("events stream write", "error", err)
				return
			}
		case <-streamCtx.Done():
			slog.Debug("events stream closed", "ip", ctx.ClientIP())
			return
		}
	}
}
