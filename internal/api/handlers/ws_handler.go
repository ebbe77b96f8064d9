package handlers

import (
	"log/slog"

	gorilla "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/welldanyogia/mailarchive/internal/logger"
	"github.com/welldanyogia/mailarchive/internal/websocket"
)

// WSHandler upgrades requests to event-feed connections
type WSHandler struct {
	hub      *websocket.Hub
	upgrader gorilla.Upgrader
	logger   *slog.Logger
}

// NewWSHandler creates a new WSHandler
func NewWSHandler(hub *websocket.Hub, upgrader gorilla.Upgrader, log *slog.Logger) *WSHandler {
	return &WSHandler{hub: hub, upgrader: upgrader, logger: logger.OrDefault(log)}
}

// Serve handles GET /ws
func (h *WSHandler) Serve(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already answered the request
		h.logger.Debug("websocket upgrade failed", slog.Any("error", err))
		return nil
	}

	go websocket.NewClient(h.hub, conn, h.logger).Serve()
	return nil
}
