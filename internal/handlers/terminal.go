// Package handlers wires the Broker, Execution Engine, and Workspace
// Manager to Fiber routes.
package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/yenjordan/terminus/internal/broker"
)

// TerminalHandler exposes the WebSocket PTY endpoint.
type TerminalHandler struct {
	broker *broker.Broker
}

func NewTerminalHandler(b *broker.Broker) *TerminalHandler {
	return &TerminalHandler{broker: b}
}

// RegisterRoutes mounts GET /api/terminal/ws/:session_id, matching the
// connection URL from the wire contract.
func (h *TerminalHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/terminal/ws/:session_id", h.handleUpgrade)
}

// handleUpgrade is the ACCEPT step: it extracts session_id from the path
// and the bearer token from the query string, rejecting the connection
// outright if either is missing, then hands off to the websocket upgrade.
func (h *TerminalHandler) handleUpgrade(c *fiber.Ctx) error {
	sessionID := c.Params("session_id")
	token := c.Query("token")
	if sessionID == "" || token == "" {
		return fiber.NewError(fiber.StatusBadRequest, "session_id and token are required")
	}

	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	return websocket.New(func(conn *websocket.Conn) {
		h.broker.Serve(conn, sessionID, token)
	})(c)
}
