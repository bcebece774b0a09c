package server

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/calendarmcp/internal/events"
	"github.com/teemow/calendarmcp/internal/logging"
)

// notificationMethod is the MCP logging notification clients already display.
const notificationMethod = "notifications/message"

// NotificationSender delivers a notification to one MCP client session.
// *mcpserver.MCPServer satisfies it.
type NotificationSender interface {
	SendNotificationToSpecificClient(sessionID string, method string, params map[string]any) error
}

var _ NotificationSender = (*mcpserver.MCPServer)(nil)

// MCPNotifier forwards authorization events to the MCP client session with
// the same id. Sessions whose id does not belong to a connected MCP client
// are skipped.
type MCPNotifier struct {
	broker *events.Broker
	sender NotificationSender
	logger *slog.Logger
}

// NewMCPNotifier creates a notifier reading from broker.
func NewMCPNotifier(broker *events.Broker, sender NotificationSender, logger *slog.Logger) *MCPNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &MCPNotifier{broker: broker, sender: sender, logger: logger}
}

// Run forwards events until ctx is done or the broker closes.
func (n *MCPNotifier) Run(ctx context.Context) {
	ch, cancel := n.broker.SubscribeAll()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			n.forward(ev)
		}
	}
}

func (n *MCPNotifier) forward(ev events.Event) {
	level := mcp.LoggingLevelInfo
	if ev.Type == events.TypeAuthFailed {
		level = mcp.LoggingLevelWarning
	}

	data := map[string]any{
		"type":       string(ev.Type),
		"session_id": ev.SessionID,
		"timestamp":  ev.Timestamp,
	}
	if ev.Error != "" {
		data["error"] = ev.Error
	}

	err := n.sender.SendNotificationToSpecificClient(ev.SessionID, notificationMethod, map[string]any{
		"level":  level,
		"logger": "auth",
		"data":   data,
	})
	if err != nil {
		n.logger.Debug("Event not forwarded to MCP client",
			logging.Session(ev.SessionID), "type", ev.Type, logging.Err(err))
	}
}
