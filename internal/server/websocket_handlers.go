package server

import (
	"context"
	"encoding/json"
	"log"

	"ripple/internal/models"
	"ripple/internal/notifications"
	"ripple/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// wsCommand is the inbound client protocol: subscribe to or unsubscribe from
// a target's engagement stream.
type wsCommand struct {
	Type   string           `json:"type"`
	Target models.TargetRef `json:"target"`
}

// wsEvent is the outbound envelope for non-engagement messages.
type wsEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// WebsocketHandler handles WebSocket connections for engagement updates.
func (s *Server) WebsocketHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		ctx := context.Background()
		wsLogger := observability.NewWSLogger(s.hub.Name())

		// Get userID from context locals (set by AuthRequired middleware)
		userIDVal := conn.Locals("userID")
		userID, ok := userIDVal.(string)
		if !ok || userID == "" {
			log.Printf("WebSocket: Unauthenticated connection attempt")
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"unauthorized"}`))
			_ = conn.Close()
			return
		}

		client, err := s.hub.Register(userID, conn)
		if err != nil {
			wsLogger.LogError(ctx, userID, err, "register")
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+err.Error()+`"}`))
			_ = conn.Close()
			return
		}
		wsLogger.LogConnect(ctx, userID)

		client.IncomingHandler = func(c *notifications.Client, message []byte) {
			var cmd wsCommand
			if err := json.Unmarshal(message, &cmd); err != nil {
				wsLogger.LogError(ctx, userID, err, "parse")
				return
			}

			switch cmd.Type {
			case "subscribe":
				if cmd.Target.ContentID == "" || !cmd.Target.ContentType.Valid() {
					s.sendEvent(c, "error", fiber.Map{"message": "invalid target"})
					return
				}
				s.hub.Subscribe(c, cmd.Target.Key())
				s.sendEvent(c, "subscribed", fiber.Map{"target": cmd.Target})

			case "unsubscribe":
				s.hub.Unsubscribe(c, cmd.Target.Key())
				s.sendEvent(c, "unsubscribed", fiber.Map{"target": cmd.Target})

			case "drain":
				// Client signals connectivity recovery; flush queued intents.
				go s.engagementSvc.DrainQueue(s.baseCtx)

			default:
				wsLogger.LogError(ctx, userID, errUnknownCommand(cmd.Type), "dispatch")
			}
		}

		s.sendEvent(client, "connected", fiber.Map{"user_id": userID})

		// Start write pump in a goroutine
		go client.WritePump()

		// Read pump runs in the main handler goroutine (blocking)
		client.ReadPump()

		wsLogger.LogDisconnect(ctx, userID, "read pump closed")
	})
}

func (s *Server) sendEvent(c *notifications.Client, eventType string, payload interface{}) {
	data, err := json.Marshal(wsEvent{Type: eventType, Payload: payload})
	if err != nil {
		log.Printf("marshal ws event %q: %v", eventType, err)
		return
	}
	c.TrySend(data)
}

type errUnknownCommand string

func (e errUnknownCommand) Error() string { return "unknown command type: " + string(e) }
