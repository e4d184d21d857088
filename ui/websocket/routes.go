package websocket

import (
	"encoding/json"
	"time"

	"github.com/AzielCF/az-wap-broadcast/sessions/domain/session"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
)

const textMessage = websocket.TextMessage

// SessionLister serves the FETCH_SESSIONS request of a connected UI.
type SessionLister interface {
	List(owner string, statuses ...session.Status) []*session.Session
}

func RegisterRoutes(app fiber.Router, hub *Hub, sessions SessionLister) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return c.SendStatus(fiber.StatusUpgradeRequired)
	})

	app.Get("/ws", websocket.New(func(ws *websocket.Conn) {
		owner, _ := ws.Locals("username").(string)
		hub.add(ws, owner)
		defer func() {
			hub.remove(ws)
			_ = ws.Close()
		}()

		for {
			messageType, message, err := ws.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logrus.Debugf("[WS] Read error: %v", err)
				}
				return
			}
			if messageType != websocket.TextMessage {
				logrus.Debugf("[WS] Unsupported message type: %d", messageType)
				continue
			}

			var request BroadcastMessage
			if err := json.Unmarshal(message, &request); err != nil {
				logrus.Debugf("[WS] Unmarshal error: %v", err)
				continue
			}
			if request.Code == "FETCH_SESSIONS" && sessions != nil {
				hub.enqueue(BroadcastMessage{
					Code:    "LIST_SESSIONS",
					Message: "Sessions found",
					Owner:   owner,
					Result:  sessions.List(owner),
					At:      time.Now().UTC(),
				})
			}
		}
	}))
}
