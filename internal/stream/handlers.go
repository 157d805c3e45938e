package stream

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// InitialFunc returns the message a new subscriber receives before any
// broadcast, or false when there is nothing to send.
type InitialFunc func(sessionID string) ([]byte, bool)

// RegisterRoutes mounts /ws/:sessionID. guards run before the upgrade and can
// reject the subscriber, e.g. to check that the caller owns the session.
func RegisterRoutes(r fiber.Router, hub *Hub, initial InitialFunc, guards ...fiber.Handler) {
	r.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return c.Next()
	})

	handlers := make([]fiber.Handler, 0, len(guards)+1)
	handlers = append(handlers, guards...)
	handlers = append(handlers, websocket.New(func(c *websocket.Conn) {
		sessionID := c.Params("sessionID")
		client := hub.Register(sessionID)
		defer hub.Unregister(client)

		done := make(chan struct{})
		go func() {
			defer close(done)
			if initial != nil {
				if msg, ok := initial(sessionID); ok {
					if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
						return
					}
				}
			}
			for msg := range client.Send {
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			}
			// Send is closed: the session ended or the reader gave up.
			_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
			_ = c.Close()
		}()

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}
		hub.Unregister(client)
		<-done
	}))

	r.Get("/ws/:sessionID", handlers...)
}
