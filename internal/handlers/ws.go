package handlers

import (
	"context"
	"time"

	"chat-backend/internal/models"
	"chat-backend/internal/realtime"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

type WSOptions struct {
	ReadLimit    int64
	PingInterval time.Duration
	PongWait     time.Duration
}

// WSUpgradeMiddleware upgrades the connection to WebSocket
func WSUpgradeMiddleware(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("allowed", true)
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// WebSocketHandler admits the authenticated connection into the room graph
// and dispatches its frames until it closes.
func WebSocketHandler(gw *realtime.Gateway, engine *realtime.Engine, opts WSOptions, log *zap.Logger) fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		user, ok := c.Locals(localUser).(*models.User)
		if !ok {
			_ = c.Close()
			return
		}

		if opts.ReadLimit > 0 {
			c.SetReadLimit(opts.ReadLimit)
		}
		_ = c.SetReadDeadline(time.Now().Add(opts.PongWait))
		c.SetPongHandler(func(string) error {
			return c.SetReadDeadline(time.Now().Add(opts.PongWait))
		})

		session := gw.Admit(c, user)
		defer gw.Release(session)

		done := make(chan struct{})
		defer close(done)
		go keepalive(c, opts.PingInterval, done)

		for {
			msgType, msg, err := c.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
					log.Debug("websocket closed",
						zap.String("session_id", session.ID()),
						zap.String("user_id", user.ID),
						zap.Error(err))
				}
				return
			}
			if msgType != websocket.TextMessage {
				continue
			}
			engine.Dispatch(context.Background(), session, msg)
		}
	})
}

// keepalive pings the client until done is closed. A missing pong lets the
// read deadline expire, which ends the read loop.
func keepalive(c *websocket.Conn, interval time.Duration, done <-chan struct{}) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(interval/2)); err != nil {
				return
			}
		}
	}
}
