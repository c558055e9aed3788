package handler

import (
	"net/http"

	"gowa-bridge/internal/ws"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// NewUpgrader checks the Origin header against allowed ("*" allows all).
func NewUpgrader(allowed []string) websocket.Upgrader {
	allowAll := len(allowed) == 0
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		set[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowAll || origin == "" || set[origin]
		},
	}
}

// WebSocketHandler serves /ws: transitions and QR codes are pushed as
// they happen.
func WebSocketHandler(hub *ws.Hub, upgrader websocket.Upgrader, log zerolog.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			log.Warn().Err(err).Msg("ws upgrade failed")
			return nil
		}

		client := ws.NewClient(hub, conn)
		if !hub.Register(client) {
			_ = conn.Close()
			return nil
		}

		go client.WritePump()
		go client.ReadPump()

		return nil
	}
}
