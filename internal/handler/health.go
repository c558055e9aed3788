package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// GET /health
func (g *Gateway) GetHealth(c echo.Context) error {
	snap := g.ctrl.Snapshot()
	connected := g.heartbeat.IsConnected()

	body := map[string]interface{}{
		"status":    "ok",
		"state":     snap.State,
		"connected": connected,
		"timestamp": g.now().UTC(),
		"since":     snap.Since.UTC(),
		"handle_id": snap.HandleID,
	}

	if age, ok := g.heartbeat.Age(); ok {
		body["heartbeat_age_seconds"] = age.Seconds()
	} else {
		body["heartbeat_age_seconds"] = nil
	}

	if connected && snap.Identity != nil {
		body["user"] = snap.Identity
	}

	if !connected {
		body["status"] = "unavailable"
		return c.JSON(http.StatusServiceUnavailable, body)
	}
	return c.JSON(http.StatusOK, body)
}
