package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

type connectionEventResponse struct {
	ID         int64  `json:"id"`
	HandleID   string `json:"handle_id"`
	Generation int64  `json:"generation"`
	From       string `json:"from"`
	To         string `json:"to"`
	Cause      string `json:"cause"`
	Detail     string `json:"detail,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// GET /events?limit=N
func (g *Gateway) GetEvents(c echo.Context) error {
	if g.events == nil {
		return ErrorResponse(c, http.StatusNotFound, "Event history is not enabled", "EVENTS_DISABLED", "Set APP_DATABASE_URL to persist connection events")
	}

	limit := 100
	if l := c.QueryParam("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			return ErrorResponse(c, http.StatusBadRequest, "Invalid limit", "VALIDATION_ERROR", "limit must be a positive integer")
		}
		limit = n
	}

	events, err := g.events.Recent(c.Request().Context(), limit)
	if err != nil {
		g.log.Error().Err(err).Msg("failed to load connection events")
		return ErrorResponse(c, http.StatusInternalServerError, "Failed to load events", "DATABASE_ERROR", err.Error())
	}

	out := make([]connectionEventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, connectionEventResponse{
			ID:         ev.ID,
			HandleID:   ev.HandleID,
			Generation: ev.Generation,
			From:       ev.FromState,
			To:         ev.ToState,
			Cause:      ev.Cause,
			Detail:     ev.DetailString(),
			CreatedAt:  ev.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	return SuccessResponse(c, http.StatusOK, "", map[string]interface{}{
		"count":  len(out),
		"events": out,
	})
}
