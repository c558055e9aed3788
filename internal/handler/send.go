package handler

import (
	"net/http"
	"strings"

	"gowa-bridge/internal/helper"

	"github.com/labstack/echo/v4"
)

// SendMessageRequest accepts the recipient as "to" or "chatId".
type SendMessageRequest struct {
	To      string `json:"to" form:"to"`
	ChatID  string `json:"chatId" form:"chatId"`
	Message string `json:"message" form:"message"`
}

func (r SendMessageRequest) target() string {
	if t := strings.TrimSpace(r.To); t != "" {
		return t
	}
	return strings.TrimSpace(r.ChatID)
}

// POST /send
func (g *Gateway) SendMessage(c echo.Context) error {
	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	target := req.target()
	if target == "" || strings.TrimSpace(req.Message) == "" {
		return ErrorResponse(c, http.StatusBadRequest, "Field 'to' (or 'chatId') and 'message' are required", "VALIDATION_ERROR", "")
	}

	jid, err := helper.ParseTarget(target, g.cfg.DefaultCountryCode)
	if err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "Invalid recipient", "INVALID_TARGET", err.Error())
	}

	ctx, cancel := g.providerContext(c)
	defer cancel()

	res, err := g.ctrl.SendText(ctx, jid.String(), req.Message)
	if err != nil {
		return g.lifecycleError(c, err)
	}

	return SuccessResponse(c, http.StatusOK, "Message sent", map[string]interface{}{
		"to":         target,
		"recipient":  res.Recipient,
		"message":    req.Message,
		"message_id": res.MessageID,
		"timestamp":  res.Timestamp,
	})
}
