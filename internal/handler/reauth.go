package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// POST /reauth, GET /reauthenticate
//
// Returns once the new session has been started; the QR code or the
// authenticated state follow asynchronously.
func (g *Gateway) Reauthenticate(c echo.Context) error {
	state, err := g.ctrl.Reauthenticate(c.Request().Context())
	if err != nil {
		g.log.Error().Err(err).Msg("re-authentication failed")
		return ErrorResponseWith(c, http.StatusInternalServerError, err.Error(), "REAUTH_FAILED", "",
			map[string]interface{}{"state": state})
	}

	g.log.Info().Str("state", string(state)).Msg("re-authentication started")
	return SuccessResponse(c, http.StatusOK, "Re-authentication started. Scan the new QR code at /qr", map[string]interface{}{
		"state": state,
	})
}
