package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gowa-bridge/internal/model"
	"gowa-bridge/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Lifecycle is the controller surface the gateway maps requests onto.
type Lifecycle interface {
	State() model.ConnectionState
	Snapshot() service.Status
	ListGroups(ctx context.Context) ([]model.GroupSummary, error)
	SendText(ctx context.Context, target, body string) (*model.SendResult, error)
	Reauthenticate(ctx context.Context) (model.ConnectionState, error)
}

// Liveness is what /health needs from the heartbeat monitor.
type Liveness interface {
	IsConnected() bool
	Age() (time.Duration, bool)
}

type GatewayConfig struct {
	ServiceName        string
	Version            string
	ReauthURL          string
	DefaultCountryCode string
	ProviderTimeout    time.Duration
}

// Gateway holds the HTTP handlers. Every handler is a thin mapping onto
// the lifecycle controller.
type Gateway struct {
	ctrl      Lifecycle
	heartbeat Liveness
	events    *model.ConnectionEventStore
	cfg       GatewayConfig
	log       zerolog.Logger
	now       func() time.Time
}

// NewGateway builds the gateway. events may be nil when no app database
// is configured.
func NewGateway(ctrl Lifecycle, heartbeat Liveness, events *model.ConnectionEventStore, cfg GatewayConfig, log zerolog.Logger) *Gateway {
	if cfg.ReauthURL == "" {
		cfg.ReauthURL = "/reauth"
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "gowa-bridge"
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 30 * time.Second
	}
	return &Gateway{
		ctrl:      ctrl,
		heartbeat: heartbeat,
		events:    events,
		cfg:       cfg,
		log:       log.With().Str("component", "gateway").Logger(),
		now:       time.Now,
	}
}

func (g *Gateway) providerContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), g.cfg.ProviderTimeout)
}

// lifecycleError maps controller errors onto responses. NotReady is a
// client error; provider failures are server errors pointing to reauth.
func (g *Gateway) lifecycleError(c echo.Context, err error) error {
	var notReady *service.NotReadyError
	if errors.As(err, &notReady) {
		return ErrorResponseWith(c, http.StatusBadRequest,
			"WhatsApp session is not ready",
			"NOT_READY",
			fmt.Sprintf("Current state is %s. Scan the QR code at /qr or re-authenticate via %s", notReady.State, g.cfg.ReauthURL),
			map[string]interface{}{
				"state":      notReady.State,
				"reauth_url": g.cfg.ReauthURL,
			})
	}

	var perr *service.ProviderError
	if errors.As(err, &perr) {
		code := "PROVIDER_ERROR"
		if perr.Fatal {
			code = "SESSION_CLOSED"
		}
		g.log.Error().Err(perr.Err).Str("op", perr.Op).Bool("fatal", perr.Fatal).Msg("provider call failed")
		return ErrorResponseWith(c, http.StatusInternalServerError,
			perr.Err.Error(),
			code,
			perr.Op,
			map[string]interface{}{
				"state":      g.ctrl.State(),
				"reauth_url": g.cfg.ReauthURL,
			})
	}

	g.log.Error().Err(err).Msg("unexpected lifecycle error")
	return ErrorResponseWith(c, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR", "",
		map[string]interface{}{"reauth_url": g.cfg.ReauthURL})
}

// GET /
func (g *Gateway) Index(c echo.Context) error {
	return SuccessResponse(c, http.StatusOK, g.cfg.ServiceName+" is running", map[string]interface{}{
		"version": g.cfg.Version,
		"state":   g.ctrl.State(),
	})
}
