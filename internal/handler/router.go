package handler

import (
	"net/http"
	"time"

	customMiddleware "gowa-bridge/internal/middleware"
	"gowa-bridge/internal/service"
	"gowa-bridge/internal/ws"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type ServerOptions struct {
	AllowOrigins []string

	// RateLimit <= 0 disables the limiter.
	RateLimit  float64
	RateBurst  int
	RateExpiry time.Duration

	Auth *service.Authenticator

	// Hub is nil when the websocket stream is disabled.
	Hub *ws.Hub
}

// NewServer builds the echo instance with middleware and every route.
func NewServer(g *Gateway, opts ServerOptions) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = HTTPErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(requestLogger(g.log))

	allowOrigins := opts.AllowOrigins
	if len(allowOrigins) == 0 {
		allowOrigins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowOrigins,
		AllowMethods: []string{
			echo.GET,
			echo.POST,
			echo.OPTIONS,
		},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderXRequestedWith,
			echo.HeaderAuthorization,
			customMiddleware.HeaderAPIKey,
		},
	}))

	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = int(opts.RateLimit)
		}
		e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Store: middleware.NewRateLimiterMemoryStoreWithConfig(
				middleware.RateLimiterMemoryStoreConfig{
					Rate:      rate.Limit(opts.RateLimit),
					Burst:     burst,
					ExpiresIn: opts.RateExpiry,
				},
			),
		}))
	}

	e.GET("/", g.Index)
	e.GET("/qr", g.GetQR)
	e.GET("/health", g.GetHealth)

	auth := customMiddleware.AuthMiddleware(opts.Auth)
	operators := customMiddleware.RequireRole(customMiddleware.RoleAdmin, customMiddleware.RoleOperator)

	e.GET("/groups", g.GetGroups, auth)
	e.GET("/groups/export", g.ExportGroups, auth)
	e.GET("/events", g.GetEvents, auth)

	e.POST("/send", g.SendMessage, auth, operators)
	e.POST("/reauth", g.Reauthenticate, auth, operators)
	e.GET("/reauthenticate", g.Reauthenticate, auth, operators)

	if opts.Hub != nil {
		e.GET("/ws", WebSocketHandler(opts.Hub, NewUpgrader(allowOrigins), g.log), auth)
	}

	return e
}

func requestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := log.Info()
			switch {
			case v.Status >= http.StatusInternalServerError:
				ev = log.Error()
			case v.Status >= http.StatusBadRequest:
				ev = log.Warn()
			}
			if v.Error != nil {
				ev = ev.Err(v.Error)
			}
			ev.Str("request_id", v.RequestID).
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Msg("request")
			return nil
		},
	})
}
