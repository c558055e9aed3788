package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gowa-bridge/config"
	"gowa-bridge/database"
	"gowa-bridge/internal/handler"
	"gowa-bridge/internal/helper"
	"gowa-bridge/internal/model"
	"gowa-bridge/internal/service"
	"gowa-bridge/internal/worker"
	"gowa-bridge/internal/ws"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const version = "1.0.0"

func main() {
	// .env is optional, e.g. in production
	_ = godotenv.Load()

	// gowa-bridge --hash-api-key <key> prints the value for API_KEY_HASH
	if len(os.Args) > 2 && os.Args[1] == "--hash-api-key" {
		hash, err := helper.HashAPIKey(os.Args[2])
		if err != nil {
			fmt.Fprintln(os.Stderr, "failed to hash key:", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	log := config.NewLogger(cfg.Logging, os.Stdout)
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("gowa-bridge stopped with error")
	}
	log.Info().Msg("gowa-bridge stopped")
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := database.OpenSessionStore(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer container.Close()

	var events *model.ConnectionEventStore
	if cfg.AppDatabaseURL != "" {
		db, dialect, err := database.OpenAppDB(ctx, cfg.AppDatabaseURL, 30*time.Second, log)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := helper.InitConnectionEventSchema(ctx, db, dialect); err != nil {
			return err
		}
		events = model.NewConnectionEventStore(db, dialect)
	} else {
		log.Info().Msg("APP_DATABASE_URL not set, connection history disabled")
	}

	classifier := service.NewErrorClassifier(cfg.FatalErrorSignatures)
	log.Debug().Strs("signatures", classifier.Signatures()).Msg("fatal error signatures")

	provider := service.NewWhatsmeowProvider(container, cfg.DeviceName, log)
	ctrl := service.NewLifecycleController(provider, service.ControllerOptions{
		Classifier: classifier,
		RenderQR: func(code string) ([]byte, error) {
			return helper.RenderQRPNG(code, helper.DefaultQRSize)
		},
		Logger:          log,
		TeardownTimeout: cfg.Heartbeat.Timeout,
	})

	heartbeat := worker.NewHeartbeatMonitor(ctrl, worker.HeartbeatConfig{
		Interval:   cfg.Heartbeat.Interval,
		StaleAfter: cfg.Heartbeat.StaleAfter,
		Timeout:    cfg.Heartbeat.Timeout,
	}, log)
	ctrl.Subscribe(heartbeat.Observe)

	dispatcher := service.NewDispatcher(128, log)
	var hub *ws.Hub
	if cfg.EnableWebsocket {
		hub = ws.NewHub(log)
		dispatcher.AddSink("websocket", service.RealtimeSink(hub))
	}
	if events != nil {
		dispatcher.AddSink("history", service.EventStoreSink(events))
	}
	if cfg.Webhook.URL != "" {
		notifier := service.NewWebhookNotifier(cfg.Webhook.URL, cfg.Webhook.Secret, 5*time.Second, log)
		dispatcher.AddSink("webhook", notifier.Notify)
	}
	if cfg.PrintQRTerminal {
		dispatcher.AddSink("terminal", service.TerminalQRSink(os.Stdout))
	}
	ctrl.Subscribe(dispatcher.Observe)

	// background workers outlive the signal context so the final
	// DISCONNECTED transition still reaches the sinks
	bgCtx, cancelBg := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	if hub != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.Run(bgCtx)
		}()
	}
	wg.Add(2)
	go func() {
		defer wg.Done()
		dispatcher.Run(bgCtx)
	}()
	go func() {
		defer wg.Done()
		heartbeat.Run(ctx)
	}()

	if err := ctrl.Start(ctx); err != nil {
		// the gateway stays up so /reauth can recover
		log.Error().Err(err).Msg("initial session start failed")
	}

	gateway := handler.NewGateway(ctrl, heartbeat, events, handler.GatewayConfig{
		ServiceName:        "gowa-bridge",
		Version:            version,
		ReauthURL:          cfg.ReauthURL,
		DefaultCountryCode: cfg.DefaultCountryCode,
	}, log)

	e := handler.NewServer(gateway, handler.ServerOptions{
		AllowOrigins: cfg.CORSAllowOrigins,
		RateLimit:    cfg.RateLimit.PerSecond,
		RateBurst:    cfg.RateLimit.Burst,
		RateExpiry:   time.Duration(cfg.RateLimit.WindowMinutes) * time.Minute,
		Auth:         service.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.APIKeyHash),
		Hub:          hub,
	})

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Str("version", version).Msg("HTTP server listening")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case runErr = <-serveErr:
		log.Error().Err(runErr).Msg("HTTP server failed")
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown incomplete")
	}
	if err := ctrl.Shutdown(); err != nil {
		log.Warn().Err(err).Msg("session release failed")
	}

	cancelBg()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Warn().Msg("background workers did not stop in time")
	}

	return runErr
}
