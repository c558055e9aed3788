// Command watchdog polls a gowa-bridge and re-authenticates the session
// when it stays disconnected.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gowa-bridge/config"
	"gowa-bridge/internal/helper"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		_ = godotenv.Load("../../.env")
	}

	log := config.NewLogger(config.LoggingConfig{
		Level:  helper.GetEnv("LOG_LEVEL", "info"),
		Format: helper.GetEnv("LOG_FORMAT", "console"),
	}, os.Stdout).With().Str("component", "watchdog").Logger()

	baseURL := helper.GetEnv("WATCHDOG_BASE_URL", "")
	if baseURL == "" {
		baseURL = "http://localhost:" + helper.GetEnv("PORT", "3000")
	}

	interval := helper.GetEnvAsDuration("WATCHDOG_INTERVAL", 30*time.Second)
	grace := helper.GetEnvAsDuration("WATCHDOG_GRACE", 2*time.Minute)
	cooldown := helper.GetEnvAsDuration("WATCHDOG_COOLDOWN", 5*time.Minute)
	if interval <= 0 || grace < 0 || cooldown < 0 {
		log.Fatal().Msg("WATCHDOG_INTERVAL must be positive, WATCHDOG_GRACE and WATCHDOG_COOLDOWN must not be negative")
	}

	client := NewBridgeClient(
		baseURL,
		helper.GetEnv("WATCHDOG_API_KEY", ""),
		helper.GetEnv("JWT_SECRET", ""),
		10*time.Second,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	NewWatchdog(client, interval, grace, cooldown, log).Run(ctx)
}
