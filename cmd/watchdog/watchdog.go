package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const stateDisconnected = "DISCONNECTED"

// Watchdog polls the bridge and triggers a re-authentication when the
// session stays DISCONNECTED longer than Grace. After a trigger it waits
// Cooldown before triggering again.
type Watchdog struct {
	client   *BridgeClient
	interval time.Duration
	grace    time.Duration
	cooldown time.Duration
	log      zerolog.Logger
	now      func() time.Time

	downSince   time.Time
	lastTrigger time.Time
}

func NewWatchdog(client *BridgeClient, interval, grace, cooldown time.Duration, log zerolog.Logger) *Watchdog {
	return &Watchdog{
		client:   client,
		interval: interval,
		grace:    grace,
		cooldown: cooldown,
		log:      log,
		now:      time.Now,
	}
}

func (w *Watchdog) Run(ctx context.Context) {
	w.log.Info().
		Str("bridge", w.client.BaseURL).
		Dur("interval", w.interval).
		Dur("grace", w.grace).
		Msg("watchdog started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.Check(ctx)

		select {
		case <-ctx.Done():
			w.log.Info().Msg("watchdog stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check runs one poll and reports whether a re-authentication was triggered.
func (w *Watchdog) Check(ctx context.Context) bool {
	health, err := w.client.Health(ctx)
	if err != nil {
		// an unreachable bridge is not a session problem
		w.log.Warn().Err(err).Msg("bridge health check failed")
		return false
	}

	now := w.now()
	if health.State != stateDisconnected {
		if !w.downSince.IsZero() {
			w.log.Info().Str("state", health.State).Msg("session left DISCONNECTED")
		}
		w.downSince = time.Time{}
		return false
	}

	if w.downSince.IsZero() {
		w.downSince = now
		w.log.Warn().Msg("session is DISCONNECTED")
	}

	if now.Sub(w.downSince) < w.grace {
		return false
	}
	if !w.lastTrigger.IsZero() && now.Sub(w.lastTrigger) < w.cooldown {
		return false
	}

	w.lastTrigger = now
	state, err := w.client.Reauth(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("re-authentication request failed")
		return true
	}
	w.log.Info().Str("state", state).Dur("down_for", now.Sub(w.downSince)).Msg("re-authentication triggered")
	w.downSince = time.Time{}
	return true
}
