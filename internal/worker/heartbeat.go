package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gowa-bridge/internal/model"
	"gowa-bridge/internal/service"

	"github.com/rs/zerolog"
)

// Prober is the part of the lifecycle controller the monitor drives.
type Prober interface {
	State() model.ConnectionState
	Probe(ctx context.Context) error
	DemoteStale(detail string) bool
}

type HeartbeatConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	Timeout    time.Duration
}

// HeartbeatMonitor probes the session periodically and demotes it when
// a probe fails or no probe succeeded for StaleAfter.
type HeartbeatMonitor struct {
	target Prober
	cfg    HeartbeatConfig
	log    zerolog.Logger
	now    func() time.Time

	mu   sync.RWMutex
	last time.Time
}

func NewHeartbeatMonitor(target Prober, cfg HeartbeatConfig, log zerolog.Logger) *HeartbeatMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 2 * cfg.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HeartbeatMonitor{
		target: target,
		cfg:    cfg,
		log:    log.With().Str("component", "heartbeat").Logger(),
		now:    time.Now,
	}
}

// Observe keeps the heartbeat record in step with the controller. It is
// registered with LifecycleController.Subscribe.
func (m *HeartbeatMonitor) Observe(t model.Transition) {
	switch {
	case t.To == model.StateAuthenticated:
		m.touch()
	case t.From == model.StateAuthenticated:
		m.reset()
	}
}

func (m *HeartbeatMonitor) touch() {
	m.mu.Lock()
	m.last = m.now()
	m.mu.Unlock()
}

func (m *HeartbeatMonitor) reset() {
	m.mu.Lock()
	m.last = time.Time{}
	m.mu.Unlock()
}

// LastHeartbeat is zero when no probe succeeded since the last authentication.
func (m *HeartbeatMonitor) LastHeartbeat() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Age returns how long ago the last heartbeat was, and false when there is none.
func (m *HeartbeatMonitor) Age() (time.Duration, bool) {
	last := m.LastHeartbeat()
	if last.IsZero() {
		return 0, false
	}
	return m.now().Sub(last), true
}

// IsConnected reports an authenticated session with a fresh heartbeat.
func (m *HeartbeatMonitor) IsConnected() bool {
	if m.target.State() != model.StateAuthenticated {
		return false
	}
	age, ok := m.Age()
	return ok && age < m.cfg.StaleAfter
}

// Run ticks until ctx is cancelled.
func (m *HeartbeatMonitor) Run(ctx context.Context) {
	m.log.Info().Dur("interval", m.cfg.Interval).Dur("stale_after", m.cfg.StaleAfter).Msg("heartbeat monitor started")

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("heartbeat monitor stopped")
			return
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil {
				m.log.Warn().Err(err).Msg("heartbeat failed")
			}
		}
	}
}

// Tick runs one heartbeat round.
func (m *HeartbeatMonitor) Tick(ctx context.Context) error {
	if m.target.State() != model.StateAuthenticated {
		return nil
	}

	if age, ok := m.Age(); ok && age >= m.cfg.StaleAfter {
		detail := fmt.Sprintf("no heartbeat for %s", age.Round(time.Second))
		if m.target.DemoteStale(detail) {
			m.reset()
			return errors.New(detail)
		}
		return nil
	}

	pctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	err := m.target.Probe(pctx)
	switch {
	case err == nil:
		m.touch()
		m.log.Debug().Msg("heartbeat ok")
		return nil
	case errors.Is(err, service.ErrProbeSkipped):
		return nil
	default:
		m.reset()
		return err
	}
}
