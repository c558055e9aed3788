package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gowa-bridge/internal/model"

	"github.com/rs/zerolog"
)

// QRRenderer turns a raw QR code into image bytes.
type QRRenderer func(code string) ([]byte, error)

type ControllerOptions struct {
	Classifier      *ErrorClassifier
	RenderQR        QRRenderer
	Logger          zerolog.Logger
	TeardownTimeout time.Duration
	Now             func() time.Time
}

// Status is a consistent copy of the controller state.
type Status struct {
	State      model.ConnectionState
	QR         *model.PendingQR
	Identity   *model.Identity
	HandleID   string
	Generation uint64
	Since      time.Time
}

// LifecycleController is the single owner of the connection state, the
// pending QR and the current session handle.
//
// mu guards state, qr, handle, generation, the pump of the current
// handle and the queue of undelivered transitions as one unit. opMu serialises operations that replace the handle
// (Start, Reauthenticate, Shutdown) with heartbeat probes, so a probe never
// sees a half-replaced handle. Every handle gets the generation current at
// its creation; events carrying an older generation are dropped.
type LifecycleController struct {
	provider        Provider
	classifier      *ErrorClassifier
	renderQR        QRRenderer
	log             zerolog.Logger
	teardownTimeout time.Duration
	now             func() time.Time

	opMu sync.Mutex

	mu         sync.RWMutex
	state      model.ConnectionState
	qr         *model.PendingQR
	handle     Handle
	generation uint64
	since      time.Time
	pumpCancel context.CancelFunc
	pumpDone   chan struct{}
	pending    []model.Transition

	// notifyMu is held while the pending queue is drained, so observers
	// run one transition at a time in queue order.
	notifyMu  sync.Mutex
	obsMu     sync.RWMutex
	observers []func(model.Transition)
}

func NewLifecycleController(provider Provider, opts ControllerOptions) *LifecycleController {
	if opts.Classifier == nil {
		opts.Classifier = NewErrorClassifier(nil)
	}
	if opts.TeardownTimeout <= 0 {
		opts.TeardownTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &LifecycleController{
		provider:        provider,
		classifier:      opts.Classifier,
		renderQR:        opts.RenderQR,
		log:             opts.Logger.With().Str("component", "lifecycle").Logger(),
		teardownTimeout: opts.TeardownTimeout,
		now:             opts.Now,
		state:           model.StateDisconnected,
		since:           opts.Now(),
	}
}

// Subscribe registers an observer called after every applied transition,
// in application order, outside the state lock. Observers must not block
// and must not call back into operations that change the state.
func (c *LifecycleController) Subscribe(fn func(model.Transition)) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.observers = append(c.observers, fn)
}

// flush delivers queued transitions in the order they were applied. It
// returns once every transition queued before the call has been delivered.
func (c *LifecycleController) flush() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	for {
		c.mu.Lock()
		if len(c.pending) == 0 {
			c.mu.Unlock()
			return
		}
		t := c.pending[0]
		c.pending = c.pending[1:]
		c.mu.Unlock()

		c.notify(t)
	}
}

func (c *LifecycleController) notify(t model.Transition) {
	c.obsMu.RLock()
	observers := make([]func(model.Transition), len(c.observers))
	copy(observers, c.observers)
	c.obsMu.RUnlock()

	for _, fn := range observers {
		fn(t)
	}
}

// setLocked must be called with mu held. The transition is queued for
// observers; the caller delivers it with flush after releasing mu.
func (c *LifecycleController) setLocked(next model.ConnectionState, qr *model.PendingQR, cause, detail string) model.Transition {
	from := c.state
	c.state = next
	if next == model.StateQRReady {
		c.qr = qr
	} else {
		c.qr = nil
	}
	c.since = c.now()

	handleID := ""
	if c.handle != nil {
		handleID = c.handle.ID()
	}

	t := model.Transition{
		HandleID:   handleID,
		Generation: c.generation,
		From:       from,
		To:         next,
		Cause:      cause,
		Detail:     detail,
		At:         c.since,
		QR:         copyQR(c.qr),
	}
	c.pending = append(c.pending, t)
	return t
}

// Start creates the first session handle. It fails with ErrAlreadyRunning
// when a handle already exists.
func (c *LifecycleController) Start(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.handle != nil {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.generation++
	gen := c.generation
	c.setLocked(model.StateInitializing, nil, model.CauseStart, "")
	c.mu.Unlock()
	c.flush()

	return c.launch(ctx, gen)
}

// Reauthenticate discards the current handle (logging it out, tolerating
// failures from a dead session) and starts a fresh one. It returns once the
// new handle's start sequence has been initiated.
func (c *LifecycleController) Reauthenticate(ctx context.Context) (model.ConnectionState, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.setLocked(model.StateInitializing, nil, model.CauseReauthenticate, "")
	c.mu.Unlock()
	c.flush()

	if old := c.detach(); old != nil {
		c.log.Info().Str("handle_id", old.ID()).Msg("discarding session handle for re-authentication")
		c.release(old, true)
	}

	if err := c.launch(ctx, gen); err != nil {
		return c.State(), err
	}
	return model.StateInitializing, nil
}

// launch creates, attaches and starts a handle for gen. opMu must be held.
func (c *LifecycleController) launch(ctx context.Context, gen uint64) error {
	h, err := c.provider.NewHandle(ctx)
	if err != nil {
		c.failStart(gen, err)
		return fmt.Errorf("create session handle: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.handle = h
	c.pumpCancel = cancel
	c.pumpDone = done
	c.mu.Unlock()

	go c.pump(pumpCtx, gen, h, done)

	if err := h.Start(ctx); err != nil {
		if old := c.detach(); old != nil {
			c.release(old, false)
		}
		c.failStart(gen, err)
		return fmt.Errorf("start session: %w", err)
	}

	c.log.Info().Str("handle_id", h.ID()).Uint64("generation", gen).Msg("session handle started")
	return nil
}

func (c *LifecycleController) failStart(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.setLocked(model.StateDisconnected, nil, model.CauseStartFailed, err.Error())
	c.mu.Unlock()

	c.log.Error().Err(err).Msg("failed to start session handle")
	c.flush()
}

// detach unhooks the current handle and waits for its pump to exit.
// opMu must be held.
func (c *LifecycleController) detach() Handle {
	c.mu.Lock()
	h := c.handle
	cancel, done := c.pumpCancel, c.pumpDone
	c.handle = nil
	c.pumpCancel = nil
	c.pumpDone = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return h
}

func (c *LifecycleController) release(h Handle, logout bool) {
	ctx, cancel := context.WithTimeout(context.Background(), c.teardownTimeout)
	defer cancel()

	if logout {
		if err := h.Logout(ctx); err != nil {
			c.log.Warn().Err(err).Str("handle_id", h.ID()).Msg("logout failed, continuing teardown")
		}
	}
	if err := h.Close(); err != nil {
		c.log.Warn().Err(err).Str("handle_id", h.ID()).Msg("failed to close session handle")
	}
}

func (c *LifecycleController) pump(ctx context.Context, gen uint64, h Handle, done chan struct{}) {
	defer close(done)

	events := h.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.apply(gen, ev, string(ev.Kind))
		}
	}
}

// apply is the only place provider events change the state. The
// transition table is total: every event is applied whatever the current
// state is, provided it comes from the current generation.
func (c *LifecycleController) apply(gen uint64, ev Event, cause string) bool {
	var (
		next model.ConnectionState
		qr   *model.PendingQR
	)

	switch ev.Kind {
	case EventQR:
		next = model.StateQRReady
		qr = c.buildQR(ev)
	case EventAuthenticated, EventReady:
		next = model.StateAuthenticated
	case EventAuthFailure, EventDisconnected:
		next = model.StateDisconnected
	default:
		c.log.Warn().Str("event", string(ev.Kind)).Msg("ignoring unknown provider event")
		return false
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.log.Debug().Str("event", string(ev.Kind)).Uint64("generation", gen).Msg("dropping event from discarded handle")
		return false
	}
	t := c.setLocked(next, qr, cause, ev.Reason)
	c.mu.Unlock()

	c.log.Info().
		Str("event", string(ev.Kind)).
		Str("from", string(t.From)).
		Str("to", string(t.To)).
		Str("reason", ev.Reason).
		Msg("connection state changed")

	c.flush()
	return true
}

func (c *LifecycleController) buildQR(ev Event) *model.PendingQR {
	now := c.now()
	qr := &model.PendingQR{Code: ev.QRCode, CreatedAt: now}
	if ev.QRTimeout > 0 {
		qr.ExpiresAt = now.Add(ev.QRTimeout)
	}
	if c.renderQR != nil && ev.QRCode != "" {
		png, err := c.renderQR(ev.QRCode)
		if err != nil {
			c.log.Warn().Err(err).Msg("failed to render qr code")
		} else {
			qr.PNG = png
		}
	}
	return qr
}

// demote forces DISCONNECTED, but only while gen is current and the
// session is AUTHENTICATED.
func (c *LifecycleController) demote(gen uint64, cause, detail string) bool {
	c.mu.Lock()
	if gen != c.generation || c.state != model.StateAuthenticated {
		c.mu.Unlock()
		return false
	}
	c.setLocked(model.StateDisconnected, nil, cause, detail)
	c.mu.Unlock()

	c.log.Warn().Str("cause", cause).Str("detail", detail).Msg("session demoted to DISCONNECTED")
	c.flush()
	return true
}

// usable returns the current handle when provider calls are allowed.
func (c *LifecycleController) usable() (Handle, uint64, model.ConnectionState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state != model.StateAuthenticated || c.handle == nil || c.handle.Identity() == nil {
		return nil, 0, c.state, false
	}
	return c.handle, c.generation, c.state, true
}

// IsUsable reports whether the session is AUTHENTICATED with a known identity.
// The answer can be stale by the time the caller acts on it.
func (c *LifecycleController) IsUsable() bool {
	_, _, _, ok := c.usable()
	return ok
}

func (c *LifecycleController) providerFailure(gen uint64, op string, err error) error {
	perr := &ProviderError{Op: op, Err: err, Fatal: c.classifier.IsFatal(err)}
	if perr.Fatal {
		c.demote(gen, model.CauseSessionError, err.Error())
	} else {
		c.log.Warn().Err(err).Str("op", op).Msg("provider call failed")
	}
	return perr
}

// ListGroups returns the joined groups of the current session.
func (c *LifecycleController) ListGroups(ctx context.Context) ([]model.GroupSummary, error) {
	h, gen, state, ok := c.usable()
	if !ok {
		return nil, &NotReadyError{State: state}
	}

	groups, err := h.JoinedGroups(ctx)
	if err != nil {
		return nil, c.providerFailure(gen, "list groups", err)
	}
	return groups, nil
}

// SendText sends a text message. target and body must already be validated.
func (c *LifecycleController) SendText(ctx context.Context, target, body string) (*model.SendResult, error) {
	h, gen, state, ok := c.usable()
	if !ok {
		return nil, &NotReadyError{State: state}
	}

	res, err := h.SendText(ctx, target, body)
	if err != nil {
		return nil, c.providerFailure(gen, "send message", err)
	}
	return res, nil
}

// Probe runs one liveness check. It returns ErrProbeSkipped unless the
// session is AUTHENTICATED; on failure the session is demoted.
func (c *LifecycleController) Probe(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.RLock()
	h, gen, state := c.handle, c.generation, c.state
	c.mu.RUnlock()

	if state != model.StateAuthenticated || h == nil {
		return ErrProbeSkipped
	}

	if err := h.Ping(ctx); err != nil {
		c.demote(gen, model.CauseHeartbeat, err.Error())
		return fmt.Errorf("heartbeat probe: %w", err)
	}
	return nil
}

// DemoteStale forces DISCONNECTED when the heartbeat went stale.
func (c *LifecycleController) DemoteStale(detail string) bool {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.RLock()
	gen := c.generation
	c.mu.RUnlock()

	return c.demote(gen, model.CauseHeartbeatStale, detail)
}

// Shutdown releases the active handle without logging out, so the stored
// session survives a restart. The state ends DISCONNECTED even when
// releasing the handle fails.
func (c *LifecycleController) Shutdown() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	c.generation++
	c.setLocked(model.StateDisconnected, nil, model.CauseShutdown, "")
	c.mu.Unlock()
	c.flush()

	h := c.detach()
	if h == nil {
		return nil
	}
	if err := h.Close(); err != nil {
		return fmt.Errorf("release session handle: %w", err)
	}
	c.log.Info().Str("handle_id", h.ID()).Msg("session handle released")
	return nil
}

func (c *LifecycleController) State() model.ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// PendingQR returns a copy of the current QR, or nil outside QR_READY.
func (c *LifecycleController) PendingQR() *model.PendingQR {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyQR(c.qr)
}

func (c *LifecycleController) Snapshot() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := Status{
		State:      c.state,
		QR:         copyQR(c.qr),
		Generation: c.generation,
		Since:      c.since,
	}
	if c.handle != nil {
		st.HandleID = c.handle.ID()
		if c.state == model.StateAuthenticated {
			st.Identity = c.handle.Identity()
		}
	}
	return st
}

func copyQR(qr *model.PendingQR) *model.PendingQR {
	if qr == nil {
		return nil
	}
	cp := *qr
	return &cp
}
