package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gowa-bridge/internal/model"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

var testIdentity = &model.Identity{JID: "6281234567890:12@s.whatsapp.net", PhoneNumber: "6281234567890", PushName: "Test"}

type recorder struct {
	mu          sync.Mutex
	transitions []model.Transition
}

func (r *recorder) observe(t model.Transition) {
	r.mu.Lock()
	r.transitions = append(r.transitions, t)
	r.mu.Unlock()
}

func (r *recorder) all() []model.Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Transition, len(r.transitions))
	copy(out, r.transitions)
	return out
}

func newTestController(t *testing.T) (*LifecycleController, *fakeProvider, *recorder) {
	t.Helper()
	p := &fakeProvider{}
	c := NewLifecycleController(p, ControllerOptions{
		Logger: zerolog.Nop(),
		RenderQR: func(code string) ([]byte, error) {
			return []byte("png:" + code), nil
		},
	})
	rec := &recorder{}
	c.Subscribe(rec.observe)
	t.Cleanup(func() { _ = c.Shutdown() })
	return c, p, rec
}

func waitState(t *testing.T, c *LifecycleController, want model.ConnectionState) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want }, waitFor, tick, "state never became %s (is %s)", want, c.State())
}

func authenticate(t *testing.T, c *LifecycleController, h *fakeHandle) {
	t.Helper()
	h.setIdentity(testIdentity)
	h.emit(Event{Kind: EventReady})
	waitState(t, c, model.StateAuthenticated)
}

func TestStart(t *testing.T) {
	c, p, _ := newTestController(t)
	assert.Equal(t, model.StateDisconnected, c.State())

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, model.StateInitializing, c.State())
	assert.Nil(t, c.PendingQR())

	started, _, _, _ := p.last().snapshot()
	assert.True(t, started)

	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyRunning)
	assert.Equal(t, 1, p.count())
}

func TestStart_ProviderFailure(t *testing.T) {
	c, p, _ := newTestController(t)
	p.configure = func(h *fakeHandle) { h.startErr = errors.New("browser failed to launch") }

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, model.StateDisconnected, c.State())

	_, _, closed, _ := p.last().snapshot()
	assert.True(t, closed)

	// no handle is left behind, so Start can be retried
	p.configure = nil
	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, model.StateInitializing, c.State())
}

func TestEventTransitions(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  model.ConnectionState
	}{
		{"qr", Event{Kind: EventQR, QRCode: "2@abc"}, model.StateQRReady},
		{"authenticated", Event{Kind: EventAuthenticated}, model.StateAuthenticated},
		{"ready", Event{Kind: EventReady}, model.StateAuthenticated},
		{"auth failure", Event{Kind: EventAuthFailure, Reason: "qr timeout"}, model.StateDisconnected},
		{"disconnected", Event{Kind: EventDisconnected, Reason: "connection lost"}, model.StateDisconnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, p, _ := newTestController(t)
			require.NoError(t, c.Start(context.Background()))

			p.last().emit(tt.event)
			waitState(t, c, tt.want)
		})
	}
}

func TestPendingQRPresentOnlyInQRReady(t *testing.T) {
	c, p, rec := newTestController(t)
	require.NoError(t, c.Start(context.Background()))
	h := p.last()

	sequence := []Event{
		{Kind: EventQR, QRCode: "2@first", QRTimeout: 20 * time.Second},
		{Kind: EventQR, QRCode: "2@second"},
		{Kind: EventAuthFailure, Reason: "timeout"},
		{Kind: EventQR, QRCode: "2@third"},
		{Kind: EventAuthenticated},
		{Kind: EventQR, QRCode: "2@unexpected"},
		{Kind: EventReady},
		{Kind: EventDisconnected},
		{Kind: EventReady},
	}
	for _, ev := range sequence {
		h.emit(ev)
	}

	// start transition plus one per event
	require.Eventually(t, func() bool { return len(rec.all()) == len(sequence)+1 }, waitFor, tick)

	for _, tr := range rec.all() {
		if tr.To == model.StateQRReady {
			require.NotNil(t, tr.QR, "QR missing on %s -> %s", tr.From, tr.To)
		} else {
			require.Nil(t, tr.QR, "QR left on %s -> %s", tr.From, tr.To)
		}
	}
	assert.Equal(t, model.StateAuthenticated, c.State())
	assert.Nil(t, c.PendingQR())
}

func TestQRRefreshReplacesArtifact(t *testing.T) {
	c, p, _ := newTestController(t)
	require.NoError(t, c.Start(context.Background()))
	h := p.last()

	h.emit(Event{Kind: EventQR, QRCode: "2@first", QRTimeout: time.Minute})
	require.Eventually(t, func() bool {
		qr := c.PendingQR()
		return qr != nil && qr.Code == "2@first"
	}, waitFor, tick)

	qr := c.PendingQR()
	assert.Equal(t, []byte("png:2@first"), qr.PNG)
	assert.False(t, qr.ExpiresAt.IsZero())

	h.emit(Event{Kind: EventQR, QRCode: "2@second"})
	require.Eventually(t, func() bool {
		qr := c.PendingQR()
		return qr != nil && qr.Code == "2@second"
	}, waitFor, tick)
	assert.Equal(t, []byte("png:2@second"), c.PendingQR().PNG)
}

func TestReauthenticateFromEveryState(t *testing.T) {
	setups := map[string]func(t *testing.T, c *LifecycleController, p *fakeProvider){
		"no handle": func(t *testing.T, c *LifecycleController, p *fakeProvider) {},
		"initializing": func(t *testing.T, c *LifecycleController, p *fakeProvider) {
			require.NoError(t, c.Start(context.Background()))
		},
		"qr ready": func(t *testing.T, c *LifecycleController, p *fakeProvider) {
			require.NoError(t, c.Start(context.Background()))
			p.last().emit(Event{Kind: EventQR, QRCode: "2@abc"})
			waitState(t, c, model.StateQRReady)
		},
		"authenticated": func(t *testing.T, c *LifecycleController, p *fakeProvider) {
			require.NoError(t, c.Start(context.Background()))
			authenticate(t, c, p.last())
		},
		"disconnected": func(t *testing.T, c *LifecycleController, p *fakeProvider) {
			require.NoError(t, c.Start(context.Background()))
			p.last().emit(Event{Kind: EventDisconnected})
			waitState(t, c, model.StateDisconnected)
		},
	}

	for name, setup := range setups {
		t.Run(name, func(t *testing.T) {
			c, p, _ := newTestController(t)
			setup(t, c, p)
			before := p.count()

			state, err := c.Reauthenticate(context.Background())
			require.NoError(t, err)
			assert.Equal(t, model.StateInitializing, state)
			assert.Equal(t, model.StateInitializing, c.State())
			assert.Nil(t, c.PendingQR())
			assert.False(t, c.IsUsable())

			require.Equal(t, before+1, p.count())
			if before > 0 {
				_, loggedOut, closed, _ := p.handle(before - 1).snapshot()
				assert.True(t, loggedOut, "old handle must be logged out")
				assert.True(t, closed, "old handle must be closed")
			}
			started, _, closed, _ := p.last().snapshot()
			assert.True(t, started)
			assert.False(t, closed)
		})
	}
}

func TestReauthenticate_ToleratesLogoutFailure(t *testing.T) {
	c, p, _ := newTestController(t)
	p.configure = func(h *fakeHandle) { h.logoutErr = errors.New("Session closed") }
	require.NoError(t, c.Start(context.Background()))

	state, err := c.Reauthenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StateInitializing, state)

	_, _, closed, _ := p.handle(0).snapshot()
	assert.True(t, closed)
}

func TestReauthenticate_StartFailure(t *testing.T) {
	c, p, _ := newTestController(t)
	require.NoError(t, c.Start(context.Background()))

	p.configure = func(h *fakeHandle) { h.startErr = errors.New("launch failed") }
	state, err := c.Reauthenticate(context.Background())
	require.Error(t, err)
	assert.Equal(t, model.StateDisconnected, state)
	assert.Equal(t, model.StateDisconnected, c.State())
}

func TestReauthenticateTwice_OnlyLatestHandleMutatesState(t *testing.T) {
	c, p, _ := newTestController(t)
	require.NoError(t, c.Start(context.Background()))
	first := p.last()

	_, err := c.Reauthenticate(context.Background())
	require.NoError(t, err)
	intermediate := p.last()

	_, err = c.Reauthenticate(context.Background())
	require.NoError(t, err)
	current := p.last()

	require.Equal(t, 3, p.count())
	for _, h := range []*fakeHandle{first, intermediate} {
		_, _, closed, _ := h.snapshot()
		assert.True(t, closed)
	}
	_, _, closed, _ := current.snapshot()
	assert.False(t, closed)

	// late events from discarded handles are dropped
	first.emit(Event{Kind: EventReady})
	intermediate.emit(Event{Kind: EventQR, QRCode: "2@stale"})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, model.StateInitializing, c.State())
	assert.Nil(t, c.PendingQR())

	current.emit(Event{Kind: EventQR, QRCode: "2@fresh"})
	waitState(t, c, model.StateQRReady)
	assert.Equal(t, "2@fresh", c.PendingQR().Code)
	assert.Equal(t, current.ID(), c.Snapshot().HandleID)
}

func TestConcurrentReauthenticate(t *testing.T) {
	c, p, _ := newTestController(t)
	require.NoError(t, c.Start(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Reauthenticate(context.Background())
		}()
	}
	wg.Wait()

	open := 0
	for i := 0; i < p.count(); i++ {
		if _, _, closed, _ := p.handle(i).snapshot(); !closed {
			open++
		}
	}
	assert.Equal(t, 1, open)
	assert.Equal(t, model.StateInitializing, c.State())
}

func TestObserversSeeTransitionsInApplicationOrder(t *testing.T) {
	p := &fakeProvider{}
	c := NewLifecycleController(p, ControllerOptions{Logger: zerolog.Nop()})
	t.Cleanup(func() { _ = c.Shutdown() })

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	c.Subscribe(func(tr model.Transition) {
		if tr.To == model.StateQRReady {
			once.Do(func() {
				close(entered)
				<-release
			})
		}
	})
	rec := &recorder{}
	c.Subscribe(rec.observe)

	require.NoError(t, c.Start(context.Background()))
	p.last().emit(Event{Kind: EventQR, QRCode: "2@old"})

	select {
	case <-entered:
	case <-time.After(waitFor):
		t.Fatal("qr transition never reached observers")
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.Reauthenticate(context.Background())
		done <- err
	}()
	waitState(t, c, model.StateInitializing)
	close(release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("reauthenticate did not return")
	}

	all := rec.all()
	require.Len(t, all, 3)
	assert.Equal(t, model.StateInitializing, all[0].To)
	assert.Equal(t, model.StateQRReady, all[1].To)
	assert.Equal(t, model.CauseReauthenticate, all[2].Cause)
	assert.Equal(t, c.State(), all[2].To)
}

func TestIsUsable(t *testing.T) {
	c, p, _ := newTestController(t)
	assert.False(t, c.IsUsable())

	require.NoError(t, c.Start(context.Background()))
	h := p.last()
	assert.False(t, c.IsUsable())

	h.emit(Event{Kind: EventQR, QRCode: "2@abc"})
	waitState(t, c, model.StateQRReady)
	h.setIdentity(testIdentity)
	assert.False(t, c.IsUsable(), "identity alone is not enough outside AUTHENTICATED")

	h.setIdentity(nil)
	h.emit(Event{Kind: EventAuthenticated})
	waitState(t, c, model.StateAuthenticated)
	assert.False(t, c.IsUsable(), "AUTHENTICATED without identity is not usable")

	h.setIdentity(testIdentity)
	assert.True(t, c.IsUsable())
	assert.Equal(t, testIdentity.JID, c.Snapshot().Identity.JID)

	h.emit(Event{Kind: EventDisconnected})
	waitState(t, c, model.StateDisconnected)
	assert.False(t, c.IsUsable())
	assert.Nil(t, c.Snapshot().Identity)
}

func TestGuardedCalls_NotReady(t *testing.T) {
	c, p, _ := newTestController(t)
	require.NoError(t, c.Start(context.Background()))
	p.last().emit(Event{Kind: EventQR, QRCode: "2@abc"})
	waitState(t, c, model.StateQRReady)

	_, err := c.ListGroups(context.Background())
	var nr *NotReadyError
	require.ErrorAs(t, err, &nr)
	assert.Equal(t, model.StateQRReady, nr.State)

	_, err = c.SendText(context.Background(), "6281@s.whatsapp.net", "hi")
	require.ErrorAs(t, err, &nr)

	_, _, _, calls := p.last().snapshot()
	assert.Zero(t, calls)
}

func TestSendText_FatalErrorDemotes(t *testing.T) {
	c, p, rec := newTestController(t)
	require.NoError(t, c.Start(context.Background()))
	h := p.last()
	authenticate(t, c, h)

	h.set(func(h *fakeHandle) {
		h.sendErr = errors.New("Protocol error (Runtime.callFunctionOn): Session closed. Most likely the page has been closed.")
	})

	_, err := c.SendText(context.Background(), "6281@s.whatsapp.net", "hi")
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.Fatal)

	// demoted before the error was returned
	assert.Equal(t, model.StateDisconnected, c.State())
	assert.Nil(t, c.PendingQR())

	last := rec.all()[len(rec.all())-1]
	assert.Equal(t, model.CauseSessionError, last.Cause)
}

func TestListGroups_SentinelIsFatal(t *testing.T) {
	c, p, _ := newTestController(t)
	require.NoError(t, c.Start(context.Background()))
	h := p.last()
	authenticate(t, c, h)

	h.set(func(h *fakeHandle) { h.groupsErr = ErrSessionClosed })
	_, err := c.ListGroups(context.Background())

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.Fatal)
	assert.Equal(t, model.StateDisconnected, c.State())
}

func TestSendText_TransientKeepsState(t *testing.T) {
	c, p, _ := newTestController(t)
	require.NoError(t, c.Start(context.Background()))
	h := p.last()
	authenticate(t, c, h)

	h.set(func(h *fakeHandle) { h.sendErr = errors.New("server returned error 479") })
	_, err := c.SendText(context.Background(), "6281@s.whatsapp.net", "hi")

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.False(t, perr.Fatal)
	assert.Equal(t, model.StateAuthenticated, c.State())
}

func TestListGroups(t *testing.T) {
	c, p, _ := newTestController(t)
	p.configure = func(h *fakeHandle) {
		h.groups = []model.GroupSummary{{ID: "1203@g.us", Name: "Family", ParticipantCount: 3}}
	}
	require.NoError(t, c.Start(context.Background()))
	authenticate(t, c, p.last())

	groups, err := c.ListGroups(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "Family", groups[0].Name)
}

func TestProbe(t *testing.T) {
	c, p, rec := newTestController(t)
	assert.ErrorIs(t, c.Probe(context.Background()), ErrProbeSkipped)

	require.NoError(t, c.Start(context.Background()))
	assert.ErrorIs(t, c.Probe(context.Background()), ErrProbeSkipped)

	h := p.last()
	authenticate(t, c, h)
	require.NoError(t, c.Probe(context.Background()))
	assert.Equal(t, model.StateAuthenticated, c.State())

	h.set(func(h *fakeHandle) { h.pingErr = errors.New("websocket not connected") })
	require.Error(t, c.Probe(context.Background()))
	assert.Equal(t, model.StateDisconnected, c.State())

	last := rec.all()[len(rec.all())-1]
	assert.Equal(t, model.CauseHeartbeat, last.Cause)
}

func TestDemoteStale(t *testing.T) {
	c, p, _ := newTestController(t)
	require.NoError(t, c.Start(context.Background()))
	h := p.last()

	assert.False(t, c.DemoteStale("no heartbeat"))
	assert.Equal(t, model.StateInitializing, c.State())

	authenticate(t, c, h)
	assert.True(t, c.DemoteStale("no heartbeat"))
	assert.Equal(t, model.StateDisconnected, c.State())
}

func TestShutdown(t *testing.T) {
	c, p, _ := newTestController(t)
	require.NoError(t, c.Start(context.Background()))
	h := p.last()
	authenticate(t, c, h)

	require.NoError(t, c.Shutdown())
	assert.Equal(t, model.StateDisconnected, c.State())

	_, loggedOut, closed, _ := h.snapshot()
	assert.True(t, closed)
	assert.False(t, loggedOut, "shutdown keeps the stored session")

	h.emit(Event{Kind: EventReady})
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, model.StateDisconnected, c.State())

	// shutting down twice is harmless
	require.NoError(t, c.Shutdown())
}
