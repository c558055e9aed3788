package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"gowa-bridge/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBridge struct {
	mu          sync.Mutex
	state       string
	reauthCalls int
	authHeaders []string
	apiKeys     []string
}

func (b *fakeBridge) setState(s string) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

func (b *fakeBridge) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reauthCalls
}

func (b *fakeBridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.authHeaders = append(b.authHeaders, r.Header.Get("Authorization"))
	b.apiKeys = append(b.apiKeys, r.Header.Get("X-API-Key"))

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/health":
		if b.state != "AUTHENTICATED" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_, _ = w.Write([]byte(`{"status":"ok","state":"` + b.state + `","connected":` + boolString(b.state == "AUTHENTICATED") + `}`))
	case "/reauth":
		b.reauthCalls++
		b.state = "INITIALIZING"
		_, _ = w.Write([]byte(`{"success":true,"state":"INITIALIZING"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

type watchdogClock struct{ t time.Time }

func (c *watchdogClock) now() time.Time          { return c.t }
func (c *watchdogClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestWatchdog(t *testing.T, bridge http.Handler, grace, cooldown time.Duration) (*Watchdog, *watchdogClock) {
	t.Helper()
	srv := httptest.NewServer(bridge)
	t.Cleanup(srv.Close)

	clock := &watchdogClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	w := NewWatchdog(NewBridgeClient(srv.URL+"/", "", "", time.Second), time.Minute, grace, cooldown, zerolog.Nop())
	w.now = clock.now
	return w, clock
}

func TestWatchdog_TriggersAfterGrace(t *testing.T) {
	bridge := &fakeBridge{state: "DISCONNECTED"}
	w, clock := newTestWatchdog(t, bridge, 2*time.Minute, 5*time.Minute)
	ctx := context.Background()

	assert.False(t, w.Check(ctx), "first sighting only starts the grace period")
	clock.advance(time.Minute)
	assert.False(t, w.Check(ctx))

	clock.advance(time.Minute)
	assert.True(t, w.Check(ctx))
	assert.Equal(t, 1, bridge.calls())
}

func TestWatchdog_RecoveryResetsGrace(t *testing.T) {
	bridge := &fakeBridge{state: "DISCONNECTED"}
	w, clock := newTestWatchdog(t, bridge, 2*time.Minute, 5*time.Minute)
	ctx := context.Background()

	assert.False(t, w.Check(ctx))
	clock.advance(90 * time.Second)

	bridge.setState("AUTHENTICATED")
	assert.False(t, w.Check(ctx))

	bridge.setState("DISCONNECTED")
	clock.advance(90 * time.Second)
	assert.False(t, w.Check(ctx), "grace restarts after a recovery")
	assert.Zero(t, bridge.calls())
}

func TestWatchdog_IgnoresQRReady(t *testing.T) {
	bridge := &fakeBridge{state: "QR_READY"}
	w, clock := newTestWatchdog(t, bridge, time.Minute, time.Minute)

	for i := 0; i < 5; i++ {
		assert.False(t, w.Check(context.Background()))
		clock.advance(time.Minute)
	}
	assert.Zero(t, bridge.calls())
}

func TestWatchdog_Cooldown(t *testing.T) {
	bridge := &fakeBridge{state: "DISCONNECTED"}
	w, clock := newTestWatchdog(t, bridge, 0, 5*time.Minute)
	ctx := context.Background()

	require.True(t, w.Check(ctx))

	// the new session fails again right away
	bridge.setState("DISCONNECTED")
	clock.advance(time.Minute)
	assert.False(t, w.Check(ctx), "inside cooldown")

	clock.advance(5 * time.Minute)
	assert.True(t, w.Check(ctx))
	assert.Equal(t, 2, bridge.calls())
}

func TestWatchdog_UnreachableBridge(t *testing.T) {
	w := NewWatchdog(NewBridgeClient("http://127.0.0.1:1", "", "", 200*time.Millisecond), time.Minute, 0, 0, zerolog.Nop())
	assert.False(t, w.Check(context.Background()))
}

func TestBridgeClient_Auth(t *testing.T) {
	bridge := &fakeBridge{state: "AUTHENTICATED"}
	srv := httptest.NewServer(bridge)
	defer srv.Close()

	withKey := NewBridgeClient(srv.URL, "key-123", "secret", time.Second)
	_, err := withKey.Health(context.Background())
	require.NoError(t, err)

	withToken := NewBridgeClient(srv.URL, "", "secret", time.Second)
	_, err = withToken.Health(context.Background())
	require.NoError(t, err)
	_, err = withToken.Health(context.Background())
	require.NoError(t, err)

	bridge.mu.Lock()
	defer bridge.mu.Unlock()
	require.Len(t, bridge.authHeaders, 3)

	assert.Equal(t, "key-123", bridge.apiKeys[0])
	assert.Empty(t, bridge.authHeaders[0], "api key wins over the token")

	require.True(t, strings.HasPrefix(bridge.authHeaders[1], "Bearer "))
	assert.Equal(t, bridge.authHeaders[1], bridge.authHeaders[2], "token is reused until it nears expiry")

	claims, err := service.NewAuthenticator("secret", "").ValidateAccessToken(strings.TrimPrefix(bridge.authHeaders[1], "Bearer "))
	require.NoError(t, err)
	assert.Equal(t, "operator", claims.Role)
}

func TestBridgeClient_HealthErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"success":false,"code":"UNAUTHORIZED"}`))
	}))
	defer srv.Close()

	_, err := NewBridgeClient(srv.URL, "", "", time.Second).Health(context.Background())
	assert.ErrorContains(t, err, "401")
}

func TestBridgeClient_ReauthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"error":"launch failed","code":"REAUTH_FAILED","state":"DISCONNECTED"}`))
	}))
	defer srv.Close()

	state, err := NewBridgeClient(srv.URL, "", "", time.Second).Reauth(context.Background())
	require.Error(t, err)
	assert.Equal(t, "DISCONNECTED", state)
	assert.Contains(t, err.Error(), "REAUTH_FAILED")
}
