package model

import (
	"time"
)

// ConnectionState is the lifecycle state of the single WhatsApp session.
type ConnectionState string

const (
	StateInitializing  ConnectionState = "INITIALIZING"
	StateQRReady       ConnectionState = "QR_READY"
	StateAuthenticated ConnectionState = "AUTHENTICATED"
	StateDisconnected  ConnectionState = "DISCONNECTED"
)

func (s ConnectionState) String() string {
	return string(s)
}

// IsAuthenticated reports whether provider calls are allowed in this state.
func (s ConnectionState) IsAuthenticated() bool {
	return s == StateAuthenticated
}

// PendingQR is the rendered login QR. Only present while the state is QR_READY.
type PendingQR struct {
	Code      string
	PNG       []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Identity is the account the session is logged in as.
type Identity struct {
	JID          string `json:"jid"`
	PhoneNumber  string `json:"phone_number"`
	PushName     string `json:"push_name,omitempty"`
	Platform     string `json:"platform,omitempty"`
	BusinessName string `json:"business_name,omitempty"`
}

// Transition describes one applied change of the connection state.
type Transition struct {
	HandleID   string
	Generation uint64
	From       ConnectionState
	To         ConnectionState
	Cause      string
	Detail     string
	At         time.Time
	QR         *PendingQR
}

// Transition causes that do not come from a provider event.
const (
	CauseStart          = "start"
	CauseReauthenticate = "reauthenticate"
	CauseSessionError   = "session_error"
	CauseHeartbeat      = "heartbeat"
	CauseHeartbeatStale = "heartbeat_stale"
	CauseStartFailed    = "start_failed"
	CauseShutdown       = "shutdown"
)
