package service

import (
	"context"
	"time"

	"gowa-bridge/internal/model"
)

// EventKind is a lifecycle signal emitted by a session handle.
type EventKind string

const (
	EventQR            EventKind = "qr"
	EventAuthenticated EventKind = "authenticated"
	EventReady         EventKind = "ready"
	EventAuthFailure   EventKind = "auth_failure"
	EventDisconnected  EventKind = "disconnected"
)

// Event is one lifecycle signal. QRCode and QRTimeout are set for EventQR only.
type Event struct {
	Kind      EventKind
	QRCode    string
	QRTimeout time.Duration
	Reason    string
}

// Handle is one live session with the messaging provider.
//
// Events are delivered in order on the channel returned by Events until
// Close is called; after Close the channel is closed and no further events
// are sent.
type Handle interface {
	ID() string
	Events() <-chan Event

	// Start begins the connection sequence and returns without waiting
	// for authentication.
	Start(ctx context.Context) error

	// Identity is nil until the session is logged in.
	Identity() *model.Identity

	Ping(ctx context.Context) error
	JoinedGroups(ctx context.Context) ([]model.GroupSummary, error)
	SendText(ctx context.Context, target, body string) (*model.SendResult, error)

	// Logout unlinks the device. Close must still be called afterwards.
	Logout(ctx context.Context) error
	Close() error
}

// Provider creates session handles.
type Provider interface {
	NewHandle(ctx context.Context) (Handle, error)
}
