package service

import (
	"errors"
	"fmt"

	"gowa-bridge/internal/model"
)

var (
	ErrAlreadyRunning = errors.New("session already running")
	ErrProbeSkipped   = errors.New("heartbeat probe skipped: session not authenticated")

	// ErrSessionClosed marks provider errors that mean the session is gone.
	ErrSessionClosed = errors.New("session closed")
)

// NotReadyError is returned when an operation needs an authenticated session.
type NotReadyError struct {
	State model.ConnectionState
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("whatsapp session is not ready (state %s)", e.State)
}

// ProviderError wraps a failed provider call. Fatal means the session was
// considered dead and the state was forced to DISCONNECTED.
type ProviderError struct {
	Op    string
	Err   error
	Fatal bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
