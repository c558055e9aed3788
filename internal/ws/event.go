package ws

import "time"

// Event names pushed to websocket clients.
const (
	EventStateChanged = "state_changed"
	EventQRGenerated  = "qr_generated"
)

// WsEvent is the envelope written to every websocket client.
type WsEvent struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// StateChangedData is the payload of EventStateChanged.
type StateChangedData struct {
	HandleID   string `json:"handle_id"`
	Generation uint64 `json:"generation"`
	From       string `json:"from"`
	To         string `json:"to"`
	Cause      string `json:"cause"`
	Detail     string `json:"detail,omitempty"`
}

// QRGeneratedData is the payload of EventQRGenerated. Image is a data URL.
type QRGeneratedData struct {
	HandleID  string     `json:"handle_id"`
	Image     string     `json:"image,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
