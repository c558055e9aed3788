package model

import "time"

// GroupParticipant is one member of a group chat.
type GroupParticipant struct {
	JID          string `json:"jid"`
	IsAdmin      bool   `json:"is_admin"`
	IsSuperAdmin bool   `json:"is_super_admin"`
}

// GroupSummary is a read-only projection of a joined group. Built on demand.
type GroupSummary struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	Description      string             `json:"description,omitempty"`
	Owner            string             `json:"owner,omitempty"`
	ParticipantCount int                `json:"participant_count"`
	Participants     []GroupParticipant `json:"participants"`
	ReadOnly         bool               `json:"read_only"`
	Locked           bool               `json:"locked"`
	CreatedAt        *time.Time         `json:"created_at,omitempty"`
}

// SendResult is what the provider returns for a delivered message.
type SendResult struct {
	MessageID string    `json:"message_id"`
	Recipient string    `json:"recipient"`
	Timestamp time.Time `json:"timestamp"`
}
