package main

import "time"

// HealthStatus mirrors the bridge's GET /health body.
type HealthStatus struct {
	Status              string    `json:"status"`
	State               string    `json:"state"`
	Connected           bool      `json:"connected"`
	Timestamp           time.Time `json:"timestamp"`
	HandleID            string    `json:"handle_id"`
	HeartbeatAgeSeconds *float64  `json:"heartbeat_age_seconds"`
}

type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	State   string `json:"state"`
}
