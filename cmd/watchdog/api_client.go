package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"gowa-bridge/internal/service"
)

const tokenTTL = time.Hour

// BridgeClient talks to a running gowa-bridge. It authenticates with an
// API key, or with a short lived token signed with the shared JWT secret.
type BridgeClient struct {
	BaseURL string
	APIKey  string

	auth *service.Authenticator
	http *http.Client

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

func NewBridgeClient(baseURL, apiKey, jwtSecret string, timeout time.Duration) *BridgeClient {
	return &BridgeClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		auth:    service.NewAuthenticator(jwtSecret, ""),
		http:    &http.Client{Timeout: timeout},
	}
}

// ensureAuth returns the Authorization value to send, "" when none is needed.
func (c *BridgeClient) ensureAuth() (string, error) {
	if !c.auth.TokensEnabled() {
		return "", nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// renew ahead of expiry
	if c.accessToken == "" || time.Now().After(c.expiresAt.Add(-5*time.Minute)) {
		token, err := c.auth.GenerateAccessToken("watchdog", "operator", tokenTTL)
		if err != nil {
			return "", fmt.Errorf("sign token: %w", err)
		}
		c.accessToken = token
		c.expiresAt = time.Now().Add(tokenTTL)
	}
	return "Bearer " + c.accessToken, nil
}

func (c *BridgeClient) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
		return req, nil
	}
	authz, err := c.ensureAuth()
	if err != nil {
		return nil, err
	}
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	return req, nil
}

// Health returns the bridge health. A 503 is a valid answer meaning
// "not connected", not an error.
func (c *BridgeClient) Health(ctx context.Context) (*HealthStatus, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/health")
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("health returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var h HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("decode health: %w", err)
	}
	return &h, nil
}

// Reauth asks the bridge to start a fresh session.
func (c *BridgeClient) Reauth(ctx context.Context) (string, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/reauth")
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("reauth request: %w", err)
	}
	defer resp.Body.Close()

	var res apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("decode reauth response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !res.Success {
		return res.State, fmt.Errorf("reauth failed (%d %s): %s", resp.StatusCode, res.Code, res.Error)
	}
	return res.State, nil
}
