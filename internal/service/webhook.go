package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"gowa-bridge/internal/model"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// SignatureHeader carries the hex HMAC-SHA256 of the body when a secret is set.
const SignatureHeader = "X-Gowa-Signature"

const webhookEventStateChanged = "state_changed"

type WebhookPayload struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type webhookTransition struct {
	HandleID   string `json:"handle_id"`
	Generation uint64 `json:"generation"`
	From       string `json:"from"`
	To         string `json:"to"`
	Cause      string `json:"cause"`
	Detail     string `json:"detail,omitempty"`
	HasQR      bool   `json:"has_qr"`
}

// WebhookNotifier posts every transition to one configured URL.
type WebhookNotifier struct {
	url             string
	secret          string
	client          *http.Client
	maxRetries      uint64
	initialInterval time.Duration
	log             zerolog.Logger
}

func NewWebhookNotifier(url, secret string, timeout time.Duration, log zerolog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		url:             url,
		secret:          secret,
		client:          &http.Client{Timeout: timeout},
		maxRetries:      3,
		initialInterval: 500 * time.Millisecond,
		log:             log.With().Str("component", "webhook").Logger(),
	}
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Notify delivers t, retrying 5xx answers and transport errors with
// exponential backoff. 4xx answers are not retried.
func (n *WebhookNotifier) Notify(ctx context.Context, t model.Transition) error {
	payload := WebhookPayload{
		Event:     webhookEventStateChanged,
		Timestamp: t.At.UTC(),
		Data: webhookTransition{
			HandleID:   t.HandleID,
			Generation: t.Generation,
			From:       string(t.From),
			To:         string(t.To),
			Cause:      t.Cause,
			Detail:     t.Detail,
			HasQR:      t.QR != nil,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	attempt := 0
	op := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("webhook: new request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		if n.secret != "" {
			req.Header.Set(SignatureHeader, Sign(n.secret, body))
		}

		resp, err := n.client.Do(req)
		if err != nil {
			return fmt.Errorf("webhook: send: %w", err)
		}
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("webhook: receiver answered %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("webhook: receiver rejected with %d", resp.StatusCode))
		}
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = n.initialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, n.maxRetries), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		n.log.Warn().Err(err).Int("attempts", attempt).Str("to", string(t.To)).Msg("webhook delivery failed")
		return err
	}
	n.log.Debug().Int("attempts", attempt).Str("to", string(t.To)).Msg("webhook delivered")
	return nil
}
