// Package webhook delivers Events as signed JSON POSTs, the default
// EventSubscription kind: a bare *http.Client with a fixed timeout,
// HMAC-SHA256 request signing, and a per-target
// golang.org/x/time/rate.Limiter, since a webhook target is untrusted
// and the Publisher must not let one slow or flaky subscriber starve the
// shared delivery loop.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ternarybob/netctl/internal/models"
)

const signatureHeader = "X-Webhook-Signature-256"

// Adapter POSTs each Event to the subscription's target URL.
type Adapter struct {
	client *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	// RatePerSecond and Burst bound delivery attempts per subscriber.
	RatePerSecond float64
	Burst         int
}

// New builds a webhook Adapter with a bounded HTTP client and a default
// rate of 1 delivery/second, burst 5, per subscription.
func New() *Adapter {
	return &Adapter{
		client:        &http.Client{Timeout: 10 * time.Second},
		limiters:      make(map[string]*rate.Limiter),
		RatePerSecond: 1,
		Burst:         5,
	}
}

func (a *Adapter) limiterFor(subscriptionID string) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.limiters[subscriptionID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(a.RatePerSecond), a.Burst)
		a.limiters[subscriptionID] = l
	}
	return l
}

type payload struct {
	EventID    string      `json:"event_id"`
	EventType  string      `json:"event_type"`
	Timestamp  time.Time   `json:"timestamp"`
	CustomerID string      `json:"customer_id"`
	Payload    interface{} `json:"payload"`
}

// Deliver signs and POSTs event to sub.Target. Waiting on the per-subscriber
// limiter respects ctx's deadline, so a saturated target fails fast via
// DeliverTimeout rather than blocking the shared delivery loop indefinitely.
func (a *Adapter) Deliver(ctx context.Context, sub models.EventSubscription, event models.Event) error {
	if err := a.limiterFor(sub.ID).Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	body, err := json.Marshal(payload{
		EventID:    event.ID,
		EventType:  string(event.Type),
		Timestamp:  event.Timestamp,
		CustomerID: event.CustomerID,
		Payload:    event.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if sub.Secret != nil && *sub.Secret != "" {
		req.Header.Set(signatureHeader, sign(*sub.Secret, body))
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook target returned status %d", resp.StatusCode)
	}
	return nil
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
