// Package chat delivers Events as chat messages to Slack incoming
// webhooks and Microsoft Teams connectors — the SubscriptionChatSlack and
// SubscriptionChatTeams kinds. Both providers accept a simple
// JSON POST to a per-channel webhook URL, so this adapter is the same
// bare *http.Client idiom as internal/publisher/webhook, formatting a
// provider-specific envelope instead of signing a generic payload.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/netctl/internal/models"
)

// Adapter posts a formatted summary of each Event to the subscription's
// Slack or Teams webhook URL, selecting the envelope by sub.Kind.
type Adapter struct {
	client *http.Client
}

// New builds a chat Adapter with a bounded HTTP client.
func New() *Adapter {
	return &Adapter{client: &http.Client{Timeout: 10 * time.Second}}
}

type slackMessage struct {
	Text string `json:"text"`
}

// teamsCard is a minimal MessageCard, the legacy but still-accepted Teams
// connector envelope.
type teamsCard struct {
	Type       string `json:"@type"`
	Context    string `json:"@context"`
	Summary    string `json:"summary"`
	ThemeColor string `json:"themeColor"`
	Text       string `json:"text"`
}

func (a *Adapter) Deliver(ctx context.Context, sub models.EventSubscription, event models.Event) error {
	text := fmt.Sprintf("[%s] %s for customer %s at %s", event.Type, event.ID, event.CustomerID, event.Timestamp.Format(time.RFC3339))

	var body []byte
	var err error
	switch sub.Kind {
	case models.SubscriptionChatTeams:
		body, err = json.Marshal(teamsCard{
			Type:       "MessageCard",
			Context:    "http://schema.org/extensions",
			Summary:    string(event.Type),
			ThemeColor: themeColorFor(event.Type),
			Text:       text,
		})
	default: // models.SubscriptionChatSlack
		body, err = json.Marshal(slackMessage{Text: text})
	}
	if err != nil {
		return fmt.Errorf("marshal chat message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("post chat message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("chat target returned status %d", resp.StatusCode)
	}
	return nil
}

func themeColorFor(t models.EventType) string {
	switch t {
	case models.EventJobFailed, models.EventComplianceViolation:
		return "D0021B"
	case models.EventJobPartial, models.EventDriftDetected:
		return "F5A623"
	default:
		return "7ED321"
	}
}
