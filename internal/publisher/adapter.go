package publisher

import (
	"context"

	"github.com/ternarybob/netctl/internal/models"
)

// Adapter delivers one Event to one EventSubscription's target. An error
// return marks the attempt failed and schedules a BackoffFor retry; nil
// marks the delivery row delivered. Adapters must not retry internally —
// retry scheduling is the Service's job so every attempt is visible in the
// durable event_deliveries table.
type Adapter interface {
	Deliver(ctx context.Context, sub models.EventSubscription, event models.Event) error
}

// Registry maps a SubscriptionKind to the Adapter that serves it.
type Registry map[models.SubscriptionKind]Adapter
