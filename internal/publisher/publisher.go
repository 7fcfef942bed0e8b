package publisher

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/netctl/internal/models"
)

// Publisher implements jobservice.EventEmitter: every call to Emit persists
// the Event once, then fans it out into one pending EventDelivery row per
// matching, enabled EventSubscription. The Service in loop.go drains that
// table; Emit itself never makes a network call, so a CreateJob/SetStatus
// caller never blocks on a slow subscriber the way a direct webhook POST
// in-line with the job lifecycle would.
type Publisher struct {
	store  SubscriptionStore
	logger arbor.ILogger
}

// New builds a Publisher over store.
func New(store SubscriptionStore, logger arbor.ILogger) *Publisher {
	return &Publisher{store: store, logger: logger}
}

// Emit satisfies jobservice.EventEmitter. Failures to save the event or to
// list its subscriptions are returned; a failure to create one delivery
// row is logged and that subscription is skipped.
func (p *Publisher) Emit(ctx context.Context, event models.Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if err := p.store.SaveEvent(ctx, event); err != nil {
		return fmt.Errorf("save event: %w", err)
	}

	subs, err := p.store.SubscriptionsForEvent(ctx, event.CustomerID, event.Type)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	for _, sub := range subs {
		delivery := &models.EventDelivery{
			ID:             uuid.New().String(),
			SubscriptionID: sub.ID,
			EventID:        event.ID,
			Attempt:        0,
			NextAttemptAt:  event.Timestamp,
			Status:         models.DeliveryPending,
		}
		if err := p.store.CreateDelivery(ctx, delivery); err != nil {
			p.logger.Warn().Str("subscription_id", sub.ID).Str("event_id", event.ID).Err(err).
				Msg("failed to schedule event delivery")
		}
	}
	return nil
}
