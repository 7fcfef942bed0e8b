package publisher

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/netctl/internal/models"
)

// Config tunes the delivery loop's poll cadence and retry ceiling.
type Config struct {
	PollInterval   time.Duration
	BatchSize      int
	MaxRetries     int
	DeliverTimeout time.Duration
}

// Service is the Event Publisher's delivery loop: a single-instance
// ticker that pulls due EventDelivery rows and dispatches each to the
// Adapter registered for its subscription's kind.
type Service struct {
	store    SubscriptionStore
	adapters Registry
	config   Config
	logger   arbor.ILogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService builds the delivery loop Service.
func NewService(store SubscriptionStore, adapters Registry, config Config, logger arbor.ILogger) *Service {
	if config.PollInterval <= 0 {
		config.PollInterval = 10 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.DeliverTimeout <= 0 {
		config.DeliverTimeout = 10 * time.Second
	}
	return &Service{store: store, adapters: adapters, config: config, logger: logger}
}

// Start launches the poll loop as a background goroutine.
func (s *Service) Start() {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go s.loop()
	s.logger.Info().Dur("poll_interval", s.config.PollInterval).Msg("event publisher started")
}

// Stop cancels the poll loop and waits for the in-flight tick to finish.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info().Msg("event publisher stopped")
}

func (s *Service) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.deliverDue(s.ctx)
		}
	}
}

// deliverDue drains up to BatchSize due deliveries, dispatching each to its
// subscription's Adapter and applying models.BackoffFor on failure up to
// MaxRetries, after which the delivery is marked failed permanently. A
// delivery for an unknown subscription kind is marked failed immediately —
// no adapter will ever pick it up.
func (s *Service) deliverDue(ctx context.Context) {
	now := time.Now().UTC()
	due, err := s.store.DueDeliveries(ctx, now, s.config.BatchSize)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to list due event deliveries")
		return
	}
	for _, delivery := range due {
		s.attempt(ctx, delivery)
	}
}

func (s *Service) attempt(ctx context.Context, delivery *models.EventDelivery) {
	sub, err := s.store.SubscriptionByID(ctx, delivery.SubscriptionID)
	if err != nil {
		s.logger.Warn().Str("delivery_id", delivery.ID).Err(err).Msg("subscription lookup failed, marking delivery failed")
		_ = s.store.MarkFailed(ctx, delivery.ID, "subscription not found: "+err.Error())
		return
	}
	event, err := s.store.EventByID(ctx, delivery.EventID)
	if err != nil {
		s.logger.Warn().Str("delivery_id", delivery.ID).Err(err).Msg("event lookup failed, marking delivery failed")
		_ = s.store.MarkFailed(ctx, delivery.ID, "event not found: "+err.Error())
		return
	}

	adapter, ok := s.adapters[sub.Kind]
	if !ok {
		s.logger.Warn().Str("delivery_id", delivery.ID).Str("kind", string(sub.Kind)).Msg("no adapter registered for subscription kind")
		_ = s.store.MarkFailed(ctx, delivery.ID, "no adapter registered for kind "+string(sub.Kind))
		return
	}

	deliverCtx, cancel := context.WithTimeout(ctx, s.config.DeliverTimeout)
	err = adapter.Deliver(deliverCtx, *sub, *event)
	cancel()

	if err == nil {
		if err := s.store.MarkDelivered(ctx, delivery.ID); err != nil {
			s.logger.Warn().Str("delivery_id", delivery.ID).Err(err).Msg("failed to mark delivery delivered")
		}
		return
	}

	attempt := delivery.Attempt + 1
	if attempt >= s.config.MaxRetries {
		s.logger.Warn().Str("delivery_id", delivery.ID).Int("attempt", attempt).Err(err).
			Msg("event delivery exhausted retries, marking failed")
		_ = s.store.MarkFailed(ctx, delivery.ID, err.Error())
		return
	}

	next := time.Now().UTC().Add(models.BackoffFor(attempt))
	if markErr := s.store.MarkRetry(ctx, delivery.ID, attempt, next, err.Error()); markErr != nil {
		s.logger.Warn().Str("delivery_id", delivery.ID).Err(markErr).Msg("failed to schedule delivery retry")
	}
}
