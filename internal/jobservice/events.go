package jobservice

import (
	"context"

	"github.com/ternarybob/netctl/internal/models"
)

// EventEmitter is the Event Publisher's inbound face, as consumed by the
// Job Service. Kept as a narrow interface here so internal/jobservice does
// not depend on internal/publisher's delivery/retry machinery.
type EventEmitter interface {
	Emit(ctx context.Context, event models.Event) error
}

// NopEmitter discards every event; used where no Event Publisher is wired
// (e.g. focused unit tests).
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, models.Event) error { return nil }
