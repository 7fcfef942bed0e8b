// Package broker wraps maragu.dev/goqite as the job dispatch transport:
// one goqite-backed queue per region (name "region_<identifier>") plus a
// "default" queue, sharing the Job Store's SQLite file.
package broker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"maragu.dev/goqite"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/netctl/internal/models"
)

// ErrNoMessage is returned when a queue has nothing to deliver.
var ErrNoMessage = errors.New("no messages in queue")

// Broker manages one goqite queue per named destination, all backed by
// the same underlying database.
type Broker struct {
	db     *sql.DB
	logger arbor.ILogger

	mu     sync.Mutex
	queues map[string]*goqite.Queue
}

// New prepares the broker's shared goqite tables on db and returns a
// Broker ready to hand out per-queue handles.
func New(ctx context.Context, db *sql.DB, logger arbor.ILogger) (*Broker, error) {
	setupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := goqite.Setup(setupCtx, db); err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return nil, err
		}
	}
	return &Broker{db: db, logger: logger, queues: make(map[string]*goqite.Queue)}, nil
}

func (b *Broker) queue(name string) *goqite.Queue {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[name]; ok {
		return q
	}
	q := goqite.New(goqite.NewOpts{
		DB:   b.db,
		Name: name,
	})
	b.queues[name] = q
	return q
}

// QueueFor returns the queue name a job dispatches to: the region queue
// when regionID is set and known-available, else the default queue. The
// region-availability decision itself belongs to internal/region; this
// just derives the name from an already-chosen region identifier.
func QueueFor(regionIdentifier *string) string {
	if regionIdentifier == nil || *regionIdentifier == "" {
		return models.DefaultQueueName
	}
	return "region_" + *regionIdentifier
}

// Enqueue submits msg onto the named queue.
func (b *Broker) Enqueue(ctx context.Context, queueName string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.queue(queueName).Send(ctx, goqite.Message{Body: data})
}

// Receive pulls the next message from the named queue. The returned
// delete function must be called after successful processing; it uses a
// fresh, short-lived context so it still succeeds after a long-running
// handler has exhausted the receive context's deadline.
func (b *Broker) Receive(ctx context.Context, queueName string) (*Message, func() error, error) {
	q := b.queue(queueName)
	gMsg, err := q.Receive(ctx)
	if err != nil {
		return nil, nil, err
	}
	if gMsg == nil {
		return nil, nil, ErrNoMessage
	}

	var msg Message
	if err := json.Unmarshal(gMsg.Body, &msg); err != nil {
		return nil, nil, err
	}

	deleteFn := func() error {
		deleteCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return q.Delete(deleteCtx, gMsg.ID)
	}
	return &msg, deleteFn, nil
}

// Extend lengthens the visibility timeout of an in-flight message,
// called periodically by long-running handlers to prevent re-delivery.
func (b *Broker) Extend(ctx context.Context, queueName string, messageID goqite.ID, duration time.Duration) error {
	return b.queue(queueName).Extend(ctx, messageID, duration)
}
