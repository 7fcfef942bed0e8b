// Package publisher is the Event Publisher: a durable pull-loop over an
// EventDelivery table that fans each post-transition Event out to every
// matching EventSubscription, via a small per-kind Adapter registry
// (webhook, chat, email, gitexport). The package owns its own
// event_subscriptions/event_deliveries/events tables directly over the
// *sql.DB the Job Store's SQLite file already carries, rather than
// routing through store.Store.
package publisher

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/netctl/internal/models"
)

// SubscriptionStore is the Event Publisher's persistence contract.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, sub *models.EventSubscription) (*models.EventSubscription, error)
	Subscriptions(ctx context.Context, customerID string) ([]models.EventSubscription, error)
	SubscriptionsForEvent(ctx context.Context, customerID string, t models.EventType) ([]models.EventSubscription, error)
	SubscriptionByID(ctx context.Context, id string) (*models.EventSubscription, error)
	SaveEvent(ctx context.Context, event models.Event) error
	EventByID(ctx context.Context, id string) (*models.Event, error)
	CreateDelivery(ctx context.Context, d *models.EventDelivery) error
	DueDeliveries(ctx context.Context, now time.Time, limit int) ([]*models.EventDelivery, error)
	MarkDelivered(ctx context.Context, id string) error
	MarkRetry(ctx context.Context, id string, attempt int, nextAttemptAt time.Time, lastErr string) error
	MarkFailed(ctx context.Context, id string, lastErr string) error
}

// SQLStore implements SubscriptionStore over a shared *sql.DB, the same
// database internal/broker's goqite tables live in.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore prepares the Event Publisher's tables on db (idempotent,
// matching internal/broker.New's goqite.Setup self-migration) and returns
// a ready SQLStore.
func NewSQLStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	s := &SQLStore{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			customer_id TEXT NOT NULL,
			payload TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS event_subscriptions (
			id TEXT PRIMARY KEY,
			customer_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			target TEXT NOT NULL,
			secret TEXT,
			event_types TEXT,
			enabled INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS event_deliveries (
			id TEXT PRIMARY KEY,
			subscription_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			attempt INTEGER NOT NULL DEFAULT 0,
			next_attempt_at INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			last_error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_event_deliveries_status ON event_deliveries(status, next_attempt_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("publisher schema %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *SQLStore) CreateSubscription(ctx context.Context, sub *models.EventSubscription) (*models.EventSubscription, error) {
	eventTypes, err := json.Marshal(sub.EventTypes)
	if err != nil {
		return nil, err
	}
	var secret sql.NullString
	if sub.Secret != nil {
		secret = sql.NullString{String: *sub.Secret, Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO event_subscriptions (id, customer_id, kind, target, secret, event_types, enabled)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.CustomerID, string(sub.Kind), sub.Target, secret, string(eventTypes), boolToInt(sub.Enabled))
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *SQLStore) Subscriptions(ctx context.Context, customerID string) ([]models.EventSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, customer_id, kind, target, secret, event_types, enabled FROM event_subscriptions WHERE customer_id = ?`,
		customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func (s *SQLStore) SubscriptionsForEvent(ctx context.Context, customerID string, t models.EventType) ([]models.EventSubscription, error) {
	all, err := s.Subscriptions(ctx, customerID)
	if err != nil {
		return nil, err
	}
	var out []models.EventSubscription
	for _, sub := range all {
		if sub.Wants(t) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *SQLStore) SubscriptionByID(ctx context.Context, id string) (*models.EventSubscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, customer_id, kind, target, secret, event_types, enabled FROM event_subscriptions WHERE id = ?`, id)
	var sub models.EventSubscription
	var kind string
	var secret sql.NullString
	var eventTypesJSON string
	var enabled int
	if err := row.Scan(&sub.ID, &sub.CustomerID, &kind, &sub.Target, &secret, &eventTypesJSON, &enabled); err != nil {
		return nil, err
	}
	sub.Kind = models.SubscriptionKind(kind)
	if secret.Valid {
		v := secret.String
		sub.Secret = &v
	}
	if eventTypesJSON != "" {
		if err := json.Unmarshal([]byte(eventTypesJSON), &sub.EventTypes); err != nil {
			return nil, err
		}
	}
	sub.Enabled = enabled != 0
	return &sub, nil
}

func scanSubscriptions(rows *sql.Rows) ([]models.EventSubscription, error) {
	var out []models.EventSubscription
	for rows.Next() {
		var sub models.EventSubscription
		var kind string
		var secret sql.NullString
		var eventTypesJSON string
		var enabled int
		if err := rows.Scan(&sub.ID, &sub.CustomerID, &kind, &sub.Target, &secret, &eventTypesJSON, &enabled); err != nil {
			return nil, err
		}
		sub.Kind = models.SubscriptionKind(kind)
		if secret.Valid {
			v := secret.String
			sub.Secret = &v
		}
		if eventTypesJSON != "" {
			if err := json.Unmarshal([]byte(eventTypesJSON), &sub.EventTypes); err != nil {
				return nil, err
			}
		}
		sub.Enabled = enabled != 0
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *SQLStore) SaveEvent(ctx context.Context, event models.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (id, type, timestamp, customer_id, payload) VALUES (?, ?, ?, ?, ?)`,
		event.ID, string(event.Type), event.Timestamp.UnixMilli(), event.CustomerID, string(payload))
	return err
}

func (s *SQLStore) EventByID(ctx context.Context, id string) (*models.Event, error) {
	var evt models.Event
	var typ string
	var ts int64
	var payload string
	row := s.db.QueryRowContext(ctx, `SELECT id, type, timestamp, customer_id, payload FROM events WHERE id = ?`, id)
	if err := row.Scan(&evt.ID, &typ, &ts, &evt.CustomerID, &payload); err != nil {
		return nil, err
	}
	evt.Type = models.EventType(typ)
	evt.Timestamp = time.UnixMilli(ts).UTC()
	var raw json.RawMessage = []byte(payload)
	evt.Payload = raw
	return &evt, nil
}

func (s *SQLStore) CreateDelivery(ctx context.Context, d *models.EventDelivery) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO event_deliveries (id, subscription_id, event_id, attempt, next_attempt_at, status, last_error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.SubscriptionID, d.EventID, d.Attempt, d.NextAttemptAt.UnixMilli(), string(d.Status), nullableString(d.LastError))
	return err
}

func (s *SQLStore) DueDeliveries(ctx context.Context, now time.Time, limit int) ([]*models.EventDelivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subscription_id, event_id, attempt, next_attempt_at, status, last_error
		 FROM event_deliveries WHERE status = 'pending' AND next_attempt_at <= ? ORDER BY next_attempt_at ASC LIMIT ?`,
		now.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.EventDelivery
	for rows.Next() {
		var d models.EventDelivery
		var status string
		var lastErr sql.NullString
		var nextAttempt int64
		if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventID, &d.Attempt, &nextAttempt, &status, &lastErr); err != nil {
			return nil, err
		}
		d.Status = models.DeliveryStatus(status)
		d.NextAttemptAt = time.UnixMilli(nextAttempt).UTC()
		if lastErr.Valid {
			v := lastErr.String
			d.LastError = &v
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (s *SQLStore) MarkDelivered(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE event_deliveries SET status = 'delivered', last_error = NULL WHERE id = ?`, id)
	return err
}

func (s *SQLStore) MarkRetry(ctx context.Context, id string, attempt int, nextAttemptAt time.Time, lastErr string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE event_deliveries SET attempt = ?, next_attempt_at = ?, last_error = ? WHERE id = ?`,
		attempt, nextAttemptAt.UnixMilli(), lastErr, id)
	return err
}

func (s *SQLStore) MarkFailed(ctx context.Context, id string, lastErr string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE event_deliveries SET status = 'failed', last_error = ? WHERE id = ?`, lastErr, id)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
