package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
)

// retryBusy retries operation with exponential back-off when SQLite
// reports the database is locked. Any other error returns immediately.
func retryBusy(ctx context.Context, logger arbor.ILogger, operation func() error) error {
	delay := 50 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= 5; attempt++ {
		lastErr = operation()
		if lastErr == nil {
			return nil
		}
		msg := lastErr.Error()
		if !strings.Contains(msg, "database is locked") && !strings.Contains(msg, "SQLITE_BUSY") {
			return lastErr
		}
		if attempt == 5 {
			break
		}
		logger.Warn().Int("attempt", attempt).Str("delay", delay.String()).Err(lastErr).Msg("database locked, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	logger.Error().Err(lastErr).Msg("exhausted retries for locked database")
	return lastErr
}
