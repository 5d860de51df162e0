package store

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

const (
	busyMaxAttempts = 3
	busyBaseDelay   = 50 * time.Millisecond
)

// isConflictError reports SQLITE_BUSY and "database is locked" failures,
// both of which clear up once the competing writer finishes.
func isConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// withBusyRetry runs op, retrying lock conflicts with exponential backoff: 50ms, 100ms.
func withBusyRetry(ctx context.Context, name string, op func() error) error {
	var err error
	for i := 0; i < busyMaxAttempts; i++ {
		err = op()
		if err == nil || !isConflictError(err) {
			return err
		}
		if i == busyMaxAttempts-1 {
			break
		}
		delay := busyBaseDelay * time.Duration(1<<i)
		slog.Debug("sqlite write busy, retrying", "op", name, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
