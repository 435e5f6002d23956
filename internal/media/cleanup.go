package media

import (
	"context"
	"time"
)

// StartCleanupTicker runs a background goroutine that periodically removes
// artifacts older than retention. A retention of 0 disables cleanup. The
// goroutine stops when ctx is cancelled.
func StartCleanupTicker(ctx context.Context, store *Store, retention, interval time.Duration) {
	if retention <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := store.RemoveOlderThan(retention)
				if err != nil {
					store.logger.Error("audio retention cleanup failed", "error", err)
					continue
				}
				if removed > 0 {
					store.logger.Info("audio retention cleanup", "deleted", removed, "retention", retention)
				}
			}
		}
	}()
}
