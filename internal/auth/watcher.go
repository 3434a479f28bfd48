package auth

import (
	"context"
	"log/slog"
	"time"
)

// StartExpiryWatcher periodically checks the held token and forces a
// sign-out once it has expired. It stops when ctx is done.
func StartExpiryWatcher(ctx context.Context, c *Controller, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Token expiry watcher started", "interval", interval)

		for {
			select {
			case <-ticker.C:
				c.expireIfStale(ctx)
			case <-ctx.Done():
				slog.Info("Token expiry watcher shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (c *Controller) expireIfStale(ctx context.Context) bool {
	if !c.IsAuthenticated() {
		return false
	}
	if err := CheckToken(c.Token(), c.now()); err != nil {
		return c.HandleAuthError(ctx, err)
	}
	return false
}
