package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// WaitReady polls url until the service inside the container answers. Any
// HTTP response counts, whatever the status code: a 404 still proves the
// application object loaded and is serving. Connection errors mean it is
// not up yet.
func WaitReady(ctx context.Context, logger *slog.Logger, url string, timeout, interval time.Duration) error {
	client := &http.Client{Timeout: interval}
	deadline := time.Now().Add(timeout)

	var lastErr error
	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			logger.Debug("Service answered", "url", url, "status", resp.StatusCode)
			return nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("no answer from %s within %s: %w", url, timeout, lastErr)
}
