package docker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docker/docker/client"
)

const (
	readyInterval = 500 * time.Millisecond
	readyTimeout  = 10 * time.Second
)

// WaitReady pings the daemon until it answers. Connection failures are
// retried until timeout; any other ping error is returned immediately.
func WaitReady(ctx context.Context, cli client.APIClient, timeout time.Duration) error {
	log := slog.With("component", "docker")
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(readyInterval)
	defer ticker.Stop()
	waiting := false
	for {
		_, err := cli.Ping(ctx)
		if err == nil {
			if waiting {
				log.Debug("Daemon reachable.")
			}
			return nil
		}
		if !client.IsErrConnectionFailed(err) {
			return fmt.Errorf("ping docker daemon: %w", err)
		}
		if !waiting {
			waiting = true
			log.Debug("Waiting for docker daemon.", "err", err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("docker daemon not reachable after %s: %w", timeout, err)
		case <-ticker.C:
		}
	}
}
