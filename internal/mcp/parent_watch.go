package mcp

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// DefaultParentPollInterval is how often WatchParent checks the parent PID.
var DefaultParentPollInterval = 2 * time.Second

// WatchParent cancels the server when the parent process goes away, so an
// orphaned stdio server does not linger after the client exits. It never
// reads stdin: the stdio transport owns it.
//
// The goroutine exits when ctx is canceled or parent death is detected.
func WatchParent(ctx context.Context, interval time.Duration, cancel context.CancelFunc, logger *slog.Logger) {
	if interval <= 0 {
		interval = DefaultParentPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	ppid := os.Getppid()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if os.Getppid() != ppid {
					logger.Warn("parent process exited, shutting down", "parent_pid", ppid)
					cancel()
					return
				}
			}
		}
	}()
}
