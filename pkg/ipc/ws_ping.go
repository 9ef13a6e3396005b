package ipc

import (
	"context"
	"log/slog"
	"time"
)

const (
	wsPingInterval = 20 * time.Second
	wsPingTimeout  = 5 * time.Second
)

type pinger interface {
	Ping(ctx context.Context) error
}

// keepAlive pings conn every interval until ctx ends. The first failed ping
// is logged and onDead is called so the connection gets torn down.
func keepAlive(ctx context.Context, conn pinger, interval time.Duration, log *slog.Logger, onDead func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, wsPingTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err == nil {
				continue
			}
			if ctx.Err() == nil {
				log.Debug("websocket ping failed", "error", err)
				onDead()
			}
			return
		}
	}
}
