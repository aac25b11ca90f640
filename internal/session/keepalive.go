package session

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// Keepalive pings a connection on a fixed interval until stopped, the write
// fails, or too many pings go unanswered.
type Keepalive struct {
	conn      interfaces.Connection
	interval  time.Duration
	maxMissed int32
	missed    atomic.Int32
	cancel    context.CancelFunc
	done      chan struct{}
	log       *slog.Logger
}

// StartKeepalive launches the ping loop. The first ping goes out one
// interval after the start.
func StartKeepalive(ctx context.Context, conn interfaces.Connection, interval time.Duration, maxMissed int, log *slog.Logger) *Keepalive {
	ctx, cancel := context.WithCancel(ctx)
	k := &Keepalive{
		conn:      conn,
		interval:  interval,
		maxMissed: int32(maxMissed),
		cancel:    cancel,
		done:      make(chan struct{}),
		log:       log,
	}
	go k.run(ctx)
	return k
}

func (k *Keepalive) run(ctx context.Context) {
	defer close(k.done)

	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if k.maxMissed > 0 && k.missed.Load() >= k.maxMissed {
				k.log.Warn("Closing connection after missed pongs", "missed", k.missed.Load())
				_ = k.conn.Close()
				return
			}
			k.missed.Add(1)
			if err := k.conn.WriteJSON(types.NewPingFrame()); err != nil {
				k.log.Debug("Keepalive ping failed", "error", err)
				return
			}
			k.log.Debug("Keepalive ping sent")
		}
	}
}

// Pong records a liveness reply.
func (k *Keepalive) Pong() {
	k.missed.Store(0)
}

// Missed returns the number of pings sent since the last pong.
func (k *Keepalive) Missed() int {
	return int(k.missed.Load())
}

// Done is closed when the ping loop has exited.
func (k *Keepalive) Done() <-chan struct{} {
	return k.done
}

// Stop cancels the loop and waits for it. No ping is written after Stop
// returns.
func (k *Keepalive) Stop() {
	k.cancel()
	<-k.done
}
