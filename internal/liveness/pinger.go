// Package liveness keeps a "still working" indicator alive on a chat while a
// slow call is pending.
package liveness

import (
	"context"
	"sync"
	"time"
)

// DefaultInterval matches how long chat clients keep a typing indicator visible.
const DefaultInterval = 4 * time.Second

// Handle controls one running pinger.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Start calls onTick right away and then every interval until Stop is called
// or ctx is done. onTick receives a context that is cancelled by Stop.
func Start(ctx context.Context, interval time.Duration, onTick func(ctx context.Context)) *Handle {
	if interval <= 0 {
		interval = DefaultInterval
	}
	tickCtx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		if tickCtx.Err() == nil {
			onTick(tickCtx)
		}
		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C:
				// Stop may race with a pending tick.
				if tickCtx.Err() != nil {
					return
				}
				onTick(tickCtx)
			}
		}
	}()
	return h
}

// Stop ends the pinger and waits for an in-flight tick to return, so no tick
// happens after Stop returns. It is safe to call more than once.
func (h *Handle) Stop() {
	if h == nil {
		return
	}
	h.once.Do(h.cancel)
	<-h.done
}

// Guard runs fn with a pinger active and stops the pinger on every exit path.
func Guard(ctx context.Context, interval time.Duration, onTick func(ctx context.Context), fn func(ctx context.Context) error) error {
	h := Start(ctx, interval, onTick)
	defer h.Stop()
	return fn(ctx)
}
