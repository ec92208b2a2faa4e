// Package presence derives the connected/disconnected indicator the UI
// renders from channel lifecycle events.
package presence

import (
	"context"
	"sync"

	"github.com/taskora/chatsync/internal/bus"
)

// Tracker exposes whether the relay channel is currently open. It is a pure
// consumer of channel lifecycle events; nothing else feeds it.
type Tracker struct {
	bus    *bus.Bus
	cancel context.CancelFunc

	mu        sync.RWMutex
	connected bool
}

// NewTracker creates a tracker. It reports disconnected until the first
// channel.connected event.
func NewTracker(b *bus.Bus) *Tracker {
	return &Tracker{bus: b}
}

// Start subscribes to channel lifecycle events.
func (t *Tracker) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	ch, unsub := t.bus.Subscribe("channel.", 64)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				switch evt.Kind {
				case bus.KindChannelConnected:
					t.set(true)
				case bus.KindChannelDisconnected:
					t.set(false)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the tracker.
func (t *Tracker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
}

// Connected reports whether the channel is open.
func (t *Tracker) Connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

func (t *Tracker) set(connected bool) {
	t.mu.Lock()
	changed := t.connected != connected
	t.connected = connected
	t.mu.Unlock()
	if changed {
		t.bus.Emit(bus.KindPresenceChanged, connected)
	}
}
