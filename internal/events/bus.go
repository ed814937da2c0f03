package events

import (
	"context"
	"sync"
	"time"
)

// Bus is a lightweight pub/sub broker using channels.
type Bus struct {
	mu   sync.RWMutex
	subs map[Event][]chan any
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]chan any)}
}

// Subscribe registers a listener for an event and returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	return b.SubscribeReplay(e, buffer, nil)
}

// SubscribeReplay is Subscribe, but the channel first receives the replayer's
// current payload for e (if any). Later publishes are queued behind it.
func (b *Bus) SubscribeReplay(e Event, buffer int, r Replayer) (<-chan any, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan any, buffer)

	b.mu.Lock()
	if r != nil {
		if payload, ok := r.Replay(e); ok {
			ch <- payload
		}
	}
	b.subs[e] = append(b.subs[e], ch)
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[e]
			for i, c := range subs {
				if c == ch {
					close(c)
					b.subs[e] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
		})
	}

	return ch, unsub
}

// Publish fans the payload out without blocking. A subscriber whose buffer
// is full loses its oldest queued payload so the newest one is delivered.
func (b *Bus) Publish(e Event, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e] {
		select {
		case ch <- payload:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- payload:
		default:
			// another publisher refilled it; this payload is superseded anyway
		}
	}
}

// Subscribers returns the number of listeners on e.
func (b *Bus) Subscribers(e Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[e])
}

// RunHeartbeat publishes a Heartbeat every interval until ctx is done.
func (b *Bus) RunHeartbeat(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-ticker.C:
			b.Publish(EventHeartbeat, Heartbeat{Time: t.UTC()})
		}
	}
}
