package events

import "sync"

// DefaultSubscriberBuffer is the channel capacity handed to subscribers that do
// not request an explicit buffer size.
const DefaultSubscriberBuffer = 256

// Bus fans events out to any number of subscribers. Emission never blocks: a
// subscriber that falls behind its buffer loses events and must reconcile from
// the registry, which is why observers treat the stream as at-least-once and
// idempotent on escrow id + event kind.
type Bus struct {
	mu     sync.RWMutex
	subs   []chan Event
	closed bool

	dropMu  sync.Mutex
	dropped uint64
}

// NewBus returns an empty bus. The zero value is not usable.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a new subscriber and returns its receive channel. The
// channel is closed when the bus is closed.
func (b *Bus) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Emit implements the Emitter interface. Delivery to a full subscriber is
// skipped rather than blocking the caller.
func (b *Bus) Emit(evt Event) {
	if evt == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.dropMu.Lock()
			b.dropped++
			b.dropMu.Unlock()
		}
	}
}

// Dropped reports how many events were discarded because a subscriber buffer
// was full.
func (b *Bus) Dropped() uint64 {
	b.dropMu.Lock()
	defer b.dropMu.Unlock()
	return b.dropped
}

// Close closes all subscriber channels. Emit becomes a no-op afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
