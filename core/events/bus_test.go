package events

import (
	"testing"
	"time"
)

type testEvent struct {
	kind string
}

func (e testEvent) EventType() string { return e.kind }

func TestBusFanOut(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	first := bus.Subscribe(4)
	second := bus.Subscribe(4)

	bus.Emit(testEvent{kind: "escrow.created"})
	bus.Emit(testEvent{kind: "escrow.funded"})

	for name, ch := range map[string]<-chan Event{"first": first, "second": second} {
		for _, want := range []string{"escrow.created", "escrow.funded"} {
			select {
			case evt := <-ch:
				if evt.EventType() != want {
					t.Fatalf("%s subscriber: got %q, want %q", name, evt.EventType(), want)
				}
			case <-time.After(time.Second):
				t.Fatalf("%s subscriber: timed out waiting for %q", name, want)
			}
		}
	}
}

func TestBusEmitNeverBlocks(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	bus.Subscribe(1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Emit(testEvent{kind: "escrow.created"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full subscriber")
	}
	if bus.Dropped() == 0 {
		t.Fatal("expected dropped events to be counted")
	}
}

func TestBusCloseClosesSubscribers(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(1)
	bus.Close()

	if _, ok := <-ch; ok {
		t.Fatal("expected subscriber channel to be closed")
	}
	// Emit after close must be a silent no-op.
	bus.Emit(testEvent{kind: "escrow.created"})
}
