package events

// Event represents a structured state change emitted by the escrow registry.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. webhooks, metrics,
// notification fan-out).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events. It
// is the default for components that expose events optionally.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}
