package events

// Event is a structured record of one offer state transition.
type Event interface {
	EventType() string
}

// Emitter receives every event the engine produces. The node implements it
// to feed the read-side event log served over RPC.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards all events; the engine falls back to it until a real
// emitter is configured.
type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}
