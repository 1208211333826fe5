package host

import (
	"sync"

	"github.com/mcphostlib/mcphost/protocol"
)

// Event is the marker interface for every value the Host Core emits. Consumers (the
// bridge package, in-process embedders) type-switch on the concrete event.
type Event interface {
	isHostEvent()
}

// ServerConnectedEvent fires once connectServer completes successfully.
type ServerConnectedEvent struct {
	ServerID string
}

// ServerDisconnectedEvent fires when a live client's Connect call returns, whether from a
// deliberate Stop or an unexpected transport failure. Err is nil for a clean shutdown.
type ServerDisconnectedEvent struct {
	ServerID string
	Err      error
}

// ServerErrorEvent fires when a configured server cannot be connected: either its
// transport cannot be built or its connect handshake fails.
type ServerErrorEvent struct {
	ServerID string
	Err      error
}

// CapabilitiesUpdatedEvent fires after any change to the aggregated tool/resource/
// resource-template/prompt maps, and once after Start/Stop complete.
type CapabilitiesUpdatedEvent struct{}

// ResourceUpdatedEvent fires when a subscribed resource changes on its owning server.
type ResourceUpdatedEvent struct {
	ServerID string
	URI      string
}

// SamplingRequestEvent fires when a server issues a createMessage request that the
// Sampling Broker must relay to an external sink.
type SamplingRequestEvent struct {
	RequestID string
	ServerID  string
	Params    protocol.SamplingParams
}

// LogEvent fires when a server emits a log message, re-tagged with a composite level of
// the form "server-<lvl>" (for example "server-warning").
type LogEvent struct {
	ServerID string
	Level    string
	Params   protocol.LogParams
}

func (ServerConnectedEvent) isHostEvent()     {}
func (ServerDisconnectedEvent) isHostEvent()  {}
func (ServerErrorEvent) isHostEvent()         {}
func (CapabilitiesUpdatedEvent) isHostEvent() {}
func (ResourceUpdatedEvent) isHostEvent()     {}
func (SamplingRequestEvent) isHostEvent()     {}
func (LogEvent) isHostEvent()                 {}

// Broadcaster fans Events out to every currently registered listener channel. Listeners
// are registered with Subscribe and must drain their channel promptly: a full listener
// channel causes that event to be dropped for that listener rather than blocking the
// emitter (no back-pressure guarantee, per the design's event model).
type Broadcaster struct {
	mu        sync.Mutex
	listeners map[int]chan Event
	nextID    int
}

// NewBroadcaster returns a ready-to-use Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{listeners: make(map[int]chan Event)}
}

// Subscribe registers a new listener with the given buffer size and returns its channel
// plus an unsubscribe function. The returned channel is closed by Unsubscribe.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.listeners[id] = ch
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.listeners[id]; ok {
			delete(b.listeners, id)
			close(c)
		}
	}
	return ch, unsubscribe
}

// Emit delivers ev to every currently registered listener, best-effort.
func (b *Broadcaster) Emit(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
}
