package session

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultIdleTTL  = time.Hour
	eventBufferSize = 100
	sweepInterval   = time.Minute
)

// BufferedEvent is one entry in a session's event replay buffer.
type BufferedEvent struct {
	ID    int64
	Event string
	Data  json.RawMessage
}

// Sink is anything a session can hand outbound events to: an open SSE stream or WS peer.
// Close must be idempotent.
type Sink interface {
	Send(id int64, event string, data json.RawMessage) error
	Close()
}

// State is the per-session record the Session Manager owns. Exported fields are read
// under the owning Manager's lock by callers via State accessor methods, never directly.
type State struct {
	ID           string
	createdAt    time.Time
	mu           sync.Mutex
	lastActivity time.Time

	head, tail int
	count      int
	nextID     int64
	buffer     [eventBufferSize]BufferedEvent

	sink          Sink
	subscriptions map[string]struct{}

	pendingSampling map[string]struct{}
}

func newState(id string) *State {
	now := time.Now()
	return &State{
		ID:              id,
		createdAt:       now,
		lastActivity:    now,
		subscriptions:   make(map[string]struct{}),
		pendingSampling: make(map[string]struct{}),
	}
}

func (s *State) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns when the session was last touched.
func (s *State) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Enqueue appends an event to the ring buffer, assigning it the next monotonic id, and
// forwards it to the current sink (if any); a forwarding failure marks the sink dead.
func (s *State) Enqueue(event string, data json.RawMessage) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	be := BufferedEvent{ID: id, Event: event, Data: data}
	if s.count == eventBufferSize {
		s.head = (s.head + 1) % eventBufferSize
		s.count--
	}
	s.buffer[s.tail] = be
	s.tail = (s.tail + 1) % eventBufferSize
	s.count++
	sink := s.sink
	s.mu.Unlock()

	if sink != nil {
		if err := sink.Send(id, event, data); err != nil {
			s.detachSink()
		}
	}
}

// Replay returns every buffered event with ID greater than lastEventID, in id order.
func (s *State) Replay(lastEventID int64) []BufferedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]BufferedEvent, 0, s.count)
	for i := 0; i < s.count; i++ {
		be := s.buffer[(s.head+i)%eventBufferSize]
		if be.ID > lastEventID {
			out = append(out, be)
		}
	}
	return out
}

// AttachSink installs sink as the session's active outbound channel, closing and
// discarding any prior sink first.
func (s *State) AttachSink(sink Sink) {
	s.mu.Lock()
	old := s.sink
	s.sink = sink
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

// DetachSink removes the session's active sink, if any, and closes it.
func (s *State) DetachSink() {
	s.detachSink()
}

func (s *State) detachSink() {
	s.mu.Lock()
	old := s.sink
	s.sink = nil
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

// Subscribe adds topic to the session's subscription set.
func (s *State) Subscribe(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[topic] = struct{}{}
}

// Unsubscribe removes topic from the session's subscription set.
func (s *State) Unsubscribe(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, topic)
}

// Subscribes reports whether the session is currently subscribed to topic.
func (s *State) Subscribes(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subscriptions[topic]
	return ok
}

// TrackSampling records that requestID is a pending sampling request owned by this
// session, so it can be failed en masse if the session is destroyed first.
func (s *State) TrackSampling(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingSampling[requestID] = struct{}{}
}

// UntrackSampling removes requestID once it has completed through any path.
func (s *State) UntrackSampling(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pendingSampling, requestID)
}

func (s *State) pendingSamplingIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.pendingSampling))
	for id := range s.pendingSampling {
		out = append(out, id)
	}
	return out
}

// SamplingFailer is invoked by the Manager to fail every pending sampling request owned by
// a session being destroyed, without the session package needing to know about the
// Sampling Broker directly.
type SamplingFailer func(requestIDs []string, err error)

// Manager owns every active session: creation, lookup, destruction, and idle eviction.
type Manager struct {
	logger  *slog.Logger
	idleTTL time.Duration
	failer  SamplingFailer

	mu       sync.RWMutex
	sessions map[string]*State

	ticker *time.Ticker
	done   chan struct{}
}

// NewManager constructs a Manager with the given idle TTL (0 selects the 1h default) and
// sampling failer callback, and starts its background sweep goroutine.
func NewManager(idleTTL time.Duration, failer SamplingFailer, logger *slog.Logger) *Manager {
	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		logger:   logger,
		idleTTL:  idleTTL,
		failer:   failer,
		sessions: make(map[string]*State),
		ticker:   time.NewTicker(sweepInterval),
		done:     make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

func (m *Manager) sweepLoop() {
	for {
		select {
		case <-m.ticker.C:
			m.sweep()
		case <-m.done:
			return
		}
	}
}

func (m *Manager) sweep() {
	cutoff := time.Now().Add(-m.idleTTL)
	m.mu.RLock()
	var stale []string
	for id, s := range m.sessions {
		if s.LastActivity().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		m.logger.Info("evicting idle session", slog.String("sessionID", id))
		m.Destroy(id)
	}
}

// Close stops the sweep goroutine. It does not destroy existing sessions.
func (m *Manager) Close() {
	m.ticker.Stop()
	close(m.done)
}

// Create allocates a new session with a fresh random id and returns it.
func (m *Manager) Create() string {
	id := uuid.New().String()
	m.mu.Lock()
	m.sessions[id] = newState(id)
	m.mu.Unlock()
	return id
}

// Get returns the session for id, touching its LastActivity, or false if unknown.
func (m *Manager) Get(id string) (*State, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		s.touch()
	}
	return s, ok
}

// Destroy tears down the session for id: closes its sink (if any), fails every pending
// sampling request it owns, and removes it from the registry. Reports whether a session
// was actually removed.
func (m *Manager) Destroy(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	pending := s.pendingSamplingIDs()
	s.detachSink()
	if len(pending) > 0 && m.failer != nil {
		m.failer(pending, errSessionClosed)
	}
	return true
}

// Count returns the number of currently live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// All returns a snapshot of every currently live session, for fan-out broadcast.
func (m *Manager) All() []*State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*State, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

var errSessionClosed = sessionClosedError{}

type sessionClosedError struct{}

func (sessionClosedError) Error() string { return "session closed" }
