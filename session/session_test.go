package session

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestManagerCreateGetDestroy(t *testing.T) {
	m := NewManager(time.Hour, nil, nil)
	defer m.Close()

	id := m.Create()
	if id == "" {
		t.Fatal("expected non-empty session id")
	}

	if _, ok := m.Get(id); !ok {
		t.Fatal("expected session to be retrievable immediately after creation")
	}

	if !m.Destroy(id) {
		t.Fatal("expected Destroy to report the session was removed")
	}
	if m.Destroy(id) {
		t.Fatal("expected second Destroy of the same id to report false")
	}
	if _, ok := m.Get(id); ok {
		t.Fatal("expected destroyed session to no longer be retrievable")
	}
}

func TestManagerDuplicateIDsNeverIssued(t *testing.T) {
	m := NewManager(time.Hour, nil, nil)
	defer m.Close()

	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		id := m.Create()
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate session id issued: %s", id)
		}
		seen[id] = struct{}{}
	}
}

func TestStateEventBufferMonotonicAndCapped(t *testing.T) {
	s := newState("s1")
	for i := 0; i < eventBufferSize+10; i++ {
		s.Enqueue("tick", json.RawMessage(`{}`))
	}

	events := s.Replay(-1)
	if len(events) != eventBufferSize {
		t.Fatalf("expected buffer capped at %d entries, got %d", eventBufferSize, len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].ID <= events[i-1].ID {
			t.Fatalf("expected strictly increasing event ids, got %d then %d", events[i-1].ID, events[i].ID)
		}
	}
}

func TestStateReplaySinceLastEventID(t *testing.T) {
	s := newState("s1")
	for i := 0; i < 5; i++ {
		s.Enqueue("tick", json.RawMessage(`{}`))
	}

	events := s.Replay(2)
	for _, e := range events {
		if e.ID <= 2 {
			t.Fatalf("expected only events with id > 2, got id %d", e.ID)
		}
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events after id 2 out of 5 total, got %d", len(events))
	}
}

type fakeSink struct {
	closed bool
	sent   int
}

func (f *fakeSink) Send(id int64, event string, data json.RawMessage) error {
	f.sent++
	return nil
}

func (f *fakeSink) Close() { f.closed = true }

func TestStateAttachSinkClosesPrevious(t *testing.T) {
	s := newState("s1")
	first := &fakeSink{}
	second := &fakeSink{}

	s.AttachSink(first)
	s.AttachSink(second)

	if !first.closed {
		t.Fatal("expected first sink to be closed when replaced")
	}
	if second.closed {
		t.Fatal("did not expect second sink to be closed")
	}
}

func TestDestroyFailsPendingSampling(t *testing.T) {
	var gotIDs []string
	var gotErr error
	failer := func(ids []string, err error) {
		gotIDs = ids
		gotErr = err
	}

	m := NewManager(time.Hour, failer, nil)
	defer m.Close()

	id := m.Create()
	s, _ := m.Get(id)
	s.TrackSampling("req-1")
	s.TrackSampling("req-2")

	m.Destroy(id)

	if len(gotIDs) != 2 {
		t.Fatalf("expected 2 pending sampling ids to be failed, got %d", len(gotIDs))
	}
	if !errors.Is(gotErr, errSessionClosed) {
		t.Fatalf("expected session-closed error, got %v", gotErr)
	}
}
