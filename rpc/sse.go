package rpc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mcphostlib/mcphost/host"
	"github.com/mcphostlib/mcphost/protocol"
	"github.com/mcphostlib/mcphost/session"
)

const sseHeartbeatInterval = 15 * time.Second

// handleSSEUpgrade answers a single POST whose Accept header and message shape asked for an
// SSE upgrade (see wantsSSEUpgrade): it dispatches the message as usual, writes the result
// as the stream's first "response" event, then attaches the stream as the session's live
// sink for subsequent server-pushed events, exactly like the GET bridge stream does.
func (r *Router) handleSSEUpgrade(w http.ResponseWriter, req *http.Request, sessionID string, msg protocol.JSONRPCMessage) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	resp, newSessionID, err := r.Handle(req.Context(), sessionID, msg)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if newSessionID != "" {
		sessionID = newSessionID
	}
	state, ok := r.sessions.Get(sessionID)
	if !ok {
		http.Error(w, "unknown session id", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if newSessionID != "" {
		w.Header().Set(SessionIDHeader, newSessionID)
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := newPostSSESink(w, flusher)
	unregister := r.api.RegisterSamplingSink(&postSamplingSink{state: state})
	defer unregister()
	state.AttachSink(sink)
	defer state.DetachSink()

	if resp != nil {
		data, merr := json.Marshal(resp)
		if merr != nil || sink.Send(0, "response", data) != nil {
			return
		}
	}

	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()
	ctx := req.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if sink.heartbeat() != nil {
				return
			}
		}
	}
}

// postSSESink streams events for a POST-initiated SSE upgrade using the same id:/event:/
// data: framing bridge.sseSink writes for the GET stream.
type postSSESink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
}

func newPostSSESink(w http.ResponseWriter, flusher http.Flusher) *postSSESink {
	return &postSSESink{w: w, flusher: flusher}
}

// Send implements session.Sink.
func (s *postSSESink) Send(id int64, event string, data json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("sse sink closed")
	}
	if _, err := fmt.Fprintf(s.w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *postSSESink) heartbeat() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("sse sink closed")
	}
	if _, err := fmt.Fprint(s.w, ": heartbeat\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Close implements session.Sink. Idempotent, matching bridge.sseSink's contract.
func (s *postSSESink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// postSamplingSink registers a POST-initiated SSE upgrade as an SSE-tier sampling sink,
// the same role bridge.sessionSamplingSink plays for the GET stream and the WS peer. Kept
// local to rpc rather than reused from bridge, since bridge already imports rpc for
// SessionIDHeader and importing it back would cycle.
type postSamplingSink struct {
	state *session.State
}

func (s *postSamplingSink) Kind() host.SinkKind { return host.SinkKindSSE }

// DeliverSamplingRequest implements host.SamplingSink.
func (s *postSamplingSink) DeliverSamplingRequest(requestID, serverID string, params protocol.SamplingParams) error {
	s.state.TrackSampling(requestID)
	data, err := json.Marshal(map[string]any{
		"requestId": requestID,
		"serverId":  serverID,
		"params":    params,
	})
	if err != nil {
		return err
	}
	s.state.Enqueue("sampling_request", data)
	return nil
}
