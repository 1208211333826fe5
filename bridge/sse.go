package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mcphostlib/mcphost/host"
	"github.com/mcphostlib/mcphost/rpc"
	"github.com/mcphostlib/mcphost/session"
)

const heartbeatInterval = 15 * time.Second

// sseSink writes session events directly onto an http.ResponseWriter using the id:/event:/
// data: line framing, rather than going through protocol's go-sse-based session model, since
// it owns replay and heartbeats that model doesn't expose hooks for.
type sseSink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
}

func newSSESink(w http.ResponseWriter, flusher http.Flusher) *sseSink {
	return &sseSink{w: w, flusher: flusher}
}

// Send implements session.Sink.
func (s *sseSink) Send(id int64, event string, data json.RawMessage) error {
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

func (s *sseSink) heartbeat() error {
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

// Close implements session.Sink. It is idempotent and safe to call from both the owning
// HandleSSE goroutine and a later AttachSink replacing this sink.
func (s *sseSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// HandleSSE returns an http.Handler serving the event stream leg of the MCP endpoint. It
// requires a session id (the caller has already resolved one from the Mcp-Session-Id
// header or failed the request before reaching here) and an Accept header that includes
// text/event-stream (406 otherwise), and replays buffered events newer than Last-Event-ID
// before attaching as the session's live sink. shutdown is canceled by
// the Lifecycle Supervisor during graceful shutdown so every open stream detaches promptly.
func HandleSSE(shutdown context.Context, api host.API, sessions *session.Manager, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.Header.Get(rpc.SessionIDHeader)
		state, ok := sessions.Get(sessionID)
		if !ok {
			http.Error(w, "unknown session id", http.StatusNotFound)
			return
		}
		if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
			http.Error(w, "Accept must include text/event-stream", http.StatusNotAcceptable)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "\n")
		flusher.Flush()

		sink := newSSESink(w, flusher)

		if raw := r.Header.Get("Last-Event-ID"); raw != "" {
			lastID, err := strconv.ParseInt(raw, 10, 64)
			if err == nil {
				for _, ev := range state.Replay(lastID) {
					if err := sink.Send(ev.ID, ev.Event, ev.Data); err != nil {
						return
					}
				}
			}
		}

		unregister := api.RegisterSamplingSink(&sessionSamplingSink{state: state, kind: host.SinkKindSSE})
		defer unregister()
		state.AttachSink(sink)
		defer state.DetachSink()

		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()

		ctx, cancel := mergeCancel(r.Context(), shutdown)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := sink.heartbeat(); err != nil {
					logger.Debug("sse heartbeat failed, detaching", slog.String("sessionID", sessionID), slog.Any("err", err))
					return
				}
			}
		}
	}
}
