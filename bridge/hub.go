package bridge

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mcphostlib/mcphost/host"
	"github.com/mcphostlib/mcphost/protocol"
	"github.com/mcphostlib/mcphost/session"
)

// sessionSamplingSink delivers a server-initiated sampling request into a session's own
// event stream (buffered, replayed, sent through whichever channel, SSE or WS, is
// currently attached), rather than writing directly to a transport. This keeps sampling
// delivery uniform across both bridge endpoints; kind tags which one so the broker can
// rank a WS registration above an SSE one.
type sessionSamplingSink struct {
	state *session.State
	kind  host.SinkKind
}

// Kind implements host.SamplingSink.
func (s *sessionSamplingSink) Kind() host.SinkKind { return s.kind }

// DeliverSamplingRequest implements host.SamplingSink.
func (s *sessionSamplingSink) DeliverSamplingRequest(requestID, serverID string, params protocol.SamplingParams) error {
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

// Hub fans host events out to every session whose subscriptions match, implementing the
// broadcast half of the bridge: the Session Manager and the individual sink types (sseSink,
// wsConnection) implement delivery and buffering, the Hub decides who receives what.
type Hub struct {
	api      host.API
	sessions *session.Manager
	logger   *slog.Logger
}

// NewHub builds a Hub over api and sessions.
func NewHub(api host.API, sessions *session.Manager, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{api: api, sessions: sessions, logger: logger}
}

// mergeCancel returns a context canceled when either a or b is done, so a long-lived
// per-connection loop can honor both its own request's cancellation and a server-wide
// shutdown signal. net/http's Server.Shutdown does not cancel in-flight handlers' request
// contexts on its own, so HandleSSE/HandleWS need this to unblock promptly at shutdown.
func mergeCancel(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() { stop(); cancel() }
}

// Run subscribes to the Host Core's event stream and dispatches until ctx is canceled.
func (h *Hub) Run(ctx context.Context) {
	events, unsubscribe := h.api.Events(256)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.dispatch(ev)
		}
	}
}

func (h *Hub) dispatch(ev host.Event) {
	switch e := ev.(type) {
	case host.ServerConnectedEvent:
		h.broadcast("serverConnected", map[string]any{"serverId": e.ServerID}, "", "", true)
	case host.ServerDisconnectedEvent:
		payload := map[string]any{"serverId": e.ServerID}
		if e.Err != nil {
			payload["error"] = e.Err.Error()
		}
		h.broadcast("serverDisconnected", payload, "", "", true)
	case host.ServerErrorEvent:
		h.broadcast("serverError", map[string]any{"serverId": e.ServerID, "error": e.Err.Error()}, "", e.ServerID, false)
	case host.CapabilitiesUpdatedEvent:
		h.broadcast("capabilitiesUpdated", map[string]any{}, "", "", true)
	case host.ResourceUpdatedEvent:
		h.broadcast("resourceUpdated", map[string]any{"serverId": e.ServerID, "uri": e.URI}, e.URI, e.ServerID, false)
	case host.SamplingRequestEvent:
		h.broadcast("sampling_request", map[string]any{"requestId": e.RequestID, "serverId": e.ServerID, "params": e.Params}, "", e.ServerID, false)
	case host.LogEvent:
		h.broadcast("log", map[string]any{"serverId": e.ServerID, "level": e.Level, "params": e.Params}, "", e.ServerID, false)
	default:
		h.logger.Warn("unrecognized host event type in bridge hub")
	}
}

// broadcast delivers payload, named event, to every session whose subscriptions match uri
// or serverID, or to every session unconditionally when unconditional is true (server
// connect/disconnect and capability updates bypass subscription filtering).
func (h *Hub) broadcast(event string, payload map[string]any, uri, serverID string, unconditional bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to marshal broadcast event", slog.String("event", event), slog.Any("err", err))
		return
	}
	for _, state := range h.sessions.All() {
		if unconditional || matchesTopic(state, uri, serverID) {
			state.Enqueue(event, data)
		}
	}
}
