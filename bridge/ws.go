package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/mcphostlib/mcphost/host"
	"github.com/mcphostlib/mcphost/protocol"
	"github.com/mcphostlib/mcphost/session"
)

const pingInterval = 30 * time.Second

// wsConnection is one accepted /ws connection, bound to exactly one session, and serves as
// that session's event Sink. Server-initiated sampling requests reach this peer through a
// separate sessionSamplingSink registered for the same session.
type wsConnection struct {
	id    string
	conn  *websocket.Conn
	state *session.State

	mu     sync.Mutex
	closed bool
}

func newWSConnection(id string, conn *websocket.Conn, state *session.State) *wsConnection {
	return &wsConnection{id: id, conn: conn, state: state}
}

func (c *wsConnection) write(ctx context.Context, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("websocket connection closed")
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Send implements session.Sink, wrapping broadcast events as a single JSON frame.
func (c *wsConnection) Send(id int64, event string, data json.RawMessage) error {
	return c.write(context.Background(), map[string]any{
		"type": event,
		"id":   id,
		"data": data,
	})
}

// Close implements session.Sink.
func (c *wsConnection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.conn.Close(websocket.StatusNormalClosure, "")
}

type wsClientMessage struct {
	Type      string                   `json:"type"`
	Topic     string                   `json:"topic"`
	RequestID string                   `json:"requestId"`
	Result    *protocol.SamplingResult `json:"result"`
	Error     *wsSamplingError         `json:"error"`
}

type wsSamplingError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// HandleWS upgrades the request to a WebSocket, binds it to the session named by the
// sessionId query parameter, and services subscribe/unsubscribe/sampling_response/
// sampling_error client messages until the peer disconnects. shutdown is canceled by the
// Lifecycle Supervisor during graceful shutdown so every open peer connection closes
// promptly rather than blocking Server.Shutdown until the hard timeout.
func HandleWS(shutdown context.Context, api host.API, sessions *session.Manager, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("sessionId")
		state, ok := sessions.Get(sessionID)
		if !ok {
			http.Error(w, "unknown session id", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			logger.Error("failed to accept websocket connection", slog.Any("err", err))
			return
		}

		connID := uuid.New().String()
		wsConn := newWSConnection(connID, conn, state)

		ctx, cancel := mergeCancel(r.Context(), shutdown)
		defer cancel()
		if err := wsConn.write(ctx, map[string]any{"type": "connection", "connectionId": connID}); err != nil {
			conn.Close(websocket.StatusInternalError, "handshake write failed")
			return
		}

		unregister := api.RegisterSamplingSink(&sessionSamplingSink{state: state, kind: host.SinkKindWebSocket})
		defer unregister()
		state.AttachSink(wsConn)
		defer state.DetachSink()

		pingDone := make(chan struct{})
		go func() {
			defer close(pingDone)
			ticker := time.NewTicker(pingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := conn.Ping(ctx); err != nil {
						return
					}
				}
			}
		}()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				break
			}
			var msg wsClientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				logger.Warn("malformed websocket message", slog.Any("err", err))
				continue
			}
			handleWSClientMessage(api, state, msg, logger)
		}

		<-pingDone
		conn.Close(websocket.StatusNormalClosure, "")
	}
}

func handleWSClientMessage(api host.API, state *session.State, msg wsClientMessage, logger *slog.Logger) {
	switch msg.Type {
	case "subscribe":
		state.Subscribe(msg.Topic)
	case "unsubscribe":
		state.Unsubscribe(msg.Topic)
	case "sampling_response":
		state.UntrackSampling(msg.RequestID)
		if msg.Result == nil {
			api.ResolveSampling(msg.RequestID, protocol.SamplingResult{}, &host.Error{Kind: host.ErrInvalidParams, Message: "sampling_response missing result"})
			return
		}
		api.ResolveSampling(msg.RequestID, *msg.Result, nil)
	case "sampling_error":
		state.UntrackSampling(msg.RequestID)
		message := "sampling request rejected by peer"
		if msg.Error != nil && msg.Error.Message != "" {
			message = msg.Error.Message
		}
		api.ResolveSampling(msg.RequestID, protocol.SamplingResult{}, &host.Error{Kind: host.ErrInternal, Message: message})
	default:
		logger.Warn("unrecognized websocket message type", slog.String("type", msg.Type))
	}
}

// matchesTopic reports whether a session subscribed to any of the catch-all/specific
// topics is interested in an event about uri (resource updates) or serverID (server-scoped
// events). Empty uri/serverID are ignored for that axis.
func matchesTopic(state *session.State, uri, serverID string) bool {
	if uri != "" && (state.Subscribes("resources") || state.Subscribes("resource:"+uri)) {
		return true
	}
	if serverID != "" && state.Subscribes("server:"+serverID) {
		return true
	}
	return false
}
