package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// WSServer implements a framework-agnostic WebSocket server for MCP communication. Each
// accepted connection becomes one Session, exposed through the Sessions iterator the same
// way SSEServer does, so a Server can treat WebSocket and SSE transports identically.
type WSServer struct {
	logger *slog.Logger

	sessions        chan wsServerSession
	removedSessions chan string

	done   chan struct{}
	closed chan struct{}
}

// WSClient implements a WebSocket ClientTransport, dialing a single persistent connection
// and exchanging newline-free JSON-RPC text frames over it.
type WSClient struct {
	dialURL string
	header  http.Header
	logger  *slog.Logger

	sendConn *websocket.Conn
}

type wsServerSession struct {
	id     string
	conn   *websocket.Conn
	logger *slog.Logger

	writeMessages chan wsWriteRequest
	receivedMsgs  chan JSONRPCMessage

	done        chan struct{}
	readClosed  chan struct{}
	writeClosed chan struct{}
}

type wsWriteRequest struct {
	msg  JSONRPCMessage
	errs chan<- error
}

// NewWSServer creates a WebSocket server transport. Use HandleWS as the http.Handler for
// the WebSocket upgrade endpoint.
func NewWSServer() WSServer {
	return WSServer{
		logger:          slog.Default(),
		sessions:        make(chan wsServerSession, 5),
		removedSessions: make(chan string),
		done:            make(chan struct{}),
		closed:          make(chan struct{}),
	}
}

// NewWSClient creates a WebSocket client transport that connects to dialURL. header carries
// any additional headers to send during the handshake, such as an API key.
func NewWSClient(dialURL string, header http.Header) *WSClient {
	return &WSClient{dialURL: dialURL, header: header, logger: slog.Default()}
}

// Sessions implements ServerTransport.
func (s WSServer) Sessions() iter.Seq[Session] {
	return func(yield func(Session) bool) {
		defer close(s.closed)

		sessionsMap := make(map[string]wsServerSession)

		for {
			select {
			case <-s.done:
				return
			case sess := <-s.sessions:
				go sess.processWriteMessages()
				sessionsMap[sess.id] = sess
				if !yield(sess) {
					return
				}
			case sessID := <-s.removedSessions:
				delete(sessionsMap, sessID)
			}
		}
	}
}

// Shutdown implements ServerTransport.
func (s WSServer) Shutdown(ctx context.Context) error {
	close(s.done)
	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to close websocket server: %w", ctx.Err())
	case <-s.closed:
	}
	return nil
}

// HandleWS upgrades the HTTP request to a WebSocket connection and registers a new session.
// It blocks for the lifetime of the connection.
func (s WSServer) HandleWS() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			s.logger.Error("failed to accept websocket connection", "err", err)
			return
		}

		sess := wsServerSession{
			id:            uuid.New().String(),
			conn:          conn,
			logger:        s.logger,
			writeMessages: make(chan wsWriteRequest),
			receivedMsgs:  make(chan JSONRPCMessage, 5),
			done:          make(chan struct{}),
			readClosed:    make(chan struct{}),
			writeClosed:   make(chan struct{}),
		}

		select {
		case s.sessions <- sess:
		case <-s.done:
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		}

		sess.readLoop(r.Context())

		select {
		case s.removedSessions <- sess.id:
		case <-s.done:
		}

		conn.Close(websocket.StatusNormalClosure, "")
	})
}

func (s wsServerSession) readLoop(ctx context.Context) {
	defer close(s.readClosed)

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			select {
			case <-s.done:
			default:
				close(s.done)
			}
			return
		}

		var msg JSONRPCMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Error("failed to unmarshal websocket message", "err", err)
			continue
		}

		select {
		case s.receivedMsgs <- msg:
		case <-s.done:
			return
		}
	}
}

func (s wsServerSession) ID() string { return s.id }

func (s wsServerSession) Send(ctx context.Context, msg JSONRPCMessage) error {
	errs := make(chan error, 1)
	select {
	case s.writeMessages <- wsWriteRequest{msg: msg, errs: errs}:
	case <-s.done:
		return fmt.Errorf("session is closed")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errs:
		return err
	case <-s.done:
		return fmt.Errorf("session is closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s wsServerSession) Messages() iter.Seq[JSONRPCMessage] {
	return func(yield func(JSONRPCMessage) bool) {
		for {
			select {
			case msg := <-s.receivedMsgs:
				if !yield(msg) {
					return
				}
			case <-s.done:
				return
			}
		}
	}
}

func (s wsServerSession) Stop() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	<-s.writeClosed
}

func (s wsServerSession) processWriteMessages() {
	defer close(s.writeClosed)

	ctx := context.Background()
	for {
		select {
		case <-s.done:
			return
		case req := <-s.writeMessages:
			data, err := json.Marshal(req.msg)
			if err != nil {
				req.errs <- fmt.Errorf("failed to marshal message: %w", err)
				continue
			}
			req.errs <- s.conn.Write(ctx, websocket.MessageText, data)
		}
	}
}

// StartSession dials the server, authenticates via any configured headers, and returns an
// iterator over the messages read from the connection.
func (c *WSClient) StartSession(ctx context.Context, ready chan<- error) (iter.Seq[JSONRPCMessage], error) {
	conn, _, err := websocket.Dial(ctx, c.dialURL, &websocket.DialOptions{HTTPHeader: c.header})
	if err != nil {
		ready <- fmt.Errorf("failed to dial websocket: %w", err)
		close(ready)
		return nil, fmt.Errorf("failed to dial websocket: %w", err)
	}
	close(ready)

	messages := make(chan JSONRPCMessage)
	go func() {
		defer close(messages)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg JSONRPCMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				c.logger.Error("failed to unmarshal websocket message", "err", err)
				continue
			}
			messages <- msg
		}
	}()

	c.sendConn = conn

	return func(yield func(JSONRPCMessage) bool) {
		for msg := range messages {
			if !yield(msg) {
				return
			}
		}
	}, nil
}

// Send transmits a JSON-encoded message over the dialed connection. StartSession must have
// been called first.
func (c *WSClient) Send(ctx context.Context, msg JSONRPCMessage) error {
	if c.sendConn == nil {
		return fmt.Errorf("websocket client not connected")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return c.sendConn.Write(ctx, websocket.MessageText, data)
}
