package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/mcphostlib/mcphost/host"
	"github.com/mcphostlib/mcphost/protocol"
	"github.com/mcphostlib/mcphost/session"
	"golang.org/x/sync/errgroup"
)

// Standard JSON-RPC 2.0 error codes used throughout the router.
const (
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// MessageKind classifies a single JSON-RPC message object.
type MessageKind int

const (
	KindMalformed MessageKind = iota
	KindRequest
	KindNotification
	KindResponse
)

// Classify inspects a decoded protocol.JSONRPCMessage and reports what kind of message it is.
func Classify(msg protocol.JSONRPCMessage) MessageKind {
	hasID := msg.ID != ""
	hasMethod := msg.Method != ""
	switch {
	case hasMethod && hasID:
		return KindRequest
	case hasMethod && !hasID:
		return KindNotification
	case hasID && (msg.Result != nil || msg.Error != nil):
		return KindResponse
	default:
		return KindMalformed
	}
}

// SessionIDHeader is the HTTP header name session continuity is tracked under.
const SessionIDHeader = "Mcp-Session-Id"

// Router turns decoded JSON-RPC request bodies into Host Core calls.
type Router struct {
	api      host.API
	sessions *session.Manager
	logger   *slog.Logger
	hostInfo protocol.Info
	hostCaps protocol.ClientCapabilities
}

// NewRouter builds a Router over api and sessions, advertising hostInfo/hostCaps in the
// initialize response.
func NewRouter(api host.API, sessions *session.Manager, hostInfo protocol.Info, hostCaps protocol.ClientCapabilities, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{api: api, sessions: sessions, hostInfo: hostInfo, hostCaps: hostCaps, logger: logger}
}

// IsBatch reports whether raw is a JSON array rather than a single object.
func IsBatch(raw []byte) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}

// Outcome describes an HTTP-facing disposition: status, body and new session id. Handle
// does not return it; Handle returns the response message and session id directly.
type Outcome struct {
	StatusCode int
	Body       any // nil, a single protocol.JSONRPCMessage, or []protocol.JSONRPCMessage
	SessionID  string // set only by a successful initialize
}

// Handle processes one decoded message against sessionID (empty string means "no session
// header was present"), returning the JSON-RPC response to write, if any.
func (r *Router) Handle(ctx context.Context, sessionID string, msg protocol.JSONRPCMessage) (*protocol.JSONRPCMessage, string, error) {
	switch Classify(msg) {
	case KindResponse:
		return nil, "", nil
	case KindNotification:
		r.handleNotification(sessionID, msg)
		return nil, "", nil
	case KindRequest:
		return r.handleRequest(ctx, sessionID, msg)
	default:
		return errorResponse(msg.ID, CodeInvalidRequest, "malformed message"), "", nil
	}
}

// HandleBatch fans a batch of messages out concurrently, each independently, and collects
// the responses that resulted (notifications and responses themselves produce none).
func (r *Router) HandleBatch(ctx context.Context, sessionID string, msgs []protocol.JSONRPCMessage) ([]protocol.JSONRPCMessage, error) {
	responses := make([]*protocol.JSONRPCMessage, len(msgs))
	g, gctx := errgroup.WithContext(ctx)
	for i, m := range msgs {
		i, m := i, m
		g.Go(func() error {
			resp, _, err := r.Handle(gctx, sessionID, m)
			if err != nil {
				return err
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]protocol.JSONRPCMessage, 0, len(responses))
	for _, resp := range responses {
		if resp != nil {
			out = append(out, *resp)
		}
	}
	return out, nil
}

func (r *Router) handleRequest(ctx context.Context, sessionID string, msg protocol.JSONRPCMessage) (*protocol.JSONRPCMessage, string, error) {
	if msg.Method == "initialize" {
		if sessionID != "" {
			return errorResponse(msg.ID, CodeInvalidRequest, "session already initialized"), "", nil
		}
		newID := r.sessions.Create()
		result := map[string]any{
			"protocolVersion": "2025-03-26",
			"capabilities":    r.hostCaps,
			"serverInfo":      r.hostInfo,
		}
		return resultResponse(msg.ID, result), newID, nil
	}

	if sessionID == "" {
		return errorResponse(msg.ID, CodeInvalidRequest, "missing session id"), "", nil
	}
	if _, ok := r.sessions.Get(sessionID); !ok {
		return errorResponse(msg.ID, CodeInvalidRequest, "unknown session id"), "", nil
	}

	switch {
	case msg.Method == "tools/list":
		return resultResponse(msg.ID, map[string]any{"tools": r.api.Tools()}), "", nil
	case msg.Method == "resources/list":
		return resultResponse(msg.ID, map[string]any{"resources": r.api.Resources()}), "", nil
	case msg.Method == "resources/templates/list":
		return resultResponse(msg.ID, map[string]any{"resourceTemplates": r.api.ResourceTemplates()}), "", nil
	case msg.Method == "prompts/list":
		return resultResponse(msg.ID, map[string]any{"prompts": r.api.Prompts()}), "", nil
	case isToolCall(msg.Method):
		serverID, name := parseToolCall(msg.Method)
		var args json.RawMessage
		if msg.Params != nil {
			args = msg.Params
		}
		res, err := r.api.CallTool(ctx, serverID, protocol.CallToolParams{Name: name, Arguments: args})
		return resultOrError(msg.ID, res, err), "", nil
	case isResourceRead(msg.Method):
		serverID := parseServerSegment(msg.Method)
		var params protocol.ReadResourceParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return errorResponse(msg.ID, CodeInvalidParams, "invalid params: "+err.Error()), "", nil
		}
		res, err := r.api.ReadResource(ctx, serverID, params)
		return resultOrError(msg.ID, res, err), "", nil
	case isPromptGet(msg.Method):
		serverID := parseServerSegment(msg.Method)
		var params protocol.GetPromptParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return errorResponse(msg.ID, CodeInvalidParams, "invalid params: "+err.Error()), "", nil
		}
		res, err := r.api.GetPrompt(ctx, serverID, params)
		return resultOrError(msg.ID, res, err), "", nil
	default:
		return errorResponse(msg.ID, CodeMethodNotFound, "method not found: "+msg.Method), "", nil
	}
}

func (r *Router) handleNotification(sessionID string, msg protocol.JSONRPCMessage) {
	if sessionID == "" {
		return
	}
	if s, ok := r.sessions.Get(sessionID); ok {
		_ = s // notifications currently require no Host Core side effect beyond the touch Get already performed
	}
}

func isToolCall(method string) bool {
	return strings.HasPrefix(method, "servers/") && strings.Contains(method, "/tools/") && strings.HasSuffix(method, "/call")
}

func parseToolCall(method string) (serverID, name string) {
	parts := strings.Split(method, "/")
	// servers/{serverID}/tools/{name}/call
	if len(parts) >= 5 {
		return parts[1], parts[3]
	}
	return "", ""
}

func isResourceRead(method string) bool {
	return strings.HasPrefix(method, "servers/") && strings.HasSuffix(method, "/resource/read")
}

func isPromptGet(method string) bool {
	return strings.HasPrefix(method, "servers/") && strings.HasSuffix(method, "/prompt/get")
}

func parseServerSegment(method string) string {
	parts := strings.Split(method, "/")
	if len(parts) >= 2 {
		return parts[1]
	}
	return ""
}

func resultResponse(id protocol.MustString, result any) *protocol.JSONRPCMessage {
	raw, err := json.Marshal(result)
	if err != nil {
		return errorResponse(id, CodeInternalError, "failed to marshal result")
	}
	return &protocol.JSONRPCMessage{JSONRPC: "2.0", ID: id, Result: raw}
}

func resultOrError(id protocol.MustString, result any, err error) *protocol.JSONRPCMessage {
	if err != nil {
		var rpcErr protocol.JSONRPCError
		if errors.As(err, &rpcErr) {
			return &protocol.JSONRPCMessage{JSONRPC: "2.0", ID: id, Error: &rpcErr}
		}
		return errorResponse(id, CodeInternalError, err.Error())
	}
	return resultResponse(id, result)
}

func errorResponse(id protocol.MustString, code int, message string) *protocol.JSONRPCMessage {
	return &protocol.JSONRPCMessage{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &protocol.JSONRPCError{Code: code, Message: message},
	}
}
