// Package testmcpserver is an in-process MCP server fixture used by the host and rpc
// packages' integration tests: a couple of tools and a static resource, reached over a
// real protocol.Client paired with a hand-rolled fake transport rather than a subprocess,
// socket, or the full protocol.Server machinery.
package testmcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"sync"

	"github.com/mcphostlib/mcphost/protocol"
)

// Server implements protocol.ToolServer and protocol.ResourceServer with a fixed, small
// set of operations: "echo" and "sum" tools, and a single "fixture://greeting" resource.
type Server struct {
	greeting string
}

// NewServer builds a fixture server. greeting is returned verbatim by the
// "fixture://greeting" resource; an empty string defaults to "hello".
func NewServer(greeting string) Server {
	if greeting == "" {
		greeting = "hello"
	}
	return Server{greeting: greeting}
}

// ListTools implements protocol.ToolServer.
func (s Server) ListTools(context.Context, protocol.ListToolsParams, protocol.ProgressReporter, protocol.RequestClientFunc) (protocol.ListToolsResult, error) {
	return protocol.ListToolsResult{Tools: []protocol.Tool{
		{
			Name:        "echo",
			Description: "Returns its single string argument unchanged.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
		},
		{
			Name:        "sum",
			Description: "Adds a list of numbers.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"values":{"type":"array","items":{"type":"number"}}},"required":["values"]}`),
		},
	}}, nil
}

// CallTool implements protocol.ToolServer.
func (s Server) CallTool(_ context.Context, params protocol.CallToolParams, _ protocol.ProgressReporter, _ protocol.RequestClientFunc) (protocol.CallToolResult, error) {
	switch params.Name {
	case "echo":
		return s.echo(params)
	case "sum":
		return s.sum(params)
	default:
		return protocol.CallToolResult{}, fmt.Errorf("tool not found: %s", params.Name)
	}
}

func (s Server) echo(params protocol.CallToolParams) (protocol.CallToolResult, error) {
	var args struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return protocol.CallToolResult{}, err
	}
	return textResult(args.Text), nil
}

func (s Server) sum(params protocol.CallToolParams) (protocol.CallToolResult, error) {
	var args struct {
		Values []float64 `json:"values"`
	}
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return protocol.CallToolResult{}, err
	}
	var total float64
	for _, v := range args.Values {
		total += v
	}
	return textResult(fmt.Sprintf("%g", total)), nil
}

func textResult(text string) protocol.CallToolResult {
	return protocol.CallToolResult{Content: []protocol.Content{{Type: protocol.ContentTypeText, Text: text}}}
}

// ListResources implements protocol.ResourceServer.
func (s Server) ListResources(context.Context, protocol.ListResourcesParams, protocol.ProgressReporter, protocol.RequestClientFunc) (protocol.ListResourcesResult, error) {
	return protocol.ListResourcesResult{Resources: []protocol.Resource{
		{URI: "fixture://greeting", Name: "greeting", MimeType: "text/plain"},
	}}, nil
}

// ReadResource implements protocol.ResourceServer.
func (s Server) ReadResource(_ context.Context, params protocol.ReadResourceParams, _ protocol.ProgressReporter, _ protocol.RequestClientFunc) (protocol.ReadResourceResult, error) {
	if params.URI != "fixture://greeting" {
		return protocol.ReadResourceResult{}, fmt.Errorf("resource not found: %s", params.URI)
	}
	return protocol.ReadResourceResult{Contents: []protocol.ResourceContents{
		{URI: params.URI, MimeType: "text/plain", Text: s.greeting},
	}}, nil
}

// ListResourceTemplates implements protocol.ResourceServer; this fixture has none.
func (s Server) ListResourceTemplates(context.Context, protocol.ListResourceTemplatesParams, protocol.ProgressReporter, protocol.RequestClientFunc) (protocol.ListResourceTemplatesResult, error) {
	return protocol.ListResourceTemplatesResult{}, nil
}

// CompletesResourceTemplate implements protocol.ResourceServer; this fixture has no templates to complete.
func (s Server) CompletesResourceTemplate(context.Context, protocol.CompletesCompletionParams, protocol.RequestClientFunc) (protocol.CompletionResult, error) {
	return protocol.CompletionResult{}, nil
}

// Pair wires a real protocol.Client up against Server through fakeTransport and returns
// the client; callers connect it with protocol.Client.Connect and tear it down by
// canceling the Connect context, exactly like a real stdio or SSE transport would be used,
// without needing a subprocess, socket, or the full protocol.Server session/broadcast
// machinery to back a fixture this small.
func Pair(info protocol.Info, greeting string) *protocol.Client {
	transport := newFakeTransport(NewServer(greeting))
	return protocol.NewClient(info, transport)
}

// fakeTransport implements protocol.ClientTransport directly against Server, answering
// only the handful of methods the fixture needs to: initialize, the notification that
// follows it, ping, and the tools/resources operations Server itself implements.
type fakeTransport struct {
	srv Server

	mu     sync.Mutex
	closed bool
	toCli  chan protocol.JSONRPCMessage
}

func newFakeTransport(srv Server) *fakeTransport {
	return &fakeTransport{srv: srv, toCli: make(chan protocol.JSONRPCMessage, 16)}
}

// StartSession implements protocol.ClientTransport.
func (f *fakeTransport) StartSession(ctx context.Context, ready chan<- error) (iter.Seq[protocol.JSONRPCMessage], error) {
	close(ready)
	return func(yield func(protocol.JSONRPCMessage) bool) {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-f.toCli:
				if !ok || !yield(msg) {
					return
				}
			}
		}
	}, nil
}

// Send implements protocol.ClientTransport by dispatching msg against Server and, for
// anything that isn't a notification, pushing the JSON-RPC response back to the client's
// message iterator.
func (f *fakeTransport) Send(ctx context.Context, msg protocol.JSONRPCMessage) error {
	resp, hasResponse := f.dispatch(ctx, msg)
	if !hasResponse {
		return nil
	}
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return nil
	}
	select {
	case f.toCli <- resp:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (f *fakeTransport) dispatch(ctx context.Context, msg protocol.JSONRPCMessage) (protocol.JSONRPCMessage, bool) {
	switch msg.Method {
	case "initialize":
		result := map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities": map[string]any{
				"tools":     map[string]any{},
				"resources": map[string]any{},
			},
			"serverInfo": protocol.Info{Name: "fixture", Version: "1.0"},
		}
		raw, err := json.Marshal(result)
		if err != nil {
			return f.errorResult(msg.ID, err), true
		}
		return protocol.JSONRPCMessage{JSONRPC: protocol.JSONRPCVersion, ID: msg.ID, Result: raw}, true
	case "notifications/initialized":
		return protocol.JSONRPCMessage{}, false
	case "ping":
		return protocol.JSONRPCMessage{JSONRPC: protocol.JSONRPCVersion, ID: msg.ID, Result: json.RawMessage("{}")}, true
	case protocol.MethodToolsList:
		result, err := f.srv.ListTools(ctx, protocol.ListToolsParams{}, nil, nil)
		return f.result(msg.ID, result, err), true
	case protocol.MethodToolsCall:
		var params protocol.CallToolParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return f.errorResult(msg.ID, err), true
		}
		result, err := f.srv.CallTool(ctx, params, nil, nil)
		return f.result(msg.ID, result, err), true
	case protocol.MethodResourcesList:
		result, err := f.srv.ListResources(ctx, protocol.ListResourcesParams{}, nil, nil)
		return f.result(msg.ID, result, err), true
	case protocol.MethodResourcesRead:
		var params protocol.ReadResourceParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return f.errorResult(msg.ID, err), true
		}
		result, err := f.srv.ReadResource(ctx, params, nil, nil)
		return f.result(msg.ID, result, err), true
	case protocol.MethodResourcesTemplatesList:
		result, err := f.srv.ListResourceTemplates(ctx, protocol.ListResourceTemplatesParams{}, nil, nil)
		return f.result(msg.ID, result, err), true
	default:
		return protocol.JSONRPCMessage{
			JSONRPC: protocol.JSONRPCVersion,
			ID:      msg.ID,
			Error:   &protocol.JSONRPCError{Code: -32601, Message: "method not found: " + msg.Method},
		}, true
	}
}

func (f *fakeTransport) result(id protocol.MustString, result any, err error) protocol.JSONRPCMessage {
	if err != nil {
		return f.errorResult(id, err)
	}
	raw, merr := json.Marshal(result)
	if merr != nil {
		return f.errorResult(id, merr)
	}
	return protocol.JSONRPCMessage{JSONRPC: protocol.JSONRPCVersion, ID: id, Result: raw}
}

func (f *fakeTransport) errorResult(id protocol.MustString, err error) protocol.JSONRPCMessage {
	return protocol.JSONRPCMessage{
		JSONRPC: protocol.JSONRPCVersion,
		ID:      id,
		Error:   &protocol.JSONRPCError{Code: -32603, Message: err.Error()},
	}
}

// close stops StartSession's iterator and makes further Send calls no-ops. Not part of
// protocol.ClientTransport; Pair's caller tears the fixture down by canceling the Connect
// context instead, matching how a real transport is used, so this exists only so a test
// could shut the fake down deterministically if it ever needs to.
func (f *fakeTransport) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.toCli)
}
