package rpc

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/mcphostlib/mcphost/protocol"
)

// HandlePOST serves POST /mcp: a single JSON-RPC object or a batch array, dispatched
// through Handle/HandleBatch and written back with the same JSON-RPC framing. A
// successful initialize sets the Mcp-Session-Id response header. A single message may
// instead upgrade the response to an SSE stream; see wantsSSEUpgrade.
func (r *Router) HandlePOST() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		sessionID := req.Header.Get(SessionIDHeader)

		if IsBatch(body) {
			var msgs []protocol.JSONRPCMessage
			if err := json.Unmarshal(body, &msgs); err != nil {
				http.Error(w, "malformed batch request", http.StatusBadRequest)
				return
			}
			responses, err := r.HandleBatch(req.Context(), sessionID, msgs)
			if err != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			writeBatchResult(w, msgs, responses)
			return
		}

		var msg protocol.JSONRPCMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			http.Error(w, "malformed request", http.StatusBadRequest)
			return
		}

		if wantsSSEUpgrade(req, msg) {
			r.handleSSEUpgrade(w, req, sessionID, msg)
			return
		}

		resp, newSessionID, err := r.Handle(req.Context(), sessionID, msg)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if newSessionID != "" {
			w.Header().Set(SessionIDHeader, newSessionID)
		}
		writeSingleResult(w, resp)
	}
}

// writeBatchResult applies the batch aggregation status rule: any request that yielded a
// response writes 200 with the response array; a batch holding a request but yielding no
// response writes 204 (every request, like every malformed entry, gets a response, so this
// branch is not reached in practice); a batch carrying only notifications/responses writes 202.
func writeBatchResult(w http.ResponseWriter, msgs []protocol.JSONRPCMessage, responses []protocol.JSONRPCMessage) {
	switch {
	case len(responses) > 0:
		writeJSON(w, http.StatusOK, responses)
	case batchHasRequest(msgs):
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusAccepted)
	}
}

func batchHasRequest(msgs []protocol.JSONRPCMessage) bool {
	for _, m := range msgs {
		if Classify(m) == KindRequest {
			return true
		}
	}
	return false
}

// writeSingleResult writes a single message's dispatch result: no response (the message was
// a notification or a response) writes 202; a response carrying a JSON-RPC error maps that
// error's code to an HTTP status; otherwise writes 200 with the response body.
func writeSingleResult(w http.ResponseWriter, resp *protocol.JSONRPCMessage) {
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if resp.Error != nil {
		writeJSON(w, httpStatusForRPCError(resp.Error.Code), resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// httpStatusForRPCError maps a JSON-RPC error code to the outer HTTP status, per the
// "Protocol errors map to 400 for MethodNotFound/InvalidParams, else 500" rule.
func httpStatusForRPCError(code int) int {
	switch code {
	case CodeMethodNotFound, CodeInvalidParams:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// wantsSSEUpgrade reports whether a single (non-batch) POST should stream its response over
// SSE instead of a plain JSON body: the client must accept text/event-stream, and the
// message must either be initialize or carry params.options.onprogress.
func wantsSSEUpgrade(req *http.Request, msg protocol.JSONRPCMessage) bool {
	if !acceptsEventStream(req) {
		return false
	}
	if msg.Method == "initialize" {
		return true
	}
	return paramsWantOnProgress(msg.Params)
}

func acceptsEventStream(req *http.Request) bool {
	return strings.Contains(req.Header.Get("Accept"), "text/event-stream")
}

func paramsWantOnProgress(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var p struct {
		Options struct {
			OnProgress bool `json:"onprogress"`
		} `json:"options"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return false
	}
	return p.Options.OnProgress
}

// HandleDELETE serves DELETE /mcp: destroys the session named by the Mcp-Session-Id header.
func (r *Router) HandleDELETE() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		sessionID := req.Header.Get(SessionIDHeader)
		if sessionID == "" || !r.sessions.Destroy(sessionID) {
			http.Error(w, "unknown session id", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
