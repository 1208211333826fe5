package bridge

import (
	"encoding/json"
	"net/http"

	"github.com/mcphostlib/mcphost/host"
	"github.com/mcphostlib/mcphost/protocol"
	"github.com/mcphostlib/mcphost/rpc"
	"github.com/mcphostlib/mcphost/session"
)

type samplingResponseBody struct {
	RequestID string                  `json:"requestId"`
	Result    protocol.SamplingResult `json:"result"`
}

type samplingErrorBody struct {
	RequestID string          `json:"requestId"`
	Error     wsSamplingError `json:"error"`
}

// HandleSamplingResponse serves POST /mcp/sampling_response, the HTTP leg of the sampling
// return path for clients that only maintain an SSE stream rather than a WebSocket.
func HandleSamplingResponse(api host.API, sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, ok := sessionFromRequest(sessions, r)
		if !ok {
			http.Error(w, "unknown session id", http.StatusNotFound)
			return
		}
		var body samplingResponseBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "malformed request body", http.StatusBadRequest)
			return
		}
		state.UntrackSampling(body.RequestID)
		api.ResolveSampling(body.RequestID, body.Result, nil)
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleSamplingError serves POST /mcp/sampling_error.
func HandleSamplingError(api host.API, sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, ok := sessionFromRequest(sessions, r)
		if !ok {
			http.Error(w, "unknown session id", http.StatusNotFound)
			return
		}
		var body samplingErrorBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "malformed request body", http.StatusBadRequest)
			return
		}
		state.UntrackSampling(body.RequestID)
		message := body.Error.Message
		if message == "" {
			message = "sampling request rejected by peer"
		}
		api.ResolveSampling(body.RequestID, protocol.SamplingResult{}, &host.Error{Kind: host.ErrInternal, Message: message})
		w.WriteHeader(http.StatusNoContent)
	}
}

func sessionFromRequest(sessions *session.Manager, r *http.Request) (*session.State, bool) {
	return sessions.Get(r.Header.Get(rpc.SessionIDHeader))
}
