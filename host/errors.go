package host

import (
	"errors"
	"fmt"

	"github.com/mcphostlib/mcphost/protocol"
)

// ErrorKind classifies a host-level error, distinct from protocol.JSONRPCError which is
// propagated verbatim when the failure originates from a server's own response.
type ErrorKind string

const (
	ErrServerNotFound     ErrorKind = "SERVER_NOT_FOUND"
	ErrInvalidTransport   ErrorKind = "INVALID_TRANSPORT"
	ErrConnectionFailed   ErrorKind = "CONNECTION_FAILED"
	ErrSubscriptionFailed ErrorKind = "SUBSCRIPTION_FAILED"
	ErrToolCallFailed     ErrorKind = "TOOL_CALL_FAILED"
	ErrResourceReadFailed ErrorKind = "RESOURCE_READ_FAILED"
	ErrPromptGetFailed    ErrorKind = "PROMPT_GET_FAILED"
	ErrRootsUpdateFailed  ErrorKind = "ROOTS_UPDATE_FAILED"
	ErrInvalidParams      ErrorKind = "INVALID_PARAMS"
	ErrInternal           ErrorKind = "INTERNAL_ERROR"
	ErrCancelled          ErrorKind = "CANCELLED"
	ErrRequestTimeout     ErrorKind = "REQUEST_TIMEOUT"
)

// Error is the concrete type behind every host-attributed failure. It always carries a
// Kind and Message, and optionally the ServerID responsible and the underlying Cause.
type Error struct {
	Kind     ErrorKind
	Message  string
	ServerID string
	Cause    error
}

func (e *Error) Error() string {
	if e.ServerID != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s (server %q): %v", e.Kind, e.Message, e.ServerID, e.Cause)
		}
		return fmt.Sprintf("%s: %s (server %q)", e.Kind, e.Message, e.ServerID)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(kind ErrorKind, serverID, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, ServerID: serverID, Cause: cause}
}

// passthroughOrWrap returns err unwrapped verbatim if it carries a *protocol.JSONRPCError
// (the server's own response, which per the propagation policy is never re-wrapped),
// otherwise it wraps err into a host.Error of the given kind.
func passthroughOrWrap(kind ErrorKind, serverID, message string, err error) error {
	var rpcErr protocol.JSONRPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return &Error{Kind: kind, Message: message, ServerID: serverID, Cause: err}
}
