package host

import (
	"context"

	"github.com/mcphostlib/mcphost/protocol"
)

// API is the narrow surface rpc.Router and the bridge package depend on, so both can be
// tested against a fake instead of a concrete *Engine.
type API interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	CallTool(ctx context.Context, serverID string, params protocol.CallToolParams, opts ...CallOption) (protocol.CallToolResult, error)
	ReadResource(ctx context.Context, serverID string, params protocol.ReadResourceParams, opts ...CallOption) (protocol.ReadResourceResult, error)
	GetPrompt(ctx context.Context, serverID string, params protocol.GetPromptParams, opts ...CallOption) (protocol.GetPromptResult, error)
	SubscribeResource(ctx context.Context, serverID, uri string) error
	UnsubscribeResource(ctx context.Context, serverID, uri string) error

	SetRoots(ctx context.Context, roots []Root) error
	Roots() []Root

	Tools() []AggregatedTool
	Resources() []AggregatedResource
	ResourceTemplates() []AggregatedResourceTemplate
	Prompts() []AggregatedPrompt
	Servers() []ServerStatus

	SuggestServerForURI(uri string) []Suggestion
	SuggestServerForTool(name string) []Suggestion
	SuggestServerForPrompt(name string) []Suggestion

	Events(buffer int) (<-chan Event, func())
	SetSamplingHandler(fn SimpleSamplingFunc)
	RegisterSamplingSink(s SamplingSink) func()
	ResolveSampling(requestID string, result protocol.SamplingResult, err error)
	FailAllSampling(requestIDs []string, err error)
}

var _ API = (*Engine)(nil)

// SetRootsValidated validates roots before delegating to SetRoots, returning ErrInvalidParams
// if any entry carries an empty URI or Name. This is the validation api.go's public surface
// promises on top of the Host Core's own SetRoots, which trusts its caller.
func SetRootsValidated(ctx context.Context, api API, roots []Root) error {
	if roots == nil {
		return &Error{Kind: ErrInvalidParams, Message: "roots must not be nil"}
	}
	for _, r := range roots {
		if r.URI == "" || r.Name == "" {
			return &Error{Kind: ErrInvalidParams, Message: "each root must have a non-empty uri and name"}
		}
	}
	return api.SetRoots(ctx, roots)
}
