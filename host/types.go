package host

import "github.com/mcphostlib/mcphost/protocol"

// notifyOnChange reports whether a server's declared Roots capability warrants sending it
// a roots-changed notification. A nil capability (not declared at all) never does.
func notifyOnChange(r *protocol.RootsCapability) bool {
	return r != nil && r.ListChanged
}

// AggregatedTool is a Tool reported by one server, namespaced by ServerID.
type AggregatedTool struct {
	ServerID    string
	Name        string
	Description string
	InputSchema []byte
	Annotations map[string]any
}

// AggregatedResource is a Resource reported by one server, namespaced by ServerID.
type AggregatedResource struct {
	ServerID string
	URI      string
	Name     string
	MimeType string
	Size     int
}

// AggregatedResourceTemplate is a ResourceTemplate reported by one server, namespaced by ServerID.
type AggregatedResourceTemplate struct {
	ServerID    string
	ID          string
	Name        string
	URITemplate string
	Description string
}

// AggregatedPrompt is a Prompt reported by one server, namespaced by ServerID.
type AggregatedPrompt struct {
	ServerID    string
	Name        string
	Description string
	Arguments   []protocol.PromptArgument
}

// Root is a workspace root the Host announces to every server that supports roots.listChanged.
type Root = protocol.Root

// Suggestion is one ranked candidate returned by the Resolver.
type Suggestion struct {
	ServerID   string
	MatchType  MatchType
	Confidence float64
}

// MatchType classifies how a Suggestion was produced.
type MatchType string

const (
	MatchExact    MatchType = "exact"
	MatchTemplate MatchType = "template"
	MatchScheme   MatchType = "scheme"
	MatchName     MatchType = "name"
)
