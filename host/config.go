package host

import "github.com/mcphostlib/mcphost/protocol"

// TransportKind identifies which transport a ServerConfig should be connected over.
type TransportKind string

// Supported transport kinds. StreamableHTTP is accepted by configuration but always
// fails to connect with ErrInvalidTransport until a streamable-http protocol.ClientTransport
// exists.
const (
	TransportStdio          TransportKind = "stdio"
	TransportSSE            TransportKind = "sse"
	TransportWebsocket      TransportKind = "websocket"
	TransportStreamableHTTP TransportKind = "streamable-http"
)

// ServerConfig is an immutable record describing one MCP server the Host should connect to.
type ServerConfig struct {
	// ID uniquely identifies the server within a Host. Required.
	ID string
	// Name is an optional human-readable label.
	Name string
	// Transport selects which kind of protocol.ClientTransport to construct.
	Transport TransportKind

	// Command, Args, Env, and Dir configure a stdio subprocess transport.
	Command string
	Args    []string
	Env     map[string]string
	Dir     string

	// URL and Headers configure an sse or websocket transport.
	URL     string
	Headers map[string]string
}

// HostCapabilities describes what the Host itself advertises to every server it connects to.
type HostCapabilities struct {
	// Sampling, when true, registers a sampling handler on every connected client so that
	// servers may issue createMessage requests.
	Sampling bool
	// RootsListChanged, when true, advertises that the Host will notify servers when its
	// root list changes.
	RootsListChanged bool
}

// HostConfig is the top-level configuration for a Host Engine.
type HostConfig struct {
	HostInfo         protocol.Info
	HostCapabilities HostCapabilities
	Servers          []ServerConfig
}
