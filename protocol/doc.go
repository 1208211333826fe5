// Package protocol implements the Model Context Protocol (MCP) wire format and the
// per-connection Client and Server adapters, following the specification at
// https://spec.modelcontextprotocol.io/specification/.
//
// It is the transport- and codec-level layer that the host package builds on: JSON-RPC
// message framing, the stdio/SSE/WebSocket transports, and the Client type that the host
// treats as its per-server connection handle.
package protocol
