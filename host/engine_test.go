package host

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mcphostlib/mcphost/internal/testmcpserver"
	"github.com/mcphostlib/mcphost/protocol"
)

// connectFixture wires a real protocol.Client against testmcpserver's fake in-process
// transport and registers it as a live connection on a fresh Engine, bypassing
// buildTransport so the test never needs a subprocess or socket.
func connectFixture(t *testing.T, serverID string) (*Engine, func()) {
	t.Helper()
	cli := testmcpserver.Pair(protocol.Info{Name: "fixture", Version: "1.0"}, "hi")

	e := NewEngine(HostConfig{
		Servers: []ServerConfig{{ID: serverID, Name: "Fixture Server", Transport: TransportStdio}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	connectDone := make(chan error, 1)
	go func() { connectDone <- cli.Connect(ctx, ready) }()

	select {
	case <-ready:
	case err := <-connectDone:
		cancel()
		t.Fatalf("connect failed: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("timed out waiting for the client to connect")
	}

	e.mu.Lock()
	e.clients[serverID] = &liveClient{client: cli, cancel: cancel}
	e.mu.Unlock()

	e.refreshCapabilities(context.Background(), serverID)

	cleanup := func() {
		cancel()
	}
	return e, cleanup
}

func TestEngineRefreshCapabilitiesAggregatesToolsAndResources(t *testing.T) {
	e, cleanup := connectFixture(t, "fixture")
	defer cleanup()

	tools := e.Tools()
	if len(tools) != 2 {
		t.Fatalf("expected 2 aggregated tools, got %d: %+v", len(tools), tools)
	}

	resources := e.Resources()
	if len(resources) != 1 || resources[0].URI != "fixture://greeting" {
		t.Fatalf("unexpected aggregated resources: %+v", resources)
	}
}

func TestEngineServersReportsConnectionStatus(t *testing.T) {
	e, cleanup := connectFixture(t, "fixture")
	defer cleanup()

	statuses := e.Servers()
	if len(statuses) != 1 || statuses[0].ID != "fixture" || !statuses[0].Connected {
		t.Fatalf("unexpected server statuses: %+v", statuses)
	}
}

func TestEngineCallToolInvokesConnectedServer(t *testing.T) {
	e, cleanup := connectFixture(t, "fixture")
	defer cleanup()

	result, err := e.CallTool(context.Background(), "fixture", protocol.CallToolParams{
		Name:      "echo",
		Arguments: json.RawMessage(`{"text":"ping"}`),
	})
	if err != nil {
		t.Fatalf("CallTool returned error: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "ping" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestEngineCallToolUnknownServerFails(t *testing.T) {
	e := NewEngine(HostConfig{})
	_, err := e.CallTool(context.Background(), "missing", protocol.CallToolParams{Name: "echo"})
	if err == nil {
		t.Fatal("expected an error for a server with no live connection")
	}
}

func TestEngineStopClearsState(t *testing.T) {
	e, cleanup := connectFixture(t, "fixture")
	defer cleanup()

	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if len(e.Tools()) != 0 {
		t.Fatal("expected Stop to clear aggregated tools")
	}
	statuses := e.Servers()
	if len(statuses) != 1 || statuses[0].Connected {
		t.Fatalf("expected Stop to mark the server disconnected, got %+v", statuses)
	}
}
