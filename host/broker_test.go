package host

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/mcphostlib/mcphost/protocol"
)

type fakeSink struct {
	kind    SinkKind
	deliver func(requestID, serverID string, params protocol.SamplingParams) error
}

func (f *fakeSink) DeliverSamplingRequest(requestID, serverID string, params protocol.SamplingParams) error {
	return f.deliver(requestID, serverID, params)
}

func (f *fakeSink) Kind() SinkKind { return f.kind }

func TestBrokerRequestViaSinkAndResolve(t *testing.T) {
	b := newBroker(slog.Default(), time.Minute)

	var capturedID string
	sink := &fakeSink{deliver: func(requestID, serverID string, params protocol.SamplingParams) error {
		capturedID = requestID
		go b.Resolve(requestID, protocol.SamplingResult{Model: "test-model"}, nil)
		return nil
	}}
	b.registerSink(sink)

	result, err := b.request(context.Background(), "server-a", protocol.SamplingParams{})
	if err != nil {
		t.Fatalf("request returned error: %v", err)
	}
	if result.Model != "test-model" {
		t.Errorf("Model = %q, want test-model", result.Model)
	}
	if capturedID == "" {
		t.Error("expected a non-empty request id to be delivered to the sink")
	}
}

func TestBrokerRequestNoSinkFails(t *testing.T) {
	b := newBroker(slog.Default(), time.Minute)
	_, err := b.request(context.Background(), "server-a", protocol.SamplingParams{})
	if err == nil {
		t.Fatal("expected an error with no registered sink")
	}
}

func TestBrokerRequestTimesOut(t *testing.T) {
	b := newBroker(slog.Default(), 10*time.Millisecond)
	sink := &fakeSink{deliver: func(string, string, protocol.SamplingParams) error { return nil }}
	b.registerSink(sink)

	_, err := b.request(context.Background(), "server-a", protocol.SamplingParams{})
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	var hostErr *Error
	if !errors.As(err, &hostErr) || hostErr.Kind != ErrRequestTimeout {
		t.Fatalf("expected ErrRequestTimeout, got %v", err)
	}
}

func TestBrokerRequestDeliveryFailureCompletesImmediately(t *testing.T) {
	b := newBroker(slog.Default(), time.Minute)
	sink := &fakeSink{deliver: func(string, string, protocol.SamplingParams) error {
		return errors.New("write failed")
	}}
	b.registerSink(sink)

	_, err := b.request(context.Background(), "server-a", protocol.SamplingParams{})
	if err == nil {
		t.Fatal("expected the sink's delivery error to surface")
	}
}

func TestBrokerMostRecentSinkWinsTies(t *testing.T) {
	b := newBroker(slog.Default(), time.Minute)

	var used string
	first := &fakeSink{deliver: func(string, string, protocol.SamplingParams) error {
		used = "first"
		return errors.New("unused")
	}}
	second := &fakeSink{deliver: func(string, string, protocol.SamplingParams) error {
		used = "second"
		return errors.New("unused")
	}}
	b.registerSink(first)
	b.registerSink(second)

	_, _ = b.request(context.Background(), "server-a", protocol.SamplingParams{})
	if used != "second" {
		t.Errorf("expected the most recently registered sink to win, got %q", used)
	}
}

func TestBrokerUnregisterSinkFallsBackToOlder(t *testing.T) {
	b := newBroker(slog.Default(), time.Minute)

	var used string
	first := &fakeSink{deliver: func(string, string, protocol.SamplingParams) error {
		used = "first"
		return errors.New("unused")
	}}
	second := &fakeSink{deliver: func(string, string, protocol.SamplingParams) error {
		used = "second"
		return errors.New("unused")
	}}
	b.registerSink(first)
	b.registerSink(second)
	b.unregisterSink(second)

	_, _ = b.request(context.Background(), "server-a", protocol.SamplingParams{})
	if used != "first" {
		t.Errorf("expected the remaining sink to be used once the newer one unregisters, got %q", used)
	}
}

func TestBrokerWebSocketSinkPreferredOverSSE(t *testing.T) {
	b := newBroker(slog.Default(), time.Minute)

	var used string
	sse := &fakeSink{kind: SinkKindSSE, deliver: func(string, string, protocol.SamplingParams) error {
		used = "sse"
		return errors.New("unused")
	}}
	ws := &fakeSink{kind: SinkKindWebSocket, deliver: func(string, string, protocol.SamplingParams) error {
		used = "ws"
		return errors.New("unused")
	}}
	// Register SSE first, then WS, to prove tier beats registration order.
	b.registerSink(sse)
	b.registerSink(ws)

	_, _ = b.request(context.Background(), "server-a", protocol.SamplingParams{})
	if used != "ws" {
		t.Errorf("expected the WebSocket sink to be preferred over SSE, got %q", used)
	}

	b.unregisterSink(ws)
	_, _ = b.request(context.Background(), "server-a", protocol.SamplingParams{})
	if used != "sse" {
		t.Errorf("expected the SSE sink to be used once the WebSocket sink unregisters, got %q", used)
	}
}

func TestBrokerSimpleHandlerBypassesSinks(t *testing.T) {
	b := newBroker(slog.Default(), time.Minute)
	b.setSimpleHandler(func(ctx context.Context, serverID string, params protocol.SamplingParams) (SimpleSamplingResult, error) {
		return SimpleSamplingResult{Content: "hi", Model: "local"}, nil
	})

	result, err := b.request(context.Background(), "server-a", protocol.SamplingParams{})
	if err != nil {
		t.Fatalf("request returned error: %v", err)
	}
	if result.Content.Text != "hi" || result.Model != "local" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestBrokerSimpleHandlerPanicRecovered(t *testing.T) {
	b := newBroker(slog.Default(), time.Minute)
	b.setSimpleHandler(func(ctx context.Context, serverID string, params protocol.SamplingParams) (SimpleSamplingResult, error) {
		panic("boom")
	})

	_, err := b.request(context.Background(), "server-a", protocol.SamplingParams{})
	if err == nil {
		t.Fatal("expected the panic to be converted into an error")
	}
}

func TestBrokerFailAll(t *testing.T) {
	b := newBroker(slog.Default(), time.Minute)
	sink := &fakeSink{deliver: func(string, string, protocol.SamplingParams) error { return nil }}
	b.registerSink(sink)

	done := make(chan error, 1)
	registered := make(chan string, 1)
	b.onRequest = func(id, serverID string, params protocol.SamplingParams) {
		registered <- id
	}
	go func() {
		_, err := b.request(context.Background(), "server-a", protocol.SamplingParams{})
		done <- err
	}()

	var requestID string
	select {
	case requestID = <-registered:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the request to register")
	}
	b.FailAll([]string{requestID}, errors.New("session gone"))

	if err := <-done; err == nil {
		t.Fatal("expected FailAll to complete the pending request with an error")
	}
}

func TestBrokerOnRequestCallbackFires(t *testing.T) {
	b := newBroker(slog.Default(), time.Minute)
	sink := &fakeSink{deliver: func(requestID, serverID string, params protocol.SamplingParams) error {
		go b.Resolve(requestID, protocol.SamplingResult{}, nil)
		return nil
	}}
	b.registerSink(sink)

	var gotServerID string
	b.onRequest = func(requestID, serverID string, params protocol.SamplingParams) {
		gotServerID = serverID
	}

	_, _ = b.request(context.Background(), "server-xyz", protocol.SamplingParams{})
	if gotServerID != "server-xyz" {
		t.Errorf("onRequest serverID = %q, want server-xyz", gotServerID)
	}
}
