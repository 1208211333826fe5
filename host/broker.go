package host

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcphostlib/mcphost/protocol"
)

const defaultSamplingTimeout = 300 * time.Second

// SimpleSamplingResult is the reduced shape a caller-registered SetSamplingHandler function
// returns; the broker expands it into the full protocol.SamplingResult.
type SimpleSamplingResult struct {
	Content    string
	Model      string
	StopReason string
}

// SimpleSamplingFunc is the in-process sampling handler an embedder can install directly
// on the Host, bypassing the sink-based relay entirely.
type SimpleSamplingFunc func(ctx context.Context, serverID string, params protocol.SamplingParams) (SimpleSamplingResult, error)

// SinkKind tags which transport a SamplingSink is backed by, so the broker can prefer a
// live WebSocket peer over a polling-style SSE session when both are registered.
type SinkKind int

const (
	SinkKindWebSocket SinkKind = iota
	SinkKindSSE
)

// SamplingSink is anything capable of delivering a sampling_request payload to an external
// party (a bridge SSE stream or WS peer) and eventually calling back into Engine.ResolveSampling
// with the answer.
type SamplingSink interface {
	DeliverSamplingRequest(requestID, serverID string, params protocol.SamplingParams) error
	Kind() SinkKind
}

type pendingSampling struct {
	once     sync.Once
	result   chan samplingOutcome
	deadline *time.Timer
}

type samplingOutcome struct {
	result protocol.SamplingResult
	err    error
}

// broker relays server-initiated sampling requests to whichever sink is currently best
// positioned to answer them, and guarantees each request completes exactly once.
type broker struct {
	mu       sync.Mutex
	logger   *slog.Logger
	timeout  time.Duration
	pending  map[string]*pendingSampling
	wsSinks  []SamplingSink
	sseSinks []SamplingSink
	simple   SimpleSamplingFunc

	// onRequest, if set, is notified of each sampling request that is routed to a sink, so
	// Engine can broadcast a SamplingRequestEvent for listeners that aren't themselves a
	// registered sink (e.g. a logging embedder). Requests answered by the simple handler,
	// or failed because no sink is registered, are not reported.
	onRequest func(requestID, serverID string, params protocol.SamplingParams)
}

func newBroker(logger *slog.Logger, timeout time.Duration) *broker {
	if timeout <= 0 {
		timeout = defaultSamplingTimeout
	}
	return &broker{
		logger:  logger,
		timeout: timeout,
		pending: make(map[string]*pendingSampling),
	}
}

// registerSink adds s to the front of its tier's ranking, so the most recently registered
// sink is tried first within a tier. WebSocket sinks always rank above SSE sinks regardless
// of registration order, per the sink selection policy.
func (b *broker) registerSink(s SamplingSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch s.Kind() {
	case SinkKindWebSocket:
		b.wsSinks = append([]SamplingSink{s}, b.wsSinks...)
	default:
		b.sseSinks = append([]SamplingSink{s}, b.sseSinks...)
	}
}

func (b *broker) unregisterSink(s SamplingSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wsSinks = removeSink(b.wsSinks, s)
	b.sseSinks = removeSink(b.sseSinks, s)
}

func removeSink(sinks []SamplingSink, s SamplingSink) []SamplingSink {
	for i, sink := range sinks {
		if sink == s {
			return append(sinks[:i], sinks[i+1:]...)
		}
	}
	return sinks
}

func (b *broker) setSimpleHandler(fn SimpleSamplingFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.simple = fn
}

// request is called by a server's samplingAdapter when the server issues a createMessage
// request. It blocks until the request completes via response, error, timeout, or
// session/sink teardown.
func (b *broker) request(ctx context.Context, serverID string, params protocol.SamplingParams) (protocol.SamplingResult, error) {
	b.mu.Lock()
	simple := b.simple
	b.mu.Unlock()

	if simple != nil {
		return b.runSimple(ctx, simple, serverID, params)
	}

	sink, ok := b.pickSink()
	if !ok {
		return protocol.SamplingResult{}, &Error{Kind: ErrInternal, ServerID: serverID, Message: "no active client to handle sampling request"}
	}

	requestID := uuid.New().String()
	p := &pendingSampling{result: make(chan samplingOutcome, 1)}

	b.mu.Lock()
	b.pending[requestID] = p
	onRequest := b.onRequest
	b.mu.Unlock()

	if onRequest != nil {
		onRequest(requestID, serverID, params)
	}

	// The timeout error wraps a JSON-RPC error carrying MCP's RequestTimeout code (-32001),
	// which protocol.Client sends back to the originating server.
	p.deadline = time.AfterFunc(b.timeout, func() {
		b.complete(requestID, protocol.SamplingResult{}, &Error{
			Kind:     ErrRequestTimeout,
			ServerID: serverID,
			Message:  "sampling request timed out",
			Cause:    protocol.JSONRPCError{Code: -32001, Message: "Request timed out"},
		})
	})

	if err := sink.DeliverSamplingRequest(requestID, serverID, params); err != nil {
		b.complete(requestID, protocol.SamplingResult{}, err)
	}

	select {
	case outcome := <-p.result:
		return outcome.result, outcome.err
	case <-ctx.Done():
		b.complete(requestID, protocol.SamplingResult{}, ctx.Err())
		return protocol.SamplingResult{}, ctx.Err()
	}
}

func (b *broker) runSimple(ctx context.Context, fn SimpleSamplingFunc, serverID string, params protocol.SamplingParams) (result protocol.SamplingResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Error{Kind: ErrInternal, ServerID: serverID, Message: fmt.Sprintf("sampling handler panicked: %v", r)}
		}
	}()
	simple, serr := fn(ctx, serverID, params)
	if serr != nil {
		return protocol.SamplingResult{}, &Error{Kind: ErrInternal, ServerID: serverID, Message: "sampling handler failed", Cause: serr}
	}
	return protocol.SamplingResult{
		Role: protocol.RoleAssistant,
		Content: protocol.SamplingContent{
			Type: protocol.ContentTypeText,
			Text: simple.Content,
		},
		Model:      simple.Model,
		StopReason: simple.StopReason,
	}, nil
}

// pickSink returns the best-ranked sink: any open WebSocket peer first, else any session
// with a writable SSE connection, per the sink selection policy.
func (b *broker) pickSink() (SamplingSink, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.wsSinks) > 0 {
		return b.wsSinks[0], true
	}
	if len(b.sseSinks) > 0 {
		return b.sseSinks[0], true
	}
	return nil, false
}

// Resolve is called by a sink (bridge WS handler, SSE sampling_response endpoint) when the
// external party answers a pending sampling request.
func (b *broker) Resolve(requestID string, result protocol.SamplingResult, err error) {
	if !b.complete(requestID, result, err) {
		b.logger.Warn("sampling response for unknown request", slog.String("requestID", requestID))
	}
}

// FailAll fires every pending request in requestIDs with err, used when a sink disappears
// (session destroyed, WS peer dropped) before its requests could complete.
func (b *broker) FailAll(requestIDs []string, err error) {
	for _, id := range requestIDs {
		b.complete(id, protocol.SamplingResult{}, err)
	}
}

func (b *broker) complete(requestID string, result protocol.SamplingResult, err error) bool {
	b.mu.Lock()
	p, ok := b.pending[requestID]
	if ok {
		delete(b.pending, requestID)
	}
	b.mu.Unlock()
	if !ok {
		return false
	}
	p.once.Do(func() {
		if p.deadline != nil {
			p.deadline.Stop()
		}
		p.result <- samplingOutcome{result: result, err: err}
	})
	return true
}

// samplingAdapter implements protocol.SamplingHandler for one connected server, forwarding
// every createMessage request into the Sampling Broker.
type samplingAdapter struct {
	serverID string
	b        *broker
}

func (a samplingAdapter) CreateSampleMessage(ctx context.Context, params protocol.SamplingParams) (protocol.SamplingResult, error) {
	return a.b.request(ctx, a.serverID, params)
}
