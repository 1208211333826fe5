package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/mcphostlib/mcphost/protocol"
	"golang.org/x/sync/errgroup"
)

// EngineOption configures an Engine at construction.
type EngineOption func(*Engine)

// WithLogger overrides the slog.Logger an Engine uses; defaults to slog.Default().
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithSamplingTimeout overrides the Sampling Broker's per-request deadline.
func WithSamplingTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.broker.timeout = d }
}

type liveClient struct {
	client *protocol.Client
	cancel context.CancelFunc
}

// Engine is the Host Core: it owns every live server connection, drives their lifecycle,
// maintains aggregated capability state, and routes invocations to the right server.
type Engine struct {
	cfg    HostConfig
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]*liveClient
	caps    map[string]protocol.ServerCapabilities

	tools     map[string]AggregatedTool
	resources map[string]AggregatedResource
	templates map[string]AggregatedResourceTemplate
	prompts   map[string]AggregatedPrompt

	rootsMu      sync.RWMutex
	currentRoots []Root

	progressMu sync.Mutex
	progress   map[string]func(protocol.ProgressParams)

	broadcaster *Broadcaster
	broker      *broker

	started bool
}

// NewEngine constructs an Engine from cfg. Duplicate ServerConfig ids are rejected: only
// the first configuration for a given id is retained, and a warning is logged.
func NewEngine(cfg HostConfig, opts ...EngineOption) *Engine {
	e := &Engine{
		cfg:         cfg,
		logger:      slog.Default(),
		clients:     make(map[string]*liveClient),
		caps:        make(map[string]protocol.ServerCapabilities),
		tools:       make(map[string]AggregatedTool),
		resources:   make(map[string]AggregatedResource),
		templates:   make(map[string]AggregatedResourceTemplate),
		prompts:     make(map[string]AggregatedPrompt),
		progress:    make(map[string]func(protocol.ProgressParams)),
		broadcaster: NewBroadcaster(),
	}
	e.broker = newBroker(e.logger, defaultSamplingTimeout)
	e.broker.onRequest = func(requestID, serverID string, params protocol.SamplingParams) {
		e.broadcaster.Emit(SamplingRequestEvent{RequestID: requestID, ServerID: serverID, Params: params})
	}

	for _, opt := range opts {
		opt(e)
	}
	e.broker.logger = e.logger

	dedup := make(map[string]struct{}, len(cfg.Servers))
	servers := make([]ServerConfig, 0, len(cfg.Servers))
	for _, sc := range cfg.Servers {
		if _, ok := dedup[sc.ID]; ok {
			e.logger.Warn("duplicate server id in configuration, keeping first", slog.String("serverID", sc.ID))
			continue
		}
		dedup[sc.ID] = struct{}{}
		servers = append(servers, sc)
	}
	e.cfg.Servers = servers

	return e
}

// Events returns a channel of host events and an unsubscribe function. buffer sizes the
// channel; a slow consumer drops events rather than blocking the emitter.
func (e *Engine) Events(buffer int) (<-chan Event, func()) {
	return e.broadcaster.Subscribe(buffer)
}

// SetSamplingHandler installs an in-process sampling handler, bypassing sink-based relay.
func (e *Engine) SetSamplingHandler(fn SimpleSamplingFunc) {
	e.broker.setSimpleHandler(fn)
}

// RegisterSamplingSink adds s to the Sampling Broker's ranked sink list (WebSocket sinks
// rank above SSE sinks; most recently registered wins ties within a tier) and returns a
// function that removes it again. The bridge package calls this once per connected WS peer
// or open SSE stream.
func (e *Engine) RegisterSamplingSink(s SamplingSink) func() {
	e.broker.registerSink(s)
	return func() { e.broker.unregisterSink(s) }
}

// ResolveSampling delivers a response or error for a pending sampling request, called by
// sinks (bridge WS/SSE handlers) when the external party answers.
func (e *Engine) ResolveSampling(requestID string, result protocol.SamplingResult, err error) {
	e.broker.Resolve(requestID, result, err)
}

// FailAllSampling fires every listed pending sampling request with err, used when a sink
// disappears before completion. An err that is not already a host *Error is wrapped as an
// ErrInternal *Error carrying err's message.
func (e *Engine) FailAllSampling(requestIDs []string, err error) {
	var hostErr *Error
	if !errors.As(err, &hostErr) {
		err = &Error{Kind: ErrInternal, Message: err.Error()}
	}
	e.broker.FailAll(requestIDs, err)
}

// Start connects every configured server in parallel. It is idempotent: a second call
// after a successful first call is a no-op. Per-server connection failures are emitted as
// events, not returned; Start only fails if it is called concurrently with itself in a way
// that corrupts engine state, which cannot happen given the mutex below.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.mu.Unlock()

	// A plain errgroup.Group, not errgroup.WithContext: its derived context would be
	// canceled the moment Wait returns, which would tear down every connection just
	// established since connectServer's long-lived serverCtx descends from this one.
	var g errgroup.Group
	for _, sc := range e.cfg.Servers {
		sc := sc
		g.Go(func() error {
			e.connectServer(ctx, sc)
			return nil
		})
	}
	_ = g.Wait()

	e.broadcaster.Emit(CapabilitiesUpdatedEvent{})
	return nil
}

// Stop closes every live client. Close errors are logged, not returned; Stop always
// succeeds from the caller's perspective once every client has been asked to disconnect.
func (e *Engine) Stop(ctx context.Context) error {
	// Swap the client map out first so handleDisconnect skips these clients and Stop
	// emits their ServerDisconnectedEvents itself.
	e.mu.Lock()
	clients := e.clients
	e.clients = make(map[string]*liveClient)
	e.mu.Unlock()

	for id, lc := range clients {
		lc.cancel()
		e.logger.Info("disconnecting server", slog.String("serverID", id))
	}

	e.mu.Lock()
	e.tools = make(map[string]AggregatedTool)
	e.resources = make(map[string]AggregatedResource)
	e.templates = make(map[string]AggregatedResourceTemplate)
	e.prompts = make(map[string]AggregatedPrompt)
	e.started = false
	e.mu.Unlock()

	for id := range clients {
		e.broadcaster.Emit(ServerDisconnectedEvent{ServerID: id})
	}
	e.broadcaster.Emit(CapabilitiesUpdatedEvent{})
	return nil
}

func (e *Engine) connectServer(ctx context.Context, cfg ServerConfig) {
	transport, err := e.buildTransport(cfg)
	if err != nil {
		e.broadcaster.Emit(ServerErrorEvent{ServerID: cfg.ID, Err: err})
		return
	}

	var opts []protocol.ClientOption
	if e.cfg.HostCapabilities.Sampling {
		opts = append(opts, protocol.WithSamplingHandler(samplingAdapter{serverID: cfg.ID, b: e.broker}))
	}
	opts = append(opts,
		protocol.WithToolListWatcher(toolListWatcher{e: e, serverID: cfg.ID}),
		protocol.WithResourceListWatcher(resourceListWatcher{e: e, serverID: cfg.ID}),
		protocol.WithPromptListWatcher(promptListWatcher{e: e, serverID: cfg.ID}),
		protocol.WithResourceSubscribedWatcher(resourceSubscribedWatcher{e: e, serverID: cfg.ID}),
		protocol.WithLogReceiver(logReceiver{e: e, serverID: cfg.ID}),
		protocol.WithProgressListener(progressListener{e: e}),
	)

	client := protocol.NewClient(e.cfg.HostInfo, transport, opts...)

	serverCtx, cancel := context.WithCancel(ctx)
	ready := make(chan struct{})

	connectDone := make(chan error, 1)
	go func() {
		connectDone <- client.Connect(serverCtx, ready)
	}()

	select {
	case <-ready:
	case err := <-connectDone:
		cancel()
		e.broadcaster.Emit(ServerErrorEvent{ServerID: cfg.ID, Err: &Error{Kind: ErrConnectionFailed, ServerID: cfg.ID, Message: "connect failed", Cause: err}})
		return
	}

	e.mu.Lock()
	e.clients[cfg.ID] = &liveClient{client: client, cancel: cancel}
	e.mu.Unlock()

	e.broadcaster.Emit(ServerConnectedEvent{ServerID: cfg.ID})

	e.refreshCapabilities(ctx, cfg.ID)
	e.announceRootsTo(ctx, cfg.ID, client)

	go func() {
		err := <-connectDone
		e.handleDisconnect(cfg.ID, err)
	}()
}

func (e *Engine) buildTransport(cfg ServerConfig) (protocol.ClientTransport, error) {
	switch cfg.Transport {
	case TransportStdio:
		return protocol.NewStdIOProcess(protocol.StdIOProcessConfig{
			Command: cfg.Command,
			Args:    cfg.Args,
			Env:     cfg.Env,
			Dir:     cfg.Dir,
		}), nil
	case TransportSSE:
		return protocol.NewSSEClient(cfg.URL, nil), nil
	case TransportWebsocket:
		header := make(map[string][]string, len(cfg.Headers))
		for k, v := range cfg.Headers {
			header[k] = []string{v}
		}
		return protocol.NewWSClient(cfg.URL, header), nil
	case TransportStreamableHTTP:
		return nil, &Error{Kind: ErrInvalidTransport, ServerID: cfg.ID, Message: "streamable-http transport is not implemented"}
	default:
		return nil, &Error{Kind: ErrInvalidTransport, ServerID: cfg.ID, Message: fmt.Sprintf("unknown transport kind %q", cfg.Transport)}
	}
}

func (e *Engine) announceRootsTo(ctx context.Context, serverID string, client *protocol.Client) {
	e.rootsMu.RLock()
	roots := e.currentRoots
	e.rootsMu.RUnlock()
	if len(roots) == 0 {
		return
	}
	if !notifyOnChange(client.ServerCapabilities().Roots) {
		return
	}
	if err := client.SendRootsListChanged(ctx); err != nil {
		e.logger.Warn("failed to announce roots to newly connected server", slog.String("serverID", serverID), slog.Any("error", err))
	}
}

// refreshCapabilities drops every aggregated entry for serverID, then concurrently
// re-lists each capability the server declares support for.
func (e *Engine) refreshCapabilities(ctx context.Context, serverID string) {
	e.mu.Lock()
	lc, ok := e.clients[serverID]
	e.mu.Unlock()
	if !ok {
		return
	}

	e.removeAggregated(serverID)

	caps := lc.client.ServerCapabilities()
	e.mu.Lock()
	e.caps[serverID] = caps
	e.mu.Unlock()

	var merr *multierror.Error
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	if caps.Tools != nil {
		g.Go(func() error {
			res, err := lc.client.ListTools(gctx, protocol.ListToolsParams{})
			if err != nil {
				mu.Lock()
				merr = multierror.Append(merr, &Error{Kind: ErrToolCallFailed, ServerID: serverID, Message: "list tools failed", Cause: err})
				mu.Unlock()
				return nil
			}
			e.mu.Lock()
			for _, t := range res.Tools {
				e.tools[serverID+"\x00"+t.Name] = AggregatedTool{
					ServerID:    serverID,
					Name:        t.Name,
					Description: t.Description,
					InputSchema: t.InputSchema,
				}
			}
			e.mu.Unlock()
			return nil
		})
	}

	if caps.Resources != nil {
		g.Go(func() error {
			res, err := lc.client.ListResources(gctx, protocol.ListResourcesParams{})
			if err != nil {
				mu.Lock()
				merr = multierror.Append(merr, &Error{Kind: ErrResourceReadFailed, ServerID: serverID, Message: "list resources failed", Cause: err})
				mu.Unlock()
				return nil
			}
			e.mu.Lock()
			for _, r := range res.Resources {
				e.resources[serverID+"\x00"+r.URI] = AggregatedResource{
					ServerID: serverID,
					URI:      r.URI,
					Name:     r.Name,
					MimeType: r.MimeType,
				}
			}
			e.mu.Unlock()
			return nil
		})

		if caps.Resources.Templates {
			g.Go(func() error {
				res, err := lc.client.ListResourceTemplates(gctx, protocol.ListResourceTemplatesParams{})
				if err != nil {
					mu.Lock()
					merr = multierror.Append(merr, &Error{Kind: ErrResourceReadFailed, ServerID: serverID, Message: "list resource templates failed", Cause: err})
					mu.Unlock()
					return nil
				}
				e.mu.Lock()
				for _, t := range res.Templates {
					e.templates[serverID+"\x00"+t.URITemplate] = AggregatedResourceTemplate{
						ServerID:    serverID,
						ID:          t.URITemplate,
						Name:        t.Name,
						URITemplate: t.URITemplate,
						Description: t.Description,
					}
				}
				e.mu.Unlock()
				return nil
			})
		}
	}

	if caps.Prompts != nil {
		g.Go(func() error {
			res, err := lc.client.ListPrompts(gctx, protocol.ListPromptsParams{})
			if err != nil {
				mu.Lock()
				merr = multierror.Append(merr, &Error{Kind: ErrPromptGetFailed, ServerID: serverID, Message: "list prompts failed", Cause: err})
				mu.Unlock()
				return nil
			}
			e.mu.Lock()
			for _, p := range res.Prompts {
				e.prompts[serverID+"\x00"+p.Name] = AggregatedPrompt{
					ServerID:    serverID,
					Name:        p.Name,
					Description: p.Description,
					Arguments:   p.Arguments,
				}
			}
			e.mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()

	if merr != nil {
		e.logger.Warn("capability refresh had per-list failures", slog.String("serverID", serverID), slog.Any("error", merr.ErrorOrNil()))
	}

	e.broadcaster.Emit(CapabilitiesUpdatedEvent{})
}

func (e *Engine) removeAggregated(serverID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, v := range e.tools {
		if v.ServerID == serverID {
			delete(e.tools, k)
		}
	}
	for k, v := range e.resources {
		if v.ServerID == serverID {
			delete(e.resources, k)
		}
	}
	for k, v := range e.templates {
		if v.ServerID == serverID {
			delete(e.templates, k)
		}
	}
	for k, v := range e.prompts {
		if v.ServerID == serverID {
			delete(e.prompts, k)
		}
	}
}

func (e *Engine) handleDisconnect(serverID string, err error) {
	e.mu.Lock()
	_, existed := e.clients[serverID]
	delete(e.clients, serverID)
	delete(e.caps, serverID)
	e.mu.Unlock()
	if !existed {
		return
	}

	e.removeAggregated(serverID)

	if errors.Is(err, context.Canceled) {
		err = nil
	}
	e.broadcaster.Emit(ServerDisconnectedEvent{ServerID: serverID, Err: err})
	e.broadcaster.Emit(CapabilitiesUpdatedEvent{})
}

// prepareCall resolves opts into a bounded context and, when a progress callback is
// registered, a ParamsMeta carrying a fresh progress token wired back to that callback.
// The returned cleanup func must always be called once the call completes.
func (e *Engine) prepareCall(ctx context.Context, opts []CallOption) (context.Context, protocol.ParamsMeta, func()) {
	cfg := resolveCallConfig(opts)
	ctx, resetDeadline, cancel := applyCallConfig(ctx, cfg)

	var meta protocol.ParamsMeta
	var unregister func()
	if cfg.onProgress != nil {
		token := uuid.New().String()
		meta.ProgressToken = protocol.MustString(token)
		unregister = e.registerProgress(token, func(p protocol.ProgressParams) {
			resetDeadline()
			cfg.onProgress(p)
		})
	}

	cleanup := func() {
		if unregister != nil {
			unregister()
		}
		cancel()
	}
	return ctx, meta, cleanup
}

// CallTool invokes a tool on serverID. opts control progress reporting and timeouts.
func (e *Engine) CallTool(ctx context.Context, serverID string, params protocol.CallToolParams, opts ...CallOption) (protocol.CallToolResult, error) {
	lc, ok := e.liveClient(serverID)
	if !ok {
		return protocol.CallToolResult{}, &Error{Kind: ErrServerNotFound, ServerID: serverID, Message: "server not connected"}
	}
	ctx, meta, cleanup := e.prepareCall(ctx, opts)
	defer cleanup()
	params.Meta = meta
	res, err := lc.client.CallTool(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return protocol.CallToolResult{}, &Error{Kind: ErrCancelled, ServerID: serverID, Message: "tool call cancelled", Cause: ctx.Err()}
		}
		return protocol.CallToolResult{}, passthroughOrWrap(ErrToolCallFailed, serverID, "tool call failed", err)
	}
	return res, nil
}

// ReadResource reads a resource on serverID.
func (e *Engine) ReadResource(ctx context.Context, serverID string, params protocol.ReadResourceParams, opts ...CallOption) (protocol.ReadResourceResult, error) {
	lc, ok := e.liveClient(serverID)
	if !ok {
		return protocol.ReadResourceResult{}, &Error{Kind: ErrServerNotFound, ServerID: serverID, Message: "server not connected"}
	}
	ctx, meta, cleanup := e.prepareCall(ctx, opts)
	defer cleanup()
	params.Meta = meta
	res, err := lc.client.ReadResource(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return protocol.ReadResourceResult{}, &Error{Kind: ErrCancelled, ServerID: serverID, Message: "resource read cancelled", Cause: ctx.Err()}
		}
		return protocol.ReadResourceResult{}, passthroughOrWrap(ErrResourceReadFailed, serverID, "resource read failed", err)
	}
	return res, nil
}

// GetPrompt fetches a prompt on serverID.
func (e *Engine) GetPrompt(ctx context.Context, serverID string, params protocol.GetPromptParams, opts ...CallOption) (protocol.GetPromptResult, error) {
	lc, ok := e.liveClient(serverID)
	if !ok {
		return protocol.GetPromptResult{}, &Error{Kind: ErrServerNotFound, ServerID: serverID, Message: "server not connected"}
	}
	ctx, meta, cleanup := e.prepareCall(ctx, opts)
	defer cleanup()
	params.Meta = meta
	res, err := lc.client.GetPrompt(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return protocol.GetPromptResult{}, &Error{Kind: ErrCancelled, ServerID: serverID, Message: "prompt get cancelled", Cause: ctx.Err()}
		}
		return protocol.GetPromptResult{}, passthroughOrWrap(ErrPromptGetFailed, serverID, "prompt get failed", err)
	}
	return res, nil
}

// SubscribeResource subscribes to updates for uri on serverID.
func (e *Engine) SubscribeResource(ctx context.Context, serverID, uri string) error {
	lc, ok := e.liveClient(serverID)
	if !ok {
		return &Error{Kind: ErrServerNotFound, ServerID: serverID, Message: "server not connected"}
	}
	if err := lc.client.SubscribeResource(ctx, protocol.SubscribeResourceParams{URI: uri}); err != nil {
		return &Error{Kind: ErrSubscriptionFailed, ServerID: serverID, Message: "subscribe failed", Cause: err}
	}
	return nil
}

// UnsubscribeResource removes a subscription for uri on serverID.
func (e *Engine) UnsubscribeResource(ctx context.Context, serverID, uri string) error {
	lc, ok := e.liveClient(serverID)
	if !ok {
		return &Error{Kind: ErrServerNotFound, ServerID: serverID, Message: "server not connected"}
	}
	if err := lc.client.UnsubscribeResource(ctx, protocol.UnsubscribeResourceParams{URI: uri}); err != nil {
		return &Error{Kind: ErrSubscriptionFailed, ServerID: serverID, Message: "unsubscribe failed", Cause: err}
	}
	return nil
}

// SetRoots atomically replaces the current workspace roots and notifies every server that
// declares Roots.ListChanged support. Per-server notification failures are aggregated into
// a *multierror.Error rather than aborting the whole operation.
func (e *Engine) SetRoots(ctx context.Context, roots []Root) error {
	e.rootsMu.Lock()
	e.currentRoots = append([]Root(nil), roots...)
	e.rootsMu.Unlock()

	e.mu.RLock()
	targets := make(map[string]*liveClient, len(e.clients))
	for id, lc := range e.clients {
		if caps, ok := e.caps[id]; ok && notifyOnChange(caps.Roots) {
			targets[id] = lc
		}
	}
	e.mu.RUnlock()

	var merr *multierror.Error
	for id, lc := range targets {
		if err := lc.client.SendRootsListChanged(ctx); err != nil {
			merr = multierror.Append(merr, &Error{Kind: ErrRootsUpdateFailed, ServerID: id, Message: "roots notification failed", Cause: err})
		}
	}
	return merr.ErrorOrNil()
}

// Roots returns a snapshot of the currently configured workspace roots.
func (e *Engine) Roots() []Root {
	e.rootsMu.RLock()
	defer e.rootsMu.RUnlock()
	return append([]Root(nil), e.currentRoots...)
}

// Tools returns a snapshot of every aggregated tool across connected servers.
func (e *Engine) Tools() []AggregatedTool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]AggregatedTool, 0, len(e.tools))
	for _, t := range e.tools {
		out = append(out, t)
	}
	return out
}

// Resources returns a snapshot of every aggregated resource across connected servers.
func (e *Engine) Resources() []AggregatedResource {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]AggregatedResource, 0, len(e.resources))
	for _, r := range e.resources {
		out = append(out, r)
	}
	return out
}

// ResourceTemplates returns a snapshot of every aggregated resource template.
func (e *Engine) ResourceTemplates() []AggregatedResourceTemplate {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]AggregatedResourceTemplate, 0, len(e.templates))
	for _, t := range e.templates {
		out = append(out, t)
	}
	return out
}

// Prompts returns a snapshot of every aggregated prompt across connected servers.
func (e *Engine) Prompts() []AggregatedPrompt {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]AggregatedPrompt, 0, len(e.prompts))
	for _, p := range e.prompts {
		out = append(out, p)
	}
	return out
}

// ServerStatus reports one configured server's connection state for the read-only
// dashboard views.
type ServerStatus struct {
	ID        string                     `json:"id"`
	Name      string                     `json:"name"`
	Transport TransportKind              `json:"transport"`
	Connected bool                       `json:"connected"`
	Caps      protocol.ServerCapabilities `json:"capabilities,omitempty"`
}

// Servers reports the connection status of every configured server, in configuration order.
func (e *Engine) Servers() []ServerStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]ServerStatus, 0, len(e.cfg.Servers))
	for _, sc := range e.cfg.Servers {
		_, connected := e.clients[sc.ID]
		out = append(out, ServerStatus{
			ID:        sc.ID,
			Name:      sc.Name,
			Transport: sc.Transport,
			Connected: connected,
			Caps:      e.caps[sc.ID],
		})
	}
	return out
}

// SuggestServerForURI ranks connected servers able to serve a resource URI.
func (e *Engine) SuggestServerForURI(uri string) []Suggestion {
	return ResolveResourceServer(e.Resources(), e.ResourceTemplates(), uri)
}

// SuggestServerForTool ranks connected servers offering a tool named name.
func (e *Engine) SuggestServerForTool(name string) []Suggestion {
	return SuggestTool(e.Tools(), name)
}

// SuggestServerForPrompt ranks connected servers offering a prompt named name.
func (e *Engine) SuggestServerForPrompt(name string) []Suggestion {
	return SuggestPrompt(e.Prompts(), name)
}

func (e *Engine) liveClient(serverID string) (*liveClient, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	lc, ok := e.clients[serverID]
	return lc, ok
}

type toolListWatcher struct {
	e        *Engine
	serverID string
}

func (w toolListWatcher) OnToolListChanged() {
	w.e.refreshCapabilities(context.Background(), w.serverID)
}

type resourceListWatcher struct {
	e        *Engine
	serverID string
}

func (w resourceListWatcher) OnResourceListChanged() {
	w.e.refreshCapabilities(context.Background(), w.serverID)
}

type promptListWatcher struct {
	e        *Engine
	serverID string
}

func (w promptListWatcher) OnPromptListChanged() {
	w.e.refreshCapabilities(context.Background(), w.serverID)
}

type resourceSubscribedWatcher struct {
	e        *Engine
	serverID string
}

func (w resourceSubscribedWatcher) OnResourceSubscribedChanged(uri string) {
	w.e.broadcaster.Emit(ResourceUpdatedEvent{ServerID: w.serverID, URI: uri})
}

type logReceiver struct {
	e        *Engine
	serverID string
}

func (w logReceiver) OnLog(params protocol.LogParams) {
	level := fmt.Sprintf("server-%s", params.Level)
	w.e.broadcaster.Emit(LogEvent{ServerID: w.serverID, Level: level, Params: params})
}

type progressListener struct {
	e *Engine
}

func (p progressListener) OnProgress(params protocol.ProgressParams) {
	p.e.progressMu.Lock()
	fn, ok := p.e.progress[string(params.ProgressToken)]
	p.e.progressMu.Unlock()
	if ok {
		fn(params)
	}
}

// registerProgress associates a progress token with a callback for the lifetime of one
// call; the returned func must be called to deregister it once the call completes.
func (e *Engine) registerProgress(token string, fn func(protocol.ProgressParams)) func() {
	e.progressMu.Lock()
	e.progress[token] = fn
	e.progressMu.Unlock()
	return func() {
		e.progressMu.Lock()
		delete(e.progress, token)
		e.progressMu.Unlock()
	}
}
