package host

import (
	"context"
	"time"

	"github.com/mcphostlib/mcphost/protocol"
)

// CallOption configures a single CallTool/ReadResource/GetPrompt invocation: progress
// reporting and timeout behavior layered on top of the caller's own context.
type CallOption func(*callConfig)

type callConfig struct {
	onProgress             func(protocol.ProgressParams)
	timeout                time.Duration
	resetTimeoutOnProgress bool
	maxTotalTimeout        time.Duration
}

// OnProgress registers a callback invoked for every progress notification the server sends
// while the request is outstanding.
func OnProgress(fn func(protocol.ProgressParams)) CallOption {
	return func(c *callConfig) { c.onProgress = fn }
}

// Timeout bounds how long a single call may run before it is cancelled with ErrCancelled.
// Zero (the default) means no additional timeout beyond the caller's own context.
func Timeout(d time.Duration) CallOption {
	return func(c *callConfig) { c.timeout = d }
}

// ResetTimeoutOnProgress, combined with Timeout, restarts the timeout window every time a
// progress notification arrives, so long-running but actively-progressing calls are not
// cut off prematurely.
func ResetTimeoutOnProgress() CallOption {
	return func(c *callConfig) { c.resetTimeoutOnProgress = true }
}

// MaxTotalTimeout caps the overall call duration regardless of ResetTimeoutOnProgress.
func MaxTotalTimeout(d time.Duration) CallOption {
	return func(c *callConfig) { c.maxTotalTimeout = d }
}

func resolveCallConfig(opts []CallOption) *callConfig {
	cfg := &callConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// applyCallConfig derives a context bounded by cfg's timeouts and, if cfg.resetTimeoutOnProgress
// is set, returns a resetDeadline func the caller should invoke from its progress callback
// to push the per-call timeout back out by cfg.timeout.
func applyCallConfig(ctx context.Context, cfg *callConfig) (_ context.Context, resetDeadline func(), cancel context.CancelFunc) {
	cancel = func() {}
	resetDeadline = func() {}

	if cfg.maxTotalTimeout > 0 {
		var outerCancel context.CancelFunc
		ctx, outerCancel = context.WithTimeout(ctx, cfg.maxTotalTimeout)
		cancel = outerCancel
	}

	if cfg.timeout <= 0 {
		return ctx, resetDeadline, cancel
	}

	if !cfg.resetTimeoutOnProgress {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, cfg.timeout)
		outer := cancel
		cancel = func() { timeoutCancel(); outer() }
		return ctx, resetDeadline, cancel
	}

	ctx, timeoutCancel := context.WithCancel(ctx)
	timer := time.AfterFunc(cfg.timeout, timeoutCancel)
	resetDeadline = func() { timer.Reset(cfg.timeout) }
	outer := cancel
	cancel = func() {
		timer.Stop()
		timeoutCancel()
		outer()
	}
	return ctx, resetDeadline, cancel
}
