// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package dispatch reads call frames off a session's channel and executes
// each one on an independent path: the read loop never waits on a pending
// upstream operation, so call N+1 is dispatched while call N is still in
// flight. Completions are relayed in whatever order they finish, correlated
// by the call's own identifier.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/go-core-stack/mcp-session-gateway/pkg/auth"
	"github.com/go-core-stack/mcp-session-gateway/pkg/channel"
	"github.com/go-core-stack/mcp-session-gateway/pkg/metrics"
	"github.com/go-core-stack/mcp-session-gateway/pkg/routing"
	"github.com/go-core-stack/mcp-session-gateway/pkg/upstream"
	"github.com/go-core-stack/mcp-session-gateway/pkg/wire"
)

// Binding is the dispatcher's view of whoever owns the channel: a bound
// session, or the process-wide implicit identity on sessionless transports.
type Binding interface {
	Identity() *auth.Identity
	Target() (routing.Target, bool)
}

// inFlight is one call currently executing. It exists only between receipt
// and terminal outcome, and its context derives from the owning session's
// so closure cancels it.
type inFlight struct {
	callID  string
	started time.Time
	cancel  context.CancelFunc
}

// Dispatcher executes call frames concurrently against the upstream.
type Dispatcher struct {
	exec          upstream.Executor
	metrics       *metrics.Metrics
	logger        zerolog.Logger
	warmupTimeout time.Duration

	mu    sync.Mutex
	calls map[string]*inFlight
}

// New constructs a dispatcher over the given executor.
func New(exec upstream.Executor, m *metrics.Metrics, warmupTimeout time.Duration, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		exec:          exec,
		metrics:       m,
		logger:        logger.With().Str("component", "dispatch").Logger(),
		warmupTimeout: warmupTimeout,
		calls:         make(map[string]*inFlight),
	}
}

// InFlight reports the number of calls currently executing.
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

// Serve pumps frames from ch until ctx is cancelled or the channel closes,
// spawning one goroutine per call immediately on receipt. It returns once
// every spawned call has reached a terminal outcome. Channel closure and
// context cancellation are normal termination, not errors.
func (d *Dispatcher) Serve(ctx context.Context, ch channel.Channel, b Binding) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			frame, err := ch.ReadFrame(ctx)
			if err != nil {
				if errors.Is(err, channel.ErrClosed) || errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
			d.Dispatch(ctx, g, ch, b, frame)
		}
	})

	return g.Wait()
}

// Dispatch starts one call's independent execution inside the group.
func (d *Dispatcher) Dispatch(ctx context.Context, g *errgroup.Group, ch channel.Channel, b Binding, frame *wire.Frame) {
	// A call's failure must never terminate siblings, so the worker never
	// surfaces an error into the group.
	g.Go(func() error {
		d.run(ctx, ch, b, frame)
		return nil
	})
}

func (d *Dispatcher) run(ctx context.Context, ch channel.Channel, b Binding, frame *wire.Frame) {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	call := &inFlight{
		callID:  frame.CallID(),
		started: time.Now(),
		cancel:  cancel,
	}
	key := uuid.NewString()

	d.mu.Lock()
	d.calls[key] = call
	d.mu.Unlock()
	if d.metrics != nil {
		d.metrics.InFlightCalls.Inc()
	}

	defer func() {
		d.mu.Lock()
		delete(d.calls, key)
		d.mu.Unlock()
		if d.metrics != nil {
			d.metrics.InFlightCalls.Dec()
		}
	}()

	target, ok := b.Target()
	if !ok {
		d.complete(ch, frame, wire.NewError(frame.ID, wire.CodeInvalidRequest, "session has no routed backend"), call, metrics.OutcomeFailed)
		return
	}

	result, err := d.exec.Execute(callCtx, b.Identity(), target, frame.Method, frame.Params)
	switch {
	case err == nil:
		d.complete(ch, frame, wire.NewResult(frame.ID, result), call, metrics.OutcomeCompleted)
	case errors.Is(err, context.Canceled):
		// Transport gone while the call was pending; cancel silently, no
		// response toward a disconnected caller.
		d.observe(call, metrics.OutcomeCancelled)
		d.logger.Debug().Str("method", frame.Method).Msg("call cancelled by session closure")
	default:
		var upErr *upstream.Error
		if errors.As(err, &upErr) {
			d.complete(ch, frame, wire.NewError(frame.ID, wire.CodeUpstreamError, upErr.Message), call, metrics.OutcomeFailed)
			return
		}
		d.logger.Error().Err(err).Str("method", frame.Method).Msg("call failed")
		d.complete(ch, frame, wire.NewError(frame.ID, wire.CodeInternalError, "internal error"), call, metrics.OutcomeFailed)
	}
}

func (d *Dispatcher) complete(ch channel.Channel, frame *wire.Frame, resp *wire.Response, call *inFlight, outcome string) {
	d.observe(call, outcome)
	if frame.IsNotification() {
		return
	}
	if err := ch.WriteFrame(resp); err != nil {
		if !errors.Is(err, channel.ErrClosed) {
			d.logger.Error().Err(err).Str("method", frame.Method).Msg("relay completion failed")
		}
	}
}

func (d *Dispatcher) observe(call *inFlight, outcome string) {
	if d.metrics == nil {
		return
	}
	d.metrics.CallsTotal.WithLabelValues(outcome).Inc()
	d.metrics.CallDuration.WithLabelValues(outcome).Observe(time.Since(call.started).Seconds())
}

// Warmup runs the bounded establishment round-trip toward the session's
// backend in the background. Failure is logged and otherwise ignored; real
// call dispatch never waits on it.
func (d *Dispatcher) Warmup(ctx context.Context, b Binding) {
	target, ok := b.Target()
	if !ok {
		return
	}
	go func() {
		warmCtx, cancel := context.WithTimeout(ctx, d.warmupTimeout)
		defer cancel()
		if err := d.exec.Ping(warmCtx, b.Identity(), target); err != nil {
			d.logger.Debug().Err(err).Str("backend", target.URL.String()).Msg("warm-up round-trip failed")
		}
	}()
}
