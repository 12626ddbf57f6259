// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package channel

import (
	"context"
	"sync"

	"github.com/go-core-stack/mcp-session-gateway/pkg/wire"
)

// OneShot adapts a single request/response exchange to the Channel
// capability so the plain HTTP endpoint runs through the same dispatch path
// as the streaming transports.
type OneShot struct {
	mu        sync.Mutex
	frame     *wire.Frame
	delivered bool

	resp chan *wire.Response

	closeOnce sync.Once
	closed    chan struct{}
}

// NewOneShot builds a channel carrying exactly the given frame.
func NewOneShot(frame *wire.Frame) *OneShot {
	return &OneShot{
		frame:  frame,
		resp:   make(chan *wire.Response, 1),
		closed: make(chan struct{}),
	}
}

// ReadFrame returns the frame once, then reports closure so the serve loop
// winds down while the call itself is still tracked to completion.
func (c *OneShot) ReadFrame(_ context.Context) (*wire.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.delivered {
		c.delivered = true
		return c.frame, nil
	}
	return nil, ErrClosed
}

// WriteFrame records the single completion.
func (c *OneShot) WriteFrame(resp *wire.Response) error {
	select {
	case <-c.closed:
		return ErrClosed
	case c.resp <- resp:
		c.closeOnce.Do(func() { close(c.closed) })
		return nil
	default:
		return ErrClosed
	}
}

// Response returns the completion once written, if any.
func (c *OneShot) Response() (*wire.Response, bool) {
	select {
	case resp := <-c.resp:
		return resp, true
	default:
		return nil, false
	}
}

// Close tears the exchange down. Idempotent.
func (c *OneShot) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}
