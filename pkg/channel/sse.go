// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package channel

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/go-core-stack/mcp-session-gateway/pkg/wire"
)

// sseQueueDepth bounds frames accepted on the companion write endpoint
// while the dispatcher has not picked them up yet.
const sseQueueDepth = 64

// SSE is the event-stream channel: responses flow down a text/event-stream
// reply leg while call frames arrive through the companion POST endpoint
// and are handed over via Deliver.
type SSE struct {
	frames chan *wire.Frame

	wmu     sync.Mutex
	writer  io.Writer
	flusher http.Flusher

	closeOnce sync.Once
	closed    chan struct{}
}

// NewSSE wraps the reply leg of an established event stream. The caller
// must have set the text/event-stream headers already.
func NewSSE(w io.Writer, flusher http.Flusher) *SSE {
	return &SSE{
		frames:  make(chan *wire.Frame, sseQueueDepth),
		writer:  w,
		flusher: flusher,
		closed:  make(chan struct{}),
	}
}

// Deliver hands a frame received on the companion endpoint to the channel.
// It fails with ErrClosed once the stream is gone and blocks only while the
// queue is full.
func (c *SSE) Deliver(frame *wire.Frame) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	select {
	case c.frames <- frame:
		return nil
	case <-c.closed:
		return ErrClosed
	}
}

// ReadFrame returns the next delivered frame.
func (c *SSE) ReadFrame(ctx context.Context) (*wire.Frame, error) {
	select {
	case frame := <-c.frames:
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, ErrClosed
	}
}

// WriteFrame emits one completion as a message event. Safe for concurrent
// use; each event is flushed immediately so slow siblings never delay it.
func (c *SSE) WriteFrame(resp *wire.Response) error {
	data, err := resp.Encode()
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	if _, err := fmt.Fprintf(c.writer, "event: message\ndata: %s\n\n", data); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

// WriteComment emits an SSE comment line, used for the handshake ack and
// periodic keepalives.
func (c *SSE) WriteComment(comment string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	if _, err := fmt.Fprintf(c.writer, ":%s\n\n", comment); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

// WriteEvent emits a named event with a plain payload, used to announce the
// session endpoint during the handshake.
func (c *SSE) WriteEvent(name, data string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	if _, err := fmt.Fprintf(c.writer, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

// Close tears the channel down. It waits out any in-progress write so the
// reply leg is never touched after closure. Idempotent.
func (c *SSE) Close() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}
