// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package channel

import (
	"bufio"
	"context"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/go-core-stack/mcp-session-gateway/pkg/wire"
)

// maxFrameSize bounds a single newline-delimited frame on stdio.
const maxFrameSize = 4 * 1024 * 1024

// Stdio is the single implicit, sessionless channel over an input/output
// pair of streams. One process serves exactly one caller; there is no
// per-request auth layer on top of it.
type Stdio struct {
	out    io.Writer
	logger zerolog.Logger

	frames chan *wire.Frame

	wmu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// NewStdio starts the reader pump over in/out. Malformed lines are logged
// and skipped rather than tearing the channel down.
func NewStdio(in io.Reader, out io.Writer, logger zerolog.Logger) *Stdio {
	c := &Stdio{
		out:    out,
		logger: logger.With().Str("component", "stdio-channel").Logger(),
		frames: make(chan *wire.Frame),
		closed: make(chan struct{}),
	}
	go c.pump(in)
	return c
}

func (c *Stdio) pump(in io.Reader) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		frame, err := wire.Decode(line)
		if err != nil {
			c.logger.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		select {
		case c.frames <- frame:
		case <-c.closed:
			return
		}
	}

	if err := scanner.Err(); err != nil {
		c.logger.Warn().Err(err).Msg("input stream failed")
	}
	_ = c.Close()
}

// ReadFrame returns the next inbound frame.
func (c *Stdio) ReadFrame(ctx context.Context) (*wire.Frame, error) {
	select {
	case frame := <-c.frames:
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, ErrClosed
	}
}

// WriteFrame writes one newline-delimited response. Safe for concurrent use.
func (c *Stdio) WriteFrame(resp *wire.Response) error {
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

	if _, err := c.out.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

// Close tears the channel down. Idempotent.
func (c *Stdio) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}
