// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package channel provides the transport-agnostic read/write/close
// capability over one physical connection. The auth, session and dispatch
// core is implemented once against this capability; only the concrete
// channel varies per transport (stdio, SSE pair, websocket).
package channel

import (
	"context"
	"errors"

	"github.com/go-core-stack/mcp-session-gateway/pkg/wire"
)

// ErrClosed indicates the channel's transport is gone. Pending reads and
// writes fail with it; no response should be attempted afterwards.
var ErrClosed = errors.New("channel: closed")

// Channel is one logical connection's frame pipe. ReadFrame blocks until a
// frame arrives, the context is cancelled, or the channel closes. WriteFrame
// is safe for concurrent use so independent completions can be relayed in
// whichever order they finish.
type Channel interface {
	ReadFrame(ctx context.Context) (*wire.Frame, error)
	WriteFrame(resp *wire.Response) error
	Close() error
}
