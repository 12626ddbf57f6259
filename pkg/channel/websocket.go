// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package channel

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/go-core-stack/mcp-session-gateway/pkg/wire"
)

// WebSocket is the single bidirectional streaming channel over an upgraded
// connection. A reader pump decouples frame arrival from dispatch so a
// pending call never blocks the next frame.
type WebSocket struct {
	conn   *websocket.Conn
	logger zerolog.Logger

	frames chan *wire.Frame

	wmu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// NewWebSocket wraps an upgraded connection and starts its reader pump.
func NewWebSocket(conn *websocket.Conn, logger zerolog.Logger) *WebSocket {
	c := &WebSocket{
		conn:   conn,
		logger: logger.With().Str("component", "ws-channel").Logger(),
		frames: make(chan *wire.Frame),
		closed: make(chan struct{}),
	}
	go c.pump()
	return c
}

func (c *WebSocket) pump() {
	defer func() { _ = c.Close() }()

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug().Err(err).Msg("websocket read failed")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		frame, err := wire.Decode(data)
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
}

// ReadFrame returns the next inbound frame.
func (c *WebSocket) ReadFrame(ctx context.Context) (*wire.Frame, error) {
	select {
	case frame := <-c.frames:
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, ErrClosed
	}
}

// WriteFrame sends one completion as a text message. Safe for concurrent use.
func (c *WebSocket) WriteFrame(resp *wire.Response) error {
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

	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	return nil
}

// Close shuts the connection down. Idempotent.
func (c *WebSocket) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}
