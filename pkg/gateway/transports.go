// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/go-core-stack/mcp-session-gateway/pkg/auth"
	"github.com/go-core-stack/mcp-session-gateway/pkg/channel"
	"github.com/go-core-stack/mcp-session-gateway/pkg/session"
	"github.com/go-core-stack/mcp-session-gateway/pkg/wire"
)

const (
	// sessionHeader carries the session identifier on the single-shot and
	// websocket transports.
	sessionHeader = "Mcp-Session-Id"
	// keepaliveInterval paces SSE heartbeat comments.
	keepaliveInterval = 25 * time.Second
	// maxCallBody bounds a single-shot or companion-endpoint frame.
	maxCallBody = 4 * 1024 * 1024
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleSSE opens the event-stream reply leg and creates its session. Call
// frames arrive through the companion endpoint announced in the handshake.
func (g *Gateway) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		g.logger.Error().Msg("response writer does not support flushing for SSE")
		return
	}

	sess := g.registry.Create(g.baseCtx)

	// Bind eagerly when the stream request already carries a credential; a
	// missing one is fine here, the companion endpoint binds later.
	if _, err := g.authenticate(r, sess); err != nil && !errors.Is(err, auth.ErrMissing) {
		sess.Close()
		g.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch := channel.NewSSE(w, flusher)
	sess.AttachChannel(ch)
	defer sess.Close()

	if err := ch.WriteEvent("endpoint", fmt.Sprintf("/messages?session_id=%s", sess.ID())); err != nil {
		g.logger.Error().Err(err).Msg("failed to announce session endpoint")
		return
	}

	go func() {
		if err := g.dispatcher.Serve(sess.Context(), ch, sess); err != nil {
			g.logger.Error().Err(err).Str("session_id", sess.ID()).Msg("dispatch loop failed")
		}
	}()

	g.logger.Info().Str("session_id", sess.ID()).Msg("event stream opened")

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			g.logger.Info().Str("session_id", sess.ID()).Msg("event stream closed")
			return
		case <-sess.Context().Done():
			return
		case <-ticker.C:
			if err := ch.WriteComment("keepalive"); err != nil {
				return
			}
		}
	}
}

// handleMessages is the companion write endpoint of the SSE pair: it
// authenticates the request against the session, then hands the frame to
// the session's channel. Responses flow back on the event stream.
func (g *Gateway) handleMessages(w http.ResponseWriter, r *http.Request) {
	sess, ok := g.registry.Get(r.URL.Query().Get("session_id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown session"})
		return
	}

	if _, err := g.authenticate(r, sess); err != nil {
		g.writeError(w, err)
		return
	}

	frame, err := readFrame(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	sse, ok := sess.Channel().(*channel.SSE)
	if !ok {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "session has no event stream"})
		return
	}

	if err := sse.Deliver(frame); err != nil {
		writeJSON(w, http.StatusGone, map[string]string{"error": "session stream closed"})
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// handleWebSocket runs the bidirectional streaming channel. The upgrade
// request is the session's first and only authenticated request, so a
// resolvable credential is required up front.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess := g.registry.Create(g.baseCtx)

	if _, err := g.authenticate(r, sess); err != nil {
		sess.Close()
		g.writeError(w, err)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, http.Header{sessionHeader: []string{sess.ID()}})
	if err != nil {
		sess.Close()
		g.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	ch := channel.NewWebSocket(conn, g.logger)
	sess.AttachChannel(ch)
	defer sess.Close()

	g.logger.Info().Str("session_id", sess.ID()).Msg("websocket channel opened")

	if err := g.dispatcher.Serve(sess.Context(), ch, sess); err != nil {
		g.logger.Error().Err(err).Str("session_id", sess.ID()).Msg("dispatch loop failed")
	}
}

// handleCall is the single-shot exchange: one frame in, one completion out,
// still keyed to a session so identity binding and routing stay sticky
// across calls. A request without a session header starts a fresh session
// and returns its identifier.
func (g *Gateway) handleCall(w http.ResponseWriter, r *http.Request) {
	var sess *session.Session
	created := false
	if sid := r.Header.Get(sessionHeader); sid != "" {
		var ok bool
		if sess, ok = g.registry.Get(sid); !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown session"})
			return
		}
	} else {
		sess = g.registry.Create(g.baseCtx)
		created = true
	}

	// A session created for this request must not outlive its rejection,
	// and a rejected request never learns a session id.
	if _, err := g.authenticate(r, sess); err != nil {
		if created {
			sess.Close()
		}
		g.writeError(w, err)
		return
	}

	frame, err := readFrame(r)
	if err != nil {
		if created {
			sess.Close()
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if created {
		w.Header().Set(sessionHeader, sess.ID())
	}

	ch := channel.NewOneShot(frame)
	defer func() { _ = ch.Close() }()

	// The call must die with either the session or the waiting request.
	ctx, cancel := context.WithCancel(sess.Context())
	defer cancel()
	stop := context.AfterFunc(r.Context(), cancel)
	defer stop()

	if err := g.dispatcher.Serve(ctx, ch, sess); err != nil {
		g.logger.Error().Err(err).Str("session_id", sess.ID()).Msg("dispatch failed")
	}

	resp, ok := ch.Response()
	if !ok {
		// Notification: nothing to relay.
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDelete lets a caller tear its session down explicitly.
func (g *Gateway) handleDelete(w http.ResponseWriter, r *http.Request) {
	sess, ok := g.registry.Get(r.Header.Get(sessionHeader))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown session"})
		return
	}
	sess.Close()
	w.WriteHeader(http.StatusNoContent)
}

func readFrame(r *http.Request) (*wire.Frame, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallBody))
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return wire.Decode(body)
}
