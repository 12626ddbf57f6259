// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/go-core-stack/mcp-session-gateway/pkg/wire"
)

func dialWS(t *testing.T, server *httptest.Server, header http.Header) (*websocket.Conn, *http.Response) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial %s: %v (resp %+v)", wsURL, err, resp)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn, resp
}

func TestWebSocketChannelDispatch(t *testing.T) {
	backend := newFakeBackend(t, "u1")
	gw := newTestGateway(t, baseConfig(t, backend))
	server := httptest.NewServer(gw)
	defer server.Close()

	header := http.Header{}
	header.Set(passthroughHeader, "ws-token")
	conn, resp := dialWS(t, server, header)

	// The upgrade response keys the channel by session identifier.
	if sid := resp.Header.Get(sessionHeader); sid == "" {
		t.Fatal("upgrade response missing session id")
	}

	if err := conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"jsonrpc":"2.0","id":21,"method":"tools/list"}`)); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read completion: %v", err)
	}

	var rpc wire.Response
	if err := json.Unmarshal(data, &rpc); err != nil {
		t.Fatalf("decode completion: %v", err)
	}
	if string(rpc.ID) != "21" {
		t.Errorf("completion id = %s", rpc.ID)
	}
	if rpc.Error != nil {
		t.Errorf("completion error = %+v", rpc.Error)
	}
	if got := <-backend.tokens; got != "Bearer ws-token" {
		t.Errorf("upstream authorization = %q", got)
	}
}

func TestWebSocketRequiresCredentialAtUpgrade(t *testing.T) {
	backend := newFakeBackend(t, "u1")
	gw := newTestGateway(t, baseConfig(t, backend))
	server := httptest.NewServer(gw)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected upgrade to fail without a credential")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("upgrade response = %+v, want 401", resp)
	}
}

func TestWebSocketCloseCancelsSession(t *testing.T) {
	backend := newFakeBackend(t, "u1")
	gw := newTestGateway(t, baseConfig(t, backend))
	server := httptest.NewServer(gw)
	defer server.Close()

	header := http.Header{}
	header.Set(passthroughHeader, "ws-token")
	conn, _ := dialWS(t, server, header)

	if gw.Registry().Len() != 1 {
		t.Fatalf("registry len = %d, want 1", gw.Registry().Len())
	}

	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for gw.Registry().Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session not destroyed after channel close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
