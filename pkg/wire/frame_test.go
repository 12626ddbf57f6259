// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package wire

import (
	"encoding/json"
	"testing"
)

func TestDecodeFrame(t *testing.T) {
	frame, err := Decode([]byte(`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"x"}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if frame.Method != "tools/call" {
		t.Errorf("method = %q", frame.Method)
	}
	if frame.CallID() != "7" {
		t.Errorf("call id = %q, want 7", frame.CallID())
	}
	if frame.IsNotification() {
		t.Error("frame with id must not be a notification")
	}
}

func TestDecodeRejectsWrongVersion(t *testing.T) {
	if _, err := Decode([]byte(`{"jsonrpc":"1.0","id":1,"method":"m"}`)); err == nil {
		t.Fatal("expected version error")
	}
	if _, err := Decode([]byte(`{"jsonrpc":"2.0","id":1}`)); err == nil {
		t.Fatal("expected missing-method error")
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestNotificationHasNoID(t *testing.T) {
	frame, err := Decode([]byte(`{"jsonrpc":"2.0","method":"notifications/progress"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !frame.IsNotification() {
		t.Error("frame without id must be a notification")
	}
}

func TestResponseCorrelation(t *testing.T) {
	resp := NewError(json.RawMessage(`"abc"`), CodeUpstreamError, "backend said no")
	data, err := resp.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var decoded Response
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if string(decoded.ID) != `"abc"` {
		t.Errorf("id = %s", decoded.ID)
	}
	if decoded.Error == nil || decoded.Error.Code != CodeUpstreamError {
		t.Errorf("error = %+v", decoded.Error)
	}
}
