package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/room4-2/voicerelay/messages"
	"github.com/room4-2/voicerelay/openai"
)

// vendorStub plays the part of the upstream realtime endpoint: it accepts one
// WebSocket connection, records the handshake, and hands the conn to the test.
type vendorStub struct {
	server *httptest.Server
	conns  chan *websocket.Conn
	auth   chan string
}

func newVendorStub(t *testing.T) *vendorStub {
	t.Helper()

	stub := &vendorStub{
		conns: make(chan *websocket.Conn, 1),
		auth:  make(chan string, 1),
	}

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("stub upgrade failed: %v", err)
			return
		}
		stub.conns <- conn
	}))
	t.Cleanup(stub.server.Close)

	return stub
}

func (v *vendorStub) url() string {
	return "ws" + strings.TrimPrefix(v.server.URL, "http")
}

func (v *vendorStub) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-v.conns:
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for vendor-side connection")
		return nil
	}
}

func readVendorMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("vendor-side read failed: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("vendor-side message not JSON: %v", err)
	}
	return msg
}

func sendVendorEvent(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("vendor-side write failed: %v", err)
	}
}

func nextLinkEvent(t *testing.T, rt *openai.Realtime) openai.LinkEvent {
	t.Helper()
	select {
	case evt, ok := <-rt.Events():
		if !ok {
			t.Fatal("link event stream closed unexpectedly")
		}
		return evt
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for link event")
		return openai.LinkEvent{}
	}
}

func dialStub(t *testing.T, stub *vendorStub, cfg openai.SessionConfig) *openai.Realtime {
	t.Helper()
	rt, err := openai.Dial(context.Background(), stub.url(), "gpt-4o-realtime-preview", "sk-test", cfg)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	return rt
}

func TestDialSendsSessionConfiguration(t *testing.T) {
	t.Parallel()

	stub := newVendorStub(t)
	dialStub(t, stub, openai.SessionConfig{Instructions: "be brief", Voice: "ash"})

	if auth := <-stub.auth; auth != "Bearer sk-test" {
		t.Errorf("Authorization header = %q, want bearer credential", auth)
	}

	conn := stub.accept(t)
	msg := readVendorMessage(t, conn)
	if msg["type"] != "session.update" {
		t.Fatalf("first vendor message type = %v, want session.update", msg["type"])
	}

	sess, ok := msg["session"].(map[string]any)
	if !ok {
		t.Fatal("session.update missing session object")
	}
	if sess["voice"] != "ash" {
		t.Errorf("voice = %v, want ash", sess["voice"])
	}
	if sess["instructions"] != "be brief" {
		t.Errorf("instructions = %v", sess["instructions"])
	}
	if sess["input_audio_format"] != "pcm16" || sess["output_audio_format"] != "pcm16" {
		t.Errorf("audio formats = %v/%v, want pcm16/pcm16", sess["input_audio_format"], sess["output_audio_format"])
	}
	td, ok := sess["turn_detection"].(map[string]any)
	if !ok || td["type"] != "server_vad" {
		t.Errorf("turn_detection = %v, want server_vad", sess["turn_detection"])
	}
}

func TestReadyGatesOutboundTraffic(t *testing.T) {
	t.Parallel()

	stub := newVendorStub(t)
	rt := dialStub(t, stub, openai.SessionConfig{Voice: "alloy"})
	conn := stub.accept(t)
	readVendorMessage(t, conn) // session.update

	// Before the vendor acknowledges, sends are dropped, not queued.
	if rt.Ready() {
		t.Fatal("link ready before session.updated")
	}
	rt.AppendAudio("ZHJvcHBlZA==")
	rt.TriggerResponse()

	sendVendorEvent(t, conn, `{"type":"session.updated","session":{}}`)
	if evt := nextLinkEvent(t, rt); evt.Kind != openai.LinkReady {
		t.Fatalf("first link event kind = %v, want LinkReady", evt.Kind)
	}
	if !rt.Ready() {
		t.Fatal("link not ready after session.updated")
	}

	// The first message the vendor sees after the handshake must be this
	// commit: the earlier append and trigger never made it onto the wire.
	rt.CommitAudio()
	msg := readVendorMessage(t, conn)
	if msg["type"] != "input_audio_buffer.commit" {
		t.Fatalf("vendor received %v, want input_audio_buffer.commit", msg["type"])
	}
}

func TestForwardsTranslatedEventsInOrder(t *testing.T) {
	t.Parallel()

	stub := newVendorStub(t)
	rt := dialStub(t, stub, openai.SessionConfig{Voice: "alloy"})
	conn := stub.accept(t)
	readVendorMessage(t, conn)

	sendVendorEvent(t, conn, `{"type":"session.updated","session":{}}`)
	sendVendorEvent(t, conn, `{"type":"response.audio.delta","delta":"AAAA"}`)
	sendVendorEvent(t, conn, `{"type":"response.text.delta","delta":"hi"}`)
	sendVendorEvent(t, conn, `{"type":"rate_limits.updated"}`)
	sendVendorEvent(t, conn, `{"type":"response.done","response":{"id":"resp_1"}}`)

	if evt := nextLinkEvent(t, rt); evt.Kind != openai.LinkReady {
		t.Fatalf("event 0 kind = %v, want LinkReady", evt.Kind)
	}

	wantTypes := []string{messages.TypeAudioResponse, messages.TypeTextResponse, messages.TypeResponseDone}
	for i, want := range wantTypes {
		evt := nextLinkEvent(t, rt)
		if evt.Kind != openai.LinkForward {
			t.Fatalf("event %d kind = %v, want LinkForward", i+1, evt.Kind)
		}
		if evt.Event.Type != want {
			t.Errorf("event %d type = %q, want %q", i+1, evt.Event.Type, want)
		}
	}
}

func TestInjectTextProtocolShape(t *testing.T) {
	t.Parallel()

	stub := newVendorStub(t)
	rt := dialStub(t, stub, openai.SessionConfig{Voice: "alloy"})
	conn := stub.accept(t)
	readVendorMessage(t, conn)

	sendVendorEvent(t, conn, `{"type":"session.updated","session":{}}`)
	nextLinkEvent(t, rt) // LinkReady

	rt.InjectText("hello there")
	rt.TriggerResponse()

	msg := readVendorMessage(t, conn)
	if msg["type"] != "conversation.item.create" {
		t.Fatalf("first message type = %v, want conversation.item.create", msg["type"])
	}
	item, _ := msg["item"].(map[string]any)
	if item["type"] != "message" || item["role"] != "user" {
		t.Errorf("item = %v, want user message", item)
	}

	msg = readVendorMessage(t, conn)
	if msg["type"] != "response.create" {
		t.Fatalf("second message type = %v, want response.create", msg["type"])
	}
}

func TestDisconnectEmittedOnceThenStreamCloses(t *testing.T) {
	t.Parallel()

	stub := newVendorStub(t)
	rt := dialStub(t, stub, openai.SessionConfig{Voice: "alloy"})
	conn := stub.accept(t)
	readVendorMessage(t, conn)

	sendVendorEvent(t, conn, `{"type":"session.updated","session":{}}`)
	nextLinkEvent(t, rt) // LinkReady

	conn.Close()

	if evt := nextLinkEvent(t, rt); evt.Kind != openai.LinkDisconnected {
		t.Fatalf("kind = %v, want LinkDisconnected", evt.Kind)
	}

	select {
	case evt, ok := <-rt.Events():
		if ok {
			t.Fatalf("unexpected event after disconnect: %+v", evt)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("event stream not closed after disconnect")
	}
}

func TestCloseIsIdempotentAndSilent(t *testing.T) {
	t.Parallel()

	stub := newVendorStub(t)
	rt := dialStub(t, stub, openai.SessionConfig{Voice: "alloy"})
	stub.accept(t)

	if err := rt.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	// A locally initiated close must not surface as a vendor disconnect.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt, ok := <-rt.Events():
			if !ok {
				return
			}
			if evt.Kind == openai.LinkDisconnected {
				t.Fatal("LinkDisconnected emitted for local close")
			}
		case <-deadline:
			t.Fatal("event stream not closed after Close")
		}
	}
}
