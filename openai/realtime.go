package openai

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/room4-2/voicerelay/messages"
)

const (
	// DefaultRealtimeURL is the vendor's realtime WebSocket endpoint.
	DefaultRealtimeURL = "wss://api.openai.com/v1/realtime"
	// DefaultRealtimeModel is the model used for realtime sessions.
	DefaultRealtimeModel = "gpt-4o-realtime-preview"

	handshakeTimeout = 10 * time.Second
	sendTimeout      = 10 * time.Second
	linkEventBuffer  = 64
)

// LinkEventKind discriminates the events a Realtime link emits upward.
type LinkEventKind int

const (
	// LinkReady means the vendor acknowledged the session configuration.
	LinkReady LinkEventKind = iota
	// LinkForward carries a normalized event to pass through to the client.
	LinkForward
	// LinkDisconnected is terminal: the vendor side closed or failed.
	LinkDisconnected
)

// LinkEvent is a normalized event emitted by a Realtime link.
type LinkEvent struct {
	Kind  LinkEventKind
	Event *messages.ServerEvent // set for LinkForward
	Err   error                 // set for LinkDisconnected on transport error
}

// SessionConfig carries the per-session parameters of a vendor link. Voice
// must already be resolved via ResolveVoice.
type SessionConfig struct {
	Instructions string
	Voice        string
}

// Realtime owns one outbound connection to the Realtime endpoint for the
// lifetime of one relay session.
type Realtime struct {
	conn   *websocket.Conn
	events chan LinkEvent
	done   chan struct{}

	// ready flips once the vendor accepts the session configuration.
	// Until then all send primitives are silent no-ops.
	ready atomic.Bool

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool

	disconnectOnce sync.Once
	finishOnce     sync.Once
}

// Dial connects to the Realtime endpoint and immediately sends the fixed
// session configuration. The returned link is not ready until the vendor
// acknowledges that configuration (a LinkReady event).
func Dial(ctx context.Context, baseURL, model, apiKey string, cfg SessionConfig) (*Realtime, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	header := http.Header{
		"Authorization": []string{"Bearer " + apiKey},
		"OpenAI-Beta":   []string{"realtime=v1"},
	}

	conn, _, err := dialer.DialContext(ctx, fmt.Sprintf("%s?model=%s", baseURL, model), header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial realtime endpoint: %w", err)
	}

	rt := &Realtime{
		conn:   conn,
		events: make(chan LinkEvent, linkEventBuffer),
		done:   make(chan struct{}),
	}

	if err := rt.sendSessionUpdate(cfg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send session configuration: %w", err)
	}

	go rt.readLoop()

	return rt, nil
}

// ── Outgoing protocol messages ──────────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string             `json:"modalities"`
	Instructions            string               `json:"instructions"`
	Voice                   string               `json:"voice"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	InputAudioTranscription *transcriptionParams `json:"input_audio_transcription"`
	TurnDetection           *turnDetectionParams `json:"turn_detection"`
	Tools                   []any                `json:"tools"`
	Temperature             float64              `json:"temperature"`
	MaxResponseOutputTokens int                  `json:"max_response_output_tokens"`
}

type transcriptionParams struct {
	Model    string `json:"model"`
	Language string `json:"language"`
}

type turnDetectionParams struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type createItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string             `json:"type"`
	Role    string             `json:"role"`
	Content []conversationPart `json:"content"`
}

type conversationPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// sendSessionUpdate applies the fixed session policy. This is not a
// negotiable parameter of the link: every session gets the same modalities,
// audio formats, transcription and turn-detection settings.
func (rt *Realtime) sendSessionUpdate(cfg SessionConfig) error {
	return rt.writeJSON(sessionUpdateMessage{
		Type: "session.update",
		Session: sessionParams{
			Modalities:        []string{"text", "audio"},
			Instructions:      cfg.Instructions,
			Voice:             cfg.Voice,
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
			InputAudioTranscription: &transcriptionParams{
				Model:    "whisper-1",
				Language: "en",
			},
			TurnDetection: &turnDetectionParams{
				Type:              "server_vad",
				Threshold:         0.5,
				PrefixPaddingMs:   300,
				SilenceDurationMs: 500,
			},
			Tools:                   []any{},
			Temperature:             0.8,
			MaxResponseOutputTokens: 4096,
		},
	})
}

// writeJSON serializes v with sonic and writes it as one text frame.
func (rt *Realtime) writeJSON(v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal vendor event: %w", err)
	}

	rt.writeMu.Lock()
	defer rt.writeMu.Unlock()

	rt.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
	return rt.conn.WriteMessage(websocket.TextMessage, data)
}

// ── Send primitives ─────────────────────────────────────────────────────────
//
// Each primitive is a silent no-op until the vendor has acknowledged the
// session configuration: the vendor would reject the event anyway, and
// buffering here would grow without bound under a slow vendor startup.

// AppendAudio forwards one base64-encoded PCM16 chunk to the vendor's input
// audio buffer.
func (rt *Realtime) AppendAudio(audio string) {
	if !rt.ready.Load() {
		return
	}
	if err := rt.writeJSON(appendAudioMessage{Type: "input_audio_buffer.append", Audio: audio}); err != nil {
		log.Printf("⚠️ Failed to append audio to vendor: %v", err)
	}
}

// CommitAudio tells the vendor the current audio turn is complete.
func (rt *Realtime) CommitAudio() {
	if !rt.ready.Load() {
		return
	}
	if err := rt.writeJSON(map[string]string{"type": "input_audio_buffer.commit"}); err != nil {
		log.Printf("⚠️ Failed to commit audio to vendor: %v", err)
	}
}

// InjectText inserts a user text turn into the conversation.
func (rt *Realtime) InjectText(text string) {
	if !rt.ready.Load() {
		return
	}
	msg := createItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:    "message",
			Role:    "user",
			Content: []conversationPart{{Type: "input_text", Text: text}},
		},
	}
	if err := rt.writeJSON(msg); err != nil {
		log.Printf("⚠️ Failed to inject text turn to vendor: %v", err)
	}
}

// TriggerResponse asks the vendor to start generating a response.
func (rt *Realtime) TriggerResponse() {
	if !rt.ready.Load() {
		return
	}
	if err := rt.writeJSON(map[string]string{"type": "response.create"}); err != nil {
		log.Printf("⚠️ Failed to trigger vendor response: %v", err)
	}
}

// Ready reports whether the vendor has accepted the session configuration.
func (rt *Realtime) Ready() bool {
	return rt.ready.Load()
}

// Events returns the stream of normalized link events. The channel is closed
// after the link terminates; a LinkDisconnected event precedes the close
// unless Close was called locally.
func (rt *Realtime) Events() <-chan LinkEvent {
	return rt.events
}

// ── Receive loop ────────────────────────────────────────────────────────────

func (rt *Realtime) readLoop() {
	for {
		_, data, err := rt.conn.ReadMessage()
		if err != nil {
			rt.finishReceive(err)
			return
		}

		var evt serverEvent
		if err := sonic.Unmarshal(data, &evt); err != nil {
			log.Printf("⚠️ Failed to parse vendor event: %v", err)
			continue
		}

		switch evt.Type {
		case "session.updated":
			// Configuration accepted; the link is now ready for audio/text.
			if !rt.ready.Swap(true) {
				rt.emit(LinkEvent{Kind: LinkReady})
			}
		case "session.created", "rate_limits.updated":
			// Diagnostic only, never forwarded.
		default:
			if clientEvt, ok := translate(&evt); ok {
				rt.emit(LinkEvent{Kind: LinkForward, Event: clientEvt})
			} else {
				log.Printf("⚠️ Dropping unhandled vendor event kind %q", evt.Type)
			}
		}
	}
}

// emit delivers a link event unless the link has been closed locally.
func (rt *Realtime) emit(evt LinkEvent) {
	select {
	case rt.events <- evt:
	case <-rt.done:
	}
}

// finishReceive ends the event stream. A terminal LinkDisconnected event is
// emitted exactly once, and only when the close was not initiated locally.
func (rt *Realtime) finishReceive(err error) {
	if !rt.isClosed() {
		rt.disconnectOnce.Do(func() {
			rt.emit(LinkEvent{Kind: LinkDisconnected, Err: err})
		})
	}
	rt.finishOnce.Do(func() { close(rt.events) })
}

func (rt *Realtime) isClosed() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.closed
}

// Close terminates the vendor connection. Idempotent.
func (rt *Realtime) Close() error {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return nil
	}
	rt.closed = true
	rt.mu.Unlock()

	close(rt.done)
	return rt.conn.Close()
}
