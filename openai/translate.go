package openai

import (
	"encoding/json"

	"github.com/room4-2/voicerelay/messages"
)

// serverEvent is the decoded shape of an inbound Realtime event. Only the
// fields the relay consumes are declared; structured payloads stay raw so
// they can pass through to the client untouched.
type serverEvent struct {
	Type       string          `json:"type"`
	Delta      string          `json:"delta,omitempty"`
	Transcript string          `json:"transcript,omitempty"`
	ItemID     string          `json:"item_id,omitempty"`
	Item       json.RawMessage `json:"item,omitempty"`
	Response   json.RawMessage `json:"response,omitempty"`
	Part       json.RawMessage `json:"part,omitempty"`
	Error      *vendorError    `json:"error,omitempty"`
}

// vendorError is the nested error object of a Realtime "error" event.
type vendorError struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// translations is the closed mapping from Realtime event kinds to client-facing
// events. Adding support for a new vendor event is a table edit. Kinds absent
// from the table are either handled as link lifecycle (session.created,
// session.updated) or dropped as diagnostic/unknown — never forwarded.
var translations = map[string]func(*serverEvent) *messages.ServerEvent{
	"response.audio.delta": func(e *serverEvent) *messages.ServerEvent {
		return messages.NewAudioResponse(e.Delta)
	},
	"response.text.delta": func(e *serverEvent) *messages.ServerEvent {
		return messages.NewTextResponse(e.Delta)
	},
	"response.audio_transcript.delta": func(e *serverEvent) *messages.ServerEvent {
		return messages.NewTextResponse(e.Delta)
	},
	"conversation.item.input_audio_transcription.completed": func(e *serverEvent) *messages.ServerEvent {
		return messages.NewTranscriptionComplete(e.Transcript)
	},
	"input_audio_buffer.speech_started": func(e *serverEvent) *messages.ServerEvent {
		return messages.NewItemEvent(messages.TypeSpeechStarted, e.ItemID)
	},
	"input_audio_buffer.speech_stopped": func(e *serverEvent) *messages.ServerEvent {
		return messages.NewItemEvent(messages.TypeSpeechStopped, e.ItemID)
	},
	"input_audio_buffer.committed": func(e *serverEvent) *messages.ServerEvent {
		return messages.NewItemEvent(messages.TypeAudioCommitted, e.ItemID)
	},
	"conversation.item.created": func(e *serverEvent) *messages.ServerEvent {
		return &messages.ServerEvent{Type: messages.TypeItemCreated, Item: e.Item}
	},
	"response.created": func(e *serverEvent) *messages.ServerEvent {
		return &messages.ServerEvent{Type: messages.TypeResponseCreated, Response: e.Response}
	},
	"response.done": func(e *serverEvent) *messages.ServerEvent {
		return &messages.ServerEvent{Type: messages.TypeResponseDone, Response: e.Response}
	},
	"response.output_item.added": func(e *serverEvent) *messages.ServerEvent {
		return &messages.ServerEvent{Type: messages.TypeOutputItemAdded, Item: e.Item}
	},
	"response.output_item.done": func(e *serverEvent) *messages.ServerEvent {
		return &messages.ServerEvent{Type: messages.TypeOutputItemDone, Item: e.Item}
	},
	"response.content_part.added": func(e *serverEvent) *messages.ServerEvent {
		return &messages.ServerEvent{Type: messages.TypeContentPartAdded, Part: e.Part}
	},
	"response.content_part.done": func(e *serverEvent) *messages.ServerEvent {
		return &messages.ServerEvent{Type: messages.TypeContentPartDone, Part: e.Part}
	},
	"response.audio.done": func(e *serverEvent) *messages.ServerEvent {
		return messages.NewEvent(messages.TypeAudioDone)
	},
	"response.audio_transcript.done": func(e *serverEvent) *messages.ServerEvent {
		return messages.NewEvent(messages.TypeAudioTranscriptDone)
	},
	"error": func(e *serverEvent) *messages.ServerEvent {
		msg := "unknown vendor error"
		if e.Error != nil && e.Error.Message != "" {
			msg = e.Error.Message
		}
		return messages.NewError(messages.ErrCodeVendorError, msg)
	},
}

// translate maps a decoded vendor event onto its client-facing form.
// Returns false for kinds the relay does not forward.
func translate(evt *serverEvent) (*messages.ServerEvent, bool) {
	build, ok := translations[evt.Type]
	if !ok {
		return nil, false
	}
	return build(evt), true
}
