package messages

import "encoding/json"

// Error codes
const (
	ErrCodeInvalidMessage = "INVALID_MESSAGE"
	ErrCodeVendorError    = "VENDOR_ERROR"
	ErrCodeSessionFailed  = "SESSION_FAILED"
	ErrCodeNotConfigured  = "NOT_CONFIGURED"
)

// Outbound event types
const (
	TypeSessionStarted        = "session_started"
	TypeAudioResponse         = "audio_response"
	TypeTextResponse          = "text_response"
	TypeTranscriptionComplete = "transcription_complete"
	TypeSpeechStarted         = "speech_started"
	TypeSpeechStopped         = "speech_stopped"
	TypeAudioCommitted        = "audio_committed"
	TypeItemCreated           = "item_created"
	TypeResponseCreated       = "response_created"
	TypeResponseDone          = "response_done"
	TypeOutputItemAdded       = "output_item_added"
	TypeOutputItemDone        = "output_item_done"
	TypeContentPartAdded      = "content_part_added"
	TypeContentPartDone       = "content_part_done"
	TypeAudioDone             = "audio_done"
	TypeAudioTranscriptDone   = "audio_transcript_done"
	TypeSessionEnded          = "session_ended"
	TypeError                 = "error"
)

// ServerEvent is a normalized event sent to a frontend client. The shape is a
// flat JSON object carrying only the fields relevant to its type; structured
// vendor payloads (item, response, part) pass through untouched.
type ServerEvent struct {
	Type     string          `json:"type"`
	Audio    string          `json:"audio,omitempty"` // Base64-encoded PCM16 chunk
	Text     string          `json:"text,omitempty"`
	ItemID   string          `json:"item_id,omitempty"`
	Item     json.RawMessage `json:"item,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
	Part     json.RawMessage `json:"part,omitempty"`
	Code     string          `json:"code,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// NewEvent creates a bare lifecycle event with no payload.
func NewEvent(eventType string) *ServerEvent {
	return &ServerEvent{Type: eventType}
}

// NewAudioResponse creates an audio chunk event for the client.
func NewAudioResponse(audio string) *ServerEvent {
	return &ServerEvent{Type: TypeAudioResponse, Audio: audio}
}

// NewTextResponse creates a text chunk event for the client.
func NewTextResponse(text string) *ServerEvent {
	return &ServerEvent{Type: TypeTextResponse, Text: text}
}

// NewTranscriptionComplete carries the full transcript of a user speech turn.
func NewTranscriptionComplete(text string) *ServerEvent {
	return &ServerEvent{Type: TypeTranscriptionComplete, Text: text}
}

// NewItemEvent creates an event keyed by a conversation item id
// (speech_started, speech_stopped, audio_committed).
func NewItemEvent(eventType, itemID string) *ServerEvent {
	return &ServerEvent{Type: eventType, ItemID: itemID}
}

// NewSessionEnded tells the client its relay session is over.
func NewSessionEnded(message string) *ServerEvent {
	return &ServerEvent{Type: TypeSessionEnded, Message: message}
}

// NewError creates an error event scoped to one client.
func NewError(code, message string) *ServerEvent {
	return &ServerEvent{Type: TypeError, Code: code, Message: message}
}
