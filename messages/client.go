package messages

import (
	"errors"

	"github.com/bytedance/sonic"
)

// Client control message types
const (
	TypeStartSession  = "start_session"
	TypeAudioData     = "audio_data"
	TypeAudioComplete = "audio_complete"
	TypeTextInput     = "text_input"
	TypeEndSession    = "end_session"
)

// ErrMissingType is returned for client messages without a recognized type tag.
var ErrMissingType = errors.New("message missing type field")

// ClientMessage represents a control message from a frontend client.
// The protocol is a flat JSON object; only the fields relevant to the
// message type are populated.
type ClientMessage struct {
	Type         string `json:"type"` // "start_session", "audio_data", "audio_complete", "text_input", "end_session"
	Instructions string `json:"instructions,omitempty"`
	Voice        string `json:"voice,omitempty"`
	Audio        string `json:"audio,omitempty"` // Base64-encoded PCM16 chunk
	Text         string `json:"text,omitempty"`
}

// ParseClient decodes a raw client frame into a ClientMessage.
// A frame that is not a JSON object, or lacks a type tag, is rejected.
func ParseClient(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Type == "" {
		return nil, ErrMissingType
	}
	return &msg, nil
}
