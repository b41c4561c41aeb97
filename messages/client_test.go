package messages_test

import (
	"errors"
	"testing"

	"github.com/room4-2/voicerelay/messages"
)

func TestParseClient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    messages.ClientMessage
		wantErr bool
	}{
		{
			name: "start session with options",
			raw:  `{"type":"start_session","instructions":"be brief","voice":"nova"}`,
			want: messages.ClientMessage{Type: messages.TypeStartSession, Instructions: "be brief", Voice: "nova"},
		},
		{
			name: "bare start session",
			raw:  `{"type":"start_session"}`,
			want: messages.ClientMessage{Type: messages.TypeStartSession},
		},
		{
			name: "audio chunk",
			raw:  `{"type":"audio_data","audio":"UklGRg=="}`,
			want: messages.ClientMessage{Type: messages.TypeAudioData, Audio: "UklGRg=="},
		},
		{
			name: "text input",
			raw:  `{"type":"text_input","text":"hello"}`,
			want: messages.ClientMessage{Type: messages.TypeTextInput, Text: "hello"},
		},
		{
			name: "unknown fields ignored",
			raw:  `{"type":"end_session","extra":42}`,
			want: messages.ClientMessage{Type: messages.TypeEndSession},
		},
		{
			name:    "missing type",
			raw:     `{"audio":"UklGRg=="}`,
			wantErr: true,
		},
		{
			name:    "not json",
			raw:     `start please`,
			wantErr: true,
		},
		{
			name:    "json scalar",
			raw:     `"start_session"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := messages.ParseClient([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseClient(%q) succeeded, want error", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseClient(%q) failed: %v", tt.raw, err)
			}
			if *got != tt.want {
				t.Errorf("ParseClient(%q) = %+v, want %+v", tt.raw, *got, tt.want)
			}
		})
	}
}

func TestParseClientMissingTypeError(t *testing.T) {
	t.Parallel()

	_, err := messages.ParseClient([]byte(`{}`))
	if !errors.Is(err, messages.ErrMissingType) {
		t.Errorf("err = %v, want ErrMissingType", err)
	}
}
