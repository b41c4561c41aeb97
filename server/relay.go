package server

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/bytedance/sonic"
	oai "github.com/sashabaranov/go-openai"

	"github.com/room4-2/voicerelay/openai"
)

// Stateless HTTP relay endpoints: each request maps onto exactly one vendor
// REST call, with no session involved.

type chatRequest struct {
	Message      string     `json:"message"`
	Instructions string     `json:"instructions,omitempty"`
	History      []chatTurn `json:"history,omitempty"`
}

type chatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Response string `json:"response"`
}

type imageRequest struct {
	Prompt string `json:"prompt"`
}

type imageResponse struct {
	ImageURL      string `json:"imageUrl"`
	Prompt        string `json:"prompt"`
	RevisedPrompt string `json:"revisedPrompt"`
}

type speakRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !s.decodeRelayRequest(w, r, &req) {
		return
	}
	if req.Message == "" {
		writeJSONError(w, http.StatusBadRequest, "message is required")
		return
	}

	instructions := req.Instructions
	if instructions == "" {
		instructions = s.config.DefaultInstructions
	}

	history := make([]oai.ChatCompletionMessage, 0, len(req.History))
	for _, turn := range req.History {
		// Only the two conversational roles are accepted from clients.
		if turn.Role != oai.ChatMessageRoleUser && turn.Role != oai.ChatMessageRoleAssistant {
			continue
		}
		history = append(history, oai.ChatCompletionMessage{Role: turn.Role, Content: turn.Content})
	}

	answer, err := s.rest.Chat(r.Context(), instructions, history, req.Message)
	if err != nil {
		s.relayError(w, "chat", err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{Response: answer})
}

func (s *Server) handleGenerateImage(w http.ResponseWriter, r *http.Request) {
	var req imageRequest
	if !s.decodeRelayRequest(w, r, &req) {
		return
	}
	if req.Prompt == "" {
		writeJSONError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	url, revised, err := s.rest.GenerateImage(r.Context(), req.Prompt)
	if err != nil {
		s.relayError(w, "image generation", err)
		return
	}

	writeJSON(w, http.StatusOK, imageResponse{ImageURL: url, Prompt: req.Prompt, RevisedPrompt: revised})
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	if !s.decodeRelayRequest(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeJSONError(w, http.StatusBadRequest, "text is required")
		return
	}

	audio, err := s.rest.Speak(r.Context(), req.Text, openai.ResolveVoice(req.Voice))
	if err != nil {
		s.relayError(w, "speech synthesis", err)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

// decodeRelayRequest enforces the shared preconditions of all relay
// endpoints: POST only, a configured credential, and a JSON body. The
// required-field checks stay in the handlers. Returns false if a response
// was already written.
func (s *Server) decodeRelayRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	if !s.rest.Configured() {
		writeJSONError(w, http.StatusInternalServerError, "API key not configured")
		return false
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if len(body) == 0 {
		writeJSONError(w, http.StatusBadRequest, "request body is required")
		return false
	}
	if err := sonic.Unmarshal(body, dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// relayError maps a vendor failure onto an HTTP response, passing through the
// vendor's own status code when one exists.
func (s *Server) relayError(w http.ResponseWriter, op string, err error) {
	log.Printf("❌ Relay %s failed: %v", op, err)

	var apiErr *oai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		writeJSONError(w, apiErr.HTTPStatusCode, apiErr.Message)
		return
	}
	writeJSONError(w, http.StatusInternalServerError, "upstream request failed")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
