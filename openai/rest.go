package openai

import (
	"context"
	"fmt"
	"io"

	oai "github.com/sashabaranov/go-openai"
)

const (
	chatModel          = oai.GPT4oMini
	chatMaxTokens      = 500
	chatTemperature    = 0.7
	chatFallbackAnswer = "Sorry, I couldn't generate a response."
)

// RestOption is a functional option for configuring a RestClient.
type RestOption func(*oai.ClientConfig)

// WithBaseURL overrides the REST API base URL. Primarily used in tests to
// point at a local stub server.
func WithBaseURL(url string) RestOption {
	return func(cfg *oai.ClientConfig) { cfg.BaseURL = url }
}

// RestClient relays single-shot requests (chat completion, image generation,
// speech synthesis) to the vendor's REST API. A zero-credential client is
// valid but unconfigured: the process serves static content without it.
type RestClient struct {
	client *oai.Client
}

// NewRestClient creates a REST relay client. An empty apiKey yields an
// unconfigured client whose Configured method reports false.
func NewRestClient(apiKey string, opts ...RestOption) *RestClient {
	if apiKey == "" {
		return &RestClient{}
	}
	cfg := oai.DefaultConfig(apiKey)
	for _, o := range opts {
		o(&cfg)
	}
	return &RestClient{client: oai.NewClientWithConfig(cfg)}
}

// Configured reports whether an API credential is available.
func (c *RestClient) Configured() bool {
	return c.client != nil
}

// Chat forwards one chat turn with optional prior history and returns the
// assistant's reply.
func (c *RestClient) Chat(ctx context.Context, instructions string, history []oai.ChatCompletionMessage, message string) (string, error) {
	msgs := make([]oai.ChatCompletionMessage, 0, len(history)+2)
	msgs = append(msgs, oai.ChatCompletionMessage{Role: oai.ChatMessageRoleSystem, Content: instructions})
	msgs = append(msgs, history...)
	msgs = append(msgs, oai.ChatCompletionMessage{Role: oai.ChatMessageRoleUser, Content: message})

	resp, err := c.client.CreateChatCompletion(ctx, oai.ChatCompletionRequest{
		Model:       chatModel,
		Messages:    msgs,
		MaxTokens:   chatMaxTokens,
		Temperature: chatTemperature,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return chatFallbackAnswer, nil
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateImage creates one image for the prompt and returns its URL along
// with the vendor-revised prompt (the original prompt when absent).
func (c *RestClient) GenerateImage(ctx context.Context, prompt string) (url, revisedPrompt string, err error) {
	resp, err := c.client.CreateImage(ctx, oai.ImageRequest{
		Model:   oai.CreateImageModelDallE3,
		Prompt:  prompt,
		N:       1,
		Size:    oai.CreateImageSize1024x1024,
		Quality: oai.CreateImageQualityStandard,
		Style:   oai.CreateImageStyleNatural,
	})
	if err != nil {
		return "", "", fmt.Errorf("image generation failed: %w", err)
	}

	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", "", fmt.Errorf("no image URL received")
	}

	revised := resp.Data[0].RevisedPrompt
	if revised == "" {
		revised = prompt
	}
	return resp.Data[0].URL, revised, nil
}

// Speak synthesizes speech for the text and returns the MP3 bytes.
func (c *RestClient) Speak(ctx context.Context, text, voice string) ([]byte, error) {
	if voice == "" {
		voice = DefaultVoice
	}

	resp, err := c.client.CreateSpeech(ctx, oai.CreateSpeechRequest{
		Model: oai.TTSModel1,
		Input: text,
		Voice: oai.SpeechVoice(voice),
	})
	if err != nil {
		return nil, fmt.Errorf("speech synthesis failed: %w", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read synthesized audio: %w", err)
	}
	return audio, nil
}
