// Package llm turns a caller transcript into a short spoken reply using an
// OpenAI-compatible chat completions endpoint.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ErrGenerationFailed wraps every provider failure.
var ErrGenerationFailed = errors.New("reply generation failed")

// FallbackReply is spoken when generation fails.
const FallbackReply = "I'm sorry, I encountered an error while thinking about that."

const promptPrefix = "Respond to the following user input concisely and naturally: "

const systemInstruction = "You are a friendly voice assistant on a phone call. " +
	"Answer conversationally in plain sentences, in under 100 words, without markdown or lists."

// Prompt wraps a transcript in the reply instruction sent to the model.
func Prompt(transcript string) string {
	return promptPrefix + transcript
}

// Generator produces replies. Each call is independent: no conversation
// history is sent.
type Generator struct {
	client    *openai.Client
	model     string
	maxTokens int
	logger    *slog.Logger
}

// NewGenerator creates a Generator against baseURL. An empty baseURL keeps
// the library's OpenAI default.
func NewGenerator(apiKey, baseURL, model string, maxTokens int) *Generator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Generator{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		maxTokens: maxTokens,
		logger:    slog.With("subsystem", "llm"),
	}
}

// Generate returns the reply for one transcript.
func (g *Generator) Generate(ctx context.Context, transcript string) (string, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", fmt.Errorf("%w: empty transcript", ErrGenerationFailed)
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemInstruction},
			{Role: openai.ChatMessageRoleUser, Content: Prompt(transcript)},
		},
		MaxTokens:   g.maxTokens,
		Temperature: 0.7,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			g.logger.Warn("generation rejected", "status", apiErr.HTTPStatusCode, "error", apiErr.Message)
		}
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrGenerationFailed)
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", fmt.Errorf("%w: empty reply", ErrGenerationFailed)
	}
	g.logger.Debug("reply generated", "model", g.model, "chars", len(reply))
	return reply, nil
}
