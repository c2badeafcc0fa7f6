// Package openai provides an OpenAI-backed summarizer.
// It implements the summarizer.Provider interface using the chat
// completion API.
package openai

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"
)

const systemPrompt = `You compress memory records for a conversational system.
Rewrite the given content as a short factual summary that preserves names,
preferences, dates and emotional salience. Return only the summary text.`

// Client is an OpenAI summarizer client.
type Client struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// Config is the configuration for the OpenAI summarizer.
// APIKey: OpenAI API key (required)
// Model: model name to use, defaults to "gpt-4o-mini"
// BaseURL: API base URL, defaults to the OpenAI official address
// MaxTokens: summary length cap, defaults to 128
type Config struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
}

// NewClient creates a new OpenAI summarizer client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai summarizer: api key is required")
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 128
	}

	return &Client{
		client:    openai.NewClientWithConfig(config),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// Summarize produces the summary form of content via a chat completion.
func (c *Client) Summarize(ctx context.Context, content string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: content},
		},
		MaxTokens: c.maxTokens,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("summarization failed: no choices returned from OpenAI API")
	}
	return resp.Choices[0].Message.Content, nil
}

// Close is a no-op; the underlying HTTP client needs no teardown.
func (c *Client) Close() error { return nil }
