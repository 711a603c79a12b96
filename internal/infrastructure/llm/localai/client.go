package localai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/docuseek/qa-engine/internal/core/domain"
	"github.com/docuseek/qa-engine/internal/infrastructure/resilience"
)

type Config struct {
	BaseURL    string
	Model      string
	APIKey     string
	Timeout    time.Duration
	Resilience resilience.Config
}

// Client talks to an OpenAI-compatible chat completion server (LocalAI,
// llama.cpp server, vLLM). All calls go through the shared resilience
// executor; streaming calls skip retries because emitted tokens cannot
// be taken back.
type Client struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		executor:   resilience.NewExecutor(cfg.Resilience),
	}
}

type chatRequest struct {
	Model         string        `json:"model"`
	Messages      []chatMessage `json:"messages"`
	MaxTokens     int           `json:"max_tokens,omitempty"`
	Temperature   float64       `json:"temperature"`
	RepeatPenalty float64       `json:"repeat_penalty,omitempty"`
	Stream        bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) ChatComplete(ctx context.Context, messages []domain.ChatMessage, opts domain.ChatOptions) (string, error) {
	request := c.buildRequest(messages, opts, false)

	var content string
	err := c.executor.Execute(ctx, "chat_complete", func(ctx context.Context) error {
		var response chatResponse
		if err := c.postJSON(ctx, "/v1/chat/completions", request, &response, "chat"); err != nil {
			return err
		}
		if len(response.Choices) == 0 {
			return fmt.Errorf("chat response has no choices")
		}
		content = response.Choices[0].Message.Content
		return nil
	}, classifyTransportError)
	if err != nil {
		return "", wrapTemporaryIfNeeded("chat complete", err)
	}
	return strings.TrimSpace(content), nil
}

func (c *Client) StreamChatComplete(
	ctx context.Context,
	messages []domain.ChatMessage,
	opts domain.ChatOptions,
	onToken func(token string) error,
) error {
	request := c.buildRequest(messages, opts, true)

	resp, err := c.postStream(ctx, "/v1/chat/completions", request, "chat stream")
	if err != nil {
		return wrapTemporaryIfNeeded("chat stream", err)
	}
	defer resp.Body.Close()

	return readSSE(resp.Body, onToken)
}

func (c *Client) buildRequest(messages []domain.ChatMessage, opts domain.ChatOptions, stream bool) chatRequest {
	request := chatRequest{
		Model:         c.model,
		Messages:      make([]chatMessage, 0, len(messages)),
		MaxTokens:     opts.MaxTokens,
		Temperature:   opts.Temperature,
		RepeatPenalty: opts.RepeatPenalty,
		Stream:        stream,
	}
	for _, m := range messages {
		request.Messages = append(request.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	return request
}
