// Package llm wraps the OpenAI-compatible chat completion API the agents
// talk to, plus the tolerant JSON handling their structured replies need.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/steadyops/steward/pkg/config"
	"github.com/steadyops/steward/pkg/models"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
)

// ToolDefinition describes one callable function offered to the model.
// Parameters is a JSON schema document.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Client is a non-streaming chat completion client. Agents call Ask once
// per reasoning turn and receive either content or tool calls.
type Client struct {
	api         *openai.Client
	model       string
	temperature float32
	maxTokens   int
	maxRetries  int
	retryDelay  time.Duration
	logger      *slog.Logger
}

// NewClient creates a client for the configured OpenAI-compatible endpoint.
func NewClient(settings *config.Settings) *Client {
	cfg := openai.DefaultConfig(settings.APIKey)
	if settings.APIBase != "" {
		cfg.BaseURL = settings.APIBase
	}
	return &Client{
		api:         openai.NewClientWithConfig(cfg),
		model:       settings.ModelName,
		temperature: settings.Temperature,
		maxTokens:   settings.MaxTokens,
		maxRetries:  defaultMaxRetries,
		retryDelay:  defaultRetryDelay,
		logger:      slog.With("component", "llm"),
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Temperature returns the configured sampling temperature.
func (c *Client) Temperature() float32 {
	return c.temperature
}

// MaxTokens returns the configured completion token limit.
func (c *Client) MaxTokens() int {
	return c.maxTokens
}

// Ask sends the conversation to the model and returns the assistant turn.
// When format is "json_object" the model is constrained to emit a JSON
// document. Transient failures are retried with linear backoff.
func (c *Client) Ask(ctx context.Context, messages []*models.ChatMessage, tools []ToolDefinition, format string) (*models.ChatMessage, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    toAPIMessages(messages),
		Temperature: c.temperature,
	}
	if c.maxTokens > 0 {
		req.MaxTokens = c.maxTokens
	}
	if len(tools) > 0 {
		req.Tools = toAPITools(tools)
	}
	if format == "json_object" {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	var resp openai.ChatCompletionResponse
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying chat completion", "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}

		resp, lastErr = c.api.CreateChatCompletion(ctx, req)
		if lastErr == nil {
			break
		}
		if !isRetryable(lastErr) {
			return nil, fmt.Errorf("chat completion: %w", lastErr)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("chat completion after %d attempts: %w", c.maxRetries, lastErr)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion: empty response")
	}

	return fromAPIMessage(resp.Choices[0].Message), nil
}

func toAPIMessages(messages []*models.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		}
		if m.Role == models.ChatRoleTool {
			msg.ToolCallID = m.ToolCallID
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func toAPITools(tools []ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func fromAPIMessage(msg openai.ChatCompletionMessage) *models.ChatMessage {
	out := &models.ChatMessage{
		Role:    models.ChatRoleAssistant,
		Content: msg.Content,
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, &models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out
}

// isRetryable classifies rate limits, upstream 5xx, and timeouts as
// transient.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500 {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded", "connection reset"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
