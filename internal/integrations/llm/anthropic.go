package llm

import (
	"context"
	"fmt"

	"vcopcoach/internal/httpx"
	"vcopcoach/internal/logger"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type AnthropicClient struct {
	apiKey string
	model  string
	client anthropic.Client
	log    *logger.Logger
}

func NewAnthropicClient(apiKey, model string, log *logger.Logger, opts ...option.RequestOption) *AnthropicClient {
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpx.ExternalHTTPClient()),
	}
	return &AnthropicClient{
		apiKey: apiKey,
		model:  model,
		client: anthropic.NewClient(append(base, opts...)...),
		log:    logger.OrNop(log),
	}
}

func (c *AnthropicClient) Complete(ctx context.Context, req Request) (Completion, error) {
	if c.apiKey == "" {
		return Completion{}, ErrMissingAPIKey
	}
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: req.System, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)),
		},
	})
	if err != nil {
		c.log.Error("llm call failed", "op", req.Operation, "provider", "anthropic", "model", model, "error", err)
		return Completion{}, fmt.Errorf("Anthropic API error: %w", err)
	}
	usage := Usage{
		InputTokens:              message.Usage.InputTokens,
		OutputTokens:             message.Usage.OutputTokens,
		CacheCreationInputTokens: message.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     message.Usage.CacheReadInputTokens,
	}
	stop := string(message.StopReason)
	if message.StopReason == anthropic.StopReasonMaxTokens {
		stop = StopMaxTokens
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			c.log.Info("llm call",
				"op", req.Operation, "provider", "anthropic", "model", model,
				"size", len(block.Text), "stop_reason", stop,
				"tokens_in", usage.InputTokens, "tokens_out", usage.OutputTokens,
				"cache_create", usage.CacheCreationInputTokens, "cache_read", usage.CacheReadInputTokens,
			)
			return Completion{Text: block.Text, StopReason: stop, Usage: usage}, nil
		}
	}
	return Completion{Usage: usage, StopReason: stop}, fmt.Errorf("no text content in Anthropic response")
}
