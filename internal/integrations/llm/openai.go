package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"vcopcoach/internal/logger"
)

const openAIChatCompletionsURL = "https://api.openai.com/v1/chat/completions"

type openAIRequest struct {
	Model     string          `json:"model"`
	Messages  []openAIMessage `json:"messages"`
	MaxTokens int64           `json:"max_tokens,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type OpenAIClient struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
	log        *logger.Logger
}

func NewOpenAIClient(apiKey, model string, httpClient *http.Client, log *logger.Logger) *OpenAIClient {
	return &OpenAIClient{
		apiKey:     apiKey,
		model:      model,
		endpoint:   openAIChatCompletionsURL,
		httpClient: httpClient,
		log:        logger.OrNop(log),
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Completion, error) {
	if c.apiKey == "" {
		return Completion{}, ErrMissingAPIKey
	}
	model := req.Model
	if model == "" {
		model = c.model
	}
	reqBody := openAIRequest{
		Model: model,
		Messages: []openAIMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		MaxTokens: req.MaxTokens,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return Completion{}, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return Completion{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.log.Error("llm call failed", "op", req.Operation, "provider", "openai", "model", model, "error", err)
		return Completion{}, fmt.Errorf("OpenAI API error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Completion{}, fmt.Errorf("reading response: %w", err)
	}

	var openAIResp openAIResponse
	if err := json.Unmarshal(respBody, &openAIResp); err != nil {
		if resp.StatusCode >= 300 {
			return Completion{}, &StatusError{Provider: "OpenAI", StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return Completion{}, fmt.Errorf("parsing OpenAI response: %w", err)
	}
	if resp.StatusCode >= 300 || openAIResp.Error != nil {
		msg := http.StatusText(resp.StatusCode)
		if openAIResp.Error != nil {
			msg = openAIResp.Error.Message
		}
		c.log.Error("llm call failed", "op", req.Operation, "provider", "openai", "model", model, "status", resp.StatusCode, "error", msg)
		return Completion{}, &StatusError{Provider: "OpenAI", StatusCode: resp.StatusCode, Message: msg}
	}
	if len(openAIResp.Choices) == 0 {
		return Completion{}, fmt.Errorf("no choices in OpenAI response")
	}

	usage := Usage{}
	if openAIResp.Usage != nil {
		usage.InputTokens = openAIResp.Usage.PromptTokens
		usage.OutputTokens = openAIResp.Usage.CompletionTokens
	}
	choice := openAIResp.Choices[0]
	stop := choice.FinishReason
	if stop == "length" {
		stop = StopMaxTokens
	}

	c.log.Info("llm call",
		"op", req.Operation, "provider", "openai", "model", model,
		"size", len(choice.Message.Content), "stop_reason", stop,
		"tokens_in", usage.InputTokens, "tokens_out", usage.OutputTokens,
	)
	return Completion{Text: choice.Message.Content, StopReason: stop, Usage: usage}, nil
}
