package llm

import (
	"context"
	"errors"
	"fmt"

	"vcopcoach/internal/config"
	"vcopcoach/internal/httpx"
	"vcopcoach/internal/logger"

	"github.com/anthropics/anthropic-sdk-go"
)

const defaultAnthropicModel = "claude-haiku-4-5-20251001"
const defaultOpenAIModel = "gpt-4o-mini"

// StopMaxTokens is the provider-neutral stop reason for a completion cut off
// by its output-token budget.
const StopMaxTokens = "max_tokens"

var ErrMissingAPIKey = errors.New("model API key is not configured")

type Usage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

func (u Usage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationInputTokens += other.CacheCreationInputTokens
	u.CacheReadInputTokens += other.CacheReadInputTokens
}

type Request struct {
	// Operation labels the call in logs, e.g. "error-pass".
	Operation string
	System    string
	User      string
	MaxTokens int64
	// Model overrides the client default when set.
	Model string
}

type Completion struct {
	Text       string
	StopReason string
	Usage      Usage
}

func (c Completion) Truncated() bool {
	return c.StopReason == StopMaxTokens
}

// Completer is a text-completion service.
type Completer interface {
	Complete(ctx context.Context, req Request) (Completion, error)
}

// StatusError is a non-2xx answer from a provider reached over plain HTTP.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error: status=%d %s", e.Provider, e.StatusCode, e.Message)
}

// IsAuthError reports whether err means the model credential is missing or rejected.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMissingAPIKey) {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 401 || apiErr.StatusCode == 403
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == 401 || statusErr.StatusCode == 403
	}
	return false
}

// NewCompleter builds the client for cfg.LLMProvider. A missing key is not
// fatal here; every call then fails with ErrMissingAPIKey.
func NewCompleter(cfg config.Config, log *logger.Logger) Completer {
	log = logger.OrNop(log).With("component", "llm")
	switch cfg.LLMProvider {
	case "openai":
		model := cfg.LLMModel
		if model == "" {
			model = defaultOpenAIModel
		}
		return NewOpenAIClient(cfg.OpenAIAPIKey, model, httpx.ExternalHTTPClient(), log)
	default:
		model := cfg.LLMModel
		if model == "" {
			model = defaultAnthropicModel
		}
		return NewAnthropicClient(cfg.AnthropicAPIKey, model, log)
	}
}
