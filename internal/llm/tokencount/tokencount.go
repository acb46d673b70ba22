// Package tokencount provides accurate token counting for LLM API calls.
//
// It uses tiktoken-go, a Go port of OpenAI's official tiktoken library,
// to count tokens for various LLM models. This enables accurate tracking
// of token usage for cost estimation and monitoring.
package tokencount

import (
	"strings"
	"sync"

	"log/slog"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// TokenUsage represents token counts for an LLM API call.
type TokenUsage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	Model            string `json:"model"`
	Provider         string `json:"provider"`
}

// Counter provides thread-safe token counting for LLM models.
type Counter struct {
	encodingCache map[string]*tiktoken.Tiktoken
	mu            sync.RWMutex
}

// NewCounter creates a new token counter instance.
func NewCounter() *Counter {
	return &Counter{
		encodingCache: make(map[string]*tiktoken.Tiktoken),
	}
}

// DefaultCounter is a global token counter instance.
var DefaultCounter = NewCounter()

// getEncodingForModel returns the appropriate tiktoken encoding for a model.
// It caches encodings for performance.
func (c *Counter) getEncodingForModel(model string) (*tiktoken.Tiktoken, error) {
	normalizedModel := normalizeModelName(model)

	c.mu.RLock()
	if enc, ok := c.encodingCache[normalizedModel]; ok {
		c.mu.RUnlock()
		return enc, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if enc, ok := c.encodingCache[normalizedModel]; ok {
		return enc, nil
	}

	enc, err := tiktoken.EncodingForModel(normalizedModel)
	if err != nil {
		slog.Debug("falling back to cl100k_base encoding",
			slog.String("model", model),
			slog.String("normalized", normalizedModel),
			slog.Any("error", err))
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}

	c.encodingCache[normalizedModel] = enc
	return enc, nil
}

// normalizeModelName converts model IDs to tiktoken-compatible names.
func normalizeModelName(model string) string {
	model = strings.ToLower(model)

	if strings.Contains(model, "/") {
		parts := strings.Split(model, "/")
		model = parts[len(parts)-1]
	}
	model = strings.TrimSuffix(model, ":free")

	switch {
	case strings.Contains(model, "gpt-4"):
		return "gpt-4"
	case strings.Contains(model, "gpt-3.5"):
		return "gpt-3.5-turbo"
	default:
		// Llama, Mistral, Gemma, Qwen, DeepSeek, and similar open-weight
		// models tokenize close enough to GPT-4 for estimation purposes.
		return "gpt-4"
	}
}

// CountTokens counts the number of tokens in a text string for a given model.
func (c *Counter) CountTokens(text, model string) (int, error) {
	enc, err := c.getEncodingForModel(model)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// CountChatTokens counts tokens for a chat completion request, accounting
// for the message-structure overhead used by OpenAI-compatible APIs.
func (c *Counter) CountChatTokens(systemPrompt, userPrompt, model string) (int, error) {
	enc, err := c.getEncodingForModel(model)
	if err != nil {
		return 0, err
	}

	tokensPerMessage := 3
	tokensPerRole := 1
	numTokens := 0

	numTokens += tokensPerMessage
	numTokens += len(enc.Encode("system", nil, nil))
	numTokens += len(enc.Encode(systemPrompt, nil, nil))
	numTokens += tokensPerRole

	numTokens += tokensPerMessage
	numTokens += len(enc.Encode("user", nil, nil))
	numTokens += len(enc.Encode(userPrompt, nil, nil))
	numTokens += tokensPerRole

	numTokens += 3 // primes the assistant reply
	return numTokens, nil
}

// CountCompletionTokens counts tokens in a completion response.
func (c *Counter) CountCompletionTokens(completion, model string) (int, error) {
	return c.CountTokens(completion, model)
}

// CalculateUsage calculates full token usage for a chat completion.
func (c *Counter) CalculateUsage(systemPrompt, userPrompt, completion, model, provider string) (*TokenUsage, error) {
	promptTokens, err := c.CountChatTokens(systemPrompt, userPrompt, model)
	if err != nil {
		slog.Warn("failed to count prompt tokens, using estimate", slog.String("model", model), slog.Any("error", err))
		promptTokens = (len(systemPrompt) + len(userPrompt)) / 4
	}

	completionTokens, err := c.CountCompletionTokens(completion, model)
	if err != nil {
		slog.Warn("failed to count completion tokens, using estimate", slog.String("model", model), slog.Any("error", err))
		completionTokens = len(completion) / 4
	}

	return &TokenUsage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
		Model:            model,
		Provider:         provider,
	}, nil
}
