// Package llm adapts Groq- and OpenRouter-compatible chat completion APIs
// into the domain.LLMProvider port, with circuit breaking, cooldown
// tracking, response caching, JSON repair, and token accounting layered on
// top of the raw HTTP call.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/relayforge/contentpipeline/internal/config"
	"github.com/relayforge/contentpipeline/internal/domain"
	"github.com/relayforge/contentpipeline/internal/llm/tokencount"
	"github.com/relayforge/contentpipeline/internal/observability"
	"github.com/relayforge/contentpipeline/internal/retry"
	"github.com/relayforge/contentpipeline/internal/service/ratelimiter"
)

// modelEndpoint is one candidate (provider, model, apiKey, baseURL) the
// Provider can try for a given call, in priority order.
type modelEndpoint struct {
	provider string
	model    string
	apiKey   string
	baseURL  string
}

// Provider implements domain.LLMProvider against Groq primary / OpenRouter
// secondary chat completion APIs.
type Provider struct {
	cfg        config.Config
	http       *http.Client
	breakers   *CircuitBreakerManager
	blocked    *ModelBlocklist
	cache      *ResponseCache
	repairer   *JSONRepairer
	tokens     *tokencount.Counter
	limiter    ratelimiter.Limiter
	freeModels *FreeModelService
}

// NewProvider wires a Provider from config and an optional distributed rate
// limiter (nil disables the global gate and relies on the local circuit
// breaker / blocklist only).
func NewProvider(cfg config.Config, limiter ratelimiter.Limiter) *Provider {
	return &Provider{
		cfg:        cfg,
		http:       &http.Client{Timeout: 30 * time.Second},
		breakers:   NewCircuitBreakerManager(),
		blocked:    NewModelBlocklist(20*time.Second, 5),
		cache:      NewResponseCache(512, 10*time.Minute),
		repairer:   NewJSONRepairer(),
		tokens:     tokencount.NewCounter(),
		limiter:    limiter,
		freeModels: NewFreeModelService(cfg.OpenRouterAPIKey, cfg.OpenRouterBaseURL, cfg.FreeModelsRefresh),
	}
}

// endpoints returns the Groq/OpenRouter candidates in priority order. When an
// OpenRouter key is set, the free OpenRouter model with the largest context
// window is appended as the last candidate whenever it differs from the
// configured OpenRouter model, whether or not the other candidates are blocked.
func (p *Provider) endpoints(ctx context.Context) []modelEndpoint {
	var out []modelEndpoint
	if key := strings.TrimSpace(p.cfg.GroqAPIKey); key != "" {
		out = append(out, modelEndpoint{provider: "groq", model: p.cfg.GroqModel, apiKey: key, baseURL: p.cfg.GroqBaseURL})
	}
	if key := strings.TrimSpace(p.cfg.OpenRouterAPIKey); key != "" {
		out = append(out, modelEndpoint{provider: "openrouter", model: p.cfg.OpenRouterModel, apiKey: key, baseURL: p.cfg.OpenRouterBaseURL})

		if best, err := p.freeModels.Best(ctx); err == nil && best != p.cfg.OpenRouterModel {
			out = append(out, modelEndpoint{provider: "openrouter", model: best, apiKey: key, baseURL: p.cfg.OpenRouterBaseURL})
		}
	}
	return out
}

// GenerateJSON sends systemPrompt/userPrompt to the first healthy, unblocked
// endpoint (falling back in priority order), repairs the response into
// valid JSON, and returns it with token usage.
func (p *Provider) GenerateJSON(ctx domain.Context, systemPrompt, userPrompt string, maxTokens int) (string, domain.TokenUsage, error) {
	if cached, ok := p.cache.Get(systemPrompt, userPrompt); ok {
		usage, _ := p.tokens.CalculateUsage(systemPrompt, userPrompt, cached, "cache", "cache")
		return cached, toDomainUsage(usage), nil
	}

	endpoints := p.endpoints(ctx)
	if len(endpoints) == 0 {
		return "", domain.TokenUsage{}, fmt.Errorf("op=llm.GenerateJSON: %w: no provider API key configured", domain.ErrInvalidArgument)
	}

	var lastErr error
	for _, ep := range endpoints {
		key := ep.provider + ":" + ep.model
		if p.blocked.IsBlocked(key) {
			continue
		}
		cb := p.breakers.Get(ep.provider, ep.model)
		if !cb.ShouldAttempt() {
			continue
		}

		raw, retryAfter, err := p.call(ctx, ep, systemPrompt, userPrompt, maxTokens)
		if err != nil {
			cb.RecordFailure()
			p.blocked.RecordFailure(key, retryAfter)
			lastErr = err
			observability.LoggerFromContext(ctx).Warn("llm endpoint failed, trying next",
				slog.String("provider", ep.provider), slog.String("model", ep.model), slog.Any("error", err))
			continue
		}

		repaired, err := p.repairer.Repair(raw)
		if err != nil {
			cb.RecordFailure()
			lastErr = fmt.Errorf("op=llm.GenerateJSON: %w: %w", domain.ErrSchemaInvalid, err)
			continue
		}

		cb.RecordSuccess()
		p.blocked.RecordSuccess(key)
		p.cache.Set(systemPrompt, userPrompt, repaired)

		usage, _ := p.tokens.CalculateUsage(systemPrompt, userPrompt, repaired, ep.model, ep.provider)
		return repaired, toDomainUsage(usage), nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("%w: all providers blocked or circuit-open", domain.ErrUpstreamRateLimit)
	}
	return "", domain.TokenUsage{}, fmt.Errorf("op=llm.GenerateJSON: %w", lastErr)
}

// call performs one retried HTTP round trip against ep, returning the raw
// message content plus a provider-suggested retry-after duration on
// rate-limit style failures.
func (p *Provider) call(ctx context.Context, ep modelEndpoint, systemPrompt, userPrompt string, maxTokens int) (string, time.Duration, error) {
	if p.limiter != nil {
		allowed, retryAfter, err := p.limiter.Allow(ctx, "llm", 1)
		if err == nil && !allowed {
			return "", retryAfter, fmt.Errorf("%w: global rate limiter denied %s", domain.ErrRateLimited, ep.provider)
		}
	}

	maxElapsed, initial, maxInterval, multiplier := p.cfg.GetAIBackoffConfig()
	rcfg := retry.Config{MaxElapsedTime: maxElapsed, InitialInterval: initial, MaxInterval: maxInterval, Multiplier: multiplier}

	var content string
	var retryAfter time.Duration
	err := retry.Do(ctx, rcfg, func() error {
		body, _ := json.Marshal(map[string]any{
			"model":       ep.model,
			"temperature": 0.3,
			"max_tokens":  maxTokens,
			"messages": []map[string]string{
				{"role": "system", "content": systemPrompt},
				{"role": "user", "content": userPrompt},
			},
		})

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(ep.baseURL, "/")+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(fmt.Errorf("op=llm.call: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+ep.apiKey)
		req.Header.Set("Content-Type", "application/json")
		if ep.provider == "openrouter" {
			if ref := strings.TrimSpace(p.cfg.OpenRouterReferer); ref != "" {
				req.Header.Set("HTTP-Referer", ref)
			}
			req.Header.Set("X-Title", p.cfg.OpenRouterTitle)
		}

		resp, err := p.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
			return retry.Permanent(fmt.Errorf("%w: status %d", domain.ErrUpstreamRateLimit, resp.StatusCode))
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return retry.Permanent(fmt.Errorf("op=llm.call: status=%d body=%s", resp.StatusCode, snippet))
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("op=llm.call: upstream status=%d", resp.StatusCode)
		}

		var out struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return retry.Permanent(fmt.Errorf("op=llm.call: decode: %w", err))
		}
		if len(out.Choices) == 0 {
			return retry.Permanent(fmt.Errorf("op=llm.call: empty choices"))
		}
		content = out.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", retryAfter, err
	}
	return content, 0, nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := time.ParseDuration(v + "s"); err == nil {
		return secs
	}
	return 30 * time.Second
}

// EstimateTokens estimates the token count of text using the cl100k_base
// encoding as a stand-in for any configured model.
func (p *Provider) EstimateTokens(text string) int {
	n, err := p.tokens.CountTokens(text, "gpt-4")
	if err != nil {
		return len(text) / 4
	}
	return n
}

// CalculateCost estimates USD cost from token usage. Free-tier models (the
// default for both Groq and OpenRouter free models) cost nothing; this is a
// placeholder hook for paid-model deployments.
func (p *Provider) CalculateCost(usage domain.TokenUsage) float64 {
	return 0
}

func toDomainUsage(u *tokencount.TokenUsage) domain.TokenUsage {
	if u == nil {
		return domain.TokenUsage{}
	}
	return domain.TokenUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
		Model:            u.Model,
		Provider:         u.Provider,
	}
}
