// Package research wraps an external keyword-research HTTP API behind the
// domain.ResearchDataSource port.
package research

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/relayforge/contentpipeline/internal/config"
	"github.com/relayforge/contentpipeline/internal/domain"
	"github.com/relayforge/contentpipeline/internal/retry"
	"github.com/relayforge/contentpipeline/internal/service/ratelimiter"
)

// TavilySource implements domain.ResearchDataSource against a Tavily-compatible
// search API: POST {baseURL}/search with {"api_key","query","max_results"},
// returning {"results":[{"title","url","content"}...]}.
type TavilySource struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter ratelimiter.Limiter
	backoff retry.Config
}

// New constructs a TavilySource from config and an optional shared rate
// limiter (nil disables throttling and relies on the upstream's own limits).
func New(cfg config.Config, limiter ratelimiter.Limiter) *TavilySource {
	maxElapsed, initial, maxInterval, multiplier := cfg.GetAIBackoffConfig()
	return &TavilySource{
		apiKey:  cfg.ResearchAPIKey,
		baseURL: strings.TrimRight(cfg.ResearchBaseURL, "/"),
		http:    &http.Client{Timeout: 20 * time.Second},
		limiter: limiter,
		backoff: retry.Config{
			MaxElapsedTime:  maxElapsed,
			InitialInterval: initial,
			MaxInterval:     maxInterval,
			Multiplier:      multiplier,
		},
	}
}

type searchRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type searchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

// Search queries the upstream for a keyword and returns citation-worthy
// sources plus a flat list of content snippets the Research agent can mine
// for facts and competitor gaps.
func (t *TavilySource) Search(ctx domain.Context, query string, limit int) ([]domain.Source, []string, error) {
	if t.apiKey == "" {
		return nil, nil, fmt.Errorf("op=research.Search: %w: RESEARCH_API_KEY not configured", domain.ErrInvalidArgument)
	}
	if limit <= 0 {
		limit = 10
	}

	if t.limiter != nil {
		allowed, retryAfter, err := t.limiter.Allow(ctx, "research", 1)
		if err != nil {
			slog.Warn("research rate limiter error, proceeding without throttling", slog.Any("error", err))
		} else if !allowed {
			return nil, nil, fmt.Errorf("op=research.Search: %w: retry after %s", domain.ErrRateLimited, retryAfter)
		}
	}

	reqBody, err := json.Marshal(searchRequest{APIKey: t.apiKey, Query: query, MaxResults: limit})
	if err != nil {
		return nil, nil, fmt.Errorf("op=research.Search: %w", err)
	}

	var resp searchResponse
	err = retry.Do(ctx, t.backoff, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/search", bytes.NewReader(reqBody))
		if err != nil {
			return retry.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		httpResp, err := t.http.Do(httpReq)
		if err != nil {
			return fmt.Errorf("op=research.Search: %w: %v", domain.ErrUpstreamTimeout, err)
		}
		defer httpResp.Body.Close()

		body, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return fmt.Errorf("op=research.Search: %w", err)
		}

		if httpResp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("op=research.Search: %w", domain.ErrUpstreamRateLimit)
		}
		if httpResp.StatusCode >= 500 {
			return fmt.Errorf("op=research.Search: %w: status %d", domain.ErrUpstreamTimeout, httpResp.StatusCode)
		}
		if httpResp.StatusCode >= 400 {
			return retry.Permanent(fmt.Errorf("op=research.Search: %w: status %d: %s", domain.ErrInvalidArgument, httpResp.StatusCode, string(body)))
		}

		if err := json.Unmarshal(body, &resp); err != nil {
			return retry.Permanent(fmt.Errorf("op=research.Search: invalid response body: %w", err))
		}
		return nil
	})
	if err != nil {
		slog.Error("research search failed", slog.String("query", query), slog.Any("error", err))
		return nil, nil, err
	}

	sources := make([]domain.Source, 0, len(resp.Results))
	snippets := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		sources = append(sources, domain.Source{Title: r.Title, URL: r.URL})
		if r.Content != "" {
			snippets = append(snippets, r.Content)
		}
	}

	slog.Info("research search completed", slog.String("query", query), slog.Int("result_count", len(sources)))
	return sources, snippets, nil
}
