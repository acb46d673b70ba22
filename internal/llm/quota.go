package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// openRouterKeyResponse mirrors https://openrouter.ai/docs/api-reference/limits.
type openRouterKeyResponse struct {
	Data struct {
		Usage          float64  `json:"usage"`
		Limit          *float64 `json:"limit"`
		LimitRemaining *float64 `json:"limit_remaining"`
		IsFreeTier     bool     `json:"is_free_tier"`
	} `json:"data"`
}

// QuotaChecker probes an OpenRouter-compatible account's remaining credit
// quota. It is a standalone helper: Provider does not consult it, and
// exhaustion during generation surfaces as a 402/429 response.
type QuotaChecker struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewQuotaChecker creates a checker for the given API key and base URL.
func NewQuotaChecker(apiKey, baseURL string) *QuotaChecker {
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("quota %s %s", r.Method, r.URL.Host)
		}),
	)
	return &QuotaChecker{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second, Transport: transport},
	}
}

func (q *QuotaChecker) fetch(ctx context.Context) (*openRouterKeyResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.baseURL+"/key", nil)
	if err != nil {
		return nil, fmt.Errorf("op=quota.fetch: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+q.apiKey)

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("op=quota.fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("op=quota.fetch: unexpected status %d", resp.StatusCode)
	}

	var out openRouterKeyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("op=quota.fetch: %w", err)
	}
	return &out, nil
}

// HasSufficientQuota reports whether at least requiredCredits remain. A nil
// limit_remaining means the account is unlimited.
func (q *QuotaChecker) HasSufficientQuota(ctx context.Context, requiredCredits float64) (bool, error) {
	resp, err := q.fetch(ctx)
	if err != nil {
		return false, err
	}
	if resp.Data.LimitRemaining == nil {
		return true, nil
	}
	return *resp.Data.LimitRemaining >= requiredCredits, nil
}

// Remaining returns the remaining credit balance, or -1 if unlimited.
func (q *QuotaChecker) Remaining(ctx context.Context) (float64, error) {
	resp, err := q.fetch(ctx)
	if err != nil {
		return 0, err
	}
	if resp.Data.LimitRemaining == nil {
		return -1, nil
	}
	return *resp.Data.LimitRemaining, nil
}
