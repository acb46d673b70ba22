package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"log/slog"
)

// FreeModel is an OpenRouter model entry with pricing information.
type FreeModel struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Context int    `json:"context_length"`
	Pricing struct {
		Prompt any `json:"prompt"`
	} `json:"pricing"`
}

// FreeModelService fetches and caches the set of zero-cost OpenRouter
// models, letting the Provider widen its fallback chain beyond the single
// statically configured model when the primary candidates are exhausted.
type FreeModelService struct {
	mu            sync.RWMutex
	httpClient    *http.Client
	apiKey        string
	baseURL       string
	fetchInterval time.Duration
	models        []FreeModel
	lastFetch     time.Time
}

// NewFreeModelService creates a service refreshing its model list every
// refreshInterval (0 means a 1h default).
func NewFreeModelService(apiKey, baseURL string, refreshInterval time.Duration) *FreeModelService {
	if refreshInterval <= 0 {
		refreshInterval = time.Hour
	}
	return &FreeModelService{
		httpClient:    &http.Client{Timeout: 20 * time.Second},
		apiKey:        apiKey,
		baseURL:       baseURL,
		fetchInterval: refreshInterval,
	}
}

// List returns the cached free models, refreshing first if stale.
func (s *FreeModelService) List(ctx context.Context) ([]FreeModel, error) {
	s.mu.RLock()
	stale := s.lastFetch.IsZero() || time.Since(s.lastFetch) > s.fetchInterval
	s.mu.RUnlock()

	if stale {
		if err := s.refresh(ctx); err != nil {
			slog.Warn("free model refresh failed, using cached list", slog.Any("error", err))
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]FreeModel, len(s.models))
	copy(out, s.models)
	return out, nil
}

// Best returns the free model with the largest context window, for use as
// an additional fallback candidate.
func (s *FreeModelService) Best(ctx context.Context) (string, error) {
	models, err := s.List(ctx)
	if err != nil {
		return "", err
	}
	if len(models) == 0 {
		return "", fmt.Errorf("op=llm.FreeModelService.Best: no free models available")
	}
	sort.Slice(models, func(i, j int) bool {
		if models[i].Context != models[j].Context {
			return models[i].Context > models[j].Context
		}
		return models[i].Name < models[j].Name
	})
	return models[0].ID, nil
}

func (s *FreeModelService) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(s.baseURL, "/")+"/models", nil)
	if err != nil {
		return fmt.Errorf("op=llm.FreeModelService.refresh: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("op=llm.FreeModelService.refresh: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("op=llm.FreeModelService.refresh: status %d", resp.StatusCode)
	}

	var body struct {
		Data []FreeModel `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("op=llm.FreeModelService.refresh: %w", err)
	}

	free := make([]FreeModel, 0, len(body.Data))
	for _, m := range body.Data {
		if priceIsFree(m.Pricing.Prompt) {
			free = append(free, m)
		}
	}

	s.mu.Lock()
	s.models = free
	s.lastFetch = time.Now()
	s.mu.Unlock()

	slog.Info("refreshed free model list", slog.Int("total", len(body.Data)), slog.Int("free", len(free)))
	return nil
}

// priceIsFree reports whether a pricing value, in any of OpenRouter's
// flexible shapes, represents a zero price.
func priceIsFree(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		s := strings.TrimSpace(t)
		return s == "" || s == "0" || s == "0.0"
	case float64:
		return t == 0
	case map[string]any:
		for _, vv := range t {
			if priceIsFree(vv) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
