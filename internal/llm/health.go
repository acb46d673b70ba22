package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/relayforge/contentpipeline/internal/domain"
)

// CheckHealth probes provider with a trivial prompt to confirm it returns
// well-formed JSON, for use by readiness checks.
func CheckHealth(ctx domain.Context, provider domain.LLMProvider) error {
	healthCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	raw, _, err := provider.GenerateJSON(healthCtx, "", `Respond with JSON: {"status":"healthy"}`, 50)
	if err != nil {
		return fmt.Errorf("op=llm.CheckHealth: %w", err)
	}

	var out struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return fmt.Errorf("op=llm.CheckHealth: invalid JSON response: %w", err)
	}
	if out.Status == "" {
		return fmt.Errorf("op=llm.CheckHealth: empty status in response")
	}
	return nil
}
