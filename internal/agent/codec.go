package agent

import (
	"encoding/json"
	"fmt"

	"github.com/relayforge/contentpipeline/internal/domain"
)

// usageKey is the reserved output-map key LLM-calling agents use to smuggle
// token usage out through the domain.Agent interface, which otherwise only
// returns (map[string]any, error). The orchestrator strips it before
// persisting the step's durable output.
const usageKey = "_usage"

// ExtractUsage pulls the token-usage side-channel out of an agent's raw
// output map, returning the usage plus the map with the side-channel
// removed (the shape actually persisted as Step.Output).
func ExtractUsage(output map[string]any) (domain.TokenUsage, map[string]any) {
	if output == nil {
		return domain.TokenUsage{}, output
	}
	raw, ok := output[usageKey]
	if !ok {
		return domain.TokenUsage{}, output
	}
	clean := make(map[string]any, len(output)-1)
	for k, v := range output {
		if k == usageKey {
			continue
		}
		clean[k] = v
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return domain.TokenUsage{}, clean
	}
	var usage domain.TokenUsage
	_ = json.Unmarshal(b, &usage)
	return usage, clean
}

// decodeInput round-trips a generic agent input map into a typed struct via
// JSON, matching the teacher's convention of treating step input/output as
// opaque JSON blobs at rest.
func decodeInput(input map[string]any, dst any) error {
	b, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("encode agent input: %w", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("decode agent input: %w", err)
	}
	return nil
}

// unmarshalJSON parses raw LLM JSON output (already repaired by the LLM
// provider) into a typed agent output struct.
func unmarshalJSON(raw string, dst any) error {
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("unmarshal LLM JSON output: %w", err)
	}
	return nil
}

// encodeOutput round-trips a typed agent output struct back into the
// map[string]any shape the Agent interface and Step.Output expect.
func encodeOutput(src any) (map[string]any, error) {
	b, err := json.Marshal(src)
	if err != nil {
		return nil, fmt.Errorf("encode agent output: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode agent output: %w", err)
	}
	return out, nil
}
