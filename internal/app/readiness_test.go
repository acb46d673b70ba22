package app

import (
	"context"
	"fmt"
	"testing"

	"github.com/relayforge/contentpipeline/internal/domain"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeLLMProvider struct{ err error }

func (p fakeLLMProvider) GenerateJSON(domain.Context, string, string, int) (string, domain.TokenUsage, error) {
	if p.err != nil {
		return "", domain.TokenUsage{}, p.err
	}
	return `{"status":"healthy"}`, domain.TokenUsage{}, nil
}
func (p fakeLLMProvider) EstimateTokens(string) int             { return 0 }
func (p fakeLLMProvider) CalculateCost(domain.TokenUsage) float64 { return 0 }

func TestBuildReadinessChecks_Database(t *testing.T) {
	tests := []struct {
		name        string
		pool        Pinger
		expectError bool
	}{
		{"nil pool", nil, true},
		{"working pool", fakePinger{}, false},
		{"failing pool", fakePinger{err: fmt.Errorf("connection failed")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dbCheck, _ := BuildReadinessChecks(tt.pool, fakeLLMProvider{})
			err := dbCheck(context.Background())
			if tt.expectError && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("expected no error but got: %v", err)
			}
		})
	}
}

func TestBuildReadinessChecks_LLM(t *testing.T) {
	tests := []struct {
		name        string
		provider    domain.LLMProvider
		expectError bool
	}{
		{"nil provider", nil, true},
		{"healthy provider", fakeLLMProvider{}, false},
		{"failing provider", fakeLLMProvider{err: fmt.Errorf("upstream down")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, llmCheck := BuildReadinessChecks(fakePinger{}, tt.provider)
			err := llmCheck(context.Background())
			if tt.expectError && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("expected no error but got: %v", err)
			}
		})
	}
}
