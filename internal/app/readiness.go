// Package app wires application components and startup helpers.
//
// It provides dependency injection and application initialization.
// The package coordinates between different layers and provides
// a clean application bootstrap process.
package app

import (
	"context"
	"fmt"

	"github.com/relayforge/contentpipeline/internal/domain"
	"github.com/relayforge/contentpipeline/internal/llm"
)

// Pinger is the minimal interface for a database pool capable of Ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BuildReadinessChecks returns the db and LLM-provider readiness checks used
// by ReadyzHandler.
func BuildReadinessChecks(pool Pinger, provider domain.LLMProvider) (
	func(ctx context.Context) error,
	func(ctx context.Context) error,
) {
	dbCheck := func(ctx context.Context) error {
		if pool == nil {
			return fmt.Errorf("db not configured")
		}
		return pool.Ping(ctx)
	}
	llmCheck := func(ctx context.Context) error {
		if provider == nil {
			return fmt.Errorf("llm provider not configured")
		}
		return llm.CheckHealth(ctx, provider)
	}
	return dbCheck, llmCheck
}
