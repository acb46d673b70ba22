// Package agent implements the five content-pipeline agents (Research,
// Writer, SEO, QA, Project Manager) and the process-wide Registry that
// looks them up by name.
package agent

import (
	"fmt"

	"github.com/relayforge/contentpipeline/internal/domain"
)

// Registry is a process-wide, read-only map of agent name to implementation.
// It is populated once at startup and never mutated afterward, matching the
// "read-only shared singleton" contract every agent and the LLM provider
// follow.
type Registry struct {
	agents map[domain.AgentName]domain.Agent
}

// NewRegistry builds a Registry from the given agents, keyed by their own
// Name().
func NewRegistry(agents ...domain.Agent) *Registry {
	m := make(map[domain.AgentName]domain.Agent, len(agents))
	for _, a := range agents {
		m[a.Name()] = a
	}
	return &Registry{agents: m}
}

// Get looks up an agent by name.
func (r *Registry) Get(name domain.AgentName) (domain.Agent, error) {
	a, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("op=agent.Registry.Get: %w: %s", domain.ErrAgentNotFound, name)
	}
	return a, nil
}

// Pipeline is the fixed default execution order.
func Pipeline() []domain.AgentName {
	return []domain.AgentName{
		domain.AgentResearch,
		domain.AgentWriter,
		domain.AgentSEO,
		domain.AgentQA,
		domain.AgentProjectManager,
	}
}
