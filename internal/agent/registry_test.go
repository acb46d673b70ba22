package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/contentpipeline/internal/domain"
)

func TestRegistry_GetFound(t *testing.T) {
	r := NewRegistry(NewProjectManagerAgent(), NewResearchAgent(fakeResearchSource{}))

	a, err := r.Get(domain.AgentProjectManager)
	require.NoError(t, err)
	assert.Equal(t, domain.AgentProjectManager, a.Name())
}

func TestRegistry_GetNotFound(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get(domain.AgentWriter)
	assert.ErrorIs(t, err, domain.ErrAgentNotFound)
}

func TestPipeline_Order(t *testing.T) {
	order := Pipeline()
	assert.Equal(t, []domain.AgentName{
		domain.AgentResearch, domain.AgentWriter, domain.AgentSEO, domain.AgentQA, domain.AgentProjectManager,
	}, order)
}
