package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/contentpipeline/internal/domain"
)

func TestResearchAgent_Execute(t *testing.T) {
	src := fakeResearchSource{
		sources: []domain.Source{{Title: "Source One", URL: "https://example.com/1"}},
		snippets: []string{
			"Go was released by Google in 2009. It emphasizes simplicity and concurrency.",
			"The best practices guide covers formatting and naming conventions.",
		},
	}
	a := NewResearchAgent(src)

	out, err := a.Execute(context.Background(), domain.Job{ID: "job-1"}, map[string]any{
		"keyword": "golang concurrency",
	})
	require.NoError(t, err)
	assert.Equal(t, "golang concurrency", out["keyword"])
	assert.NotEmpty(t, out["sources"])
}

func TestResearchAgent_Execute_MissingKeyword(t *testing.T) {
	a := NewResearchAgent(fakeResearchSource{})
	_, err := a.Execute(context.Background(), domain.Job{}, map[string]any{"keyword": ""})
	assert.Error(t, err)
}

func TestResearchAgent_Execute_SourceError(t *testing.T) {
	a := NewResearchAgent(fakeResearchSource{err: assertErr})
	_, err := a.Execute(context.Background(), domain.Job{}, map[string]any{"keyword": "x"})
	assert.Error(t, err)
}

var assertErr = errTest("boom")

type errTest string

func (e errTest) Error() string { return string(e) }
