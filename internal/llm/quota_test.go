package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuotaChecker_UnlimitedAccount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/key", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"usage": 1.2, "limit": nil, "limit_remaining": nil, "is_free_tier": false},
		})
	}))
	defer server.Close()

	q := NewQuotaChecker("test-key", server.URL)
	ok, err := q.HasSufficientQuota(context.Background(), 100)
	require.NoError(t, err)
	assert.True(t, ok)

	remaining, err := q.Remaining(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float64(-1), remaining)
}

func TestQuotaChecker_LimitedAccount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"usage": 9.5, "limit": 10.0, "limit_remaining": 0.5, "is_free_tier": true},
		})
	}))
	defer server.Close()

	q := NewQuotaChecker("test-key", server.URL)
	ok, err := q.HasSufficientQuota(context.Background(), 1.0)
	require.NoError(t, err)
	assert.False(t, ok)

	remaining, err := q.Remaining(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.5, remaining)
}

func TestQuotaChecker_NonOKStatusReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	q := NewQuotaChecker("bad-key", server.URL)
	_, err := q.HasSufficientQuota(context.Background(), 1.0)
	assert.Error(t, err)
}
