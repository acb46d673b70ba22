package httpserver_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	httpserver "github.com/relayforge/contentpipeline/internal/adapter/httpserver"
	"github.com/relayforge/contentpipeline/internal/config"
)

func TestReadyzHandler_AllChecksOK(t *testing.T) {
	ok := func(context.Context) error { return nil }
	srv := httpserver.NewServer(config.Config{}, newFakeJobRepo(), fakePersonaRepo{}, ok, ok)
	r := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	srv.ReadyzHandler()(w, r)
	require.Equal(t, http.StatusOK, w.Result().StatusCode)
}

func TestReadyzHandler_FailingCheckReturns503(t *testing.T) {
	ok := func(context.Context) error { return nil }
	bad := func(context.Context) error { return errors.New("db unreachable") }
	srv := httpserver.NewServer(config.Config{}, newFakeJobRepo(), fakePersonaRepo{}, bad, ok)
	r := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	srv.ReadyzHandler()(w, r)
	require.Equal(t, http.StatusServiceUnavailable, w.Result().StatusCode)
}

func TestHealthzHandler_AlwaysOK(t *testing.T) {
	srv := httpserver.NewServer(config.Config{}, newFakeJobRepo(), fakePersonaRepo{}, nil, nil)
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.HealthzHandler()(w, r)
	require.Equal(t, http.StatusOK, w.Result().StatusCode)
}
