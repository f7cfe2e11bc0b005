package healthcheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbe_Healthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	result, err := Probe(context.Background(), srv.URL, false)
	require.NoError(t, err)
	assert.True(t, result.Healthy())
	assert.Equal(t, http.StatusOK, result.StatusCode)
}

func TestProbe_Unhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	result, err := Probe(context.Background(), srv.URL, false)
	require.NoError(t, err)
	assert.False(t, result.Healthy())
}

func TestProbe_SelfSignedNeedsInsecure(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := Probe(context.Background(), srv.URL, false)
	assert.Error(t, err)

	result, err := Probe(context.Background(), srv.URL, true)
	require.NoError(t, err)
	assert.True(t, result.Healthy())
}

func TestProbe_ConnectionRefused(t *testing.T) {
	_, err := Probe(context.Background(), "http://127.0.0.1:1/health", false)
	assert.Error(t, err)
}
