package bitrix_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/b24bridge/internal/adapter/driven/bitrix"
	"github.com/ericfisherdev/b24bridge/internal/domain/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTransport() *bitrix.Transport {
	return bitrix.NewTransport(bitrix.TransportConfig{Timeout: 5 * time.Second}, discardLogger())
}

func TestTransport_PostJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/crm.deal.get.json", r.URL.Path)
		assert.True(t, strings.HasPrefix(r.Header.Get("Content-Type"), "application/json"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "tok", body["auth"])
		assert.Equal(t, float64(7), body["id"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"ID":"7"}}`))
	}))
	defer server.Close()

	out, err := newTestTransport().PostJSON(context.Background(), server.URL+"/rest/crm.deal.get.json",
		map[string]any{"id": 7, "auth": "tok"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":{"ID":"7"}}`, string(out))
}

func TestTransport_GetJSON_SendsQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "refresh_token", r.URL.Query().Get("grant_type"))
		assert.Equal(t, "r1", r.URL.Query().Get("refresh_token"))
		_, _ = w.Write([]byte(`{"access_token":"a2"}`))
	}))
	defer server.Close()

	q := url.Values{}
	q.Set("grant_type", "refresh_token")
	q.Set("refresh_token", "r1")

	out, err := newTestTransport().GetJSON(context.Background(), server.URL, q)
	require.NoError(t, err)
	assert.JSONEq(t, `{"access_token":"a2"}`, string(out))
}

func TestTransport_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"expired_token","error_description":"The access token provided has expired."}`))
	}))
	defer server.Close()

	_, err := newTestTransport().PostJSON(context.Background(), server.URL+"/rest/profile.json", map[string]any{})
	require.Error(t, err)

	var statusErr *bitrix.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)

	var providerErr *model.ProviderError
	require.True(t, errors.As(err, &providerErr))
	assert.Equal(t, "expired_token", providerErr.Code)
	assert.Contains(t, err.Error(), "status 401")
}

func TestTransport_StatusError_NonJSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer server.Close()

	_, err := newTestTransport().PostJSON(context.Background(), server.URL, map[string]any{})

	var statusErr *bitrix.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Nil(t, statusErr.ProviderError())

	var providerErr *model.ProviderError
	assert.False(t, errors.As(err, &providerErr))
}

func TestTransport_NetworkErrorRedactsQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	endpoint := server.URL
	server.Close()

	q := url.Values{}
	q.Set("client_secret", "s3cret-value")

	_, err := newTestTransport().GetJSON(context.Background(), endpoint, q)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "s3cret-value")
}

func TestTransport_RateLimitHonorsContext(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	tr := bitrix.NewTransport(bitrix.TransportConfig{RateLimit: 0.001, Burst: 1}, discardLogger())

	_, err := tr.PostJSON(context.Background(), server.URL, map[string]any{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = tr.PostJSON(ctx, server.URL, map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit wait")
	assert.Equal(t, int32(1), hits.Load())
}
