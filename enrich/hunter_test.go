package enrich

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nikshitha/leadgen/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHunter(t *testing.T, handler http.HandlerFunc) *HunterClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHunterClient(config.EnrichmentConfig{
		HunterAPIKey:      "test-key",
		HunterBaseURL:     srv.URL,
		RequestsPerSecond: 1000,
	}, 5*time.Second, nil)
}

func TestHunterVerifyDeliverable(t *testing.T) {
	h := newHunter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/email-verifier", r.URL.Path)
		assert.Equal(t, "jane@acme.com", r.URL.Query().Get("email"))
		assert.Equal(t, "test-key", r.URL.Query().Get("api_key"))
		w.Write([]byte(`{"data":{"result":"deliverable","score":91}}`))
	})

	v, err := h.Verify(context.Background(), "jane@acme.com")
	require.NoError(t, err)
	assert.Equal(t, Verification{Email: "jane@acme.com", Valid: true, Score: 91, Source: SourceHunter}, v)
}

func TestHunterVerifyRisky(t *testing.T) {
	h := newHunter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"result":"risky","score":40}}`))
	})

	v, err := h.Verify(context.Background(), "jane@acme.com")
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, 40, v.Score)
}

func TestHunterVerifyFallsBackOnError(t *testing.T) {
	h := newHunter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	v, err := h.Verify(context.Background(), "jane@acme.com")
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Zero(t, v.Score)
	assert.Equal(t, SourceFormatFallback, v.Source)
}

func TestHunterWithoutKey(t *testing.T) {
	h := NewHunterClient(config.EnrichmentConfig{}, time.Second, nil)
	assert.False(t, h.HasAPIKey())

	v, err := h.Verify(context.Background(), "jane@acme.com")
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, SourceFormatOnly, v.Source)

	v, err = h.Verify(context.Background(), "not-an-email")
	require.NoError(t, err)
	assert.False(t, v.Valid)

	domain, err := h.FindDomain(context.Background(), "Acme")
	require.NoError(t, err)
	assert.Empty(t, domain)
}

func TestHunterFindDomain(t *testing.T) {
	h := newHunter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/domain-search", r.URL.Path)
		assert.Equal(t, "Acme Corp", r.URL.Query().Get("company"))
		w.Write([]byte(`{"data":{"domain":"acme.com"}}`))
	})

	domain, err := h.FindDomain(context.Background(), "Acme Corp")
	require.NoError(t, err)
	assert.Equal(t, "acme.com", domain)
}

func TestHunterRetriesRateLimit(t *testing.T) {
	calls := 0
	h := newHunter(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"data":{"domain":"acme.com"}}`))
	})

	domain, err := h.FindDomain(context.Background(), "Acme")
	require.NoError(t, err)
	assert.Equal(t, "acme.com", domain)
	assert.Equal(t, 2, calls)
}

func TestHunterFindDomainError(t *testing.T) {
	h := newHunter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := h.FindDomain(context.Background(), "Acme")
	assert.Error(t, err)
}
