package lookup

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-beer-pipeline/internal/upstream"
)

func chatBody(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
	})
	return string(b)
}

func newTestClient(t *testing.T, h http.HandlerFunc, timeout time.Duration) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, APIKey: "k", Model: "sonar", Timeout: timeout}, nil)
}

func TestLookupABV_Found(t *testing.T) {
	var got chatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(chatBody("```json\n{\"found\": true, \"abv\": 8.0, \"confidence\": \"High\"}\n```")))
	}, time.Second)

	res, err := c.LookupABV(context.Background(), Request{BeerName: "Pliny the Elder", Brewer: "Russian River"})
	require.NoError(t, err)
	assert.True(t, res.Found)
	require.NotNil(t, res.ABV)
	assert.InDelta(t, 8.0, *res.ABV, 0.001)
	assert.Equal(t, "high", res.Confidence)

	assert.Equal(t, "sonar", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Contains(t, got.Messages[1].Content, "Brewer: Russian River")
}

func TestLookupABV_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(chatBody(`{"found": false, "abv": null, "confidence": "low"}`)))
	}, time.Second)

	res, err := c.LookupABV(context.Background(), Request{BeerName: "Unknown Homebrew"})
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Nil(t, res.ABV)
}

func TestLookupABV_ErrorKinds(t *testing.T) {
	cases := []struct {
		name string
		h    http.HandlerFunc
		kind string
	}{
		{"rate limited", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
		}, "rate_limited"},
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}, "upstream"},
		{"not json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>"))
		}, "malformed_response"},
		{"abv out of range", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(chatBody(`{"found": true, "abv": 120, "confidence": "high"}`)))
		}, "malformed_response"},
		{"found without abv", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(chatBody(`{"found": true}`)))
		}, "malformed_response"},
		{"no choices", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"choices": []}`))
		}, "malformed_response"},
		{"timeout", func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}, "timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, tc.h, 50*time.Millisecond)
			_, err := c.LookupABV(context.Background(), Request{BeerName: "x"})
			require.Error(t, err)
			assert.Equal(t, tc.kind, upstream.Kind(err), "err: %v", err)
		})
	}
}

func TestLookupABV_BreakerOpensAfterFailures(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}, time.Second)

	for i := 0; i < 5; i++ {
		_, _ = c.LookupABV(context.Background(), Request{BeerName: "x"})
	}
	_, err := c.LookupABV(context.Background(), Request{BeerName: "x"})
	assert.ErrorIs(t, err, upstream.ErrCircuitOpen)
	assert.Equal(t, 5, calls)
}
