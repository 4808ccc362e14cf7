package embeddings

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashedProviderDeterministic(t *testing.T) {
	p := NewHashedProvider(64)

	a, err := p.Embed(context.Background(), "prove an algebra identity")
	require.NoError(t, err)
	b, err := p.Embed(context.Background(), "prove an algebra identity")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := p.Embed(context.Background(), "different text")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestHashedProviderUnitLength(t *testing.T) {
	p := NewHashedProvider(64)
	v, err := p.Embed(context.Background(), "anything")
	require.NoError(t, err)
	require.Len(t, v, 64)
	assert.InDelta(t, 1.0, Dot(v, v), 1e-5)
}

func TestNormalizeAndDot(t *testing.T) {
	v := []float32{3, 4}
	Normalize(v)
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)

	assert.InDelta(t, 1.0, Dot(v, v), 1e-6)
	assert.Equal(t, 0.0, Dot(v, []float32{1}), "length mismatch scores zero")

	zero := []float32{0, 0}
	Normalize(zero)
	assert.True(t, math.Abs(float64(zero[0])) < 1e-9)
}

func TestHTTPProviderRoundtrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"hello"}, req.Texts)
		assert.Equal(t, "test-model", req.Model)
		json.NewEncoder(w).Encode(embedResponse{
			Embeddings: [][]float64{{0.1, 0.2, 0.3}},
			Dimensions: 3,
			ModelUsed:  "test-model",
		})
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "test-model", 0)
	v, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)
	require.Len(t, v, 3)
	assert.InDelta(t, 0.2, float64(v[1]), 1e-6)
}

func TestHTTPProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "", 0)
	_, err := p.Embed(context.Background(), "hello")
	assert.ErrorContains(t, err, "502")
}

func TestHTTPProviderEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{})
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "", 0)
	_, err := p.Embed(context.Background(), "hello")
	assert.ErrorContains(t, err, "no embeddings")
}
