package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/labiium/edurouter/internal/catalog"
	"github.com/labiium/edurouter/internal/health"
	"github.com/labiium/edurouter/internal/overlay"
	"github.com/labiium/edurouter/internal/plancache"
	"github.com/labiium/edurouter/internal/planner"
	"github.com/labiium/edurouter/internal/policy"
	"github.com/labiium/edurouter/internal/stats"
	"github.com/labiium/edurouter/internal/sticky"
)

func testServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	logger := zap.NewNop()

	catStore := catalog.NewStore(logger)
	catSnap, err := catStore.Replace(&catalog.Document{
		Models: []catalog.Entry{
			{
				ID:       "gpt-4o-mini",
				Provider: "openai",
				Capabilities: catalog.Capabilities{
					Modalities:    []string{"text"},
					ContextWindow: 128000,
					SupportsTools: true,
				},
				Cost:     catalog.Cost{InputMicro: 0.15, OutputMicro: 0.6, Currency: "USD"},
				SLOs:     catalog.SLOs{TargetLatencyMs: 800},
				Metadata: catalog.Metadata{BaseURL: "https://api.openai.com/v1", Mode: "responses"},
			},
			{
				ID:       "claude-3-sonnet",
				Provider: "anthropic",
				Capabilities: catalog.Capabilities{
					Modalities:    []string{"text"},
					ContextWindow: 200000,
				},
				Cost:     catalog.Cost{InputMicro: 3, OutputMicro: 15, Currency: "USD"},
				SLOs:     catalog.SLOs{TargetLatencyMs: 1200},
				Metadata: catalog.Metadata{BaseURL: "https://api.anthropic.com", Mode: "chat"},
			},
		},
	})
	require.NoError(t, err)

	polStore := policy.NewStore(logger)
	_, err = polStore.Replace(&policy.Document{
		Weights: policy.Weights{Cost: 0.25, Latency: 0.25, Health: 0.4, Context: 0.1},
		Aliases: map[string]policy.Alias{
			"edu-general": {Candidates: []string{"gpt-4o-mini", "claude-3-sonnet"}},
		},
	}, catSnap)
	require.NoError(t, err)

	ovStore := overlay.NewStore("", logger)
	require.NoError(t, ovStore.Load())

	engine := planner.New(planner.Options{
		Logger:   logger,
		Catalog:  catStore,
		Policy:   polStore,
		Overlays: ovStore,
		Health:   health.NewTracker(0.2),
		Sticky:   sticky.NewTokenizer("test-secret", logger),
		Cache:    plancache.New(64),
		Stats:    stats.NewAggregator(),
	})

	srv := New(Options{
		Engine:       engine,
		Catalog:      catStore,
		Policy:       polStore,
		Overlays:     ovStore,
		Logger:       logger,
		MaxBodyBytes: 1 << 16,
		RateRPS:      1000,
		RateBurst:    1000,
	})
	return srv, srv.Handler()
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func planBody(id string) map[string]any {
	return map[string]any{
		"request_id":   id,
		"alias":        "edu-general",
		"api":          "responses",
		"privacy_mode": "features_only",
		"stream":       true,
	}
}

func TestPlanEndpointMissThenHit(t *testing.T) {
	_, h := testServer(t)

	rec := postJSON(t, h, "/route/plan", planBody("r1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "miss", rec.Header().Get("X-Route-Cache"))
	assert.Equal(t, "1.1", rec.Header().Get("Router-Schema"))
	assert.Equal(t, "gpt-4o-mini", rec.Header().Get("X-Resolved-Model"))
	assert.Equal(t, "openai", rec.Header().Get("X-Route-Provider"))
	assert.NotEmpty(t, rec.Header().Get("X-Route-Id"))
	assert.NotEmpty(t, rec.Header().Get("X-Policy-Rev"))
	assert.Equal(t, "none", rec.Header().Get("X-Content-Used"))
	assert.True(t, strings.HasSuffix(rec.Header().Get("Router-Latency"), "ms"))

	var plan planner.RoutePlan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	assert.Equal(t, "1.1", plan.SchemaVersion)
	assert.Equal(t, "gpt-4o-mini", plan.Upstream.ModelID)
	assert.NotEmpty(t, plan.Stickiness.PlanToken)

	rec2 := postJSON(t, h, "/route/plan", planBody("r2"))
	require.Equal(t, http.StatusOK, rec2.Code)
	assert.Equal(t, "hit", rec2.Header().Get("X-Route-Cache"))
}

func TestPlanEndpointErrorEnvelope(t *testing.T) {
	_, h := testServer(t)

	body := planBody("r1")
	body["schema_version"] = "2.0"
	rec := postJSON(t, h, "/route/plan", body)
	require.Equal(t, http.StatusConflict, rec.Code)

	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "1.1", env.SchemaVersion)
	assert.Equal(t, planner.CodeUnsupportedSchema, env.Code)
	assert.Equal(t, "r1", env.RequestID)
	assert.Equal(t, []string{"1.1"}, env.Supported)
	assert.NotEmpty(t, env.PolicyRev)
}

func TestPlanEndpointMalformedJSON(t *testing.T) {
	_, h := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/route/plan", strings.NewReader("{nope"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, planner.CodeInvalidRequest, env.Code)
}

func TestPlanEndpointBodyTooLarge(t *testing.T) {
	_, h := testServer(t)
	big := fmt.Sprintf(`{"request_id":"r1","alias":"edu-general","api":"responses","privacy_mode":"features_only","stream":true,"params":{"pad":%q}}`,
		strings.Repeat("x", 1<<17))
	req := httptest.NewRequest(http.MethodPost, "/route/plan", strings.NewReader(big))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "too large")
}

func TestPlanEndpointRateLimit(t *testing.T) {
	srv, _ := testServer(t)
	srv.limiter = newSourceLimiter(1, 1)
	h := srv.Handler()

	rec := postJSON(t, h, "/route/plan", planBody("r1"))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = postJSON(t, h, "/route/plan", planBody("r2"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate limit")
}

func TestFeedbackEndpoint(t *testing.T) {
	_, h := testServer(t)

	rec := postJSON(t, h, "/route/feedback", map[string]any{
		"route_id": "r-1", "model_id": "gpt-4o-mini", "success": true, "duration_ms": 420,
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = postJSON(t, h, "/route/feedback", map[string]any{"route_id": "r-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCatalogEndpointETag(t *testing.T) {
	_, h := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/catalog/models", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)
	assert.True(t, strings.HasPrefix(rec.Header().Get("X-Catalog-Weak"), "W/"))

	var doc catalog.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Len(t, doc.Models, 2)

	req = httptest.NewRequest(http.MethodGet, "/catalog/models", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
}

func TestPolicyEndpoint(t *testing.T) {
	_, h := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/policy", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var doc policy.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.NotEmpty(t, doc.Revision)
	assert.Contains(t, doc.Aliases, "edu-general")
}

func TestCapabilitiesEndpoint(t *testing.T) {
	_, h := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/capabilities", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var caps map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &caps))
	assert.Equal(t, "1.1", caps["schema_version"])
	stickiness := caps["stickiness"].(map[string]any)
	assert.Equal(t, true, stickiness["supported"])
	batch := caps["batch"].(map[string]any)
	assert.Equal(t, false, batch["supported"])
	assert.Equal(t, true, caps["provider_headers"])
}

func TestHealthzEndpoint(t *testing.T) {
	_, h := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["policy_revision"])
	assert.NotEmpty(t, body["catalog_revision"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestStatsEndpoint(t *testing.T) {
	_, h := testServer(t)
	postJSON(t, h, "/route/plan", planBody("r1"))

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var s stats.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.Equal(t, uint64(1), s.TotalRequests)
	assert.Equal(t, uint64(1), s.ModelShare["gpt-4o-mini"])
}

func TestAdminPolicyReload(t *testing.T) {
	_, h := testServer(t)

	rec := postJSON(t, h, "/route/plan", planBody("r1"))
	require.Equal(t, http.StatusOK, rec.Code)
	oldRev := rec.Header().Get("X-Policy-Rev")

	rec = postJSON(t, h, "/admin/policy", map[string]any{
		"weights": map[string]any{"cost": 0.5, "latency": 0.2, "health": 0.2, "context": 0.1},
		"aliases": map[string]any{
			"edu-general": map[string]any{"candidates": []string{"gpt-4o-mini", "claude-3-sonnet"}},
		},
	})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = postJSON(t, h, "/route/plan", planBody("r2"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "miss", rec.Header().Get("X-Route-Cache"))
	assert.NotEqual(t, oldRev, rec.Header().Get("X-Policy-Rev"))
}

func TestAdminPolicyRejectsUnknownCandidate(t *testing.T) {
	_, h := testServer(t)
	rec := postJSON(t, h, "/admin/policy", map[string]any{
		"aliases": map[string]any{
			"edu-general": map[string]any{"candidates": []string{"ghost-model"}},
		},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "ghost-model")
}

func TestAdminCatalogReload(t *testing.T) {
	_, h := testServer(t)

	rec := postJSON(t, h, "/admin/catalog", map[string]any{
		"models": []map[string]any{
			{
				"id": "gpt-4o-mini", "provider": "openai",
				"capabilities": map[string]any{"modalities": []string{"text"}, "context_window": 128000},
				"metadata":     map[string]any{"base_url": "https://api.openai.com/v1", "mode": "responses"},
			},
			{
				"id": "claude-3-sonnet", "provider": "anthropic",
				"capabilities": map[string]any{"modalities": []string{"text"}, "context_window": 200000},
				"metadata":     map[string]any{"base_url": "https://api.anthropic.com", "mode": "chat"},
			},
		},
	})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
}

func TestAdminOverlaysReload(t *testing.T) {
	_, h := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/admin/overlays/reload", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestTraceparentEchoedFromHeader(t *testing.T) {
	_, h := testServer(t)
	buf, _ := json.Marshal(planBody("r1"))
	req := httptest.NewRequest(http.MethodPost, "/route/plan", bytes.NewReader(buf))
	req.Header.Set("traceparent", "00-0123456789abcdef0123456789abcdef-0123456789abcdef-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "00-0123456789abcdef0123456789abcdef-0123456789abcdef-01", rec.Header().Get("traceparent"))
}
