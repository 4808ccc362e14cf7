// Package server exposes the planner over HTTP: the plan/feedback
// operations, read-side catalog/policy/stats surfaces and the
// network-restricted admin endpoints.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/labiium/edurouter/internal/catalog"
	"github.com/labiium/edurouter/internal/overlay"
	"github.com/labiium/edurouter/internal/planner"
	"github.com/labiium/edurouter/internal/policy"
)

// Server wires the HTTP mux over the planner engine.
type Server struct {
	engine   *planner.Engine
	catalog  *catalog.Store
	policy   *policy.Store
	overlays *overlay.Store
	logger   *zap.Logger

	maxBodyBytes int64
	limiter      *sourceLimiter
}

// Options configures the HTTP layer.
type Options struct {
	Engine       *planner.Engine
	Catalog      *catalog.Store
	Policy       *policy.Store
	Overlays     *overlay.Store
	Logger       *zap.Logger
	MaxBodyBytes int64
	RateRPS      float64
	RateBurst    int
}

func New(opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	return &Server{
		engine:       opts.Engine,
		catalog:      opts.Catalog,
		policy:       opts.Policy,
		overlays:     opts.Overlays,
		logger:       opts.Logger,
		maxBodyBytes: opts.MaxBodyBytes,
		limiter:      newSourceLimiter(opts.RateRPS, opts.RateBurst),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /route/plan", s.handlePlan)
	mux.HandleFunc("POST /route/feedback", s.handleFeedback)

	mux.HandleFunc("GET /catalog/models", s.handleCatalog)
	mux.HandleFunc("GET /policy", s.handlePolicy)
	mux.HandleFunc("GET /capabilities", s.handleCapabilities)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /admin/policy", s.handleAdminPolicy)
	mux.HandleFunc("POST /admin/catalog", s.handleAdminCatalog)
	mux.HandleFunc("POST /admin/overlays/reload", s.handleAdminOverlays)

	return s.logging(s.bodyLimit(mux))
}
