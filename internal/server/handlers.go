package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/labiium/edurouter/internal/catalog"
	"github.com/labiium/edurouter/internal/planner"
	"github.com/labiium/edurouter/internal/policy"
)

// errorEnvelope is the typed error body every rejection uses.
type errorEnvelope struct {
	SchemaVersion string   `json:"schema_version"`
	Code          string   `json:"code"`
	Message       string   `json:"message"`
	RequestID     string   `json:"request_id"`
	PolicyRev     string   `json:"policy_rev"`
	RetryHintMs   int64    `json:"retry_hint_ms,omitempty"`
	Supported     []string `json:"supported,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, requestID string, perr *planner.Error) {
	env := errorEnvelope{
		SchemaVersion: planner.SchemaVersion,
		Code:          perr.Code,
		Message:       perr.Message,
		RequestID:     requestID,
		PolicyRev:     s.policy.Revision(),
		RetryHintMs:   perr.RetryHintMs,
		Supported:     perr.Supported,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(perr.Status)
	_ = json.NewEncoder(w).Encode(env)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(sourceIdentity(r)) {
		s.writeError(w, "", &planner.Error{
			Code: planner.CodeInvalidRequest, Status: http.StatusBadRequest,
			Message: "rate limit exceeded", RetryHintMs: 1000,
		})
		return
	}

	var req planner.RouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		msg := "malformed JSON body"
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			msg = "request body too large"
		}
		s.writeError(w, req.RequestID, &planner.Error{
			Code: planner.CodeInvalidRequest, Status: http.StatusBadRequest, Message: msg,
		})
		return
	}
	// The transport-level traceparent wins when the body omits trace info.
	if req.Trace == nil {
		if tp := r.Header.Get("traceparent"); tp != "" {
			req.Trace = &planner.Trace{Traceparent: tp, Tracestate: r.Header.Get("tracestate")}
		}
	}

	plan, meta, err := s.engine.Plan(r.Context(), &req)
	if err != nil {
		var perr *planner.Error
		if !errors.As(err, &perr) {
			perr = &planner.Error{Code: planner.CodeInternal, Status: http.StatusInternalServerError, Message: err.Error()}
		}
		s.writeError(w, req.RequestID, perr)
		return
	}
	for k, v := range meta.Headers {
		w.Header().Set(k, v)
	}
	s.writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var fb planner.RouteFeedback
	if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
		s.writeError(w, "", &planner.Error{
			Code: planner.CodeInvalidRequest, Status: http.StatusBadRequest, Message: "malformed JSON body",
		})
		return
	}
	if err := s.engine.SubmitFeedback(&fb); err != nil {
		var perr *planner.Error
		if errors.As(err, &perr) {
			s.writeError(w, fb.RouteID, perr)
			return
		}
		s.writeError(w, fb.RouteID, &planner.Error{
			Code: planner.CodeInternal, Status: http.StatusInternalServerError, Message: err.Error(),
		})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	snap := s.catalog.Current()
	if snap == nil {
		s.writeError(w, "", &planner.Error{
			Code: planner.CodeCatalogUnavailable, Status: http.StatusServiceUnavailable, Message: "catalog not loaded",
		})
		return
	}
	strongTag := fmt.Sprintf("%q", snap.Revision)
	w.Header().Set("ETag", strongTag)
	w.Header().Set("X-Catalog-Weak", fmt.Sprintf("W/%q", snap.Revision))
	if r.Header.Get("If-None-Match") == strongTag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	s.writeJSON(w, http.StatusOK, catalog.Document{Revision: snap.Revision, Models: snap.Models})
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	snap := s.policy.Current()
	if snap == nil {
		s.writeError(w, "", &planner.Error{
			Code: planner.CodeCatalogUnavailable, Status: http.StatusServiceUnavailable, Message: "policy not loaded",
		})
		return
	}
	doc := snap.Doc
	doc.Revision = snap.Revision
	s.writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	maxTurns := policy.DefaultMaxTurns
	windowMs := int64(policy.DefaultWindowMs)
	if snap := s.policy.Current(); snap != nil {
		maxTurns = snap.Doc.Defaults.Stickiness.MaxTurns
		windowMs = snap.Doc.Defaults.Stickiness.WindowMs
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"schema_version": planner.SchemaVersion,
		"privacy_modes":  []string{planner.PrivacyFeaturesOnly, planner.PrivacySummary, planner.PrivacyFull},
		"stickiness": map[string]any{
			"supported": true,
			"max_turns": maxTurns,
			"window_ms": windowMs,
		},
		"batch":            map[string]any{"supported": false},
		"prefetch":         map[string]any{"supported": false},
		"provider_headers": true,
		"embeddings":       map[string]any{"enabled": s.engine.EmbeddingsEnabled()},
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Stats())
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if s.policy.Current() == nil || s.catalog.Current() == nil {
		status = "degraded"
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":           status,
		"policy_revision":  s.policy.Revision(),
		"catalog_revision": s.catalog.Revision(),
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleAdminPolicy(w http.ResponseWriter, r *http.Request) {
	var doc policy.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		s.writeError(w, "", &planner.Error{
			Code: planner.CodeInvalidRequest, Status: http.StatusBadRequest, Message: "malformed policy document",
		})
		return
	}
	if err := s.engine.ReloadPolicy(&doc); err != nil {
		s.adminError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminCatalog(w http.ResponseWriter, r *http.Request) {
	var doc catalog.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		s.writeError(w, "", &planner.Error{
			Code: planner.CodeInvalidRequest, Status: http.StatusBadRequest, Message: "malformed catalog document",
		})
		return
	}
	if err := s.engine.ReloadCatalog(&doc); err != nil {
		s.adminError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminOverlays(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ReloadOverlays(); err != nil {
		s.adminError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) adminError(w http.ResponseWriter, err error) {
	var perr *planner.Error
	if errors.As(err, &perr) {
		s.writeError(w, "", perr)
		return
	}
	s.logger.Error("admin operation failed", zap.Error(err))
	s.writeError(w, "", &planner.Error{
		Code: planner.CodeInternal, Status: http.StatusInternalServerError, Message: err.Error(),
	})
}
