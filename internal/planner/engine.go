// Package planner resolves a route request into a concrete upstream plan
// under policy, catalog, health, budget, capability, region and overlay
// constraints.
package planner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/labiium/edurouter/internal/catalog"
	"github.com/labiium/edurouter/internal/embeddings"
	"github.com/labiium/edurouter/internal/health"
	"github.com/labiium/edurouter/internal/metrics"
	"github.com/labiium/edurouter/internal/overlay"
	"github.com/labiium/edurouter/internal/plancache"
	"github.com/labiium/edurouter/internal/policy"
	"github.com/labiium/edurouter/internal/stats"
	"github.com/labiium/edurouter/internal/sticky"
	"github.com/labiium/edurouter/internal/tracing"
)

// Engine orchestrates the planning pipeline: validate, sticky intake,
// embed-bias, cache lookup, candidate filter, score, assemble, cache
// insert, sticky issue, header emission.
type Engine struct {
	logger   *zap.Logger
	catalog  *catalog.Store
	policy   *policy.Store
	overlays *overlay.Store
	health   *health.Tracker
	sticky   *sticky.Tokenizer
	cache    *plancache.Cache
	stats    *stats.Aggregator
	selector *embeddings.Selector

	// ttlOverrideMs, when positive, wins over policy.defaults.ttl_ms.
	ttlOverrideMs int64

	now func() time.Time
}

// Options wires an engine. Selector may be nil when embeddings are off.
type Options struct {
	Logger   *zap.Logger
	Catalog  *catalog.Store
	Policy   *policy.Store
	Overlays *overlay.Store
	Health   *health.Tracker
	Sticky   *sticky.Tokenizer
	Cache    *plancache.Cache
	Stats    *stats.Aggregator
	Selector *embeddings.Selector

	// CacheTTLMs overrides the policy's plan TTL when positive
	// (ROUTER_CACHE_TTL_MS).
	CacheTTLMs int64
}

func New(opts Options) *Engine {
	return &Engine{
		logger:        opts.Logger,
		catalog:       opts.Catalog,
		policy:        opts.Policy,
		overlays:      opts.Overlays,
		health:        opts.Health,
		sticky:        opts.Sticky,
		cache:         opts.Cache,
		stats:         opts.Stats,
		selector:      opts.Selector,
		ttlOverrideMs: opts.CacheTTLMs,
		now:           time.Now,
	}
}

// candidate is one scored catalog entry during assembly.
type candidate struct {
	entry   *catalog.Entry
	score   float64
	latency float64
	errRate float64
	cost    float64
	tier    string
	shaky   bool
}

// Plan resolves the request into a route plan and its response metadata.
// Errors are always *Error taxonomy values.
func (e *Engine) Plan(ctx context.Context, req *RouteRequest) (*RoutePlan, *ResponseMeta, error) {
	start := e.now()
	ctx, span := tracing.StartSpan(ctx, "planner.plan")
	defer span.End()

	plan, meta, err := e.plan(ctx, req, start)
	if err != nil {
		var terr *Error
		if !errors.As(err, &terr) {
			terr = errInternal(err)
		}
		e.stats.CountError(terr.Code)
		metrics.PlanErrors.WithLabelValues(terr.Code).Inc()
		return nil, nil, terr
	}
	elapsed := e.now().Sub(start)
	meta.LatencyMs = float64(elapsed.Microseconds()) / 1000.0
	meta.Headers["Router-Latency"] = fmt.Sprintf("%dms", elapsed.Milliseconds())
	e.stats.CountPlan(meta.CacheState, plan.Upstream.ModelID)
	metrics.PlansTotal.WithLabelValues(meta.CacheState).Inc()
	metrics.PlanLatency.Observe(elapsed.Seconds())
	metrics.ModelSelected.WithLabelValues(plan.Upstream.ModelID, plan.Hints.Provider).Inc()
	return plan, meta, nil
}

func (e *Engine) plan(ctx context.Context, req *RouteRequest, start time.Time) (*RoutePlan, *ResponseMeta, error) {
	// Validate.
	if req.SchemaVersion != "" && req.SchemaVersion != SchemaVersion {
		return nil, nil, errUnsupportedSchema(req.SchemaVersion)
	}
	if req.RequestID == "" {
		return nil, nil, errInvalidRequest("request_id is required")
	}
	if req.Alias == "" {
		return nil, nil, errInvalidRequest("alias is required")
	}
	switch req.API {
	case APIResponses, APIChat:
	default:
		return nil, nil, errInvalidRequest(fmt.Sprintf("api %q must be one of responses, chat", req.API))
	}
	switch req.PrivacyMode {
	case PrivacyFeaturesOnly, PrivacySummary, PrivacyFull:
	default:
		return nil, nil, errInvalidRequest(fmt.Sprintf("privacy_mode %q must be one of features_only, summary, full", req.PrivacyMode))
	}

	// Alias lookup against the compiled policy snapshot. The snapshot is
	// captured once and used for the whole call.
	pol := e.policy.Current()
	if pol == nil || pol.Catalog == nil {
		return nil, nil, errCatalogUnavailable()
	}
	alias, ok := pol.Aliases[req.Alias]
	if !ok {
		return nil, nil, errAliasUnknown(req.Alias)
	}
	defaults := pol.Doc.Defaults

	// Sticky intake.
	var pinned *sticky.Payload
	pinDropped := false
	if req.Overrides != nil && req.Overrides.PlanToken != "" {
		p, err := e.sticky.Verify(req.Overrides.PlanToken, start, pol.Revision)
		if err != nil {
			return nil, nil, errInvalidApproval(stickyMessage(err))
		}
		if p.TurnsRemaining > 0 && p.Alias == req.Alias {
			pinned = p
		}
	}

	// Content ceiling: never exceed the minimum of privacy mode and what
	// the caller attests to having included.
	level := privacyContentLevel(req.PrivacyMode)
	if req.ContentAttestation != nil {
		if al := contentLevel(req.ContentAttestation.Included); al < level {
			level = al
		}
	}
	contentUsed := levelName(level)

	// Embedding bias runs only when the content ceiling admits a summary.
	var sel *embeddings.Selection
	summary := ""
	if req.Conversation != nil {
		summary = req.Conversation.Summary
	}
	if req.Overrides != nil && req.Overrides.Summary != "" {
		summary = req.Overrides.Summary
	}
	if e.selector != nil && level >= 1 && summary != "" {
		embedCtx, cancel := context.WithTimeout(ctx, time.Duration(defaults.EmbedTimeoutMs)*time.Millisecond)
		s, err := e.selector.Select(embedCtx, summary, 0, defaults.SimilarityFloor)
		cancel()
		if err != nil {
			e.logger.Warn("embedding bias unavailable, planning without it",
				zap.String("request_id", req.RequestID), zap.Error(err))
		} else {
			sel = s
		}
	}

	// Overlay resolution happens before the cache lookup because the
	// fingerprint is part of the key and the freeze key.
	ov, err := e.resolveOverlay(pol, alias, req)
	if err != nil {
		return nil, nil, err
	}
	overlayFP := ""
	if ov != nil {
		overlayFP = ov.Fingerprint
		if ov.SizeBytes > defaults.MaxOverlayBytes {
			return nil, nil, errPolicyDeny(fmt.Sprintf("overlay %q exceeds max_overlay_bytes (%d > %d)",
				ov.ID, ov.SizeBytes, defaults.MaxOverlayBytes))
		}
	}
	freezeKey := freezeKeyFor(pol.Revision, overlayFP)

	// Cache lookup.
	key := e.cacheKey(req, pol, alias, overlayFP, freezeKey, sel, contentUsed)
	entry, state := e.cache.Lookup(key, pol.Revision, pol.Catalog.Revision, start)
	if state == plancache.StateHit {
		cached := entry.Plan.(*RoutePlan)
		if pinned == nil || pinned.ModelID == cached.Upstream.ModelID {
			var plan *RoutePlan
			if pinned != nil {
				// A pinned continuation burns a turn on a hit as well.
				cp := *cached
				e.issueSticky(&cp, req.Alias, pol.Revision, defaults, start, pinned)
				plan = &cp
			} else {
				plan = e.refreshSticky(cached, req.Alias, pol.Revision, defaults, start)
			}
			meta := e.meta(string(state), plan, pol, req, sel, "")
			return plan, meta, nil
		}
		// A valid pin disagrees with the cached primary: honor the pin
		// without disturbing the shared entry.
		state = plancache.StateMiss
	}

	// Candidate filter.
	cands, ferr := e.filter(req, pol, alias, defaults)
	if ferr != nil {
		return nil, nil, ferr
	}

	// Score and order.
	e.score(cands, req, pol, alias, defaults, sel)
	pinnedIdx := -1
	if pinned != nil {
		for i, c := range cands {
			if c.entry.ID == pinned.ModelID {
				pinnedIdx = i
				break
			}
		}
		if pinnedIdx < 0 {
			// Pinned model no longer viable: surface the lock break.
			pinDropped = true
			pinned = nil
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		if cands[i].latency != cands[j].latency {
			return cands[i].latency < cands[j].latency
		}
		if cands[i].errRate != cands[j].errRate {
			return cands[i].errRate < cands[j].errRate
		}
		return cands[i].entry.ID < cands[j].entry.ID
	})
	if pinned != nil {
		for i, c := range cands {
			if c.entry.ID == pinned.ModelID && i > 0 {
				pin := cands[i]
				copy(cands[1:i+1], cands[0:i])
				cands[0] = pin
				break
			}
		}
	}

	// Assemble.
	why := e.routeWhy(req, pol, cands, sel, summary, pinDropped, pinned)
	plan := e.assemble(req, pol, alias, cands, ov, defaults, sel, freezeKey, start, why)

	// Cache insert. Pinned plans are request-specific and stay out of the
	// shared cache so other callers never see a pin they did not present.
	if pinned == nil {
		e.cache.Insert(key, plancache.Entry{
			Plan:       plan,
			InsertedAt: start,
			TTL:        time.Duration(plan.Cache.TTLMs) * time.Millisecond,
			FreezeKey:  freezeKey,
			PolicyRev:  pol.Revision,
			CatalogRev: pol.Catalog.Revision,
		})
	}

	// Sticky issue.
	e.issueSticky(plan, req.Alias, pol.Revision, defaults, start, pinned)

	meta := e.meta(string(state), plan, pol, req, sel, why)
	return plan, meta, nil
}

func stickyMessage(err error) string {
	switch {
	case errors.Is(err, sticky.ErrExpired):
		return "plan_token expired"
	case errors.Is(err, sticky.ErrStalePolicy):
		return "plan_token issued under a previous policy revision"
	default:
		return "plan_token signature invalid"
	}
}

func freezeKeyFor(policyRev, overlayFP string) string {
	sum := sha256.Sum256([]byte(policyRev + ":" + overlayFP))
	return hex.EncodeToString(sum[:])[:16]
}

func (e *Engine) cacheKey(req *RouteRequest, pol *policy.Snapshot, alias *policy.CompiledAlias, overlayFP, freezeKey string, sel *embeddings.Selection, contentUsed string) plancache.Key {
	prompt, maxOut := e.tokenEstimates(req, pol.Doc.Defaults)
	region := ""
	if req.Geo != nil {
		region = req.Geo.Region
	}
	canonicalKey := ""
	if sel != nil {
		canonicalKey = sel.Key()
	}
	teacher := req.Overrides != nil && req.Overrides.TeacherBoost
	fp := overlayFP
	if fp == "" && alias.OverlayID != "" {
		fp = alias.OverlayID
	}
	return plancache.Key{
		Alias:      req.Alias,
		PolicyRev:  pol.Revision,
		CatalogRev: pol.Catalog.Revision,
		API:        req.API,
		// The effective content level rides with the privacy mode so an
		// attestation change can never serve a plan computed under a
		// different content ceiling.
		PrivacyMode:  req.PrivacyMode + "/" + contentUsed,
		OverlayFP:    fp,
		Caps:         req.Caps,
		RegionBucket: region,
		EstBucket:    plancache.EstimateBucket(prompt, maxOut),
		TeacherBoost: teacher,
		CanonicalKey: canonicalKey,
		FreezeKey:    freezeKey,
	}
}

func (e *Engine) tokenEstimates(req *RouteRequest, d policy.Defaults) (prompt, maxOut int) {
	maxOut = d.MaxOutputTokens
	if req.Estimates != nil {
		prompt = req.Estimates.PromptTokens
		if req.Estimates.MaxOutputTokens > 0 {
			maxOut = req.Estimates.MaxOutputTokens
		}
	}
	return prompt, maxOut
}

// resolveOverlay applies the precedence overlay_map[alias] then
// overlay_map[org.role] then the alias's own overlay id.
func (e *Engine) resolveOverlay(pol *policy.Snapshot, alias *policy.CompiledAlias, req *RouteRequest) (*overlay.Overlay, error) {
	id := ""
	if v, ok := pol.Doc.OverlayMap[alias.Name]; ok {
		id = v
	} else if req.Org != nil && req.Org.Role != "" {
		if v, ok := pol.Doc.OverlayMap[req.Org.Role]; ok {
			id = v
		}
	}
	if id == "" {
		id = alias.OverlayID
	}
	if id == "" {
		return nil, nil
	}
	ov, ok := e.overlays.Get(id)
	if !ok {
		return nil, errInvalidRequest(fmt.Sprintf("overlay %q not found", id))
	}
	return ov, nil
}

// filter drops candidates that cannot serve the request and, when nothing
// survives, derives the taxonomy code from why they fell.
func (e *Engine) filter(req *RouteRequest, pol *policy.Snapshot, alias *policy.CompiledAlias, d policy.Defaults) ([]*candidate, *Error) {
	prompt, maxOut := e.tokenEstimates(req, d)
	region := ""
	if req.Geo != nil {
		region = req.Geo.Region
	}

	// The alias region allowlist gates the whole request.
	if region != "" && len(alias.AllowedRegions) > 0 {
		allowed := false
		for _, r := range alias.AllowedRegions {
			if r == region {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, errPolicyDeny(fmt.Sprintf("region %q not allowed for alias %q", region, alias.Name))
		}
	}

	needCaps := append(append([]string(nil), alias.RequireCaps...), req.Caps...)

	var out []*candidate
	budgetOnly, healthOnly := false, false
	for _, idx := range alias.Candidates {
		m := pol.Catalog.At(idx)

		capsOK := true
		for _, c := range needCaps {
			if !m.HasCapability(c) {
				capsOK = false
				break
			}
		}
		regionOK := region == "" || m.InRegion(region)
		contextOK := prompt+maxOut <= m.Capabilities.ContextWindow || m.Capabilities.ContextWindow == 0
		healthOK := m.Status != catalog.StatusDisabled
		cost := estCostMicro(m, prompt, maxOut)
		budgetOK := req.Budget == nil || req.Budget.AmountMicro <= 0 || cost <= req.Budget.AmountMicro

		if capsOK && regionOK && contextOK && healthOK && budgetOK {
			out = append(out, &candidate{entry: m, cost: cost})
			continue
		}
		if capsOK && regionOK && contextOK && healthOK && !budgetOK {
			budgetOnly = true
		}
		if capsOK && regionOK && contextOK && !healthOK && budgetOK {
			healthOnly = true
		}
	}
	if len(out) == 0 {
		switch {
		case budgetOnly:
			return nil, errBudgetExceeded(fmt.Sprintf("all candidates for %q priced over budget", alias.Name))
		case healthOnly:
			return nil, errUpstreamUnavailable(fmt.Sprintf("all candidates for %q unavailable", alias.Name))
		default:
			return nil, errPolicyDeny(fmt.Sprintf("no candidate for %q satisfies the request", alias.Name))
		}
	}
	return out, nil
}

func estCostMicro(m *catalog.Entry, prompt, maxOut int) float64 {
	return m.Cost.InputMicro*float64(prompt) + m.Cost.OutputMicro*float64(maxOut)
}

// score computes the weighted sum for each surviving candidate. Health
// aggregates fall back to catalog SLOs for models without feedback.
func (e *Engine) score(cands []*candidate, req *RouteRequest, pol *policy.Snapshot, alias *policy.CompiledAlias, d policy.Defaults, sel *embeddings.Selection) {
	prompt, maxOut := e.tokenEstimates(req, d)
	w := pol.Doc.Weights
	teacher := req.Overrides != nil && req.Overrides.TeacherBoost

	for _, c := range cands {
		m := c.entry
		c.latency, c.errRate = e.healthOf(m)
		c.shaky = c.errRate > d.HealthBackoffRate || m.Status == catalog.StatusDegraded
		if alias.Tiers != nil {
			c.tier = alias.Tiers[m.ID]
		}

		score := w.Cost * max0(1-c.cost/d.CostNormMicro)
		score += w.Latency * max0(1-c.latency/d.LatencyMs)
		score += w.Health * (1 - c.errRate)
		if need := prompt + maxOut; need > 0 && m.Capabilities.ContextWindow > 0 {
			ratio := float64(m.Capabilities.ContextWindow) / float64(need)
			if ratio > 1 {
				ratio = 1
			}
			score += w.Context * ratio
		} else {
			score += w.Context
		}
		if c.tier != "" {
			score += w.TierBonus * pol.TierWeight(c.tier)
		}
		if sel != nil && m.ID == sel.ModelID {
			score += d.CanonicalBonus * sel.Score
		}
		if teacher {
			score += d.TeacherBonus
		}
		c.score = score
	}
}

// healthOf returns the effective latency and error rate for scoring:
// tracker aggregates when feedback exists, catalog SLOs otherwise.
func (e *Engine) healthOf(m *catalog.Entry) (latencyMs, errRate float64) {
	if snap, ok := e.health.Lookup(m.ID); ok && snap.Requests > 0 {
		return snap.EWMALatencyMs, snap.EWMAErrorRate
	}
	lat := m.SLOs.RecentLatencyMs
	if lat == 0 {
		lat = m.SLOs.TargetLatencyMs
	}
	return lat, m.SLOs.RecentErrorRate
}

func max0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// routeWhy picks the escalation reason surfaced in X-Route-Why, in fixed
// precedence so the header stays single-valued.
func (e *Engine) routeWhy(req *RouteRequest, pol *policy.Snapshot, cands []*candidate, sel *embeddings.Selection, summary string, pinDropped bool, pinned *sticky.Payload) string {
	if pinDropped {
		return "policy_lock"
	}
	if sel != nil && len(cands) > 0 && cands[0].entry.ID == sel.ModelID && pinned == nil {
		return "canonical:" + sel.ModelID
	}
	if req.Overrides != nil && req.Overrides.TeacherBoost {
		return "teacher_boost"
	}
	if th := pol.Doc.Escalation.ComplexityPromptTokens; th > 0 && req.Estimates != nil && req.Estimates.PromptTokens > th {
		return "complexity"
	}
	if summary != "" {
		for _, re := range pol.Uncertainty {
			if re.MatchString(summary) {
				return "uncertainty"
			}
		}
	}
	if len(cands) > 0 && cands[0].shaky {
		return "health_backoff"
	}
	return ""
}

func (e *Engine) assemble(req *RouteRequest, pol *policy.Snapshot, alias *policy.CompiledAlias, cands []*candidate, ov *overlay.Overlay, d policy.Defaults, sel *embeddings.Selection, freezeKey string, start time.Time, why string) *RoutePlan {
	primary := cands[0]
	m := primary.entry
	_, maxOut := e.tokenEstimates(req, d)

	ttlMs := d.TTLMs
	if e.ttlOverrideMs > 0 {
		ttlMs = e.ttlOverrideMs
	}
	validUntil := start.Add(time.Duration(ttlMs) * time.Millisecond)
	timeoutMs := d.TimeoutMs
	maxOutTokens := maxOut
	var maxInTokens *int
	if m.Capabilities.ContextWindow > 0 {
		in := m.Capabilities.ContextWindow - maxOut
		if in > 0 {
			maxInTokens = &in
		}
	}

	plan := &RoutePlan{
		SchemaVersion: SchemaVersion,
		RouteID:       uuid.NewString(),
		Upstream: Upstream{
			BaseURL: m.Metadata.BaseURL,
			Mode:    m.Metadata.Mode,
			ModelID: m.ID,
			AuthEnv: m.Metadata.AuthEnv,
			Headers: m.Metadata.Headers,
		},
		Limits: Limits{
			MaxInputTokens:  maxInTokens,
			MaxOutputTokens: &maxOutTokens,
			TimeoutMs:       &timeoutMs,
		},
		PromptOverlays: PromptOverlays{MaxOverlayBytes: d.MaxOverlayBytes},
		Hints: Hints{
			Tier:         primary.tier,
			EstCostMicro: primary.cost,
			Currency:     m.Cost.Currency,
			EstLatencyMs: primary.latency,
			Provider:     m.Provider,
		},
		Fallbacks: e.fallbacks(req, cands),
		Cache: CacheInfo{
			TTLMs:      ttlMs,
			ETag:       fmt.Sprintf("W/\"%s@%s\"", pol.Catalog.Revision, pol.Revision),
			ValidUntil: validUntil.UTC().Format(time.RFC3339Nano),
			FreezeKey:  freezeKey,
		},
		Policy: PolicyInfo{
			Revision: pol.Revision,
			ID:       alias.Name,
			Explain: fmt.Sprintf("score=%.4f cost=%.0f latency=%.0f why=%s",
				primary.score, primary.cost, primary.latency, orDefault(why, "best_score")),
		},
		PolicyRev:   pol.Revision,
		ContentUsed: e.contentUsed(req),
		GovernanceEcho: GovernanceEcho{
			Budgets:   governanceBudgets(req),
			Approvals: []string{},
		},
	}
	if ov != nil {
		plan.PromptOverlays.SystemOverlay = ov.Text
		plan.PromptOverlays.OverlayFingerprint = ov.Fingerprint
		plan.PromptOverlays.OverlaySizeBytes = ov.SizeBytes
	}
	if sel != nil {
		plan.Canonical = &Canonical{IDs: sel.CanonicalIDs, Model: sel.ModelID, Score: sel.Score}
	}
	return plan
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func (e *Engine) contentUsed(req *RouteRequest) string {
	level := privacyContentLevel(req.PrivacyMode)
	if req.ContentAttestation != nil {
		if al := contentLevel(req.ContentAttestation.Included); al < level {
			level = al
		}
	}
	return levelName(level)
}

func governanceBudgets(req *RouteRequest) map[string]any {
	b := map[string]any{}
	if req.Budget != nil {
		b["amount_micro"] = req.Budget.AmountMicro
		if req.Budget.Currency != "" {
			b["currency"] = req.Budget.Currency
		}
	}
	return b
}

// fallbacks returns up to three alternatives ordered by descending score,
// never containing the primary.
func (e *Engine) fallbacks(req *RouteRequest, cands []*candidate) []Fallback {
	primary := cands[0]
	region := ""
	if req.Geo != nil {
		region = req.Geo.Region
	}
	out := make([]Fallback, 0, 3)
	for _, c := range cands[1:] {
		if len(out) == 3 {
			break
		}
		reason := ReasonAlternate
		switch {
		case primary.shaky:
			reason = ReasonHealthBackoff
		case region != "" && len(primary.entry.Regions) > 0 && len(c.entry.Regions) == 0:
			reason = ReasonRegionAlternate
		}
		out = append(out, Fallback{
			BaseURL: c.entry.Metadata.BaseURL,
			Mode:    c.entry.Metadata.Mode,
			ModelID: c.entry.ID,
			Reason:  reason,
			Penalty: max0(primary.score - c.score),
		})
	}
	return out
}

// issueSticky mints the plan token. A pinned continuation burns one turn;
// a fresh plan starts with the full allowance minus the current turn.
func (e *Engine) issueSticky(plan *RoutePlan, alias, policyRev string, d policy.Defaults, start time.Time, pinned *sticky.Payload) {
	turns := d.Stickiness.MaxTurns - 1
	if pinned != nil {
		turns = pinned.TurnsRemaining - 1
	}
	if turns < 0 {
		turns = 0
	}
	expires := start.Add(time.Duration(d.Stickiness.WindowMs) * time.Millisecond)
	if vu, err := time.Parse(time.RFC3339Nano, plan.Cache.ValidUntil); err == nil && vu.Before(expires) {
		expires = vu
	}
	token, err := e.sticky.Issue(sticky.Payload{
		RouteID:        plan.RouteID,
		Alias:          alias,
		ModelID:        plan.Upstream.ModelID,
		TurnsRemaining: turns,
		IssuedAt:       start.UnixMilli(),
		ExpiresAt:      expires.UnixMilli(),
		PolicyRev:      policyRev,
	})
	if err != nil {
		e.logger.Warn("sticky token issue failed", zap.Error(err))
		return
	}
	plan.Stickiness = StickinessInfo{
		PlanToken: token,
		MaxTurns:  d.Stickiness.MaxTurns,
		ExpiresAt: expires.UTC().Format(time.RFC3339Nano),
	}
}

// refreshSticky returns the cached plan, re-minting the token when the
// cached one is inside the last quarter of its window. The shared entry
// is never mutated.
func (e *Engine) refreshSticky(cached *RoutePlan, alias, policyRev string, d policy.Defaults, start time.Time) *RoutePlan {
	exp, err := time.Parse(time.RFC3339Nano, cached.Stickiness.ExpiresAt)
	quarter := time.Duration(d.Stickiness.WindowMs) * time.Millisecond / 4
	if err == nil && exp.Sub(start) > quarter {
		return cached
	}
	cp := *cached
	e.issueSticky(&cp, alias, policyRev, d, start, nil)
	return &cp
}

// meta builds the response header set for a plan.
func (e *Engine) meta(cacheState string, plan *RoutePlan, pol *policy.Snapshot, req *RouteRequest, sel *embeddings.Selection, why string) *ResponseMeta {
	h := map[string]string{
		"Router-Schema":    SchemaVersion,
		"Config-Revision":  pol.Revision,
		"Catalog-Revision": pol.Catalog.Revision,
		"X-Route-Cache":    cacheState,
		"X-Resolved-Model": plan.Upstream.ModelID,
		"X-Route-Id":       plan.RouteID,
		"X-Policy-Rev":     pol.Revision,
		"X-Content-Used":   plan.ContentUsed,
	}
	if plan.Hints.Tier != "" {
		h["X-Route-Tier"] = plan.Hints.Tier
	}
	if plan.Hints.Provider != "" {
		h["X-Route-Provider"] = plan.Hints.Provider
	}
	if why != "" {
		h["X-Route-Why"] = why
	}
	if sel != nil {
		h["X-Canonical-Model"] = sel.ModelID
		h["X-Canonical-Ids"] = joinIDs(sel.CanonicalIDs)
		h["X-Canonical-Score"] = fmt.Sprintf("%.4f", sel.Score)
	}
	if req.Trace != nil && req.Trace.Traceparent != "" {
		h["traceparent"] = req.Trace.Traceparent
		if req.Trace.Tracestate != "" {
			h["tracestate"] = req.Trace.Tracestate
		}
	}
	return &ResponseMeta{Headers: h, CacheState: cacheState}
}

func joinIDs(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += id
	}
	return out
}

// SubmitFeedback folds one realized outcome into the health model.
func (e *Engine) SubmitFeedback(fb *RouteFeedback) error {
	if fb.ModelID == "" {
		return errInvalidRequest("model_id is required")
	}
	e.health.Record(fb.ModelID, fb.DurationMs, fb.Success)
	outcome := "success"
	if !fb.Success {
		outcome = "failure"
	}
	metrics.FeedbackEvents.WithLabelValues(fb.ModelID, outcome).Inc()
	return nil
}

// ReloadPolicy compiles the new policy against the live catalog and swaps
// it in; every cached plan dies by revision mismatch plus an explicit
// clear.
func (e *Engine) ReloadPolicy(doc *policy.Document) error {
	cat := e.catalog.Current()
	if cat == nil {
		return errCatalogUnavailable()
	}
	if _, err := e.policy.Replace(doc, cat); err != nil {
		metrics.Reloads.WithLabelValues("policy", "error").Inc()
		return errInvalidRequest(fmt.Sprintf("policy rejected: %v", err))
	}
	e.cache.Clear()
	metrics.Reloads.WithLabelValues("policy", "ok").Inc()
	return nil
}

// ReloadCatalog swaps the catalog and recompiles the live policy against
// it as one atomic step: if the policy no longer compiles, neither
// document changes.
func (e *Engine) ReloadCatalog(doc *catalog.Document) error {
	snap, err := catalog.Build(doc)
	if err != nil {
		metrics.Reloads.WithLabelValues("catalog", "error").Inc()
		return errInvalidRequest(fmt.Sprintf("catalog rejected: %v", err))
	}
	pol := e.policy.Current()
	if pol == nil {
		e.catalog.Install(snap)
		e.cache.Clear()
		metrics.Reloads.WithLabelValues("catalog", "ok").Inc()
		return nil
	}
	recompiled, err := policy.Compile(&pol.Doc, snap)
	if err != nil {
		metrics.Reloads.WithLabelValues("catalog", "error").Inc()
		return errInvalidRequest(fmt.Sprintf("catalog rejected: policy no longer compiles: %v", err))
	}
	e.catalog.Install(snap)
	e.policy.Install(recompiled)
	e.cache.Clear()
	metrics.Reloads.WithLabelValues("catalog", "ok").Inc()
	return nil
}

// ReloadOverlays refreshes the overlay store from disk.
func (e *Engine) ReloadOverlays() error {
	if err := e.overlays.Reload(); err != nil {
		metrics.Reloads.WithLabelValues("overlays", "error").Inc()
		return errInternal(err)
	}
	metrics.Reloads.WithLabelValues("overlays", "ok").Inc()
	return nil
}

// EmbeddingsEnabled reports whether canonical-task biasing is active.
func (e *Engine) EmbeddingsEnabled() bool { return e.selector != nil }

// Stats returns the aggregator snapshot.
func (e *Engine) Stats() stats.Snapshot { return e.stats.Snapshot() }

// Health returns every tracked model's aggregates, for diagnostics.
func (e *Engine) Health() []health.Snapshot { return e.health.All() }
