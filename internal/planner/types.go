package planner

// SchemaVersion is the only wire schema this planner speaks.
const SchemaVersion = "1.1"

// API kinds
const (
	APIResponses = "responses"
	APIChat      = "chat"
)

// Privacy modes / content levels, ordered none < summary < full.
const (
	ContentNone    = "none"
	ContentSummary = "summary"
	ContentFull    = "full"

	PrivacyFeaturesOnly = "features_only"
	PrivacySummary      = "summary"
	PrivacyFull         = "full"
)

// Fallback reasons
const (
	ReasonAlternate       = "alternate"
	ReasonHealthBackoff   = "health_backoff"
	ReasonRegionAlternate = "region_alternate"
)

// Trace carries W3C trace context to echo back.
type Trace struct {
	Traceparent string `json:"traceparent,omitempty"`
	Tracestate  string `json:"tracestate,omitempty"`
}

// ContentAttestation declares how much content the caller actually sent.
type ContentAttestation struct {
	Included string `json:"included"`
}

// Targets are client latency goals.
type Targets struct {
	P95LatencyMs float64 `json:"p95_latency_ms,omitempty"`
}

// Budget caps the spend for this request in micro-units.
type Budget struct {
	AmountMicro float64 `json:"amount_micro"`
	Currency    string  `json:"currency,omitempty"`
}

// Estimates sizes the request for cost and context filtering.
type Estimates struct {
	PromptTokens    int    `json:"prompt_tokens,omitempty"`
	MaxOutputTokens int    `json:"max_output_tokens,omitempty"`
	TokenizerID     string `json:"tokenizer_id,omitempty"`
}

// Conversation describes the ongoing exchange for stickiness and biasing.
type Conversation struct {
	Turns             int    `json:"turns,omitempty"`
	SystemFingerprint string `json:"system_fingerprint,omitempty"`
	Summary           string `json:"summary,omitempty"`
}

// Org identifies the calling tenant.
type Org struct {
	Tenant  string `json:"tenant,omitempty"`
	Project string `json:"project,omitempty"`
	Role    string `json:"role,omitempty"`
}

// Geo carries the caller's region.
type Geo struct {
	Region string `json:"region,omitempty"`
}

// Tool declares a tool the conversation may call.
type Tool struct {
	Name           string `json:"name"`
	JSONSchemaHash string `json:"json_schema_hash,omitempty"`
}

// Overrides are caller-supplied routing nudges.
type Overrides struct {
	PlanToken    string `json:"plan_token,omitempty"`
	TeacherBoost bool   `json:"teacher_boost,omitempty"`
	Summary      string `json:"summary,omitempty"`
}

// RouteRequest is the structured input to the planner.
type RouteRequest struct {
	SchemaVersion      string              `json:"schema_version,omitempty"`
	RequestID          string              `json:"request_id"`
	Alias              string              `json:"alias"`
	API                string              `json:"api"`
	PrivacyMode        string              `json:"privacy_mode"`
	Stream             bool                `json:"stream"`
	Trace              *Trace              `json:"trace,omitempty"`
	ContentAttestation *ContentAttestation `json:"content_attestation,omitempty"`
	Caps               []string            `json:"caps,omitempty"`
	Params             map[string]any      `json:"params,omitempty"`
	Targets            *Targets            `json:"targets,omitempty"`
	Budget             *Budget             `json:"budget,omitempty"`
	Estimates          *Estimates          `json:"estimates,omitempty"`
	Conversation       *Conversation       `json:"conversation,omitempty"`
	Org                *Org                `json:"org,omitempty"`
	Geo                *Geo                `json:"geo,omitempty"`
	Tools              []Tool              `json:"tools,omitempty"`
	Overrides          *Overrides          `json:"overrides,omitempty"`
}

// Upstream is the concrete target the plan binds to.
type Upstream struct {
	BaseURL string            `json:"base_url"`
	Mode    string            `json:"mode"`
	ModelID string            `json:"model_id"`
	AuthEnv string            `json:"auth_env,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Limits are per-plan ceilings; the object is always present, values are
// nullable.
type Limits struct {
	MaxInputTokens  *int   `json:"max_input_tokens"`
	MaxOutputTokens *int   `json:"max_output_tokens"`
	TimeoutMs       *int64 `json:"timeout_ms"`
}

// PromptOverlays carries the system prompt fragment metadata.
type PromptOverlays struct {
	SystemOverlay      string `json:"system_overlay,omitempty"`
	OverlayFingerprint string `json:"overlay_fingerprint,omitempty"`
	OverlaySizeBytes   int    `json:"overlay_size_bytes,omitempty"`
	MaxOverlayBytes    int    `json:"max_overlay_bytes"`
}

// Hints are advisory routing facts for the caller.
type Hints struct {
	Tier         string  `json:"tier,omitempty"`
	EstCostMicro float64 `json:"est_cost_micro,omitempty"`
	Currency     string  `json:"currency,omitempty"`
	EstLatencyMs float64 `json:"est_latency_ms,omitempty"`
	Provider     string  `json:"provider,omitempty"`
}

// Fallback is one ordered alternative to the primary.
type Fallback struct {
	BaseURL string  `json:"base_url"`
	Mode    string  `json:"mode"`
	ModelID string  `json:"model_id"`
	Reason  string  `json:"reason"`
	Penalty float64 `json:"penalty"`
}

// CacheInfo is the plan's cache-control metadata.
type CacheInfo struct {
	TTLMs      int64  `json:"ttl_ms"`
	ETag       string `json:"etag"`
	ValidUntil string `json:"valid_until,omitempty"`
	FreezeKey  string `json:"freeze_key"`
}

// StickinessInfo is the plan's conversation pinning handle.
type StickinessInfo struct {
	PlanToken string `json:"plan_token,omitempty"`
	MaxTurns  int    `json:"max_turns,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// PolicyInfo surfaces which policy produced the plan and why.
type PolicyInfo struct {
	Revision string `json:"revision"`
	ID       string `json:"id"`
	Explain  string `json:"explain"`
}

// GovernanceEcho reflects budget and approval context back to the caller.
type GovernanceEcho struct {
	Budgets   map[string]any `json:"budgets"`
	Approvals []string       `json:"approvals"`
}

// Canonical reports the similarity bias that influenced the plan.
type Canonical struct {
	IDs   []string `json:"ids"`
	Model string   `json:"model"`
	Score float64  `json:"score"`
}

// RoutePlan is the structured output binding a request to an upstream.
type RoutePlan struct {
	SchemaVersion  string         `json:"schema_version"`
	RouteID        string         `json:"route_id"`
	Upstream       Upstream       `json:"upstream"`
	Limits         Limits         `json:"limits"`
	PromptOverlays PromptOverlays `json:"prompt_overlays"`
	Hints          Hints          `json:"hints"`
	Fallbacks      []Fallback     `json:"fallbacks"`
	Cache          CacheInfo      `json:"cache"`
	Stickiness     StickinessInfo `json:"stickiness"`
	Policy         PolicyInfo     `json:"policy"`
	PolicyRev      string         `json:"policy_rev"`
	ContentUsed    string         `json:"content_used"`
	GovernanceEcho GovernanceEcho `json:"governance_echo"`
	Canonical      *Canonical     `json:"canonical,omitempty"`
}

// RouteFeedback reports a realized outcome back into the health model.
type RouteFeedback struct {
	RouteID      string  `json:"route_id"`
	ModelID      string  `json:"model_id"`
	Success      bool    `json:"success"`
	DurationMs   float64 `json:"duration_ms"`
	CacheHit     bool    `json:"cache_hit,omitempty"`
	ErrorCode    string  `json:"error_code,omitempty"`
	PromptTokens int     `json:"prompt_tokens,omitempty"`
	OutputTokens int     `json:"output_tokens,omitempty"`
}

// ResponseMeta carries the header set, planner-measured latency and the
// cache-state tag alongside a plan.
type ResponseMeta struct {
	Headers    map[string]string
	LatencyMs  float64
	CacheState string
}

func contentLevel(s string) int {
	switch s {
	case ContentSummary:
		return 1
	case ContentFull:
		return 2
	default:
		return 0
	}
}

// privacyContentLevel maps a privacy mode onto the most content it permits.
func privacyContentLevel(mode string) int {
	switch mode {
	case PrivacySummary:
		return 1
	case PrivacyFull:
		return 2
	default: // features_only
		return 0
	}
}

func levelName(l int) string {
	switch l {
	case 1:
		return ContentSummary
	case 2:
		return ContentFull
	default:
		return ContentNone
	}
}
