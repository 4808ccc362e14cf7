package policy

// Weights are the scoring coefficients applied per candidate.
type Weights struct {
	Cost      float64 `yaml:"cost" json:"cost"`
	Latency   float64 `yaml:"latency" json:"latency"`
	Health    float64 `yaml:"health" json:"health"`
	Context   float64 `yaml:"context" json:"context"`
	TierBonus float64 `yaml:"tier_bonus,omitempty" json:"tier_bonus,omitempty"`
}

// Stickiness controls the conversation pinning window.
type Stickiness struct {
	WindowMs int64 `yaml:"window_ms" json:"window_ms"`
	MaxTurns int   `yaml:"max_turns" json:"max_turns"`
}

// Defaults carries plan-time fallbacks and tunables. Every knob the engine
// consults lives here so operators override them in the policy document
// rather than in code.
type Defaults struct {
	CostNormMicro   float64    `yaml:"cost_norm_micro" json:"cost_norm_micro"`
	LatencyMs       float64    `yaml:"latency_ms" json:"latency_ms"`
	TimeoutMs       int64      `yaml:"timeout_ms" json:"timeout_ms"`
	MaxOutputTokens int        `yaml:"max_output_tokens" json:"max_output_tokens"`
	TTLMs           int64      `yaml:"ttl_ms" json:"ttl_ms"`
	Stickiness      Stickiness `yaml:"stickiness" json:"stickiness"`
	MaxOverlayBytes int        `yaml:"max_overlay_bytes" json:"max_overlay_bytes"`

	// Tunables documented as defaults; override per deployment.
	CanonicalBonus    float64 `yaml:"canonical_bonus,omitempty" json:"canonical_bonus,omitempty"`
	TeacherBonus      float64 `yaml:"teacher_bonus,omitempty" json:"teacher_bonus,omitempty"`
	SimilarityFloor   float64 `yaml:"similarity_floor,omitempty" json:"similarity_floor,omitempty"`
	EWMAAlpha         float64 `yaml:"ewma_alpha,omitempty" json:"ewma_alpha,omitempty"`
	EmbedTimeoutMs    int64   `yaml:"embed_timeout_ms,omitempty" json:"embed_timeout_ms,omitempty"`
	HealthBackoffRate float64 `yaml:"health_backoff_rate,omitempty" json:"health_backoff_rate,omitempty"`
}

// Alias maps a logical name onto an ordered candidate list.
type Alias struct {
	Candidates     []string          `yaml:"candidates" json:"candidates"`
	RequireCaps    []string          `yaml:"require_caps,omitempty" json:"require_caps,omitempty"`
	AllowedRegions []string          `yaml:"allowed_regions,omitempty" json:"allowed_regions,omitempty"`
	OverlayID      string            `yaml:"overlay_id,omitempty" json:"overlay_id,omitempty"`
	Tiers          map[string]string `yaml:"tiers,omitempty" json:"tiers,omitempty"` // model_id -> tier
}

// Escalation holds the predicates that surface X-Route-Why reasons.
type Escalation struct {
	ComplexityPromptTokens int      `yaml:"complexity_prompt_tokens,omitempty" json:"complexity_prompt_tokens,omitempty"`
	UncertaintyPatterns    []string `yaml:"uncertainty_patterns,omitempty" json:"uncertainty_patterns,omitempty"`
}

// TierWeights maps tier names onto bonus multipliers.
type TierWeights map[string]float64

// Document is the policy as authored in yaml or posted to the admin
// endpoint. It is compiled against a catalog snapshot before use.
type Document struct {
	Revision    string            `yaml:"revision,omitempty" json:"revision,omitempty"`
	Weights     Weights           `yaml:"weights" json:"weights"`
	Defaults    Defaults          `yaml:"defaults" json:"defaults"`
	Aliases     map[string]Alias  `yaml:"aliases" json:"aliases"`
	OverlayMap  map[string]string `yaml:"overlay_map,omitempty" json:"overlay_map,omitempty"`
	TierWeights TierWeights       `yaml:"tier_weights,omitempty" json:"tier_weights,omitempty"`
	Escalation  Escalation        `yaml:"escalation,omitempty" json:"escalation,omitempty"`
}

// Built-in fallbacks for tunables absent from the document.
const (
	DefaultCanonicalBonus  = 0.15
	DefaultTeacherBonus    = 0.10
	DefaultSimilarityFloor = 0.2
	DefaultEWMAAlpha       = 0.2
	DefaultEmbedTimeoutMs  = 200
	DefaultHealthBackoff   = 0.5
	DefaultTTLMs           = 30_000
	DefaultMaxTurns        = 3
	DefaultWindowMs        = 300_000
	DefaultMaxOverlay      = 16 * 1024
	DefaultTimeoutMs       = 60_000
	DefaultMaxOutput       = 1024
	DefaultCostNormMicro   = 5_000_000
	DefaultLatencyNormMs   = 2_000
)

// Normalize fills unset defaults in place.
func (d *Defaults) Normalize() {
	if d.CostNormMicro <= 0 {
		d.CostNormMicro = DefaultCostNormMicro
	}
	if d.LatencyMs <= 0 {
		d.LatencyMs = DefaultLatencyNormMs
	}
	if d.TimeoutMs <= 0 {
		d.TimeoutMs = DefaultTimeoutMs
	}
	if d.MaxOutputTokens <= 0 {
		d.MaxOutputTokens = DefaultMaxOutput
	}
	if d.TTLMs <= 0 {
		d.TTLMs = DefaultTTLMs
	}
	if d.Stickiness.WindowMs <= 0 {
		d.Stickiness.WindowMs = DefaultWindowMs
	}
	if d.Stickiness.MaxTurns <= 0 {
		d.Stickiness.MaxTurns = DefaultMaxTurns
	}
	if d.MaxOverlayBytes <= 0 {
		d.MaxOverlayBytes = DefaultMaxOverlay
	}
	if d.CanonicalBonus <= 0 {
		d.CanonicalBonus = DefaultCanonicalBonus
	}
	if d.TeacherBonus <= 0 {
		d.TeacherBonus = DefaultTeacherBonus
	}
	if d.SimilarityFloor <= 0 {
		d.SimilarityFloor = DefaultSimilarityFloor
	}
	if d.EWMAAlpha <= 0 {
		d.EWMAAlpha = DefaultEWMAAlpha
	}
	if d.EmbedTimeoutMs <= 0 {
		d.EmbedTimeoutMs = DefaultEmbedTimeoutMs
	}
	if d.HealthBackoffRate <= 0 {
		d.HealthBackoffRate = DefaultHealthBackoff
	}
}
