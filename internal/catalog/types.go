package catalog

// Model statuses
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusDisabled = "disabled"
)

// Upstream API modes
const (
	ModeResponses = "responses"
	ModeChat      = "chat"
)

// Capabilities describes what a model can do.
type Capabilities struct {
	Modalities          []string `yaml:"modalities" json:"modalities"`
	ContextWindow       int      `yaml:"context_window" json:"context_window"`
	SupportsTools       bool     `yaml:"supports_tools" json:"supports_tools"`
	SupportsJSON        bool     `yaml:"supports_json" json:"supports_json"`
	SupportsPromptCache bool     `yaml:"supports_prompt_cache" json:"supports_prompt_cache"`
}

// Limits carries provider-side throughput ceilings.
type Limits struct {
	TPS int `yaml:"tps" json:"tps"`
	RPM int `yaml:"rpm" json:"rpm"`
}

// Cost is per-token pricing in micro-units of Currency.
type Cost struct {
	InputMicro  float64 `yaml:"input_micro" json:"input_micro"`
	OutputMicro float64 `yaml:"output_micro" json:"output_micro"`
	CachedMicro float64 `yaml:"cached_micro" json:"cached_micro"`
	Currency    string  `yaml:"currency" json:"currency"`
}

// SLOs holds target and recently observed service levels.
type SLOs struct {
	TargetLatencyMs float64 `yaml:"target_latency_ms" json:"target_latency_ms"`
	RecentLatencyMs float64 `yaml:"recent_latency_ms" json:"recent_latency_ms"`
	RecentErrorRate float64 `yaml:"recent_error_rate" json:"recent_error_rate"`
}

// Metadata describes how to reach the upstream.
type Metadata struct {
	BaseURL string            `yaml:"base_url" json:"base_url"`
	Mode    string            `yaml:"mode" json:"mode"`
	AuthEnv string            `yaml:"auth_env,omitempty" json:"auth_env,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// Entry is one model in the catalog.
type Entry struct {
	ID           string       `yaml:"id" json:"id"`
	Provider     string       `yaml:"provider" json:"provider"`
	Regions      []string     `yaml:"regions,omitempty" json:"regions,omitempty"`
	PolicyTags   []string     `yaml:"policy_tags,omitempty" json:"policy_tags,omitempty"`
	Capabilities Capabilities `yaml:"capabilities" json:"capabilities"`
	Limits       Limits       `yaml:"limits" json:"limits"`
	Cost         Cost         `yaml:"cost" json:"cost"`
	SLOs         SLOs         `yaml:"slos" json:"slos"`
	Metadata     Metadata     `yaml:"metadata" json:"metadata"`
	Status       string       `yaml:"status" json:"status"`
	Tags         []string     `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// HasCapability reports whether the entry satisfies a single capability
// string. Capability names map onto the boolean capability flags plus
// modality membership ("modality:vision") and free-form policy tags.
func (e *Entry) HasCapability(cap string) bool {
	switch cap {
	case "tools":
		return e.Capabilities.SupportsTools
	case "json", "json_mode":
		return e.Capabilities.SupportsJSON
	case "prompt_cache":
		return e.Capabilities.SupportsPromptCache
	}
	if len(cap) > 9 && cap[:9] == "modality:" {
		want := cap[9:]
		for _, m := range e.Capabilities.Modalities {
			if m == want {
				return true
			}
		}
		return false
	}
	for _, t := range e.PolicyTags {
		if t == cap {
			return true
		}
	}
	return false
}

// InRegion reports whether the entry serves the given region. An entry with
// no regions listed serves everywhere.
func (e *Entry) InRegion(region string) bool {
	if len(e.Regions) == 0 {
		return true
	}
	for _, r := range e.Regions {
		if r == region {
			return true
		}
	}
	return false
}

// Document is the full catalog as loaded from yaml or the admin endpoint.
type Document struct {
	Revision string  `yaml:"revision,omitempty" json:"revision,omitempty"`
	Models   []Entry `yaml:"models" json:"models"`
}
