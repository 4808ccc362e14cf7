package embeddings

import "time"

// Config controls the embedding runtime.
type Config struct {
	Enabled      bool
	Provider     string // "http" or "hashed"
	BaseURL      string
	Model        string
	Timeout      time.Duration
	CacheTTL     time.Duration
	MaxLRU       int
	RedisAddr    string
	TopK         int
	AllowHashed  bool
	CanonicalSet string // path to the canonical task bank
}
