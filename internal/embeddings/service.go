package embeddings

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/labiium/edurouter/internal/metrics"
)

// Service provides embedding generation with two cache levels: a local
// LRU in front of an optional shared Redis cache.
type Service struct {
	cfg      Config
	provider Provider
	lru      *LocalLRU
	shared   VectorCache
	logger   *zap.Logger
}

// NewService wires a provider with its caches. The hashed provider is
// refused unless explicitly allowed.
func NewService(cfg Config, logger *zap.Logger) (*Service, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.MaxLRU == 0 {
		cfg.MaxLRU = 2048
	}
	if cfg.TopK == 0 {
		cfg.TopK = 3
	}

	var provider Provider
	switch cfg.Provider {
	case "", "http":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("embeddings: http provider requires a base url")
		}
		provider = NewHTTPProvider(cfg.BaseURL, cfg.Model, cfg.Timeout)
	case "hashed":
		if !cfg.AllowHashed {
			return nil, fmt.Errorf("embeddings: hashed provider requires explicit opt-in")
		}
		provider = NewHashedProvider(0)
	default:
		return nil, fmt.Errorf("embeddings: unknown provider %q", cfg.Provider)
	}

	svc := &Service{
		cfg:      cfg,
		provider: provider,
		lru:      NewLocalLRU(cfg.MaxLRU),
		logger:   logger,
	}
	if cfg.RedisAddr != "" {
		shared, err := NewRedisCache(cfg.RedisAddr)
		if err != nil {
			logger.Warn("embedding redis cache unavailable, continuing with local LRU only",
				zap.String("addr", cfg.RedisAddr), zap.Error(err))
		} else {
			svc.shared = shared
		}
	}
	return svc, nil
}

// Embed returns the vector for a text: LRU first, shared cache next, then
// the provider. Fresh vectors are written through both cache levels.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	key := MakeKey(s.provider.Name()+":"+s.cfg.Model, text)

	if v, ok := s.lru.Get(ctx, key); ok {
		metrics.RecordEmbedding("lru_hit", 0)
		return v, nil
	}
	if s.shared != nil {
		if v, ok := s.shared.Get(ctx, key); ok {
			s.lru.Set(ctx, key, v, s.cfg.CacheTTL)
			metrics.RecordEmbedding("cache_hit", 0)
			return v, nil
		}
	}

	start := time.Now()
	v, err := s.provider.Embed(ctx, text)
	if err != nil {
		result := "error"
		if ctx.Err() != nil {
			result = "timeout"
		}
		metrics.RecordEmbedding(result, time.Since(start).Seconds())
		return nil, err
	}
	metrics.RecordEmbedding("ok", time.Since(start).Seconds())

	s.lru.Set(ctx, key, v, s.cfg.CacheTTL)
	if s.shared != nil {
		s.shared.Set(ctx, key, v, s.cfg.CacheTTL)
	}
	return v, nil
}
