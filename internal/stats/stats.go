// Package stats keeps the monotonic counters surfaced on /stats. The
// request and cache counters are atomics; the per-model share and per-code
// error maps sit behind a mutex that snapshots also take.
package stats

import (
	"sync"
	"sync/atomic"
)

// Aggregator accumulates request outcomes for the lifetime of the process.
type Aggregator struct {
	totalRequests atomic.Uint64
	cacheHits     atomic.Uint64
	cacheMisses   atomic.Uint64
	cacheStale    atomic.Uint64

	mu         sync.Mutex
	modelShare map[string]uint64
	errorCodes map[string]uint64
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		modelShare: make(map[string]uint64),
		errorCodes: make(map[string]uint64),
	}
}

// CountPlan records one successful plan with its cache outcome and primary.
func (a *Aggregator) CountPlan(cacheState, modelID string) {
	a.totalRequests.Add(1)
	switch cacheState {
	case "hit":
		a.cacheHits.Add(1)
	case "stale":
		a.cacheStale.Add(1)
	default:
		a.cacheMisses.Add(1)
	}
	a.mu.Lock()
	a.modelShare[modelID]++
	a.mu.Unlock()
}

// CountError records a rejected plan by taxonomy code.
func (a *Aggregator) CountError(code string) {
	a.totalRequests.Add(1)
	a.mu.Lock()
	a.errorCodes[code]++
	a.mu.Unlock()
}

// Snapshot is the JSON shape returned by /stats.
type Snapshot struct {
	TotalRequests uint64            `json:"total_requests"`
	CacheHits     uint64            `json:"cache_hits"`
	CacheMisses   uint64            `json:"cache_misses"`
	CacheStale    uint64            `json:"cache_stale"`
	CacheHitRatio float64           `json:"cache_hit_ratio"`
	ErrorRate     float64           `json:"error_rate"`
	ModelShare    map[string]uint64 `json:"model_share"`
	ErrorsByCode  map[string]uint64 `json:"errors_by_code"`
}

// Snapshot copies the current counters.
func (a *Aggregator) Snapshot() Snapshot {
	s := Snapshot{
		TotalRequests: a.totalRequests.Load(),
		CacheHits:     a.cacheHits.Load(),
		CacheMisses:   a.cacheMisses.Load(),
		CacheStale:    a.cacheStale.Load(),
		ModelShare:    make(map[string]uint64),
		ErrorsByCode:  make(map[string]uint64),
	}
	a.mu.Lock()
	var errs uint64
	for k, v := range a.modelShare {
		s.ModelShare[k] = v
	}
	for k, v := range a.errorCodes {
		s.ErrorsByCode[k] = v
		errs += v
	}
	a.mu.Unlock()
	if s.TotalRequests > 0 {
		s.CacheHitRatio = float64(s.CacheHits) / float64(s.TotalRequests)
		s.ErrorRate = float64(errs) / float64(s.TotalRequests)
	}
	return s
}
