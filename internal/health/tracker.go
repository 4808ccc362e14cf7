// Package health keeps rolling per-model latency and error aggregates fed
// by the feedback channel. Scoring reads these to bias routing away from
// struggling upstreams.
package health

import (
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 16

// Snapshot is a point-in-time copy of one model's aggregates.
type Snapshot struct {
	ModelID       string    `json:"model_id"`
	Requests      uint64    `json:"requests"`
	Successes     uint64    `json:"successes"`
	Failures      uint64    `json:"failures"`
	EWMALatencyMs float64   `json:"ewma_latency_ms"`
	EWMAErrorRate float64   `json:"ewma_error_rate"`
	LastUpdated   time.Time `json:"last_updated"`
}

type entry struct {
	mu   sync.Mutex
	snap Snapshot
}

type shard struct {
	mu sync.RWMutex
	m  map[string]*entry
}

// Tracker aggregates feedback per model. Updates for the same model are
// serialized; distinct models only contend on their shard.
type Tracker struct {
	alpha  float64
	shards [shardCount]*shard
}

// NewTracker builds a tracker with the given EWMA smoothing factor.
func NewTracker(alpha float64) *Tracker {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.2
	}
	t := &Tracker{alpha: alpha}
	for i := range t.shards {
		t.shards[i] = &shard{m: make(map[string]*entry)}
	}
	return t
}

func (t *Tracker) shardFor(modelID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(modelID))
	return t.shards[h.Sum32()%shardCount]
}

func (t *Tracker) entryFor(modelID string) *entry {
	sh := t.shardFor(modelID)
	sh.mu.RLock()
	e, ok := sh.m[modelID]
	sh.mu.RUnlock()
	if ok {
		return e
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok = sh.m[modelID]; ok {
		return e
	}
	e = &entry{snap: Snapshot{ModelID: modelID}}
	sh.m[modelID] = e
	return e
}

// Record folds one realized outcome into the model's aggregates.
func (t *Tracker) Record(modelID string, durationMs float64, success bool) {
	e := t.entryFor(modelID)
	e.mu.Lock()
	defer e.mu.Unlock()

	s := &e.snap
	if s.Requests == 0 {
		// First observation seeds the latency average directly.
		s.EWMALatencyMs = durationMs
	} else {
		s.EWMALatencyMs = t.alpha*durationMs + (1-t.alpha)*s.EWMALatencyMs
	}
	fail := 1.0
	if success {
		fail = 0.0
	}
	s.EWMAErrorRate = t.alpha*fail + (1-t.alpha)*s.EWMAErrorRate
	s.Requests++
	if success {
		s.Successes++
	} else {
		s.Failures++
	}
	s.LastUpdated = time.Now()
}

// Lookup returns a copy of the model's aggregates; ok is false when the
// model has never received feedback, in which case callers fall back to
// catalog SLOs.
func (t *Tracker) Lookup(modelID string) (Snapshot, bool) {
	sh := t.shardFor(modelID)
	sh.mu.RLock()
	e, ok := sh.m[modelID]
	sh.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap, true
}

// All returns copies of every tracked model's aggregates.
func (t *Tracker) All() []Snapshot {
	var out []Snapshot
	for _, sh := range t.shards {
		sh.mu.RLock()
		entries := make([]*entry, 0, len(sh.m))
		for _, e := range sh.m {
			entries = append(entries, e)
		}
		sh.mu.RUnlock()
		for _, e := range entries {
			e.mu.Lock()
			out = append(out, e.snap)
			e.mu.Unlock()
		}
	}
	return out
}
