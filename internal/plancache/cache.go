// Package plancache holds assembled route plans keyed by the semantically
// relevant dimensions of a request. Entries die by TTL, LRU pressure,
// revision mismatch or freeze-key invalidation.
package plancache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/labiium/edurouter/internal/metrics"
)

// State tags the outcome of a cache lookup.
type State string

const (
	StateHit   State = "hit"
	StateMiss  State = "miss"
	StateStale State = "stale"
)

// Key captures every dimension that makes two requests plan-equivalent.
type Key struct {
	Alias        string
	PolicyRev    string
	CatalogRev   string
	API          string
	PrivacyMode  string
	OverlayFP    string
	Caps         []string
	RegionBucket string
	EstBucket    string
	TeacherBoost bool
	CanonicalKey string
	FreezeKey    string
}

// Hash renders the key as a stable digest. Caps are sorted so set order
// never splits the cache.
func (k Key) Hash() string {
	caps := append([]string(nil), k.Caps...)
	sort.Strings(caps)
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%s|%s|%s|%s|%s|%s|%s|%t|%s|%s",
		k.Alias, k.PolicyRev, k.CatalogRev, k.API, k.PrivacyMode,
		k.OverlayFP, strings.Join(caps, ","), k.RegionBucket, k.EstBucket,
		k.TeacherBoost, k.CanonicalKey, k.FreezeKey)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// EstimateBucket buckets a token total by powers of two so near-identical
// estimates share a plan.
func EstimateBucket(promptTokens, maxOutputTokens int) string {
	total := promptTokens + maxOutputTokens
	if total <= 0 {
		return "0"
	}
	bucket := 1
	for bucket < total {
		bucket <<= 1
	}
	return fmt.Sprintf("%d", bucket)
}

// Entry is one cached plan with its validity envelope.
type Entry struct {
	Plan       any
	InsertedAt time.Time
	TTL        time.Duration
	ValidUntil time.Time
	FreezeKey  string
	PolicyRev  string
	CatalogRev string
}

type item struct {
	hash  string
	entry Entry
}

// Cache is a bounded LRU with TTL and revision-aware lookups. A single
// mutex guards the map and recency list; entries are small and lookups
// are O(1) so contention stays low.
type Cache struct {
	mu   sync.Mutex
	cap  int
	ll   *list.List
	m    map[string]*list.Element
	byFK map[string]map[string]struct{} // freeze key -> hashes
}

func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 4096
	}
	return &Cache{
		cap:  capacity,
		ll:   list.New(),
		m:    make(map[string]*list.Element, capacity),
		byFK: make(map[string]map[string]struct{}),
	}
}

// Lookup finds the entry for a key and classifies it against the current
// revisions. TTL-expired entries are evicted and report a miss; revision
// mismatches report stale and are left for the subsequent insert to
// overwrite.
func (c *Cache) Lookup(k Key, policyRev, catalogRev string, now time.Time) (Entry, State) {
	hash := k.Hash()
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.m[hash]
	if !ok {
		return Entry{}, StateMiss
	}
	it := el.Value.(*item)
	if now.After(it.entry.InsertedAt.Add(it.entry.TTL)) {
		c.removeLocked(el, "ttl")
		return Entry{}, StateMiss
	}
	if it.entry.PolicyRev != policyRev || it.entry.CatalogRev != catalogRev {
		return it.entry, StateStale
	}
	c.ll.MoveToFront(el)
	return it.entry, StateHit
}

// Insert stores a plan under the key, evicting the LRU entry when full.
func (c *Cache) Insert(k Key, e Entry) {
	hash := k.Hash()
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.m[hash]; ok {
		c.unindexLocked(el.Value.(*item))
		el.Value = &item{hash: hash, entry: e}
		c.indexLocked(hash, e.FreezeKey)
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&item{hash: hash, entry: e})
	c.m[hash] = el
	c.indexLocked(hash, e.FreezeKey)
	if c.ll.Len() > c.cap {
		if back := c.ll.Back(); back != nil {
			c.removeLocked(back, "lru")
		}
	}
	metrics.PlanCacheSize.Set(float64(c.ll.Len()))
}

// InvalidateByFreezeKey evicts every plan stamped with the freeze key and
// returns how many were dropped.
func (c *Cache) InvalidateByFreezeKey(fk string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	hashes, ok := c.byFK[fk]
	if !ok {
		return 0
	}
	n := 0
	for h := range hashes {
		if el, ok := c.m[h]; ok {
			c.removeLocked(el, "freeze")
			n++
		}
	}
	return n
}

// Clear drops everything. Called on any policy or catalog reload.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.ll.Len()
	c.ll.Init()
	c.m = make(map[string]*list.Element, c.cap)
	c.byFK = make(map[string]map[string]struct{})
	if n > 0 {
		metrics.PlanCacheEvictions.WithLabelValues("clear").Add(float64(n))
	}
	metrics.PlanCacheSize.Set(0)
}

// Len reports the live entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *Cache) indexLocked(hash, fk string) {
	if fk == "" {
		return
	}
	set, ok := c.byFK[fk]
	if !ok {
		set = make(map[string]struct{})
		c.byFK[fk] = set
	}
	set[hash] = struct{}{}
}

func (c *Cache) unindexLocked(it *item) {
	if set, ok := c.byFK[it.entry.FreezeKey]; ok {
		delete(set, it.hash)
		if len(set) == 0 {
			delete(c.byFK, it.entry.FreezeKey)
		}
	}
}

func (c *Cache) removeLocked(el *list.Element, cause string) {
	it := el.Value.(*item)
	c.unindexLocked(it)
	delete(c.m, it.hash)
	c.ll.Remove(el)
	metrics.PlanCacheEvictions.WithLabelValues(cause).Inc()
	metrics.PlanCacheSize.Set(float64(c.ll.Len()))
}
