package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Snapshot is an immutable view of the catalog. Readers capture one at
// entry and use it for the whole call; swaps never invalidate a snapshot
// mid-plan.
type Snapshot struct {
	Revision string
	Models   []Entry
	LoadedAt time.Time

	byID map[string]int
}

// Lookup returns the entry for a model id.
func (s *Snapshot) Lookup(id string) (*Entry, bool) {
	if s == nil {
		return nil, false
	}
	i, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return &s.Models[i], true
}

// Index returns the positional index for a model id, for policy compilation.
func (s *Snapshot) Index(id string) (int, bool) {
	i, ok := s.byID[id]
	return i, ok
}

// At returns the entry at a compiled index.
func (s *Snapshot) At(i int) *Entry { return &s.Models[i] }

// Store holds the current catalog snapshot behind an atomic pointer so the
// plan hot path never takes a lock.
type Store struct {
	cur    atomic.Pointer[Snapshot]
	logger *zap.Logger
}

func NewStore(logger *zap.Logger) *Store {
	return &Store{logger: logger}
}

// Current returns the live snapshot, or nil when nothing has been loaded.
func (s *Store) Current() *Snapshot { return s.cur.Load() }

// Revision returns the live revision string, empty when unloaded.
func (s *Store) Revision() string {
	if snap := s.cur.Load(); snap != nil {
		return snap.Revision
	}
	return ""
}

// LoadFile reads and installs a catalog document from a yaml file.
func (s *Store) LoadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return s.Replace(&doc)
}

// Replace validates the document, computes its revision and atomically
// swaps it in. The previous snapshot stays valid for in-flight plans.
func (s *Store) Replace(doc *Document) (*Snapshot, error) {
	snap, err := Build(doc)
	if err != nil {
		return nil, err
	}
	s.Install(snap)
	return snap, nil
}

// Install swaps in a snapshot built earlier, for callers that need to
// validate a catalog and a policy together before either becomes visible.
func (s *Store) Install(snap *Snapshot) {
	s.cur.Store(snap)
	s.logger.Info("catalog replaced",
		zap.String("revision", snap.Revision),
		zap.Int("models", len(snap.Models)),
	)
}

// Build validates a document and derives its snapshot without installing it.
func Build(doc *Document) (*Snapshot, error) {
	if len(doc.Models) == 0 {
		return nil, fmt.Errorf("catalog has no models")
	}
	byID := make(map[string]int, len(doc.Models))
	for i := range doc.Models {
		m := &doc.Models[i]
		if m.ID == "" {
			return nil, fmt.Errorf("catalog model at index %d has no id", i)
		}
		if _, dup := byID[m.ID]; dup {
			return nil, fmt.Errorf("duplicate catalog model %q", m.ID)
		}
		if m.Status == "" {
			m.Status = StatusHealthy
		}
		switch m.Status {
		case StatusHealthy, StatusDegraded, StatusDisabled:
		default:
			return nil, fmt.Errorf("catalog model %q has invalid status %q", m.ID, m.Status)
		}
		byID[m.ID] = i
	}
	rev := doc.Revision
	if rev == "" {
		rev = canonicalRevision(doc)
	}
	return &Snapshot{
		Revision: rev,
		Models:   doc.Models,
		LoadedAt: time.Now(),
		byID:     byID,
	}, nil
}

// canonicalRevision derives a deterministic revision id from the document
// content: sha256 over the re-marshaled yaml, truncated for header use.
func canonicalRevision(doc *Document) string {
	stripped := *doc
	stripped.Revision = ""
	b, _ := yaml.Marshal(&stripped)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16]
}
