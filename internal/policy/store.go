package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/labiium/edurouter/internal/catalog"
)

// CompiledAlias is an alias with its candidate strings resolved to catalog
// indices, so planning is pure index lookup.
type CompiledAlias struct {
	Name           string
	Candidates     []int // indices into the catalog snapshot this was compiled against
	CandidateIDs   []string
	RequireCaps    []string
	AllowedRegions []string
	OverlayID      string
	Tiers          map[string]string
}

// Snapshot is an immutable compiled policy bound to the catalog snapshot
// it was compiled against.
type Snapshot struct {
	Revision    string
	Doc         Document
	Aliases     map[string]*CompiledAlias
	Uncertainty []*regexp.Regexp
	Catalog     *catalog.Snapshot
	LoadedAt    time.Time
}

// TierWeight returns the bonus multiplier for a tier name, 0 when unset.
func (s *Snapshot) TierWeight(tier string) float64 {
	if tier == "" || s.Doc.TierWeights == nil {
		return 0
	}
	return s.Doc.TierWeights[tier]
}

// Store holds the compiled policy behind an atomic pointer.
type Store struct {
	cur    atomic.Pointer[Snapshot]
	logger *zap.Logger
}

func NewStore(logger *zap.Logger) *Store {
	return &Store{logger: logger}
}

// Current returns the live compiled policy, nil when unloaded.
func (s *Store) Current() *Snapshot { return s.cur.Load() }

// Revision returns the live revision string, empty when unloaded.
func (s *Store) Revision() string {
	if snap := s.cur.Load(); snap != nil {
		return snap.Revision
	}
	return ""
}

// LoadFile reads, compiles and installs a policy document from yaml.
func (s *Store) LoadFile(path string, cat *catalog.Snapshot) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse policy %s: %w", path, err)
	}
	return s.Replace(&doc, cat)
}

// Replace compiles the document against the catalog snapshot and swaps it
// in atomically. Compilation failure leaves the previous policy untouched.
func (s *Store) Replace(doc *Document, cat *catalog.Snapshot) (*Snapshot, error) {
	snap, err := Compile(doc, cat)
	if err != nil {
		return nil, err
	}
	s.Install(snap)
	return snap, nil
}

// Install swaps in a snapshot compiled earlier.
func (s *Store) Install(snap *Snapshot) {
	s.cur.Store(snap)
	s.logger.Info("policy replaced",
		zap.String("revision", snap.Revision),
		zap.Int("aliases", len(snap.Aliases)),
	)
}

// Compile resolves every alias candidate to a catalog index and builds the
// escalation matchers. Any unresolved candidate fails the whole compile so
// a partial policy never becomes visible.
func Compile(doc *Document, cat *catalog.Snapshot) (*Snapshot, error) {
	if cat == nil {
		return nil, fmt.Errorf("compile policy: no catalog loaded")
	}
	if len(doc.Aliases) == 0 {
		return nil, fmt.Errorf("compile policy: no aliases defined")
	}
	doc.Defaults.Normalize()

	aliases := make(map[string]*CompiledAlias, len(doc.Aliases))
	for name, a := range doc.Aliases {
		if len(a.Candidates) == 0 {
			return nil, fmt.Errorf("alias %q has no candidates", name)
		}
		ca := &CompiledAlias{
			Name:           name,
			Candidates:     make([]int, 0, len(a.Candidates)),
			CandidateIDs:   a.Candidates,
			RequireCaps:    a.RequireCaps,
			AllowedRegions: a.AllowedRegions,
			OverlayID:      a.OverlayID,
			Tiers:          a.Tiers,
		}
		for _, id := range a.Candidates {
			idx, ok := cat.Index(id)
			if !ok {
				return nil, fmt.Errorf("alias %q references unknown model %q", name, id)
			}
			ca.Candidates = append(ca.Candidates, idx)
		}
		aliases[name] = ca
	}

	var uncertainty []*regexp.Regexp
	for _, pat := range doc.Escalation.UncertaintyPatterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, fmt.Errorf("uncertainty pattern %q: %w", pat, err)
		}
		uncertainty = append(uncertainty, re)
	}

	rev := doc.Revision
	if rev == "" {
		rev = canonicalRevision(doc)
	}
	return &Snapshot{
		Revision:    rev,
		Doc:         *doc,
		Aliases:     aliases,
		Uncertainty: uncertainty,
		Catalog:     cat,
		LoadedAt:    time.Now(),
	}, nil
}

func canonicalRevision(doc *Document) string {
	stripped := *doc
	stripped.Revision = ""
	b, _ := yaml.Marshal(&stripped)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16]
}
