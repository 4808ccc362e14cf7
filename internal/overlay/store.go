// Package overlay loads system prompt fragments from a directory and
// serves them by id with content fingerprints.
package overlay

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Overlay is a named prompt fragment.
type Overlay struct {
	ID          string `json:"id"`
	Text        string `json:"-"`
	Fingerprint string `json:"fingerprint"`
	SizeBytes   int    `json:"size_bytes"`
}

type snapshot struct {
	byID     map[string]*Overlay
	loadedAt time.Time
}

// Store holds the overlay directory contents behind an atomic pointer,
// refreshed only on explicit reload.
type Store struct {
	dir    string
	cur    atomic.Pointer[snapshot]
	logger *zap.Logger
}

func NewStore(dir string, logger *zap.Logger) *Store {
	return &Store{dir: dir, logger: logger}
}

// Load reads every file in the directory as one overlay. The id is the
// filename stem; the fingerprint is sha256 over the raw text.
func (s *Store) Load() error {
	if s.dir == "" {
		s.cur.Store(&snapshot{byID: map[string]*Overlay{}, loadedAt: time.Now()})
		return nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read overlay dir %s: %w", s.dir, err)
	}
	byID := make(map[string]*Overlay, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return fmt.Errorf("read overlay %s: %w", e.Name(), err)
		}
		id := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		sum := sha256.Sum256(data)
		byID[id] = &Overlay{
			ID:          id,
			Text:        string(data),
			Fingerprint: "sha256:" + hex.EncodeToString(sum[:]),
			SizeBytes:   len(data),
		}
	}
	s.cur.Store(&snapshot{byID: byID, loadedAt: time.Now()})
	s.logger.Info("overlays loaded", zap.String("dir", s.dir), zap.Int("count", len(byID)))
	return nil
}

// Reload re-reads the directory, replacing the whole snapshot.
func (s *Store) Reload() error { return s.Load() }

// Get returns the overlay for an id.
func (s *Store) Get(id string) (*Overlay, bool) {
	snap := s.cur.Load()
	if snap == nil {
		return nil, false
	}
	o, ok := snap.byID[id]
	return o, ok
}

// Count returns how many overlays are loaded.
func (s *Store) Count() int {
	snap := s.cur.Load()
	if snap == nil {
		return 0
	}
	return len(snap.byID)
}
