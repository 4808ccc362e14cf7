package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/labiium/edurouter/internal/metrics"
)

// CanonicalTask is one curated exemplar with a preferred model.
type CanonicalTask struct {
	ID             string   `yaml:"id"`
	Text           string   `yaml:"text"`
	PreferredModel string   `yaml:"preferred_model"`
	Weight         float64  `yaml:"weight"`
	Tags           []string `yaml:"tags,omitempty"`
}

type canonicalBank struct {
	Tasks []CanonicalTask `yaml:"tasks"`
}

type bankEntry struct {
	task CanonicalTask
	vec  []float32
}

// Selection is the outcome of biasing a summary against the bank.
type Selection struct {
	ModelID      string
	Score        float64
	CanonicalIDs []string
}

// Key renders the selection for the plan cache key. The continuous score
// is deliberately excluded so it cannot fragment the cache.
func (s *Selection) Key() string {
	ids := append([]string(nil), s.CanonicalIDs...)
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(s.ModelID + "|" + strings.Join(ids, ",")))
	return hex.EncodeToString(sum[:])[:16]
}

// Selector embeds incoming summaries and matches them against the
// canonical task bank, nudging scoring toward historically strong models.
type Selector struct {
	svc    *Service
	bank   []bankEntry
	logger *zap.Logger
}

// NewSelector loads and embeds the canonical bank. Bank vectors are
// L2-normalized once so selection is a plain dot-product scan; a linear
// scan is sufficient for banks of a few thousand entries.
func NewSelector(ctx context.Context, svc *Service, path string, logger *zap.Logger) (*Selector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read canonical bank %s: %w", path, err)
	}
	var bank canonicalBank
	if err := yaml.Unmarshal(data, &bank); err != nil {
		return nil, fmt.Errorf("parse canonical bank %s: %w", path, err)
	}
	if len(bank.Tasks) == 0 {
		return nil, fmt.Errorf("canonical bank %s is empty", path)
	}

	sel := &Selector{svc: svc, logger: logger}
	for _, task := range bank.Tasks {
		if task.Text == "" || task.PreferredModel == "" {
			return nil, fmt.Errorf("canonical task %q needs text and preferred_model", task.ID)
		}
		if task.Weight <= 0 {
			task.Weight = 1.0
		}
		vec, err := svc.Embed(ctx, task.Text)
		if err != nil {
			return nil, fmt.Errorf("embed canonical task %q: %w", task.ID, err)
		}
		vec = append([]float32(nil), vec...)
		Normalize(vec)
		sel.bank = append(sel.bank, bankEntry{task: task, vec: vec})
	}
	logger.Info("canonical task bank loaded", zap.String("path", path), zap.Int("tasks", len(sel.bank)))
	return sel, nil
}

// Select embeds the summary, retains the top-k bank matches above the
// similarity floor and aggregates them by preferred model, summing
// similarity x weight. Returns nil when nothing clears the floor.
func (s *Selector) Select(ctx context.Context, summary string, topK int, floor float64) (*Selection, error) {
	if summary == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = s.svc.cfg.TopK
	}
	vec, err := s.svc.Embed(ctx, summary)
	if err != nil {
		return nil, err
	}
	vec = append([]float32(nil), vec...)
	Normalize(vec)

	type match struct {
		entry *bankEntry
		sim   float64
	}
	var matches []match
	for i := range s.bank {
		sim := Dot(vec, s.bank[i].vec)
		if sim >= floor {
			matches = append(matches, match{entry: &s.bank[i], sim: sim})
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].sim > matches[j].sim })
	if len(matches) > topK {
		matches = matches[:topK]
	}

	agg := make(map[string]float64)
	ids := make(map[string][]string)
	for _, m := range matches {
		model := m.entry.task.PreferredModel
		agg[model] += m.sim * m.entry.task.Weight
		ids[model] = append(ids[model], m.entry.task.ID)
	}

	var best string
	var bestScore float64
	for model, score := range agg {
		if score > bestScore || (score == bestScore && model < best) {
			best, bestScore = model, score
		}
	}
	metrics.CanonicalSelections.WithLabelValues(best).Inc()
	return &Selection{ModelID: best, Score: bestScore, CanonicalIDs: ids[best]}, nil
}
