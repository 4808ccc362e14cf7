package embeddings

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testBank = `
tasks:
  - id: algebra-identity
    text: "prove an algebra identity"
    preferred_model: gpt-5-mini
    weight: 1.2
    tags: [math]
  - id: essay-feedback
    text: "give feedback on a student essay"
    preferred_model: claude-3-sonnet
    weight: 1.0
  - id: algebra-word-problem
    text: "solve an algebra word problem"
    preferred_model: gpt-5-mini
    weight: 0.8
`

func writeBank(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "canonical.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testSelector(t *testing.T) *Selector {
	t.Helper()
	svc := hashedService(t, "")
	sel, err := NewSelector(context.Background(), svc, writeBank(t, testBank), zap.NewNop())
	require.NoError(t, err)
	return sel
}

func TestSelectorMatchesExactText(t *testing.T) {
	sel := testSelector(t)

	s, err := sel.Select(context.Background(), "prove an algebra identity", 3, 0.2)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "gpt-5-mini", s.ModelID)
	assert.Contains(t, s.CanonicalIDs, "algebra-identity")
	// similarity 1.0 x weight 1.2
	assert.InDelta(t, 1.2, s.Score, 0.3)
}

func TestSelectorEmptySummary(t *testing.T) {
	sel := testSelector(t)
	s, err := sel.Select(context.Background(), "", 3, 0.2)
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestSelectorFloorFiltersEverything(t *testing.T) {
	sel := testSelector(t)
	// A floor above 1 can never be met.
	s, err := sel.Select(context.Background(), "prove an algebra identity", 3, 1.5)
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestSelectionKeyStable(t *testing.T) {
	a := &Selection{ModelID: "m", CanonicalIDs: []string{"x", "y"}, Score: 0.9}
	b := &Selection{ModelID: "m", CanonicalIDs: []string{"y", "x"}, Score: 0.4}
	// Score and id order do not fragment the plan cache.
	assert.Equal(t, a.Key(), b.Key())

	c := &Selection{ModelID: "other", CanonicalIDs: []string{"x", "y"}}
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestSelectorRejectsBadBank(t *testing.T) {
	svc := hashedService(t, "")

	_, err := NewSelector(context.Background(), svc, writeBank(t, "tasks: []"), zap.NewNop())
	assert.ErrorContains(t, err, "empty")

	_, err = NewSelector(context.Background(), svc, writeBank(t, "tasks:\n  - id: x\n    text: \"\"\n    preferred_model: m"), zap.NewNop())
	assert.Error(t, err)

	_, err = NewSelector(context.Background(), svc, filepath.Join(t.TempDir(), "missing.yaml"), zap.NewNop())
	assert.Error(t, err)
}
