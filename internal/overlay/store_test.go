package overlay

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeOverlay(t *testing.T, dir, name, text string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(text), 0o644))
}

func TestLoadReadsDirectory(t *testing.T) {
	dir := t.TempDir()
	writeOverlay(t, dir, "tutor.md", "You are a patient tutor.")
	writeOverlay(t, dir, "grader.txt", "Grade strictly.")

	s := NewStore(dir, zap.NewNop())
	require.NoError(t, s.Load())
	assert.Equal(t, 2, s.Count())

	o, ok := s.Get("tutor")
	require.True(t, ok)
	assert.Equal(t, "You are a patient tutor.", o.Text)
	assert.Equal(t, len(o.Text), o.SizeBytes)
	assert.True(t, strings.HasPrefix(o.Fingerprint, "sha256:"))
	assert.Len(t, strings.TrimPrefix(o.Fingerprint, "sha256:"), 64)
}

func TestFingerprintTracksContent(t *testing.T) {
	dir := t.TempDir()
	writeOverlay(t, dir, "a.md", "one")
	s := NewStore(dir, zap.NewNop())
	require.NoError(t, s.Load())
	before, _ := s.Get("a")

	writeOverlay(t, dir, "a.md", "two")
	require.NoError(t, s.Reload())
	after, _ := s.Get("a")
	assert.NotEqual(t, before.Fingerprint, after.Fingerprint)
}

func TestMissingOverlay(t *testing.T) {
	s := NewStore(t.TempDir(), zap.NewNop())
	require.NoError(t, s.Load())
	_, ok := s.Get("nope")
	assert.False(t, ok)
}

func TestEmptyDirConfig(t *testing.T) {
	s := NewStore("", zap.NewNop())
	require.NoError(t, s.Load())
	assert.Equal(t, 0, s.Count())
}

func TestGetBeforeLoad(t *testing.T) {
	s := NewStore(t.TempDir(), zap.NewNop())
	_, ok := s.Get("anything")
	assert.False(t, ok)
}
