package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPromptPack(t *testing.T) {
	pack := DefaultPromptPack()

	assert.NotEmpty(t, pack.AnalysisSystem)
	assert.NotEmpty(t, pack.Analysis)
	assert.NotEmpty(t, pack.Classification)
	assert.NotEmpty(t, pack.ImmediatePlaybook)
	assert.NotEmpty(t, pack.InvestigationPlaybook)

	// Every prompt demands strict JSON and names the taxonomy it expects
	assert.Contains(t, pack.Analysis, "securityEventType")
	assert.Contains(t, pack.Analysis, "requires_investigation")
	assert.Contains(t, pack.Classification, "reasoning")
	assert.Contains(t, pack.ImmediatePlaybook, "steps")
	assert.Contains(t, pack.InvestigationPlaybook, "steps")
}

func TestLoadPromptPack_MissingFile(t *testing.T) {
	pack, err := LoadPromptPack(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultPromptPack().Analysis, pack.Analysis)

	pack, err = LoadPromptPack("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPromptPack().Analysis, pack.Analysis)
}

func TestLoadPromptPack_PartialOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompts.yaml")
	content := strings.Join([]string{
		`analysisSystem: "Custom system prompt"`,
		`immediatePlaybook: "Custom immediate template %s %d %s %s %s"`,
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	pack, err := LoadPromptPack(path)
	require.NoError(t, err)

	assert.Equal(t, "Custom system prompt", pack.AnalysisSystem)
	assert.Contains(t, pack.ImmediatePlaybook, "Custom immediate template")
	// Untouched templates keep their defaults
	assert.Equal(t, DefaultPromptPack().Analysis, pack.Analysis)
	assert.Equal(t, DefaultPromptPack().InvestigationPlaybook, pack.InvestigationPlaybook)
}

func TestLoadPromptPack_MalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("analysis: [unclosed"), 0o600))

	_, err := LoadPromptPack(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing prompt pack")
}
