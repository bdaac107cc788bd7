package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesPoCDefaultConfig(t *testing.T) {
	cfg := Default()
	pocCfg := cfg.PoCGeneration.ToPoCConfig()

	assert.Equal(t, "likely", pocCfg.MinConfidence)
	assert.Equal(t, 0xAA, pocCfg.SecretFillByte)
	assert.Equal(t, 4096, pocCfg.StackProbeMaxSize)
	assert.Equal(t, 5000, pocCfg.SourceInclusionThreshold)
}

func TestToPoCConfigFallsBackToDefaultsForUnsetFields(t *testing.T) {
	// A PoCGeneration block with only min_confidence set (as if a
	// zeroaudit.yaml author only cared to override that one field) should
	// leave every other field at poc.DefaultConfig's value, not zero.
	p := PoCGeneration{MinConfidence: "confirmed"}
	cfg := p.ToPoCConfig()

	assert.Equal(t, "confirmed", cfg.MinConfidence)
	assert.Equal(t, 0xAA, cfg.SecretFillByte)
	assert.Equal(t, 4096, cfg.StackProbeMaxSize)
	assert.Equal(t, 5000, cfg.SourceInclusionThreshold)
}

func TestLoadConfigOverridesDefaultsFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "zeroaudit.yaml")
	yamlContent := `
version: "1"
analysis:
  exclude_patterns:
    - "vendor/**"
  max_concurrency: 10
mcp:
  available: true
  require_for_advanced: true
poc_generation:
  min_confidence: confirmed
  secret_fill_byte: 170
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Analysis.MaxConcurrency)
	assert.Equal(t, []string{"vendor/**"}, cfg.Analysis.ExcludePatterns)
	assert.True(t, cfg.MCP.Available)
	assert.True(t, cfg.MCP.RequireForAdvanced)
	assert.Equal(t, "confirmed", cfg.PoCGeneration.MinConfidence)

	// stack_probe_max_size and source_inclusion_threshold were omitted from
	// the YAML, so LoadConfig's "start from Default() then unmarshal over
	// it" shape should have left them at their defaults rather than zeroing
	// them out.
	assert.Equal(t, 4096, cfg.PoCGeneration.StackProbeMaxSize)
	assert.Equal(t, 5000, cfg.PoCGeneration.SourceInclusionThreshold)
}

func TestLoadConfigMissingFileReturnsError(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
