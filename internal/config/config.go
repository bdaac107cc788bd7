package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/archguard/zeroaudit/internal/poc"
)

// Config is the parsed zeroaudit.yaml. It mirrors the teacher's
// Config/yaml.v3 loading shape, with the LLM/vector-store blocks replaced by
// the zeroization engine's own analysis/mcp/poc_generation sections.
type Config struct {
	Version       string        `yaml:"version"`
	Analysis      Analysis      `yaml:"analysis"`
	MCP           MCP           `yaml:"mcp"`
	PoCGeneration PoCGeneration `yaml:"poc_generation"`
}

// Analysis configures how many files the cfg/mir/asm subcommands analyze
// concurrently. ExcludePatterns is loaded and written by `init` but not
// applied: `scan` walks every .rs file under its root.
type Analysis struct {
	ExcludePatterns []string `yaml:"exclude_patterns"`
	MaxConcurrency  int      `yaml:"max_concurrency"`
}

// MCP configures the engine's optional external semantic-evidence source.
// Available must be true for `zeroaudit mcp-fetch` to query a provider. The
// `gate` subcommand does not read this block; it takes its own
// --mcp-available and --require-mcp-for-advanced flags. Provider/Model/BaseURL/Temperature
// mirror the teacher's LLM config block exactly -- this engine's one use
// of an LLM is fetching semantic evidence (internal/llm.FetchSemanticEvidence)
// rather than ADR-drift analysis, but the provider selection shape carries
// over unchanged.
type MCP struct {
	Available          bool    `yaml:"available"`
	RequireForAdvanced bool    `yaml:"require_for_advanced"`
	Provider           string  `yaml:"provider"`
	Model              string  `yaml:"model"`
	BaseURL            string  `yaml:"base_url"`
	Temperature        float64 `yaml:"temperature"`
}

// PoCGeneration configures the PoC synthesizer. Field names and defaults
// mirror the Python original's `poc_generation` config block exactly.
type PoCGeneration struct {
	MinConfidence            string `yaml:"min_confidence"`
	SecretFillByte           int    `yaml:"secret_fill_byte"`
	StackProbeMaxSize        int    `yaml:"stack_probe_max_size"`
	SourceInclusionThreshold int    `yaml:"source_inclusion_threshold"`
}

// ToPoCConfig adapts the YAML-facing PoCGeneration block into the
// internal/poc package's Config, falling back to poc.DefaultConfig for any
// field left at its zero value so an absent poc_generation block behaves
// exactly like the defaults the Python original hard-codes.
func (p PoCGeneration) ToPoCConfig() poc.Config {
	cfg := poc.DefaultConfig()
	if p.MinConfidence != "" {
		cfg.MinConfidence = p.MinConfidence
	}
	if p.SecretFillByte != 0 {
		cfg.SecretFillByte = p.SecretFillByte
	}
	if p.StackProbeMaxSize != 0 {
		cfg.StackProbeMaxSize = p.StackProbeMaxSize
	}
	if p.SourceInclusionThreshold != 0 {
		cfg.SourceInclusionThreshold = p.SourceInclusionThreshold
	}
	return cfg
}

// Default returns the configuration a fresh `zeroaudit init` writes: no
// exclude patterns beyond the usual noise, MCP unavailable until the caller
// wires one in, and the Python original's poc_generation defaults.
func Default() Config {
	return Config{
		Version: "1",
		Analysis: Analysis{
			ExcludePatterns: []string{"**/*_test.rs", "target/**", "vendor/**"},
			MaxConcurrency:  5,
		},
		MCP: MCP{
			Available:          false,
			RequireForAdvanced: false,
			Provider:           "mock",
			Model:              "gpt-4o-mini",
			Temperature:        0.0,
		},
		PoCGeneration: PoCGeneration{
			MinConfidence:            "likely",
			SecretFillByte:           0xAA,
			StackProbeMaxSize:        4096,
			SourceInclusionThreshold: 5000,
		},
	}
}

// LoadConfig reads and parses a zeroaudit.yaml file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}
