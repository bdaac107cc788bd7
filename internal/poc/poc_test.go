package poc

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/archguard/zeroaudit/internal/finding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSrc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestUseSourceInclusionRejectsFilesOverTokenBudget(t *testing.T) {
	srcDir := t.TempDir()

	// Well under the line threshold, but a single line long enough to blow
	// the token budget on its own.
	huge := strings.Repeat("x", (maxInclusionTokens+1)*4)
	src := writeSrc(t, srcDir, "generated.c", "int blob[] = {"+huge+"};\n")

	assert.False(t, useSourceInclusion(src, DefaultConfig().SourceInclusionThreshold))
}

func TestUseSourceInclusionAllowsSmallFiles(t *testing.T) {
	srcDir := t.TempDir()
	src := writeSrc(t, srcDir, "small.c", "void wipe_key(unsigned char *key) {\n  memset(key, 0, 32);\n}\n")

	assert.True(t, useSourceInclusion(src, DefaultConfig().SourceInclusionThreshold))
}

func TestFilterFindingsByCategoryAndConfidence(t *testing.T) {
	findings := []finding.Finding{
		{ID: "F-1", Category: finding.MissingSourceZeroize, Confidence: finding.Confirmed},
		{ID: "F-2", Category: finding.MissingSourceZeroize, Confidence: finding.NeedsReview},
		{ID: "F-3", Category: finding.AnalysisSkipped, Confidence: finding.Confirmed},
	}
	likely := finding.Likely
	out := FilterFindings(findings, map[finding.Category]bool{finding.MissingSourceZeroize: true}, &likely)
	require.Len(t, out, 1)
	assert.Equal(t, "F-1", out[0].ID)
}

func TestFilterFindingsNilThresholdKeepsAll(t *testing.T) {
	findings := []finding.Finding{
		{ID: "F-1", Category: finding.StackRetention, Confidence: finding.NeedsReview},
	}
	out := FilterFindings(findings, map[finding.Category]bool{finding.StackRetention: true}, nil)
	require.Len(t, out, 1)
}

func TestFilterFindingsGatedDowngradesEffectiveConfidence(t *testing.T) {
	findings := []finding.Finding{
		{ID: "F-1", Category: finding.StackRetention, Confidence: finding.Confirmed, NeedsReview: true},
	}
	confirmed := finding.Confirmed
	out := FilterFindings(findings, map[finding.Category]bool{finding.StackRetention: true}, &confirmed)
	assert.Empty(t, out)
}

func TestLoadFindingsBareArray(t *testing.T) {
	out, err := LoadFindings([]byte(`[{"id":"F-1","category":"STACK_RETENTION"}]`))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "F-1", out[0].ID)
}

func TestLoadFindingsWrappedEnvelope(t *testing.T) {
	out, err := LoadFindings([]byte(`{"findings":[{"id":"F-1","category":"STACK_RETENTION"}]}`))
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestGenerateCommonHeaderUsesConfiguredFillByte(t *testing.T) {
	h := GenerateCommonHeader(Config{SecretFillByte: 0x41, StackProbeMaxSize: 2048})
	assert.Contains(t, h, "SECRET_FILL_BYTE 0x41")
	assert.Contains(t, h, "STACK_PROBE_MAX  2048")
}

func TestRunNoExploitableFindings(t *testing.T) {
	dir := t.TempDir()
	findings := []finding.Finding{{ID: "F-1", Category: finding.AnalysisSkipped}}
	_, err := Run(findings, dir, nil, DefaultConfig(), false, nil, "")
	assert.ErrorIs(t, err, ErrNoExploitableFindings)
}

func TestRunGeneratesMissingSourceZeroizePoC(t *testing.T) {
	srcDir := t.TempDir()
	src := writeSrc(t, srcDir, "crypto.c", "void wipe_key(unsigned char *key) {\n  memset(key, 0, 32);\n}\n")
	outDir := t.TempDir()

	findings := []finding.Finding{
		{
			ID:         "F-RUST-SRC-0001",
			Category:   finding.MissingSourceZeroize,
			Confidence: finding.Confirmed,
			Symbol:     "wipe_key",
			Location:   finding.Location{File: src, Line: 2},
		},
	}

	manifest, err := Run(findings, outDir, nil, DefaultConfig(), false, nil, "")
	require.NoError(t, err)
	assert.Equal(t, 1, manifest.PocsGenerated)
	assert.Equal(t, 1, manifest.PocsRequiringAdjustment)
	assert.NotEmpty(t, manifest.RunID)

	assert.FileExists(t, filepath.Join(outDir, "poc_common.h"))
	assert.FileExists(t, filepath.Join(outDir, "Makefile"))
	assert.FileExists(t, filepath.Join(outDir, "poc_manifest.json"))

	require.Len(t, manifest.Entries, 1)
	entry := manifest.Entries[0]
	assert.Equal(t, "F-RUST-SRC-0001", entry.FindingID)
	assert.True(t, entry.RequiresManualAdjustment)

	pocSource, err := os.ReadFile(filepath.Join(outDir, entry.File))
	require.NoError(t, err)
	assert.Contains(t, string(pocSource), "wipe_key(/* TODO: fill in arguments */);")
	assert.Contains(t, string(pocSource), `#include "poc_common.h"`)

	makefile, err := os.ReadFile(filepath.Join(outDir, "Makefile"))
	require.NoError(t, err)
	assert.Contains(t, string(makefile), "-O0")
}

func TestOptimizedAwayZeroizePoCUsesDiffSummaryOptLevel(t *testing.T) {
	srcDir := t.TempDir()
	src := writeSrc(t, srcDir, "crypto.c", "void wipe_key(unsigned char *key) {}\n")
	outDir := t.TempDir()

	findings := []finding.Finding{
		{
			ID:               "F-RUST-IR-0002",
			Category:         finding.OptimizedAwayZeroize,
			Confidence:       finding.Confirmed,
			Symbol:           "wipe_key",
			Location:         finding.Location{File: src, Line: 1},
			CompilerEvidence: &finding.CompilerEvidence{DiffSummary: "volatile store present at O0, dropped at O2"},
		},
	}

	manifest, err := Run(findings, outDir, nil, DefaultConfig(), false, nil, "")
	require.NoError(t, err)
	require.Len(t, manifest.Entries, 1)
	assert.Equal(t, "-O2", manifest.Entries[0].CompileOpt)
}

func TestInsecureHeapAllocPoCIsSelfContained(t *testing.T) {
	outDir := t.TempDir()
	findings := []finding.Finding{
		{
			ID:       "F-RUST-SRC-0003",
			Category: finding.InsecureHeapAlloc,
			Location: finding.Location{File: "/nonexistent/alloc.c", Line: 5},
			Evidence: []finding.Evidence{{Source: finding.SourceGrep, Detail: "malloc(128) freed without zeroizing"}},
		},
	}
	manifest, err := Run(findings, outDir, nil, DefaultConfig(), false, nil, "")
	require.NoError(t, err)
	require.Len(t, manifest.Entries, 1)
	assert.False(t, manifest.Entries[0].RequiresManualAdjustment)

	source, err := os.ReadFile(filepath.Join(outDir, manifest.Entries[0].File))
	require.NoError(t, err)
	assert.Contains(t, string(source), "heap_residue_check(128)")
}

func TestRunCategoryFilterNarrowsToIntersection(t *testing.T) {
	outDir := t.TempDir()
	findings := []finding.Finding{
		{ID: "F-1", Category: finding.MissingSourceZeroize, Confidence: finding.Confirmed, Location: finding.Location{File: "/x.c"}},
		{ID: "F-2", Category: finding.StackRetention, Confidence: finding.Confirmed, Location: finding.Location{File: "/y.c"}},
	}
	manifest, err := Run(findings, outDir, map[finding.Category]bool{finding.MissingSourceZeroize: true}, DefaultConfig(), false, nil, "")
	require.NoError(t, err)
	require.Len(t, manifest.Entries, 1)
	assert.Equal(t, "F-1", manifest.Entries[0].FindingID)
}
