// Package poc synthesizes proof-of-concept C/C++ programs from zeroize-audit
// findings, per spec.md §4.8: each PoC demonstrates that a finding is
// exploitable by reading sensitive data that should have been zeroized,
// exiting 0 when the secret persists and 1 when it was wiped. Ground truth:
// generate_poc.py.
package poc

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pkoukk/tiktoken-go"

	"github.com/archguard/zeroaudit/internal/compileflags"
	"github.com/archguard/zeroaudit/internal/finding"
)

// ExploitableCategories is the set of finding categories PoC generation
// supports, per EXPLOITABLE_CATEGORIES.
var ExploitableCategories = map[finding.Category]bool{
	finding.MissingSourceZeroize:   true,
	finding.OptimizedAwayZeroize:   true,
	finding.StackRetention:         true,
	finding.RegisterSpill:          true,
	finding.SecretCopy:             true,
	finding.MissingOnErrorPath:     true,
	finding.PartialWipe:            true,
	finding.NotOnAllPaths:          true,
	finding.InsecureHeapAlloc:      true,
	finding.LoopUnrolledIncomplete: true,
	finding.NotDominatingExits:     true,
}

// Config mirrors the poc_generation section of zeroaudit.yaml. A zero value
// in any numeric field is treated as "unset" and falls back to
// DefaultConfig's constant, since Go's zero value can't distinguish an
// absent YAML key from an explicit 0 the way the Python original's
// dict.get(key, default) can; an explicit 0 is not a meaningful override for
// any of these fields in practice (a zero-byte fill, zero-size stack probe,
// or zero-line inclusion threshold), so the distinction costs nothing.
type Config struct {
	MinConfidence            string `yaml:"min_confidence"`
	SecretFillByte           int    `yaml:"secret_fill_byte"`
	StackProbeMaxSize        int    `yaml:"stack_probe_max_size"`
	SourceInclusionThreshold int    `yaml:"source_inclusion_threshold"`
}

// DefaultConfig mirrors the Python module's _DEFAULT_* constants.
func DefaultConfig() Config {
	return Config{
		MinConfidence:            "likely",
		SecretFillByte:           0xAA,
		StackProbeMaxSize:        4096,
		SourceInclusionThreshold: 5000,
	}
}

var confidenceOrder = map[finding.Confidence]int{
	finding.Confirmed:   0,
	finding.Likely:      1,
	finding.NeedsReview: 2,
}

// Context bundles the per-run inputs every generator needs: where PoCs are
// written, the compile database for flag extraction, and the active config.
type Context struct {
	OutDir     string
	CompileDB  []compileflags.Entry
	WorkingDir string
	Config     Config
}

// Result is what one generator's Generate call produces for one finding.
type Result struct {
	Filename        string
	Source          string
	OptLevel        string
	RequiresManual  bool
	AdjustmentNotes string
}

// Generator is the per-category PoC synthesis contract, the Go analogue of
// the Python PoCGenerator base class. Each concrete implementation lives in
// generators.go.
type Generator interface {
	Category() finding.Category
	Generate(f finding.Finding, ctx *Context) Result
}

var generators = map[finding.Category]Generator{}

func register(g Generator) {
	generators[g.Category()] = g
}

func init() {
	register(missingSourceZeroizePoC{})
	register(optimizedAwayZeroizePoC{})
	register(stackRetentionPoC{})
	register(registerSpillPoC{})
	register(secretCopyPoC{})
	register(missingOnErrorPathPoC{})
	register(partialWipePoC{})
	register(notOnAllPathsPoC{})
	register(insecureHeapAllocPoC{})
	register(loopUnrolledIncompletePoC{})
	register(notDominatingExitsPoC{})
}

// effectiveConfidence folds NeedsReview into the confidence ordering: a
// gated finding is treated as needs_review regardless of the tier its
// analyzer originally assigned, since the gate (per internal/mcp's Open
// Question decision) never rewrites Confidence itself, only NeedsReview.
// This replaces _filter_findings' heuristic reconstruction of a confidence
// string from needs_review/compiler_evidence/evidence_source booleans —
// unnecessary here because spec.md's data model already carries an explicit
// Confidence field end to end.
func effectiveConfidence(f finding.Finding) finding.Confidence {
	if f.NeedsReview {
		return finding.NeedsReview
	}
	return f.Confidence
}

// FilterFindings selects findings in the requested categories whose
// effective confidence is at or above minConfidence. A nil minConfidence
// disables the confidence filter entirely (--no-confidence-filter).
func FilterFindings(findings []finding.Finding, categories map[finding.Category]bool, minConfidence *finding.Confidence) []finding.Finding {
	var result []finding.Finding
	for _, f := range findings {
		if !categories[f.Category] {
			continue
		}
		if minConfidence == nil {
			result = append(result, f)
			continue
		}
		threshold, ok := confidenceOrder[*minConfidence]
		if !ok {
			threshold = 2
		}
		if confidenceOrder[effectiveConfidence(f)] <= threshold {
			result = append(result, f)
		}
	}
	return result
}

// LoadFindings accepts either a bare JSON array of findings or a
// {"findings": [...]} envelope, per run()'s input handling.
func LoadFindings(data []byte) ([]finding.Finding, error) {
	var bare []finding.Finding
	if err := json.Unmarshal(data, &bare); err == nil {
		return bare, nil
	}
	var wrapped struct {
		Findings []finding.Finding `json:"findings"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("findings must be a JSON array or object with a 'findings' key: %w", err)
	}
	return wrapped.Findings, nil
}

// Errors mirror generate_poc.py's exit codes 2 and 3 (1 is the caller's
// input-parsing failure, surfaced directly from LoadFindings/os.ReadFile).
var (
	ErrNoExploitableFindings = errors.New("no exploitable findings in selected categories")
	ErrOutputDir             = errors.New("cannot create output directory")
)

// ManifestEntry is one poc_manifest.json entry.
type ManifestEntry struct {
	FindingID               string `json:"finding_id"`
	Category                string `json:"category"`
	File                     string `json:"file"`
	MakefileTarget           string `json:"makefile_target"`
	CompileOpt               string `json:"compile_opt"`
	RequiresManualAdjustment bool   `json:"requires_manual_adjustment"`
	AdjustmentNotes          string `json:"adjustment_notes,omitempty"`
}

// Manifest is poc_manifest.json's top-level shape. RunID distinguishes
// manifests from repeated `zeroaudit poc` invocations over the same output
// directory, since re-running PoC generation overwrites poc_manifest.json in
// place with no other record of which invocation produced it.
type Manifest struct {
	RunID                   string          `json:"run_id"`
	PocsGenerated           int             `json:"pocs_generated"`
	PocsRequiringAdjustment int             `json:"pocs_requiring_adjustment"`
	OutputDir               string          `json:"output_dir"`
	CategoriesCovered       []string        `json:"categories_covered"`
	Entries                 []ManifestEntry `json:"entries"`
}

// Run is the end-to-end synthesis pipeline: filter findings, write
// poc_common.h, one PoC source per finding, a Makefile, and the manifest.
// Returns ErrNoExploitableFindings / ErrOutputDir on the two dedicated
// failure paths spec.md §4.8 names; any other error is a write failure.
func Run(findings []finding.Finding, outDir string, categories map[finding.Category]bool, cfg Config, noConfidenceFilter bool, compileDB []compileflags.Entry, workingDir string) (Manifest, error) {
	if categories == nil {
		categories = ExploitableCategories
	} else {
		selected := make(map[finding.Category]bool)
		for c := range categories {
			if ExploitableCategories[c] {
				selected[c] = true
			}
		}
		categories = selected
	}

	var minConfidence *finding.Confidence
	if !noConfidenceFilter {
		mc := finding.Confidence(cfg.MinConfidence)
		if mc == "" {
			mc = finding.Likely
		}
		minConfidence = &mc
	}

	exploitable := FilterFindings(findings, categories, minConfidence)
	if len(exploitable) == 0 {
		return Manifest{}, ErrNoExploitableFindings
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrOutputDir, err)
	}

	ctx := &Context{OutDir: outDir, CompileDB: compileDB, WorkingDir: workingDir, Config: cfg}

	commonHeader := GenerateCommonHeader(cfg)
	if err := os.WriteFile(filepath.Join(outDir, "poc_common.h"), []byte(commonHeader), 0o644); err != nil {
		return Manifest{}, err
	}

	var targets []makefileTarget
	var entries []ManifestEntry
	categorySet := make(map[string]bool)

	for _, f := range exploitable {
		gen, ok := generators[f.Category]
		if !ok {
			continue
		}
		res := gen.Generate(f, ctx)

		if err := os.WriteFile(filepath.Join(outDir, res.Filename), []byte(res.Source), 0o644); err != nil {
			return Manifest{}, err
		}

		binary := strings.TrimSuffix(res.Filename, filepath.Ext(res.Filename))
		targets = append(targets, makefileTarget{
			binary: binary,
			rule:   makefileRule(binary, res.Filename, res.OptLevel, flagsFor(f, ctx), compilerVar(f.Location.File)),
		})

		entries = append(entries, ManifestEntry{
			FindingID:               f.ID,
			Category:                string(f.Category),
			File:                    res.Filename,
			MakefileTarget:          binary,
			CompileOpt:              res.OptLevel,
			RequiresManualAdjustment: res.RequiresManual,
			AdjustmentNotes:         res.AdjustmentNotes,
		})
		categorySet[string(f.Category)] = true
	}

	makefileContent := GenerateMakefile(targets)
	if err := os.WriteFile(filepath.Join(outDir, "Makefile"), []byte(makefileContent), 0o644); err != nil {
		return Manifest{}, err
	}

	manualCount := 0
	for _, e := range entries {
		if e.RequiresManualAdjustment {
			manualCount++
		}
	}

	var categoriesCovered []string
	for c := range categorySet {
		categoriesCovered = append(categoriesCovered, c)
	}
	sort.Strings(categoriesCovered)

	manifest := Manifest{
		RunID:                   uuid.New().String(),
		PocsGenerated:           len(entries),
		PocsRequiringAdjustment: manualCount,
		OutputDir:               outDir,
		CategoriesCovered:       categoriesCovered,
		Entries:                 entries,
	}

	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return Manifest{}, err
	}
	if err := os.WriteFile(filepath.Join(outDir, "poc_manifest.json"), append(manifestJSON, '\n'), 0o644); err != nil {
		return Manifest{}, err
	}

	return manifest, nil
}

// --- shared generator helpers -------------------------------------------

var funcSigRe = regexp.MustCompile(
	`(?m)(?:^|\n)\s*` +
		`(?:static\s+|inline\s+|extern\s+|__attribute__\s*\([^)]*\)\s+)*` +
		`(?:(?:const\s+|unsigned\s+|signed\s+|volatile\s+)*\w[\w\s*&]*?)\s+` +
		`(\w+)\s*\([^)]*\)\s*(?:\{|$)`)

// extractFunctionSignature searches the ~35-line window around a finding's
// line for a trailing C/C++ function definition, per
// _extract_function_signature.
func extractFunctionSignature(srcFile string, line int) (string, bool) {
	data, err := os.ReadFile(srcFile)
	if err != nil {
		return "", false
	}
	lines := strings.Split(string(data), "\n")

	start := line - 30
	if start < 0 {
		start = 0
	}
	end := line + 5
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return "", false
	}
	region := strings.Join(lines[start:end], "\n")

	matches := funcSigRe.FindAllStringSubmatch(region, -1)
	if len(matches) == 0 {
		return "", false
	}
	return matches[len(matches)-1][1], true
}

func funcName(f finding.Finding) string {
	if f.Symbol != "" {
		return f.Symbol
	}
	name, ok := extractFunctionSignature(f.Location.File, f.Location.Line)
	if ok {
		return name
	}
	return ""
}

var cppExt = map[string]bool{".cpp": true, ".cxx": true, ".cc": true, ".hpp": true, ".hxx": true}

func isCppFile(src string) bool {
	return cppExt[strings.ToLower(filepath.Ext(src))]
}

func compilerVar(src string) string {
	if isCppFile(src) {
		return "$(CXX)"
	}
	return "$(CC)"
}

func relativeSourcePath(src, outDir string) string {
	rel, err := filepath.Rel(outDir, src)
	if err != nil {
		return src
	}
	return rel
}

func countLines(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	return strings.Count(string(data), "\n")
}

// maxInclusionTokens bounds how much of a source file's tokenized content a
// PoC is willing to #include, independent of its line count: a long line
// (minified/generated source, a huge string literal) can blow past a
// reasonable compile-time footprint without tripping the line threshold.
const maxInclusionTokens = 20000

// sourceTokenizer mirrors Engine.getTokenizer: cl100k_base covers every
// compiled-artifact source PoC generation reads (C/C++/Rust), so there is no
// per-model lookup to do here the way the teacher's LLM-facing tokenizer
// needed.
func sourceTokenizer() (*tiktoken.Tiktoken, error) {
	return tiktoken.GetEncoding("cl100k_base")
}

// exceedsTokenBudget reports whether srcFile's content would blow the
// inclusion token budget. A tokenizer failure is not fatal to PoC
// generation -- it just means this guard is skipped and the line-count
// threshold alone decides inclusion.
func exceedsTokenBudget(srcFile string) bool {
	data, err := os.ReadFile(srcFile)
	if err != nil {
		return false
	}
	tkm, err := sourceTokenizer()
	if err != nil {
		return false
	}
	return len(tkm.Encode(string(data), nil, nil)) > maxInclusionTokens
}

func useSourceInclusion(srcFile string, threshold int) bool {
	if threshold == 0 {
		threshold = DefaultConfig().SourceInclusionThreshold
	}
	if countLines(srcFile) > threshold {
		return false
	}
	return !exceedsTokenBudget(srcFile)
}

func includeDirective(f finding.Finding, ctx *Context) string {
	if useSourceInclusion(f.Location.File, ctx.Config.SourceInclusionThreshold) {
		return fmt.Sprintf("#include %q", relativeSourcePath(f.Location.File, ctx.OutDir))
	}
	name := funcName(f)
	if name == "" {
		name = "target function"
	}
	return "/* Link against object file containing " + name + " */"
}

var unsafeIDCharsRe = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

func pocFilename(f finding.Finding) string {
	safeID := unsafeIDCharsRe.ReplaceAllString(f.ID, "_")
	ext := ".c"
	if isCppFile(f.Location.File) {
		ext = ".cpp"
	}
	return fmt.Sprintf("poc_%s_%s%s", safeID, strings.ToLower(string(f.Category)), ext)
}

// buildPoCSource assembles a PoC C source file, mirroring
// PoCGenerator._build_poc_source's comment/include/body layout exactly.
func buildPoCSource(f finding.Finding, ctx *Context, commentLines, bodyLines []string) string {
	var b strings.Builder
	b.WriteString("/* " + commentLines[0] + "\n")
	for _, cl := range commentLines[1:] {
		b.WriteString(" * " + cl + "\n")
	}
	b.WriteString(" */\n")
	b.WriteString(`#include "poc_common.h"` + "\n")
	b.WriteString(includeDirective(f, ctx) + "\n")
	b.WriteString("\n")
	b.WriteString("int main(void) {\n")
	for _, bl := range bodyLines {
		if bl == "" {
			b.WriteString("\n")
		} else {
			b.WriteString("    " + bl + "\n")
		}
	}
	b.WriteString("}\n")
	return b.String()
}

// flagsFor retrieves and filters a finding's source file's compile flags via
// internal/compileflags; since ExtractFlags already strips every
// optimization-level flag unconditionally (spec.md §4.8), there is no need
// to repeat the Python original's local "-O[0-3sg]" re-filter here.
func flagsFor(f finding.Finding, ctx *Context) string {
	if ctx.CompileDB == nil {
		return ""
	}
	entry, ok := compileflags.FindEntry(ctx.CompileDB, f.Location.File, ctx.WorkingDir)
	if !ok {
		return ""
	}
	raw := compileflags.GetRawFlags(*entry)
	return strings.Join(compileflags.ExtractFlags(raw), " ")
}

type makefileTarget struct {
	binary string
	rule   string
}

func makefileRule(binary, filename, optLevel, flags, compiler string) string {
	return fmt.Sprintf("%s: %s poc_common.h\n\t%s %s %s -o $@ $<\n", binary, filename, compiler, optLevel, flags)
}

// GenerateMakefile assembles the aggregate Makefile, per _generate_makefile.
func GenerateMakefile(targets []makefileTarget) string {
	var binaries []string
	for _, t := range targets {
		binaries = append(binaries, t.binary)
	}

	var b strings.Builder
	b.WriteString("# Auto-generated by zeroaudit poc\n")
	b.WriteString("# Build: make all\n")
	b.WriteString("# Run:   make run\n\n")
	b.WriteString("CC ?= cc\n")
	b.WriteString("CXX ?= c++\n")
	b.WriteString("CFLAGS ?= -Wall -Wextra\n")
	b.WriteString("CXXFLAGS ?= -Wall -Wextra\n\n")
	b.WriteString("BINARIES = " + strings.Join(binaries, " ") + "\n\n")
	b.WriteString(".PHONY: all run clean\n\n")
	b.WriteString("all: $(BINARIES)\n\n")

	b.WriteString("run: all\n")
	for _, name := range binaries {
		b.WriteString(fmt.Sprintf("\t@echo '--- Running %s ---'\n", name))
		b.WriteString(fmt.Sprintf("\t@./%s && echo 'RESULT: EXPLOITABLE' || echo 'RESULT: NOT EXPLOITABLE'\n", name))
	}
	b.WriteString("\n")

	for _, t := range targets {
		b.WriteString(t.rule)
		b.WriteString("\n")
	}

	b.WriteString("clean:\n\trm -f $(BINARIES)\n")
	return b.String()
}

// GenerateCommonHeader produces poc_common.h, per _generate_common_header.
func GenerateCommonHeader(cfg Config) string {
	fill := cfg.SecretFillByte
	if fill == 0 {
		fill = DefaultConfig().SecretFillByte
	}
	probeMax := cfg.StackProbeMaxSize
	if probeMax == 0 {
		probeMax = DefaultConfig().StackProbeMaxSize
	}

	return fmt.Sprintf(`#ifndef POC_COMMON_H
#define POC_COMMON_H

#include <stdio.h>
#include <stdlib.h>
#include <string.h>
#include <stdint.h>

#define SECRET_FILL_BYTE 0x%02X
#define STACK_PROBE_MAX  %d

#define POC_PASS() do { \
    fprintf(stderr, "POC PASS: secret persists (exploitable)\n"); \
    exit(0); \
} while (0)

#define POC_FAIL() do { \
    fprintf(stderr, "POC FAIL: secret was wiped (not exploitable)\n"); \
    exit(1); \
} while (0)

/* Read through a volatile pointer to prevent the compiler from
   optimizing away the verification read. Returns non-zero if any
   byte in [ptr, ptr+len) is non-zero. */
static int volatile_read_nonzero(const void *ptr, size_t len) {
    const volatile unsigned char *p = (const volatile unsigned char *)ptr;
    int found = 0;
    for (size_t i = 0; i < len; i++) {
        if (p[i] != 0) {
            found = 1;
        }
    }
    return found;
}

/* Read through volatile pointer checking for the secret fill pattern. */
static int volatile_read_has_secret(const void *ptr, size_t len) {
    const volatile unsigned char *p = (const volatile unsigned char *)ptr;
    int count = 0;
    for (size_t i = 0; i < len; i++) {
        if (p[i] == SECRET_FILL_BYTE) {
            count++;
        }
    }
    /* Consider it a match if >= 50%% of bytes are the fill pattern */
    return count >= (int)(len / 2);
}

/* Dump hex to stderr for diagnostics. */
static void hex_dump(const char *label, const void *ptr, size_t len) {
    const unsigned char *p = (const unsigned char *)ptr;
    fprintf(stderr, "%%s (%%zu bytes):", label, len);
    for (size_t i = 0; i < len && i < 64; i++) {
        if (i %% 16 == 0) fprintf(stderr, "\n  ");
        fprintf(stderr, "%%02x ", p[i]);
    }
    if (len > 64) fprintf(stderr, "\n  ... (%%zu more bytes)", len - 64);
    fprintf(stderr, "\n");
}

/* Probe the stack for residual secret data from a prior call frame.
   Must be __attribute__((noinline, noclone)) so the compiler cannot
   merge this frame with the caller. */
__attribute__((noinline))
#if defined(__GNUC__) && !defined(__clang__)
__attribute__((noclone))
#endif
static int stack_probe(size_t frame_size) {
    if (frame_size > STACK_PROBE_MAX) frame_size = STACK_PROBE_MAX;
    volatile unsigned char probe[STACK_PROBE_MAX];
    /* Do NOT initialize -- we want to read whatever is on the stack */
    int count = 0;
    for (size_t i = 0; i < frame_size; i++) {
        if (probe[i] == SECRET_FILL_BYTE) {
            count++;
        }
    }
    return count >= (int)(frame_size / 4);  /* 25%% threshold */
}

/* Fill a buffer with the secret marker pattern. */
static void fill_secret(void *buf, size_t len) {
    memset(buf, SECRET_FILL_BYTE, len);
}

/* Check whether heap memory retains secret data after free+realloc.
   Do NOT compile with ASan -- it poisons freed memory and hides the bug. */
static int heap_residue_check(size_t alloc_size) {
    void *ptr = malloc(alloc_size);
    if (!ptr) return 0;
    fill_secret(ptr, alloc_size);
    free(ptr);
    void *ptr2 = malloc(alloc_size);
    if (!ptr2) return 0;
    int found = volatile_read_has_secret(ptr2, alloc_size);
    hex_dump("Heap residue after free+realloc", ptr2,
             alloc_size > 64 ? 64 : alloc_size);
    free(ptr2);
    return found;
}

#endif /* POC_COMMON_H */
`, fill, probeMax)
}

func evidenceText(f finding.Finding) string {
	parts := make([]string, len(f.Evidence))
	for i, e := range f.Evidence {
		parts[i] = e.Detail
	}
	return strings.Join(parts, "\n")
}

func firstMatch(re *regexp.Regexp, s, fallback string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return fallback
	}
	return m[1]
}

