// Package finding defines the record shared by every analyzer and by the
// evidence merger: the zeroize-audit engine's one common currency.
package finding

import "fmt"

// Severity is a closed enumeration ordered from least to most serious.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Confidence is a closed enumeration. The gate never changes a finding's
// Confidence and never deletes a finding.
type Confidence string

const (
	Confirmed   Confidence = "confirmed"
	Likely      Confidence = "likely"
	NeedsReview Confidence = "needs_review"
)

// Category is the closed set from spec.md §3.
type Category string

const (
	MissingSourceZeroize  Category = "MISSING_SOURCE_ZEROIZE"
	OptimizedAwayZeroize  Category = "OPTIMIZED_AWAY_ZEROIZE"
	StackRetention        Category = "STACK_RETENTION"
	RegisterSpill         Category = "REGISTER_SPILL"
	SecretCopy            Category = "SECRET_COPY"
	MissingOnErrorPath    Category = "MISSING_ON_ERROR_PATH"
	PartialWipe           Category = "PARTIAL_WIPE"
	NotOnAllPaths         Category = "NOT_ON_ALL_PATHS"
	InsecureHeapAlloc     Category = "INSECURE_HEAP_ALLOC"
	LoopUnrolledIncomplete Category = "LOOP_UNROLLED_INCOMPLETE"
	NotDominatingExits    Category = "NOT_DOMINATING_EXITS"

	// Meta-categories: not evidence of a zeroization defect, but structured
	// records of the analyzer's own inability to reach a verdict.
	AnalysisSkipped Category = "ANALYSIS_SKIPPED"
	AnalysisError   Category = "ANALYSIS_ERROR"
)

// ValidCategories enumerates the closed set for property #3 (category
// closure): every emitted finding's category must be a member.
var ValidCategories = map[Category]bool{
	MissingSourceZeroize:   true,
	OptimizedAwayZeroize:   true,
	StackRetention:         true,
	RegisterSpill:          true,
	SecretCopy:             true,
	MissingOnErrorPath:     true,
	PartialWipe:            true,
	NotOnAllPaths:          true,
	InsecureHeapAlloc:      true,
	LoopUnrolledIncomplete: true,
	NotDominatingExits:     true,
	AnalysisSkipped:        true,
	AnalysisError:          true,
}

// EvidenceSource names the analyzer stage that contributed one evidence
// record.
type EvidenceSource string

const (
	SourceGrep EvidenceSource = "source_grep"
	SourceCFG  EvidenceSource = "cfg"
	SourceIRDiff EvidenceSource = "ir_diff"
	SourceMIRText EvidenceSource = "mir_text"
	SourceLLVMIR  EvidenceSource = "llvm_ir"
	SourceASM     EvidenceSource = "asm"
	SourceMCP     EvidenceSource = "mcp"
)

// Evidence is one provenance record backing a finding.
type Evidence struct {
	Source EvidenceSource `json:"source"`
	Detail string         `json:"detail"`
}

// Location identifies where a finding was observed. Line 0 means
// file-level/unknown-line, per spec.md §3.
type Location struct {
	File string `json:"file"`
	Line int    `json:"line"`
}

// Finding is immutable once emitted except for the two fields the gate is
// permitted to touch: NeedsReview (set) and Detail (a "[gated: ...]" note
// appended).
type Finding struct {
	ID         string     `json:"id"`
	Category   Category   `json:"category"`
	Severity   Severity   `json:"severity"`
	Confidence Confidence `json:"confidence"`
	Symbol     string     `json:"symbol,omitempty"`
	Location   Location   `json:"location"`
	Detail     string     `json:"detail"`
	Evidence   []Evidence `json:"evidence"`
	NeedsReview bool      `json:"needs_review"`

	// CompilerEvidence carries the O0/O2/diff-summary substructure the
	// confidence gate inspects for OPTIMIZED_AWAY_ZEROIZE claims. It is only
	// populated by the IR-diff analyzer.
	CompilerEvidence *CompilerEvidence `json:"compiler_evidence,omitempty"`
}

// CompilerEvidence backs the gate's "missing IR/ASM evidence" check (spec.md
// §4.7): a finding must name at least one of these to avoid being gated.
type CompilerEvidence struct {
	O0          string `json:"o0,omitempty"`
	O2          string `json:"o2,omitempty"`
	DiffSummary string `json:"diff_summary,omitempty"`
}

// HasEvidenceFrom reports whether any evidence record was produced by the
// given stage. The gate uses this instead of the Python original's
// substring-in-a-flat-string check, because spec.md's data model defines
// Evidence as a list of typed records, not a single string.
func (f *Finding) HasEvidenceFrom(src EvidenceSource) bool {
	for _, e := range f.Evidence {
		if e.Source == src {
			return true
		}
	}
	return false
}

// Counter mints deterministic, monotonically increasing ids of the form
// F-<LANG>-<STAGE>-<nnnn>. One Counter instance exists per (lang, stage)
// pair so that concurrent analyzer stages never interleave sequence
// numbers; this is the Go analogue of the Python originals' module-level
// `_finding_counter` list, scoped per script.
type Counter struct {
	lang  string
	stage string
	next  int
}

// NewCounter creates a counter for one language/stage pair, e.g. ("RUST",
// "SRC"), ("RUST", "IR"), ("RUST", "MIR"), ("RUST", "ASM").
func NewCounter(lang, stage string) *Counter {
	return &Counter{lang: lang, stage: stage, next: 1}
}

// Next mints the next id in sequence.
func (c *Counter) Next() string {
	id := fmt.Sprintf("F-%s-%s-%04d", c.lang, c.stage, c.next)
	c.next++
	return id
}
