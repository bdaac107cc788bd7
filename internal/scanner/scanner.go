// Package scanner implements spec.md §4.1: a regex-level detector for
// dangerous Rust API usage and for async suspension points that keep
// secret-named locals live across an await. Ground truth:
// find_dangerous_apis.py.
package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/archguard/zeroaudit/internal/finding"
	"github.com/archguard/zeroaudit/internal/sensitive"
)

// pattern is one entry of the fixed dangerous-API table.
type pattern struct {
	re       *regexp.Regexp
	category finding.Category
	severity finding.Severity
	detail   string
}

// patterns reproduces the 9-entry PATTERNS table from
// find_dangerous_apis.py verbatim.
var patterns = []pattern{
	{
		re:       regexp.MustCompile(`\bmem::forget\s*\(`),
		category: finding.MissingSourceZeroize,
		severity: finding.SeverityCritical,
		detail:   "mem::forget() prevents Drop/ZeroizeOnDrop from running — secret never wiped",
	},
	{
		re:       regexp.MustCompile(`\bManuallyDrop\s*::\s*new\s*\(`),
		category: finding.MissingSourceZeroize,
		severity: finding.SeverityCritical,
		detail:   "ManuallyDrop::new() suppresses automatic drop — secret not wiped unless drop() called explicitly",
	},
	{
		re:       regexp.MustCompile(`\bBox\s*::\s*leak\s*\(`),
		category: finding.MissingSourceZeroize,
		severity: finding.SeverityCritical,
		detail:   "Box::leak() — leaked allocation is never dropped or zeroed",
	},
	{
		re:       regexp.MustCompile(`\bBox\s*::\s*into_raw\s*\(`),
		category: finding.MissingSourceZeroize,
		severity: finding.SeverityHigh,
		detail:   "Box::into_raw() — raw pointer escapes Drop; must call Box::from_raw() + zeroize to reclaim",
	},
	{
		re:       regexp.MustCompile(`\bptr\s*::\s*write_bytes\s*\(`),
		category: finding.OptimizedAwayZeroize,
		severity: finding.SeverityHigh,
		detail:   "ptr::write_bytes() is non-volatile — LLVM may eliminate as dead store. Use zeroize crate or add compiler_fence(SeqCst) after",
	},
	{
		re:       regexp.MustCompile(`\bmem\s*::\s*transmute\b`),
		category: finding.SecretCopy,
		severity: finding.SeverityHigh,
		detail:   "mem::transmute creates a bitwise copy — original and transmuted value both exist on stack",
	},
	{
		re:       regexp.MustCompile(`\bslice\s*::\s*from_raw_parts\s*\(`),
		category: finding.SecretCopy,
		severity: finding.SeverityMedium,
		detail:   "slice::from_raw_parts creates a slice alias over raw memory — may alias a secret buffer",
	},
	{
		re:       regexp.MustCompile(`\bmem\s*::\s*take\s*\(`),
		category: finding.MissingSourceZeroize,
		severity: finding.SeverityMedium,
		detail:   "mem::take() replaces the value in-place without zeroing the original location",
	},
	{
		re:       regexp.MustCompile(`\bmem\s*::\s*uninitialized\s*\(`),
		category: finding.MissingSourceZeroize,
		severity: finding.SeverityCritical,
		detail:   "mem::uninitialized() is deprecated and unsafe — may expose prior secret bytes from stack memory",
	},
}

var (
	blockCommentStart = regexp.MustCompile(`/\*`)
	blockCommentEnd   = regexp.MustCompile(`\*/`)
	asyncFnRe         = regexp.MustCompile(`\basync\s+fn\s+\w+`)
	letBindingRe      = regexp.MustCompile(`\blet\s+(?:mut\s+)?(\w+)\s*[=:]`)
	awaitRe           = regexp.MustCompile(`\.await\b`)
)

// Scanner runs the source-scanner passes over a directory tree of .rs
// files, minting ids through a single counter so output is deterministic
// given identical input (spec.md §8 property 1).
type Scanner struct {
	counter *finding.Counter
	names   *sensitive.Matcher
}

func New() *Scanner {
	return &Scanner{
		counter: finding.NewCounter("RUST", "SRC"),
		names:   sensitive.NewDefault(nil),
	}
}

// ScanDirectory walks srcDir for *.rs files in sorted order (determinism)
// and runs both passes over each.
func (s *Scanner) ScanDirectory(srcDir string) ([]finding.Finding, error) {
	info, err := os.Stat(srcDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("source directory not found: %s", srcDir)
	}

	var rsFiles []string
	err = filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(path, ".rs") {
			rsFiles = append(rsFiles, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(rsFiles)

	var out []finding.Finding
	for _, path := range rsFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "scanner: warning: cannot read %s: %v\n", path, err)
			continue
		}
		src := string(data)
		out = append(out, s.scanFilePatterns(path, src)...)
		out = append(out, s.scanAsyncSuspension(path, src)...)
	}
	return out, nil
}

func (s *Scanner) makeFinding(category finding.Category, severity finding.Severity, detail, path string, line int, confidence finding.Confidence) finding.Finding {
	return finding.Finding{
		ID:         s.counter.Next(),
		Category:   category,
		Severity:   severity,
		Confidence: confidence,
		Location:   finding.Location{File: path, Line: line},
		Detail:     detail,
		Evidence:   []finding.Evidence{{Source: finding.SourceGrep, Detail: detail}},
	}
}

// hasSensitiveContext mirrors has_sensitive_context: centerIdx is a 0-based
// line index; callers must not pass a 1-based line number.
func (s *Scanner) hasSensitiveContext(lines []string, centerIdx, window int) bool {
	start := centerIdx - window
	if start < 0 {
		start = 0
	}
	end := centerIdx + window + 1
	if end > len(lines) {
		end = len(lines)
	}
	context := strings.Join(lines[start:end], "\n")
	return s.names.MatchString(context)
}

// isCommentedOut mirrors _is_commented_out's (skip, stillInBlockComment)
// contract precisely, including the mid-line-opener special case.
func isCommentedOut(line string, inBlockComment bool) (bool, bool) {
	stripped := strings.TrimSpace(line)
	if inBlockComment {
		if blockCommentEnd.MatchString(line) {
			return true, false
		}
		return true, true
	}
	if strings.HasPrefix(stripped, "//") {
		return true, false
	}
	if strings.HasPrefix(stripped, "/*") {
		if blockCommentEnd.MatchString(line) {
			return true, false
		}
		return true, true
	}
	if blockCommentStart.MatchString(stripped) && !blockCommentEnd.MatchString(stripped) {
		return false, true
	}
	return false, false
}

func (s *Scanner) scanFilePatterns(path, source string) []finding.Finding {
	var out []finding.Finding
	lines := strings.Split(source, "\n")

	for _, p := range patterns {
		inBlockComment := false // reset per pattern pass, matching the original
		for i, line := range lines {
			lineno := i + 1
			skip, next := isCommentedOut(line, inBlockComment)
			inBlockComment = next
			if skip {
				continue
			}
			if !p.re.MatchString(line) {
				continue
			}
			confidence := finding.Likely
			if !s.hasSensitiveContext(lines, lineno-1, 15) {
				confidence = finding.NeedsReview
			}
			out = append(out, s.makeFinding(p.category, p.severity, p.detail, path, lineno, confidence))
		}
	}
	return out
}

// scanAsyncSuspension mirrors scan_async_suspension's brace-depth body
// extraction (string/comment aware) and binding-then-await detection.
func (s *Scanner) scanAsyncSuspension(path, source string) []finding.Finding {
	var out []finding.Finding
	lines := strings.Split(source, "\n")

	i := 0
	for i < len(lines) {
		if !asyncFnRe.MatchString(lines[i]) {
			i++
			continue
		}

		type numberedLine struct {
			lineno int
			text   string
		}
		var bodyLines []numberedLine
		depth := 0
		inBody := false
		found := false
		limit := i + 500
		if limit > len(lines) {
			limit = len(lines)
		}

		j := i
		for ; j < limit; j++ {
			inStr := false
			text := lines[j]
			k := 0
			for k < len(text) {
				ch := text[k]
				if inStr {
					if ch == '\\' && k+1 < len(text) {
						k += 2
						continue
					} else if ch == '"' {
						inStr = false
					}
				} else {
					if ch == '"' {
						inStr = true
					} else if ch == '/' && k+1 < len(text) && text[k+1] == '/' {
						break
					} else if ch == '{' {
						depth++
						inBody = true
					} else if ch == '}' {
						depth--
					}
				}
				k++
			}
			if inBody {
				bodyLines = append(bodyLines, numberedLine{lineno: j + 1, text: lines[j]})
			}
			if inBody && depth == 0 {
				i = j + 1
				found = true
				break
			}
		}
		if !found {
			i++
			continue
		}

		var secretBindings []numberedLine
		for _, bl := range bodyLines {
			m := letBindingRe.FindStringSubmatch(bl.text)
			if m != nil && s.names.MatchString(m[1]) {
				secretBindings = append(secretBindings, numberedLine{lineno: bl.lineno, text: m[1]})
			}
		}

		for _, bind := range secretBindings {
			for _, bl := range bodyLines {
				if bl.lineno > bind.lineno && awaitRe.MatchString(bl.text) {
					detail := fmt.Sprintf(
						"Secret local '%s' is live across an .await suspension point in an async fn — "+
							"stored in the heap-allocated Future state machine; ZeroizeOnDrop covers stack variables only",
						bind.text,
					)
					out = append(out, s.makeFinding(finding.NotOnAllPaths, finding.SeverityHigh, detail, path, bind.lineno, finding.Likely))
					break
				}
			}
		}
	}
	return out
}
