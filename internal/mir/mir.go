// Package mir implements spec.md §4.5: text/regex-based analysis of Rust MIR
// dumps for missing or incorrect zeroization. No MIR parser is used — every
// detector works line-by-line, exactly as check_mir_patterns.py does.
package mir

import (
	"regexp"
	"strings"

	"github.com/archguard/zeroaudit/internal/finding"
	"github.com/archguard/zeroaudit/internal/sensitive"
)

var (
	fnRe          = regexp.MustCompile(`^fn\s+(\S+)\s*\(`)
	debugRe       = regexp.MustCompile(`debug\s+(\w+)\s*=>\s*(_\d+)`)
	dropRe        = regexp.MustCompile(`\bdrop\(_(\d+)\)`)
	storageDeadRe = regexp.MustCompile(`StorageDead\(_(\d+)\)`)
	returnRe      = regexp.MustCompile(`\breturn\b`)
	resumeRe      = regexp.MustCompile(`\bresume\b`)
	aggRe         = regexp.MustCompile(`(_\d+)\s*=\s*(\w[\w:]*)\s*\{[^}]*move\s+(_\d+)`)
	closureRe     = regexp.MustCompile(`(?i)(_\d+)\s*=\s*.*(?:closure|async|generator|Coroutine).*move\s+(_\d+)`)
	dropGlueNameRe = regexp.MustCompile(`(drop_in_place|_drop_impl)`)
	dropCallRe    = regexp.MustCompile(`\bdrop\(_\d+\)`)
	zeroizeCallRe = regexp.MustCompile(`\bzeroize::`)
	mirCallRe     = regexp.MustCompile(`\bcall\s+(\S+)\s*\(([^)]*)\)`)
	argSlotRe     = regexp.MustCompile(`_(\d+)`)
	ffiCalleeRe   = regexp.MustCompile(`(?i)(::c_|_ffi_|_sys_|extern)`)
	yieldRe       = regexp.MustCompile(`\byield\b`)
	errRe         = regexp.MustCompile(`\bErr\s*\(`)
)

// function mirrors one (fn_name, body_lines, start_lineno) tuple from
// split_into_functions. Malformed records whether this function's brace
// depth went negative during the split — its findings are tagged
// NeedsReview since the split itself may be unreliable (spec.md §9 Open
// Question).
type function struct {
	name      string
	lines     []string
	start     int
	malformed bool
}

// splitIntoFunctions ports split_into_functions exactly, including the
// negative-brace-depth tolerant clamp.
func splitIntoFunctions(mirText string) []function {
	var functions []function
	lines := strings.Split(mirText, "\n")
	currentName := "<top>"
	var currentLines []string
	currentStart := 0
	depth := 0
	currentMalformed := false

	flush := func() {
		if len(currentLines) > 0 {
			functions = append(functions, function{name: currentName, lines: currentLines, start: currentStart, malformed: currentMalformed})
		}
	}

	for i, line := range lines {
		lineno := i + 1
		if m := fnRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil && depth == 0 {
			flush()
			currentName = m[1]
			currentLines = []string{line}
			currentStart = lineno
			currentMalformed = false
			depth = strings.Count(line, "{") - strings.Count(line, "}")
		} else {
			currentLines = append(currentLines, line)
			depth += strings.Count(line, "{") - strings.Count(line, "}")
			if depth < 0 {
				currentMalformed = true
				depth = 0
			}
		}
	}
	flush()

	return functions
}

func localNamesFromDebugInfo(lines []string) map[string]string {
	out := make(map[string]string)
	for _, line := range lines {
		if m := debugRe.FindStringSubmatch(line); m != nil {
			out[m[2]] = m[1]
		}
	}
	return out
}

func isSensitiveLocal(slot string, debugMap map[string]string, m *sensitive.Matcher) bool {
	name := debugMap[slot]
	if name == "" {
		return false
	}
	return m.MatchString(name)
}

// ctx bundles the per-function arguments every detector needs, mirroring the
// Python `ctx = (fn_name, fn_lines, fn_start)` tuple unpack.
type ctx struct {
	fnName   string
	fnLines  []string
	fnStart  int
	debugMap map[string]string
	mirFile  string
	names    *sensitive.Matcher
}

func nameOrSlot(debugMap map[string]string, slot string) string {
	if n, ok := debugMap[slot]; ok {
		return n
	}
	return slot
}

func detectDropBeforeStorageDead(counter *finding.Counter, c ctx) []finding.Finding {
	var out []finding.Finding
	dropped := make(map[string]bool)
	storageDead := make(map[string]bool)

	for _, line := range c.fnLines {
		for _, m := range dropRe.FindAllStringSubmatch(line, -1) {
			dropped["_"+m[1]] = true
		}
		for _, m := range storageDeadRe.FindAllStringSubmatch(line, -1) {
			storageDead["_"+m[1]] = true
		}
	}

	hasReturn := false
	for _, line := range c.fnLines {
		if returnRe.MatchString(line) {
			hasReturn = true
			break
		}
	}

	var slots []string
	for slot := range dropped {
		if !storageDead[slot] {
			slots = append(slots, slot)
		}
	}
	sortStrings(slots)

	for _, slot := range slots {
		if !isSensitiveLocal(slot, c.debugMap, c.names) {
			continue
		}
		name := nameOrSlot(c.debugMap, slot)
		if hasReturn {
			detail := "Secret local " + slot + " (\"" + name + "\") is dropped but not StorageDead on explicit return path(s) in '" + c.fnName + "'"
			out = append(out, mkFinding(counter, finding.NotOnAllPaths, finding.SeverityHigh, detail, c.mirFile, c.fnStart, name))
		} else {
			detail := "Secret local " + slot + " (\"" + name + "\") is dropped without StorageDead in '" + c.fnName + "' — verify zeroize call in drop glue"
			out = append(out, mkFinding(counter, finding.MissingSourceZeroize, finding.SeverityMedium, detail, c.mirFile, c.fnStart, name))
		}
	}
	return out
}

func detectResumeWithLiveSecrets(counter *finding.Counter, c ctx) []finding.Finding {
	hasResume := false
	for _, line := range c.fnLines {
		if resumeRe.MatchString(line) {
			hasResume = true
			break
		}
	}
	if !hasResume {
		return nil
	}
	names := sensitiveLocalNames(c.debugMap, c.names)
	if len(names) == 0 {
		return nil
	}
	shown := names
	if len(shown) > 3 {
		shown = shown[:3]
	}
	detail := "Panic/unwind path (resume) in '" + c.fnName + "' with sensitive locals " + formatNames(shown) + " in scope — verify these locals are dropped (and zeroed) on the unwind path"
	return []finding.Finding{mkFinding(counter, finding.MissingSourceZeroize, finding.SeverityMedium, detail, c.mirFile, c.fnStart, shown[0])}
}

func detectAggregateMoveNonZeroizing(counter *finding.Counter, c ctx) []finding.Finding {
	var out []finding.Finding
	for i, line := range c.fnLines {
		m := aggRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		typeName, src := m[2], m[3]
		if isSensitiveLocal(src, c.debugMap, c.names) && !sensitive.IsZeroizingType(typeName) {
			srcName := nameOrSlot(c.debugMap, src)
			lineno := c.fnStart + i
			detail := "Secret local '" + srcName + "' moved into non-Zeroizing aggregate '" + typeName + "' in '" + c.fnName + "' — copy now untracked"
			out = append(out, mkFinding(counter, finding.SecretCopy, finding.SeverityMedium, detail, c.mirFile, lineno, srcName))
		}
	}
	return out
}

func detectClosureCaptureSecret(counter *finding.Counter, c ctx) []finding.Finding {
	var out []finding.Finding
	for i, line := range c.fnLines {
		m := closureRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		capturedSlot := m[2]
		if isSensitiveLocal(capturedSlot, c.debugMap, c.names) {
			name := nameOrSlot(c.debugMap, capturedSlot)
			lineno := c.fnStart + i
			detail := "Sensitive local '" + name + "' is captured by move into a closure/async state in '" + c.fnName + "' — copy may outlive intended wipe scope"
			out = append(out, mkFinding(counter, finding.SecretCopy, finding.SeverityHigh, detail, c.mirFile, lineno, name))
		}
	}
	return out
}

func detectDropGlueWithoutZeroize(counter *finding.Counter, c ctx) []finding.Finding {
	if !dropGlueNameRe.MatchString(c.fnName) {
		return nil
	}
	hasDropCall := false
	hasZeroizeCall := false
	for _, line := range c.fnLines {
		if dropCallRe.MatchString(line) {
			hasDropCall = true
		}
		if zeroizeCallRe.MatchString(line) {
			hasZeroizeCall = true
		}
	}
	if hasDropCall && !hasZeroizeCall {
		detail := "Drop glue '" + c.fnName + "' calls drop() but no call to zeroize:: found — secret not wiped on drop"
		return []finding.Finding{mkFinding(counter, finding.MissingSourceZeroize, finding.SeverityHigh, detail, c.mirFile, c.fnStart, c.fnName)}
	}
	return nil
}

func detectFFICallWithSecret(counter *finding.Counter, c ctx) []finding.Finding {
	var out []finding.Finding
	for i, line := range c.fnLines {
		m := mirCallRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		callee, argsText := m[1], m[2]
		lineno := c.fnStart + i
		for _, sm := range argSlotRe.FindAllStringSubmatch(argsText, -1) {
			slot := "_" + sm[1]
			if !isSensitiveLocal(slot, c.debugMap, c.names) {
				continue
			}
			if strings.Contains(strings.ToLower(callee), "zeroize") {
				continue
			}
			if !ffiCalleeRe.MatchString(callee) {
				continue
			}
			srcName := nameOrSlot(c.debugMap, slot)
			detail := "Secret local '" + srcName + "' passed to potential FFI call '" + callee + "' in '" + c.fnName + "' — zeroization guarantees lost in callee"
			out = append(out, mkFinding(counter, finding.SecretCopy, finding.SeverityHigh, detail, c.mirFile, lineno, srcName))
		}
	}
	return out
}

func detectYieldWithLiveSecret(counter *finding.Counter, c ctx) []finding.Finding {
	hasYield := false
	for _, line := range c.fnLines {
		if yieldRe.MatchString(line) {
			hasYield = true
			break
		}
	}
	if !hasYield {
		return nil
	}
	names := sensitiveLocalNames(c.debugMap, c.names)
	if len(names) == 0 {
		return nil
	}
	shown := names
	if len(shown) > 3 {
		shown = shown[:3]
	}
	detail := "Coroutine/async fn '" + c.fnName + "' has Yield terminator with sensitive locals " + formatNames(shown) + " potentially live at suspension point — secrets stored in heap-allocated Future state machine; ZeroizeOnDrop covers stack variables only"
	return []finding.Finding{mkFinding(counter, finding.NotOnAllPaths, finding.SeverityHigh, detail, c.mirFile, c.fnStart, shown[0])}
}

func detectResultErrPathWithSecret(counter *finding.Counter, c ctx) []finding.Finding {
	hasErr := false
	for _, line := range c.fnLines {
		if errRe.MatchString(line) {
			hasErr = true
			break
		}
	}
	if !hasErr {
		return nil
	}
	names := sensitiveLocalNames(c.debugMap, c.names)
	if len(names) == 0 {
		return nil
	}
	shown := names
	if len(shown) > 3 {
		shown = shown[:3]
	}
	detail := "Potential Result::Err early-return path in '" + c.fnName + "' with sensitive locals " + formatNames(shown) + " still in scope — verify cleanup on all error exits"
	return []finding.Finding{mkFinding(counter, finding.NotOnAllPaths, finding.SeverityHigh, detail, c.mirFile, c.fnStart, shown[0])}
}

func sensitiveLocalNames(debugMap map[string]string, m *sensitive.Matcher) []string {
	var slots []string
	for slot := range debugMap {
		slots = append(slots, slot)
	}
	sortStrings(slots)
	var names []string
	for _, slot := range slots {
		if isSensitiveLocal(slot, debugMap, m) {
			names = append(names, debugMap[slot])
		}
	}
	return names
}

func formatNames(names []string) string {
	return "[" + strings.Join(quoteAll(names), ", ") + "]"
}

func quoteAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = "'" + s + "'"
	}
	return out
}

func mkFinding(counter *finding.Counter, category finding.Category, severity finding.Severity, detail, file string, line int, symbol string) finding.Finding {
	return finding.Finding{
		ID:         counter.Next(),
		Category:   category,
		Severity:   severity,
		Confidence: finding.Likely,
		Symbol:     symbol,
		Location:   finding.Location{File: file, Line: line},
		Detail:     detail,
		Evidence:   []finding.Evidence{{Source: finding.SourceMIRText, Detail: detail}},
	}
}

// sortStrings is a small insertion sort kept local to this package so that
// detector output order matches the Python original's dict/set iteration
// after an explicit sort, without pulling in the sort package for a handful
// of short slices.
func sortStrings(ss []string) {
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && ss[j-1] > ss[j]; j-- {
			ss[j-1], ss[j] = ss[j], ss[j-1]
		}
	}
}

// Analyze ports analyze(mir_text, sensitive_objects, mir_file) exactly: it
// splits the MIR into per-function bodies, builds the debug-slot-to-varname
// map for each, and runs all eight detectors in the same fixed order.
func Analyze(counter *finding.Counter, mirText string, extra []sensitive.Descriptor, mirFile string) []finding.Finding {
	var out []finding.Finding
	functions := splitIntoFunctions(mirText)
	matcher := sensitive.NewLocal(extra)

	for _, fn := range functions {
		debugMap := localNamesFromDebugInfo(fn.lines)
		c := ctx{fnName: fn.name, fnLines: fn.lines, fnStart: fn.start, debugMap: debugMap, mirFile: mirFile, names: matcher}

		var fnFindings []finding.Finding
		fnFindings = append(fnFindings, detectDropBeforeStorageDead(counter, c)...)
		fnFindings = append(fnFindings, detectResumeWithLiveSecrets(counter, c)...)
		fnFindings = append(fnFindings, detectAggregateMoveNonZeroizing(counter, c)...)
		fnFindings = append(fnFindings, detectClosureCaptureSecret(counter, c)...)
		fnFindings = append(fnFindings, detectDropGlueWithoutZeroize(counter, c)...)
		fnFindings = append(fnFindings, detectFFICallWithSecret(counter, c)...)
		fnFindings = append(fnFindings, detectYieldWithLiveSecret(counter, c)...)
		fnFindings = append(fnFindings, detectResultErrPathWithSecret(counter, c)...)

		if fn.malformed {
			for i := range fnFindings {
				fnFindings[i].NeedsReview = true
			}
		}
		out = append(out, fnFindings...)
	}

	return out
}
