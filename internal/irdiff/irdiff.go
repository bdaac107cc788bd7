// Package irdiff implements spec.md §4.4: comparison of LLVM IR emitted at
// different optimization levels for the same translation unit, reporting
// wipe operations that disappear under optimization. Ground truth:
// check_llvm_patterns.py.
package irdiff

import (
	"regexp"
	"sort"
	"strings"

	"github.com/archguard/zeroaudit/internal/finding"
)

// secretAllocaSizes reproduces SECRET_ALLOCA_SIZES.
var secretAllocaSizes = map[int]bool{16: true, 24: true, 32: true, 48: true, 64: true, 96: true, 128: true}

var (
	volatileStoreRe   = regexp.MustCompile(`\bstore volatile\b`)
	volatileByTargetRe = regexp.MustCompile(`\bstore volatile\b[^,]*,\s*(?:ptr|i\d+\*)\s+%([\w.\-]+)`)
	allocaRe          = regexp.MustCompile(`%(\w+)\s*=\s*alloca\s+\[(\d+)\s*x\s*i8\]`)
	lifetimeEndRe     = regexp.MustCompile(`call void @llvm\.lifetime\.end[^(]*\([^,]+,\s*(?:ptr|i8\*)\s+%(\w+)`)
	memsetCallRe      = regexp.MustCompile(`call void @llvm\.memset\.`)
	volatileFlagRe    = regexp.MustCompile(`i1\s+true`)
	secretReturnRe    = regexp.MustCompile(`(?i)\bret\s+[^%]*%(\w*(?:key|secret|password|token|nonce|seed|priv|master|credential)\w*)`)
	callArgsRe        = regexp.MustCompile(`\bcall\s+\S+\s+@\w+\s*\((.*)\)`)
	secretInArgsRe    = regexp.MustCompile(`(?i)%\w*(?:key|secret|password|token|nonce|seed|priv|master|credential)\w*`)
	secretLoadRe      = regexp.MustCompile(`(?i)(%\w*(?:key|secret|password|token|nonce|seed)\w*)\s*=\s*load\b`)
	callCalleeArgsRe  = regexp.MustCompile(`call\s+\S+\s+(@\w+)\s*\(([^)]*)\)`)
	defineLineRe      = regexp.MustCompile(`^define\s`)
)

func countVolatileStores(text string) int {
	return len(volatileStoreRe.FindAllString(text, -1))
}

func volatileStoresByTarget(text string) map[string]int {
	out := make(map[string]int)
	for _, m := range volatileByTargetRe.FindAllStringSubmatch(text, -1) {
		out[m[1]]++
	}
	return out
}

func extractAllocas(text string) map[string]int {
	out := make(map[string]int)
	for _, m := range allocaRe.FindAllStringSubmatch(text, -1) {
		n := 0
		for _, c := range m[2] {
			n = n*10 + int(c-'0')
		}
		out[m[1]] = n
	}
	return out
}

func extractLifetimeEnds(text string) map[string]bool {
	out := make(map[string]bool)
	for _, m := range lifetimeEndRe.FindAllStringSubmatch(text, -1) {
		out[m[1]] = true
	}
	return out
}

func extractVolatileStoreTargets(text string) map[string]bool {
	out := make(map[string]bool)
	for k := range volatileStoresByTarget(text) {
		out[k] = true
	}
	return out
}

type lineMatch struct {
	line int
	text string
}

func findNonvolatileMemsets(text string) []lineMatch {
	var out []lineMatch
	for i, line := range strings.Split(text, "\n") {
		if !memsetCallRe.MatchString(line) {
			continue
		}
		if strings.Contains(line, "unordered.atomic") {
			continue
		}
		if volatileFlagRe.MatchString(line) {
			continue
		}
		out = append(out, lineMatch{line: i + 1, text: strings.TrimSpace(line)})
	}
	return out
}

func findSecretReturns(text string) []lineMatch {
	var out []lineMatch
	for i, line := range strings.Split(text, "\n") {
		if m := secretReturnRe.FindStringSubmatch(line); m != nil {
			out = append(out, lineMatch{line: i + 1, text: m[1]})
		}
	}
	return out
}

func findSecretAggregatePasses(text string) []lineMatch {
	var out []lineMatch
	for i, line := range strings.Split(text, "\n") {
		m := callArgsRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		args := m[1]
		if secretInArgsRe.MatchString(args) && (strings.Contains(args, "{") || strings.Contains(args, "byval")) {
			snippet := args
			if len(snippet) > 120 {
				snippet = snippet[:120]
			}
			out = append(out, lineMatch{line: i + 1, text: snippet})
		}
	}
	return out
}

type argLoadCall struct {
	line    int
	varname string
	callee  string
}

func findArgLoadCalls(text string) []argLoadCall {
	var out []argLoadCall
	loadedVars := make(map[string]int)
	for i, line := range strings.Split(text, "\n") {
		if defineLineRe.MatchString(line) {
			loadedVars = make(map[string]int)
			continue
		}
		if m := secretLoadRe.FindStringSubmatch(line); m != nil {
			loadedVars[m[1]] = i + 1
			continue
		}
		mc := callCalleeArgsRe.FindStringSubmatch(line)
		if mc == nil {
			continue
		}
		callee := mc[1]
		lower := strings.ToLower(callee)
		if strings.Contains(lower, "zeroize") || strings.Contains(lower, "memset") {
			continue
		}
		args := mc[2]
		var names []string
		for n := range loadedVars {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, varname := range names {
			if strings.Contains(args, varname) {
				out = append(out, argLoadCall{line: i + 1, varname: strings.TrimPrefix(varname, "%"), callee: callee})
			}
		}
	}
	return out
}

// Level is one optimization level's IR file contents.
type Level struct {
	File string
	Text string
}

// Analyze reproduces analyze(level_to_ir) exactly, including both
// de-duplication rules for the optional multi-level pass.
func Analyze(counter *finding.Counter, levels map[string]Level) []finding.Finding {
	var findings []finding.Finding

	o0, ok0 := levels["O0"]
	o2, ok2 := levels["O2"]
	if !ok0 || !ok2 {
		return findings
	}

	mk := func(category finding.Category, severity finding.Severity, detail, file string, line int, symbol string) finding.Finding {
		return finding.Finding{
			ID:         counter.Next(),
			Category:   category,
			Severity:   severity,
			Confidence: finding.Likely,
			Symbol:     symbol,
			Location:   finding.Location{File: file, Line: line},
			Detail:     detail,
			Evidence:   []finding.Evidence{{Source: finding.SourceIRDiff, Detail: detail}},
			CompilerEvidence: &finding.CompilerEvidence{
				O0: o0.File,
				O2: o2.File,
			},
		}
	}

	// 1. Global volatile store count drop O0 -> O2.
	o0VolCount := countVolatileStores(o0.Text)
	o2VolCount := countVolatileStores(o2.Text)
	if o0VolCount > o2VolCount {
		diff := o0VolCount - o2VolCount
		f := mk(finding.OptimizedAwayZeroize, finding.SeverityHigh,
			formatDrop(o0VolCount, o2VolCount, diff), o2.File, 0, "")
		f.CompilerEvidence.DiffSummary = formatDrop(o0VolCount, o2VolCount, diff)
		findings = append(findings, f)
	}

	// 1b. Per-target volatile store drop O0 -> O2.
	o0ByTarget := volatileStoresByTarget(o0.Text)
	o2ByTarget := volatileStoresByTarget(o2.Text)
	var o0Targets []string
	for t := range o0ByTarget {
		o0Targets = append(o0Targets, t)
	}
	sort.Strings(o0Targets)
	reportedBy1b := make(map[string]bool)
	for _, target := range o0Targets {
		c0 := o0ByTarget[target]
		c2 := o2ByTarget[target]
		if c0 > c2 {
			reportedBy1b[target] = true
			detail := "Volatile stores to %" + target + " dropped from " + itoa(c0) + " (O0) to " + itoa(c2) + " (O2) — symbol-specific wipe elimination detected"
			f := mk(finding.OptimizedAwayZeroize, finding.SeverityHigh, detail, o2.File, 0, target)
			f.CompilerEvidence.DiffSummary = detail
			findings = append(findings, f)
		}
	}

	// 2. Non-volatile llvm.memset calls in O2.
	for _, m := range findNonvolatileMemsets(o2.Text) {
		snippet := m.text
		if len(snippet) > 80 {
			snippet = snippet[:80]
		}
		detail := "Non-volatile @llvm.memset in O2 IR — DSE-eligible, may be removed at higher optimization. Use zeroize crate or volatile memset. IR: " + snippet
		f := mk(finding.OptimizedAwayZeroize, finding.SeverityHigh, detail, o2.File, m.line, "")
		f.CompilerEvidence.DiffSummary = "non-volatile llvm.memset at O2"
		findings = append(findings, f)
	}

	// 3. alloca with lifetime.end but no volatile store (STACK_RETENTION).
	o2Allocas := extractAllocas(o2.Text)
	o2LifetimeEnds := extractLifetimeEnds(o2.Text)
	o2VolTargets := extractVolatileStoreTargets(o2.Text)
	var o2AllocaNames []string
	for name := range o2Allocas {
		o2AllocaNames = append(o2AllocaNames, name)
	}
	sort.Strings(o2AllocaNames)
	for _, name := range o2AllocaNames {
		size := o2Allocas[name]
		if !secretAllocaSizes[size] {
			continue
		}
		if !o2LifetimeEnds[name] {
			continue
		}
		if o2VolTargets[name] {
			continue
		}
		detail := "alloca [" + itoa(size) + " x i8] %" + name + " has @llvm.lifetime.end but no volatile store — stack bytes not wiped before slot is freed"
		findings = append(findings, mk(finding.StackRetention, finding.SeverityHigh, detail, o2.File, 0, name))
	}

	// 4. SROA/mem2reg: secret alloca present at O0 but absent at O2.
	o0Allocas := extractAllocas(o0.Text)
	o0VolTargets := extractVolatileStoreTargets(o0.Text)
	var o0AllocaNames []string
	for name := range o0Allocas {
		o0AllocaNames = append(o0AllocaNames, name)
	}
	sort.Strings(o0AllocaNames)
	for _, name := range o0AllocaNames {
		size := o0Allocas[name]
		if !secretAllocaSizes[size] {
			continue
		}
		if _, present := o2Allocas[name]; present {
			continue
		}
		if !o0VolTargets[name] {
			continue
		}
		detail := "alloca [" + itoa(size) + " x i8] %" + name + " present at O0 but absent at O2 — SROA/mem2reg promoted it to registers; any volatile stores targeting this alloca are now unreachable"
		f := mk(finding.OptimizedAwayZeroize, finding.SeverityHigh, detail, o2.File, 0, name)
		f.CompilerEvidence.DiffSummary = detail
		findings = append(findings, f)
	}

	// 5. Secret value loaded then passed to a non-wipe call (REGISTER_SPILL).
	for _, m := range findArgLoadCalls(o2.Text) {
		detail := "Secret-named SSA value '%" + m.varname + "' loaded and passed directly to '" + m.callee + "' — value in argument register may not be cleared after call"
		findings = append(findings, mk(finding.RegisterSpill, finding.SeverityMedium, detail, o2.File, m.line, m.varname))
	}

	// 6. Secret return values (REGISTER_SPILL).
	for _, m := range findSecretReturns(o2.Text) {
		detail := "Secret-named SSA value '%" + m.text + "' is returned directly — value may persist in return registers after function exit"
		findings = append(findings, mk(finding.RegisterSpill, finding.SeverityMedium, detail, o2.File, m.line, m.text))
	}

	// 7. Aggregate/by-value secret argument passing (SECRET_COPY).
	for _, m := range findSecretAggregatePasses(o2.Text) {
		detail := "Potential by-value aggregate call argument contains secret-named data; copy may escape zeroization tracking. Args: " + m.text
		findings = append(findings, mk(finding.SecretCopy, finding.SeverityMedium, detail, o2.File, m.line, ""))
	}

	// 8. Optional multi-level comparison (O0->O1->O2->O3).
	levelOrder := []string{"O0", "O1", "O2", "O3"}
	var present []string
	for _, lvl := range levelOrder {
		if _, ok := levels[lvl]; ok {
			present = append(present, lvl)
		}
	}
	for i := 0; i < len(present)-1; i++ {
		fromLevel := present[i]
		toLevel := present[i+1]
		if fromLevel == "O0" && toLevel == "O2" {
			continue
		}
		fromIR := levels[fromLevel]
		toIR := levels[toLevel]
		fromTargets := volatileStoresByTarget(fromIR.Text)
		toTargets := volatileStoresByTarget(toIR.Text)
		var targets []string
		for t := range fromTargets {
			targets = append(targets, t)
		}
		sort.Strings(targets)
		for _, target := range targets {
			if reportedBy1b[target] {
				continue
			}
			fromCount := fromTargets[target]
			toCount := toTargets[target]
			if fromCount > toCount {
				detail := "Volatile stores to %" + target + " dropped from " + itoa(fromCount) + " (" + fromLevel + ") to " + itoa(toCount) + " (" + toLevel + ")"
				f := mk(finding.OptimizedAwayZeroize, finding.SeverityHigh, detail, toIR.File, 0, target)
				f.CompilerEvidence.DiffSummary = detail
				findings = append(findings, f)
			}
		}
	}

	return findings
}

func formatDrop(o0, o2, diff int) string {
	return "Volatile store count dropped from " + itoa(o0) + " (O0) to " + itoa(o2) + " (O2) — " + itoa(diff) + " volatile wipe(s) eliminated by dead-store elimination"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{byte('0' + n%10)}, buf...)
		n /= 10
	}
	if neg {
		buf = append([]byte{'-'}, buf...)
	}
	return string(buf)
}
