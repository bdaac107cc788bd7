// Package x86 is the x86-64 AT&T-syntax assembly backend for STACK_RETENTION,
// REGISTER_SPILL and red-zone STACK_RETENTION. Ground truth:
// check_rust_asm_x86.py. Production-ready, unlike the aarch64 backend.
package x86

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/archguard/zeroaudit/internal/asm/archfinding"
)

// callerSaved/calleeSaved reproduce the System V AMD64 ABI register classes
// exactly as CALLER_SAVED/CALLEE_SAVED (identical for C/C++ and Rust).
var callerSaved = map[string]bool{
	"rax": true, "rcx": true, "rdx": true, "rsi": true, "rdi": true,
	"r8": true, "r9": true, "r10": true, "r11": true,
	"xmm0": true, "xmm1": true, "xmm2": true, "xmm3": true, "xmm4": true,
	"xmm5": true, "xmm6": true, "xmm7": true, "xmm8": true, "xmm9": true,
	"xmm10": true, "xmm11": true, "xmm12": true, "xmm13": true, "xmm14": true, "xmm15": true,
}

var calleeSaved = map[string]bool{
	"rbx": true, "r12": true, "r13": true, "r14": true, "r15": true, "rbp": true,
}

var (
	frameAllocRe = regexp.MustCompile(`subq\s+\$(\d+),\s+%rsp`)
	movqZeroRe   = regexp.MustCompile(`movq\s+\$0,\s+-?\d+\(%r[sb]p\)`)
	movlZeroRe   = regexp.MustCompile(`movl\s+\$0,\s+-?\d+\(%r[sb]p\)`)
	movwZeroRe   = regexp.MustCompile(`movw\s+\$0,\s+-?\d+\(%r[sb]p\)`)
	movbZeroRe   = regexp.MustCompile(`movb\s+\$0,\s+-?\d+\(%r[sb]p\)`)
	memsetCallRe = regexp.MustCompile(`call\s+.*(?:memset|volatile_set_memory|zeroize)`)
	simdZeroRe   = regexp.MustCompile(`(?:xorps|xorpd|pxor|vpxor)\s+%(\w+),\s+%(\w+)`)
	regSpillRe   = regexp.MustCompile(`mov(?:q|dqa|ups|aps)\s+%(\w+),\s+(-?\d+)\(%r[sb]p\)`)
	retRe        = regexp.MustCompile(`\bret[ql]?\b`)
	redZoneRe    = regexp.MustCompile(`mov(?:q|l|b|w)\s+%\w+,\s+-(\d+)\(%rsp\)`)
)

type lineEntry struct {
	lineno int
	text   string
}

func stripComment(line string) string {
	if i := strings.Index(line, "#"); i != -1 {
		return line[:i]
	}
	return line
}

func hasZeroStore(code string) bool {
	if movqZeroRe.MatchString(code) || movlZeroRe.MatchString(code) || movwZeroRe.MatchString(code) || movbZeroRe.MatchString(code) {
		return true
	}
	if memsetCallRe.MatchString(code) {
		return true
	}
	if m := simdZeroRe.FindStringSubmatch(code); m != nil && m[1] == m[2] {
		return true
	}
	return false
}

func checkStackRetention(funcName string, lines []lineEntry) *archfinding.Finding {
	var allocLine *lineEntry
	frameSize := 0
	zeroed := false
	var retLine *lineEntry

	for _, le := range lines {
		code := stripComment(le.text)

		if m := frameAllocRe.FindStringSubmatch(code); m != nil && allocLine == nil {
			trimmed := lineEntry{lineno: le.lineno, text: strings.TrimSpace(le.text)}
			allocLine = &trimmed
			frameSize, _ = strconv.Atoi(m[1])
		}
		if hasZeroStore(code) {
			zeroed = true
		}
		if retRe.MatchString(code) {
			retLine = &lineEntry{lineno: le.lineno, text: strings.TrimSpace(le.text)}
		}
	}

	if allocLine != nil && retLine != nil && !zeroed && frameSize > 0 {
		detail := "Stack frame of " + itoa(frameSize) + " bytes allocated at line " + itoa(allocLine.lineno) +
			" ('" + allocLine.text + "') but no zero-store found before return at line " + itoa(retLine.lineno)
		evidence := allocLine.text + " at line " + itoa(allocLine.lineno) + "; no volatile wipe before retq at line " + itoa(retLine.lineno)
		return &archfinding.Finding{
			Category: "STACK_RETENTION", Severity: "high", Symbol: funcName,
			Detail: detail, EvidenceDetail: evidence,
		}
	}
	return nil
}

func checkRegisterSpill(funcName string, lines []lineEntry) []archfinding.Finding {
	type spill struct {
		lineno  int
		reg     string
		text    string
		class   string
	}
	var spills []spill
	for _, le := range lines {
		m := regSpillRe.FindStringSubmatch(le.text)
		if m == nil {
			continue
		}
		reg := m[1]
		if callerSaved[reg] {
			spills = append(spills, spill{le.lineno, reg, strings.TrimSpace(le.text), "caller-saved"})
		} else if calleeSaved[reg] {
			spills = append(spills, spill{le.lineno, reg, strings.TrimSpace(le.text), "callee-saved"})
		}
	}

	var out []archfinding.Finding
	seen := make(map[string]bool)
	for _, s := range spills {
		if seen[s.reg] {
			continue
		}
		seen[s.reg] = true
		severity := "medium"
		if s.class == "callee-saved" {
			severity = "high"
		}
		detail := "Register %" + s.reg + " (" + s.class + ") spilled to stack at line " + itoa(s.lineno) +
			" in function '" + funcName + "' — may expose secret value"
		out = append(out, archfinding.Finding{
			Category: "REGISTER_SPILL", Severity: severity, Symbol: funcName,
			Detail: detail, EvidenceDetail: s.text + " at line " + itoa(s.lineno),
		})
	}
	return out
}

func checkRedZone(funcName string, lines []lineEntry) *archfinding.Finding {
	for _, le := range lines {
		if frameAllocRe.MatchString(le.text) {
			return nil
		}
	}

	redZoneDepth := 0
	zeroed := false
	hasRet := false

	for _, le := range lines {
		code := stripComment(le.text)
		if m := redZoneRe.FindStringSubmatch(code); m != nil {
			offset, _ := strconv.Atoi(m[1])
			if offset <= 128 && offset > redZoneDepth {
				redZoneDepth = offset
			}
		}
		if hasZeroStore(code) {
			zeroed = true
		}
		if retRe.MatchString(code) {
			hasRet = true
		}
	}

	if redZoneDepth > 0 && hasRet && !zeroed {
		detail := "Leaf function '" + funcName + "' stores " + itoa(redZoneDepth) +
			" bytes in the x86-64 red zone (below %rsp) without zeroing before return — sensitive data may persist in the 128-byte region below %rsp"
		evidence := "red zone depth -" + itoa(redZoneDepth) + "(%rsp); no mov[qwlb] $0 or memset/zeroize call before retq"
		return &archfinding.Finding{
			Category: "STACK_RETENTION", Severity: "high", Symbol: funcName,
			Detail: detail, EvidenceDetail: evidence,
		}
	}
	return nil
}

// Line is one (lineno, text) assembly source line, handed in by the
// dispatcher's per-function split.
type Line struct {
	LineNo int
	Text   string
}

// AnalyzeFunction runs all x86-64 checks for one sensitive function.
func AnalyzeFunction(funcName string, lines []Line) []archfinding.Finding {
	entries := make([]lineEntry, len(lines))
	for i, l := range lines {
		entries[i] = lineEntry{lineno: l.LineNo, text: l.Text}
	}

	var out []archfinding.Finding
	if f := checkStackRetention(funcName, entries); f != nil {
		out = append(out, *f)
	}
	out = append(out, checkRegisterSpill(funcName, entries)...)
	if f := checkRedZone(funcName, entries); f != nil {
		out = append(out, *f)
	}
	return out
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
