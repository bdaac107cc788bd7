// Package aarch64 is the AArch64 (AAPCS64) assembly backend for
// STACK_RETENTION and REGISTER_SPILL. Ground truth:
// check_rust_asm_aarch64.py.
//
// EXPERIMENTAL: AArch64 support is incomplete. x29 (frame pointer) and x30
// (link register) are always saved in the prologue and will almost always
// surface as REGISTER_SPILL findings despite rarely carrying secret values;
// `dc zva` is not recognized as a zero-store; AArch64 has no red zone so no
// red-zone check exists here (unlike the x86-64 backend). Every finding this
// package returns should be treated as indicative only.
package aarch64

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/archguard/zeroaudit/internal/asm/archfinding"
)

var callerSaved = map[string]bool{
	"x0": true, "x1": true, "x2": true, "x3": true, "x4": true, "x5": true,
	"x6": true, "x7": true, "x8": true, "x9": true, "x10": true, "x11": true,
	"x12": true, "x13": true, "x14": true, "x15": true, "x16": true, "x17": true,
	"v0": true, "v1": true, "v2": true, "v3": true, "v4": true, "v5": true, "v6": true, "v7": true,
	"v16": true, "v17": true, "v18": true, "v19": true, "v20": true, "v21": true,
	"v22": true, "v23": true, "v24": true, "v25": true, "v26": true, "v27": true,
	"v28": true, "v29": true, "v30": true, "v31": true,
}

// calleeSaved includes x29/x30 (always-spilled prologue registers, per the
// documented limitation above) and the lower-64-bits-preserved v8-v15.
var calleeSaved = map[string]bool{
	"x19": true, "x20": true, "x21": true, "x22": true, "x23": true, "x24": true,
	"x25": true, "x26": true, "x27": true, "x28": true, "x29": true, "x30": true,
	"v8": true, "v9": true, "v10": true, "v11": true, "v12": true, "v13": true, "v14": true, "v15": true,
}

var (
	frameSTPRe   = regexp.MustCompile(`stp\s+x29,\s+x30,\s+\[sp,\s+#-(\d+)\]!`)
	frameSubRe   = regexp.MustCompile(`sub\s+sp,\s+sp,\s+#(\d+)`)
	strXzrRe     = regexp.MustCompile(`\bstr\s+[xw]zr,\s+\[sp(?:,\s*#-?\d+)?\]`)
	stpXzrRe     = regexp.MustCompile(`\bstp\s+[xw]zr,\s+[xw]zr,\s+\[sp(?:,\s*#-?\d+)?\]`)
	moviZeroRe   = regexp.MustCompile(`\bmovi\s+v\d+\.\w+,\s+#0\b`)
	memsetRe     = regexp.MustCompile(`\bbl\s+.*(?:memset|volatile_set_memory|zeroize)`)
	strSpillRe   = regexp.MustCompile(`\bstr\s+(x\d+|v\d+|q\d+),\s+\[sp(?:,\s*#-?\d+)?\]`)
	stpSpillRe   = regexp.MustCompile(`\bstp\s+((?:x|q)\d+),\s+((?:x|q)\d+),\s+\[sp(?:,\s*#-?\d+)?\]`)
	retRe        = regexp.MustCompile(`\bret\b`)
	qRegRe       = regexp.MustCompile(`^q(\d+)$`)
)

// Line is one (lineno, text) assembly source line.
type Line struct {
	LineNo int
	Text   string
}

func hasZeroStore(text string) bool {
	if strXzrRe.MatchString(text) || stpXzrRe.MatchString(text) {
		return true
	}
	return moviZeroRe.MatchString(text) || memsetRe.MatchString(text)
}

func checkStackRetention(funcName string, lines []Line) *archfinding.Finding {
	var allocLine *Line
	frameSize := 0
	zeroed := false
	var retLine *Line

	for i := range lines {
		l := lines[i]
		if m := frameSTPRe.FindStringSubmatch(l.Text); m != nil {
			if allocLine == nil {
				trimmed := Line{LineNo: l.LineNo, Text: strings.TrimSpace(l.Text)}
				allocLine = &trimmed
			}
			n, _ := strconv.Atoi(m[1])
			frameSize += n
		}
		if m := frameSubRe.FindStringSubmatch(l.Text); m != nil {
			if allocLine == nil {
				trimmed := Line{LineNo: l.LineNo, Text: strings.TrimSpace(l.Text)}
				allocLine = &trimmed
			}
			n, _ := strconv.Atoi(m[1])
			frameSize += n
		}
		if hasZeroStore(l.Text) {
			zeroed = true
		}
		if retRe.MatchString(l.Text) {
			trimmed := Line{LineNo: l.LineNo, Text: strings.TrimSpace(l.Text)}
			retLine = &trimmed
		}
	}

	if allocLine != nil && retLine != nil && !zeroed && frameSize > 0 {
		detail := "[EXPERIMENTAL] AArch64 stack frame of " + strconv.Itoa(frameSize) + " bytes allocated at line " +
			strconv.Itoa(allocLine.LineNo) + " ('" + allocLine.Text + "') but no zero-store (str xzr / stp xzr,xzr / movi+stp / zeroize call) found before return at line " + strconv.Itoa(retLine.LineNo)
		evidence := allocLine.Text + " at line " + strconv.Itoa(allocLine.LineNo) + "; no str/stp xzr or zeroize call before ret at line " + strconv.Itoa(retLine.LineNo)
		return &archfinding.Finding{
			Category: "STACK_RETENTION", Severity: "high", Symbol: funcName,
			Detail: detail, EvidenceDetail: evidence,
		}
	}
	return nil
}

func checkRegisterSpill(funcName string, lines []Line) []archfinding.Finding {
	type spill struct {
		lineno int
		reg    string
		text   string
	}
	var spills []spill

	for _, l := range lines {
		if m := strSpillRe.FindStringSubmatch(l.Text); m != nil {
			reg := m[1]
			if calleeSaved[reg] || callerSaved[reg] {
				spills = append(spills, spill{l.LineNo, reg, strings.TrimSpace(l.Text)})
			} else if qRegRe.MatchString(reg) {
				spills = append(spills, spill{l.LineNo, reg, strings.TrimSpace(l.Text)})
			}
		}
		if m := stpSpillRe.FindStringSubmatch(l.Text); m != nil {
			for _, reg := range []string{m[1], m[2]} {
				if reg == "xzr" {
					continue
				}
				if calleeSaved[reg] || callerSaved[reg] || qRegRe.MatchString(reg) {
					spills = append(spills, spill{l.LineNo, reg, strings.TrimSpace(l.Text)})
				}
			}
		}
	}

	var out []archfinding.Finding
	seen := make(map[string]bool)
	for _, s := range spills {
		if seen[s.reg] {
			continue
		}
		seen[s.reg] = true

		var regClass, severity string
		switch {
		case calleeSaved[s.reg]:
			regClass, severity = "callee-saved", "high"
		case qRegRe.MatchString(s.reg) && isQ8to15(s.reg):
			regClass, severity = "callee-saved (partial)", "high"
		default:
			regClass, severity = "caller-saved", "medium"
		}

		detail := "[EXPERIMENTAL] AArch64 register " + s.reg + " (" + regClass + ") spilled to stack at line " +
			strconv.Itoa(s.lineno) + " in function '" + funcName + "' — may expose secret value"
		out = append(out, archfinding.Finding{
			Category: "REGISTER_SPILL", Severity: severity, Symbol: funcName,
			Detail: detail, EvidenceDetail: s.text + " at line " + strconv.Itoa(s.lineno),
		})
	}
	return out
}

func isQ8to15(reg string) bool {
	m := qRegRe.FindStringSubmatch(reg)
	if m == nil {
		return false
	}
	n, _ := strconv.Atoi(m[1])
	return n >= 8 && n <= 15
}

// AnalyzeFunction runs all AArch64 checks for one sensitive function. Every
// returned finding carries [EXPERIMENTAL] in its detail and requires manual
// verification — there is no red-zone check here, unlike x86-64: AAPCS64
// defines no red zone on either Linux or Apple silicon.
func AnalyzeFunction(funcName string, lines []Line) []archfinding.Finding {
	var out []archfinding.Finding
	if f := checkStackRetention(funcName, lines); f != nil {
		out = append(out, *f)
	}
	out = append(out, checkRegisterSpill(funcName, lines)...)
	return out
}
