package asm

import (
	"testing"

	"github.com/archguard/zeroaudit/internal/finding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectArchitectureX86(t *testing.T) {
	assert.Equal(t, ArchX86_64, DetectArchitecture("movq %rsp, %rax"))
}

func TestDetectArchitectureAArch64(t *testing.T) {
	assert.Equal(t, ArchAArch64, DetectArchitecture("stp x29, x30, [sp, #-32]!"))
}

func TestDetectArchitectureUnknown(t *testing.T) {
	assert.Equal(t, ArchUnknown, DetectArchitecture("nop\nnop\n"))
}

func TestUnknownArchEmitsSkippedFinding(t *testing.T) {
	counter := finding.NewCounter("RUST", "ASM")
	findings := Analyze(counter, "nop\n", []string{"SecretKey"}, "test.s")
	require.Len(t, findings, 1)
	assert.Equal(t, finding.AnalysisSkipped, findings[0].Category)
	assert.Equal(t, finding.Confirmed, findings[0].Confidence)
}

func TestX86StackRetentionNoZeroStore(t *testing.T) {
	counter := finding.NewCounter("RUST", "ASM")
	asmText := `.type wipe_secret_key,@function
wipe_secret_key:
	subq $32, %rsp
	movq %rdi, -8(%rsp)
	retq
`
	findings := Analyze(counter, asmText, []string{"secret_key"}, "test.s")
	var saw bool
	for _, f := range findings {
		if f.Category == finding.StackRetention {
			saw = true
		}
	}
	assert.True(t, saw)
}

func TestX86StackRetentionWithZeroStoreNotFlagged(t *testing.T) {
	counter := finding.NewCounter("RUST", "ASM")
	asmText := `.type wipe_secret_key,@function
wipe_secret_key:
	subq $32, %rsp
	movq $0, -8(%rsp)
	retq
`
	findings := Analyze(counter, asmText, []string{"secret_key"}, "test.s")
	for _, f := range findings {
		assert.NotEqual(t, finding.StackRetention, f.Category)
	}
}

func TestX86RegisterSpillCalleeSavedHighSeverity(t *testing.T) {
	counter := finding.NewCounter("RUST", "ASM")
	asmText := `.type process_secret,@function
process_secret:
	subq $16, %rsp
	movq %rbx, -8(%rsp)
	movq $0, -16(%rsp)
	retq
`
	findings := Analyze(counter, asmText, []string{"secret"}, "test.s")
	var saw bool
	for _, f := range findings {
		if f.Category == finding.RegisterSpill && f.Severity == finding.SeverityHigh {
			saw = true
		}
	}
	assert.True(t, saw)
}

func TestDropGlueWithoutZeroizeCall(t *testing.T) {
	counter := finding.NewCounter("RUST", "ASM")
	asmText := `.type drop_in_place_SecretKey,@function
drop_in_place_SecretKey:
	movq %rdi, %rax
	retq
`
	findings := Analyze(counter, asmText, []string{"SecretKey"}, "test.s")
	var saw bool
	for _, f := range findings {
		if f.Category == finding.MissingSourceZeroize {
			saw = true
		}
	}
	assert.True(t, saw)
}

func TestNonSensitiveFunctionSkipped(t *testing.T) {
	counter := finding.NewCounter("RUST", "ASM")
	asmText := `.type unrelated_fn,@function
unrelated_fn:
	subq $32, %rsp
	retq
`
	findings := Analyze(counter, asmText, []string{"secret_key"}, "test.s")
	assert.Empty(t, findings)
}

func TestAArch64StackRetentionExperimental(t *testing.T) {
	counter := finding.NewCounter("RUST", "ASM")
	asmText := `.globl wipe_secret_key
wipe_secret_key:
	stp x29, x30, [sp, #-32]!
	str x0, [sp, #16]
	ret
`
	findings := Analyze(counter, asmText, []string{"secret_key"}, "test.s")
	var sawStackRetention bool
	for _, f := range findings {
		if f.Category == finding.StackRetention {
			sawStackRetention = true
			assert.Contains(t, f.Detail, "[EXPERIMENTAL]")
		}
	}
	assert.True(t, sawStackRetention)
}

func TestDemangleSymbolsPartial(t *testing.T) {
	mangled := "_ZN7example9SecretKey4wipe17h1a2b3c4d5e6f7089E"
	out := DemangleSymbols(mangled)
	assert.Equal(t, "example::SecretKey::wipe", out)
}
