package poc

import (
	"fmt"
	"regexp"

	"github.com/archguard/zeroaudit/internal/finding"
)

// Each generator below ports one _GENERATORS entry from generate_poc.py.
// They share the helpers in poc.go (funcName, pocFilename,
// buildPoCSource, evidenceText) and differ only in strategy comment, body
// template, and which evidence fields they mine for placeholder sizes.

// --- MISSING_SOURCE_ZEROIZE ----------------------------------------------

type missingSourceZeroizePoC struct{}

func (missingSourceZeroizePoC) Category() finding.Category { return finding.MissingSourceZeroize }

func (missingSourceZeroizePoC) Generate(f finding.Finding, ctx *Context) Result {
	func_ := funcName(f)
	filename := pocFilename(f)
	comment := []string{
		fmt.Sprintf("PoC for finding %s: %s", f.ID, f.Category),
		fmt.Sprintf("Source: %s:%d", f.Location.File, f.Location.Line),
		"Strategy: Call function at -O0, volatile-read buffer after return,",
		"          verify secret persists.",
	}

	var body []string
	var notes string
	if func_ != "" {
		body = []string{
			"unsigned char secret_buf[256];",
			"fill_secret(secret_buf, sizeof(secret_buf));",
			"",
			"/* Call the function that handles the secret */",
			func_ + "(/* TODO: fill in arguments */);",
			"",
			"/* Check if the secret buffer still contains data */",
			"if (volatile_read_nonzero(secret_buf, sizeof(secret_buf)))",
			"    POC_PASS();",
			"else",
			"    POC_FAIL();",
		}
		notes = fmt.Sprintf("Fill in arguments for %s() call and adjust secret_buf to point to the actual sensitive variable.", func_)
	} else {
		body = []string{
			"/* TODO: call the function that handles the secret */",
			"/* TODO: volatile-read the secret buffer after return */",
			"/* if (volatile_read_nonzero(ptr, len)) POC_PASS(); else POC_FAIL(); */",
			`fprintf(stderr, "PoC requires manual adjustment\n");`,
			"exit(1);",
		}
		notes = "Could not determine function signature. Fill in function call and secret buffer check."
	}

	return Result{Filename: filename, Source: buildPoCSource(f, ctx, comment, body), OptLevel: "-O0", RequiresManual: true, AdjustmentNotes: notes}
}

// --- OPTIMIZED_AWAY_ZEROIZE -----------------------------------------------

type optimizedAwayZeroizePoC struct{}

func (optimizedAwayZeroizePoC) Category() finding.Category { return finding.OptimizedAwayZeroize }

var optLevelFromDiffRe = regexp.MustCompile(`O([1-3s])`)

func (optimizedAwayZeroizePoC) Generate(f finding.Finding, ctx *Context) Result {
	func_ := funcName(f)
	filename := pocFilename(f)

	optLevel := "-O2"
	if f.CompilerEvidence != nil {
		if m := optLevelFromDiffRe.FindStringSubmatch(f.CompilerEvidence.DiffSummary); m != nil {
			optLevel = "-O" + m[1]
		}
	}

	comment := []string{
		fmt.Sprintf("PoC for finding %s: %s", f.ID, f.Category),
		fmt.Sprintf("Source: %s:%d", f.Location.File, f.Location.Line),
		fmt.Sprintf("Strategy: Compile at %s where the wipe vanishes,", optLevel),
		"          call function, volatile-read buffer.",
	}

	var body []string
	var notes string
	if func_ != "" {
		body = []string{
			"unsigned char secret_buf[256];",
			"fill_secret(secret_buf, sizeof(secret_buf));",
			"",
			"/* Call function that contains the wipe the compiler removes */",
			func_ + "(/* TODO: fill in arguments */);",
			"",
			"/* At this opt level the compiler has removed the wipe.",
			"   Volatile-read the buffer to see if secret persists. */",
			"if (volatile_read_nonzero(secret_buf, sizeof(secret_buf)))",
			"    POC_PASS();",
			"else",
			"    POC_FAIL();",
		}
		notes = fmt.Sprintf("Fill in arguments for %s(). Compile at %s where the wipe disappears.", func_, optLevel)
	} else {
		body = []string{
			"/* TODO: call function whose wipe is optimized away */",
			`fprintf(stderr, "PoC requires manual adjustment\n");`,
			"exit(1);",
		}
		notes = "Could not determine function signature."
	}

	return Result{Filename: filename, Source: buildPoCSource(f, ctx, comment, body), OptLevel: optLevel, RequiresManual: true, AdjustmentNotes: notes}
}

// --- STACK_RETENTION --------------------------------------------------------

type stackRetentionPoC struct{}

func (stackRetentionPoC) Category() finding.Category { return finding.StackRetention }

var frameSizeRe = regexp.MustCompile(`(\d+)\s*bytes?\s*(?:frame|stack|alloc)`)

func (stackRetentionPoC) Generate(f finding.Finding, ctx *Context) Result {
	func_ := funcName(f)
	filename := pocFilename(f)
	frameSize := firstMatch(frameSizeRe, evidenceText(f), "256")

	comment := []string{
		fmt.Sprintf("PoC for finding %s: %s", f.ID, f.Category),
		fmt.Sprintf("Source: %s:%d", f.Location.File, f.Location.Line),
		"Strategy: Call function, immediately call stack_probe() with",
		"          matching frame size to detect residual secrets.",
	}

	var body []string
	var notes string
	if func_ != "" {
		body = []string{
			"/* Call the function that leaves secrets on the stack */",
			func_ + "(/* TODO: fill in arguments */);",
			"",
			"/* Immediately probe the stack for residual secret data */",
			fmt.Sprintf("if (stack_probe(%s))", frameSize),
			"    POC_PASS();",
			"else",
			"    POC_FAIL();",
		}
		notes = fmt.Sprintf("Fill in arguments for %s(). Frame size %s is estimated from evidence; adjust if needed.", func_, frameSize)
	} else {
		body = []string{
			"/* TODO: call the function that retains secrets on stack */",
			fmt.Sprintf("if (stack_probe(%s))", frameSize),
			"    POC_PASS();",
			"else",
			"    POC_FAIL();",
		}
		notes = "Could not determine function signature."
	}

	return Result{Filename: filename, Source: buildPoCSource(f, ctx, comment, body), OptLevel: "-O2", RequiresManual: true, AdjustmentNotes: notes}
}

// --- REGISTER_SPILL ----------------------------------------------------------

type registerSpillPoC struct{}

func (registerSpillPoC) Category() finding.Category { return finding.RegisterSpill }

var spillOffsetRe = regexp.MustCompile(`-(\d+)\(%[re][sb]p\)`)

func (registerSpillPoC) Generate(f finding.Finding, ctx *Context) Result {
	func_ := funcName(f)
	filename := pocFilename(f)
	offset := firstMatch(spillOffsetRe, evidenceText(f), "64")

	comment := []string{
		fmt.Sprintf("PoC for finding %s: %s", f.ID, f.Category),
		fmt.Sprintf("Source: %s:%d", f.Location.File, f.Location.Line),
		"Strategy: Like stack retention but probe the specific spill",
		"          offset region from ASM evidence.",
	}

	var body []string
	var notes string
	if func_ != "" {
		body = []string{
			"/* Call the function that spills secrets to stack */",
			func_ + "(/* TODO: fill in arguments */);",
			"",
			"/* Probe the specific spill offset region */",
			fmt.Sprintf("if (stack_probe(%s))", offset),
			"    POC_PASS();",
			"else",
			"    POC_FAIL();",
		}
		notes = fmt.Sprintf("Fill in arguments for %s(). Spill offset %s from ASM evidence; adjust if needed.", func_, offset)
	} else {
		body = []string{
			"/* TODO: call the function that spills registers to stack */",
			fmt.Sprintf("if (stack_probe(%s))", offset),
			"    POC_PASS();",
			"else",
			"    POC_FAIL();",
		}
		notes = "Could not determine function signature."
	}

	return Result{Filename: filename, Source: buildPoCSource(f, ctx, comment, body), OptLevel: "-O2", RequiresManual: true, AdjustmentNotes: notes}
}

// --- SECRET_COPY --------------------------------------------------------------

type secretCopyPoC struct{}

func (secretCopyPoC) Category() finding.Category { return finding.SecretCopy }

func (secretCopyPoC) Generate(f finding.Finding, ctx *Context) Result {
	func_ := funcName(f)
	filename := pocFilename(f)

	comment := []string{
		fmt.Sprintf("PoC for finding %s: %s", f.ID, f.Category),
		fmt.Sprintf("Source: %s:%d", f.Location.File, f.Location.Line),
		"Strategy: Call function at -O0, verify original may be wiped,",
		"          volatile-read the copy destination.",
	}

	var body []string
	var notes string
	if func_ != "" {
		body = []string{
			"/* Call function; it copies the secret internally */",
			func_ + "(/* TODO: fill in arguments */);",
			"",
			"/* The original may be wiped, but the copy destination persists.",
			"   TODO: point this at the actual copy destination buffer. */",
			"unsigned char *copy_dest = NULL; /* TODO: set to copy destination */",
			"if (copy_dest && volatile_read_has_secret(copy_dest, 256))",
			"    POC_PASS();",
			"else",
			"    POC_FAIL();",
		}
		notes = fmt.Sprintf("Fill in arguments for %s() and set copy_dest to point to the buffer where the secret is copied.", func_)
	} else {
		body = []string{
			"/* TODO: call the function that copies the secret */",
			"/* TODO: volatile-read the copy destination after return */",
			`fprintf(stderr, "PoC requires manual adjustment\n");`,
			"exit(1);",
		}
		notes = "Could not determine function signature or copy destination."
	}

	return Result{Filename: filename, Source: buildPoCSource(f, ctx, comment, body), OptLevel: "-O0", RequiresManual: true, AdjustmentNotes: notes}
}

// --- MISSING_ON_ERROR_PATH ----------------------------------------------------

type missingOnErrorPathPoC struct{}

func (missingOnErrorPathPoC) Category() finding.Category { return finding.MissingOnErrorPath }

func (missingOnErrorPathPoC) Generate(f finding.Finding, ctx *Context) Result {
	func_ := funcName(f)
	filename := pocFilename(f)

	comment := []string{
		fmt.Sprintf("PoC for finding %s: %s", f.ID, f.Category),
		fmt.Sprintf("Source: %s:%d", f.Location.File, f.Location.Line),
		"Strategy: Force the error path via controlled input,",
		"          volatile-read buffer after error return.",
	}

	var body []string
	var notes string
	if func_ != "" {
		body = []string{
			"unsigned char secret_buf[256];",
			"fill_secret(secret_buf, sizeof(secret_buf));",
			"",
			"/* Force the error path via controlled input.",
			"   TODO: set up inputs that trigger the error return. */",
			fmt.Sprintf("int ret = %s(/* TODO: error-triggering arguments */);", func_),
			"",
			`fprintf(stderr, "Function returned: %d\n", ret);`,
			`hex_dump("Secret buffer after error return", secret_buf,`,
			"         sizeof(secret_buf));",
			"",
			"/* After error return the secret should have been wiped */",
			"if (volatile_read_has_secret(secret_buf, sizeof(secret_buf)))",
			"    POC_PASS();",
			"else",
			"    POC_FAIL();",
		}
		notes = fmt.Sprintf("Fill in error-triggering arguments for %s(). The error path must be taken to demonstrate missing cleanup.", func_)
	} else {
		body = []string{
			"/* TODO: call function with error-triggering inputs */",
			"/* TODO: volatile-read buffer after error return */",
			`fprintf(stderr, "PoC requires manual adjustment\n");`,
			"exit(1);",
		}
		notes = "Could not determine function signature."
	}

	return Result{Filename: filename, Source: buildPoCSource(f, ctx, comment, body), OptLevel: "-O0", RequiresManual: true, AdjustmentNotes: notes}
}

// --- PARTIAL_WIPE --------------------------------------------------------------

type partialWipePoC struct{}

func (partialWipePoC) Category() finding.Category { return finding.PartialWipe }

var byteSizeRe = regexp.MustCompile(`(\d+)\s*bytes?`)

func (partialWipePoC) Generate(f finding.Finding, ctx *Context) Result {
	func_ := funcName(f)
	filename := pocFilename(f)

	wipedSize, fullSize := "8", "256"
	if sizes := byteSizeRe.FindAllStringSubmatch(evidenceText(f), -1); len(sizes) >= 2 {
		wipedSize = sizes[0][1]
		fullSize = sizes[1][1]
	}

	comment := []string{
		fmt.Sprintf("PoC for finding %s: %s", f.ID, f.Category),
		fmt.Sprintf("Source: %s:%d", f.Location.File, f.Location.Line),
		"Strategy: Fill full buffer with secret, call function, volatile-read",
		"          the tail beyond the incorrectly-sized wipe.",
	}

	var body []string
	var notes string
	if func_ != "" {
		body = []string{
			fmt.Sprintf("unsigned char buf[%s];", fullSize),
			fmt.Sprintf("fill_secret(buf, %s);", fullSize),
			"",
			"/* Call function that partially wipes the buffer */",
			func_ + "(/* TODO: fill in arguments */);",
			"",
			fmt.Sprintf("/* The wipe covers only %s bytes of %s.", wipedSize, fullSize),
			"   Check the tail beyond the wiped region. */",
			fmt.Sprintf("if (volatile_read_has_secret(buf + %s, %s - %s))", wipedSize, fullSize, wipedSize),
			"    POC_PASS();",
			"else",
			"    POC_FAIL();",
		}
		notes = fmt.Sprintf("Fill in arguments for %s(). Wiped size %s and full size %s are estimated from evidence; adjust if needed.", func_, wipedSize, fullSize)
	} else {
		body = []string{
			fmt.Sprintf("unsigned char buf[%s];", fullSize),
			fmt.Sprintf("fill_secret(buf, %s);", fullSize),
			"",
			"/* TODO: call the function that partially wipes the buffer */",
			"",
			fmt.Sprintf("/* Check tail beyond the %s-byte wipe */", wipedSize),
			fmt.Sprintf("if (volatile_read_has_secret(buf + %s, %s - %s))", wipedSize, fullSize, wipedSize),
			"    POC_PASS();",
			"else",
			"    POC_FAIL();",
		}
		notes = fmt.Sprintf("Could not determine function signature. Wiped size %s and full size %s are estimated; adjust if needed.", wipedSize, fullSize)
	}

	return Result{Filename: filename, Source: buildPoCSource(f, ctx, comment, body), OptLevel: "-O0", RequiresManual: true, AdjustmentNotes: notes}
}

// --- NOT_ON_ALL_PATHS ----------------------------------------------------------

type notOnAllPathsPoC struct{}

func (notOnAllPathsPoC) Category() finding.Category { return finding.NotOnAllPaths }

var uncoveredLineRe = regexp.MustCompile(`line (\d+)`)

func (notOnAllPathsPoC) Generate(f finding.Finding, ctx *Context) Result {
	func_ := funcName(f)
	filename := pocFilename(f)
	uncoveredLine := firstMatch(uncoveredLineRe, evidenceText(f), "unknown")

	comment := []string{
		fmt.Sprintf("PoC for finding %s: %s", f.ID, f.Category),
		fmt.Sprintf("Source: %s:%d", f.Location.File, f.Location.Line),
		"Strategy: Force execution down the uncovered path that lacks the wipe,",
		"          then volatile-read the secret buffer.",
	}

	var body []string
	var notes string
	if func_ != "" {
		body = []string{
			"unsigned char secret_buf[256];",
			"fill_secret(secret_buf, sizeof(secret_buf));",
			"",
			"/* Force the uncovered path (no wipe).",
			fmt.Sprintf("   TODO: set up inputs that take the path at line %s. */", uncoveredLine),
			func_ + "(/* TODO: path-forcing arguments */);",
			"",
			"/* After taking the uncovered path the secret should persist */",
			"if (volatile_read_has_secret(secret_buf, sizeof(secret_buf)))",
			"    POC_PASS();",
			"else",
			"    POC_FAIL();",
		}
		notes = fmt.Sprintf("Fill in arguments for %s() that force execution through the uncovered path (line %s). Identify which inputs bypass the wipe.", func_, uncoveredLine)
	} else {
		body = []string{
			"/* TODO: call function with inputs that take the uncovered path */",
			"/* TODO: volatile-read buffer after return */",
			`fprintf(stderr, "PoC requires manual adjustment\n");`,
			"exit(1);",
		}
		notes = "Could not determine function signature. Identify inputs that force the uncovered path."
	}

	return Result{Filename: filename, Source: buildPoCSource(f, ctx, comment, body), OptLevel: "-O0", RequiresManual: true, AdjustmentNotes: notes}
}

// --- INSECURE_HEAP_ALLOC ----------------------------------------------------

type insecureHeapAllocPoC struct{}

func (insecureHeapAllocPoC) Category() finding.Category { return finding.InsecureHeapAlloc }

var heapSizeRe = regexp.MustCompile(`(\d+)`)
var allocatorRe = regexp.MustCompile(`(malloc|calloc|realloc)`)

func (insecureHeapAllocPoC) Generate(f finding.Finding, ctx *Context) Result {
	func_ := funcName(f)
	filename := pocFilename(f)
	evidence := evidenceText(f)
	allocSize := firstMatch(heapSizeRe, evidence, "256")
	allocator := firstMatch(allocatorRe, evidence, "malloc")

	comment := []string{
		fmt.Sprintf("PoC for finding %s: %s", f.ID, f.Category),
		fmt.Sprintf("Source: %s:%d", f.Location.File, f.Location.Line),
		"Strategy: Demonstrate heap residue -- allocate, fill with secret, free,",
		"          re-allocate same size, check if secret persists.",
		"NOTE: Do NOT compile with ASan (it poisons freed memory).",
	}

	body := []string{
		fmt.Sprintf("/* Demonstrate that %s() leaves secret residue after free */", allocator),
		fmt.Sprintf("if (heap_residue_check(%s))", allocSize),
		"    POC_PASS();",
		"else",
		"    POC_FAIL();",
	}

	var notes string
	if func_ != "" {
		body = append(body,
			"",
			"/* Additionally, call the function that uses the insecure allocator",
			"   and verify residue after it returns. */",
			fmt.Sprintf("/* %s(/ * TODO: fill in arguments * /); */", func_),
		)
		notes = fmt.Sprintf("The self-contained heap_residue_check() demonstrates the vulnerability. Optionally uncomment and fill in %s() for a function-specific test.", func_)
	} else {
		notes = fmt.Sprintf("Self-contained PoC using heap_residue_check(%s). Optionally add a call to the target function for specificity.", allocSize)
	}

	return Result{Filename: filename, Source: buildPoCSource(f, ctx, comment, body), OptLevel: "-O0", RequiresManual: false, AdjustmentNotes: notes}
}

// --- LOOP_UNROLLED_INCOMPLETE --------------------------------------------------

type loopUnrolledIncompletePoC struct{}

func (loopUnrolledIncompletePoC) Category() finding.Category { return finding.LoopUnrolledIncomplete }

var coveredBytesRe = regexp.MustCompile(`(\d+)\s*consecutive`)
var objectSizeRe = regexp.MustCompile(`object size is (\d+)`)

func (loopUnrolledIncompletePoC) Generate(f finding.Finding, ctx *Context) Result {
	func_ := funcName(f)
	filename := pocFilename(f)
	evidence := evidenceText(f)
	coveredBytes := firstMatch(coveredBytesRe, evidence, "16")
	fullSize := firstMatch(objectSizeRe, evidence, "256")

	comment := []string{
		fmt.Sprintf("PoC for finding %s: %s", f.ID, f.Category),
		fmt.Sprintf("Source: %s:%d", f.Location.File, f.Location.Line),
		"Strategy: Compile at -O2 where incomplete loop unrolling occurs.",
		fmt.Sprintf("          Fill buffer, call function, check tail beyond %s", coveredBytes),
		fmt.Sprintf("          unrolled bytes (object size: %s).", fullSize),
	}

	var body []string
	var notes string
	if func_ != "" {
		body = []string{
			fmt.Sprintf("unsigned char buf[%s];", fullSize),
			fmt.Sprintf("fill_secret(buf, %s);", fullSize),
			"",
			"/* Call function whose wipe loop is incompletely unrolled at -O2 */",
			func_ + "(/* TODO: fill in arguments */);",
			"",
			fmt.Sprintf("/* The compiler unrolled %s bytes of the wipe loop", coveredBytes),
			fmt.Sprintf("   but the object is %s bytes. Check the tail. */", fullSize),
			fmt.Sprintf("if (volatile_read_has_secret(buf + %s, %s - %s))", coveredBytes, fullSize, coveredBytes),
			"    POC_PASS();",
			"else",
			"    POC_FAIL();",
		}
		notes = fmt.Sprintf("Fill in arguments for %s(). Covered bytes %s and object size %s are estimated from IR evidence; adjust if needed. Must compile at -O2 for unrolling to occur.", func_, coveredBytes, fullSize)
	} else {
		body = []string{
			fmt.Sprintf("unsigned char buf[%s];", fullSize),
			fmt.Sprintf("fill_secret(buf, %s);", fullSize),
			"",
			"/* TODO: call function with incompletely unrolled wipe loop */",
			"",
			fmt.Sprintf("/* Check tail beyond the %s-byte unrolled region */", coveredBytes),
			fmt.Sprintf("if (volatile_read_has_secret(buf + %s, %s - %s))", coveredBytes, fullSize, coveredBytes),
			"    POC_PASS();",
			"else",
			"    POC_FAIL();",
		}
		notes = fmt.Sprintf("Could not determine function signature. Covered bytes %s and object size %s are estimated; adjust if needed.", coveredBytes, fullSize)
	}

	return Result{Filename: filename, Source: buildPoCSource(f, ctx, comment, body), OptLevel: "-O2", RequiresManual: true, AdjustmentNotes: notes}
}

// --- NOT_DOMINATING_EXITS ----------------------------------------------------

type notDominatingExitsPoC struct{}

func (notDominatingExitsPoC) Category() finding.Category { return finding.NotDominatingExits }

var exitLineRe = regexp.MustCompile(`exit at line (\d+)`)
var exitPathCountRe = regexp.MustCompile(`(\d+) of (\d+) exit paths`)

func (notDominatingExitsPoC) Generate(f finding.Finding, ctx *Context) Result {
	func_ := funcName(f)
	filename := pocFilename(f)
	evidence := evidenceText(f)

	var exitInfo string
	if m := exitLineRe.FindStringSubmatch(evidence); m != nil {
		exitInfo = "line " + m[1]
	} else if m := exitPathCountRe.FindStringSubmatch(evidence); m != nil {
		exitInfo = fmt.Sprintf("%s of %s exit paths", m[1], m[2])
	} else {
		exitInfo = "an exit path that bypasses the wipe"
	}

	comment := []string{
		fmt.Sprintf("PoC for finding %s: %s", f.ID, f.Category),
		fmt.Sprintf("Source: %s:%d", f.Location.File, f.Location.Line),
		"Strategy: Force execution through an exit path that bypasses the wipe",
		fmt.Sprintf("          (CFG evidence: %s), then volatile-read the secret.", exitInfo),
	}

	var body []string
	var notes string
	if func_ != "" {
		body = []string{
			"unsigned char secret_buf[256];",
			"fill_secret(secret_buf, sizeof(secret_buf));",
			"",
			"/* Force execution through the exit path that bypasses the wipe.",
			fmt.Sprintf("   CFG shows the wipe does not dominate %s.", exitInfo),
			"   TODO: set up inputs that reach this exit path. */",
			func_ + "(/* TODO: exit-path-forcing arguments */);",
			"",
			"/* After taking the non-dominated exit the secret should persist */",
			"if (volatile_read_has_secret(secret_buf, sizeof(secret_buf)))",
			"    POC_PASS();",
			"else",
			"    POC_FAIL();",
		}
		notes = fmt.Sprintf("Fill in arguments for %s() that force execution through %s (the exit not dominated by the wipe). Requires understanding of the function's control flow.", func_, exitInfo)
	} else {
		body = []string{
			"/* TODO: call function with inputs that reach the non-dominated exit */",
			"/* TODO: volatile-read buffer after return */",
			`fprintf(stderr, "PoC requires manual adjustment\n");`,
			"exit(1);",
		}
		notes = "Could not determine function signature. Identify inputs that reach the exit path bypassing the wipe."
	}

	return Result{Filename: filename, Source: buildPoCSource(f, ctx, comment, body), OptLevel: "-O0", RequiresManual: true, AdjustmentNotes: notes}
}
