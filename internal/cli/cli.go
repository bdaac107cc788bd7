package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/archguard/zeroaudit/internal/asm"
	"github.com/archguard/zeroaudit/internal/cache"
	"github.com/archguard/zeroaudit/internal/cfg"
	"github.com/archguard/zeroaudit/internal/compileflags"
	"github.com/archguard/zeroaudit/internal/config"
	"github.com/archguard/zeroaudit/internal/finding"
	"github.com/archguard/zeroaudit/internal/git"
	"github.com/archguard/zeroaudit/internal/irdiff"
	"github.com/archguard/zeroaudit/internal/llm"
	"github.com/archguard/zeroaudit/internal/mcp"
	"github.com/archguard/zeroaudit/internal/mir"
	"github.com/archguard/zeroaudit/internal/orchestrate"
	"github.com/archguard/zeroaudit/internal/poc"
	"github.com/archguard/zeroaudit/internal/scanner"
	"github.com/archguard/zeroaudit/internal/sensitive"
	"gopkg.in/yaml.v3"
)

const configFilename = "zeroaudit.yaml"

// Execute parses the command-line arguments, normalizes paths relative to
// the git root, and routes execution to the appropriate subcommand handler.
// The dispatch shape — git-root normalization, then a flag.NewFlagSet per
// subcommand — is kept from the teacher's Execute/runCheck/runIndex split.
func Execute() error {
	fmt.Println("zeroaudit - zeroization evidence engine")

	repoRoot, err := git.GetRepoRoot()
	if err == nil {
		cwd, _ := os.Getwd()
		repoRoot = filepath.Clean(repoRoot)
		cwd = filepath.Clean(cwd)

		if !strings.EqualFold(cwd, repoRoot) {
			for i := 2; i < len(os.Args); i++ {
				arg := os.Args[i]
				if !strings.HasPrefix(arg, "-") {
					absPath := filepath.Join(cwd, arg)
					if relPath, err := filepath.Rel(repoRoot, absPath); err == nil {
						os.Args[i] = filepath.ToSlash(relPath)
					}
				}
			}
			if err := os.Chdir(repoRoot); err != nil {
				return fmt.Errorf("error changing to git root: %v", err)
			}
		}
	}
	// Not being in a git repository is not fatal here, unlike the teacher:
	// zeroaudit's analyzers operate on individual compiler-artifact files
	// (.s, .ll, .mir) that may live outside any repository at all.

	if len(os.Args) < 2 {
		printUsage()
		return fmt.Errorf("no command provided")
	}

	switch os.Args[1] {
	case "init":
		return runInit()
	case "scan":
		return runScan(os.Args[2:])
	case "cfg":
		return runCFG(os.Args[2:])
	case "irdiff":
		return runIRDiff(os.Args[2:])
	case "mir":
		return runMIR(os.Args[2:])
	case "asm":
		return runASM(os.Args[2:])
	case "gate":
		return runGate(os.Args[2:])
	case "mcp-normalize":
		return runMCPNormalize(os.Args[2:])
	case "mcp-fetch":
		return runMCPFetch(os.Args[2:])
	case "poc":
		return runPoC(os.Args[2:])
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

func printUsage() {
	fmt.Println("Usage: zeroaudit <command> [arguments]")
	fmt.Println("\nCommands:")
	fmt.Println("  init            Write a default zeroaudit.yaml")
	fmt.Println("  scan            Run the source-level API pattern scanner over a directory")
	fmt.Println("  cfg             Run the CFG dominator analyzer over one or more source files")
	fmt.Println("  irdiff          Diff LLVM IR across optimization levels for one translation unit")
	fmt.Println("  mir             Run the MIR pattern analyzer over one or more MIR dumps")
	fmt.Println("  asm             Run the assembly analyzer over one or more .s files")
	fmt.Println("  gate            Apply confidence gates to a findings JSON document")
	fmt.Println("  mcp-normalize   Normalize external semantic-evidence JSON")
	fmt.Println("  mcp-fetch       Query a configured LLM provider for semantic evidence per finding")
	fmt.Println("  poc             Synthesize PoC harnesses from a findings JSON document")
}

func loadConfig() config.Config {
	cfg, err := config.LoadConfig(configFilename)
	if err != nil {
		return config.Default()
	}
	return *cfg
}

// runInit writes a default zeroaudit.yaml. An existing zeroaudit.yaml is
// left untouched; there is no prompt to overwrite it.
func runInit() error {
	if _, err := os.Stat(configFilename); err == nil {
		fmt.Printf("%s already exists; leaving it untouched.\n", configFilename)
		return nil
	}

	data, err := yamlMarshalDefault()
	if err != nil {
		return fmt.Errorf("failed to render default config: %v", err)
	}
	if err := os.WriteFile(configFilename, data, 0644); err != nil {
		return fmt.Errorf("failed to create config file: %v", err)
	}
	fmt.Printf("Created config: %s\n", configFilename)
	return nil
}

func yamlMarshalDefault() ([]byte, error) {
	return yaml.Marshal(config.Default())
}

func printFindings(findings []finding.Finding) error {
	out, err := json.MarshalIndent(findings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal findings: %v", err)
	}
	fmt.Println(string(out))
	return nil
}

// runScan runs the source-level API pattern scanner over one directory.
func runScan(args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: zeroaudit scan <source-root>")
	}

	s := scanner.New()
	findings, err := s.ScanDirectory(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("scan failed: %v", err)
	}
	return printFindings(findings)
}

// runCFG runs the CFG dominator analyzer over each file given, fanning out
// across files with internal/orchestrate the way the teacher's Engine.Run
// fans out across a content provider's file list.
func runCFG(args []string) error {
	fs := flag.NewFlagSet("cfg", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	files := fs.Args()
	if len(files) == 0 {
		return fmt.Errorf("usage: zeroaudit cfg <source-file> [source-file ...]")
	}

	cfgData := loadConfig()
	counter := finding.NewCounter("RUST", "CFG")

	o := orchestrate.New(cfgData.Analysis.MaxConcurrency, os.Stderr)
	result := o.Run(context.Background(), files, func(ctx context.Context, file string, log *strings.Builder) ([]finding.Finding, error) {
		b := cfg.NewBuilder(nil)
		if err := b.BuildFromSource(file); err != nil {
			return nil, err
		}
		return cfg.EmitFindings(counter, file, b.Analyze()), nil
	})

	for _, fe := range result.Errors {
		fmt.Fprintf(os.Stderr, "cfg: %v\n", fe)
	}
	return printFindings(result.Findings)
}

// runIRDiff diffs LLVM IR text across optimization levels. Levels are given
// as level=path pairs, e.g. "O0=foo.O0.ll" "O2=foo.O2.ll".
func runIRDiff(args []string) error {
	fs := flag.NewFlagSet("irdiff", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("usage: zeroaudit irdiff O0=<path> O2=<path> [O1=<path>] [O3=<path>]")
	}

	levels := make(map[string]irdiff.Level)
	for _, pair := range fs.Args() {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid level argument %q, expected LEVEL=path", pair)
		}
		data, err := os.ReadFile(parts[1])
		if err != nil {
			return fmt.Errorf("failed to read %s: %v", parts[1], err)
		}
		levels[parts[0]] = irdiff.Level{File: parts[1], Text: string(data)}
	}

	counter := finding.NewCounter("RUST", "IR")
	return printFindings(irdiff.Analyze(counter, levels))
}

// runMIR runs the MIR pattern analyzer over each MIR dump given.
func runMIR(args []string) error {
	fs := flag.NewFlagSet("mir", flag.ExitOnError)
	sensitiveFile := fs.String("sensitive-objects", "", "JSON file of extra {language, name} sensitive-object descriptors")
	if err := fs.Parse(args); err != nil {
		return err
	}
	files := fs.Args()
	if len(files) == 0 {
		return fmt.Errorf("usage: zeroaudit mir [--sensitive-objects=file.json] <mir-file> [mir-file ...]")
	}

	extra, err := loadSensitiveDescriptors(*sensitiveFile)
	if err != nil {
		return err
	}

	cfgData := loadConfig()
	counter := finding.NewCounter("RUST", "MIR")

	o := orchestrate.New(cfgData.Analysis.MaxConcurrency, os.Stderr)
	result := o.Run(context.Background(), files, func(ctx context.Context, file string, log *strings.Builder) ([]finding.Finding, error) {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		return mir.Analyze(counter, string(data), extra, file), nil
	})

	for _, fe := range result.Errors {
		fmt.Fprintf(os.Stderr, "mir: %v\n", fe)
	}
	return printFindings(result.Findings)
}

// runASM runs the assembly analyzer over each .s file given.
func runASM(args []string) error {
	fs := flag.NewFlagSet("asm", flag.ExitOnError)
	sensitiveFile := fs.String("sensitive-objects", "", "JSON file of extra {language, name} sensitive-object descriptors")
	if err := fs.Parse(args); err != nil {
		return err
	}
	files := fs.Args()
	if len(files) == 0 {
		return fmt.Errorf("usage: zeroaudit asm [--sensitive-objects=file.json] <asm-file> [asm-file ...]")
	}

	extra, err := loadSensitiveDescriptors(*sensitiveFile)
	if err != nil {
		return err
	}
	extraNames := asm.SensitiveNamesFromDescriptors(extra)

	cfgData := loadConfig()
	counter := finding.NewCounter("RUST", "ASM")

	o := orchestrate.New(cfgData.Analysis.MaxConcurrency, os.Stderr)
	result := o.Run(context.Background(), files, func(ctx context.Context, file string, log *strings.Builder) ([]finding.Finding, error) {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		return asm.Analyze(counter, string(data), extraNames, file), nil
	})

	for _, fe := range result.Errors {
		fmt.Fprintf(os.Stderr, "asm: %v\n", fe)
	}
	return printFindings(result.Findings)
}

func loadSensitiveDescriptors(path string) ([]sensitive.Descriptor, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sensitive-objects file: %v", err)
	}
	var descs []sensitive.Descriptor
	if err := json.Unmarshal(data, &descs); err != nil {
		return nil, fmt.Errorf("failed to parse sensitive-objects file: %v", err)
	}
	return descs, nil
}

// runGate applies the confidence gates to a findings JSON document in place
// and prints the gated document back out.
func runGate(args []string) error {
	fs := flag.NewFlagSet("gate", flag.ExitOnError)
	mcpAvailable := fs.Bool("mcp-available", false, "external semantic evidence was available for this run")
	requireMCP := fs.Bool("require-mcp-for-advanced", false, "require MCP evidence for advanced categories")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: zeroaudit gate [--mcp-available] [--require-mcp-for-advanced] <findings.json>")
	}

	findings, err := readFindingsFile(fs.Arg(0))
	if err != nil {
		return err
	}

	mcp.ApplyGates(findings, mcp.GateOptions{MCPAvailable: *mcpAvailable, RequireMCPForAdvanced: *requireMCP})

	issues := mcp.IssuesFound(findings)
	fmt.Fprintf(os.Stderr, "gate: %d finding(s) after gating\n", issues)
	return printFindings(findings)
}

// runMCPNormalize normalizes an external semantic-evidence JSON document
// (either a bare list or a {results: [...]} envelope) into the engine's
// evidence shape.
func runMCPNormalize(args []string) error {
	fs := flag.NewFlagSet("mcp-normalize", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: zeroaudit mcp-normalize <payload.json>")
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("failed to read payload: %v", err)
	}

	payload, err := decodeMCPPayload(data)
	if err != nil {
		return fmt.Errorf("failed to parse payload: %v", err)
	}

	normalized := mcp.Normalize(payload)
	out, err := json.MarshalIndent(normalized, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal normalized evidence: %v", err)
	}
	fmt.Println(string(out))
	return nil
}

// decodeMCPPayload accepts either a bare JSON list of results or a
// {"results": [...]} envelope, per spec.md §6's "list-or-envelope shape".
func decodeMCPPayload(data []byte) ([]mcp.RawResult, error) {
	var asList []mcp.RawResult
	if err := json.Unmarshal(data, &asList); err == nil {
		return asList, nil
	}

	var envelope struct {
		Results []mcp.RawResult `json:"results"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}
	return envelope.Results, nil
}

// runMCPFetch queries a configured LLM provider for semantic evidence
// corroborating each finding in a findings JSON document, caching results on
// disk so repeat runs over an unchanged tree never re-query the model for
// the same finding twice. Its output is a bare []mcp.RawResult document, the
// same shape mcp-normalize accepts, so the two subcommands compose in a
// pipeline.
func runMCPFetch(args []string) error {
	fs := flag.NewFlagSet("mcp-fetch", flag.ExitOnError)
	noCache := fs.Bool("no-cache", false, "skip the on-disk evidence cache")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: zeroaudit mcp-fetch [--no-cache] <findings.json>")
	}

	findings, err := readFindingsFile(fs.Arg(0))
	if err != nil {
		return err
	}

	cfgData := loadConfig()
	if !cfgData.MCP.Available {
		return fmt.Errorf("mcp-fetch: mcp.available is false in %s; nothing to query", configFilename)
	}

	provider, err := buildLLMProvider(cfgData.MCP)
	if err != nil {
		return err
	}

	var evidenceCache *cache.Cache
	if !*noCache {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to resolve working directory: %v", err)
		}
		evidenceCache, err = cache.NewCache(cwd)
		if err != nil {
			return fmt.Errorf("failed to open evidence cache: %v", err)
		}
	}

	ctx := context.Background()
	var results []mcp.RawResult
	for _, f := range findings {
		sourceCtx := sourceContextWindow(f.Location.File, f.Location.Line)
		key := cache.ComputeEvidenceKey(cfgData.MCP.Model, string(f.Category), f.Symbol, f.Location.File, f.Detail, sourceCtx, llm.DefaultSystemPrompt)

		var item *mcp.RawItem
		var hit bool
		if evidenceCache != nil {
			item, hit, err = evidenceCache.Get(key)
			if err != nil {
				fmt.Fprintf(os.Stderr, "mcp-fetch: cache read failed for %s: %v\n", f.ID, err)
			}
		}
		if !hit {
			item, err = llm.FetchSemanticEvidence(ctx, provider, string(f.Category), f.Symbol, f.Location.File, f.Detail, sourceCtx, llm.DefaultSystemPrompt)
			if err != nil {
				fmt.Fprintf(os.Stderr, "mcp-fetch: %s: %v\n", f.ID, err)
				continue
			}
			if evidenceCache != nil {
				if err := evidenceCache.Put(key, item); err != nil {
					fmt.Fprintf(os.Stderr, "mcp-fetch: cache write failed for %s: %v\n", f.ID, err)
				}
			}
		}
		if item != nil {
			results = append(results, mcp.RawResult{Tool: "llm", Query: f.ID, Target: f.Location.File, RawItem: *item})
		}
	}

	out, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal evidence results: %v", err)
	}
	fmt.Println(string(out))
	return nil
}

// sourceContextWindow reads the ~30-line window around line from path, the
// same window internal/poc's extractFunctionSignature uses, so the model
// sees enough surrounding code to judge reachability without being handed
// an entire file.
func sourceContextWindow(path string, line int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	lines := strings.Split(string(data), "\n")

	start := line - 15
	if start < 0 {
		start = 0
	}
	end := line + 15
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return ""
	}
	return strings.Join(lines[start:end], "\n")
}

// buildLLMProvider constructs the configured llm.Provider, mirroring the
// teacher's runCheck provider switch (cfg.LLM.Provider / ARCHGUARD_API_KEY)
// with the env var renamed to this engine's own.
func buildLLMProvider(cfg config.MCP) (llm.Provider, error) {
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	switch cfg.Provider {
	case "openai":
		apiKey := os.Getenv("ZEROAUDIT_API_KEY")
		if apiKey == "" {
			fmt.Fprintln(os.Stderr, "Warning: ZEROAUDIT_API_KEY is not set. OpenAI provider may fail.")
		}
		return llm.NewOpenAIProvider(apiKey, model), nil
	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return llm.NewOllamaProvider(baseURL, model, cfg.Temperature), nil
	case "gemini":
		apiKey := os.Getenv("ZEROAUDIT_API_KEY")
		if apiKey == "" {
			fmt.Fprintln(os.Stderr, "Warning: ZEROAUDIT_API_KEY is not set. Gemini provider may fail.")
		}
		return llm.NewGeminiProvider(apiKey, model), nil
	case "", "mock":
		return &llm.MockProvider{}, nil
	default:
		return nil, fmt.Errorf("unknown mcp provider: %s", cfg.Provider)
	}
}

// runPoC synthesizes PoC harnesses for the exploitable findings in a
// findings JSON document.
func runPoC(args []string) error {
	fs := flag.NewFlagSet("poc", flag.ExitOnError)
	categories := fs.String("categories", "", "comma-separated category filter (default: all exploitable categories)")
	compileDBPath := fs.String("compile-db", "", "compile_commands.json for flag resolution")
	workingDir := fs.String("working-dir", "", "working directory for relative compile-db paths")
	noConfidenceFilter := fs.Bool("no-confidence-filter", false, "synthesize PoCs regardless of confidence")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: zeroaudit poc [flags] <findings.json> <out-dir>")
	}

	findings, err := readFindingsFile(fs.Arg(0))
	if err != nil {
		return err
	}
	outDir := fs.Arg(1)

	var categoryFilter map[finding.Category]bool
	if *categories != "" {
		categoryFilter = make(map[finding.Category]bool)
		for _, c := range strings.Split(*categories, ",") {
			categoryFilter[finding.Category(strings.TrimSpace(c))] = true
		}
	}

	var compileDB []compileflags.Entry
	if *compileDBPath != "" {
		data, err := os.ReadFile(*compileDBPath)
		if err != nil {
			return fmt.Errorf("failed to read compile database: %v", err)
		}
		compileDB, err = compileflags.ParseDatabase(data)
		if err != nil {
			return fmt.Errorf("failed to parse compile database: %v", err)
		}
	}

	cfgData := loadConfig()
	manifest, err := poc.Run(findings, outDir, categoryFilter, cfgData.PoCGeneration.ToPoCConfig(), *noConfidenceFilter, compileDB, *workingDir)
	if err != nil {
		return fmt.Errorf("poc synthesis failed: %v", err)
	}

	fmt.Printf("Generated %d PoC(s) (%d requiring manual adjustment) in %s\n",
		manifest.PocsGenerated, manifest.PocsRequiringAdjustment, manifest.OutputDir)
	return nil
}

func readFindingsFile(path string) ([]finding.Finding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read findings file: %v", err)
	}
	findings, err := poc.LoadFindings(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse findings file: %v", err)
	}
	return findings, nil
}
