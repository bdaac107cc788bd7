// Package orchestrate fans analysis work for many files out across a bounded
// pool of goroutines and merges the per-file findings back into a single,
// deterministically ordered result.
package orchestrate

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/archguard/zeroaudit/internal/finding"
)

// DefaultConcurrency mirrors the teacher engine's default worker count when
// no explicit limit is configured.
const DefaultConcurrency = 5

// StageFunc analyzes a single file and returns the findings it produced.
// Implementations should write any progress/debug output to log rather than
// directly to stdout/stderr, so the orchestrator can flush it atomically.
type StageFunc func(ctx context.Context, file string, log *strings.Builder) ([]finding.Finding, error)

// FileError pairs a file with the error its stage returned.
type FileError struct {
	File string
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

// RunResult is the merged outcome of running a StageFunc over a file set.
type RunResult struct {
	Findings []finding.Finding
	Errors   []FileError
}

// Orchestrator runs a StageFunc over a list of files with bounded
// concurrency, buffering each goroutine's log output and flushing it
// atomically so interleaved writes from concurrent files never tear.
type Orchestrator struct {
	// Concurrency caps the number of files analyzed at once. <= 0 falls
	// back to DefaultConcurrency.
	Concurrency int
	// Out receives flushed per-file log output. Defaults to io.Discard.
	Out io.Writer

	mu sync.Mutex
}

// New builds an Orchestrator with the given concurrency limit and log sink.
// A nil out discards log output.
func New(concurrency int, out io.Writer) *Orchestrator {
	if out == nil {
		out = io.Discard
	}
	return &Orchestrator{Concurrency: concurrency, Out: out}
}

type fileResult struct {
	file     string
	findings []finding.Finding
	err      error
}

// Run analyzes every file in files with stage, at most o.Concurrency at a
// time. A per-file error does not abort the run or affect other files; it is
// collected into RunResult.Errors. Findings are returned in the same order
// as files, regardless of completion order, so output stays deterministic
// across runs.
func (o *Orchestrator) Run(ctx context.Context, files []string, stage StageFunc) RunResult {
	concurrency := o.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	results := make([]fileResult, len(files))

	var g errgroup.Group
	g.SetLimit(concurrency)

	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			var log strings.Builder
			findings, err := stage(ctx, file, &log)
			results[i] = fileResult{file: file, findings: findings, err: err}
			o.flush(&log)
			return nil
		})
	}
	// Stage errors are carried in results, never returned to the group, so
	// Wait can only fail if a StageFunc panics through errgroup's recovery
	// path; there is nothing actionable to do with that here.
	_ = g.Wait()

	var out RunResult
	for _, r := range results {
		out.Findings = append(out.Findings, r.findings...)
		if r.err != nil {
			out.Errors = append(out.Errors, FileError{File: r.file, Err: r.err})
		}
	}
	return out
}

func (o *Orchestrator) flush(log *strings.Builder) {
	if log.Len() == 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprint(o.Out, log.String())
}
