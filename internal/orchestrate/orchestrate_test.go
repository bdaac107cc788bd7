package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/archguard/zeroaudit/internal/finding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunPreservesFileOrderRegardlessOfCompletionOrder(t *testing.T) {
	files := []string{"a.c", "b.c", "c.c"}
	delays := map[string]time.Duration{
		"a.c": 15 * time.Millisecond,
		"b.c": 0,
		"c.c": 5 * time.Millisecond,
	}

	o := New(3, nil)
	result := o.Run(context.Background(), files, func(ctx context.Context, file string, log *strings.Builder) ([]finding.Finding, error) {
		time.Sleep(delays[file])
		return []finding.Finding{{ID: file}}, nil
	})

	require.Empty(t, result.Errors)
	require.Len(t, result.Findings, 3)
	assert.Equal(t, []string{"a.c", "b.c", "c.c"}, []string{
		result.Findings[0].ID, result.Findings[1].ID, result.Findings[2].ID,
	})
}

func TestRunRespectsConcurrencyLimit(t *testing.T) {
	files := make([]string, 10)
	for i := range files {
		files[i] = fmt.Sprintf("f%d.c", i)
	}

	var current, max int64
	o := New(2, nil)
	o.Run(context.Background(), files, func(ctx context.Context, file string, log *strings.Builder) ([]finding.Finding, error) {
		n := atomic.AddInt64(&current, 1)
		for {
			old := atomic.LoadInt64(&max)
			if n <= old || atomic.CompareAndSwapInt64(&max, old, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt64(&current, -1)
		return nil, nil
	})

	assert.LessOrEqual(t, atomic.LoadInt64(&max), int64(2))
}

func TestRunCollectsPerFileErrorsWithoutAbortingOthers(t *testing.T) {
	files := []string{"ok.c", "broken.c", "also-ok.c"}
	boom := errors.New("parse failure")

	o := New(0, nil)
	result := o.Run(context.Background(), files, func(ctx context.Context, file string, log *strings.Builder) ([]finding.Finding, error) {
		if file == "broken.c" {
			return nil, boom
		}
		return []finding.Finding{{ID: file}}, nil
	})

	require.Len(t, result.Errors, 1)
	assert.Equal(t, "broken.c", result.Errors[0].File)
	assert.ErrorIs(t, result.Errors[0].Err, boom)
	assert.Len(t, result.Findings, 2)
}

func TestRunFlushesLogOutputAtomically(t *testing.T) {
	files := []string{"x.c", "y.c"}
	var buf strings.Builder
	o := New(2, &buf)

	o.Run(context.Background(), files, func(ctx context.Context, file string, log *strings.Builder) ([]finding.Finding, error) {
		fmt.Fprintf(log, "analyzing %s\n", file)
		return nil, nil
	})

	out := buf.String()
	assert.Contains(t, out, "analyzing x.c\n")
	assert.Contains(t, out, "analyzing y.c\n")
}

func TestRunDefaultsConcurrencyWhenUnset(t *testing.T) {
	o := New(0, nil)
	assert.Equal(t, 0, o.Concurrency)
	result := o.Run(context.Background(), []string{"a.c"}, func(ctx context.Context, file string, log *strings.Builder) ([]finding.Finding, error) {
		return []finding.Finding{{ID: "a"}}, nil
	})
	require.Len(t, result.Findings, 1)
}

func TestRunEmptyFileListReturnsEmptyResult(t *testing.T) {
	o := New(5, nil)
	result := o.Run(context.Background(), nil, func(ctx context.Context, file string, log *strings.Builder) ([]finding.Finding, error) {
		t.Fatal("stage should never be called for an empty file list")
		return nil, nil
	})
	assert.Empty(t, result.Findings)
	assert.Empty(t, result.Errors)
}
