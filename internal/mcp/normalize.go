// Package mcp implements spec.md §4.7: normalizing the optional external
// semantic-evidence collaborator's output ("MCP", an external static-analysis
// tool this engine queries but does not implement — spec.md's Serena MCP)
// into consistent evidence records, and applying the confidence gate that
// downgrades findings lacking corroborating evidence. Ground truth:
// normalize_mcp_evidence.py and apply_confidence_gates.py.
package mcp

import (
	"sort"
	"strconv"
	"strings"
)

// RawResult is one top-level entry of the MCP payload, either a bare item or
// a {tool, query, target, items: [...]} envelope.
type RawResult struct {
	Tool   string         `json:"tool,omitempty"`
	Query  string         `json:"query,omitempty"`
	Target string         `json:"target,omitempty"`
	Items  []RawItem      `json:"items,omitempty"`
	RawItem
}

// RawItem is one leaf semantic-evidence record as MCP reports it.
type RawItem struct {
	File       string `json:"file,omitempty"`
	URI        string `json:"uri,omitempty"`
	Line       any    `json:"line,omitempty"`
	Symbol     string `json:"symbol,omitempty"`
	Name       string `json:"name,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Snippet    string `json:"snippet,omitempty"`
	Confidence any    `json:"confidence,omitempty"`
}

// Evidence is one normalized semantic-evidence entry, per _normalize_item.
type Evidence struct {
	File       string         `json:"file"`
	Line       *int           `json:"line"`
	Symbol     string         `json:"symbol"`
	Kind       string         `json:"kind"`
	Detail     string         `json:"detail"`
	Source     string         `json:"source"`
	Confidence any            `json:"confidence"`
	Metadata   EvidenceMeta   `json:"metadata"`
}

// EvidenceMeta carries the provenance fields the gate's scoring pipeline may
// want, plus the raw item for audit purposes.
type EvidenceMeta struct {
	Query    string  `json:"query,omitempty"`
	Target   string  `json:"target,omitempty"`
	RawItem  RawItem `json:"raw_item"`
}

// Coverage tallies how many normalized evidence entries came from each tool
// and each kind, per the "by_tool"/"by_kind" counters.
type Coverage struct {
	ByTool map[string]int `json:"by_tool"`
	ByKind map[string]int `json:"by_kind"`
}

// Normalized is normalize()'s full return value.
type Normalized struct {
	MCPAvailable  bool       `json:"mcp_available"`
	EvidenceCount int        `json:"evidence_count"`
	Evidence      []Evidence `json:"evidence"`
	Coverage      Coverage   `json:"coverage"`
}

// Normalize takes the already-decoded result list (internal/cli's
// decodeMCPPayload accepts either a bare list of results or a
// {results: [...]} envelope), and reproduces normalize()'s per-item expansion:
// each result without an explicit "items" list is treated as a single
// one-item result, per the Python fallback `items = [result]`.
func Normalize(payload []RawResult) Normalized {
	var normalized []Evidence
	tools := make(map[string]int)
	kinds := make(map[string]int)

	for _, result := range payload {
		tool := result.Tool
		if tool == "" {
			tool = "mcp"
		}
		tools[tool]++

		items := result.Items
		if items == nil {
			items = []RawItem{result.RawItem}
		}

		for _, item := range items {
			entry := normalizeItem(result, item)
			normalized = append(normalized, entry)
			kinds[entry.Kind]++
		}
	}

	return Normalized{
		MCPAvailable:  len(normalized) > 0,
		EvidenceCount: len(normalized),
		Evidence:      normalized,
		Coverage:      Coverage{ByTool: tools, ByKind: kinds},
	}
}

func normalizeItem(result RawResult, item RawItem) Evidence {
	file := firstNonEmpty(item.File, item.URI, result.Target)

	var line *int
	switch v := item.Line.(type) {
	case int:
		line = &v
	case float64:
		n := int(v)
		line = &n
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			line = &n
		}
	}

	symbol := firstNonEmpty(item.Symbol, item.Name, result.Query)
	kind := item.Kind
	if kind == "" {
		kind = result.Tool
	}
	if kind == "" {
		kind = "mcp_result"
	}
	detail := firstNonEmpty(item.Detail, item.Snippet)

	var confidence any = item.Confidence
	if confidence == nil {
		confidence = "medium"
	}

	source := result.Tool
	if source == "" {
		source = "mcp"
	}

	return Evidence{
		File:       file,
		Line:       line,
		Symbol:     symbol,
		Kind:       kind,
		Detail:     detail,
		Source:     source,
		Confidence: confidence,
		Metadata: EvidenceMeta{
			Query:   result.Query,
			Target:  result.Target,
			RawItem: item,
		},
	}
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}

// SortedToolNames and SortedKindNames are small helpers for deterministic
// reporting/output of the coverage maps (Go map iteration order is random;
// the Python dict preserves Counter insertion order, which this module
// doesn't otherwise need to reproduce exactly since coverage is informational
// only, not part of any testable property).
func SortedToolNames(c Coverage) []string {
	names := make([]string, 0, len(c.ByTool))
	for k := range c.ByTool {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func SortedKindNames(c Coverage) []string {
	names := make([]string, 0, len(c.ByKind))
	for k := range c.ByKind {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
