// Package llm adapts the teacher's LLM-provider abstraction into an
// optional external semantic-evidence source for internal/mcp. spec.md's
// "MCP" collaborator is any external tool, possibly a thin wrapper around a
// chat model, that corroborates a finding with additional context the
// static analyzers can't see (e.g. "this error path really is reachable
// with the secret still live"); Provider/FetchSemanticEvidence is one
// concrete implementation of that collaborator, reachable from
// internal/cli's `mcp-fetch` subcommand, whose output `mcp-normalize`
// accepts in place of a static JSON payload.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/archguard/zeroaudit/internal/mcp"
)

// Provider is a chat-capable backend. The teacher's CreateEmbedding
// requirement is dropped: nothing in this domain does vector search, so
// keeping it on the interface would leave every implementation carrying a
// method no caller reaches.
type Provider interface {
	Chat(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// EvidenceResponse is the JSON shape FetchSemanticEvidence asks the model
// to return, mirroring the teacher's AnalysisResult but answering "is there
// evidence for this finding" instead of "does this violate the ADR".
type EvidenceResponse struct {
	HasEvidence bool   `json:"has_evidence"`
	Reasoning   string `json:"reasoning"`
	Kind        string `json:"kind"`
}

const DefaultSystemPrompt = `You are a literal-minded static-analysis corroboration assistant.
Your ONLY task is to judge, from the given source context, whether a candidate zeroization
finding is actually exercised by the code shown.

CRITICAL GUIDELINES:
1. NO INFERENCE BEYOND THE TEXT: base has_evidence only on what the context literally shows.
2. FALSE BY DEFAULT: if the context does not clearly corroborate the finding, has_evidence MUST be false.
3. Do not invent line numbers, symbols, or file paths not present in the context.`

const evidencePrompt = `### FINDING
Category: %s
Symbol: %s
File: %s
Detail: %s

<source_context>
%s
</source_context>

### TASK
Does the source_context corroborate this finding?

### OUTPUT FORMAT (JSON ONLY)
{
  "has_evidence": bool,
  "reasoning": "Single sentence citing what in source_context supports or refutes the finding.",
  "kind": "short label for the kind of corroboration found, e.g. 'reachable_error_path'"
}`

// EscapePromptDelimiter neutralizes the delimiter the prompt uses to wrap
// the source snippet, preventing the snippet from escaping its container.
func EscapePromptDelimiter(input string) string {
	s := strings.ReplaceAll(input, "</source_context>", "[CONTEXT_END]")
	return strings.ReplaceAll(s, "```", "'''")
}

func buildEvidencePrompt(category, symbol, file, detail, sourceContext string) string {
	safeContext := EscapePromptDelimiter(sourceContext)
	return fmt.Sprintf(evidencePrompt, category, symbol, file, detail, safeContext)
}

// FetchSemanticEvidence asks p whether sourceContext corroborates one
// finding, retrying with exponential backoff on transport/parse failure the
// same way the teacher's AnalyzeDrift does, and returns an mcp.RawItem ready
// to fold into an mcp.RawResult under the "llm" tool name.
func FetchSemanticEvidence(ctx context.Context, p Provider, category, symbol, file, detail, sourceContext, systemPrompt string) (*mcp.RawItem, error) {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	prompt := buildEvidencePrompt(category, symbol, file, detail, sourceContext)

	const maxRetries = 3
	backoff := 2 * time.Second
	var lastErr error

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		raw, err := p.Chat(ctx, systemPrompt, prompt)
		if err != nil {
			lastErr = err
			continue
		}

		cleaned := CleanJSON(raw)
		var res EvidenceResponse
		if err := json.Unmarshal([]byte(cleaned), &res); err != nil {
			if err2 := json.Unmarshal([]byte(raw), &res); err2 != nil {
				lastErr = fmt.Errorf("invalid json from provider: %w", err2)
				continue
			}
		}

		if !res.HasEvidence {
			return nil, nil
		}
		return &mcp.RawItem{
			File:    file,
			Symbol:  symbol,
			Kind:    res.Kind,
			Detail:  res.Reasoning,
			Confidence: "medium",
		}, nil
	}

	return nil, fmt.Errorf("semantic evidence lookup failed after %d retries: %w", maxRetries, lastErr)
}

func CleanJSON(input string) string {
	input = strings.TrimSpace(input)
	start := strings.Index(input, "{")
	end := strings.LastIndex(input, "}")

	if start != -1 && end != -1 && end > start {
		return input[start : end+1]
	}
	return input
}
