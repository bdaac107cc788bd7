package llm

import (
	"context"
)

// MockProvider is the deterministic stand-in used by tests and by the
// "mock" mcp provider setting; its behavior is driven by ChatFunc, and
// without one it always reports no evidence.
type MockProvider struct {
	ChatFunc func(ctx context.Context, system, user string) (string, error)
	Debug    bool
}

func (m *MockProvider) SetDebug(debug bool) {
	m.Debug = debug
}

func (m *MockProvider) Chat(ctx context.Context, system, user string) (string, error) {
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, system, user)
	}
	return `{"has_evidence": false, "reasoning": "default mock"}`, nil
}
