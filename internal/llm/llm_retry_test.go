package llm

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// MockProvider is defined in mock.go

func TestFetchSemanticEvidence_Retry(t *testing.T) {
	attempts := 0
	provider := &MockProvider{
		ChatFunc: func(ctx context.Context, system, user string) (string, error) {
			attempts++
			if attempts < 3 {
				return "", fmt.Errorf("simulated 429 error")
			}
			return `{"has_evidence": true, "reasoning": "success", "kind": "reachable_error_path"}`, nil
		},
	}

	start := time.Now()
	res, err := FetchSemanticEvidence(context.Background(), provider, "MISSING_ON_ERROR_PATH", "wipe_key", "file.rs", "detail", "code", "system")
	duration := time.Since(start)

	if err != nil {
		t.Fatalf("Expected success, got error: %v", err)
	}

	if res == nil {
		t.Fatal("Expected result, got nil")
	}

	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}

	if duration < 2*time.Second {
		t.Errorf("Expected backoff delay, got %v", duration)
	}
}

func TestFetchSemanticEvidence_MaxRetriesExceeded(t *testing.T) {
	attempts := 0
	provider := &MockProvider{
		ChatFunc: func(ctx context.Context, system, user string) (string, error) {
			attempts++
			return "", fmt.Errorf("persistent error")
		},
	}

	_, err := FetchSemanticEvidence(context.Background(), provider, "MISSING_ON_ERROR_PATH", "wipe_key", "file.rs", "detail", "code", "system")
	if err == nil {
		t.Fatal("Expected error, got nil")
	}

	if attempts != 4 {
		t.Errorf("Expected 4 attempts, got %d", attempts)
	}
}

func TestFetchSemanticEvidence_NoEvidenceReturnsNil(t *testing.T) {
	provider := &MockProvider{
		ChatFunc: func(ctx context.Context, system, user string) (string, error) {
			return `{"has_evidence": false, "reasoning": "nothing found"}`, nil
		},
	}

	res, err := FetchSemanticEvidence(context.Background(), provider, "SECRET_COPY", "wipe_key", "file.rs", "detail", "code", "system")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != nil {
		t.Fatalf("expected nil item when has_evidence is false, got %+v", res)
	}
}
