// Package cache persists internal/llm.FetchSemanticEvidence results on
// disk, sha256-keyed on the finding + source context that produced them, so
// re-running `zeroaudit mcp-fetch` against an unchanged tree never
// re-queries the model for the same finding twice.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/archguard/zeroaudit/internal/mcp"
)

type Cache struct {
	Dir string
}

func NewCache(projectRoot string) (*Cache, error) {
	cacheDir := filepath.Join(projectRoot, ".zeroaudit", "cache")
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	return &Cache{Dir: cacheDir}, nil
}

// Get returns the cached evidence item for key, if any. A nil, true result
// means the lookup previously ran and found no corroborating evidence
// (FetchSemanticEvidence returned a nil item), which is itself worth
// caching to avoid repeat no-evidence queries.
func (c *Cache) Get(key string) (*mcp.RawItem, bool, error) {
	path := filepath.Join(c.Dir, key+".json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if len(data) == 0 {
		return nil, true, nil
	}
	var item mcp.RawItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, false, err // Corrupt cache entry: treat as a miss.
	}
	return &item, true, nil
}

// Put stores item under key. A nil item records a cached "no evidence"
// verdict as an empty file.
func (c *Cache) Put(key string, item *mcp.RawItem) error {
	path := filepath.Join(c.Dir, key+".json")
	if item == nil {
		return os.WriteFile(path, nil, 0644)
	}
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ComputeEvidenceKey derives a stable cache key from everything that
// determines FetchSemanticEvidence's output: the model, the finding
// identity, and the exact source context it was shown.
func ComputeEvidenceKey(modelName, category, symbol, file, detail, sourceContext, systemPrompt string) string {
	h := sha256.New()
	for _, part := range []string{modelName, category, symbol, file, detail, sourceContext, systemPrompt} {
		h.Write([]byte(part))
		h.Write([]byte("||"))
	}
	return hex.EncodeToString(h.Sum(nil))
}
