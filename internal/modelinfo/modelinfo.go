// Package modelinfo provides a process-wide cache of per-model metadata
// (max input/output tokens, image support) fetched once and reused by
// every chat-pipeline worker, mirroring the LiteLLM model-cost-map
// convention referenced in SPEC_FULL.md's SUPPLEMENTED FEATURES section.
// There is no teacher precedent for this cache; it is grounded on the
// same sync.Once singleton pattern internal/cpulimit.Global() uses.
package modelinfo

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/elevatelaw/prompt-scaler/internal/drivers"
)

// litellmModelCostURL is the well-known hosted JSON document LiteLLM
// publishes with per-model context-window and pricing metadata.
const litellmModelCostURL = "https://raw.githubusercontent.com/BerriAI/litellm/main/model_prices_and_context_window.json"

type litellmEntry struct {
	MaxInputTokens  int  `json:"max_input_tokens"`
	MaxOutputTokens int  `json:"max_tokens"`
	SupportsImages  bool `json:"supports_vision"`
}

// Cache is a lazily-populated, thread-safe model-info table.
type Cache struct {
	httpClient *http.Client
	url        string
	once       sync.Once
	mu         sync.RWMutex
	entries    map[string]litellmEntry
	loadErr    error
}

// New constructs a Cache that will fetch the LiteLLM model-cost map on
// first use.
func New() *Cache {
	return &Cache{httpClient: &http.Client{Timeout: 30 * time.Second}, url: litellmModelCostURL}
}

// newForTest builds a Cache pointed at an arbitrary URL, so tests can
// substitute an httptest.Server instead of reaching the real internet.
func newForTest(url string) *Cache {
	return &Cache{httpClient: &http.Client{Timeout: 5 * time.Second}, url: url}
}

func (c *Cache) load() {
	c.once.Do(func() {
		resp, err := c.httpClient.Get(c.url)
		if err != nil {
			c.loadErr = fmt.Errorf("modelinfo: fetching model cost map: %w", err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			c.loadErr = fmt.Errorf("modelinfo: fetching model cost map: status %d", resp.StatusCode)
			return
		}
		var entries map[string]litellmEntry
		if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
			c.loadErr = fmt.Errorf("modelinfo: decoding model cost map: %w", err)
			return
		}
		c.mu.Lock()
		c.entries = entries
		c.mu.Unlock()
	})
}

// Lookup returns metadata for model, or nil with ok=false if the remote
// table has no entry (callers fall back to conservative defaults).
// A fetch failure is cached and returned as an error on every call so a
// single flaky network blip doesn't silently degrade every subsequent
// worker's behavior.
func (c *Cache) Lookup(model string) (*drivers.ModelInfo, bool, error) {
	c.load()
	if c.loadErr != nil {
		return nil, false, c.loadErr
	}
	c.mu.RLock()
	entry, ok := c.entries[model]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return &drivers.ModelInfo{
		Name:            model,
		MaxInputTokens:  entry.MaxInputTokens,
		MaxOutputTokens: entry.MaxOutputTokens,
		SupportsImages:  entry.SupportsImages,
	}, true, nil
}
