package resilience

import (
	"sync"

	"github.com/toolmesh/toolmesh/core"
)

// FallbackManager maps a tool name to an ordered list of substitute tool
// names, consulted left to right after the primary tool's retries are
// exhausted. Pure lookup, no failure modes.
type FallbackManager struct {
	mu        sync.RWMutex
	fallbacks map[string][]string
	usage     map[string]int
	logger    core.Logger
}

// NewFallbackManager creates an empty fallback registry
func NewFallbackManager(logger core.Logger) *FallbackManager {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &FallbackManager{
		fallbacks: make(map[string][]string),
		usage:     make(map[string]int),
		logger:    logger,
	}
}

// Register sets the ordered fallback list for a primary tool
func (f *FallbackManager) Register(primary string, fallbacks []string) {
	f.mu.Lock()
	f.fallbacks[primary] = append([]string(nil), fallbacks...)
	f.mu.Unlock()
}

// Fallbacks returns the registered substitutes for a tool (empty if none)
func (f *FallbackManager) Fallbacks(toolName string) []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]string(nil), f.fallbacks[toolName]...)
}

// NextFallback returns the first registered fallback not present in tried,
// or "" when exhausted
func (f *FallbackManager) NextFallback(toolName string, tried map[string]bool) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fb := range f.fallbacks[toolName] {
		if !tried[fb] {
			f.usage[fb]++
			return fb
		}
	}
	return ""
}

// RegisterDefaults seeds a baseline mapping for well-known tool categories
func (f *FallbackManager) RegisterDefaults() {
	defaults := map[string][]string{
		"web_search":       {"web_deep_search", "knowledge_search"},
		"web_deep_search":  {"web_search", "knowledge_search"},
		"open_page":        {"web_search"},
		"convert_currency": {"get_financial_summary"},
		"create_order":     {"save_contact_note"},
		"knowledge_search": {"web_search"},
		"expand_query":     {"knowledge_search"},
	}
	for primary, fbs := range defaults {
		f.Register(primary, fbs)
	}
	f.logger.Debug("Default fallbacks registered", map[string]interface{}{
		"operation": "fallback_register_defaults",
		"count":     len(defaults),
	})
}

// Size returns the number of primary tools with registered fallbacks
func (f *FallbackManager) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.fallbacks)
}

// Stats returns registry and usage counters for diagnostics
func (f *FallbackManager) Stats() map[string]interface{} {
	f.mu.RLock()
	defer f.mu.RUnlock()

	chains := make(map[string][]string, len(f.fallbacks))
	for k, v := range f.fallbacks {
		chains[k] = append([]string(nil), v...)
	}
	usage := make(map[string]int, len(f.usage))
	for k, v := range f.usage {
		usage[k] = v
	}
	return map[string]interface{}{
		"registered": len(f.fallbacks),
		"chains":     chains,
		"usage":      usage,
	}
}
