package resilience

import (
	"context"
	"crypto/md5" // #nosec G501 - cache key derivation, not security
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	jsoniter "github.com/json-iterator/go"

	"github.com/toolmesh/toolmesh/core"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Strategy is a recovery approach proposed by the auto-healer
type Strategy string

const (
	StrategyRefineParams  Strategy = "refine_params"
	StrategyAlternative   Strategy = "alternative"
	StrategyDecompose     Strategy = "decompose"
	StrategyCacheFallback Strategy = "cache_fallback"
	StrategyGiveUp        Strategy = "give_up"
)

// maxParamLength bounds string parameters when refining after a timeout
const maxParamLength = 200

// errorStrategies maps error-text keywords to recovery strategies,
// consulted in order so more specific phrases win
var errorStrategies = []struct {
	keyword  string
	strategy Strategy
}{
	{"timeout", StrategyRefineParams},
	{"connection", StrategyRefineParams},
	{"rate limit", StrategyCacheFallback},
	{"rate_limit", StrategyCacheFallback},
	{"ratelimit", StrategyCacheFallback},
	{"validation", StrategyRefineParams},
	{"not found", StrategyAlternative},
	{"not_found", StrategyAlternative},
	{"network", StrategyCacheFallback},
	{"permission", StrategyGiveUp},
	{"denied", StrategyGiveUp},
}

// AutoHealer diagnoses a failure's cause from its error message, proposes
// a recovery strategy with adjusted parameters, and caches prior successful
// results for reuse when live calls keep failing.
type AutoHealer struct {
	cache  core.Memory
	clock  func() time.Time
	logger core.Logger

	mu         sync.Mutex
	healings   int
	successful int
}

// NewAutoHealer creates a healer. A nil cache gets a process-local
// in-memory store; pass a core.RedisStore to share cached results.
func NewAutoHealer(cache core.Memory, logger core.Logger) *AutoHealer {
	if cache == nil {
		cache = core.NewInMemoryStore()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &AutoHealer{
		cache:  cache,
		clock:  time.Now,
		logger: logger,
	}
}

// Diagnose picks a recovery strategy by case-insensitive substring
// matching on the error text
func (h *AutoHealer) Diagnose(toolName string, errMsg string) Strategy {
	lower := strings.ToLower(errMsg)
	for _, entry := range errorStrategies {
		if strings.Contains(lower, entry.keyword) {
			h.logger.Debug("Failure diagnosed", map[string]interface{}{
				"operation": "healer_diagnose",
				"tool":      toolName,
				"keyword":   entry.keyword,
				"strategy":  string(entry.strategy),
			})
			return entry.strategy
		}
	}
	return StrategyAlternative
}

// RefineParams returns an adjusted copy of params for a retry after the
// given error. Timeout-class errors truncate oversized string values to
// reduce payload size; validation-class errors strip characters outside a
// conservative allow-list. The input map is never mutated.
func (h *AutoHealer) RefineParams(params map[string]interface{}, errMsg string) map[string]interface{} {
	refined := make(map[string]interface{}, len(params))
	for k, v := range params {
		refined[k] = v
	}

	lower := strings.ToLower(errMsg)

	if strings.Contains(lower, "timeout") || strings.Contains(lower, "connection") {
		for k, v := range refined {
			if s, ok := v.(string); ok && len(s) > maxParamLength {
				refined[k] = s[:maxParamLength]
			}
		}
	}

	if strings.Contains(lower, "validation") {
		for k, v := range refined {
			if s, ok := v.(string); ok {
				refined[k] = sanitize(s)
			}
		}
	}

	return refined
}

// sanitize keeps letters, digits, spaces and basic punctuation
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r):
			b.WriteRune(r)
		case strings.ContainsRune(".,:;!?-_", r):
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CacheKey derives a stable cache key from a tool name and its parameters
func CacheKey(toolName string, params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(toolName)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%v", k, params[k])
	}
	sum := md5.Sum([]byte(b.String())) // #nosec G401
	return hex.EncodeToString(sum[:])[:12]
}

type cacheEntry struct {
	At    int64  `json:"at"`
	Value string `json:"value"`
}

// CacheResult stores a successful result under the given key
func (h *AutoHealer) CacheResult(ctx context.Context, key string, value string) error {
	entry := cacheEntry{At: h.clock().UnixMilli(), Value: value}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return h.cache.Set(ctx, key, string(payload), 0)
}

// GetCached returns the cached value for key if it is younger than maxAge.
// Entries older than maxAge (or a zero maxAge) are reported as misses.
func (h *AutoHealer) GetCached(ctx context.Context, key string, maxAge time.Duration) (string, bool) {
	if maxAge <= 0 {
		return "", false
	}
	payload, err := h.cache.Get(ctx, key)
	if err != nil || payload == "" {
		return "", false
	}
	var entry cacheEntry
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		return "", false
	}
	age := h.clock().Sub(time.UnixMilli(entry.At))
	if age >= maxAge {
		return "", false
	}
	return entry.Value, true
}

// RecordHealing accumulates healing attempt counters for observability
func (h *AutoHealer) RecordHealing(success bool) {
	h.mu.Lock()
	h.healings++
	if success {
		h.successful++
	}
	h.mu.Unlock()
}

// Stats returns healing counters and the derived success rate
func (h *AutoHealer) Stats() map[string]interface{} {
	h.mu.Lock()
	defer h.mu.Unlock()

	var rate float64
	if h.healings > 0 {
		rate = float64(h.successful) / float64(h.healings)
	}
	return map[string]interface{}{
		"total_healings": h.healings,
		"successful":     h.successful,
		"success_rate":   rate,
	}
}
