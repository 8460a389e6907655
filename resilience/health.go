package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/toolmesh/toolmesh/core"
)

// ToolHealth is the derived health classification of a tool
type ToolHealth string

const (
	HealthUnknown   ToolHealth = "unknown"
	HealthHealthy   ToolHealth = "healthy"
	HealthDegraded  ToolHealth = "degraded"
	HealthUnhealthy ToolHealth = "unhealthy"
)

// HealthThresholds holds the failure-rate boundaries for classification.
// A tool with rate <= Degraded is healthy, rate >= Unhealthy is unhealthy,
// anything in between is degraded.
type HealthThresholds struct {
	Degraded  float64
	Unhealthy float64

	// SlowResponse optionally degrades a healthy tool whose average
	// response time exceeds it. Zero disables the check.
	SlowResponse time.Duration
}

// DefaultHealthThresholds returns the standard classification boundaries
func DefaultHealthThresholds() HealthThresholds {
	return HealthThresholds{
		Degraded:     0.2,
		Unhealthy:    0.7,
		SlowResponse: 10 * time.Second,
	}
}

// ToolMetrics holds rolling call statistics for one tool
type ToolMetrics struct {
	ToolName        string
	TotalCalls      int
	TotalFailures   int
	TotalDurationMS int64
	LastError       string
	LastCallAt      time.Time
}

// AvgResponseMS returns the mean call duration in milliseconds
func (m *ToolMetrics) AvgResponseMS() float64 {
	if m.TotalCalls == 0 {
		return 0
	}
	return float64(m.TotalDurationMS) / float64(m.TotalCalls)
}

// FailureRate returns totalFailures/totalCalls, or 0 with no calls
func (m *ToolMetrics) FailureRate() float64 {
	if m.TotalCalls == 0 {
		return 0
	}
	return float64(m.TotalFailures) / float64(m.TotalCalls)
}

// Health classifies the tool against the given thresholds
func (m *ToolMetrics) Health(thresholds HealthThresholds) ToolHealth {
	if m.TotalCalls == 0 {
		return HealthUnknown
	}
	rate := m.FailureRate()
	switch {
	case rate >= thresholds.Unhealthy:
		return HealthUnhealthy
	case rate > thresholds.Degraded:
		return HealthDegraded
	case thresholds.SlowResponse > 0 && m.AvgResponseMS() > float64(thresholds.SlowResponse.Milliseconds()):
		return HealthDegraded
	default:
		return HealthHealthy
	}
}

// Snapshot returns the metrics as a map suitable for JSON serialization
func (m *ToolMetrics) Snapshot(thresholds HealthThresholds) map[string]interface{} {
	return map[string]interface{}{
		"tool":         m.ToolName,
		"calls":        m.TotalCalls,
		"failures":     m.TotalFailures,
		"failure_rate": m.FailureRate(),
		"avg_ms":       m.AvgResponseMS(),
		"last_error":   m.LastError,
		"health":       string(m.Health(thresholds)),
	}
}

// HealthMonitor tracks per-tool call statistics and derives health
// classifications. Record is called by the executor after every real
// attempt, independent of retries, fallbacks and circuit state.
type HealthMonitor struct {
	mu         sync.RWMutex
	metrics    map[string]*ToolMetrics
	thresholds HealthThresholds
	logger     core.Logger
}

// NewHealthMonitor creates a monitor with the given thresholds.
// A zero-value HealthThresholds falls back to the defaults.
func NewHealthMonitor(thresholds HealthThresholds, logger core.Logger) *HealthMonitor {
	if thresholds.Degraded == 0 && thresholds.Unhealthy == 0 {
		thresholds = DefaultHealthThresholds()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &HealthMonitor{
		metrics:    make(map[string]*ToolMetrics),
		thresholds: thresholds,
		logger:     logger,
	}
}

// Record updates the tool's metrics with one call outcome
func (h *HealthMonitor) Record(toolName string, success bool, duration time.Duration, errMsg string) {
	h.mu.Lock()
	m, ok := h.metrics[toolName]
	if !ok {
		m = &ToolMetrics{ToolName: toolName}
		h.metrics[toolName] = m
	}
	m.TotalCalls++
	m.TotalDurationMS += duration.Milliseconds()
	m.LastCallAt = time.Now()
	if !success {
		m.TotalFailures++
		m.LastError = errMsg
	}
	health := m.Health(h.thresholds)
	h.mu.Unlock()

	if !success && health == HealthUnhealthy {
		h.logger.Warn("Tool classified unhealthy", map[string]interface{}{
			"operation": "tool_unhealthy",
			"tool":      toolName,
			"error":     errMsg,
		})
	}
}

// Health returns the classification for one tool
func (h *HealthMonitor) Health(toolName string) ToolHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.metrics[toolName]
	if !ok {
		return HealthUnknown
	}
	return m.Health(h.thresholds)
}

// Metrics returns a copy of the metrics for one tool, or nil if untracked
func (h *HealthMonitor) Metrics(toolName string) *ToolMetrics {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.metrics[toolName]
	if !ok {
		return nil
	}
	clone := *m
	return &clone
}

// Unhealthy returns the names of all unhealthy tools
func (h *HealthMonitor) Unhealthy() []string {
	return h.withHealth(HealthUnhealthy)
}

// Degraded returns the names of all degraded tools
func (h *HealthMonitor) Degraded() []string {
	return h.withHealth(HealthDegraded)
}

func (h *HealthMonitor) withHealth(target ToolHealth) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0)
	for name, m := range h.metrics {
		if m.Health(h.thresholds) == target {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// TopSlow returns snapshots of the n slowest tools by average response time
func (h *HealthMonitor) TopSlow(n int) []map[string]interface{} {
	return h.top(n, func(a, b *ToolMetrics) bool {
		return a.AvgResponseMS() > b.AvgResponseMS()
	}, nil)
}

// TopFailing returns snapshots of the n tools with the highest failure
// rate, skipping tools that have never failed
func (h *HealthMonitor) TopFailing(n int) []map[string]interface{} {
	return h.top(n, func(a, b *ToolMetrics) bool {
		return a.FailureRate() > b.FailureRate()
	}, func(m *ToolMetrics) bool {
		return m.FailureRate() > 0
	})
}

func (h *HealthMonitor) top(n int, less func(a, b *ToolMetrics) bool, keep func(*ToolMetrics) bool) []map[string]interface{} {
	h.mu.RLock()
	all := make([]*ToolMetrics, 0, len(h.metrics))
	for _, m := range h.metrics {
		clone := *m
		all = append(all, &clone)
	}
	thresholds := h.thresholds
	h.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool { return less(all[i], all[j]) })

	out := make([]map[string]interface{}, 0, n)
	for _, m := range all {
		if len(out) >= n {
			break
		}
		if keep != nil && !keep(m) {
			continue
		}
		out = append(out, m.Snapshot(thresholds))
	}
	return out
}

// Report returns per-tool snapshots keyed by tool name
func (h *HealthMonitor) Report() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]interface{}, len(h.metrics))
	for name, m := range h.metrics {
		out[name] = m.Snapshot(h.thresholds)
	}
	return out
}

// Stats returns an aggregate snapshot of all tracked tools
func (h *HealthMonitor) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var healthy, degraded, unhealthy, calls, failures int
	for _, m := range h.metrics {
		switch m.Health(h.thresholds) {
		case HealthHealthy:
			healthy++
		case HealthDegraded:
			degraded++
		case HealthUnhealthy:
			unhealthy++
		}
		calls += m.TotalCalls
		failures += m.TotalFailures
	}
	return map[string]interface{}{
		"total_tools_tracked": len(h.metrics),
		"healthy":             healthy,
		"degraded":            degraded,
		"unhealthy":           unhealthy,
		"total_calls":         calls,
		"total_failures":      failures,
	}
}

// Reset clears all tracked metrics
func (h *HealthMonitor) Reset() {
	h.mu.Lock()
	h.metrics = make(map[string]*ToolMetrics)
	h.mu.Unlock()
}
