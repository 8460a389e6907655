package resilience

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolMetricsClassification(t *testing.T) {
	thresholds := DefaultHealthThresholds()

	cases := []struct {
		name     string
		calls    int
		failures int
		want     ToolHealth
	}{
		{"no calls", 0, 0, HealthUnknown},
		{"all success", 10, 0, HealthHealthy},
		{"at degraded boundary", 10, 2, HealthHealthy},
		{"above degraded boundary", 10, 3, HealthDegraded},
		{"below unhealthy boundary", 10, 6, HealthDegraded},
		{"at unhealthy boundary", 10, 7, HealthUnhealthy},
		{"all failures", 10, 10, HealthUnhealthy},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := &ToolMetrics{ToolName: "x", TotalCalls: tc.calls, TotalFailures: tc.failures}
			assert.Equal(t, tc.want, m.Health(thresholds))
		})
	}
}

func TestToolMetricsSlowResponseDegrades(t *testing.T) {
	thresholds := HealthThresholds{Degraded: 0.2, Unhealthy: 0.7, SlowResponse: 10 * time.Second}

	m := &ToolMetrics{ToolName: "slow", TotalCalls: 4, TotalDurationMS: 44000}
	assert.Equal(t, HealthDegraded, m.Health(thresholds),
		"healthy failure rate but 11s average should degrade")

	thresholds.SlowResponse = 0
	assert.Equal(t, HealthHealthy, m.Health(thresholds),
		"slow-response check disabled with zero threshold")
}

func TestHealthMonitorRecordAndClassify(t *testing.T) {
	monitor := NewHealthMonitor(DefaultHealthThresholds(), nil)

	assert.Equal(t, HealthUnknown, monitor.Health("never_called"))

	for i := 0; i < 8; i++ {
		monitor.Record("api_tool", true, 100*time.Millisecond, "")
	}
	monitor.Record("api_tool", false, 100*time.Millisecond, "boom")
	assert.Equal(t, HealthHealthy, monitor.Health("api_tool"))

	m := monitor.Metrics("api_tool")
	require.NotNil(t, m)
	assert.Equal(t, 9, m.TotalCalls)
	assert.Equal(t, 1, m.TotalFailures)
	assert.Equal(t, "boom", m.LastError)
}

func TestHealthMonitorCustomThresholds(t *testing.T) {
	monitor := NewHealthMonitor(HealthThresholds{Degraded: 0.05, Unhealthy: 0.5}, nil)

	monitor.Record("strict", true, time.Millisecond, "")
	monitor.Record("strict", false, time.Millisecond, "e")
	// 50% failure rate hits the custom unhealthy boundary
	assert.Equal(t, HealthUnhealthy, monitor.Health("strict"))
}

func TestHealthMonitorUnhealthyAndDegradedLists(t *testing.T) {
	monitor := NewHealthMonitor(DefaultHealthThresholds(), nil)

	record := func(tool string, ok, fail int) {
		for i := 0; i < ok; i++ {
			monitor.Record(tool, true, time.Millisecond, "")
		}
		for i := 0; i < fail; i++ {
			monitor.Record(tool, false, time.Millisecond, "err")
		}
	}
	record("good", 10, 0)
	record("meh_b", 6, 4)
	record("meh_a", 7, 3)
	record("dead", 1, 9)

	assert.Equal(t, []string{"dead"}, monitor.Unhealthy())
	assert.Equal(t, []string{"meh_a", "meh_b"}, monitor.Degraded(), "expected sorted names")
}

func TestHealthMonitorTopSlowAndTopFailing(t *testing.T) {
	monitor := NewHealthMonitor(DefaultHealthThresholds(), nil)

	monitor.Record("fast", true, 10*time.Millisecond, "")
	monitor.Record("slow", true, 500*time.Millisecond, "")
	monitor.Record("slower", true, 900*time.Millisecond, "")
	monitor.Record("flaky", false, 20*time.Millisecond, "err")
	monitor.Record("flaky", true, 20*time.Millisecond, "")

	slow := monitor.TopSlow(2)
	require.Len(t, slow, 2)
	assert.Equal(t, "slower", slow[0]["tool"])
	assert.Equal(t, "slow", slow[1]["tool"])

	failing := monitor.TopFailing(5)
	require.Len(t, failing, 1, "tools with zero failures are excluded")
	assert.Equal(t, "flaky", failing[0]["tool"])
}

func TestHealthMonitorStatsAndReport(t *testing.T) {
	monitor := NewHealthMonitor(DefaultHealthThresholds(), nil)

	monitor.Record("a", true, time.Millisecond, "")
	monitor.Record("b", false, time.Millisecond, "x")

	stats := monitor.Stats()
	assert.Equal(t, 2, stats["total_tools_tracked"])
	assert.Equal(t, 2, stats["total_calls"])
	assert.Equal(t, 1, stats["total_failures"])

	report := monitor.Report()
	require.Contains(t, report, "a")
	require.Contains(t, report, "b")
	snap := report["b"].(map[string]interface{})
	assert.Equal(t, "unhealthy", snap["health"])
}

func TestHealthMonitorReset(t *testing.T) {
	monitor := NewHealthMonitor(DefaultHealthThresholds(), nil)
	monitor.Record("a", false, time.Millisecond, "x")
	monitor.Reset()

	assert.Equal(t, HealthUnknown, monitor.Health("a"))
	assert.Nil(t, monitor.Metrics("a"))
}

func TestHealthMonitorConcurrentRecording(t *testing.T) {
	monitor := NewHealthMonitor(DefaultHealthThresholds(), nil)

	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			tool := fmt.Sprintf("tool_%d", g%2)
			for i := 0; i < 250; i++ {
				monitor.Record(tool, i%3 != 0, time.Millisecond, "e")
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}

	total := monitor.Metrics("tool_0").TotalCalls + monitor.Metrics("tool_1").TotalCalls
	assert.Equal(t, 2000, total)
}
