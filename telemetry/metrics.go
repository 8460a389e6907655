package telemetry

import (
	"github.com/toolmesh/toolmesh/core"
)

// BreakerMetrics implements resilience.MetricsCollector on top of a
// core.Telemetry provider. Wire it into circuit breaker configs to get
// breaker counters exported alongside traces.
type BreakerMetrics struct {
	telemetry core.Telemetry
}

// NewBreakerMetrics creates a collector publishing through telemetry
func NewBreakerMetrics(telemetry core.Telemetry) *BreakerMetrics {
	return &BreakerMetrics{telemetry: telemetry}
}

func (m *BreakerMetrics) RecordSuccess(name string) {
	m.telemetry.RecordMetric("circuit_breaker.calls", 1, map[string]string{
		"breaker": name,
		"outcome": "success",
	})
}

func (m *BreakerMetrics) RecordFailure(name string) {
	m.telemetry.RecordMetric("circuit_breaker.calls", 1, map[string]string{
		"breaker": name,
		"outcome": "failure",
	})
}

func (m *BreakerMetrics) RecordStateChange(name string, from, to string) {
	m.telemetry.RecordMetric("circuit_breaker.state_changes", 1, map[string]string{
		"breaker": name,
		"from":    from,
		"to":      to,
	})
}

func (m *BreakerMetrics) RecordRejection(name string) {
	m.telemetry.RecordMetric("circuit_breaker.rejections", 1, map[string]string{
		"breaker": name,
	})
}
