package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/toolmesh/toolmesh/core"
	"github.com/toolmesh/toolmesh/resilience"
)

var _ resilience.MetricsCollector = (*BreakerMetrics)(nil)

// recordedMetric captures one RecordMetric call
type recordedMetric struct {
	name   string
	value  float64
	labels map[string]string
}

// fakeTelemetry records metric calls for assertion
type fakeTelemetry struct {
	metrics []recordedMetric
}

func (f *fakeTelemetry) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	return ctx, &core.NoOpSpan{}
}

func (f *fakeTelemetry) RecordMetric(name string, value float64, labels map[string]string) {
	f.metrics = append(f.metrics, recordedMetric{name: name, value: value, labels: labels})
}

func TestBreakerMetricsRecording(t *testing.T) {
	tests := []struct {
		name       string
		record     func(m *BreakerMetrics)
		wantMetric string
		wantLabels map[string]string
	}{
		{
			name:       "success call",
			record:     func(m *BreakerMetrics) { m.RecordSuccess("api") },
			wantMetric: "circuit_breaker.calls",
			wantLabels: map[string]string{"breaker": "api", "outcome": "success"},
		},
		{
			name:       "failure call",
			record:     func(m *BreakerMetrics) { m.RecordFailure("api") },
			wantMetric: "circuit_breaker.calls",
			wantLabels: map[string]string{"breaker": "api", "outcome": "failure"},
		},
		{
			name:       "state change",
			record:     func(m *BreakerMetrics) { m.RecordStateChange("api", "closed", "open") },
			wantMetric: "circuit_breaker.state_changes",
			wantLabels: map[string]string{"breaker": "api", "from": "closed", "to": "open"},
		},
		{
			name:       "rejection",
			record:     func(m *BreakerMetrics) { m.RecordRejection("api") },
			wantMetric: "circuit_breaker.rejections",
			wantLabels: map[string]string{"breaker": "api"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeTelemetry{}
			metrics := NewBreakerMetrics(fake)

			tt.record(metrics)

			if len(fake.metrics) != 1 {
				t.Fatalf("Expected 1 recorded metric, got %d", len(fake.metrics))
			}
			got := fake.metrics[0]
			if got.name != tt.wantMetric {
				t.Errorf("Expected metric %q, got %q", tt.wantMetric, got.name)
			}
			if got.value != 1 {
				t.Errorf("Expected counter increment of 1, got %v", got.value)
			}
			if len(got.labels) != len(tt.wantLabels) {
				t.Fatalf("Expected %d labels, got %v", len(tt.wantLabels), got.labels)
			}
			for k, want := range tt.wantLabels {
				if got.labels[k] != want {
					t.Errorf("Expected label %s=%q, got %q", k, want, got.labels[k])
				}
			}
		})
	}
}

func TestBreakerMetricsDrivenByBreaker(t *testing.T) {
	fake := &fakeTelemetry{}
	cb, err := resilience.NewCircuitBreaker(&resilience.CircuitBreakerConfig{
		Name:             "flaky",
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
		SuccessThreshold: 1,
		Metrics:          NewBreakerMetrics(fake),
	})
	if err != nil {
		t.Fatalf("Failed to create breaker: %v", err)
	}

	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	var calls, changes int
	for _, m := range fake.metrics {
		switch m.name {
		case "circuit_breaker.calls":
			calls++
		case "circuit_breaker.state_changes":
			changes++
			if m.labels["to"] != "open" {
				t.Errorf("Expected transition to open, got %q", m.labels["to"])
			}
		}
	}
	if calls != 3 {
		t.Errorf("Expected 3 call metrics, got %d", calls)
	}
	if changes != 1 {
		t.Errorf("Expected 1 state change metric, got %d", changes)
	}
}
