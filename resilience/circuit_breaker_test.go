package resilience

import (
	"sync"
	"testing"
	"time"
)

// fakeClock lets tests advance breaker time deterministically
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(t *testing.T, clock *fakeClock) *CircuitBreaker {
	t.Helper()
	config := DefaultBreakerConfig("test_tool")
	config.FailureThreshold = 3
	config.RecoveryTimeout = 60 * time.Second
	config.SuccessThreshold = 2
	config.Clock = clock.Now
	cb, err := NewCircuitBreaker(config)
	if err != nil {
		t.Fatalf("NewCircuitBreaker failed: %v", err)
	}
	return cb
}

func TestCircuitBreakerStartsClosed(t *testing.T) {
	cb := newTestBreaker(t, newFakeClock())
	if cb.State() != StateClosed {
		t.Errorf("Expected initial state closed, got %s", cb.State())
	}
	if !cb.IsAvailable() {
		t.Error("Expected closed breaker to be available")
	}
}

func TestCircuitBreakerOpensAtThreshold(t *testing.T) {
	cb := newTestBreaker(t, newFakeClock())

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != StateClosed {
		t.Errorf("Expected closed below threshold, got %s", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Errorf("Expected open after %d consecutive failures, got %s", 3, cb.State())
	}
	if cb.IsAvailable() {
		t.Error("Expected open breaker to reject calls")
	}
}

func TestCircuitBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := newTestBreaker(t, newFakeClock())

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.State() != StateClosed {
		t.Errorf("Expected closed when failures are not consecutive, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenAfterRecoveryTimeout(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(t, clock)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	if cb.State() != StateOpen {
		t.Fatalf("Expected open, got %s", cb.State())
	}

	clock.Advance(59 * time.Second)
	if cb.State() != StateOpen {
		t.Errorf("Expected still open before recovery timeout, got %s", cb.State())
	}

	clock.Advance(1 * time.Second)
	if cb.State() != StateHalfOpen {
		t.Errorf("Expected half_open after recovery timeout, got %s", cb.State())
	}
	if !cb.IsAvailable() {
		t.Error("Expected half-open breaker to allow probe calls")
	}
}

func TestCircuitBreakerClosesAfterSuccessThreshold(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(t, clock)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	clock.Advance(60 * time.Second)

	cb.RecordSuccess()
	if cb.State() != StateHalfOpen {
		t.Errorf("Expected half_open after one probe success, got %s", cb.State())
	}

	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Errorf("Expected closed after %d probe successes, got %s", 2, cb.State())
	}
}

func TestCircuitBreakerReopensOnHalfOpenFailure(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(t, clock)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	clock.Advance(60 * time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("Expected half_open, got %s", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Errorf("Expected open after probe failure, got %s", cb.State())
	}

	// The recovery window restarts from the probe failure
	clock.Advance(30 * time.Second)
	if cb.State() != StateOpen {
		t.Errorf("Expected open before restarted recovery timeout, got %s", cb.State())
	}
	clock.Advance(30 * time.Second)
	if cb.State() != StateHalfOpen {
		t.Errorf("Expected half_open after restarted recovery timeout, got %s", cb.State())
	}
}

func TestCircuitBreakerReset(t *testing.T) {
	cb := newTestBreaker(t, newFakeClock())

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	cb.Reset()

	if cb.State() != StateClosed {
		t.Errorf("Expected closed after reset, got %s", cb.State())
	}
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != StateClosed {
		t.Errorf("Expected reset to clear the failure count, got %s", cb.State())
	}
}

func TestCircuitBreakerMetrics(t *testing.T) {
	cb := newTestBreaker(t, newFakeClock())

	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if got := cb.TotalCalls(); got != 3 {
		t.Errorf("Expected 3 total calls, got %d", got)
	}
	if got := cb.TotalFailures(); got != 2 {
		t.Errorf("Expected 2 total failures, got %d", got)
	}
	rate := cb.FailureRate()
	if rate < 0.66 || rate > 0.67 {
		t.Errorf("Expected failure rate ~0.667, got %f", rate)
	}

	metrics := cb.Metrics()
	if metrics["state"] != "closed" {
		t.Errorf("Expected state closed in metrics, got %v", metrics["state"])
	}
}

func TestCircuitBreakerStateChangeCallback(t *testing.T) {
	var (
		mu          sync.Mutex
		transitions []string
	)
	collector := &recordingMetrics{onChange: func(from, to string) {
		mu.Lock()
		transitions = append(transitions, from+"->"+to)
		mu.Unlock()
	}}

	clock := newFakeClock()
	config := DefaultBreakerConfig("cb_test")
	config.FailureThreshold = 1
	config.SuccessThreshold = 1
	config.Clock = clock.Now
	config.Metrics = collector
	cb, err := NewCircuitBreaker(config)
	if err != nil {
		t.Fatalf("NewCircuitBreaker failed: %v", err)
	}

	cb.RecordFailure()
	clock.Advance(config.RecoveryTimeout)
	cb.RecordSuccess()

	mu.Lock()
	defer mu.Unlock()
	want := []string{"closed->open", "open->half_open", "half_open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("Expected %d transitions, got %v", len(want), transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("Transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}
}

func TestCircuitBreakerConfigValidation(t *testing.T) {
	config := DefaultBreakerConfig("")
	if err := config.Validate(); err == nil {
		t.Error("Expected validation error for empty name")
	}

	config = DefaultBreakerConfig("ok")
	config.FailureThreshold = 0
	if err := config.Validate(); err == nil {
		t.Error("Expected validation error for zero failure threshold")
	}

	if _, err := NewCircuitBreaker(nil); err != nil {
		t.Errorf("Expected nil config to use defaults, got %v", err)
	}
}

func TestCircuitBreakerConcurrentRecording(t *testing.T) {
	cb := newTestBreaker(t, newFakeClock())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if (i+j)%2 == 0 {
					cb.RecordSuccess()
				} else {
					cb.RecordFailure()
				}
			}
		}(i)
	}
	wg.Wait()

	if got := cb.TotalCalls(); got != 1000 {
		t.Errorf("Expected 1000 total calls, got %d", got)
	}
}

// recordingMetrics captures state changes for assertions
type recordingMetrics struct {
	onChange func(from, to string)
}

func (r *recordingMetrics) RecordSuccess(name string) {}
func (r *recordingMetrics) RecordFailure(name string) {}
func (r *recordingMetrics) RecordStateChange(name string, from, to string) {
	if r.onChange != nil {
		r.onChange(from, to)
	}
}
func (r *recordingMetrics) RecordRejection(name string) {}
