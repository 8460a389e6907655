package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/toolmesh/toolmesh/core"
	"github.com/toolmesh/toolmesh/resilience"
)

// Error strings surfaced in StepResult.Error. Failures are reported
// through results, not returned errors (only programmer errors return).
const (
	errCircuitOpen = "circuit open"
	errToolTimeout = "tool timeout"
)

// ExecutorConfig configures a ChainExecutor. Zero values fall back to
// defaults; the shared registries are created when not supplied so an
// executor is usable in isolation.
type ExecutorConfig struct {
	HealthMonitor *resilience.HealthMonitor
	Fallbacks     *resilience.FallbackManager
	Healer        *resilience.AutoHealer

	// DefaultRetry applies to steps without a Retry override
	DefaultRetry *resilience.RetryPolicy

	// DefaultTimeout applies to steps without a Timeout
	DefaultTimeout time.Duration

	// CacheMaxAge bounds how old a healer-cached result may be when the
	// cache_fallback strategy reuses it
	CacheMaxAge time.Duration

	// NewBreakerConfig builds the per-tool circuit breaker configuration.
	// Defaults to resilience.DefaultBreakerConfig.
	NewBreakerConfig func(toolName string) *resilience.CircuitBreakerConfig

	Logger    core.Logger
	Telemetry core.Telemetry
}

// ChainExecutor runs a ToolChain step by step against the tool executor,
// applying retry, circuit breaking, fallback substitution and auto-healing,
// and recording every real attempt in the health monitor.
//
// Steps within one chain run sequentially because later steps may depend
// on earlier outputs. Circuit breakers and tool metrics are keyed by tool
// name and shared across all concurrent chain executions.
type ChainExecutor struct {
	health         *resilience.HealthMonitor
	fallbacks      *resilience.FallbackManager
	healer         *resilience.AutoHealer
	defaultRetry   *resilience.RetryPolicy
	defaultTimeout time.Duration
	cacheMaxAge    time.Duration
	breakerConfig  func(string) *resilience.CircuitBreakerConfig
	logger         core.Logger
	telemetry      core.Telemetry

	mu       sync.Mutex
	breakers map[string]*resilience.CircuitBreaker

	executions atomic.Uint64
}

// NewChainExecutor creates an executor with the given dependencies
func NewChainExecutor(config ExecutorConfig) *ChainExecutor {
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	if config.HealthMonitor == nil {
		config.HealthMonitor = resilience.NewHealthMonitor(resilience.HealthThresholds{}, config.Logger)
	}
	if config.Fallbacks == nil {
		config.Fallbacks = resilience.NewFallbackManager(config.Logger)
	}
	if config.Healer == nil {
		config.Healer = resilience.NewAutoHealer(nil, config.Logger)
	}
	if config.DefaultRetry == nil {
		config.DefaultRetry = resilience.DefaultRetryPolicy()
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = 30 * time.Second
	}
	if config.CacheMaxAge <= 0 {
		config.CacheMaxAge = time.Hour
	}
	if config.NewBreakerConfig == nil {
		logger := config.Logger
		config.NewBreakerConfig = func(toolName string) *resilience.CircuitBreakerConfig {
			cfg := resilience.DefaultBreakerConfig(toolName)
			cfg.Logger = logger
			return cfg
		}
	}

	return &ChainExecutor{
		health:         config.HealthMonitor,
		fallbacks:      config.Fallbacks,
		healer:         config.Healer,
		defaultRetry:   config.DefaultRetry,
		defaultTimeout: config.DefaultTimeout,
		cacheMaxAge:    config.CacheMaxAge,
		breakerConfig:  config.NewBreakerConfig,
		logger:         config.Logger,
		telemetry:      config.Telemetry,
		breakers:       make(map[string]*resilience.CircuitBreaker),
	}
}

// Breaker returns the circuit breaker for a tool, creating it on first use
func (e *ChainExecutor) Breaker(toolName string) *resilience.CircuitBreaker {
	e.mu.Lock()
	defer e.mu.Unlock()
	cb, ok := e.breakers[toolName]
	if !ok {
		cb, _ = resilience.NewCircuitBreaker(e.breakerConfig(toolName))
		e.breakers[toolName] = cb
	}
	return cb
}

// ExecuteChain runs the whole chain and aggregates the step results.
// Tool failures never surface as a returned error; inspect the
// ChainResult status and failed steps instead.
func (e *ChainExecutor) ExecuteChain(ctx context.Context, chain *ToolChain, exec core.ToolExecutor, input map[string]interface{}) *ChainResult {
	chainID := uuid.NewString()
	if input == nil {
		input = map[string]interface{}{}
	}
	start := time.Now()
	e.executions.Add(1)

	if e.telemetry != nil {
		var span core.Span
		ctx, span = e.telemetry.StartSpan(ctx, "chain.execute")
		span.SetAttribute("chain.name", chain.Name)
		span.SetAttribute("chain.id", chainID)
		span.SetAttribute("chain.steps", len(chain.Steps))
		defer span.End()
	}

	e.logger.Debug("Chain execution starting", map[string]interface{}{
		"operation": "chain_execute",
		"chain":     chain.Name,
		"chain_id":  chainID,
		"steps":     len(chain.Steps),
	})

	var (
		results []*StepResult
		prev    *StepResult
		aborted bool
	)

	for i, step := range chain.Steps {
		if !evalCondition(step, prev) {
			e.logger.Debug("Chain step skipped by condition", map[string]interface{}{
				"operation": "chain_step_skipped",
				"chain":     chain.Name,
				"step":      i,
				"tool":      step.ToolName,
			})
			continue
		}

		result := e.executeStep(ctx, i, step, prev, input, exec)
		results = append(results, result)
		prev = result

		if !result.Success && !step.Optional && chain.AbortPolicy != AbortNever {
			aborted = i < len(chain.Steps)-1
			break
		}
	}

	status := chainStatus(results, aborted)
	chainResult := &ChainResult{
		ChainID:          chainID,
		ChainName:        chain.Name,
		Status:           status,
		Steps:            results,
		TotalDurationMS:  time.Since(start).Milliseconds(),
		AggregatedOutput: AggregateText(results, "\n\n"),
		AggregatedData:   AggregateData(results),
	}

	e.logger.Info("Chain execution finished", map[string]interface{}{
		"operation":    "chain_complete",
		"chain":        chain.Name,
		"chain_id":     chainID,
		"status":       string(status),
		"steps":        len(results),
		"success_rate": chainResult.SuccessRate(),
		"duration_ms":  chainResult.TotalDurationMS,
	})

	return chainResult
}

// chainStatus derives the overall status: completed when every executed
// step succeeded, failed when the chain aborted or nothing succeeded,
// partial otherwise
func chainStatus(results []*StepResult, aborted bool) ChainStatus {
	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	switch {
	case succeeded == len(results) && !aborted:
		return StatusCompleted
	case aborted, succeeded == 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}

// executeStep runs one logical step: the primary tool with retries, then
// fallback substitutes in registry order, consulting the auto-healer
// between candidates. Exactly one StepResult is produced.
func (e *ChainExecutor) executeStep(ctx context.Context, idx int, step *ChainStep, prev *StepResult, input map[string]interface{}, exec core.ToolExecutor) *StepResult {
	params := resolveParams(step, prev, input)
	cacheKey := resilience.CacheKey(step.ToolName, params)

	tried := map[string]bool{}
	tool := step.ToolName
	healed := false

	for {
		result := e.attemptWithRetry(ctx, idx, tool, step, params, exec)
		if result.Success {
			if tool != step.ToolName {
				result.FallbackUsed = tool
			}
			if healed {
				e.healer.RecordHealing(true)
			}
			if result.Output != "" {
				// Remember the answer so a later rate-limited or offline
				// call can be served from cache
				if err := e.healer.CacheResult(ctx, cacheKey, result.Output); err != nil {
					e.logger.Debug("Result caching failed", map[string]interface{}{
						"operation": "healer_cache_store",
						"tool":      tool,
						"error":     err.Error(),
					})
				}
			}
			return result
		}

		tried[tool] = true
		strategy := e.healer.Diagnose(tool, result.Error)

		switch strategy {
		case resilience.StrategyGiveUp:
			// Permission-class failures will fail on substitutes too
			if healed {
				e.healer.RecordHealing(false)
			}
			return result
		case resilience.StrategyCacheFallback:
			if cached, ok := e.healer.GetCached(ctx, cacheKey, e.cacheMaxAge); ok {
				e.healer.RecordHealing(true)
				e.logger.Info("Step served from healer cache", map[string]interface{}{
					"operation": "healer_cache_hit",
					"tool":      step.ToolName,
					"step":      idx,
				})
				return &StepResult{
					StepIndex:    idx,
					ToolName:     step.ToolName,
					Success:      true,
					Output:       cached,
					Retries:      result.Retries,
					FallbackUsed: "cache",
				}
			}
		case resilience.StrategyRefineParams:
			params = e.healer.RefineParams(params, result.Error)
			healed = true
		}

		fb := e.fallbacks.NextFallback(step.ToolName, tried)
		if fb == "" {
			if healed {
				e.healer.RecordHealing(false)
			}
			return result
		}

		e.logger.Info("Falling back to substitute tool", map[string]interface{}{
			"operation": "step_fallback",
			"step":      idx,
			"primary":   step.ToolName,
			"fallback":  fb,
			"error":     result.Error,
		})
		tool = fb
	}
}

// attemptWithRetry runs one tool (primary or substitute) under the step's
// retry policy. Every real attempt is recorded in the health monitor and
// the tool's circuit breaker; a rejected attempt is recorded as a failure
// without invoking the tool.
func (e *ChainExecutor) attemptWithRetry(ctx context.Context, idx int, tool string, step *ChainStep, params map[string]interface{}, exec core.ToolExecutor) *StepResult {
	policy := step.Retry
	if policy == nil {
		policy = e.defaultRetry
	}
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	breaker := e.Breaker(tool)

	retries := 0
	var last *StepResult

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		result := &StepResult{StepIndex: idx, ToolName: tool}

		if !breaker.IsAvailable() {
			breaker.RecordRejection()
			e.health.Record(tool, false, 0, errCircuitOpen)
			result.Error = errCircuitOpen
		} else {
			start := time.Now()
			success, output, data, errMsg := e.callTool(ctx, exec, tool, params, timeout)
			duration := time.Since(start)

			e.health.Record(tool, success, duration, errMsg)
			if success {
				breaker.RecordSuccess()
			} else {
				breaker.RecordFailure()
			}

			result.Success = success
			result.Output = output
			result.Data = data
			result.Error = errMsg
			result.DurationMS = duration.Milliseconds()

			if success {
				result.Retries = retries
				return result
			}
		}

		retries++
		result.Retries = retries
		last = result

		e.logger.Debug("Step attempt failed", map[string]interface{}{
			"operation": "step_attempt_failed",
			"step":      idx,
			"tool":      tool,
			"attempt":   attempt,
			"error":     result.Error,
		})

		if attempt < policy.MaxRetries {
			if err := resilience.SleepContext(ctx, policy.Delay(attempt)); err != nil {
				last.Error = core.ErrContextCanceled.Error()
				return last
			}
		}
	}

	return last
}

// callTool invokes the tool executor under the step timeout. A deadline
// cancels the in-flight call; the result is then a "tool timeout" failure.
func (e *ChainExecutor) callTool(ctx context.Context, exec core.ToolExecutor, tool string, params map[string]interface{}, timeout time.Duration) (success bool, output string, data interface{}, errMsg string) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type toolOutcome struct {
		res *core.ToolResult
		err error
	}
	done := make(chan toolOutcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- toolOutcome{err: fmt.Errorf("panic in tool executor: %v", r)}
			}
		}()
		res, err := exec.Execute(callCtx, tool, params)
		done <- toolOutcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return false, "", nil, out.err.Error()
		}
		if out.res == nil {
			return false, "", nil, "tool returned no result"
		}
		if !out.res.Success {
			msg := out.res.Error
			if msg == "" {
				msg = core.ErrToolFailed.Error()
			}
			return false, out.res.Output, out.res.Data, msg
		}
		return true, out.res.Output, out.res.Data, ""
	case <-callCtx.Done():
		// The call keeps running until it notices cancellation; its
		// eventual outcome is discarded
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return false, "", nil, errToolTimeout
		}
		return false, "", nil, core.ErrContextCanceled.Error()
	}
}

// resolveParams merges a step's dynamic bindings over its static params
func resolveParams(step *ChainStep, prev *StepResult, input map[string]interface{}) map[string]interface{} {
	params := make(map[string]interface{}, len(step.Params)+len(step.bindings))
	for k, v := range step.Params {
		params[k] = v
	}

	for _, b := range step.bindings {
		switch b.source {
		case srcInput:
			if v, ok := input[b.key]; ok {
				params[b.param] = v
			} else {
				params[b.param] = ""
			}
		case srcPrevOutput:
			if prev != nil {
				params[b.param] = prev.Output
			}
		case srcPrevData:
			if prev != nil {
				params[b.param] = prev.Data
			}
		case srcPrevDataField:
			if prev == nil {
				continue
			}
			if m, ok := prev.Data.(map[string]interface{}); ok {
				if v, ok := m[b.key]; ok {
					params[b.param] = v
				} else {
					params[b.param] = ""
				}
			}
		}
	}
	return params
}

// evalCondition checks a step's condition against the previous result.
// Steps with no condition, or no previous result, always run.
func evalCondition(step *ChainStep, prev *StepResult) bool {
	cond := step.condition
	if cond.kind == condNone || prev == nil {
		return true
	}
	switch cond.kind {
	case condPrevSuccess:
		return prev.Success == cond.wantSuccess
	case condPrevDataField:
		m, ok := prev.Data.(map[string]interface{})
		if !ok {
			return true
		}
		// a missing field compares as the empty string
		return cast.ToString(m[cond.field]) == cond.want
	default:
		return true
	}
}

// Executions returns the cumulative number of chain executions
func (e *ChainExecutor) Executions() uint64 {
	return e.executions.Load()
}

// Stats returns executor counters and per-tool breaker diagnostics
func (e *ChainExecutor) Stats() map[string]interface{} {
	e.mu.Lock()
	breakers := make(map[string]interface{}, len(e.breakers))
	for name, cb := range e.breakers {
		breakers[name] = cb.Metrics()
	}
	e.mu.Unlock()

	return map[string]interface{}{
		"total_executions": e.executions.Load(),
		"breakers":         breakers,
	}
}
