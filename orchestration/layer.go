package orchestration

import (
	"context"
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/toolmesh/toolmesh/core"
	"github.com/toolmesh/toolmesh/resilience"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LayerConfig configures an IntegrationLayer. All fields are optional.
type LayerConfig struct {
	Logger    core.Logger
	Telemetry core.Telemetry

	// Cache backs the auto-healer result cache. Defaults to an in-memory
	// store; pass a core.RedisStore to share cached results across
	// processes.
	Cache core.Memory

	// HealthThresholds tune the healthy/degraded/unhealthy boundaries
	HealthThresholds *resilience.HealthThresholds

	// DefaultRetry applies to steps without a per-step override
	DefaultRetry *resilience.RetryPolicy

	// DefaultTimeout bounds individual tool calls (default 30s)
	DefaultTimeout time.Duration

	// CacheMaxAge bounds reuse of healer-cached results (default 1h)
	CacheMaxAge time.Duration

	// MaxParallel caps concurrent calls in ExecuteParallel (default 5)
	MaxParallel int

	// NewBreakerConfig overrides per-tool circuit breaker construction
	NewBreakerConfig func(toolName string) *resilience.CircuitBreakerConfig

	// SkipDefaults suppresses registration of the built-in chains and
	// fallback tables during Initialize
	SkipDefaults bool
}

// ToolCall names a single tool invocation for ExecuteParallel
type ToolCall struct {
	Tool   string
	Params map[string]interface{}
}

// IntegrationLayer is the facade over chain execution, routing, health
// monitoring, fallbacks and auto-healing. Construct it once, call
// Initialize with the tool executor, then use it from any goroutine.
type IntegrationLayer struct {
	logger      core.Logger
	health      *resilience.HealthMonitor
	fallbacks   *resilience.FallbackManager
	healer      *resilience.AutoHealer
	router      *ToolChainRouter
	executor    *ChainExecutor
	maxParallel int

	mu          sync.RWMutex
	toolExec    core.ToolExecutor
	initialized bool
}

// NewIntegrationLayer wires the subsystems together
func NewIntegrationLayer(config LayerConfig) *IntegrationLayer {
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	if config.MaxParallel <= 0 {
		config.MaxParallel = 5
	}
	thresholds := resilience.DefaultHealthThresholds()
	if config.HealthThresholds != nil {
		thresholds = *config.HealthThresholds
	}

	health := resilience.NewHealthMonitor(thresholds, config.Logger)
	fallbacks := resilience.NewFallbackManager(config.Logger)
	healer := resilience.NewAutoHealer(config.Cache, config.Logger)
	router := NewToolChainRouter(config.Logger)
	executor := NewChainExecutor(ExecutorConfig{
		HealthMonitor:    health,
		Fallbacks:        fallbacks,
		Healer:           healer,
		DefaultRetry:     config.DefaultRetry,
		DefaultTimeout:   config.DefaultTimeout,
		CacheMaxAge:      config.CacheMaxAge,
		NewBreakerConfig: config.NewBreakerConfig,
		Logger:           config.Logger,
		Telemetry:        config.Telemetry,
	})

	layer := &IntegrationLayer{
		logger:      config.Logger,
		health:      health,
		fallbacks:   fallbacks,
		healer:      healer,
		router:      router,
		executor:    executor,
		maxParallel: config.MaxParallel,
	}
	if !config.SkipDefaults {
		router.RegisterDefaults()
		fallbacks.RegisterDefaults()
	}
	return layer
}

// Initialize binds the tool executor. It must be called before any
// execution method; calling it again replaces the executor.
func (l *IntegrationLayer) Initialize(exec core.ToolExecutor) error {
	if exec == nil {
		return fmt.Errorf("tool executor is required: %w", core.ErrInvalidConfiguration)
	}

	l.mu.Lock()
	l.toolExec = exec
	l.initialized = true
	l.mu.Unlock()

	l.logger.Info("Integration layer initialized", map[string]interface{}{
		"operation": "layer_initialize",
		"chains":    l.router.Size(),
		"fallbacks": l.fallbacks.Size(),
	})
	return nil
}

func (l *IntegrationLayer) executorAndTools() (*ChainExecutor, core.ToolExecutor, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.initialized {
		return nil, nil, core.ErrNotInitialized
	}
	return l.executor, l.toolExec, nil
}

// ExecuteChain runs a registered chain by name. An unknown chain yields a
// failed ChainResult rather than an error so callers handle one shape.
func (l *IntegrationLayer) ExecuteChain(ctx context.Context, name string, input map[string]interface{}) (*ChainResult, error) {
	executor, exec, err := l.executorAndTools()
	if err != nil {
		return nil, err
	}

	chain, ok := l.router.GetChain(name)
	if !ok {
		l.logger.Warn("Unknown chain requested", map[string]interface{}{
			"operation": "chain_lookup",
			"chain":     name,
		})
		return &ChainResult{
			ChainName:        name,
			Status:           StatusFailed,
			AggregatedOutput: core.NewToolError("layer.ExecuteChain", name, core.ErrUnknownChain).Error(),
		}, nil
	}

	return executor.ExecuteChain(ctx, chain, exec, input), nil
}

// Execute runs an ad hoc chain without registering it
func (l *IntegrationLayer) Execute(ctx context.Context, chain *ToolChain, input map[string]interface{}) (*ChainResult, error) {
	executor, exec, err := l.executorAndTools()
	if err != nil {
		return nil, err
	}
	if err := chain.Validate(); err != nil {
		return nil, err
	}
	return executor.ExecuteChain(ctx, chain, exec, input), nil
}

// AutoRoute matches a free-text request against registered chain keywords
// and executes the winner with the request as input "query". Returns
// (nil, nil) when nothing matches so callers can fall through to other
// handling.
func (l *IntegrationLayer) AutoRoute(ctx context.Context, request string, input map[string]interface{}) (*ChainResult, error) {
	executor, exec, err := l.executorAndTools()
	if err != nil {
		return nil, err
	}

	chain := l.router.FindChain(request)
	if chain == nil {
		return nil, nil
	}

	merged := map[string]interface{}{"query": request}
	for k, v := range input {
		merged[k] = v
	}
	return executor.ExecuteChain(ctx, chain, exec, merged), nil
}

// ExecuteSafe runs a single tool with the full protection stack by
// wrapping it in a one-step chain
func (l *IntegrationLayer) ExecuteSafe(ctx context.Context, toolName string, params map[string]interface{}) (*StepResult, error) {
	executor, exec, err := l.executorAndTools()
	if err != nil {
		return nil, err
	}

	chain := NewChain("safe_"+toolName, "single protected call").
		AddStep(ChainStep{ToolName: toolName, Params: params})
	result := executor.ExecuteChain(ctx, chain, exec, nil)
	if len(result.Steps) == 0 {
		return &StepResult{ToolName: toolName, Error: "no result produced"}, nil
	}
	return result.Steps[0], nil
}

// ExecuteParallel runs independent tool calls concurrently, bounded by
// MaxParallel, each with the full protection stack. Results preserve the
// order of the calls.
func (l *IntegrationLayer) ExecuteParallel(ctx context.Context, calls []ToolCall) ([]*StepResult, error) {
	if _, _, err := l.executorAndTools(); err != nil {
		return nil, err
	}
	if len(calls) == 0 {
		return nil, nil
	}

	results := make([]*StepResult, len(calls))
	sem := make(chan struct{}, l.maxParallel)
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(i int, call ToolCall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res, err := l.ExecuteSafe(ctx, call.Tool, call.Params)
			if err != nil {
				res = &StepResult{ToolName: call.Tool, Error: err.Error()}
			}
			res.StepIndex = i
			results[i] = res
		}(i, call)
	}
	wg.Wait()
	return results, nil
}

// RegisterChain adds a chain with routing keywords
func (l *IntegrationLayer) RegisterChain(chain *ToolChain, keywords []string) error {
	return l.router.RegisterChain(chain, keywords)
}

// CreateChain starts a new empty chain for fluent building. Register the
// finished chain with RegisterChain or run it directly with Execute.
func (l *IntegrationLayer) CreateChain(name, description string) *ToolChain {
	return NewChain(name, description)
}

// CreateLinearChain builds and registers a chain where each step feeds
// its output to the next step's "input" parameter
func (l *IntegrationLayer) CreateLinearChain(name string, toolNames []string, keywords []string) (*ToolChain, error) {
	if len(toolNames) == 0 {
		return nil, core.ErrEmptyChain
	}

	chain := NewChain(name, "linear chain over "+fmt.Sprint(len(toolNames))+" tools")
	for i, tool := range toolNames {
		step := ChainStep{ToolName: tool}
		if i > 0 {
			step.ParamMapping = map[string]string{"input": "prev.output"}
		}
		chain.AddStep(step)
	}
	if err := l.RegisterChain(chain, keywords); err != nil {
		return nil, err
	}
	return chain, nil
}

// RegisterFallbacks adds substitute tools for a primary tool
func (l *IntegrationLayer) RegisterFallbacks(toolName string, fallbacks []string) {
	l.fallbacks.Register(toolName, fallbacks)
}

// Breaker exposes the circuit breaker for a tool
func (l *IntegrationLayer) Breaker(toolName string) *resilience.CircuitBreaker {
	return l.executor.Breaker(toolName)
}

// Router exposes the chain router
func (l *IntegrationLayer) Router() *ToolChainRouter {
	return l.router
}

// HealthMonitor exposes the shared tool health monitor
func (l *IntegrationLayer) HealthMonitor() *resilience.HealthMonitor {
	return l.health
}

// HealthReport summarizes per-tool health for diagnostics endpoints
func (l *IntegrationLayer) HealthReport() map[string]interface{} {
	return map[string]interface{}{
		"tools":       l.health.Report(),
		"unhealthy":   l.health.Unhealthy(),
		"degraded":    l.health.Degraded(),
		"top_slow":    l.health.TopSlow(3),
		"top_failing": l.health.TopFailing(3),
		"summary":     l.health.Stats(),
	}
}

// Stats aggregates counters from every subsystem
func (l *IntegrationLayer) Stats() map[string]interface{} {
	return map[string]interface{}{
		"executor":  l.executor.Stats(),
		"router":    l.router.Stats(),
		"fallbacks": l.fallbacks.Stats(),
		"healing":   l.healer.Stats(),
		"health":    l.health.Stats(),
	}
}

// StatsJSON renders Stats as JSON for logs or debug endpoints
func (l *IntegrationLayer) StatsJSON() (string, error) {
	data, err := json.MarshalIndent(l.Stats(), "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
