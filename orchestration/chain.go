// Package orchestration implements declarative tool chains and their
// resilient execution: per-step retry with backoff, circuit breaking,
// fallback substitution, auto-healing and health monitoring around an
// opaque tool executor.
package orchestration

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/toolmesh/toolmesh/core"
	"github.com/toolmesh/toolmesh/resilience"
)

// AbortPolicy governs whether a failed required step stops subsequent
// step execution.
type AbortPolicy string

const (
	// AbortDefault stops the chain on a required step failure
	AbortDefault AbortPolicy = ""
	// AbortAnyFail stops the chain on any required step failure
	AbortAnyFail AbortPolicy = "any_fail"
	// AbortNever executes all remaining steps regardless of failures
	AbortNever AbortPolicy = "never"
)

// paramSource tags where a dynamic parameter value comes from
type paramSource int

const (
	srcInput paramSource = iota
	srcPrevOutput
	srcPrevData
	srcPrevDataField
)

// paramBinding is one parsed entry of a step's ParamMapping. Bindings are
// parsed once at chain-build time so the execution hot path never re-parses
// the mapping strings.
type paramBinding struct {
	param  string
	source paramSource
	key    string // input key or prev.data field, depending on source
}

// condKind tags a parsed step condition
type condKind int

const (
	condNone condKind = iota
	condPrevSuccess
	condPrevDataField
)

type stepCondition struct {
	kind        condKind
	field       string
	want        string
	wantSuccess bool
}

// ChainStep is one planned invocation within a chain.
type ChainStep struct {
	// ToolName is the primary tool to invoke (required)
	ToolName string

	// Params are static parameters passed to the tool
	Params map[string]interface{}

	// ParamMapping binds parameters dynamically at execution time.
	// Source references are "prev.output", "prev.data",
	// "prev.data.<field>" or "input.<key>".
	ParamMapping map[string]string

	// Condition optionally gates the step on the previous result:
	// "prev.success == true", "prev.success == false" or
	// "prev.data.<field> == <value>". A false condition skips the step.
	Condition string

	// Optional steps never abort the chain when they fail
	Optional bool

	// Timeout bounds the tool call; zero uses the executor default
	Timeout time.Duration

	// Retry overrides the executor's default retry policy for this step
	Retry *resilience.RetryPolicy

	bindings  []paramBinding
	condition stepCondition
}

// ToolChain is a declarative ordered sequence of steps with an abort
// policy. Build it fluently with AddStep and either execute it ad hoc or
// register it by name for reuse and routing. A chain is immutable once
// execution starts.
type ToolChain struct {
	ID          string
	Name        string
	Description string
	Tags        []string
	Steps       []*ChainStep
	AbortPolicy AbortPolicy
}

// NewChain creates an empty chain
func NewChain(name, description string) *ToolChain {
	return &ToolChain{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		AbortPolicy: AbortAnyFail,
	}
}

// AddStep appends a step, parsing its param mapping and condition.
// Returns the chain for fluent building.
func (c *ToolChain) AddStep(step ChainStep) *ToolChain {
	step.bindings = parseBindings(step.ParamMapping)
	step.condition = parseCondition(step.Condition)
	if step.Params == nil {
		step.Params = map[string]interface{}{}
	}
	c.Steps = append(c.Steps, &step)
	return c
}

// Validate checks the chain definition for programmer errors
func (c *ToolChain) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("chain name is required: %w", core.ErrInvalidConfiguration)
	}
	switch c.AbortPolicy {
	case AbortDefault, AbortAnyFail, AbortNever:
	default:
		return fmt.Errorf("unknown abort policy %q: %w", c.AbortPolicy, core.ErrInvalidConfiguration)
	}
	for i, step := range c.Steps {
		if step.ToolName == "" {
			return fmt.Errorf("step %d has no tool name: %w", i, core.ErrInvalidConfiguration)
		}
	}
	return nil
}

// Snapshot returns the chain definition as a map for diagnostics
func (c *ToolChain) Snapshot() map[string]interface{} {
	steps := make([]map[string]interface{}, 0, len(c.Steps))
	for _, s := range c.Steps {
		steps = append(steps, map[string]interface{}{
			"tool":     s.ToolName,
			"params":   s.Params,
			"mapping":  s.ParamMapping,
			"optional": s.Optional,
			"timeout":  s.Timeout.String(),
		})
	}
	return map[string]interface{}{
		"id":           c.ID,
		"name":         c.Name,
		"description":  c.Description,
		"tags":         c.Tags,
		"abort_policy": string(c.AbortPolicy),
		"steps":        steps,
	}
}

func parseBindings(mapping map[string]string) []paramBinding {
	if len(mapping) == 0 {
		return nil
	}
	bindings := make([]paramBinding, 0, len(mapping))
	for param, ref := range mapping {
		switch {
		case ref == "prev.output":
			bindings = append(bindings, paramBinding{param: param, source: srcPrevOutput})
		case ref == "prev.data":
			bindings = append(bindings, paramBinding{param: param, source: srcPrevData})
		case strings.HasPrefix(ref, "prev.data."):
			bindings = append(bindings, paramBinding{
				param:  param,
				source: srcPrevDataField,
				key:    strings.TrimPrefix(ref, "prev.data."),
			})
		case strings.HasPrefix(ref, "prev."):
			// Bare "prev.<field>" reads from the previous step's data map
			bindings = append(bindings, paramBinding{
				param:  param,
				source: srcPrevDataField,
				key:    strings.TrimPrefix(ref, "prev."),
			})
		case strings.HasPrefix(ref, "input."):
			bindings = append(bindings, paramBinding{
				param:  param,
				source: srcInput,
				key:    strings.TrimPrefix(ref, "input."),
			})
		}
	}
	return bindings
}

func parseCondition(expr string) stepCondition {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return stepCondition{kind: condNone}
	}

	parts := strings.SplitN(expr, "==", 2)
	if len(parts) != 2 {
		return stepCondition{kind: condNone}
	}
	left := strings.TrimSpace(parts[0])
	right := strings.TrimSpace(parts[1])

	if left == "prev.success" {
		return stepCondition{
			kind:        condPrevSuccess,
			wantSuccess: strings.EqualFold(right, "true"),
		}
	}
	if strings.HasPrefix(left, "prev.data.") {
		return stepCondition{
			kind:  condPrevDataField,
			field: strings.TrimPrefix(left, "prev.data."),
			want:  right,
		}
	}
	return stepCondition{kind: condNone}
}
