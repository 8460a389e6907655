package orchestration

// ChainStatus is the overall outcome of a chain execution
type ChainStatus string

const (
	// StatusCompleted means every executed step succeeded
	StatusCompleted ChainStatus = "completed"
	// StatusPartial means the chain ran to the end but some steps failed
	StatusPartial ChainStatus = "partial"
	// StatusFailed means the chain aborted or no step succeeded
	StatusFailed ChainStatus = "failed"
)

// StepResult is the outcome of one logical chain step. Fallback
// substitutions still produce a single StepResult carrying the outcome of
// whichever tool ultimately answered.
type StepResult struct {
	StepIndex    int         `json:"step"`
	ToolName     string      `json:"tool"`
	Success      bool        `json:"success"`
	Output       string      `json:"output"`
	Data         interface{} `json:"data,omitempty"`
	Error        string      `json:"error,omitempty"`
	DurationMS   int64       `json:"duration_ms"`
	Retries      int         `json:"retries"`
	FallbackUsed string      `json:"fallback,omitempty"`
}

// outputPreview bounds the output carried in diagnostic snapshots
const outputPreview = 200

// Snapshot returns the result as a map for diagnostics, with the output
// truncated to a preview
func (r *StepResult) Snapshot() map[string]interface{} {
	output := r.Output
	if len(output) > outputPreview {
		output = output[:outputPreview]
	}
	return map[string]interface{}{
		"step":        r.StepIndex,
		"tool":        r.ToolName,
		"success":     r.Success,
		"output":      output,
		"error":       r.Error,
		"duration_ms": r.DurationMS,
		"retries":     r.Retries,
		"fallback":    r.FallbackUsed,
	}
}

// ChainResult is the aggregate outcome of one chain execution
type ChainResult struct {
	ChainID          string                 `json:"chain_id"`
	ChainName        string                 `json:"name"`
	Status           ChainStatus            `json:"status"`
	Steps            []*StepResult          `json:"steps"`
	TotalDurationMS  int64                  `json:"total_duration_ms"`
	AggregatedOutput string                 `json:"aggregated_output,omitempty"`
	AggregatedData   map[string]interface{} `json:"aggregated_data,omitempty"`
}

// SuccessRate returns succeeded/total over produced step results
func (r *ChainResult) SuccessRate() float64 {
	if len(r.Steps) == 0 {
		return 0
	}
	ok := 0
	for _, s := range r.Steps {
		if s.Success {
			ok++
		}
	}
	return float64(ok) / float64(len(r.Steps))
}

// FailedSteps returns the step results that did not succeed
func (r *ChainResult) FailedSteps() []*StepResult {
	failed := make([]*StepResult, 0)
	for _, s := range r.Steps {
		if !s.Success {
			failed = append(failed, s)
		}
	}
	return failed
}

// Snapshot returns the result as a map suitable for JSON serialization
func (r *ChainResult) Snapshot() map[string]interface{} {
	ok := 0
	for _, s := range r.Steps {
		if s.Success {
			ok++
		}
	}
	output := r.AggregatedOutput
	if len(output) > 500 {
		output = output[:500]
	}
	return map[string]interface{}{
		"chain_id":          r.ChainID,
		"name":              r.ChainName,
		"status":            string(r.Status),
		"success_rate":      r.SuccessRate(),
		"total_duration_ms": r.TotalDurationMS,
		"steps_total":       len(r.Steps),
		"steps_ok":          ok,
		"aggregated_output": output,
	}
}
