package orchestration

import (
	"fmt"
	"strings"
)

// AggregateText joins the outputs of all successful steps
func AggregateText(results []*StepResult, separator string) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		if r.Success && r.Output != "" {
			parts = append(parts, r.Output)
		}
	}
	return strings.Join(parts, separator)
}

// AggregateData merges the structured data of all successful steps into a
// per-tool map. Non-map values are wrapped under a "value" key.
func AggregateData(results []*StepResult) map[string]interface{} {
	merged := make(map[string]interface{})
	for _, r := range results {
		if !r.Success || r.Data == nil {
			continue
		}
		if m, ok := r.Data.(map[string]interface{}); ok {
			merged[r.ToolName] = m
		} else {
			merged[r.ToolName] = map[string]interface{}{"value": r.Data}
		}
	}
	return merged
}

// Summary renders a short human-readable report of step outcomes
func Summary(results []*StepResult) string {
	total := len(results)
	ok := 0
	for _, r := range results {
		if r.Success {
			ok++
		}
	}

	lines := []string{fmt.Sprintf("Result: %d/%d steps succeeded", ok, total)}
	for _, r := range results {
		if !r.Success {
			lines = append(lines, fmt.Sprintf("  failed %s: %s", r.ToolName, r.Error))
		}
	}
	return strings.Join(lines, "\n")
}
