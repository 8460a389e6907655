package orchestration

import (
	"sort"
	"strings"
	"sync"

	"github.com/toolmesh/toolmesh/core"
)

// ToolChainRouter maps free-text requests to registered chains by keyword
// matching. Longer keyword matches score higher so "quarterly report"
// beats "report"; ties keep the earliest-registered chain.
type ToolChainRouter struct {
	mu       sync.RWMutex
	chains   map[string]*ToolChain
	keywords map[string][]string // chain name -> lowercased keywords
	order    []string            // registration order, for deterministic ties
	logger   core.Logger
}

// NewToolChainRouter creates an empty router
func NewToolChainRouter(logger core.Logger) *ToolChainRouter {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &ToolChainRouter{
		chains:   make(map[string]*ToolChain),
		keywords: make(map[string][]string),
		logger:   logger,
	}
}

// RegisterChain adds a chain with the keywords that route to it. Keywords
// are matched case-insensitively as substrings of the request. Registering
// an existing name returns core.ErrAlreadyRegistered.
func (r *ToolChainRouter) RegisterChain(chain *ToolChain, keywords []string) error {
	if err := chain.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.chains[chain.Name]; exists {
		return core.ErrAlreadyRegistered
	}

	lowered := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			lowered = append(lowered, kw)
		}
	}

	r.chains[chain.Name] = chain
	r.keywords[chain.Name] = lowered
	r.order = append(r.order, chain.Name)

	r.logger.Debug("Chain registered", map[string]interface{}{
		"operation": "router_register",
		"chain":     chain.Name,
		"keywords":  len(lowered),
		"steps":     len(chain.Steps),
	})
	return nil
}

// GetChain returns a chain by name
func (r *ToolChainRouter) GetChain(name string) (*ToolChain, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chain, ok := r.chains[name]
	return chain, ok
}

// FindChain routes a request to the best-matching chain, or nil when no
// registered keyword occurs in the request. The score of a chain is the
// length of its longest keyword found in the request; a later chain
// replaces the current best only with a strictly greater score.
func (r *ToolChainRouter) FindChain(request string) *ToolChain {
	needle := strings.ToLower(request)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		best      *ToolChain
		bestScore int
	)
	for _, name := range r.order {
		score := 0
		for _, kw := range r.keywords[name] {
			if strings.Contains(needle, kw) && len(kw) > score {
				score = len(kw)
			}
		}
		if score > bestScore {
			bestScore = score
			best = r.chains[name]
		}
	}

	if best != nil {
		r.logger.Debug("Request routed", map[string]interface{}{
			"operation": "router_match",
			"chain":     best.Name,
			"score":     bestScore,
		})
	}
	return best
}

// ListChains returns the registered chain names, sorted
func (r *ToolChainRouter) ListChains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.chains))
	for name := range r.chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Size returns the number of registered chains
func (r *ToolChainRouter) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chains)
}

// Stats returns per-chain keyword counts and step counts
func (r *ToolChainRouter) Stats() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chains := make(map[string]interface{}, len(r.chains))
	for name, chain := range r.chains {
		chains[name] = map[string]interface{}{
			"steps":    len(chain.Steps),
			"keywords": len(r.keywords[name]),
		}
	}
	return map[string]interface{}{
		"total_chains": len(r.chains),
		"chains":       chains,
	}
}

// RegisterDefaults installs the built-in chains for common request shapes.
// Registration errors are ignored for names already taken so callers can
// pre-register their own variants.
func (r *ToolChainRouter) RegisterDefaults() {
	research := NewChain("research_summarize", "Search the web, summarize findings and store them")
	research.AddStep(ChainStep{
		ToolName: "web_search",
		ParamMapping: map[string]string{
			"query": "input.query",
		},
	})
	research.AddStep(ChainStep{
		ToolName: "summarize_text",
		ParamMapping: map[string]string{
			"text": "prev.output",
		},
	})
	research.AddStep(ChainStep{
		ToolName: "knowledge_add",
		ParamMapping: map[string]string{
			"content": "prev.output",
		},
		Condition: "prev.success == true",
		Optional:  true,
	})
	_ = r.RegisterChain(research, []string{"research", "investigate", "find out", "look up", "search for"})

	report := NewChain("finance_report", "Collect financial figures and draft a report")
	report.AddStep(ChainStep{
		ToolName: "finance_query",
		ParamMapping: map[string]string{
			"query": "input.query",
		},
	})
	report.AddStep(ChainStep{
		ToolName: "generate_report",
		ParamMapping: map[string]string{
			"data": "prev.data",
		},
	})
	_ = r.RegisterChain(report, []string{"financial report", "finance report", "revenue", "quarterly"})

	notify := NewChain("summarize_notify", "Summarize content and notify the requester")
	notify.AddStep(ChainStep{
		ToolName: "summarize_text",
		ParamMapping: map[string]string{
			"text": "input.query",
		},
	})
	notify.AddStep(ChainStep{
		ToolName: "send_notification",
		ParamMapping: map[string]string{
			"message": "prev.output",
		},
		Optional: true,
	})
	_ = r.RegisterChain(notify, []string{"summarize", "summary", "notify", "tl;dr"})
}
