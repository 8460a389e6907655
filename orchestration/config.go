package orchestration

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/toolmesh/toolmesh/core"
	"github.com/toolmesh/toolmesh/resilience"
)

// ChainsFile is the declarative form of chains and fallback tables,
// loaded from YAML so operators can reshape workflows without a rebuild.
//
//	chains:
//	  - name: research_summarize
//	    description: Search then summarize
//	    abort_policy: any_fail
//	    keywords: [research, investigate]
//	    steps:
//	      - tool: web_search
//	        param_mapping: {query: input.query}
//	      - tool: summarize_text
//	        param_mapping: {text: prev.output}
//	        timeout: 20s
//	        optional: true
//	fallbacks:
//	  web_search: [web_deep_search, knowledge_search]
type ChainsFile struct {
	Chains    []ChainDefinition   `yaml:"chains"`
	Fallbacks map[string][]string `yaml:"fallbacks"`
}

// ChainDefinition is one chain entry of a ChainsFile
type ChainDefinition struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	AbortPolicy string           `yaml:"abort_policy"`
	Tags        []string         `yaml:"tags"`
	Keywords    []string         `yaml:"keywords"`
	Steps       []StepDefinition `yaml:"steps"`
}

// StepDefinition is one step entry of a ChainDefinition
type StepDefinition struct {
	Tool         string                 `yaml:"tool"`
	Params       map[string]interface{} `yaml:"params"`
	ParamMapping map[string]string      `yaml:"param_mapping"`
	Condition    string                 `yaml:"condition"`
	Optional     bool                   `yaml:"optional"`
	Timeout      string                 `yaml:"timeout"`
	MaxRetries   *int                   `yaml:"max_retries"`
}

// LoadChainsFile reads and parses a YAML chains file
func LoadChainsFile(path string) (*ChainsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading chains file: %w", err)
	}
	var file ChainsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing chains file: %w", err)
	}
	return &file, nil
}

// Build converts a definition into an executable chain. defaultRetry
// seeds per-step policies when a step overrides max_retries; nil uses
// resilience.DefaultRetryPolicy.
func (d *ChainDefinition) Build(defaultRetry *resilience.RetryPolicy) (*ToolChain, error) {
	chain := NewChain(d.Name, d.Description)
	chain.Tags = d.Tags
	if d.AbortPolicy != "" {
		chain.AbortPolicy = AbortPolicy(d.AbortPolicy)
	}

	for i, sd := range d.Steps {
		step := ChainStep{
			ToolName:     sd.Tool,
			Params:       sd.Params,
			ParamMapping: sd.ParamMapping,
			Condition:    sd.Condition,
			Optional:     sd.Optional,
		}
		if sd.Timeout != "" {
			timeout, err := time.ParseDuration(sd.Timeout)
			if err != nil {
				return nil, fmt.Errorf("chain %q step %d: bad timeout %q: %w", d.Name, i, sd.Timeout, core.ErrInvalidConfiguration)
			}
			step.Timeout = timeout
		}
		if sd.MaxRetries != nil {
			policy := defaultRetry
			if policy == nil {
				policy = resilience.DefaultRetryPolicy()
			}
			clone := *policy
			clone.MaxRetries = *sd.MaxRetries
			step.Retry = &clone
		}
		chain.AddStep(step)
	}

	if err := chain.Validate(); err != nil {
		return nil, err
	}
	return chain, nil
}

// Apply registers every chain and fallback table from the file onto the
// layer. Chains override per-step retry counts by cloning the layer's
// default policy.
func (l *IntegrationLayer) ApplyChainsFile(file *ChainsFile) error {
	for _, def := range file.Chains {
		chain, err := def.Build(l.executor.defaultRetry)
		if err != nil {
			return err
		}
		if err := l.RegisterChain(chain, def.Keywords); err != nil {
			return fmt.Errorf("registering chain %q: %w", def.Name, err)
		}
	}
	for primary, subs := range file.Fallbacks {
		l.fallbacks.Register(primary, subs)
	}

	l.logger.Info("Chains file applied", map[string]interface{}{
		"operation": "chains_file_apply",
		"chains":    len(file.Chains),
		"fallbacks": len(file.Fallbacks),
	})
	return nil
}

// LoadChains loads a YAML file and applies it in one call
func (l *IntegrationLayer) LoadChains(path string) error {
	file, err := LoadChainsFile(path)
	if err != nil {
		return err
	}
	return l.ApplyChainsFile(file)
}
