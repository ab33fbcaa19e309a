package pipeline

import (
	"fmt"
	"regexp"
	"slices"

	"github.com/joseph-ayodele/scanflow/constants"
)

// StrategyDefinition is a named overlay as written in the pipeline document:
// overrides maps a stage name to stage keys, "enabled", or an operation type
// whose value is itself a map of operation keys.
type StrategyDefinition struct {
	Name      string                    `yaml:"name" json:"name"`
	Overrides map[string]map[string]any `yaml:"overrides" json:"overrides"`
}

// RetryConfig bounds the retry-eligible stage range and lists strategies in
// the order they are attempted.
type RetryConfig struct {
	From        string               `yaml:"from" json:"from"`
	To          string               `yaml:"to" json:"to"`
	MaxAttempts int                  `yaml:"max_attempts" json:"max_attempts"`
	Strategies  []StrategyDefinition `yaml:"strategies" json:"strategies"`
}

// StageOverlay is the typed partial update for one stage.
type StageOverlay struct {
	Enabled *bool
	Params  Params
	Ops     map[string]OpOverlay
}

// OpOverlay is the typed partial update for one operation type.
type OpOverlay struct {
	Enabled *bool
	Params  Params
}

// Strategy is a compiled, validated overlay.
type Strategy struct {
	Name     string
	Overlays map[string]StageOverlay
}

// PlannedConfig is one configuration to attempt.
type PlannedConfig struct {
	Strategy string
	Config   Config
}

// RetryPlanner turns strategies into full configurations. It is immutable
// after construction and shared by all executors.
type RetryPlanner struct {
	from, to    int
	maxAttempts int
	strategies  []Strategy
}

// Strategy names label per-attempt scratch directories, so they must be
// single path segments and must not collide with the phase labels.
var (
	strategyNamePattern   = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	reservedStrategyNames = map[string]bool{
		constants.InitialStrategy: true,
		constants.PhaseBase:       true,
		constants.PhaseFinal:      true,
	}
)

// NewRetryPlanner validates cfg against stages. Every strategy must only
// touch stages inside [From, To]; anything else is an InvalidStrategyError.
// An empty From/To means the range spans all stages.
func NewRetryPlanner(stages Config, cfg RetryConfig) (*RetryPlanner, error) {
	p := &RetryPlanner{from: 0, to: len(stages) - 1, maxAttempts: cfg.MaxAttempts}
	if cfg.MaxAttempts < 0 {
		return nil, fmt.Errorf("pipeline: retry max_attempts must not be negative")
	}
	if cfg.From != "" {
		if p.from = stages.Index(cfg.From); p.from < 0 {
			return nil, fmt.Errorf("pipeline: retry range start %q is not a stage", cfg.From)
		}
	}
	if cfg.To != "" {
		if p.to = stages.Index(cfg.To); p.to < 0 {
			return nil, fmt.Errorf("pipeline: retry range end %q is not a stage", cfg.To)
		}
	}
	if len(stages) > 0 && p.from > p.to {
		return nil, fmt.Errorf("pipeline: retry range %q..%q is reversed", cfg.From, cfg.To)
	}

	seen := map[string]struct{}{}
	for _, def := range cfg.Strategies {
		if def.Name == "" {
			return nil, &InvalidStrategyError{Reason: "name is required"}
		}
		if reservedStrategyNames[def.Name] {
			return nil, &InvalidStrategyError{Strategy: def.Name, Reason: "name is reserved"}
		}
		if !strategyNamePattern.MatchString(def.Name) {
			return nil, &InvalidStrategyError{Strategy: def.Name, Reason: "name must match " + strategyNamePattern.String()}
		}
		if _, dup := seen[def.Name]; dup {
			return nil, &InvalidStrategyError{Strategy: def.Name, Reason: "duplicate name"}
		}
		seen[def.Name] = struct{}{}
		s, err := p.compile(stages, def)
		if err != nil {
			return nil, err
		}
		p.strategies = append(p.strategies, s)
	}
	return p, nil
}

func (p *RetryPlanner) compile(stages Config, def StrategyDefinition) (Strategy, error) {
	if len(def.Overrides) == 0 {
		return Strategy{}, &InvalidStrategyError{Strategy: def.Name, Reason: "no overrides"}
	}
	s := Strategy{Name: def.Name, Overlays: make(map[string]StageOverlay, len(def.Overrides))}
	for stageName, raw := range def.Overrides {
		idx := stages.Index(stageName)
		if idx < 0 {
			return Strategy{}, &InvalidStrategyError{Strategy: def.Name, Stage: stageName, Reason: "unknown stage"}
		}
		if idx < p.from || idx > p.to {
			return Strategy{}, &InvalidStrategyError{Strategy: def.Name, Stage: stageName, Reason: "stage is outside the retry-eligible range"}
		}
		ov, err := compileOverlay(stages[idx], raw)
		if err != nil {
			return Strategy{}, &InvalidStrategyError{Strategy: def.Name, Stage: stageName, Reason: err.Error()}
		}
		s.Overlays[stageName] = ov
	}
	return s, nil
}

func compileOverlay(stage StageSpec, raw map[string]any) (StageOverlay, error) {
	ov := StageOverlay{Params: Params{}}
	stageRaw := map[string]any{}
	for key, value := range raw {
		if key == "enabled" {
			b, ok := value.(bool)
			if !ok {
				return StageOverlay{}, fmt.Errorf("enabled must be a bool")
			}
			ov.Enabled = &b
			continue
		}
		opSpec, isOp := stage.Contract.Ops[key]
		if !isOp {
			stageRaw[key] = value
			continue
		}
		opRaw, ok := value.(map[string]any)
		if !ok {
			return StageOverlay{}, fmt.Errorf("operation %q override must be a mapping", key)
		}
		op := OpOverlay{Params: Params{}}
		params := map[string]any{}
		for k, v := range opRaw {
			if k == "enabled" {
				b, ok := v.(bool)
				if !ok {
					return StageOverlay{}, fmt.Errorf("operation %q enabled must be a bool", key)
				}
				op.Enabled = &b
				continue
			}
			params[k] = v
		}
		typed, err := opSpec.Coerce(params)
		if err != nil {
			return StageOverlay{}, fmt.Errorf("operation %q: %w", key, err)
		}
		op.Params = typed
		if ov.Ops == nil {
			ov.Ops = map[string]OpOverlay{}
		}
		ov.Ops[key] = op
	}
	typed, err := stage.Contract.Params.Coerce(stageRaw)
	if err != nil {
		return StageOverlay{}, err
	}
	ov.Params = typed
	return ov, nil
}

// Strategies returns strategy names in attempt order.
func (p *RetryPlanner) Strategies() []string {
	names := make([]string, len(p.strategies))
	for i, s := range p.strategies {
		names[i] = s.Name
	}
	return names
}

// Range returns the inclusive stage index bounds of the retry-eligible range.
func (p *RetryPlanner) Range() (from, to int) { return p.from, p.to }

// MaxAttempts is the cap on retry attempts after the initial one; zero means
// every strategy.
func (p *RetryPlanner) MaxAttempts() int { return p.maxAttempts }

// Plan returns one configuration per strategy, in declared order and capped
// at MaxAttempts. Each is base deep-merged with the strategy's overlay; keys
// the overlay does not name keep their base values. base is not modified.
func (p *RetryPlanner) Plan(base Config) []PlannedConfig {
	strategies := p.strategies
	if p.maxAttempts > 0 && len(strategies) > p.maxAttempts {
		strategies = strategies[:p.maxAttempts]
	}
	out := make([]PlannedConfig, 0, len(strategies))
	for _, s := range strategies {
		out = append(out, PlannedConfig{Strategy: s.Name, Config: apply(base, s)})
	}
	return out
}

func apply(base Config, s Strategy) Config {
	cfg := base.Clone()
	for i := range cfg {
		ov, ok := s.Overlays[cfg[i].Name]
		if !ok {
			continue
		}
		stage := &cfg[i]
		if ov.Enabled != nil {
			stage.Enabled = *ov.Enabled
		}
		stage.Params = stage.Params.Merge(ov.Params)
		for _, opType := range sortedKeys(ov.Ops) {
			opOv := ov.Ops[opType]
			matched := false
			for j := range stage.Ops {
				if stage.Ops[j].Type != opType {
					continue
				}
				matched = true
				if opOv.Enabled != nil {
					stage.Ops[j].Enabled = *opOv.Enabled
				}
				stage.Ops[j].Params = stage.Ops[j].Params.Merge(opOv.Params)
			}
			if !matched {
				// A recognised operation absent from the base list is appended.
				enabled := opOv.Enabled == nil || *opOv.Enabled
				stage.Ops = append(stage.Ops, OpSpec{Type: opType, Enabled: enabled, Params: opOv.Params.Clone()})
			}
		}
	}
	return cfg
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
