package pipeline

import (
	"bytes"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// StageSpec is one compiled stage entry. Specs are read-only once loaded and
// shared by every executor; RetryPlanner produces modified copies.
type StageSpec struct {
	Name     string
	Type     string
	Enabled  bool
	Optional bool
	// Input names the stage whose artifact this stage consumes. Empty means
	// the previous enabled stage.
	Input    string
	Params   Params
	Ops      []OpSpec
	Contract Contract
}

// OpSpec is one ordered sub-operation of a stage.
type OpSpec struct {
	Type    string
	Enabled bool
	Params  Params
}

// Clone returns a deep copy of s.
func (s StageSpec) Clone() StageSpec {
	out := s
	out.Params = s.Params.Clone()
	out.Ops = make([]OpSpec, len(s.Ops))
	for i, op := range s.Ops {
		out.Ops[i] = OpSpec{Type: op.Type, Enabled: op.Enabled, Params: op.Params.Clone()}
	}
	return out
}

// Config is the ordered stage list a page is executed under.
type Config []StageSpec

// Clone returns a deep copy of c.
func (c Config) Clone() Config {
	out := make(Config, len(c))
	for i, s := range c {
		out[i] = s.Clone()
	}
	return out
}

// Index returns the position of the named stage, or -1.
func (c Config) Index(name string) int {
	return slices.IndexFunc(c, func(s StageSpec) bool { return s.Name == name })
}

// QualityConfig configures the evaluator and the acceptance threshold.
type QualityConfig struct {
	Threshold          float64 `yaml:"threshold" json:"threshold"`
	Metric             Metric  `yaml:"metric" json:"metric"`
	LowTokenConfidence float64 `yaml:"low_token_confidence" json:"low_token_confidence"`
}

// IntermediateConfig controls saving of per-operation artifacts.
type IntermediateConfig struct {
	Save bool   `yaml:"save" json:"save"`
	Dir  string `yaml:"dir" json:"dir"`
}

// InputConfig controls document discovery.
type InputConfig struct {
	Extensions []string `yaml:"extensions" json:"extensions"`
	SkipHidden *bool    `yaml:"skip_hidden" json:"skip_hidden"`
}

// WorkerCount decodes either "auto" (0) or a positive integer.
type WorkerCount int

func (w *WorkerCount) UnmarshalYAML(value *yaml.Node) error {
	v := strings.TrimSpace(value.Value)
	if v == "" || strings.EqualFold(v, "auto") {
		*w = 0
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fmt.Errorf("workers must be \"auto\" or a non-negative integer, got %q", v)
	}
	*w = WorkerCount(n)
	return nil
}

// PipelineSpec is the loaded pipeline document.
type PipelineSpec struct {
	Input           InputConfig
	Workers         int
	DocumentTimeout time.Duration
	Stages          Config
	Quality         QualityConfig
	Retry           RetryConfig
	Intermediate    IntermediateConfig

	planner *RetryPlanner
}

// Planner returns the retry planner validated at load time.
func (s *PipelineSpec) Planner() *RetryPlanner { return s.planner }

// SkipHidden reports whether discovery ignores dot files (default true).
func (s *PipelineSpec) SkipHidden() bool {
	return s.Input.SkipHidden == nil || *s.Input.SkipHidden
}

type specDocument struct {
	Input           InputConfig        `yaml:"input"`
	Workers         WorkerCount        `yaml:"workers"`
	DocumentTimeout string             `yaml:"document_timeout"`
	Stages          []stageDocument    `yaml:"stages"`
	Quality         QualityConfig      `yaml:"quality"`
	Retry           RetryConfig        `yaml:"retry"`
	Intermediate    IntermediateConfig `yaml:"intermediate"`
}

type stageDocument struct {
	Name     string         `yaml:"name"`
	Type     string         `yaml:"type"`
	Enabled  *bool          `yaml:"enabled"`
	Optional bool           `yaml:"optional"`
	Input    string         `yaml:"input"`
	Params   map[string]any `yaml:"params"`
	Ops      []opDocument   `yaml:"ops"`
}

type opDocument struct {
	Type    string         `yaml:"type"`
	Enabled *bool          `yaml:"enabled"`
	Params  map[string]any `yaml:"params"`
}

// ParseSpecYAML decodes, schema-checks and compiles a pipeline document
// against the registry. Configuration errors (unknown stages, invalid retry
// strategies) surface here, before any document is processed.
func ParseSpecYAML(data []byte, reg *Registry) (*PipelineSpec, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("pipeline: spec payload is empty")
	}
	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("pipeline: decode spec: %w", err)
	}
	if err := validateSpecSchema(generic); err != nil {
		return nil, err
	}
	var doc specDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("pipeline: decode spec: %w", err)
	}
	return doc.compile(reg)
}

// LoadSpecFile loads a pipeline document from disk.
func LoadSpecFile(path string, reg *Registry) (*PipelineSpec, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read %s: %w", path, err)
	}
	spec, err := ParseSpecYAML(content, reg)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %s: %w", path, err)
	}
	return spec, nil
}

func (d specDocument) compile(reg *Registry) (*PipelineSpec, error) {
	spec := &PipelineSpec{
		Input:        d.Input,
		Workers:      int(d.Workers),
		Quality:      d.Quality,
		Retry:        d.Retry,
		Intermediate: d.Intermediate,
	}
	if d.DocumentTimeout != "" {
		timeout, err := time.ParseDuration(d.DocumentTimeout)
		if err != nil || timeout < 0 {
			return nil, fmt.Errorf("pipeline: invalid document_timeout %q", d.DocumentTimeout)
		}
		spec.DocumentTimeout = timeout
	}
	if spec.Quality.Metric == "" {
		spec.Quality.Metric = MetricMeanConfidence
	}
	if spec.Quality.LowTokenConfidence == 0 {
		spec.Quality.LowTokenConfidence = DefaultLowTokenConfidence
	}

	seen := map[string]struct{}{}
	for _, sd := range d.Stages {
		stage, err := sd.compile(reg)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[stage.Name]; dup {
			return nil, fmt.Errorf("pipeline: duplicate stage name %q", stage.Name)
		}
		if stage.Input != "" {
			if _, ok := seen[stage.Input]; !ok {
				return nil, fmt.Errorf("pipeline: stage %q input %q must name an earlier stage", stage.Name, stage.Input)
			}
		}
		seen[stage.Name] = struct{}{}
		spec.Stages = append(spec.Stages, stage)
	}

	planner, err := NewRetryPlanner(spec.Stages, spec.Retry)
	if err != nil {
		return nil, err
	}
	spec.planner = planner
	return spec, nil
}

func (sd stageDocument) compile(reg *Registry) (StageSpec, error) {
	typ := sd.Type
	if typ == "" {
		typ = sd.Name
	}
	name := sd.Name
	if name == "" {
		name = typ
	}
	contract, err := reg.Resolve(typ)
	if err != nil {
		return StageSpec{}, err
	}
	params, err := contract.Params.Coerce(sd.Params)
	if err != nil {
		return StageSpec{}, fmt.Errorf("pipeline: stage %q: %w", name, err)
	}
	stage := StageSpec{
		Name:     name,
		Type:     typ,
		Enabled:  sd.Enabled == nil || *sd.Enabled,
		Optional: sd.Optional,
		Input:    sd.Input,
		Params:   params,
		Contract: contract,
	}
	for _, od := range sd.Ops {
		opSpec, ok := contract.Ops[od.Type]
		if !ok {
			return StageSpec{}, fmt.Errorf("pipeline: stage %q: unknown operation %q", name, od.Type)
		}
		opParams, err := opSpec.Coerce(od.Params)
		if err != nil {
			return StageSpec{}, fmt.Errorf("pipeline: stage %q operation %q: %w", name, od.Type, err)
		}
		stage.Ops = append(stage.Ops, OpSpec{
			Type:    od.Type,
			Enabled: od.Enabled != nil && *od.Enabled,
			Params:  opParams,
		})
	}
	return stage, nil
}
