package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
)

// Stage transforms one artifact into another. Implementations must be safe
// for concurrent use by multiple documents, or serialise internally.
type Stage interface {
	Invoke(ctx context.Context, in Artifact, p StageParams) (Artifact, error)
}

// StageParams is the parameter block a stage is invoked with: its typed
// stage-level keys plus its ordered operations.
type StageParams struct {
	Params
	Ops []OpSpec
}

// StageFunc adapts a plain function to Stage.
type StageFunc func(ctx context.Context, in Artifact, p StageParams) (Artifact, error)

func (f StageFunc) Invoke(ctx context.Context, in Artifact, p StageParams) (Artifact, error) {
	return f(ctx, in, p)
}

// Contract is what a stage type declares at registration.
type Contract struct {
	Stage  Stage
	Input  Kind
	Output Kind
	// Params lists stage-level keys. Ops lists recognised sub-operations
	// and their keys; a stage without sub-operations leaves it nil.
	Params ParamSpec
	Ops    map[string]ParamSpec
	// Capabilities are process-wide resources (loaded models, engine
	// clients) injected into the stage. The registry releases them on Close.
	Capabilities []io.Closer
}

// Registry maps stage type names to their contracts. It is written during
// startup, sealed, and read concurrently afterwards.
type Registry struct {
	mu        sync.RWMutex
	contracts map[string]Contract
	sealed    bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{contracts: map[string]Contract{}}
}

// Register installs a contract. Returns an error if the name already exists
// or the registry has been sealed.
func (r *Registry) Register(name string, c Contract) error {
	if name == "" {
		return fmt.Errorf("pipeline: stage name is required")
	}
	if c.Stage == nil {
		return fmt.Errorf("pipeline: stage implementation is required for %s", name)
	}
	if c.Input == "" {
		c.Input = KindAny
	}
	if c.Output == "" {
		c.Output = KindAny
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("pipeline: registry sealed, cannot register %s", name)
	}
	if _, exists := r.contracts[name]; exists {
		return fmt.Errorf("pipeline: stage %s already registered", name)
	}
	r.contracts[name] = c
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(name string, c Contract) {
	if err := r.Register(name, c); err != nil {
		panic(err)
	}
}

// Seal freezes the registry. Later Register calls fail.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Resolve returns the contract registered under name.
func (r *Registry) Resolve(name string) (Contract, error) {
	r.mu.RLock()
	c, ok := r.contracts[name]
	r.mu.RUnlock()
	if !ok {
		return Contract{}, &UnknownStageError{Stage: name}
	}
	return c, nil
}

// Names returns a sorted list of registered stage types.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedNamesLocked()
}

// Close releases every capability held by registered stages.
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var errs []error
	for _, name := range r.sortedNamesLocked() {
		for _, c := range r.contracts[name].Capabilities {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) sortedNamesLocked() []string {
	names := make([]string, 0, len(r.contracts))
	for name := range r.contracts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
