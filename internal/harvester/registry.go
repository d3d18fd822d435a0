package harvester

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jdp1ps/svp-harvester-go/internal/types"
)

// Factory builds a fresh Adapter instance per retrieval; adapters are
// expected to be cheap, stateless-between-calls constructs so a new one per
// retrieval avoids any shared mutable state across concurrent retrievals.
type Factory func(options map[string]any) (Adapter, error)

// Registry is the name-keyed harvester factory and registry: config
// enumerates adapters by name, the registry instantiates only the ones
// relevant to the incoming entity, preserving configuration order, and
// fails fast on an unknown name at config load.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	order     []string
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a named adapter factory. Registering the same name twice
// overwrites the previous factory but keeps its original position in order.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; !exists {
		r.order = append(r.order, name)
	}
	r.factories[name] = factory
}

func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Clear removes every registered factory. Exposed for test isolation.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = make(map[string]Factory)
	r.order = nil
}

// Config is one entry of the `harvesters` config list.
type Config struct {
	Name    string
	Options map[string]any
}

// ValidateConfigNames fails fast at config load if any configured name
// has no registered factory.
func (r *Registry) ValidateConfigNames(configs []Config) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range configs {
		if _, ok := r.factories[c.Name]; !ok {
			return fmt.Errorf("harvester %q is not registered", c.Name)
		}
	}
	return nil
}

// InstantiateRelevant builds one Adapter per configured entry whose
// IsRelevant(entity) is true, filtered further by allowedNames when
// non-empty (the orchestrator's `harvesters` option), preserving
// configuration order.
func (r *Registry) InstantiateRelevant(configs []Config, entity types.Entity, allowedNames []string) ([]Adapter, error) {
	if err := r.ValidateConfigNames(configs); err != nil {
		return nil, err
	}

	var allowed map[string]bool
	if len(allowedNames) > 0 {
		allowed = make(map[string]bool, len(allowedNames))
		for _, n := range allowedNames {
			allowed[n] = true
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var adapters []Adapter
	for _, c := range configs {
		if allowed != nil && !allowed[c.Name] {
			continue
		}
		adapter, err := r.factories[c.Name](c.Options)
		if err != nil {
			return nil, fmt.Errorf("instantiate harvester %q: %w", c.Name, err)
		}
		if adapter.IsRelevant(entity) {
			adapters = append(adapters, adapter)
		}
	}
	return adapters, nil
}

// SortedNames returns the registered names in deterministic (lexical) order.
func (r *Registry) SortedNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}
