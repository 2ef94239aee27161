package gp

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
)

var (
	ErrOperatorExists   = errors.New("operator already registered")
	ErrOperatorNotFound = errors.New("operator not found")
)

// OperatorEnv carries what a mutator constructor may need.
type OperatorEnv struct {
	Catalogue *Catalogue
	Generator *Generator
	Limits    Limits
	RootType  string
	MutArgsPb float64
	Rand      *rand.Rand
}

type MutatorFactory func(env OperatorEnv) (Mutator, error)

var mutatorRegistry = struct {
	mu sync.RWMutex
	m  map[string]MutatorFactory
}{
	m: make(map[string]MutatorFactory),
}

func init() {
	registerBuiltinMutators()
}

func registerBuiltinMutators() {
	builtins := map[string]MutatorFactory{
		"node_swap": func(env OperatorEnv) (Mutator, error) {
			if env.Catalogue == nil {
				return nil, fmt.Errorf("%w: catalogue is required", ErrConfiguration)
			}
			return &NodeSwap{Catalogue: env.Catalogue, Limits: env.Limits, RootType: env.RootType, Rand: env.Rand}, nil
		},
		"subtree": func(env OperatorEnv) (Mutator, error) {
			if env.Generator == nil {
				return nil, fmt.Errorf("%w: generator is required", ErrConfiguration)
			}
			return &SubtreeMutation{Generator: env.Generator, RootType: env.RootType, Policy: PolicyGrow}, nil
		},
		"args": func(env OperatorEnv) (Mutator, error) {
			return &ArgMutation{Prob: env.MutArgsPb, Rand: env.Rand}, nil
		},
	}
	for name, factory := range builtins {
		if err := RegisterMutator(name, factory); err != nil {
			panic(err)
		}
	}
}

// RegisterMutator makes a mutator constructor available by name.
func RegisterMutator(name string, factory MutatorFactory) error {
	if name == "" {
		return errors.New("operator name is required")
	}
	if factory == nil {
		return errors.New("operator factory is required")
	}

	mutatorRegistry.mu.Lock()
	defer mutatorRegistry.mu.Unlock()

	if _, exists := mutatorRegistry.m[name]; exists {
		return fmt.Errorf("%w: %s", ErrOperatorExists, name)
	}
	mutatorRegistry.m[name] = factory
	return nil
}

// ResolveMutator constructs the named mutator for env.
func ResolveMutator(name string, env OperatorEnv) (Mutator, error) {
	mutatorRegistry.mu.RLock()
	factory, ok := mutatorRegistry.m[name]
	mutatorRegistry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOperatorNotFound, name)
	}
	if env.Rand == nil {
		return nil, errors.New("random source is required")
	}
	return factory(env)
}

func ListMutators() []string {
	mutatorRegistry.mu.RLock()
	defer mutatorRegistry.mu.RUnlock()

	names := make([]string, 0, len(mutatorRegistry.m))
	for name := range mutatorRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func resetMutatorRegistryForTests() {
	mutatorRegistry.mu.Lock()
	mutatorRegistry.m = make(map[string]MutatorFactory)
	mutatorRegistry.mu.Unlock()
	registerBuiltinMutators()
}
