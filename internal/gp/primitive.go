package gp

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrPrimitiveExists   = errors.New("primitive already registered")
	ErrPrimitiveNotFound = errors.New("primitive not found")
	ErrConfiguration     = errors.New("invalid primitive configuration")
)

// Params is a concrete hyperparameter assignment of a node.
type Params map[string]any

func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Domain lists the allowed values of every hyperparameter of a primitive.
type Domain map[string][]any

// Keys returns the hyperparameter names in stable order.
func (d Domain) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Primitive is an immutable grammar template. A primitive without slots is a
// terminal.
type Primitive struct {
	Name   string
	Out    string
	Slots  []TypeArity
	Domain Domain
	// TerminalOnly terminals are offered only when generation is restricted to
	// terminals (height budget exhausted or terminal policy).
	TerminalOnly bool
}

func (p *Primitive) IsTerminal() bool {
	return len(p.Slots) == 0
}

func (p *Primitive) Key() PrimitiveKey {
	return PrimitiveKey{Name: p.Name, Out: p.Out}
}

func (p *Primitive) String() string {
	if p.IsTerminal() {
		return fmt.Sprintf("%s -> %s", p.Name, p.Out)
	}
	return fmt.Sprintf("%s%v -> %s", p.Name, p.Slots, p.Out)
}

// PrimitiveKey identifies a primitive. Terminals sharing a name but producing
// different types are distinct.
type PrimitiveKey struct {
	Name string
	Out  string
}

// BuildFunc compiles a node into a runnable component. children holds the
// already compiled children grouped by slot.
type BuildFunc func(params Params, children [][]any) (any, error)

// Entry binds a primitive template to its builder.
type Entry struct {
	Primitive Primitive
	Build     BuildFunc
}

type registeredPrimitive struct {
	prim  *Primitive
	build BuildFunc
}

// Catalogue is the registry of primitives keyed by output type.
type Catalogue struct {
	mu     sync.RWMutex
	byKey  map[PrimitiveKey]registeredPrimitive
	byType map[string][]*Primitive
}

func NewCatalogue() *Catalogue {
	return &Catalogue{
		byKey:  make(map[PrimitiveKey]registeredPrimitive),
		byType: make(map[string][]*Primitive),
	}
}

// Register validates and stores an entry. The stored primitive is a private
// copy and must not be modified afterwards.
func (c *Catalogue) Register(entry Entry) error {
	prim := entry.Primitive
	if prim.Name == "" {
		return fmt.Errorf("%w: primitive name is required", ErrConfiguration)
	}
	if prim.Out == "" {
		return fmt.Errorf("%w: %s: output type is required", ErrConfiguration, prim.Name)
	}
	if entry.Build == nil {
		return fmt.Errorf("%w: %s: builder is required", ErrConfiguration, prim.Name)
	}
	if prim.TerminalOnly && !prim.IsTerminal() {
		return fmt.Errorf("%w: %s: only terminals can be terminal-only", ErrConfiguration, prim.Name)
	}
	for i, slot := range prim.Slots {
		if err := slot.Validate(); err != nil {
			return fmt.Errorf("%w: %s slot %d: %v", ErrConfiguration, prim.Name, i, err)
		}
	}
	for name, values := range prim.Domain {
		if len(values) == 0 {
			return fmt.Errorf("%w: %s: empty domain for %q", ErrConfiguration, prim.Name, name)
		}
	}

	stored := &Primitive{
		Name:         prim.Name,
		Out:          prim.Out,
		Slots:        append([]TypeArity(nil), prim.Slots...),
		Domain:       make(Domain, len(prim.Domain)),
		TerminalOnly: prim.TerminalOnly,
	}
	for name, values := range prim.Domain {
		stored.Domain[name] = append([]any(nil), values...)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := stored.Key()
	if _, exists := c.byKey[key]; exists {
		return fmt.Errorf("%w: %s -> %s", ErrPrimitiveExists, key.Name, key.Out)
	}
	c.byKey[key] = registeredPrimitive{prim: stored, build: entry.Build}
	c.byType[stored.Out] = append(c.byType[stored.Out], stored)
	return nil
}

// MustRegister registers every entry and panics on the first failure. It is
// meant for static catalogue definitions.
func (c *Catalogue) MustRegister(entries ...Entry) {
	for _, entry := range entries {
		if err := c.Register(entry); err != nil {
			panic(err)
		}
	}
}

func (c *Catalogue) Lookup(name, out string) (*Primitive, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.byKey[PrimitiveKey{Name: name, Out: out}]
	if !ok {
		return nil, fmt.Errorf("%w: %s -> %s", ErrPrimitiveNotFound, name, out)
	}
	return entry.prim, nil
}

func (c *Catalogue) Builder(prim *Primitive) (BuildFunc, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.byKey[prim.Key()]
	if !ok || entry.prim != prim {
		return nil, fmt.Errorf("%w: %s -> %s", ErrPrimitiveNotFound, prim.Name, prim.Out)
	}
	return entry.build, nil
}

// Primitives returns every primitive producing outType in registration order.
func (c *Catalogue) Primitives(outType string) []*Primitive {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return append([]*Primitive(nil), c.byType[outType]...)
}

func (c *Catalogue) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	types := make([]string, 0, len(c.byType))
	for t := range c.byType {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Validate checks that the grammar rooted at rootType is satisfiable: every
// reachable type has at least one primitive and at least one terminal.
func (c *Catalogue) Validate(rootType string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := map[string]bool{}
	queue := []string{rootType}
	for len(queue) > 0 {
		typ := queue[0]
		queue = queue[1:]
		if seen[typ] {
			continue
		}
		seen[typ] = true

		prims := c.byType[typ]
		if len(prims) == 0 {
			return fmt.Errorf("%w: no primitive produces type %q", ErrConfiguration, typ)
		}
		hasTerminal := false
		for _, p := range prims {
			if p.IsTerminal() {
				hasTerminal = true
			}
			for _, slot := range p.Slots {
				queue = append(queue, slot.Type)
			}
		}
		if !hasTerminal {
			return fmt.Errorf("%w: no terminal produces type %q", ErrConfiguration, typ)
		}
	}
	return nil
}
