package gp

import (
	"errors"
	"fmt"
	"math/rand"
)

var ErrGeneration = errors.New("tree generation failed")

// Policy selects how the generator expands nodes.
type Policy int

const (
	// PolicyGrow picks uniformly among eligible terminals and functions.
	PolicyGrow Policy = iota
	// PolicyFull prefers functions while height budget remains.
	PolicyFull
	// PolicyTerminal only ever picks terminals.
	PolicyTerminal
)

func (p Policy) String() string {
	switch p {
	case PolicyGrow:
		return "grow"
	case PolicyFull:
		return "full"
	case PolicyTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// GenerationError reports a node that could not be expanded.
type GenerationError struct {
	Type   string
	Height int
	Reason string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%v: type %q at height budget %d: %s", ErrGeneration, e.Type, e.Height, e.Reason)
}

func (e *GenerationError) Unwrap() error {
	return ErrGeneration
}

// Generator builds random valid trees from a catalogue.
type Generator struct {
	Catalogue *Catalogue
	Limits    Limits
	Rand      *rand.Rand
}

func NewGenerator(catalogue *Catalogue, limits Limits, rng *rand.Rand) (*Generator, error) {
	if catalogue == nil {
		return nil, fmt.Errorf("%w: catalogue is required", ErrConfiguration)
	}
	if rng == nil {
		return nil, errors.New("random source is required")
	}
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	return &Generator{Catalogue: catalogue, Limits: limits, Rand: rng}, nil
}

// Generate builds a tree producing outType whose height does not exceed
// height (capped by Limits.MaxHeight).
func (g *Generator) Generate(outType string, policy Policy, height int) (Tree, error) {
	node, err := g.GenerateNode(outType, policy, height, g.Limits.MaxNodes)
	if err != nil {
		return Tree{}, err
	}
	return Tree{Root: node}, nil
}

// GenerateNode builds a subtree of at most height levels and at most budget
// nodes.
func (g *Generator) GenerateNode(outType string, policy Policy, height, budget int) (*Node, error) {
	if g == nil || g.Rand == nil {
		return nil, errors.New("random source is required")
	}
	if height > g.Limits.MaxHeight {
		height = g.Limits.MaxHeight
	}
	if budget > g.Limits.MaxNodes {
		budget = g.Limits.MaxNodes
	}
	node, _, err := g.generate(outType, policy, height, budget)
	return node, err
}

// GenerateRamped produces the i-th tree of a ramped half-and-half
// initialization: heights cycle from 2 to MaxHeight and each height
// alternates between the full and grow policies.
func (g *Generator) GenerateRamped(outType string, i int) (Tree, error) {
	minHeight := 2
	if g.Limits.MaxHeight < minHeight {
		minHeight = g.Limits.MaxHeight
	}
	span := g.Limits.MaxHeight - minHeight + 1
	height := minHeight + i%span
	policy := PolicyGrow
	if (i/span)%2 == 0 {
		policy = PolicyFull
	}
	return g.Generate(outType, policy, height)
}

func (g *Generator) generate(outType string, policy Policy, height, budget int) (*Node, int, error) {
	if height < 1 {
		return nil, 0, &GenerationError{Type: outType, Height: height, Reason: "height budget exhausted"}
	}
	if budget < 1 {
		return nil, 0, &GenerationError{Type: outType, Height: height, Reason: "node budget exhausted"}
	}

	prim, err := g.pick(outType, policy, height, budget)
	if err != nil {
		return nil, 0, err
	}

	node := &Node{Prim: prim, Params: sampleParams(g.Rand, prim.Domain)}
	if prim.IsTerminal() {
		return node, 1, nil
	}

	counts := g.childCounts(prim, budget-1)
	pending := 0
	for _, c := range counts {
		pending += c
	}

	size := 1
	remaining := budget - 1
	node.Children = make([][]*Node, len(prim.Slots))
	for i, slot := range prim.Slots {
		node.Children[i] = make([]*Node, 0, counts[i])
		for j := 0; j < counts[i]; j++ {
			pending--
			// keep one node for every sibling still to be generated
			child, childSize, err := g.generate(slot.Type, policy, height-1, remaining-pending)
			if err != nil {
				return nil, 0, err
			}
			remaining -= childSize
			size += childSize
			node.Children[i] = append(node.Children[i], child)
		}
	}
	return node, size, nil
}

func (g *Generator) pick(outType string, policy Policy, height, budget int) (*Primitive, error) {
	prims := g.Catalogue.Primitives(outType)
	if len(prims) == 0 {
		return nil, &GenerationError{Type: outType, Height: height, Reason: "no primitive produces this type"}
	}

	terminalsOnly := height == 1 || policy == PolicyTerminal
	var regular, allTerminals, functions []*Primitive
	for _, p := range prims {
		switch {
		case p.IsTerminal():
			allTerminals = append(allTerminals, p)
			if !p.TerminalOnly {
				regular = append(regular, p)
			}
		case !terminalsOnly && minShape(p)+1 <= budget:
			functions = append(functions, p)
		}
	}

	var candidates []*Primitive
	switch {
	case terminalsOnly:
		candidates = allTerminals
	case policy == PolicyFull && len(functions) > 0:
		candidates = functions
	default:
		candidates = append(append(candidates, regular...), functions...)
		if len(candidates) == 0 {
			candidates = allTerminals
		}
	}
	if len(candidates) == 0 {
		return nil, &GenerationError{Type: outType, Height: height, Reason: "no eligible primitive"}
	}
	return candidates[g.Rand.Intn(len(candidates))], nil
}

// childCounts draws a child count per slot and shrinks the draw until the
// children fit in avail nodes.
func (g *Generator) childCounts(p *Primitive, avail int) []int {
	counts := make([]int, len(p.Slots))
	total := 0
	for i, slot := range p.Slots {
		lo := slot.Arity.Min
		hi := slot.Arity.Upper(g.Limits.MaxArity)
		counts[i] = lo + g.Rand.Intn(hi-lo+1)
		total += counts[i]
	}
	for total > avail {
		shrinkable := make([]int, 0, len(counts))
		for i, c := range counts {
			if c > p.Slots[i].Arity.Min {
				shrinkable = append(shrinkable, i)
			}
		}
		if len(shrinkable) == 0 {
			break
		}
		counts[shrinkable[g.Rand.Intn(len(shrinkable))]]--
		total--
	}
	return counts
}

func minShape(p *Primitive) int {
	total := 0
	for _, slot := range p.Slots {
		total += slot.Arity.Min
	}
	return total
}
