package gp

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
)

// Mutator transforms a tree. Implementations never modify their input: the
// returned tree is a private copy, or the input itself when nothing changed.
type Mutator interface {
	Name() string
	Mutate(ctx context.Context, tree Tree) (Tree, bool, error)
}

// Crossover recombines two trees. A parent that is returned unchanged is
// returned as the very same tree.
type Crossover interface {
	Name() string
	Cross(ctx context.Context, a, b Tree) (Tree, Tree, error)
}

// NodeSwap replaces the primitive of a random non-root node with another
// primitive of the same output type whose slots accept the existing children.
type NodeSwap struct {
	Catalogue *Catalogue
	Limits    Limits
	RootType  string
	Rand      *rand.Rand
}

func (o *NodeSwap) Name() string {
	return "node_swap"
}

func (o *NodeSwap) Mutate(_ context.Context, tree Tree) (Tree, bool, error) {
	if o == nil || o.Rand == nil {
		return Tree{}, false, errors.New("random source is required")
	}
	if o.Catalogue == nil {
		return Tree{}, false, fmt.Errorf("%w: catalogue is required", ErrConfiguration)
	}

	positions := tree.Positions()
	if len(positions) < 2 {
		return tree, false, nil
	}
	idx := 1 + o.Rand.Intn(len(positions)-1)
	target := positions[idx].Node

	alternatives := o.alternatives(target)
	if len(alternatives) == 0 {
		return tree, false, nil
	}
	alt := alternatives[o.Rand.Intn(len(alternatives))]

	mutated := tree.Clone()
	pos := mutated.Positions()[idx]
	mutated.Replace(pos, &Node{
		Prim:     alt,
		Params:   carryParams(o.Rand, pos.Node.Params, alt.Domain),
		Children: pos.Node.Children,
	})
	if err := mutated.Validate(o.RootType, o.Limits); err != nil {
		return Tree{}, false, fmt.Errorf("node swap produced invalid tree: %w", err)
	}
	return mutated, true, nil
}

func (o *NodeSwap) alternatives(n *Node) []*Primitive {
	var out []*Primitive
	for _, p := range o.Catalogue.Primitives(n.Prim.Out) {
		if p.Key() == n.Prim.Key() || len(p.Slots) != len(n.Prim.Slots) {
			continue
		}
		compatible := true
		for i, slot := range p.Slots {
			if slot.Type != n.Prim.Slots[i].Type || !slot.Accepts(len(n.Children[i])) {
				compatible = false
				break
			}
		}
		if compatible {
			out = append(out, p)
		}
	}
	return out
}

// carryParams keeps values that are still in the new domain and samples the
// rest.
func carryParams(rng *rand.Rand, old Params, domain Domain) Params {
	if len(domain) == 0 {
		return nil
	}
	params := make(Params, len(domain))
	for _, name := range domain.Keys() {
		values := domain[name]
		if v, ok := old[name]; ok && indexOfValue(values, v) >= 0 {
			params[name] = v
			continue
		}
		params[name] = sampleValue(rng, values)
	}
	return params
}

// ArgMutation resamples the hyperparameters of a random node, each with
// probability Prob.
type ArgMutation struct {
	Prob float64
	Rand *rand.Rand
}

func (o *ArgMutation) Name() string {
	return "args"
}

func (o *ArgMutation) Mutate(_ context.Context, tree Tree) (Tree, bool, error) {
	if o == nil || o.Rand == nil {
		return Tree{}, false, errors.New("random source is required")
	}
	if o.Prob < 0 || o.Prob > 1 {
		return Tree{}, false, fmt.Errorf("argument mutation probability must be in [0, 1], got %v", o.Prob)
	}

	var candidates []int
	positions := tree.Positions()
	for i, pos := range positions {
		if len(pos.Node.Prim.Domain) > 0 {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return tree, false, nil
	}
	idx := candidates[o.Rand.Intn(len(candidates))]

	mutated := tree.Clone()
	node := mutated.Positions()[idx].Node
	changed := false
	for _, name := range node.Prim.Domain.Keys() {
		if o.Rand.Float64() >= o.Prob {
			continue
		}
		values := node.Prim.Domain[name]
		next := resampleValue(o.Rand, values, node.Params[name])
		if indexOfValue([]any{node.Params[name]}, next) < 0 {
			changed = true
		}
		node.Params[name] = next
	}
	if !changed {
		return tree, false, nil
	}
	return mutated, true, nil
}

// SubtreeMutation replaces a random subtree with a freshly generated one of
// the same output type.
type SubtreeMutation struct {
	Generator *Generator
	RootType  string
	Policy    Policy
}

func (o *SubtreeMutation) Name() string {
	return "subtree"
}

func (o *SubtreeMutation) Mutate(_ context.Context, tree Tree) (Tree, bool, error) {
	if o == nil || o.Generator == nil || o.Generator.Rand == nil {
		return Tree{}, false, errors.New("generator is required")
	}
	limits := o.Generator.Limits

	positions := tree.Positions()
	if len(positions) == 0 {
		return tree, false, nil
	}
	idx := o.Generator.Rand.Intn(len(positions))
	pos := positions[idx]

	height := limits.MaxHeight - pos.Depth + 1
	budget := limits.MaxNodes - (tree.Size() - pos.Node.Size())
	fresh, err := o.Generator.GenerateNode(pos.Type(), o.Policy, height, budget)
	if err != nil {
		return Tree{}, false, err
	}

	mutated := tree.Clone()
	mutated.Replace(mutated.Positions()[idx], fresh)
	if err := mutated.Validate(o.RootType, limits); err != nil {
		return Tree{}, false, fmt.Errorf("subtree mutation produced invalid tree: %w", err)
	}
	return mutated, true, nil
}

// OnePointCrossover exchanges two random subtrees of a common output type.
type OnePointCrossover struct {
	Limits   Limits
	RootType string
	Rand     *rand.Rand
}

func (o *OnePointCrossover) Name() string {
	return "one_point"
}

func (o *OnePointCrossover) Cross(_ context.Context, a, b Tree) (Tree, Tree, error) {
	if o == nil || o.Rand == nil {
		return Tree{}, Tree{}, errors.New("random source is required")
	}

	childA, childB := a.Clone(), b.Clone()
	byTypeA := groupByType(childA.Positions())
	byTypeB := groupByType(childB.Positions())

	var common []string
	for typ := range byTypeA {
		if _, ok := byTypeB[typ]; ok {
			common = append(common, typ)
		}
	}
	if len(common) == 0 {
		return a, b, nil
	}
	sort.Strings(common)
	typ := common[o.Rand.Intn(len(common))]

	x := byTypeA[typ][o.Rand.Intn(len(byTypeA[typ]))]
	y := byTypeB[typ][o.Rand.Intn(len(byTypeB[typ]))]
	childA.Replace(x, y.Node)
	childB.Replace(y, x.Node)

	if childA.Validate(o.RootType, o.Limits) != nil {
		childA = a
	}
	if childB.Validate(o.RootType, o.Limits) != nil {
		childB = b
	}
	return childA, childB, nil
}

// groupByType groups non-root positions by output type.
func groupByType(positions []Position) map[string][]Position {
	out := make(map[string][]Position)
	for _, pos := range positions {
		if pos.Parent == nil {
			continue
		}
		out[pos.Type()] = append(out[pos.Type()], pos)
	}
	return out
}
