package gp

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidTree = errors.New("invalid tree")

// Limits are the engine-wide tree bounds.
type Limits struct {
	MaxHeight int
	MaxNodes  int
	// MaxArity caps the child count sampled for unbounded slots.
	MaxArity int
}

func (l Limits) Validate() error {
	if l.MaxHeight <= 0 {
		return fmt.Errorf("%w: max height must be > 0", ErrConfiguration)
	}
	if l.MaxNodes <= 0 {
		return fmt.Errorf("%w: max nodes must be > 0", ErrConfiguration)
	}
	if l.MaxArity <= 0 {
		return fmt.Errorf("%w: max arity must be > 0", ErrConfiguration)
	}
	return nil
}

// Node is a primitive instance. Children are grouped by the primitive's slots
// and exclusively owned by the node.
type Node struct {
	Prim     *Primitive
	Params   Params
	Children [][]*Node
}

func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{Prim: n.Prim, Params: n.Params.Clone()}
	if n.Children != nil {
		out.Children = make([][]*Node, len(n.Children))
		for i, slot := range n.Children {
			out.Children[i] = make([]*Node, len(slot))
			for j, child := range slot {
				out.Children[i][j] = child.Clone()
			}
		}
	}
	return out
}

func (n *Node) Height() int {
	h := 0
	for _, slot := range n.Children {
		for _, child := range slot {
			if ch := child.Height(); ch > h {
				h = ch
			}
		}
	}
	return h + 1
}

func (n *Node) Size() int {
	size := 1
	for _, slot := range n.Children {
		for _, child := range slot {
			size += child.Size()
		}
	}
	return size
}

func (n *Node) String() string {
	var sb strings.Builder
	n.write(&sb)
	return sb.String()
}

func (n *Node) write(sb *strings.Builder) {
	sb.WriteString(n.Prim.Name)
	if len(n.Params) > 0 {
		sb.WriteByte('[')
		written := 0
		for _, key := range n.Prim.Domain.Keys() {
			v, ok := n.Params[key]
			if !ok {
				continue
			}
			if written > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(sb, "%s=%v", key, v)
			written++
		}
		sb.WriteByte(']')
	}
	first := true
	for _, slot := range n.Children {
		for _, child := range slot {
			if first {
				sb.WriteByte('(')
				first = false
			} else {
				sb.WriteString(", ")
			}
			child.write(sb)
		}
	}
	if !first {
		sb.WriteByte(')')
	}
}

// Position locates a node inside a tree. The root has a nil Parent.
type Position struct {
	Node   *Node
	Parent *Node
	Slot   int
	Index  int
	Depth  int
}

// Type is the output type required at this position.
func (p Position) Type() string {
	return p.Node.Prim.Out
}

// Tree is a rooted primitive tree. Trees are treated as values: operators
// clone before changing anything.
type Tree struct {
	Root *Node
}

func (t Tree) Clone() Tree {
	return Tree{Root: t.Root.Clone()}
}

func (t Tree) Height() int {
	if t.Root == nil {
		return 0
	}
	return t.Root.Height()
}

func (t Tree) Size() int {
	if t.Root == nil {
		return 0
	}
	return t.Root.Size()
}

func (t Tree) String() string {
	if t.Root == nil {
		return "<empty>"
	}
	return t.Root.String()
}

// Positions lists every node in pre-order. Depth starts at 1 for the root.
func (t Tree) Positions() []Position {
	if t.Root == nil {
		return nil
	}
	var out []Position
	var walk func(pos Position)
	walk = func(pos Position) {
		out = append(out, pos)
		for si, slot := range pos.Node.Children {
			for ci, child := range slot {
				walk(Position{Node: child, Parent: pos.Node, Slot: si, Index: ci, Depth: pos.Depth + 1})
			}
		}
	}
	walk(Position{Node: t.Root, Slot: -1, Index: -1, Depth: 1})
	return out
}

// Replace returns the tree with the node at pos swapped for replacement. The
// tree is modified in place; callers own t.
func (t *Tree) Replace(pos Position, replacement *Node) {
	if pos.Parent == nil {
		t.Root = replacement
		return
	}
	pos.Parent.Children[pos.Slot][pos.Index] = replacement
}

// Validate checks every structural invariant of the tree against limits.
func (t Tree) Validate(rootType string, limits Limits) error {
	if t.Root == nil {
		return fmt.Errorf("%w: empty tree", ErrInvalidTree)
	}
	if rootType != "" && t.Root.Prim.Out != rootType {
		return fmt.Errorf("%w: root produces %q, want %q", ErrInvalidTree, t.Root.Prim.Out, rootType)
	}
	if limits.MaxHeight > 0 {
		if h := t.Height(); h > limits.MaxHeight {
			return fmt.Errorf("%w: height %d exceeds %d", ErrInvalidTree, h, limits.MaxHeight)
		}
	}
	if limits.MaxNodes > 0 {
		if n := t.Size(); n > limits.MaxNodes {
			return fmt.Errorf("%w: %d nodes exceeds %d", ErrInvalidTree, n, limits.MaxNodes)
		}
	}
	return validateNode(t.Root)
}

func validateNode(n *Node) error {
	if n.Prim == nil {
		return fmt.Errorf("%w: node without primitive", ErrInvalidTree)
	}
	if len(n.Children) != len(n.Prim.Slots) {
		return fmt.Errorf("%w: %s has %d child groups, want %d", ErrInvalidTree, n.Prim.Name, len(n.Children), len(n.Prim.Slots))
	}
	if err := validateParams(n); err != nil {
		return err
	}
	for i, slot := range n.Prim.Slots {
		children := n.Children[i]
		if !slot.Accepts(len(children)) {
			return fmt.Errorf("%w: %s slot %s got %d children", ErrInvalidTree, n.Prim.Name, slot, len(children))
		}
		for _, child := range children {
			if child == nil || child.Prim == nil {
				return fmt.Errorf("%w: %s slot %s has an empty child", ErrInvalidTree, n.Prim.Name, slot)
			}
			if child.Prim.Out != slot.Type {
				return fmt.Errorf("%w: %s slot %s got child %s of type %q", ErrInvalidTree, n.Prim.Name, slot, child.Prim.Name, child.Prim.Out)
			}
			if err := validateNode(child); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateParams(n *Node) error {
	for name, value := range n.Params {
		values, ok := n.Prim.Domain[name]
		if !ok {
			return fmt.Errorf("%w: %s has unknown hyperparameter %q", ErrInvalidTree, n.Prim.Name, name)
		}
		if indexOfValue(values, value) < 0 {
			return fmt.Errorf("%w: %s.%s=%v is out of domain", ErrInvalidTree, n.Prim.Name, name, value)
		}
	}
	for name := range n.Prim.Domain {
		if _, ok := n.Params[name]; !ok {
			return fmt.Errorf("%w: %s is missing hyperparameter %q", ErrInvalidTree, n.Prim.Name, name)
		}
	}
	return nil
}

// Fitness is the cached evaluation of an individual. A fitness that is not
// Valid ranks below every valid one.
type Fitness struct {
	Valid      bool
	Score      float64
	LogElapsed float64
	// Evaluated distinguishes a failed evaluation from a missing one.
	Evaluated bool
}

// Better reports whether f ranks above other: higher score first, then
// shorter evaluation time.
func (f Fitness) Better(other Fitness) bool {
	if f.Valid != other.Valid {
		return f.Valid
	}
	if !f.Valid {
		return false
	}
	if f.Score != other.Score {
		return f.Score > other.Score
	}
	return f.LogElapsed < other.LogElapsed
}

// Individual is one candidate pipeline in the population.
type Individual struct {
	ID      string
	Tree    Tree
	Fitness Fitness
}

func (ind *Individual) Invalidate() {
	ind.Fitness = Fitness{}
}

func (ind Individual) Clone() Individual {
	return Individual{ID: ind.ID, Tree: ind.Tree.Clone(), Fitness: ind.Fitness}
}
