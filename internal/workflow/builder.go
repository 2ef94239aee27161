package workflow

import (
	"fmt"

	"genens/internal/gp"
)

// Builder compiles trees into runnable workflows using the builders
// registered with each primitive in the catalogue.
type Builder struct {
	Catalogue *gp.Catalogue
}

func NewBuilder(catalogue *gp.Catalogue) *Builder {
	return &Builder{Catalogue: catalogue}
}

// Build compiles leaves first and composes upward. The root must compile to
// an Estimator. Every failure, including a panicking primitive builder, is
// returned as ErrBuild.
func (b *Builder) Build(tree gp.Tree) (est Estimator, err error) {
	if b == nil || b.Catalogue == nil {
		return nil, fmt.Errorf("%w: catalogue is required", ErrBuild)
	}
	if tree.Root == nil {
		return nil, fmt.Errorf("%w: empty tree", ErrBuild)
	}
	defer func() {
		if r := recover(); r != nil {
			est = nil
			err = fmt.Errorf("%w: panic: %v", ErrBuild, r)
		}
	}()

	built, err := b.build(tree.Root)
	if err != nil {
		return nil, err
	}
	est, ok := built.(Estimator)
	if !ok {
		return nil, fmt.Errorf("%w: root %s compiled to %T, not an estimator", ErrBuild, tree.Root.Prim.Name, built)
	}
	return est, nil
}

func (b *Builder) build(n *gp.Node) (any, error) {
	children := make([][]any, len(n.Children))
	for i, slot := range n.Children {
		children[i] = make([]any, len(slot))
		for j, child := range slot {
			built, err := b.build(child)
			if err != nil {
				return nil, err
			}
			children[i][j] = built
		}
	}

	fn, err := b.Catalogue.Builder(n.Prim)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuild, err)
	}
	out, err := fn(n.Params.Clone(), children)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBuild, n.Prim, err)
	}
	return out, nil
}
