package gp

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func nopBuild(Params, [][]any) (any, error) {
	return nil, nil
}

// newPipelineCatalogue mirrors the shape of the classifier grammar: a
// pipeline root with an ensemble member and an optional transformer chain.
func newPipelineCatalogue(t *testing.T) *Catalogue {
	t.Helper()

	c := NewCatalogue()
	entries := []Entry{
		{Primitive: Primitive{Name: "cPipe", Out: "out", Slots: []TypeArity{{Type: "ens", Arity: Exactly(1)}, {Type: "data", Arity: Between(0, 1)}}}},
		{Primitive: Primitive{Name: "KNN", Out: "out", Domain: Domain{"k": {1, 3, 5}}, TerminalOnly: true}},
		{Primitive: Primitive{Name: "dTerm", Out: "data"}},
		{Primitive: Primitive{Name: "scale", Out: "data", Slots: []TypeArity{{Type: "data", Arity: Exactly(1)}}, Domain: Domain{"with_mean": {true, false}}}},
		{Primitive: Primitive{Name: "norm", Out: "data", Slots: []TypeArity{{Type: "data", Arity: Exactly(1)}}, Domain: Domain{"norm": {"l1", "l2", "max"}}}},
		{Primitive: Primitive{Name: "KNN", Out: "ens", Domain: Domain{"k": {1, 3, 5}, "weights": {"uniform", "distance"}}}},
		{Primitive: Primitive{Name: "NB", Out: "ens"}},
		{Primitive: Primitive{Name: "tree", Out: "ens", Domain: Domain{"depth": {1, 2, 5, 10}, "layers": {[]int{10}, []int{20, 10}}}}},
		{Primitive: Primitive{Name: "bag", Out: "ens", Slots: []TypeArity{{Type: "out", Arity: Exactly(1)}}, Domain: Domain{"n": {5, 10}}}},
		{Primitive: Primitive{Name: "ada", Out: "ens", Slots: []TypeArity{{Type: "out", Arity: Exactly(1)}}, Domain: Domain{"n": {5, 50}}}},
		{Primitive: Primitive{Name: "vote", Out: "ens", Slots: []TypeArity{{Type: "out", Arity: AtLeast(2)}}}},
	}
	for _, e := range entries {
		e.Build = nopBuild
		require.NoError(t, c.Register(e))
	}
	require.NoError(t, c.Validate("out"))
	return c
}

// newChainCatalogue has a single recursive type x under root r.
func newChainCatalogue(t *testing.T) *Catalogue {
	t.Helper()

	c := NewCatalogue()
	c.MustRegister(
		Entry{Primitive: Primitive{Name: "f", Out: "r", Slots: []TypeArity{{Type: "x", Arity: Exactly(1)}}}, Build: nopBuild},
		Entry{Primitive: Primitive{Name: "g", Out: "x", Slots: []TypeArity{{Type: "x", Arity: Exactly(1)}}}, Build: nopBuild},
		Entry{Primitive: Primitive{Name: "tx", Out: "x"}, Build: nopBuild},
		Entry{Primitive: Primitive{Name: "tr", Out: "r"}, Build: nopBuild},
	)
	return c
}

func mustLookup(t *testing.T, c *Catalogue, name, out string) *Primitive {
	t.Helper()
	p, err := c.Lookup(name, out)
	require.NoError(t, err)
	return p
}

func leaf(t *testing.T, c *Catalogue, name, out string, params Params) *Node {
	t.Helper()
	return &Node{Prim: mustLookup(t, c, name, out), Params: params}
}

func fn(t *testing.T, c *Catalogue, name, out string, params Params, children ...[]*Node) *Node {
	t.Helper()
	return &Node{Prim: mustLookup(t, c, name, out), Params: params, Children: children}
}

func defaultLimits() Limits {
	return Limits{MaxHeight: 6, MaxNodes: 30, MaxArity: 4}
}

func newTestGenerator(t *testing.T, c *Catalogue, limits Limits, seed int64) *Generator {
	t.Helper()
	g, err := NewGenerator(c, limits, rand.New(rand.NewSource(seed)))
	require.NoError(t, err)
	return g
}
