package evo

import (
	"fmt"

	"genens/internal/gp"
)

// WeightedMutation names a registered structural mutator and its relative
// selection weight.
type WeightedMutation struct {
	Operator string  `json:"operator" yaml:"operator"`
	Weight   float64 `json:"weight" yaml:"weight"`
}

// DefaultMutationPolicy alternates between swapping a node and regrowing a
// subtree.
func DefaultMutationPolicy() []WeightedMutation {
	return []WeightedMutation{
		{Operator: "node_swap", Weight: 1},
		{Operator: "subtree", Weight: 1},
	}
}

type weightedMutator struct {
	mutator gp.Mutator
	weight  float64
}

func resolvePolicy(policy []WeightedMutation, env gp.OperatorEnv) ([]weightedMutator, error) {
	positive := false
	out := make([]weightedMutator, 0, len(policy))
	for i, item := range policy {
		if item.Weight < 0 {
			return nil, fmt.Errorf("mutation policy weight must be >= 0 at index %d", i)
		}
		if item.Weight > 0 {
			positive = true
		}
		m, err := gp.ResolveMutator(item.Operator, env)
		if err != nil {
			return nil, fmt.Errorf("mutation policy index %d: %w", i, err)
		}
		out = append(out, weightedMutator{mutator: m, weight: item.Weight})
	}
	if !positive {
		return nil, fmt.Errorf("mutation policy requires at least one positive weight")
	}
	return out, nil
}
