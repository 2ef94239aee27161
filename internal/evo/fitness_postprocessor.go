package evo

import (
	"math"

	"genens/internal/gp"
)

const sizeProportionalEfficiency = 0.05

// FitnessPostprocessor adjusts fitness values after evaluation and before
// ranking and selection. The hall of fame and diagnostics keep the raw
// evaluated fitness.
type FitnessPostprocessor interface {
	Name() string
	Process(population []gp.Individual) []gp.Fitness
}

type NoopFitnessPostprocessor struct{}

func (NoopFitnessPostprocessor) Name() string {
	return "none"
}

func (NoopFitnessPostprocessor) Process(population []gp.Individual) []gp.Fitness {
	out := make([]gp.Fitness, len(population))
	for i, ind := range population {
		out[i] = ind.Fitness
	}
	return out
}

// SizeProportionalPostprocessor penalizes larger pipelines: positive scores
// are divided by size^0.05, so among equal scores the smaller tree wins.
type SizeProportionalPostprocessor struct{}

func (SizeProportionalPostprocessor) Name() string {
	return "size_proportional"
}

func (SizeProportionalPostprocessor) Process(population []gp.Individual) []gp.Fitness {
	out := make([]gp.Fitness, len(population))
	for i, ind := range population {
		out[i] = ind.Fitness
		if !ind.Fitness.Valid || ind.Fitness.Score <= 0 {
			continue
		}
		complexity := float64(ind.Tree.Size())
		if complexity < 1 {
			complexity = 1
		}
		out[i].Score = ind.Fitness.Score / math.Pow(complexity, sizeProportionalEfficiency)
	}
	return out
}

// ResolvePostprocessor maps a configuration name to a postprocessor.
func ResolvePostprocessor(name string) (FitnessPostprocessor, bool) {
	switch name {
	case "", "none":
		return NoopFitnessPostprocessor{}, true
	case "size_proportional":
		return SizeProportionalPostprocessor{}, true
	default:
		return nil, false
	}
}
