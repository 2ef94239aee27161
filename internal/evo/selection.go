package evo

import (
	"fmt"
	"math/rand"

	"genens/internal/gp"
)

// Selector chooses parents from a population ranked best-first.
type Selector interface {
	Name() string
	PickParent(rng *rand.Rand, ranked []gp.Individual) (gp.Individual, error)
}

// EliteSelector picks uniformly from the top Count individuals.
type EliteSelector struct {
	Count int
}

func (EliteSelector) Name() string {
	return "elite"
}

func (s EliteSelector) PickParent(rng *rand.Rand, ranked []gp.Individual) (gp.Individual, error) {
	if rng == nil {
		return gp.Individual{}, fmt.Errorf("random source is required")
	}
	if s.Count <= 0 || s.Count > len(ranked) {
		return gp.Individual{}, fmt.Errorf("invalid elite count: %d", s.Count)
	}
	return ranked[rng.Intn(s.Count)], nil
}

// TournamentSelector samples TournamentSize individuals from the first
// PoolSize ranks and keeps the best ranked one. A non-positive PoolSize
// samples the whole population.
type TournamentSelector struct {
	PoolSize       int
	TournamentSize int
}

func (TournamentSelector) Name() string {
	return "tournament"
}

func (s TournamentSelector) PickParent(rng *rand.Rand, ranked []gp.Individual) (gp.Individual, error) {
	if rng == nil {
		return gp.Individual{}, fmt.Errorf("random source is required")
	}
	if len(ranked) == 0 {
		return gp.Individual{}, fmt.Errorf("population is empty")
	}

	poolSize := s.PoolSize
	if poolSize <= 0 || poolSize > len(ranked) {
		poolSize = len(ranked)
	}
	tournamentSize := s.TournamentSize
	if tournamentSize <= 0 {
		tournamentSize = 3
	}

	// ranked is ordered, so the smallest sampled index wins.
	best := rng.Intn(poolSize)
	for i := 1; i < tournamentSize; i++ {
		if candidate := rng.Intn(poolSize); candidate < best {
			best = candidate
		}
	}
	return ranked[best], nil
}
