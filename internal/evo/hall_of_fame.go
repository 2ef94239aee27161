package evo

import (
	"sort"

	"genens/internal/gp"
)

// HallOfFame keeps the best distinct pipelines ever evaluated. Two
// individuals are the same pipeline when their prefix notation matches.
type HallOfFame struct {
	capacity int
	members  []gp.Individual
	keys     map[string]struct{}
}

func NewHallOfFame(capacity int) *HallOfFame {
	if capacity <= 0 {
		capacity = 1
	}
	return &HallOfFame{capacity: capacity, keys: make(map[string]struct{}, capacity)}
}

// Update offers every valid individual of population.
func (h *HallOfFame) Update(population []gp.Individual) {
	for _, ind := range population {
		if !ind.Fitness.Valid {
			continue
		}
		key := ind.Tree.String()
		if _, ok := h.keys[key]; ok {
			continue
		}
		if len(h.members) == h.capacity && !ind.Fitness.Better(h.members[len(h.members)-1].Fitness) {
			continue
		}
		h.members = append(h.members, ind.Clone())
		h.keys[key] = struct{}{}
		sort.SliceStable(h.members, func(i, j int) bool {
			return h.members[i].Fitness.Better(h.members[j].Fitness)
		})
		if len(h.members) > h.capacity {
			dropped := h.members[len(h.members)-1]
			delete(h.keys, dropped.Tree.String())
			h.members = h.members[:h.capacity]
		}
	}
}

// Members returns copies, best first.
func (h *HallOfFame) Members() []gp.Individual {
	out := make([]gp.Individual, len(h.members))
	for i, ind := range h.members {
		out[i] = ind.Clone()
	}
	return out
}

func (h *HallOfFame) Len() int {
	return len(h.members)
}

// Best reports the top member, if any.
func (h *HallOfFame) Best() (gp.Individual, bool) {
	if len(h.members) == 0 {
		return gp.Individual{}, false
	}
	return h.members[0].Clone(), true
}
