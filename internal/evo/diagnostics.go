package evo

import (
	"gonum.org/v1/gonum/stat"

	"genens/internal/gp"
)

// GenerationDiagnostics summarizes one evaluated generation. Score fields
// only cover individuals with a valid fitness and are zero when there are
// none.
type GenerationDiagnostics struct {
	Generation     int     `json:"generation"`
	BestScore      float64 `json:"best_score"`
	MeanScore      float64 `json:"mean_score"`
	MinScore       float64 `json:"min_score"`
	BestLogElapsed float64 `json:"best_log_elapsed"`
	ValidCount     int     `json:"valid_count"`
	FailedCount    int     `json:"failed_count"`
	Evaluated      int     `json:"evaluated"`
	Diversity      int     `json:"diversity"`
	MeanSize       float64 `json:"mean_size"`
	MaxHeight      int     `json:"max_height"`
}

// LineageRecord tells how an individual entered a generation.
type LineageRecord struct {
	IndividualID string   `json:"individual_id"`
	ParentIDs    []string `json:"parent_ids,omitempty"`
	Generation   int      `json:"generation"`
	Operation    string   `json:"operation"`
}

func summarizeGeneration(population []gp.Individual, generation, evaluated int) GenerationDiagnostics {
	diag := GenerationDiagnostics{Generation: generation, Evaluated: evaluated}
	if len(population) == 0 {
		return diag
	}

	scores := make([]float64, 0, len(population))
	sizes := make([]float64, 0, len(population))
	distinct := make(map[string]struct{}, len(population))
	var best gp.Fitness
	for _, ind := range population {
		sizes = append(sizes, float64(ind.Tree.Size()))
		distinct[ind.Tree.String()] = struct{}{}
		if h := ind.Tree.Height(); h > diag.MaxHeight {
			diag.MaxHeight = h
		}
		if !ind.Fitness.Valid {
			diag.FailedCount++
			continue
		}
		if len(scores) == 0 || ind.Fitness.Better(best) {
			best = ind.Fitness
		}
		if len(scores) == 0 || ind.Fitness.Score < diag.MinScore {
			diag.MinScore = ind.Fitness.Score
		}
		scores = append(scores, ind.Fitness.Score)
	}
	diag.ValidCount = len(scores)
	diag.Diversity = len(distinct)
	diag.MeanSize = stat.Mean(sizes, nil)
	if len(scores) > 0 {
		diag.BestScore = best.Score
		diag.BestLogElapsed = best.LogElapsed
		diag.MeanScore = stat.Mean(scores, nil)
	}
	return diag
}
