// Package stats writes run artifacts to disk and summarizes score series.
package stats

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"genens/internal/model"
)

const bestSeriesFile = "best_series.csv"

// RunArtifacts is everything stored for one run.
type RunArtifacts struct {
	Run         model.RunRecord
	Diagnostics []model.GenerationDiagnostics
	HallOfFame  []model.IndividualRecord
	Lineage     []model.LineageRecord
}

type fitnessHistory struct {
	BestByGeneration []float64     `json:"best_by_generation"`
	FinalBestScore   float64       `json:"final_best_score"`
	Summary          SeriesSummary `json:"summary"`
}

// WriteRunArtifacts writes the artifacts of a run into outDir/<run id> and
// returns that directory.
func WriteRunArtifacts(outDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Run.ID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(outDir, artifacts.Run.ID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "run.json"), artifacts.Run); err != nil {
		return "", err
	}
	history := fitnessHistory{
		BestByGeneration: artifacts.Run.BestByGeneration,
		FinalBestScore:   artifacts.Run.BestScore,
		Summary:          SummarizeSeries(artifacts.Run.BestByGeneration),
	}
	if err := writeJSON(filepath.Join(runDir, "fitness_history.json"), history); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "generation_diagnostics.json"), artifacts.Diagnostics); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "hall_of_fame.json"), artifacts.HallOfFame); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "lineage.json"), artifacts.Lineage); err != nil {
		return "", err
	}
	if err := WriteBestSeries(runDir, artifacts.Run.BestByGeneration); err != nil {
		return "", err
	}
	return runDir, nil
}

// WriteBestSeries writes one row per generation, starting at generation 0.
func WriteBestSeries(runDir string, bestByGeneration []float64) error {
	file, err := os.Create(filepath.Join(runDir, bestSeriesFile))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"generation", "best_score"}); err != nil {
		return err
	}
	for i, best := range bestByGeneration {
		if err := writer.Write([]string{
			strconv.Itoa(i),
			strconv.FormatFloat(best, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadBestSeries(runDir string) ([]float64, bool, error) {
	file, err := os.Open(filepath.Join(runDir, bestSeriesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return []float64{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 2 {
		return nil, false, fmt.Errorf("best series header must have at least 2 columns")
	}

	series := make([]float64, 0, 16)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, false, err
		}
		value, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, false, err
		}
		series = append(series, value)
	}
	return series, true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}
