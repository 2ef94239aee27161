// Package model holds the persisted records of search runs.
package model

import (
	"encoding/json"
	"time"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// RunRecord summarizes one finished search.
type RunRecord struct {
	VersionedRecord
	ID               string    `json:"id"`
	CreatedAt        time.Time `json:"created_at"`
	Dataset          string    `json:"dataset,omitempty"`
	Strategy         string    `json:"strategy"`
	Scorer           string    `json:"scorer"`
	Seed             int64     `json:"seed"`
	PopulationSize   int       `json:"population_size"`
	Generations      int       `json:"generations"`
	BestScore        float64   `json:"best_score"`
	BestValid        bool      `json:"best_valid"`
	BestTree         string    `json:"best_tree"`
	BestByGeneration []float64 `json:"best_by_generation"`
	Classes          []string  `json:"classes,omitempty"`
}

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

// IndividualRecord is a hall-of-fame member. Tree holds the encoded tree,
// decodable against the catalogue the run used.
type IndividualRecord struct {
	VersionedRecord
	ID         string          `json:"id"`
	Rank       int             `json:"rank"`
	Notation   string          `json:"notation"`
	Tree       json.RawMessage `json:"tree"`
	Valid      bool            `json:"valid"`
	Score      float64         `json:"score"`
	LogElapsed float64         `json:"log_elapsed"`
}

type LineageRecord struct {
	VersionedRecord
	IndividualID string   `json:"individual_id"`
	ParentIDs    []string `json:"parent_ids,omitempty"`
	Generation   int      `json:"generation"`
	Operation    string   `json:"operation"`
}
