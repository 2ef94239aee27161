package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"genens/pkg/genens"
)

var configValidate = validator.New()

// RunConfig is the YAML form of a run request. Zero values select the
// library defaults.
type RunConfig struct {
	Dataset string `yaml:"dataset" validate:"required"`
	Target  string `yaml:"target"`
	Test    string `yaml:"test" validate:"required_if=Strategy train_test"`

	Strategy   string        `yaml:"strategy" validate:"omitempty,oneof=crossval fixed per_ind train_test sample_crossval sample_train_test"`
	Scorer     string        `yaml:"scorer" validate:"omitempty,oneof=accuracy balanced_accuracy"`
	Timeout    time.Duration `yaml:"timeout" validate:"gte=0"`
	K          int           `yaml:"k" validate:"gte=0"`
	TestSize   float64       `yaml:"test_size" validate:"gte=0,lt=1"`
	SampleSize float64       `yaml:"sample_size" validate:"gte=0,lte=1"`
	PerGen     bool          `yaml:"per_gen"`
	Stratify   bool          `yaml:"stratify"`

	Population     int                    `yaml:"population" validate:"gte=0"`
	Generations    int                    `yaml:"generations" validate:"gte=0"`
	EliteCount     int                    `yaml:"elite_count" validate:"gte=0"`
	HallOfFameSize int                    `yaml:"hall_of_fame_size" validate:"gte=0"`
	CxPb           float64                `yaml:"cx_pb" validate:"gte=0,lte=1"`
	MutPb          float64                `yaml:"mut_pb" validate:"gte=0,lte=1"`
	MutArgsPb      float64                `yaml:"mut_args_pb" validate:"gte=0,lte=1"`
	TournamentSize int                    `yaml:"tournament_size" validate:"gte=0"`
	PoolSize       int                    `yaml:"pool_size" validate:"gte=0"`
	Selection      string                 `yaml:"selection" validate:"omitempty,oneof=tournament elite"`
	Postprocessor  string                 `yaml:"fitness_postprocessor" validate:"omitempty,oneof=none size_proportional"`
	MutationPolicy []MutationWeightConfig `yaml:"mutation_policy" validate:"dive"`
	Workers        int                    `yaml:"workers" validate:"gte=0"`
	MaxHeight      int                    `yaml:"max_height" validate:"gte=0"`
	MaxNodes       int                    `yaml:"max_nodes" validate:"gte=0"`
	MaxArity       int                    `yaml:"max_arity" validate:"gte=0"`
	Seed           int64                  `yaml:"seed"`
}

type MutationWeightConfig struct {
	Operator string  `yaml:"operator" validate:"required,oneof=node_swap subtree args"`
	Weight   float64 `yaml:"weight" validate:"gte=0"`
}

func loadRunConfig(path string) (RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RunConfig{}, err
	}
	return parseRunConfig(data)
}

func parseRunConfig(data []byte) (RunConfig, error) {
	var cfg RunConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return RunConfig{}, fmt.Errorf("decode run config: %w", err)
	}
	return cfg, nil
}

func (c RunConfig) Validate() error {
	err := configValidate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		first := fieldErrs[0]
		return fmt.Errorf("invalid run config: %s failed %q", first.Namespace(), first.Tag())
	}
	return fmt.Errorf("invalid run config: %w", err)
}

func (c RunConfig) request() genens.RunRequest {
	policy := make([]genens.MutationWeight, 0, len(c.MutationPolicy))
	for _, item := range c.MutationPolicy {
		policy = append(policy, genens.MutationWeight{Operator: item.Operator, Weight: item.Weight})
	}
	if len(policy) == 0 {
		policy = nil
	}
	return genens.RunRequest{
		DatasetPath: c.Dataset,
		Target:      c.Target,
		TestPath:    c.Test,
		Classifier: genens.Options{
			Strategy:       c.Strategy,
			Scorer:         c.Scorer,
			Timeout:        c.Timeout,
			K:              c.K,
			TestSize:       c.TestSize,
			SampleSize:     c.SampleSize,
			PerGen:         c.PerGen,
			Stratify:       c.Stratify,
			PopulationSize: c.Population,
			Generations:    c.Generations,
			EliteCount:     c.EliteCount,
			HallOfFameSize: c.HallOfFameSize,
			CxPb:           c.CxPb,
			MutPb:          c.MutPb,
			MutArgsPb:      c.MutArgsPb,
			TournamentSize: c.TournamentSize,
			PoolSize:       c.PoolSize,
			Selection:      c.Selection,
			Postprocessor:  c.Postprocessor,
			MutationPolicy: policy,
			Workers:        c.Workers,
			MaxHeight:      c.MaxHeight,
			MaxNodes:       c.MaxNodes,
			MaxArity:       c.MaxArity,
			Seed:           c.Seed,
		},
	}
}
