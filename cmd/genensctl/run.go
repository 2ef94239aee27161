package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	var (
		configPath string
		jsonOut    bool
		cfg        RunConfig
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Search for the best pipeline on a CSV dataset and store the run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			merged := cfg
			if configPath != "" {
				loaded, err := loadRunConfig(configPath)
				if err != nil {
					return err
				}
				merged = overrideChanged(cmd, loaded, cfg)
			}
			if err := merged.Validate(); err != nil {
				return err
			}

			client, err := openClient(cmd, flags)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			summary, err := client.Run(cmd.Context(), merged.request())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}
			fmt.Fprintf(out, "run_id=%s best_score=%.6f valid=%t log_elapsed=%.4f pipeline=%s\n",
				summary.RunID,
				summary.Best.Score,
				summary.Best.Valid,
				summary.Best.LogElapsed,
				summary.Best.Notation,
			)
			if len(summary.Classes) > 0 {
				fmt.Fprintf(out, "classes=%s\n", strings.Join(summary.Classes, ","))
			}
			for gen, score := range summary.BestByGeneration {
				fmt.Fprintf(out, "generation=%d best=%.6f\n", gen, score)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "optional YAML run config; explicit flags override its values")
	f.BoolVar(&jsonOut, "json", false, "emit the run summary as JSON")
	f.StringVar(&cfg.Dataset, "data", "", "training CSV path")
	f.StringVar(&cfg.Target, "target", "", "label column name (default: last column)")
	f.StringVar(&cfg.Test, "test", "", "held-out CSV path for the train_test strategy")
	f.StringVar(&cfg.Strategy, "strategy", "", "evaluation strategy: crossval|fixed|per_ind|train_test|sample_crossval|sample_train_test")
	f.StringVar(&cfg.Scorer, "scorer", "", "scorer: accuracy|balanced_accuracy")
	f.DurationVar(&cfg.Timeout, "timeout", 0, "per-pipeline evaluation timeout (0 disables)")
	f.IntVar(&cfg.K, "k", 0, "cross-validation folds")
	f.Float64Var(&cfg.TestSize, "test-size", 0, "held-out fraction of split strategies")
	f.Float64Var(&cfg.SampleSize, "sample-size", 0, "sampled fraction of sample_* strategies")
	f.BoolVar(&cfg.PerGen, "per-gen", false, "redraw splits or samples every generation")
	f.BoolVar(&cfg.Stratify, "stratify", false, "stratify train/test splits")
	f.IntVar(&cfg.Population, "pop", 0, "population size")
	f.IntVar(&cfg.Generations, "gens", 0, "generation count")
	f.IntVar(&cfg.EliteCount, "elite-count", 0, "individuals carried unchanged into the next generation")
	f.IntVar(&cfg.HallOfFameSize, "hof-size", 0, "hall of fame capacity")
	f.Float64Var(&cfg.CxPb, "cx-pb", 0, "crossover probability")
	f.Float64Var(&cfg.MutPb, "mut-pb", 0, "mutation probability")
	f.Float64Var(&cfg.MutArgsPb, "mut-args-pb", 0, "per-hyperparameter mutation probability")
	f.IntVar(&cfg.TournamentSize, "tournament-size", 0, "tournament size")
	f.IntVar(&cfg.PoolSize, "pool-size", 0, "best ranks a tournament samples from (0: whole population)")
	f.StringVar(&cfg.Selection, "selection", "", "parent selection: tournament|elite")
	f.StringVar(&cfg.Postprocessor, "fitness-postprocessor", "", "fitness postprocessor: none|size_proportional")
	f.IntVar(&cfg.Workers, "workers", 0, "parallel pipeline evaluations")
	f.IntVar(&cfg.MaxHeight, "max-height", 0, "maximum tree height")
	f.IntVar(&cfg.MaxNodes, "max-nodes", 0, "maximum tree size")
	f.IntVar(&cfg.MaxArity, "max-arity", 0, "cap on unbounded slot arity")
	f.Int64Var(&cfg.Seed, "seed", 1, "rng seed")
	return cmd
}

// overrideChanged applies the flags set on the command line on top of a
// loaded config.
func overrideChanged(cmd *cobra.Command, loaded, flagged RunConfig) RunConfig {
	f := cmd.Flags()
	set := func(name string, apply func()) {
		if f.Changed(name) {
			apply()
		}
	}
	set("data", func() { loaded.Dataset = flagged.Dataset })
	set("target", func() { loaded.Target = flagged.Target })
	set("test", func() { loaded.Test = flagged.Test })
	set("strategy", func() { loaded.Strategy = flagged.Strategy })
	set("scorer", func() { loaded.Scorer = flagged.Scorer })
	set("timeout", func() { loaded.Timeout = flagged.Timeout })
	set("k", func() { loaded.K = flagged.K })
	set("test-size", func() { loaded.TestSize = flagged.TestSize })
	set("sample-size", func() { loaded.SampleSize = flagged.SampleSize })
	set("per-gen", func() { loaded.PerGen = flagged.PerGen })
	set("stratify", func() { loaded.Stratify = flagged.Stratify })
	set("pop", func() { loaded.Population = flagged.Population })
	set("gens", func() { loaded.Generations = flagged.Generations })
	set("elite-count", func() { loaded.EliteCount = flagged.EliteCount })
	set("hof-size", func() { loaded.HallOfFameSize = flagged.HallOfFameSize })
	set("cx-pb", func() { loaded.CxPb = flagged.CxPb })
	set("mut-pb", func() { loaded.MutPb = flagged.MutPb })
	set("mut-args-pb", func() { loaded.MutArgsPb = flagged.MutArgsPb })
	set("tournament-size", func() { loaded.TournamentSize = flagged.TournamentSize })
	set("pool-size", func() { loaded.PoolSize = flagged.PoolSize })
	set("selection", func() { loaded.Selection = flagged.Selection })
	set("fitness-postprocessor", func() { loaded.Postprocessor = flagged.Postprocessor })
	set("workers", func() { loaded.Workers = flagged.Workers })
	set("max-height", func() { loaded.MaxHeight = flagged.MaxHeight })
	set("max-nodes", func() { loaded.MaxNodes = flagged.MaxNodes })
	set("max-arity", func() { loaded.MaxArity = flagged.MaxArity })
	set("seed", func() { loaded.Seed = flagged.Seed })
	return loaded
}

var errRunSelector = errors.New("use either --run-id or --latest, not both")

func runRefFromFlags(runID string, latest bool) error {
	if runID != "" && latest {
		return errRunSelector
	}
	if runID == "" && !latest {
		return errors.New("requires --run-id or --latest")
	}
	return nil
}
