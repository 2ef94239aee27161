package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"genens/pkg/genens"
)

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRunsCmd(flags *globalFlags) *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return errors.New("limit must be > 0")
			}
			client, err := openClient(cmd, flags)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			runs, err := client.Runs(cmd.Context(), genens.RunsRequest{Limit: limit})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "no runs found")
				return nil
			}
			for _, r := range runs {
				fmt.Fprintf(out, "run_id=%s created_at=%s dataset=%s strategy=%s scorer=%s seed=%d pop=%d gens=%d best_score=%.6f valid=%t pipeline=%s\n",
					r.ID,
					r.CreatedAt.Format(time.RFC3339),
					r.Dataset,
					r.Strategy,
					r.Scorer,
					r.Seed,
					r.PopulationSize,
					r.Generations,
					r.BestScore,
					r.BestValid,
					r.BestTree,
				)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to list")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit runs as JSON")
	return cmd
}

type runSelector struct {
	runID   string
	latest  bool
	jsonOut bool
}

func (s *runSelector) register(cmd *cobra.Command, what string) {
	cmd.Flags().StringVar(&s.runID, "run-id", "", "run id")
	cmd.Flags().BoolVar(&s.latest, "latest", false, "use the most recent run")
	cmd.Flags().BoolVar(&s.jsonOut, "json", false, "emit "+what+" as JSON")
}

func (s *runSelector) ref() (genens.RunRef, error) {
	if err := runRefFromFlags(s.runID, s.latest); err != nil {
		return genens.RunRef{}, err
	}
	return genens.RunRef{RunID: s.runID, Latest: s.latest}, nil
}

func newDiagnosticsCmd(flags *globalFlags) *cobra.Command {
	var sel runSelector
	cmd := &cobra.Command{
		Use:   "diagnostics",
		Short: "Show per-generation diagnostics of a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ref, err := sel.ref()
			if err != nil {
				return err
			}
			client, err := openClient(cmd, flags)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			diagnostics, err := client.Diagnostics(cmd.Context(), ref)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if sel.jsonOut {
				return writeJSON(out, diagnostics)
			}
			for _, d := range diagnostics {
				fmt.Fprintf(out, "generation=%d best=%.6f mean=%.6f min=%.6f best_log_elapsed=%.4f valid=%d failed=%d evaluated=%d diversity=%d mean_size=%.2f max_height=%d\n",
					d.Generation,
					d.BestScore,
					d.MeanScore,
					d.MinScore,
					d.BestLogElapsed,
					d.ValidCount,
					d.FailedCount,
					d.Evaluated,
					d.Diversity,
					d.MeanSize,
					d.MaxHeight,
				)
			}
			return nil
		},
	}
	sel.register(cmd, "diagnostics")
	return cmd
}

func newTopCmd(flags *globalFlags) *cobra.Command {
	var (
		sel   runSelector
		limit int
	)
	cmd := &cobra.Command{
		Use:   "top",
		Short: "Show the hall of fame of a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ref, err := sel.ref()
			if err != nil {
				return err
			}
			client, err := openClient(cmd, flags)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			members, err := client.HallOfFame(cmd.Context(), ref)
			if err != nil {
				return err
			}
			if limit > 0 && len(members) > limit {
				members = members[:limit]
			}
			out := cmd.OutOrStdout()
			if sel.jsonOut {
				return writeJSON(out, members)
			}
			for _, m := range members {
				fmt.Fprintf(out, "rank=%d id=%s score=%.6f log_elapsed=%.4f pipeline=%s\n",
					m.Rank, m.ID, m.Score, m.LogElapsed, m.Notation)
			}
			return nil
		},
	}
	sel.register(cmd, "hall of fame")
	cmd.Flags().IntVar(&limit, "limit", 0, "max members to show (<=0 for all)")
	return cmd
}

func newLineageCmd(flags *globalFlags) *cobra.Command {
	var (
		sel        runSelector
		generation int
	)
	cmd := &cobra.Command{
		Use:   "lineage",
		Short: "Show how each individual of a run was produced",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ref, err := sel.ref()
			if err != nil {
				return err
			}
			client, err := openClient(cmd, flags)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			lineage, err := client.Lineage(cmd.Context(), ref)
			if err != nil {
				return err
			}
			if generation >= 0 {
				filtered := lineage[:0]
				for _, r := range lineage {
					if r.Generation == generation {
						filtered = append(filtered, r)
					}
				}
				lineage = filtered
			}
			out := cmd.OutOrStdout()
			if sel.jsonOut {
				return writeJSON(out, lineage)
			}
			for _, r := range lineage {
				fmt.Fprintf(out, "generation=%d id=%s op=%s parents=%s\n",
					r.Generation, r.IndividualID, r.Operation, strings.Join(r.ParentIDs, ","))
			}
			return nil
		},
	}
	sel.register(cmd, "lineage")
	cmd.Flags().IntVar(&generation, "generation", -1, "only show this generation (<0 for all)")
	return cmd
}

func newExportCmd(flags *globalFlags) *cobra.Command {
	var (
		sel    runSelector
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the stored artifacts of a run as JSON and CSV files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ref, err := sel.ref()
			if err != nil {
				return err
			}
			client, err := openClient(cmd, flags)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			dir, err := client.Export(cmd.Context(), ref, outDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported to=%s\n", filepath.Clean(dir))
			return nil
		},
	}
	cmd.Flags().StringVar(&sel.runID, "run-id", "", "run id")
	cmd.Flags().BoolVar(&sel.latest, "latest", false, "export the most recent run")
	cmd.Flags().StringVar(&outDir, "out", "exports", "export output directory")
	return cmd
}
