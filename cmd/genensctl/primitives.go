package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"genens/pkg/genens"
)

func newPrimitivesCmd() *cobra.Command {
	var (
		features int
		jsonOut  bool
	)
	cmd := &cobra.Command{
		Use:   "primitives",
		Short: "List the default pipeline grammar and mutation operators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if features <= 0 {
				return errors.New("features must be > 0")
			}
			infos, err := genens.Primitives(features)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, infos)
			}
			for _, info := range infos {
				fmt.Fprintf(out, "%s -> %s inputs=[%s] terminal_only=%t params=%s\n",
					info.Name, info.Out, strings.Join(info.Inputs, " "), info.TerminalOnly, formatDomain(info.Hyperparameters))
			}
			fmt.Fprintf(out, "mutators=%s\n", strings.Join(genens.Mutators(), ","))
			return nil
		},
	}
	cmd.Flags().IntVar(&features, "features", 4, "feature count of the target data")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit primitives as JSON")
	return cmd
}

func formatDomain(domain map[string][]any) string {
	if len(domain) == 0 {
		return "{}"
	}
	names := make([]string, 0, len(domain))
	for name := range domain {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s:%v", name, domain[name]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}
