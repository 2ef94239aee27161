package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"genens/internal/storage"
	"genens/pkg/genens"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	return root.ExecuteContext(ctx)
}

type globalFlags struct {
	storeKind string
	dbPath    string
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "genensctl",
		Short:         "Evolve classification pipelines with typed genetic programming",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.storeKind, "store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	root.PersistentFlags().StringVar(&flags.dbPath, "db-path", "genens.db", "sqlite database path")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "log level: debug|info|warn|error")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "text", "log format: text|json")

	root.AddCommand(
		newRunCmd(flags),
		newRunsCmd(flags),
		newDiagnosticsCmd(flags),
		newTopCmd(flags),
		newLineageCmd(flags),
		newExportCmd(flags),
		newPrimitivesCmd(),
	)
	return root
}

func newLogger(flags *globalFlags) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(flags.logLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", flags.logLevel)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(flags.logFormat) {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", flags.logFormat)
	}
}

// openClient returns an initialized client; callers close it.
func openClient(cmd *cobra.Command, flags *globalFlags) (*genens.Client, error) {
	logger, err := newLogger(flags)
	if err != nil {
		return nil, err
	}
	client, err := genens.New(genens.ClientOptions{
		StoreKind: flags.storeKind,
		DBPath:    flags.dbPath,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	if err := client.Init(cmd.Context()); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
