// Package main provides the refstore CLI entry point.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/orneryd/refstore/pkg/config"
	"github.com/orneryd/refstore/pkg/logging"
	"github.com/orneryd/refstore/pkg/pool"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

// app carries the configuration and logger shared by all commands.
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	closeLog func() error
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	return (&app{}).rootCmd(in, out, errOut)
}

func (a *app) rootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "refstore",
		Short: "refstore - compact reference triple states",
		Long: `refstore builds, inspects and compares encoded reference graph states.

A state is a set of (source, relation, target) triples of non-zero 32-bit
references plus two counters (next and root), stored as a flat sequence of
integers.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	rootCmd.SetIn(in)
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)
	rootCmd.PersistentFlags().String("config", "", "YAML configuration file")
	rootCmd.PersistentFlags().String("byte-order", "", "Byte order of encoded files (native, little, big)")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: a.closing(func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "refstore v%s (%s)\n", version, commit)
			return nil
		}),
	})

	// Build command
	buildCmd := &cobra.Command{
		Use:   "build [edges.txt...]",
		Short: "Encode triples read from text files or stdin",
		Long: `Encode "source relation target" lines into a state file.

Each input file is committed as one epoch. Blank lines and lines starting
with # are ignored. Without arguments the triples are read from stdin.`,
		RunE: a.closing(a.runBuild),
	}
	buildCmd.Flags().Int32("root", 0, "Root reference")
	buildCmd.Flags().Int32("next", 0, "Next reference (default: one past the largest reference)")
	buildCmd.Flags().StringP("out", "o", "", "Output file")
	_ = buildCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(buildCmd)

	// Inspect command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "inspect FILE",
		Short: "Show counters, sizes and the fingerprint of a state file",
		Args:  cobra.ExactArgs(1),
		RunE:  a.closing(a.runInspect),
	})

	// Edges command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "edges FILE",
		Short: "List the triples of a state file in sorted order",
		Args:  cobra.ExactArgs(1),
		RunE:  a.closing(a.runEdges),
	})

	// Diff command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "diff OLD NEW",
		Short: "Show the triples added and removed between two state files",
		Args:  cobra.ExactArgs(2),
		RunE:  a.closing(a.runDiff),
	})

	return rootCmd
}

// setup loads the configuration and wires logging and pooling.
func (a *app) setup(cmd *cobra.Command) error {
	cfg := config.LoadFromEnv()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return err
		}
	}
	if order, _ := cmd.Flags().GetString("byte-order"); order != "" {
		cfg.Codec.ByteOrder = order
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, closeLog, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	pool.Configure(pool.PoolConfig{Enabled: cfg.Pool.Enabled, MaxSize: cfg.Pool.MaxSize})

	a.cfg = cfg
	a.logger = logger
	a.closeLog = closeLog
	logger.WithField("config", cfg.String()).Debug("configuration loaded")
	return nil
}

// closing wraps run so that the log output is released when it returns,
// also when it fails.
func (a *app) closing(run func(*cobra.Command, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			if cerr := a.close(); err == nil {
				err = cerr
			}
		}()
		return run(cmd, args)
	}
}

func (a *app) close() error {
	if a.closeLog == nil {
		return nil
	}
	closeLog := a.closeLog
	a.closeLog = nil
	return closeLog()
}
