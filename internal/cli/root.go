package cli

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/streamledger/internal/config"
	"github.com/roach88/streamledger/internal/metrics"
	"github.com/roach88/streamledger/internal/node"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose      bool
	Format       string // "json" | "text"
	ConfigPath   string
	Database     string
	Authority    string
	PeriodLength uint64
	MetricsFile  string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the streamctl CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "streamctl",
		Short: "streamctl - token stream accounting",
		Long: `Create and settle block-height token streams, and query the analytics
ledger and reputation scores derived from them.

Every mutating command is journaled to a SQLite database and replayed
when the next command opens it.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.Authority, "authority", "", "recording authority (overrides config)")
	cmd.PersistentFlags().Uint64Var(&opts.PeriodLength, "period-length", 0, "analytics period length in blocks (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.MetricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")

	// Add subcommands
	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewWithdrawCommand(opts))
	cmd.AddCommand(NewRefuelCommand(opts))
	cmd.AddCommand(NewCancelCommand(opts))
	cmd.AddCommand(NewRecordCommand(opts))
	cmd.AddCommand(NewRateCommand(opts))
	cmd.AddCommand(NewStreamCommand(opts))
	cmd.AddCommand(NewStreamsCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewPeriodCommand(opts))
	cmd.AddCommand(NewProfileCommand(opts))
	cmd.AddCommand(NewRatingCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewSnapshotCommand(opts))
	cmd.AddCommand(NewHeightCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
		return GetExitCode(err)
	}
	return ExitSuccess
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// loadConfig reads the config file and applies flag overrides.
func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.Database != "" {
		cfg.Database = o.Database
	}
	if o.Authority != "" {
		cfg.Authority = o.Authority
	}
	if o.PeriodLength != 0 {
		cfg.PeriodLength = o.PeriodLength
	}
	if o.Verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

// formatter builds the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// openNode opens the node described by the config and flags. Opening
// replays the journal. The returned close func releases the database and,
// with --metrics-file, writes the node's metrics.
func (o *RootOptions) openNode(ctx context.Context, cmd *cobra.Command) (*node.Node, func() error, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	logger := cfg.NewLogger(cmd.ErrOrStderr())
	reg := prometheus.NewRegistry()

	n, err := node.Open(ctx, cfg,
		node.WithLogger(logger),
		node.WithMetrics(metrics.New(reg)),
	)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open node", err)
	}

	closeFn := func() error {
		if err := n.Close(); err != nil {
			return fmt.Errorf("close node: %w", err)
		}
		if o.MetricsFile == "" {
			return nil
		}
		if err := prometheus.WriteToTextfile(o.MetricsFile, reg); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
		return nil
	}
	return n, closeFn, nil
}

// withNode opens the node, runs fn and closes the node. A close failure
// is reported only when fn succeeded.
func (o *RootOptions) withNode(cmd *cobra.Command, fn func(context.Context, *node.Node, *OutputFormatter) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	n, closeFn, err := o.openNode(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeFn(); cerr != nil && err == nil {
			err = WrapExitError(ExitCommandError, "shutdown failed", cerr)
		}
	}()

	out := o.formatter(cmd)
	out.Session = n.Session()
	return fn(ctx, n, out)
}
