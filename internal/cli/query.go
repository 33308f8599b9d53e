package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/streamledger/internal/ir"
	"github.com/roach88/streamledger/internal/node"
)

// StreamView is the stream command's output.
type StreamView struct {
	ir.Stream
	Withdrawable     uint64           `json:"withdrawable"`
	SenderBalance    uint64           `json:"sender_balance"`
	RecipientBalance uint64           `json:"recipient_balance"`
	Height           uint64           `json:"height"`
	Record           *ir.StreamRecord `json:"record,omitempty"`
}

// NewStreamCommand creates the stream command.
func NewStreamCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stream <stream-id>",
		Short: "Show a stream, its balances and its ledger record",
		Long: `Show a stream as the engine holds it, the balances of both parties at the
resume height, and the analytics ledger's record of it.

Examples:
  streamctl stream 0
  streamctl stream 0 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseStreamID(args[0])
			if err != nil {
				return err
			}
			return rootOpts.withNode(cmd, func(_ context.Context, n *node.Node, out *OutputFormatter) error {
				view, err := streamView(n, id)
				if err != nil {
					return out.Fail("stream lookup failed", err)
				}
				return out.Document(view)
			})
		},
	}
}

func streamView(n *node.Node, id ir.StreamID) (StreamView, error) {
	s, err := n.Stream(id)
	if err != nil {
		return StreamView{}, err
	}
	view := StreamView{Stream: s, Height: n.Height()}
	if view.Withdrawable, err = n.WithdrawableAmount(id); err != nil {
		return StreamView{}, err
	}
	if view.SenderBalance, err = n.BalanceOf(id, s.Sender); err != nil {
		return StreamView{}, err
	}
	if view.RecipientBalance, err = n.BalanceOf(id, s.Recipient); err != nil {
		return StreamView{}, err
	}
	// Streams opened by a command always have a record; the lookup can
	// only miss if the ledger and engine disagree.
	if rec, err := n.StreamRecord(id); err == nil {
		view.Record = &rec
	}
	return view, nil
}

// NewStreamsCommand creates the streams command.
func NewStreamsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "streams",
		Short:         "List all streams",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withNode(cmd, func(_ context.Context, n *node.Node, out *OutputFormatter) error {
				streams := n.Streams()
				if out.Format == "json" {
					return out.Success(streams)
				}
				if len(streams) == 0 {
					return out.Success("No streams.")
				}
				var b strings.Builder
				for i, s := range streams {
					if i > 0 {
						b.WriteByte('\n')
					}
					fmt.Fprintf(&b, "%d  %s -> %s  %d/%d  blocks %d-%d  %s",
						s.ID, s.Sender, s.Recipient, s.WithdrawnAmount, s.TotalAmount,
						s.StartBlock, s.EndBlock, s.Status)
				}
				return out.Success(b.String())
			})
		},
	}
}

// NewStatsCommand creates the stats command with global, sender and
// recipient subcommands.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show analytics ledger statistics",
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "global",
		Short:         "Show global stream statistics",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withNode(cmd, func(_ context.Context, n *node.Node, out *OutputFormatter) error {
				return out.Document(n.GlobalStats())
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "sender <principal>",
		Short:         "Show a principal's statistics as a sender",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withNode(cmd, func(_ context.Context, n *node.Node, out *OutputFormatter) error {
				return out.Document(n.SenderStats(ir.Principal(args[0])))
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "recipient <principal>",
		Short:         "Show a principal's statistics as a recipient",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withNode(cmd, func(_ context.Context, n *node.Node, out *OutputFormatter) error {
				return out.Document(n.RecipientStats(ir.Principal(args[0])))
			})
		},
	})

	return cmd
}

// PeriodView is the period command's output.
type PeriodView struct {
	Period uint64 `json:"period"`
	ir.PeriodMetrics
}

// NewPeriodCommand creates the period command.
func NewPeriodCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "period [period-id]",
		Short: "Show stream creation metrics for a period",
		Long: `Show how many streams were created in a period and their volume. Without
an argument the period containing the resume height is shown.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				id       uint64
				explicit bool
			)
			if len(args) == 1 {
				v, err := parseUint("period id", args[0])
				if err != nil {
					return err
				}
				id, explicit = v, true
			}
			return rootOpts.withNode(cmd, func(_ context.Context, n *node.Node, out *OutputFormatter) error {
				if !explicit {
					id = n.CurrentPeriod()
				}
				return out.Document(PeriodView{Period: id, PeriodMetrics: n.PeriodMetrics(id)})
			})
		},
	}
}

// NewProfileCommand creates the profile command.
func NewProfileCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "profile <principal>",
		Short: "Show a principal's stats, reliability and engagement",
		Long: `Show a principal's sender and recipient statistics together with the
derived sender reliability and recipient engagement scores (0-100).`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withNode(cmd, func(_ context.Context, n *node.Node, out *OutputFormatter) error {
				p := n.Profile(ir.Principal(args[0]))
				if out.Format == "json" {
					return out.Success(p)
				}
				return out.Success(fmt.Sprintf(
					"%s\n  reliability: %d\n  engagement: %d\n  sender reputation: %d (%d ratings)\n  recipient reputation: %d (%d ratings)",
					p.Principal, p.Reliability, p.Engagement,
					p.Sender.ReputationScore, p.Sender.TotalRatingsReceived,
					p.Recipient.ReputationScore, p.Recipient.TotalRatingsReceived))
			})
		},
	}
}

// NewRatingCommand creates the rating command.
func NewRatingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "rating <rater> <rated> <stream-id>",
		Short:         "Show the rating one principal gave another for a stream",
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseStreamID(args[2])
			if err != nil {
				return err
			}
			return rootOpts.withNode(cmd, func(_ context.Context, n *node.Node, out *OutputFormatter) error {
				r, ok := n.Rating(ir.Principal(args[0]), ir.Principal(args[1]), id)
				if !ok {
					return out.Fail("rating lookup failed",
						ir.StreamError(ir.ErrCodeNotFound, id, "%s has not rated %s", args[0], args[1]))
				}
				return out.Result(fmt.Sprintf("%s rated %s %d as %s", r.Rater, r.Rated, r.Value, r.Role), r)
			})
		},
	}
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <stream-id>",
		Short: "Show the journaled commands and ledger events of a stream",
		Long: `Show every journaled command that touched a stream and the ledger events
they produced, in order.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseStreamID(args[0])
			if err != nil {
				return err
			}
			return rootOpts.withNode(cmd, func(ctx context.Context, n *node.Node, out *OutputFormatter) error {
				h, err := n.History(ctx, id)
				if err != nil {
					return out.Fail("history lookup failed", err)
				}
				return out.Document(h)
			})
		},
	}
}

// NewSnapshotCommand creates the snapshot command.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "snapshot",
		Short:         "Dump the whole analytics ledger",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withNode(cmd, func(_ context.Context, n *node.Node, out *OutputFormatter) error {
				return out.Document(n.Snapshot())
			})
		},
	}
}

// NewHeightCommand creates the height command.
func NewHeightCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "height",
		Short: "Show the resume height and current period",
		Long: `Show the height the node resumes at: the height of the last journaled
command. Mutating commands move past it with --at.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withNode(cmd, func(_ context.Context, n *node.Node, out *OutputFormatter) error {
				h, p := n.Height(), n.CurrentPeriod()
				return out.Result(fmt.Sprintf("height %d (period %d)", h, p),
					map[string]uint64{"height": h, "period": p})
			})
		},
	}
}
