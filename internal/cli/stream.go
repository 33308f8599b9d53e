package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/streamledger/internal/ir"
	"github.com/roach88/streamledger/internal/node"
)

// MutationOptions holds flags shared by commands that change state.
type MutationOptions struct {
	*RootOptions
	Caller string // principal issuing the command
	At     uint64 // block height to run at
}

func addMutationFlags(cmd *cobra.Command, opts *MutationOptions) {
	cmd.Flags().StringVar(&opts.Caller, "as", "", "principal issuing the command (required)")
	_ = cmd.MarkFlagRequired("as")
	cmd.Flags().Uint64Var(&opts.At, "at", 0, "block height to run the command at (default: resume height)")
}

// mutate opens the node, moves it to --at when given and runs fn.
func (o *MutationOptions) mutate(cmd *cobra.Command, fn func(context.Context, *node.Node, *OutputFormatter) error) error {
	return o.withNode(cmd, func(ctx context.Context, n *node.Node, out *OutputFormatter) error {
		if cmd.Flags().Changed("at") {
			if err := n.SetHeight(o.At); err != nil {
				return out.Fail("failed to set height", err)
			}
			out.VerboseLog("height set to %d", o.At)
		}
		return fn(ctx, n, out)
	})
}

func (o *MutationOptions) caller() ir.Principal {
	return ir.Principal(o.Caller)
}

// parseUint parses a positional integer argument.
func parseUint(name, s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid %s %q: must be a non-negative integer", name, s))
	}
	return v, nil
}

func parseStreamID(s string) (ir.StreamID, error) {
	v, err := parseUint("stream id", s)
	return ir.StreamID(v), err
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MutationOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create <recipient> <total-amount> <start-block> <end-block> <payment-per-block>",
		Short: "Open a stream from the caller to a recipient",
		Long: `Open a stream that vests payment-per-block tokens to the recipient for
every block between start-block and end-block, capped at total-amount.

Examples:
  streamctl create bob 1000 100 200 10 --as alice --at 90
  streamctl create bob 1000 100 200 10 --as alice --format json`,
		Args:          cobra.ExactArgs(5),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			nums := make([]uint64, 4)
			names := []string{"total amount", "start block", "end block", "payment per block"}
			for i := range nums {
				v, err := parseUint(names[i], args[i+1])
				if err != nil {
					return err
				}
				nums[i] = v
			}

			return opts.mutate(cmd, func(ctx context.Context, n *node.Node, out *OutputFormatter) error {
				id, err := n.CreateStream(ctx, opts.caller(), ir.Principal(args[0]), nums[0], nums[1], nums[2], nums[3])
				if err != nil {
					return out.Fail("create failed", err)
				}
				return out.Result(fmt.Sprintf("created stream %d", id), map[string]any{"stream_id": id})
			})
		},
	}

	addMutationFlags(cmd, opts)
	return cmd
}

// NewWithdrawCommand creates the withdraw command.
func NewWithdrawCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MutationOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "withdraw <stream-id>",
		Short: "Withdraw everything vested to the recipient",
		Long: `Withdraw pays the recipient everything vested at the current height and
not yet withdrawn. The stream completes once fully withdrawn at or after
its end block.

Examples:
  streamctl withdraw 0 --as bob --at 150`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseStreamID(args[0])
			if err != nil {
				return err
			}
			return opts.mutate(cmd, func(ctx context.Context, n *node.Node, out *OutputFormatter) error {
				amount, err := n.Withdraw(ctx, opts.caller(), id)
				if err != nil {
					return out.Fail("withdraw failed", err)
				}
				return out.Result(fmt.Sprintf("withdrew %d from stream %d", amount, id),
					map[string]any{"stream_id": id, "amount": amount})
			})
		},
	}

	addMutationFlags(cmd, opts)
	return cmd
}

// NewRefuelCommand creates the refuel command.
func NewRefuelCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MutationOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "refuel <stream-id> <extra-amount>",
		Short: "Add tokens to an active stream",
		Long: `Refuel raises the total of an active stream. Only the sender may refuel.
The payment rate and block range are unchanged.

Examples:
  streamctl refuel 0 500 --as alice`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseStreamID(args[0])
			if err != nil {
				return err
			}
			extra, err := parseUint("extra amount", args[1])
			if err != nil {
				return err
			}
			return opts.mutate(cmd, func(ctx context.Context, n *node.Node, out *OutputFormatter) error {
				total, err := n.Refuel(ctx, opts.caller(), id, extra)
				if err != nil {
					return out.Fail("refuel failed", err)
				}
				return out.Result(fmt.Sprintf("stream %d total is now %d", id, total),
					map[string]any{"stream_id": id, "total_amount": total})
			})
		},
	}

	addMutationFlags(cmd, opts)
	return cmd
}

// NewCancelCommand creates the cancel command.
func NewCancelCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MutationOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cancel <stream-id>",
		Short: "Cancel a stream and refund what was not withdrawn",
		Long: `Cancel stops an active stream. Only the sender may cancel. The sender is
refunded everything the recipient has not withdrawn, and the cancellation
counts against the sender's reliability.

Examples:
  streamctl cancel 0 --as alice --at 130`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseStreamID(args[0])
			if err != nil {
				return err
			}
			return opts.mutate(cmd, func(ctx context.Context, n *node.Node, out *OutputFormatter) error {
				refund, err := n.Cancel(ctx, opts.caller(), id)
				if err != nil {
					return out.Fail("cancel failed", err)
				}
				return out.Result(fmt.Sprintf("cancelled stream %d, refunded %d", id, refund),
					map[string]any{"stream_id": id, "refund": refund})
			})
		},
	}

	addMutationFlags(cmd, opts)
	return cmd
}

// NewRecordCommand creates the record command with its complete and
// cancel subcommands. Both are restricted to the recording authority.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a terminal stream transition decided by the authority",
		Long: `Record a completion or cancellation decided outside the stream engine.
The stream and its ledger record both leave Active. Completion pays the
recipient everything not yet withdrawn; cancellation refunds the sender.
Only the recording authority may record, and each stream takes at most
one terminal record.`,
	}

	cmd.AddCommand(newRecordSubcommand(rootOpts, "complete", "Complete a stream, paying out the remainder", "paid out",
		func(ctx context.Context, n *node.Node, caller ir.Principal, id ir.StreamID) (uint64, error) {
			return n.RecordCompletion(ctx, caller, id)
		}))
	cmd.AddCommand(newRecordSubcommand(rootOpts, "cancel", "Cancel a stream, refunding the sender", "refunded",
		func(ctx context.Context, n *node.Node, caller ir.Principal, id ir.StreamID) (uint64, error) {
			return n.RecordCancellation(ctx, caller, id)
		}))

	return cmd
}

func newRecordSubcommand(
	rootOpts *RootOptions,
	name, short, moved string,
	record func(context.Context, *node.Node, ir.Principal, ir.StreamID) (uint64, error),
) *cobra.Command {
	opts := &MutationOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           name + " <stream-id>",
		Short:         short,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseStreamID(args[0])
			if err != nil {
				return err
			}
			return opts.mutate(cmd, func(ctx context.Context, n *node.Node, out *OutputFormatter) error {
				amount, err := record(ctx, n, opts.caller(), id)
				if err != nil {
					return out.Fail("record "+name+" failed", err)
				}
				return out.Result(fmt.Sprintf("recorded %s for stream %d, %s %d", name, id, moved, amount),
					map[string]any{"stream_id": id, "recorded": name, "amount": amount})
			})
		},
	}

	addMutationFlags(cmd, opts)
	return cmd
}

// NewRateCommand creates the rate command.
func NewRateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MutationOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rate <rated> <stream-id> <rating>",
		Short: "Rate the other party of a completed stream",
		Long: `Rate records a 1-5 rating of the counterparty of a completed stream and
prints the rated principal's new reputation score (0-100). Each rater
may rate a given party once per stream.

Examples:
  streamctl rate alice 0 5 --as bob`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseStreamID(args[1])
			if err != nil {
				return err
			}
			rating, err := parseUint("rating", args[2])
			if err != nil {
				return err
			}
			return opts.mutate(cmd, func(ctx context.Context, n *node.Node, out *OutputFormatter) error {
				score, err := n.RateUser(ctx, opts.caller(), ir.Principal(args[0]), id, rating)
				if err != nil {
					return out.Fail("rate failed", err)
				}
				return out.Result(fmt.Sprintf("%s reputation is now %d", args[0], score),
					map[string]any{"rated": args[0], "reputation": score})
			})
		},
	}

	addMutationFlags(cmd, opts)
	return cmd
}
