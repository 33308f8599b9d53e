package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/streamledger/internal/node"
	"github.com/roach88/streamledger/internal/store"
)

// ReplayStreamResult summarises the journaled history of one stream.
type ReplayStreamResult struct {
	StreamID  uint64 `json:"stream_id"`
	Commands  int    `json:"commands"`
	Events    int    `json:"events"`
	Terminal  string `json:"terminal,omitempty"`
	Withdrawn uint64 `json:"withdrawn"`
	Refueled  uint64 `json:"refueled"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Commands    int                  `json:"commands"`
	Height      uint64               `json:"height"`
	Streams     []ReplayStreamResult `json:"streams"`
	Corruptions []store.Corruption   `json:"corruptions"`
	Intact      bool                 `json:"intact"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the journal and verify its integrity",
		Long: `Replay every journaled command into a fresh engine and ledger, then
recompute every command id and event hash to detect tampering.

A command that fails on replay aborts with a corrupt journal error.

Exit codes:
  0 - Journal replayed and intact
  1 - Hash verification failed
  2 - Command error (database not found, replay failed, etc.)

Examples:
  streamctl replay --db ./streamledger.db
  streamctl replay --db ./streamledger.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withNode(cmd, func(ctx context.Context, n *node.Node, out *OutputFormatter) error {
				result, err := replayReport(ctx, n)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to read journal", err)
				}
				if out.Format == "json" {
					return outputReplayJSON(cmd, out, result)
				}
				return outputReplayText(cmd, result, rootOpts.Verbose)
			})
		},
	}

	return cmd
}

// replayReport gathers journal statistics from an opened, and therefore
// already replayed, node.
func replayReport(ctx context.Context, n *node.Node) (ReplayResult, error) {
	cmds, err := n.Commands(ctx)
	if err != nil {
		return ReplayResult{}, err
	}
	corruptions, err := n.Verify(ctx)
	if err != nil {
		return ReplayResult{}, err
	}

	result := ReplayResult{
		Commands:    len(cmds),
		Height:      n.Height(),
		Streams:     []ReplayStreamResult{},
		Corruptions: corruptions,
		Intact:      len(corruptions) == 0,
	}
	for _, s := range n.Streams() {
		h, err := n.History(ctx, s.ID)
		if err != nil {
			return ReplayResult{}, fmt.Errorf("history of stream %d: %w", s.ID, err)
		}
		result.Streams = append(result.Streams, ReplayStreamResult{
			StreamID:  uint64(s.ID),
			Commands:  len(h.Commands),
			Events:    len(h.Events),
			Terminal:  string(h.Terminal),
			Withdrawn: h.Withdrawn,
			Refueled:  h.Refueled,
		})
	}
	return result, nil
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(cmd *cobra.Command, out *OutputFormatter, result ReplayResult) error {
	response := CLIResponse{
		Status:  "ok",
		Data:    result,
		Session: out.Session,
	}

	if !result.Intact {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_CORRUPT_JOURNAL",
			Message: fmt.Sprintf("%d corrupt journal row(s)", len(result.Corruptions)),
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if !result.Intact {
		// Corruption = exit code 1
		return NewExitError(ExitFailure, "journal verification failed")
	}
	return nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(cmd *cobra.Command, result ReplayResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Replay Summary: %d command(s), %d stream(s), height %d\n",
		result.Commands, len(result.Streams), result.Height)
	fmt.Fprintln(w)

	if verbose {
		for _, s := range result.Streams {
			terminal := s.Terminal
			if terminal == "" {
				terminal = "open"
			}
			fmt.Fprintf(w, "  Stream %d: %d command(s), %d event(s), withdrawn %d, refueled %d, %s\n",
				s.StreamID, s.Commands, s.Events, s.Withdrawn, s.Refueled, terminal)
		}
		if len(result.Streams) > 0 {
			fmt.Fprintln(w)
		}
	}

	if result.Intact {
		fmt.Fprintln(w, "✓ Journal verified intact")
		return nil
	}

	for _, c := range result.Corruptions {
		switch {
		case c.Seq != 0:
			fmt.Fprintf(w, "  ✗ command %d: %s\n", c.Seq, c.Reason)
		case c.Event != 0:
			fmt.Fprintf(w, "  ✗ event %d: %s\n", c.Event, c.Reason)
		default:
			fmt.Fprintf(w, "  ✗ %s\n", c.Reason)
		}
	}
	fmt.Fprintln(w, "✗ Journal verification failed")
	// Corruption = exit code 1
	return NewExitError(ExitFailure, "journal verification failed")
}
