// Package node hosts the streaming core as a single writer.
//
// A Node owns the Stream Engine, the Analytics Ledger, the Reputation
// Module and the SQLite journal. Every mutating call is serialised by one
// lock and journaled write-ahead: the command row is inserted in an open
// transaction, the in-memory operation runs, and the transaction commits
// only if the operation succeeded. A failed operation leaves no trace in
// memory or on disk.
//
// Open replays the journal in seq order, setting the clock to each
// command's recorded height before re-executing it, which rebuilds the
// exact in-memory state. The clock resumes at the last journaled height.
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/streamledger/internal/auth"
	"github.com/roach88/streamledger/internal/config"
	"github.com/roach88/streamledger/internal/engine"
	"github.com/roach88/streamledger/internal/ir"
	"github.com/roach88/streamledger/internal/ledger"
	"github.com/roach88/streamledger/internal/metrics"
	"github.com/roach88/streamledger/internal/reputation"
	"github.com/roach88/streamledger/internal/store"
)

// ErrCorruptJournal is returned by Open when a journaled command fails to
// re-execute.
var ErrCorruptJournal = errors.New("corrupt journal")

// Node is the single-writer host.
//
// Thread-safety model:
//   - Mutations take the write lock for journal and memory together
//   - Reads take the read lock
type Node struct {
	mu      sync.RWMutex
	cfg     config.Config
	store   *store.Store
	ids     IDGenerator
	session string
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Rebuilt from the journal by rebuild.
	clock  *engine.ManualClock
	ledger *ledger.Ledger
	engine *engine.Engine
	rep    *reputation.Module
	sink   *journalSink
}

// Option configures a Node.
type Option func(*Node)

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(n *Node) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithMetrics sets the metrics sink. Default: none.
func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Node) {
		n.metrics = m
	}
}

// WithIDGenerator sets the session id generator.
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(n *Node) {
		if g != nil {
			n.ids = g
		}
	}
}

// Open validates cfg, opens the journal at cfg.Database and replays it.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	n := &Node{
		cfg:    cfg,
		store:  st,
		ids:    UUIDv7Generator{},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.session = n.ids.Generate()

	if err := n.rebuild(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return n, nil
}

// Close closes the journal.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.store.Close()
}

// Session returns the id stamped on commands journaled by this node.
func (n *Node) Session() string {
	return n.session
}

// Authority returns the recording authority.
func (n *Node) Authority() ir.Principal {
	return n.cfg.AuthorityPrincipal()
}

// reset replaces every in-memory component with an empty one.
func (n *Node) reset() error {
	authority := n.cfg.AuthorityPrincipal()

	n.clock = engine.NewManualClock(0)
	n.ledger = ledger.New(auth.NewGuard(authority),
		ledger.WithPeriodLength(n.cfg.PeriodLength),
		ledger.WithClock(n.clock),
		ledger.WithLogger(n.logger),
	)
	handle, err := n.ledger.Handle(authority)
	if err != nil {
		return fmt.Errorf("ledger handle: %w", err)
	}
	n.sink = &journalSink{handle: handle}
	n.engine = engine.New(n.clock, n.sink, engine.WithLogger(n.logger))
	n.rep = reputation.New(n.ledger, reputation.WithLogger(n.logger))
	return nil
}

// rebuild resets memory and replays the journal.
func (n *Node) rebuild(ctx context.Context) error {
	if err := n.reset(); err != nil {
		return err
	}

	cmds, err := n.store.ReadCommands(ctx)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	for _, cmd := range cmds {
		if err := n.clock.Set(cmd.Height); err != nil {
			return fmt.Errorf("%w: command %d: %w", ErrCorruptJournal, cmd.Seq, err)
		}
		if _, err := n.execute(ctx, cmd); err != nil {
			return fmt.Errorf("%w: command %d (%s): %w", ErrCorruptJournal, cmd.Seq, cmd.Kind, err)
		}
		n.metrics.ObserveReplay()
	}

	n.logger.Info("journal replayed",
		"commands", len(cmds),
		"height", n.clock.Height(),
		"session", n.session,
	)
	n.publish()
	return nil
}

// submit journals and executes one command.
func (n *Node) submit(ctx context.Context, kind ir.CommandKind, caller ir.Principal, args ir.Args) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	start := time.Now()
	seq, result, err := n.submitLocked(ctx, kind, caller, args)
	n.metrics.ObserveCommand(kind, err, time.Since(start))

	if err != nil {
		n.logger.Info("command rejected",
			"op", kind,
			"caller", caller,
			"stream_id", args["stream_id"],
			"code", ir.CodeOf(err),
			"error", err,
		)
		return 0, err
	}

	n.logger.Debug("command applied",
		"op", kind,
		"seq", seq,
		"caller", caller,
		"stream_id", args["stream_id"],
		"height", n.clock.Height(),
		"result", result,
	)
	n.publish()
	return result, nil
}

func (n *Node) submitLocked(ctx context.Context, kind ir.CommandKind, caller ir.Principal, args ir.Args) (int64, uint64, error) {
	tx, err := n.store.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	cmd, err := tx.AppendCommand(ctx, ir.Command{
		Kind:    kind,
		Caller:  caller,
		Height:  n.clock.Height(),
		Args:    args,
		Session: n.session,
	})
	if err != nil {
		return 0, 0, err
	}

	sink := n.sink
	sink.begin(tx, cmd.Seq)
	result, err := n.execute(ctx, cmd)
	sink.end()
	if err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(); err != nil {
		// Memory is ahead of the journal; fall back to what is durable.
		if rerr := n.rebuild(ctx); rerr != nil {
			return 0, 0, errors.Join(err, rerr)
		}
		return 0, 0, err
	}
	return cmd.Seq, result, nil
}

// execute runs cmd against the in-memory components. It is shared by live
// submission and replay.
func (n *Node) execute(ctx context.Context, cmd ir.Command) (uint64, error) {
	a := argReader{args: cmd.Args}

	switch cmd.Kind {
	case ir.CmdCreateStream:
		recipient := a.principal(argRecipient)
		total := a.uint(argTotalAmount)
		startBlock := a.uint(argStartBlock)
		endBlock := a.uint(argEndBlock)
		rate := a.uint(argPaymentPerBlock)
		if a.err != nil {
			return 0, a.err
		}
		id, err := n.engine.CreateStream(ctx, cmd.Caller, recipient, total, startBlock, endBlock, rate)
		return uint64(id), err

	case ir.CmdWithdraw:
		id := a.stream()
		if a.err != nil {
			return 0, a.err
		}
		return n.engine.Withdraw(ctx, cmd.Caller, id)

	case ir.CmdRefuel:
		id := a.stream()
		extra := a.uint(argExtraAmount)
		if a.err != nil {
			return 0, a.err
		}
		return n.engine.Refuel(ctx, cmd.Caller, id, extra)

	case ir.CmdCancel:
		id := a.stream()
		if a.err != nil {
			return 0, a.err
		}
		return n.engine.Cancel(ctx, cmd.Caller, id)

	case ir.CmdRecordCompletion, ir.CmdRecordCancellation:
		id := a.stream()
		if a.err != nil {
			return 0, a.err
		}
		if _, err := n.ledger.Handle(cmd.Caller); err != nil {
			return 0, ir.WithStream(err, id)
		}
		to := ir.StatusCompleted
		if cmd.Kind == ir.CmdRecordCancellation {
			to = ir.StatusCancelled
		}
		// Through the engine, so the stream and its record leave Active
		// together.
		return n.engine.Finalize(ctx, id, to)

	case ir.CmdRateUser:
		rated := a.principal(argRated)
		id := a.stream()
		rating := a.uint(argRating)
		if a.err != nil {
			return 0, a.err
		}
		return n.rep.RateUser(ctx, cmd.Caller, rated, id, rating)

	default:
		return 0, ir.NewError(ir.ErrCodeInvalidArgument, "unknown command kind %q", cmd.Kind)
	}
}

// publish pushes gauges after state changed.
func (n *Node) publish() {
	n.metrics.SetHeight(n.clock.Height())
	n.metrics.SetGlobal(n.ledger.GlobalStats())
}
