package node

import (
	"context"

	"github.com/roach88/streamledger/internal/engine"
	"github.com/roach88/streamledger/internal/ir"
	"github.com/roach88/streamledger/internal/ledger"
	"github.com/roach88/streamledger/internal/reputation"
	"github.com/roach88/streamledger/internal/store"
)

// Journal argument keys.
const (
	argStreamID        = "stream_id"
	argRecipient       = "recipient"
	argTotalAmount     = "total_amount"
	argStartBlock      = "start_block"
	argEndBlock        = "end_block"
	argPaymentPerBlock = "payment_per_block"
	argExtraAmount     = "extra_amount"
	argRated           = "rated"
	argRating          = "rating"
)

// argReader reads typed arguments and keeps the first failure.
type argReader struct {
	args ir.Args
	err  error
}

func (a *argReader) uint(key string) uint64 {
	if a.err != nil {
		return 0
	}
	v, err := a.args.Uint(key)
	if err != nil {
		a.err = ir.NewError(ir.ErrCodeInvalidArgument, "%v", err)
	}
	return v
}

func (a *argReader) principal(key string) ir.Principal {
	if a.err != nil {
		return ""
	}
	v, err := a.args.Principal(key)
	if err != nil {
		a.err = ir.NewError(ir.ErrCodeInvalidArgument, "%v", err)
	}
	return v
}

func (a *argReader) stream() ir.StreamID {
	return ir.StreamID(a.uint(argStreamID))
}

// CreateStream opens a stream from caller to recipient.
func (n *Node) CreateStream(
	ctx context.Context,
	caller, recipient ir.Principal,
	totalAmount, startBlock, endBlock, paymentPerBlock uint64,
) (ir.StreamID, error) {
	id, err := n.submit(ctx, ir.CmdCreateStream, caller, ir.Args{
		argRecipient:       recipient,
		argTotalAmount:     totalAmount,
		argStartBlock:      startBlock,
		argEndBlock:        endBlock,
		argPaymentPerBlock: paymentPerBlock,
	})
	return ir.StreamID(id), err
}

// Withdraw pays out everything vested and not yet withdrawn.
func (n *Node) Withdraw(ctx context.Context, caller ir.Principal, id ir.StreamID) (uint64, error) {
	return n.submit(ctx, ir.CmdWithdraw, caller, ir.Args{argStreamID: id})
}

// Refuel adds extraAmount to an active stream and returns the new total.
func (n *Node) Refuel(ctx context.Context, caller ir.Principal, id ir.StreamID, extraAmount uint64) (uint64, error) {
	return n.submit(ctx, ir.CmdRefuel, caller, ir.Args{
		argStreamID:    id,
		argExtraAmount: extraAmount,
	})
}

// Cancel stops a stream and returns the refund owed to the sender.
func (n *Node) Cancel(ctx context.Context, caller ir.Principal, id ir.StreamID) (uint64, error) {
	return n.submit(ctx, ir.CmdCancel, caller, ir.Args{argStreamID: id})
}

// RecordCompletion completes an Active stream on the authority's word,
// paying the recipient whatever was not yet withdrawn, and returns that
// payout. Only the authority may call it.
func (n *Node) RecordCompletion(ctx context.Context, caller ir.Principal, id ir.StreamID) (uint64, error) {
	return n.submit(ctx, ir.CmdRecordCompletion, caller, ir.Args{argStreamID: id})
}

// RecordCancellation cancels an Active stream on the authority's word and
// returns the sender's refund. Only the authority may call it.
func (n *Node) RecordCancellation(ctx context.Context, caller ir.Principal, id ir.StreamID) (uint64, error) {
	return n.submit(ctx, ir.CmdRecordCancellation, caller, ir.Args{argStreamID: id})
}

// RateUser records a rating and returns the rated principal's new score.
func (n *Node) RateUser(ctx context.Context, rater, rated ir.Principal, id ir.StreamID, rating uint64) (uint64, error) {
	return n.submit(ctx, ir.CmdRateUser, rater, ir.Args{
		argRated:    rated,
		argStreamID: id,
		argRating:   rating,
	})
}

// SetHeight moves the clock. Heights are not journaled on their own; each
// command records the height it ran at.
func (n *Node) SetHeight(h uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.clock.Set(h); err != nil {
		return err
	}
	n.metrics.SetHeight(h)
	return nil
}

// Height returns the current block height.
func (n *Node) Height() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.clock.Height()
}

// Stream returns the engine's view of a stream.
func (n *Node) Stream(id ir.StreamID) (ir.Stream, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.engine.Stream(id)
}

// Streams returns every stream ordered by id.
func (n *Node) Streams() []ir.Stream {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.engine.Streams()
}

// WithdrawableAmount returns what the recipient could withdraw now.
func (n *Node) WithdrawableAmount(id ir.StreamID) (uint64, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.engine.WithdrawableAmount(id, n.clock.Height())
}

// BalanceOf returns who's balance in stream id at the current height.
func (n *Node) BalanceOf(id ir.StreamID, who ir.Principal) (uint64, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.engine.BalanceOf(id, who, n.clock.Height())
}

// StreamRecord returns the ledger's mirror of a stream.
func (n *Node) StreamRecord(id ir.StreamID) (ir.StreamRecord, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ledger.StreamRecord(id)
}

func (n *Node) GlobalStats() ir.GlobalStats {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ledger.GlobalStats()
}

func (n *Node) SenderStats(p ir.Principal) ir.SenderStats {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ledger.SenderStats(p)
}

func (n *Node) RecipientStats(p ir.Principal) ir.RecipientStats {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ledger.RecipientStats(p)
}

func (n *Node) PeriodMetrics(periodID uint64) ir.PeriodMetrics {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ledger.PeriodMetrics(periodID)
}

// CurrentPeriod returns the period containing the current height.
func (n *Node) CurrentPeriod() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ledger.CurrentPeriod()
}

func (n *Node) Rating(rater, rated ir.Principal, id ir.StreamID) (ir.Rating, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ledger.Rating(rater, rated, id)
}

func (n *Node) SenderReliability(p ir.Principal) uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.rep.SenderReliability(p)
}

func (n *Node) RecipientEngagement(p ir.Principal) uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.rep.RecipientEngagement(p)
}

func (n *Node) Profile(p ir.Principal) reputation.Profile {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.rep.Profile(p)
}

// Snapshot returns the full ledger state in deterministic order.
func (n *Node) Snapshot() ledger.Snapshot {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ledger.Snapshot()
}

// Commands returns the journal in seq order.
func (n *Node) Commands(ctx context.Context) ([]ir.Command, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.store.ReadCommands(ctx)
}

// History returns the journaled commands and events of one stream.
func (n *Node) History(ctx context.Context, id ir.StreamID) (store.StreamHistory, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.store.GetStreamHistory(ctx, id)
}

// Verify checks journal integrity.
func (n *Node) Verify(ctx context.Context) ([]store.Corruption, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.store.Verify(ctx)
}

var _ engine.EventSink = (*journalSink)(nil)
