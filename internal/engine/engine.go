package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/bits"
	"slices"
	"sync"

	"github.com/roach88/streamledger/internal/auth"
	"github.com/roach88/streamledger/internal/ir"
)

// EventSink receives the lifecycle events produced by one engine operation.
//
// Apply must be all-or-nothing: either every event in the batch is
// recorded, or none is and an error is returned. The ledger's capability
// handle (ledger.Handle) is the production implementation.
type EventSink interface {
	Apply(ctx context.Context, events ...ir.Event) error
}

// NopSink accepts every batch and records nothing.
type NopSink struct{}

// Apply implements EventSink.
func (NopSink) Apply(context.Context, ...ir.Event) error { return nil }

// Engine is the Stream Engine.
//
// Thread-safety model:
//   - All methods are safe for concurrent use
//   - Mutations are serialized by a single mutex, which is held across the
//     sink call so the engine and the ledger observe the same order
type Engine struct {
	mu      sync.Mutex
	clock   Clock
	sink    EventSink
	streams map[ir.StreamID]ir.Stream
	nextID  ir.StreamID
	logger  *slog.Logger
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithLogger sets the logger used for operation tracing.
// Default: a logger that discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Engine reading heights from clock and reporting events to
// sink. A nil sink is replaced with NopSink.
func New(clock Clock, sink EventSink, opts ...Option) *Engine {
	if sink == nil {
		sink = NopSink{}
	}
	e := &Engine{
		clock:   clock,
		sink:    sink,
		streams: make(map[ir.StreamID]ir.Stream),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateStream registers a new Active stream and reports its creation.
//
// Fails with INVALID_ARGUMENT if endBlock <= startBlock, totalAmount == 0,
// paymentPerBlock == 0 or either principal is empty.
func (e *Engine) CreateStream(
	ctx context.Context,
	sender, recipient ir.Principal,
	totalAmount, startBlock, endBlock, paymentPerBlock uint64,
) (ir.StreamID, error) {
	sender, recipient = sender.Normalize(), recipient.Normalize()

	switch {
	case sender == "" || recipient == "":
		return 0, ir.NewError(ir.ErrCodeInvalidArgument, "sender and recipient are required")
	case endBlock <= startBlock:
		return 0, ir.NewError(ir.ErrCodeInvalidArgument, "end block %d must be after start block %d", endBlock, startBlock)
	case totalAmount == 0:
		return 0, ir.NewError(ir.ErrCodeInvalidArgument, "total amount must be positive")
	case paymentPerBlock == 0:
		return 0, ir.NewError(ir.ErrCodeInvalidArgument, "payment per block must be positive")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextID
	s := ir.Stream{
		ID:              id,
		Sender:          sender,
		Recipient:       recipient,
		TotalAmount:     totalAmount,
		PaymentPerBlock: paymentPerBlock,
		StartBlock:      startBlock,
		EndBlock:        endBlock,
		Status:          ir.StatusActive,
	}

	created := ir.CreatedEvent(id, sender, recipient, totalAmount, startBlock, endBlock, e.clock.Height())
	if err := e.sink.Apply(ctx, created); err != nil {
		return 0, fmt.Errorf("report creation of stream %d: %w", id, err)
	}

	e.streams[id] = s
	e.nextID++

	e.logger.Debug("stream created",
		"stream_id", id,
		"sender", sender,
		"recipient", recipient,
		"total_amount", totalAmount,
		"start_block", startBlock,
		"end_block", endBlock,
	)
	return id, nil
}

// WithdrawableAmount returns the amount the recipient could withdraw at
// atHeight. Pure: nothing is mutated.
func (e *Engine) WithdrawableAmount(id ir.StreamID, atHeight uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.streams[id]
	if !ok {
		return 0, ir.StreamError(ir.ErrCodeNotFound, id, "stream not found")
	}
	return withdrawable(s, atHeight), nil
}

// Withdraw moves every vested, unwithdrawn unit to the recipient at the
// clock's current height and returns the amount.
//
// When the withdrawal drains the stream at or after its end block the
// stream becomes Completed and the completion is reported in the same
// batch, after the withdrawal.
func (e *Engine) Withdraw(ctx context.Context, caller ir.Principal, id ir.StreamID) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.streams[id]
	if !ok {
		return 0, ir.StreamError(ir.ErrCodeNotFound, id, "stream not found")
	}
	if err := auth.RequireParty(caller, s.Recipient); err != nil {
		return 0, ir.WithStream(err, id)
	}
	if s.Status != ir.StatusActive {
		return 0, ir.StreamError(ir.ErrCodeInvalidState, id, "stream is %s", s.Status)
	}

	at := e.clock.Height()
	amount := withdrawable(s, at)
	if amount == 0 {
		return 0, ir.StreamError(ir.ErrCodeInvalidArgument, id, "nothing to withdraw at height %d", at)
	}

	next := s
	next.WithdrawnAmount += amount
	events := []ir.Event{ir.WithdrawnEvent(id, amount)}
	if next.WithdrawnAmount == next.TotalAmount && at >= next.EndBlock {
		next.Status = ir.StatusCompleted
		events = append(events, ir.CompletedEvent(id))
	}

	if err := e.sink.Apply(ctx, events...); err != nil {
		return 0, fmt.Errorf("report withdrawal from stream %d: %w", id, err)
	}
	e.streams[id] = next

	e.logger.Debug("withdrawal applied",
		"stream_id", id,
		"amount", amount,
		"height", at,
		"status", next.Status,
	)
	return amount, nil
}

// Refuel adds extraAmount to the stream's total and returns the new total.
//
// Start block, end block and payment per block are left as they are; a
// caller wanting a longer schedule has to create it with the matching rate.
func (e *Engine) Refuel(ctx context.Context, caller ir.Principal, id ir.StreamID, extraAmount uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.streams[id]
	if !ok {
		return 0, ir.StreamError(ir.ErrCodeNotFound, id, "stream not found")
	}
	if err := auth.RequireParty(caller, s.Sender); err != nil {
		return 0, ir.WithStream(err, id)
	}
	if s.Status != ir.StatusActive {
		return 0, ir.StreamError(ir.ErrCodeInvalidState, id, "stream is %s", s.Status)
	}
	if extraAmount == 0 {
		return 0, ir.StreamError(ir.ErrCodeInvalidArgument, id, "refuel amount must be positive")
	}
	newTotal, carry := bits.Add64(s.TotalAmount, extraAmount, 0)
	if carry != 0 {
		return 0, ir.StreamError(ir.ErrCodeInvalidArgument, id, "refuel overflows total amount")
	}

	if err := e.sink.Apply(ctx, ir.RefueledEvent(id, extraAmount)); err != nil {
		return 0, fmt.Errorf("report refuel of stream %d: %w", id, err)
	}
	s.TotalAmount = newTotal
	e.streams[id] = s

	e.logger.Debug("stream refueled", "stream_id", id, "extra", extraAmount, "total_amount", newTotal)
	return newTotal, nil
}

// Cancel terminates an Active stream and returns the refund owed to the
// sender (total minus everything already withdrawn).
func (e *Engine) Cancel(ctx context.Context, caller ir.Principal, id ir.StreamID) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.streams[id]
	if !ok {
		return 0, ir.StreamError(ir.ErrCodeNotFound, id, "stream not found")
	}
	if err := auth.RequireParty(caller, s.Sender); err != nil {
		return 0, ir.WithStream(err, id)
	}
	if s.Status != ir.StatusActive {
		return 0, ir.StreamError(ir.ErrCodeInvalidState, id, "stream is %s", s.Status)
	}
	return e.cancelLocked(ctx, s)
}

// Finalize applies a terminal transition decided outside the engine. It
// does no caller check: the host authorises the recording authority first.
//
// To Completed, the recipient is paid everything not yet withdrawn and the
// withdrawal is reported before the completion, so a Completed stream is
// always fully withdrawn. To Cancelled, it behaves like Cancel. Either way
// the amount moved (payout or refund) is returned.
//
// A stream that is already terminal yields ALREADY_RECORDED: its terminal
// event was reported when it left Active.
func (e *Engine) Finalize(ctx context.Context, id ir.StreamID, to ir.StreamStatus) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.streams[id]
	if !ok {
		return 0, ir.StreamError(ir.ErrCodeNotFound, id, "stream not found")
	}
	if s.Status != ir.StatusActive {
		return 0, ir.StreamError(ir.ErrCodeAlreadyRecorded, id, "stream is already %s", s.Status)
	}

	switch to {
	case ir.StatusCancelled:
		return e.cancelLocked(ctx, s)
	case ir.StatusCompleted:
		return e.completeLocked(ctx, s)
	default:
		return 0, ir.StreamError(ir.ErrCodeInvalidArgument, id, "%q is not a terminal status", to)
	}
}

func (e *Engine) cancelLocked(ctx context.Context, s ir.Stream) (uint64, error) {
	refund := s.TotalAmount - s.WithdrawnAmount
	if err := e.sink.Apply(ctx, ir.CancelledEvent(s.ID, refund)); err != nil {
		return 0, fmt.Errorf("report cancellation of stream %d: %w", s.ID, err)
	}
	s.Status = ir.StatusCancelled
	e.streams[s.ID] = s

	e.logger.Debug("stream cancelled", "stream_id", s.ID, "refund", refund)
	return refund, nil
}

func (e *Engine) completeLocked(ctx context.Context, s ir.Stream) (uint64, error) {
	payout := s.TotalAmount - s.WithdrawnAmount
	var events []ir.Event
	if payout > 0 {
		events = append(events, ir.WithdrawnEvent(s.ID, payout))
	}
	events = append(events, ir.CompletedEvent(s.ID))

	if err := e.sink.Apply(ctx, events...); err != nil {
		return 0, fmt.Errorf("report completion of stream %d: %w", s.ID, err)
	}
	s.WithdrawnAmount = s.TotalAmount
	s.Status = ir.StatusCompleted
	e.streams[s.ID] = s

	e.logger.Debug("stream completed", "stream_id", s.ID, "payout", payout)
	return payout, nil
}

// Stream returns a copy of the stream.
func (e *Engine) Stream(id ir.StreamID) (ir.Stream, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.streams[id]
	if !ok {
		return ir.Stream{}, ir.StreamError(ir.ErrCodeNotFound, id, "stream not found")
	}
	return s, nil
}

// Streams returns copies of all streams ordered by id.
func (e *Engine) Streams() []ir.Stream {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]ir.Stream, 0, len(e.streams))
	for _, s := range e.streams {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b ir.Stream) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// BalanceOf reports the share of the stream held by who at atHeight: the
// recipient's withdrawable amount, the sender's unvested remainder, or 0
// for anyone else.
func (e *Engine) BalanceOf(id ir.StreamID, who ir.Principal, atHeight uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.streams[id]
	if !ok {
		return 0, ir.StreamError(ir.ErrCodeNotFound, id, "stream not found")
	}
	if s.Status != ir.StatusActive {
		return 0, nil
	}
	switch {
	case s.Recipient.Equal(who):
		return withdrawable(s, atHeight), nil
	case s.Sender.Equal(who):
		return s.TotalAmount - vested(s, atHeight), nil
	default:
		return 0, nil
	}
}

// vested returns min(total, elapsed * paymentPerBlock). The product
// saturates instead of wrapping.
func vested(s ir.Stream, at uint64) uint64 {
	elapsed := BlockDelta(s.StartBlock, s.EndBlock, at)
	hi, lo := bits.Mul64(elapsed, s.PaymentPerBlock)
	if hi != 0 || lo > s.TotalAmount {
		return s.TotalAmount
	}
	return lo
}

func withdrawable(s ir.Stream, at uint64) uint64 {
	v := vested(s, at)
	if v <= s.WithdrawnAmount {
		return 0
	}
	return v - s.WithdrawnAmount
}
