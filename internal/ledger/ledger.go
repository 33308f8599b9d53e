// Package ledger implements the Analytics Ledger: a read model of stream
// lifecycle events with per-principal, network-wide and per-period
// aggregates, plus the rating store the reputation module writes through.
//
// Every mutation runs inside a Tx. A Tx is a copy-on-write overlay over the
// committed state; it is folded in only when the whole batch succeeds, so a
// failed operation never leaves partial aggregates behind.
//
// Only the recording authority may report lifecycle events. The engine
// holds a Handle, a capability bound to that identity, instead of the
// ledger itself.
package ledger

import (
	"cmp"
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/streamledger/internal/auth"
	"github.com/roach88/streamledger/internal/ir"
)

// DefaultPeriodLength is the number of heights in one analytics period
// (roughly a day of blocks).
const DefaultPeriodLength uint64 = 144

// HeightSource reports the current height. engine.Clock satisfies it.
type HeightSource interface {
	Height() uint64
}

// Ledger is the Analytics Ledger.
//
// Thread-safety model:
//   - Reads take the read lock and return copies
//   - Update and Apply take the write lock for the whole transaction
type Ledger struct {
	mu           sync.RWMutex
	guard        auth.Guard
	periodLength uint64
	clock        HeightSource
	state        *state
	logger       *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithPeriodLength sets the number of heights per period. Zero is ignored.
// Default: DefaultPeriodLength.
func WithPeriodLength(n uint64) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.periodLength = n
		}
	}
}

// WithClock sets the height source used by CurrentPeriod.
func WithClock(c HeightSource) Option {
	return func(l *Ledger) {
		l.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Ledger) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// New creates an empty ledger that accepts events only from guard's
// authority.
func New(guard auth.Guard, opts ...Option) *Ledger {
	l := &Ledger{
		guard:        guard,
		periodLength: DefaultPeriodLength,
		state:        newState(),
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// PeriodLength returns the configured period length.
func (l *Ledger) PeriodLength() uint64 {
	return l.periodLength
}

// Update runs fn in a transaction. The overlay is committed only when fn
// returns nil.
func (l *Ledger) Update(ctx context.Context, fn func(*Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := newTx(l.state, l.periodLength)
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// Apply records a batch of lifecycle events atomically on behalf of caller.
// Either every event is recorded or none is.
func (l *Ledger) Apply(ctx context.Context, caller ir.Principal, events ...ir.Event) error {
	if err := l.guard.Authorize(caller); err != nil {
		return err
	}
	return l.Update(ctx, func(tx *Tx) error {
		for _, e := range events {
			if err := tx.apply(e); err != nil {
				l.logger.Debug("ledger event rejected",
					"kind", e.Kind,
					"stream_id", e.StreamID,
					"error", err,
				)
				return err
			}
		}
		for _, e := range events {
			l.logger.Debug("ledger event recorded", "kind", e.Kind, "stream_id", e.StreamID, "amount", e.Amount)
		}
		return nil
	})
}

// RecordCreation records a new stream.
func (l *Ledger) RecordCreation(
	ctx context.Context,
	caller ir.Principal,
	id ir.StreamID,
	sender, recipient ir.Principal,
	total, start, end, createdAt uint64,
) error {
	return l.Apply(ctx, caller, ir.CreatedEvent(id, sender, recipient, total, start, end, createdAt))
}

// RecordWithdrawal records amount moved to the stream's recipient.
func (l *Ledger) RecordWithdrawal(ctx context.Context, caller ir.Principal, id ir.StreamID, amount uint64) error {
	return l.Apply(ctx, caller, ir.WithdrawnEvent(id, amount))
}

// RecordRefuel raises the recorded total of a stream by extra.
func (l *Ledger) RecordRefuel(ctx context.Context, caller ir.Principal, id ir.StreamID, extra uint64) error {
	return l.Apply(ctx, caller, ir.RefueledEvent(id, extra))
}

// RecordCompletion marks the stream completed.
func (l *Ledger) RecordCompletion(ctx context.Context, caller ir.Principal, id ir.StreamID) error {
	return l.Apply(ctx, caller, ir.CompletedEvent(id))
}

// RecordCancellation marks the stream cancelled.
func (l *Ledger) RecordCancellation(ctx context.Context, caller ir.Principal, id ir.StreamID) error {
	return l.Apply(ctx, caller, ir.CancelledEvent(id, 0))
}

// Handle returns an event sink bound to caller. It fails with UNAUTHORIZED
// unless caller is the recording authority.
func (l *Ledger) Handle(caller ir.Principal) (*Handle, error) {
	if err := l.guard.Authorize(caller); err != nil {
		return nil, err
	}
	return &Handle{ledger: l, caller: caller.Normalize()}, nil
}

// Handle is the engine's capability to report lifecycle events.
// It implements engine.EventSink.
type Handle struct {
	ledger *Ledger
	caller ir.Principal
}

// Apply records events atomically under the handle's identity.
func (h *Handle) Apply(ctx context.Context, events ...ir.Event) error {
	return h.ledger.Apply(ctx, h.caller, events...)
}

// Caller returns the identity the handle reports under.
func (h *Handle) Caller() ir.Principal {
	return h.caller
}

// GlobalStats returns the network-wide aggregate with derived fields.
func (l *Ledger) GlobalStats() ir.GlobalStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.global.Derive()
}

// SenderStats returns p's sender stats, or the defaults for an unseen sender.
func (l *Ledger) SenderStats(p ir.Principal) ir.SenderStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if s, ok := l.state.senders[p.Normalize()]; ok {
		return s
	}
	return ir.NewSenderStats()
}

// RecipientStats returns p's recipient stats, or the defaults.
func (l *Ledger) RecipientStats(p ir.Principal) ir.RecipientStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if s, ok := l.state.recipients[p.Normalize()]; ok {
		return s
	}
	return ir.NewRecipientStats()
}

// PeriodMetrics returns the metrics for periodID, zero if nothing was
// created in it.
func (l *Ledger) PeriodMetrics(periodID uint64) ir.PeriodMetrics {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.periods[periodID]
}

// PeriodOf returns the period a height falls in.
func (l *Ledger) PeriodOf(height uint64) uint64 {
	return height / l.periodLength
}

// CurrentPeriod returns the period of the clock's current height, or 0 when
// no clock was configured.
func (l *Ledger) CurrentPeriod() uint64 {
	if l.clock == nil {
		return 0
	}
	return l.PeriodOf(l.clock.Height())
}

// StreamRecord returns the mirror record for id.
func (l *Ledger) StreamRecord(id ir.StreamID) (ir.StreamRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.state.records[id]
	if !ok {
		return ir.StreamRecord{}, ir.StreamError(ir.ErrCodeNotFound, id, "stream record not found")
	}
	return r, nil
}

// Rating returns the rating rater gave rated for stream id.
func (l *Ledger) Rating(rater, rated ir.Principal, id ir.StreamID) (ir.Rating, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	key := ir.RatingKey{Rater: rater, Rated: rated, StreamID: id}.Normalize()
	r, ok := l.state.ratings[key]
	return r, ok
}

// Snapshot is a deterministic dump of the ledger, ordered for stable
// rendering.
type Snapshot struct {
	Global     ir.GlobalStats   `json:"global"`
	Records    []RecordEntry    `json:"records"`
	Senders    []SenderEntry    `json:"senders"`
	Recipients []RecipientEntry `json:"recipients"`
	Periods    []PeriodEntry    `json:"periods"`
	Ratings    []ir.Rating      `json:"ratings"`
}

// RecordEntry pairs a stream id with its mirror record.
type RecordEntry struct {
	StreamID ir.StreamID `json:"stream_id"`
	ir.StreamRecord
}

// SenderEntry pairs a principal with its sender stats.
type SenderEntry struct {
	Principal ir.Principal `json:"principal"`
	ir.SenderStats
}

// RecipientEntry pairs a principal with its recipient stats.
type RecipientEntry struct {
	Principal ir.Principal `json:"principal"`
	ir.RecipientStats
}

// PeriodEntry pairs a period id with its metrics.
type PeriodEntry struct {
	Period uint64 `json:"period"`
	ir.PeriodMetrics
}

// Snapshot returns a copy of the whole ledger. Slices are never nil.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Snapshot{
		Global:     l.state.global.Derive(),
		Records:    make([]RecordEntry, 0, len(l.state.records)),
		Senders:    make([]SenderEntry, 0, len(l.state.senders)),
		Recipients: make([]RecipientEntry, 0, len(l.state.recipients)),
		Periods:    make([]PeriodEntry, 0, len(l.state.periods)),
		Ratings:    make([]ir.Rating, 0, len(l.state.ratings)),
	}
	for id, r := range l.state.records {
		s.Records = append(s.Records, RecordEntry{StreamID: id, StreamRecord: r})
	}
	for p, st := range l.state.senders {
		s.Senders = append(s.Senders, SenderEntry{Principal: p, SenderStats: st})
	}
	for p, st := range l.state.recipients {
		s.Recipients = append(s.Recipients, RecipientEntry{Principal: p, RecipientStats: st})
	}
	for id, m := range l.state.periods {
		s.Periods = append(s.Periods, PeriodEntry{Period: id, PeriodMetrics: m})
	}
	for _, r := range l.state.ratings {
		s.Ratings = append(s.Ratings, r)
	}

	slices.SortFunc(s.Records, func(a, b RecordEntry) int { return cmp.Compare(uint64(a.StreamID), uint64(b.StreamID)) })
	slices.SortFunc(s.Senders, func(a, b SenderEntry) int { return cmp.Compare(string(a.Principal), string(b.Principal)) })
	slices.SortFunc(s.Recipients, func(a, b RecipientEntry) int {
		return cmp.Compare(string(a.Principal), string(b.Principal))
	})
	slices.SortFunc(s.Periods, func(a, b PeriodEntry) int { return cmp.Compare(a.Period, b.Period) })
	slices.SortFunc(s.Ratings, func(a, b ir.Rating) int {
		if c := cmp.Compare(uint64(a.StreamID), uint64(b.StreamID)); c != 0 {
			return c
		}
		if c := cmp.Compare(string(a.Rater), string(b.Rater)); c != 0 {
			return c
		}
		return cmp.Compare(string(a.Rated), string(b.Rated))
	})
	return s
}
