package ledger

import (
	"math/bits"

	"github.com/roach88/streamledger/internal/ir"
)

// state is the committed read model.
type state struct {
	records    map[ir.StreamID]ir.StreamRecord
	senders    map[ir.Principal]ir.SenderStats
	recipients map[ir.Principal]ir.RecipientStats
	global     ir.GlobalStats
	periods    map[uint64]ir.PeriodMetrics
	ratings    map[ir.RatingKey]ir.Rating
	applied    map[ir.EventKey]struct{}
}

func newState() *state {
	return &state{
		records:    make(map[ir.StreamID]ir.StreamRecord),
		senders:    make(map[ir.Principal]ir.SenderStats),
		recipients: make(map[ir.Principal]ir.RecipientStats),
		periods:    make(map[uint64]ir.PeriodMetrics),
		ratings:    make(map[ir.RatingKey]ir.Rating),
		applied:    make(map[ir.EventKey]struct{}),
	}
}

// Tx is a copy-on-write view of the ledger used inside Update and Apply.
//
// Reads fall through to the committed state; writes land in the overlay and
// become visible to other callers only when the enclosing function returns
// nil. A Tx must not be retained after its function returns.
type Tx struct {
	base         *state
	periodLength uint64

	records    map[ir.StreamID]ir.StreamRecord
	senders    map[ir.Principal]ir.SenderStats
	recipients map[ir.Principal]ir.RecipientStats
	global     ir.GlobalStats
	periods    map[uint64]ir.PeriodMetrics
	ratings    map[ir.RatingKey]ir.Rating
	applied    map[ir.EventKey]struct{}
}

func newTx(base *state, periodLength uint64) *Tx {
	return &Tx{
		base:         base,
		periodLength: periodLength,
		records:      make(map[ir.StreamID]ir.StreamRecord),
		senders:      make(map[ir.Principal]ir.SenderStats),
		recipients:   make(map[ir.Principal]ir.RecipientStats),
		global:       base.global,
		periods:      make(map[uint64]ir.PeriodMetrics),
		ratings:      make(map[ir.RatingKey]ir.Rating),
		applied:      make(map[ir.EventKey]struct{}),
	}
}

// commit folds the overlay into the base state.
func (tx *Tx) commit() {
	for k, v := range tx.records {
		tx.base.records[k] = v
	}
	for k, v := range tx.senders {
		tx.base.senders[k] = v
	}
	for k, v := range tx.recipients {
		tx.base.recipients[k] = v
	}
	for k, v := range tx.periods {
		tx.base.periods[k] = v
	}
	for k, v := range tx.ratings {
		tx.base.ratings[k] = v
	}
	for k := range tx.applied {
		tx.base.applied[k] = struct{}{}
	}
	tx.base.global = tx.global
}

// Record returns the stream record for id.
func (tx *Tx) Record(id ir.StreamID) (ir.StreamRecord, bool) {
	if r, ok := tx.records[id]; ok {
		return r, true
	}
	r, ok := tx.base.records[id]
	return r, ok
}

func (tx *Tx) putRecord(id ir.StreamID, r ir.StreamRecord) {
	tx.records[id] = r
}

// SenderStats returns the sender's stats, or the defaults on miss.
func (tx *Tx) SenderStats(p ir.Principal) ir.SenderStats {
	p = p.Normalize()
	if s, ok := tx.senders[p]; ok {
		return s
	}
	if s, ok := tx.base.senders[p]; ok {
		return s
	}
	return ir.NewSenderStats()
}

// PutSenderStats stages new stats for a sender.
func (tx *Tx) PutSenderStats(p ir.Principal, s ir.SenderStats) {
	tx.senders[p.Normalize()] = s
}

// RecipientStats returns the recipient's stats, or the defaults on miss.
func (tx *Tx) RecipientStats(p ir.Principal) ir.RecipientStats {
	p = p.Normalize()
	if s, ok := tx.recipients[p]; ok {
		return s
	}
	if s, ok := tx.base.recipients[p]; ok {
		return s
	}
	return ir.NewRecipientStats()
}

// PutRecipientStats stages new stats for a recipient.
func (tx *Tx) PutRecipientStats(p ir.Principal, s ir.RecipientStats) {
	tx.recipients[p.Normalize()] = s
}

// Rating returns the rating stored under key.
func (tx *Tx) Rating(key ir.RatingKey) (ir.Rating, bool) {
	key = key.Normalize()
	if r, ok := tx.ratings[key]; ok {
		return r, true
	}
	r, ok := tx.base.ratings[key]
	return r, ok
}

// PutRating stages a rating under its normalised key.
func (tx *Tx) PutRating(r ir.Rating) {
	r.RatingKey = r.RatingKey.Normalize()
	tx.ratings[r.RatingKey] = r
}

func (tx *Tx) period(id uint64) ir.PeriodMetrics {
	if m, ok := tx.periods[id]; ok {
		return m
	}
	return tx.base.periods[id]
}

func (tx *Tx) isApplied(k ir.EventKey) bool {
	if _, ok := tx.applied[k]; ok {
		return true
	}
	_, ok := tx.base.applied[k]
	return ok
}

// apply validates and stages a single event. Validation happens before any
// staging so a failing event leaves the overlay as it was.
func (tx *Tx) apply(e ir.Event) error {
	switch e.Kind {
	case ir.EventCreated:
		return tx.applyCreated(e)
	case ir.EventWithdrawn:
		return tx.applyWithdrawn(e)
	case ir.EventRefueled:
		return tx.applyRefueled(e)
	case ir.EventCompleted, ir.EventCancelled:
		return tx.applyTerminal(e)
	default:
		return ir.StreamError(ir.ErrCodeInvalidArgument, e.StreamID, "unknown event kind %q", e.Kind)
	}
}

func (tx *Tx) applyCreated(e ir.Event) error {
	key, _ := e.Key()
	if tx.isApplied(key) {
		return ir.StreamError(ir.ErrCodeAlreadyRecorded, e.StreamID, "creation already recorded")
	}
	sender, recipient := e.Sender.Normalize(), e.Recipient.Normalize()
	if sender == "" || recipient == "" {
		return ir.StreamError(ir.ErrCodeInvalidArgument, e.StreamID, "sender and recipient are required")
	}

	periodID := e.CreatedAtBlock / tx.periodLength
	g := tx.global
	ss := tx.SenderStats(sender)
	rs := tx.RecipientStats(recipient)
	pm := tx.period(periodID)

	var overflow bool
	g.TotalVolume, overflow = addChecked(g.TotalVolume, e.Amount, overflow)
	ss.TotalAmountSent, overflow = addChecked(ss.TotalAmountSent, e.Amount, overflow)
	pm.TotalVolume, overflow = addChecked(pm.TotalVolume, e.Amount, overflow)
	if overflow {
		return ir.StreamError(ir.ErrCodeInvalidArgument, e.StreamID, "amount overflows aggregate volume")
	}
	g.TotalStreams++
	ss.TotalStreamsCreated++
	rs.TotalStreamsReceived++
	pm.StreamsCreated++

	tx.putRecord(e.StreamID, ir.StreamRecord{
		Sender:         sender,
		Recipient:      recipient,
		TotalAmount:    e.Amount,
		StartBlock:     e.StartBlock,
		EndBlock:       e.EndBlock,
		CreatedAtBlock: e.CreatedAtBlock,
	})
	tx.global = g
	tx.PutSenderStats(sender, ss)
	tx.PutRecipientStats(recipient, rs)
	tx.periods[periodID] = pm
	tx.applied[key] = struct{}{}
	return nil
}

func (tx *Tx) applyWithdrawn(e ir.Event) error {
	r, ok := tx.Record(e.StreamID)
	if !ok {
		return ir.StreamError(ir.ErrCodeNotFound, e.StreamID, "stream record not found")
	}
	if e.Amount == 0 {
		return ir.StreamError(ir.ErrCodeInvalidArgument, e.StreamID, "withdrawal amount must be positive")
	}
	withdrawn, carry := bits.Add64(r.AmountWithdrawn, e.Amount, 0)
	if carry != 0 || withdrawn > r.TotalAmount {
		return ir.StreamError(ir.ErrCodeInvalidArgument, e.StreamID,
			"withdrawal of %d exceeds remaining %d", e.Amount, r.TotalAmount-r.AmountWithdrawn)
	}

	rs := tx.RecipientStats(r.Recipient)
	var overflow bool
	rs.TotalAmountReceived, overflow = addChecked(rs.TotalAmountReceived, e.Amount, overflow)
	rs.TotalWithdrawn, overflow = addChecked(rs.TotalWithdrawn, e.Amount, overflow)
	if overflow {
		return ir.StreamError(ir.ErrCodeInvalidArgument, e.StreamID, "withdrawal overflows recipient totals")
	}

	r.AmountWithdrawn = withdrawn
	tx.putRecord(e.StreamID, r)
	tx.PutRecipientStats(r.Recipient, rs)
	return nil
}

func (tx *Tx) applyRefueled(e ir.Event) error {
	r, ok := tx.Record(e.StreamID)
	if !ok {
		return ir.StreamError(ir.ErrCodeNotFound, e.StreamID, "stream record not found")
	}
	if e.Amount == 0 {
		return ir.StreamError(ir.ErrCodeInvalidArgument, e.StreamID, "refuel amount must be positive")
	}
	if r.Terminal() {
		return ir.StreamError(ir.ErrCodeInvalidState, e.StreamID, "stream record is terminal")
	}
	total, carry := bits.Add64(r.TotalAmount, e.Amount, 0)
	if carry != 0 {
		return ir.StreamError(ir.ErrCodeInvalidArgument, e.StreamID, "refuel overflows total amount")
	}
	r.TotalAmount = total
	tx.putRecord(e.StreamID, r)
	return nil
}

func (tx *Tx) applyTerminal(e ir.Event) error {
	r, ok := tx.Record(e.StreamID)
	if !ok {
		return ir.StreamError(ir.ErrCodeNotFound, e.StreamID, "stream record not found")
	}
	key, _ := e.Key()
	if r.Terminal() || tx.isApplied(key) {
		return ir.StreamError(ir.ErrCodeAlreadyRecorded, e.StreamID, "terminal event already recorded")
	}

	g := tx.global
	ss := tx.SenderStats(r.Sender)
	if e.Kind == ir.EventCompleted {
		rs := tx.RecipientStats(r.Recipient)
		r.Completed = true
		ss.StreamsCompleted++
		rs.StreamsCompleted++
		g.CompletedStreams++
		tx.PutRecipientStats(r.Recipient, rs)
	} else {
		r.Cancelled = true
		ss.StreamsCancelled++
		g.CancelledStreams++
	}

	tx.putRecord(e.StreamID, r)
	tx.PutSenderStats(r.Sender, ss)
	tx.global = g
	tx.applied[key] = struct{}{}
	return nil
}

// addChecked adds b to a, carrying the overflow flag forward.
func addChecked(a, b uint64, overflow bool) (uint64, bool) {
	sum, carry := bits.Add64(a, b, 0)
	return sum, overflow || carry != 0
}
