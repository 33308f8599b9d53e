package engine

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/streamledger/internal/ir"
	"github.com/roach88/streamledger/internal/testutil"
)

const (
	alice = ir.Principal("alice")
	bob   = ir.Principal("bob")
	carol = ir.Principal("carol")
)

// recordingSink captures every accepted batch and can be told to reject.
type recordingSink struct {
	batches [][]ir.Event
	err     error
}

func (s *recordingSink) Apply(_ context.Context, events ...ir.Event) error {
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, append([]ir.Event(nil), events...))
	return nil
}

func (s *recordingSink) last() []ir.Event {
	if len(s.batches) == 0 {
		return nil
	}
	return s.batches[len(s.batches)-1]
}

func newTestEngine(start uint64) (*Engine, *testutil.DeterministicClock, *recordingSink) {
	clock := testutil.NewDeterministicClock(start)
	sink := &recordingSink{}
	return New(clock, sink), clock, sink
}

// createDefault creates alice -> bob, 1000 over blocks 100..200 at 10/block.
func createDefault(t *testing.T, e *Engine) ir.StreamID {
	t.Helper()
	id, err := e.CreateStream(context.Background(), alice, bob, 1000, 100, 200, 10)
	require.NoError(t, err)
	return id
}

func TestCreateStream(t *testing.T) {
	e, _, sink := newTestEngine(42)

	id := createDefault(t, e)
	assert.Equal(t, ir.StreamID(0), id)

	s, err := e.Stream(id)
	require.NoError(t, err)
	assert.Equal(t, ir.Stream{
		ID:              0,
		Sender:          alice,
		Recipient:       bob,
		TotalAmount:     1000,
		PaymentPerBlock: 10,
		StartBlock:      100,
		EndBlock:        200,
		Status:          ir.StatusActive,
	}, s)

	assert.Equal(t, []ir.Event{ir.CreatedEvent(0, alice, bob, 1000, 100, 200, 42)}, sink.last())
}

func TestCreateStream_IDsAreSequential(t *testing.T) {
	e, _, _ := newTestEngine(0)
	for want := ir.StreamID(0); want < 5; want++ {
		id, err := e.CreateStream(context.Background(), alice, bob, 10, 0, 10, 1)
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}
	assert.Len(t, e.Streams(), 5)
}

func TestCreateStream_InvalidArguments(t *testing.T) {
	tests := []struct {
		name                    string
		sender, recipient       ir.Principal
		total, start, end, rate uint64
	}{
		{"end equals start", alice, bob, 1000, 100, 100, 10},
		{"end before start", alice, bob, 1000, 200, 100, 10},
		{"zero total", alice, bob, 0, 100, 200, 10},
		{"zero rate", alice, bob, 1000, 100, 200, 0},
		{"empty sender", "", bob, 1000, 100, 200, 10},
		{"blank recipient", alice, "  ", 1000, 100, 200, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _, sink := newTestEngine(0)
			_, err := e.CreateStream(context.Background(), tt.sender, tt.recipient, tt.total, tt.start, tt.end, tt.rate)
			assert.True(t, errors.Is(err, ir.ErrInvalidArgument))
			assert.Empty(t, e.Streams())
			assert.Empty(t, sink.batches)
		})
	}
}

func TestCreateStream_SinkRejects(t *testing.T) {
	e, _, sink := newTestEngine(0)
	sink.err = ir.NewError(ir.ErrCodeUnauthorized, "nope")

	_, err := e.CreateStream(context.Background(), alice, bob, 1000, 100, 200, 10)
	assert.True(t, ir.IsCode(err, ir.ErrCodeUnauthorized))
	assert.Empty(t, e.Streams())

	// The id was not consumed.
	sink.err = nil
	assert.Equal(t, ir.StreamID(0), createDefault(t, e))
}

func TestWithdrawableAmount(t *testing.T) {
	e, _, _ := newTestEngine(0)
	id := createDefault(t, e)

	tests := []struct {
		at   uint64
		want uint64
	}{
		{0, 0},
		{100, 0},
		{101, 10},
		{150, 500},
		{200, 1000},
		{500, 1000},
	}
	for _, tt := range tests {
		got, err := e.WithdrawableAmount(id, tt.at)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "at height %d", tt.at)
	}

	_, err := e.WithdrawableAmount(9, 0)
	assert.True(t, errors.Is(err, ir.ErrNotFound))
}

func TestWithdrawableAmount_RateCapsAtTotal(t *testing.T) {
	e, _, _ := newTestEngine(0)
	id, err := e.CreateStream(context.Background(), alice, bob, 100, 0, 100, 50)
	require.NoError(t, err)

	got, err := e.WithdrawableAmount(id, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), got)
}

func TestWithdrawableAmount_ProductSaturates(t *testing.T) {
	e, _, _ := newTestEngine(0)
	id, err := e.CreateStream(context.Background(), alice, bob, 1000, 0, math.MaxUint64, math.MaxUint64)
	require.NoError(t, err)

	got, err := e.WithdrawableAmount(id, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), got)
}

func TestWithdraw_Partial(t *testing.T) {
	e, clock, sink := newTestEngine(150)
	id := createDefault(t, e)

	amount, err := e.Withdraw(context.Background(), bob, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), amount)
	assert.Equal(t, []ir.Event{ir.WithdrawnEvent(id, 500)}, sink.last())

	s, err := e.Stream(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), s.WithdrawnAmount)
	assert.Equal(t, ir.StatusActive, s.Status)

	// Nothing newly vested at the same height.
	_, err = e.Withdraw(context.Background(), bob, id)
	assert.True(t, errors.Is(err, ir.ErrInvalidArgument))

	clock.Set(160)
	amount, err = e.Withdraw(context.Background(), bob, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), amount)
}

func TestWithdraw_CompletesAtEnd(t *testing.T) {
	e, _, sink := newTestEngine(250)
	id := createDefault(t, e)

	amount, err := e.Withdraw(context.Background(), bob, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), amount)
	assert.Equal(t, []ir.Event{ir.WithdrawnEvent(id, 1000), ir.CompletedEvent(id)}, sink.last())

	s, err := e.Stream(id)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusCompleted, s.Status)

	_, err = e.Withdraw(context.Background(), bob, id)
	assert.True(t, errors.Is(err, ir.ErrInvalidState))
}

func TestWithdraw_DrainedBeforeEndStaysActive(t *testing.T) {
	e, _, sink := newTestEngine(110)
	id, err := e.CreateStream(context.Background(), alice, bob, 100, 100, 200, 50)
	require.NoError(t, err)

	amount, err := e.Withdraw(context.Background(), bob, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), amount)
	assert.Len(t, sink.last(), 1)

	s, err := e.Stream(id)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusActive, s.Status)
}

func TestWithdraw_Errors(t *testing.T) {
	e, _, _ := newTestEngine(150)
	id := createDefault(t, e)

	_, err := e.Withdraw(context.Background(), bob, 7)
	assert.True(t, errors.Is(err, ir.ErrNotFound))

	_, err = e.Withdraw(context.Background(), alice, id)
	assert.True(t, errors.Is(err, ir.ErrUnauthorized))
	var ierr *ir.Error
	require.True(t, errors.As(err, &ierr))
	assert.True(t, ierr.HasStream)
	assert.Equal(t, id, ierr.StreamID)

	_, err = e.Cancel(context.Background(), alice, id)
	require.NoError(t, err)
	_, err = e.Withdraw(context.Background(), bob, id)
	assert.True(t, errors.Is(err, ir.ErrInvalidState))
}

func TestWithdraw_BeforeStart(t *testing.T) {
	e, _, _ := newTestEngine(50)
	id := createDefault(t, e)

	_, err := e.Withdraw(context.Background(), bob, id)
	assert.True(t, errors.Is(err, ir.ErrInvalidArgument))
}

func TestWithdraw_SinkRejectsLeavesStreamUntouched(t *testing.T) {
	e, _, sink := newTestEngine(250)
	id := createDefault(t, e)
	sink.err = errors.New("ledger down")

	_, err := e.Withdraw(context.Background(), bob, id)
	require.Error(t, err)

	s, err := e.Stream(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), s.WithdrawnAmount)
	assert.Equal(t, ir.StatusActive, s.Status)
}

func TestRefuel(t *testing.T) {
	e, _, sink := newTestEngine(150)
	id := createDefault(t, e)

	total, err := e.Refuel(context.Background(), alice, id, 500)
	require.NoError(t, err)
	assert.Equal(t, uint64(1500), total)
	assert.Equal(t, []ir.Event{ir.RefueledEvent(id, 500)}, sink.last())

	s, err := e.Stream(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1500), s.TotalAmount)
	assert.Equal(t, uint64(100), s.StartBlock)
	assert.Equal(t, uint64(200), s.EndBlock)
	assert.Equal(t, uint64(10), s.PaymentPerBlock)
}

func TestRefuel_Errors(t *testing.T) {
	e, _, _ := newTestEngine(150)
	id := createDefault(t, e)

	_, err := e.Refuel(context.Background(), alice, 3, 10)
	assert.True(t, errors.Is(err, ir.ErrNotFound))

	_, err = e.Refuel(context.Background(), bob, id, 10)
	assert.True(t, errors.Is(err, ir.ErrUnauthorized))

	_, err = e.Refuel(context.Background(), alice, id, 0)
	assert.True(t, errors.Is(err, ir.ErrInvalidArgument))

	_, err = e.Refuel(context.Background(), alice, id, math.MaxUint64)
	assert.True(t, errors.Is(err, ir.ErrInvalidArgument))

	_, err = e.Cancel(context.Background(), alice, id)
	require.NoError(t, err)
	_, err = e.Refuel(context.Background(), alice, id, 10)
	assert.True(t, errors.Is(err, ir.ErrInvalidState))
}

func TestCancel(t *testing.T) {
	e, _, sink := newTestEngine(150)
	id := createDefault(t, e)

	_, err := e.Withdraw(context.Background(), bob, id)
	require.NoError(t, err)

	refund, err := e.Cancel(context.Background(), alice, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), refund)
	assert.Equal(t, []ir.Event{ir.CancelledEvent(id, 500)}, sink.last())

	s, err := e.Stream(id)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusCancelled, s.Status)

	_, err = e.Cancel(context.Background(), alice, id)
	assert.True(t, errors.Is(err, ir.ErrInvalidState))
}

func TestCancel_Errors(t *testing.T) {
	e, _, _ := newTestEngine(150)
	id := createDefault(t, e)

	_, err := e.Cancel(context.Background(), alice, 4)
	assert.True(t, errors.Is(err, ir.ErrNotFound))

	_, err = e.Cancel(context.Background(), carol, id)
	assert.True(t, errors.Is(err, ir.ErrUnauthorized))

	_, err = e.Cancel(context.Background(), bob, id)
	assert.True(t, errors.Is(err, ir.ErrUnauthorized))
}

func TestFinalize_Completed(t *testing.T) {
	e, _, sink := newTestEngine(150)
	id := createDefault(t, e)

	_, err := e.Withdraw(context.Background(), bob, id)
	require.NoError(t, err)

	payout, err := e.Finalize(context.Background(), id, ir.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), payout)
	assert.Equal(t, []ir.Event{ir.WithdrawnEvent(id, 500), ir.CompletedEvent(id)}, sink.last())

	s, err := e.Stream(id)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusCompleted, s.Status)
	assert.Equal(t, uint64(1000), s.WithdrawnAmount)

	_, err = e.Withdraw(context.Background(), bob, id)
	assert.True(t, errors.Is(err, ir.ErrInvalidState))
	_, err = e.Finalize(context.Background(), id, ir.StatusCancelled)
	assert.True(t, errors.Is(err, ir.ErrAlreadyRecorded))
}

func TestFinalize_CompletedWhenDrained(t *testing.T) {
	e, _, sink := newTestEngine(110)
	id, err := e.CreateStream(context.Background(), alice, bob, 50, 100, 200, 10)
	require.NoError(t, err)

	// Drained at 110, before the end block, so still Active.
	_, err = e.Withdraw(context.Background(), bob, id)
	require.NoError(t, err)

	payout, err := e.Finalize(context.Background(), id, ir.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), payout)
	assert.Equal(t, []ir.Event{ir.CompletedEvent(id)}, sink.last())
}

func TestFinalize_Cancelled(t *testing.T) {
	e, _, sink := newTestEngine(150)
	id := createDefault(t, e)

	_, err := e.Withdraw(context.Background(), bob, id)
	require.NoError(t, err)

	refund, err := e.Finalize(context.Background(), id, ir.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), refund)
	assert.Equal(t, []ir.Event{ir.CancelledEvent(id, 500)}, sink.last())

	_, err = e.Cancel(context.Background(), alice, id)
	assert.True(t, errors.Is(err, ir.ErrInvalidState))
}

func TestFinalize_Errors(t *testing.T) {
	e, _, sink := newTestEngine(150)
	id := createDefault(t, e)

	_, err := e.Finalize(context.Background(), 9, ir.StatusCompleted)
	assert.True(t, errors.Is(err, ir.ErrNotFound))

	_, err = e.Finalize(context.Background(), id, ir.StatusActive)
	assert.True(t, errors.Is(err, ir.ErrInvalidArgument))

	sink.err = errors.New("ledger down")
	_, err = e.Finalize(context.Background(), id, ir.StatusCompleted)
	require.Error(t, err)

	s, err := e.Stream(id)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusActive, s.Status)
	assert.Equal(t, uint64(0), s.WithdrawnAmount)
}

func TestUnauthorizedErrorsNameTheStream(t *testing.T) {
	e, _, _ := newTestEngine(150)
	createDefault(t, e)
	id := createDefault(t, e)

	_, err := e.Withdraw(context.Background(), carol, id)
	var domainErr *ir.Error
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, ir.ErrCodeUnauthorized, domainErr.Code)
	assert.True(t, domainErr.HasStream)
	assert.Equal(t, id, domainErr.StreamID)
}

func TestBalanceOf(t *testing.T) {
	e, _, _ := newTestEngine(150)
	id := createDefault(t, e)

	got, err := e.BalanceOf(id, bob, 150)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), got)

	got, err = e.BalanceOf(id, alice, 150)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), got)

	got, err = e.BalanceOf(id, carol, 150)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got)

	_, err = e.Withdraw(context.Background(), bob, id)
	require.NoError(t, err)
	got, err = e.BalanceOf(id, bob, 180)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), got)

	_, err = e.Cancel(context.Background(), alice, id)
	require.NoError(t, err)
	got, err = e.BalanceOf(id, alice, 180)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got, "terminal streams hold no balance")

	_, err = e.BalanceOf(99, alice, 0)
	assert.True(t, errors.Is(err, ir.ErrNotFound))
}

func TestStreams_SortedByID(t *testing.T) {
	e, _, _ := newTestEngine(0)
	for i := 0; i < 3; i++ {
		createDefault(t, e)
	}
	streams := e.Streams()
	require.Len(t, streams, 3)
	for i, s := range streams {
		assert.Equal(t, ir.StreamID(i), s.ID)
	}
}

func TestNew_NilSink(t *testing.T) {
	e := New(NewManualClock(0), nil)
	_, err := e.CreateStream(context.Background(), alice, bob, 10, 0, 10, 1)
	require.NoError(t, err)
}
