package node

import (
	"context"

	"github.com/roach88/streamledger/internal/ir"
	"github.com/roach88/streamledger/internal/ledger"
	"github.com/roach88/streamledger/internal/store"
)

// journalSink sits between the engine and the ledger. While a command is
// being journaled it mirrors each accepted batch into the open store
// transaction before handing it to the ledger; during replay tx is nil and
// batches go straight to the ledger.
type journalSink struct {
	handle *ledger.Handle
	tx     *store.Tx
	seq    int64
}

// Apply implements engine.EventSink.
func (s *journalSink) Apply(ctx context.Context, events ...ir.Event) error {
	if s.tx != nil {
		if err := s.tx.AppendEvents(ctx, s.seq, events...); err != nil {
			return err
		}
	}
	return s.handle.Apply(ctx, events...)
}

func (s *journalSink) begin(tx *store.Tx, seq int64) {
	s.tx, s.seq = tx, seq
}

func (s *journalSink) end() {
	s.tx, s.seq = nil, 0
}
