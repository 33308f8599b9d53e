// Package reputation turns ledger aggregates into scores.
//
// Ratings are written through ledger.Update so the rating row and the
// rated principal's aggregate change together or not at all. Reliability
// and engagement are pure functions of the stored stats.
package reputation

import (
	"context"
	"io"
	"log/slog"

	"github.com/roach88/streamledger/internal/auth"
	"github.com/roach88/streamledger/internal/ir"
	"github.com/roach88/streamledger/internal/ledger"
)

// Neutral is the score reported for a principal with no history.
const Neutral = 50

// MaxScore bounds every score.
const MaxScore = 100

// cancellationPenaltyDivisor scales the cancellation rate down before it is
// subtracted from the completion rate.
const cancellationPenaltyDivisor = 5

// Module computes and records reputation on top of a ledger.
type Module struct {
	ledger *ledger.Ledger
	logger *slog.Logger
}

// Option configures a Module.
type Option func(*Module)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Module) {
		if l != nil {
			m.logger = l
		}
	}
}

// New creates a Module reading and writing l.
func New(l *ledger.Ledger, opts ...Option) *Module {
	m := &Module{
		ledger: l,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RateUser records rater's rating of rated for a completed stream and
// returns the rated principal's new reputation score in the bucket matching
// their role in that stream.
//
// Checks run in order: INVALID_RATING, NOT_FOUND, UNAUTHORIZED (the pair
// must be exactly the stream's two distinct parties), INVALID_STATE (stream
// not completed), ALREADY_RATED.
func (m *Module) RateUser(ctx context.Context, rater, rated ir.Principal, id ir.StreamID, rating uint64) (uint64, error) {
	if rating < ir.MinRating || rating > ir.MaxRating {
		return 0, ir.StreamError(ir.ErrCodeInvalidRating, id, "rating %d outside [%d,%d]", rating, ir.MinRating, ir.MaxRating)
	}
	rater, rated = rater.Normalize(), rated.Normalize()

	var score uint64
	err := m.ledger.Update(ctx, func(tx *ledger.Tx) error {
		rec, ok := tx.Record(id)
		if !ok {
			return ir.StreamError(ir.ErrCodeNotFound, id, "stream record not found")
		}
		if !auth.SameParties(rater, rated, rec.Sender, rec.Recipient) {
			return ir.StreamError(ir.ErrCodeUnauthorized, id, "%q and %q are not the two parties of this stream", rater, rated).
				WithPrincipal(rater)
		}
		if !rec.Completed {
			return ir.StreamError(ir.ErrCodeInvalidState, id, "stream is not completed")
		}
		key := ir.RatingKey{Rater: rater, Rated: rated, StreamID: id}
		if _, exists := tx.Rating(key); exists {
			return ir.StreamError(ir.ErrCodeAlreadyRated, id, "%q already rated %q", rater, rated)
		}

		role := rec.RoleOf(rated)
		switch role {
		case ir.RoleSender:
			s := tx.SenderStats(rated)
			s.RatingSum += rating
			s.TotalRatingsReceived++
			s.ReputationScore = Score(s.RatingSum, s.TotalRatingsReceived)
			tx.PutSenderStats(rated, s)
			score = s.ReputationScore
		case ir.RoleRecipient:
			s := tx.RecipientStats(rated)
			s.RatingSum += rating
			s.TotalRatingsReceived++
			s.ReputationScore = Score(s.RatingSum, s.TotalRatingsReceived)
			tx.PutRecipientStats(rated, s)
			score = s.ReputationScore
		}
		tx.PutRating(ir.Rating{RatingKey: key, Value: rating, Role: role})
		return nil
	})
	if err != nil {
		return 0, err
	}

	m.logger.Debug("rating recorded",
		"stream_id", id,
		"rater", rater,
		"rated", rated,
		"rating", rating,
		"reputation", score,
	)
	return score, nil
}

// Score returns clamp(floor(ratingSum*20/count), 0, 100), or Neutral when
// count is zero.
func Score(ratingSum, count uint64) uint64 {
	if count == 0 {
		return Neutral
	}
	return clamp(ratingSum * (MaxScore / ir.MaxRating) / count)
}

// SenderReliability scores how often p's streams run to completion.
// Cancellations cost a fifth of their rate.
func (m *Module) SenderReliability(p ir.Principal) uint64 {
	return Reliability(m.ledger.SenderStats(p))
}

// Reliability computes the sender reliability score from stats.
func Reliability(s ir.SenderStats) uint64 {
	if s.TotalStreamsCreated == 0 {
		return Neutral
	}
	completionRate := s.StreamsCompleted * 100 / s.TotalStreamsCreated
	penalty := s.StreamsCancelled * 100 / s.TotalStreamsCreated / cancellationPenaltyDivisor
	if penalty >= completionRate {
		return 0
	}
	return clamp(completionRate - penalty)
}

// RecipientEngagement scores how much of what p was streamed p withdrew.
func (m *Module) RecipientEngagement(p ir.Principal) uint64 {
	return Engagement(m.ledger.RecipientStats(p))
}

// Engagement computes the recipient engagement score from stats.
func Engagement(s ir.RecipientStats) uint64 {
	if s.TotalAmountReceived == 0 {
		return Neutral
	}
	return clamp(s.TotalWithdrawn * 100 / s.TotalAmountReceived)
}

// Profile bundles everything known about a principal.
type Profile struct {
	Principal   ir.Principal      `json:"principal"`
	Sender      ir.SenderStats    `json:"sender"`
	Recipient   ir.RecipientStats `json:"recipient"`
	Reliability uint64            `json:"reliability"`
	Engagement  uint64            `json:"engagement"`
}

// Profile returns p's stats and both derived scores.
func (m *Module) Profile(p ir.Principal) Profile {
	p = p.Normalize()
	s := m.ledger.SenderStats(p)
	r := m.ledger.RecipientStats(p)
	return Profile{
		Principal:   p,
		Sender:      s,
		Recipient:   r,
		Reliability: Reliability(s),
		Engagement:  Engagement(r),
	}
}

func clamp(v uint64) uint64 {
	if v > MaxScore {
		return MaxScore
	}
	return v
}
