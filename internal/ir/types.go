package ir

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Principal is an opaque participant identifier (sender, recipient, rater
// or the recording authority).
type Principal string

// Normalize returns the NFC-normalised, whitespace-trimmed form.
// Two principals are the same participant iff their normalised forms match.
func (p Principal) Normalize() Principal {
	return Principal(norm.NFC.String(strings.TrimSpace(string(p))))
}

// Equal compares principals in normalised form.
func (p Principal) Equal(other Principal) bool {
	return p.Normalize() == other.Normalize()
}

// IsZero reports whether the principal is empty after normalisation.
func (p Principal) IsZero() bool {
	return p.Normalize() == ""
}

func (p Principal) String() string {
	return string(p)
}

// StreamID identifies a stream. Assigned monotonically at creation
// starting from 0 and never reused.
type StreamID uint64

// StreamStatus is the lifecycle state of a stream.
// Transitions are one-way: Active -> Completed or Active -> Cancelled.
type StreamStatus string

const (
	StatusActive    StreamStatus = "active"
	StatusCompleted StreamStatus = "completed"
	StatusCancelled StreamStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s StreamStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Stream is the Stream Engine's authoritative record.
//
// INVARIANTS:
//   - WithdrawnAmount <= TotalAmount
//   - StartBlock < EndBlock
//   - PaymentPerBlock > 0
type Stream struct {
	ID              StreamID     `json:"id"`
	Sender          Principal    `json:"sender"`
	Recipient       Principal    `json:"recipient"`
	TotalAmount     uint64       `json:"total_amount"`
	PaymentPerBlock uint64       `json:"payment_per_block"`
	StartBlock      uint64       `json:"start_block"`
	EndBlock        uint64       `json:"end_block"`
	WithdrawnAmount uint64       `json:"withdrawn_amount"`
	Status          StreamStatus `json:"status"`
}

// StreamRecord is the Analytics Ledger's mirror of a stream.
// Completed and Cancelled are mutually exclusive and set at most once.
type StreamRecord struct {
	Sender          Principal `json:"sender"`
	Recipient       Principal `json:"recipient"`
	TotalAmount     uint64    `json:"total_amount"`
	AmountWithdrawn uint64    `json:"amount_withdrawn"`
	StartBlock      uint64    `json:"start_block"`
	EndBlock        uint64    `json:"end_block"`
	CreatedAtBlock  uint64    `json:"created_at_block"`
	Completed       bool      `json:"completed"`
	Cancelled       bool      `json:"cancelled"`
}

// Terminal reports whether a completion or cancellation was recorded.
func (r StreamRecord) Terminal() bool {
	return r.Completed || r.Cancelled
}

// RoleOf returns the role p held in the recorded stream.
func (r StreamRecord) RoleOf(p Principal) Role {
	switch {
	case r.Sender.Equal(p):
		return RoleSender
	case r.Recipient.Equal(p):
		return RoleRecipient
	default:
		return RoleNone
	}
}

// Role is a principal's part in one specific stream.
type Role string

const (
	RoleNone      Role = ""
	RoleSender    Role = "sender"
	RoleRecipient Role = "recipient"
)

// DefaultReputation is the neutral reputation score for a principal
// that has not been rated yet.
const DefaultReputation = 50

// SenderStats aggregates a principal's activity as a sender.
type SenderStats struct {
	TotalStreamsCreated  uint64 `json:"total_streams_created"`
	TotalAmountSent      uint64 `json:"total_amount_sent"`
	StreamsCompleted     uint64 `json:"streams_completed"`
	StreamsCancelled     uint64 `json:"streams_cancelled"`
	ReputationScore      uint64 `json:"reputation_score"`
	TotalRatingsReceived uint64 `json:"total_ratings_received"`
	RatingSum            uint64 `json:"rating_sum"`
}

// NewSenderStats returns the default stats for an unseen sender.
func NewSenderStats() SenderStats {
	return SenderStats{ReputationScore: DefaultReputation}
}

// RecipientStats aggregates a principal's activity as a recipient.
type RecipientStats struct {
	TotalStreamsReceived uint64 `json:"total_streams_received"`
	TotalAmountReceived  uint64 `json:"total_amount_received"`
	TotalWithdrawn       uint64 `json:"total_withdrawn"`
	StreamsCompleted     uint64 `json:"streams_completed"`
	ReputationScore      uint64 `json:"reputation_score"`
	TotalRatingsReceived uint64 `json:"total_ratings_received"`
	RatingSum            uint64 `json:"rating_sum"`
}

// NewRecipientStats returns the default stats for an unseen recipient.
func NewRecipientStats() RecipientStats {
	return RecipientStats{ReputationScore: DefaultReputation}
}

// GlobalStats is the network-wide aggregate. CompletionRate and
// AverageStreamSize are derived on read, never stored.
type GlobalStats struct {
	TotalStreams      uint64 `json:"total_streams"`
	TotalVolume       uint64 `json:"total_volume"`
	CompletedStreams  uint64 `json:"completed_streams"`
	CancelledStreams  uint64 `json:"cancelled_streams"`
	CompletionRate    uint64 `json:"completion_rate"`
	AverageStreamSize uint64 `json:"average_stream_size"`
}

// Derive recomputes the derived fields from the stored counters.
func (g GlobalStats) Derive() GlobalStats {
	g.CompletionRate = 0
	g.AverageStreamSize = 0
	if g.TotalStreams > 0 {
		g.CompletionRate = g.CompletedStreams * 100 / g.TotalStreams
		g.AverageStreamSize = g.TotalVolume / g.TotalStreams
	}
	return g
}

// PeriodMetrics buckets creation activity by period id.
type PeriodMetrics struct {
	StreamsCreated uint64 `json:"streams_created"`
	TotalVolume    uint64 `json:"total_volume"`
}

// Rating bounds.
const (
	MinRating = 1
	MaxRating = 5
)

// RatingKey identifies a rating. At most one rating exists per key.
type RatingKey struct {
	Rater    Principal `json:"rater"`
	Rated    Principal `json:"rated"`
	StreamID StreamID  `json:"stream_id"`
}

// Normalize returns the key with both principals normalised.
func (k RatingKey) Normalize() RatingKey {
	k.Rater = k.Rater.Normalize()
	k.Rated = k.Rated.Normalize()
	return k
}

// Rating is a 1..5 score one party of a completed stream gave the other.
type Rating struct {
	RatingKey
	Value uint64 `json:"rating"`
	Role  Role   `json:"role"` // role of the rated party in the stream
}
