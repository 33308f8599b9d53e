package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrincipal_Normalize(t *testing.T) {
	assert.Equal(t, Principal("caf\u00e9"), Principal("  cafe\u0301\t").Normalize())
	assert.True(t, Principal("cafe\u0301").Equal("caf\u00e9"))
	assert.False(t, Principal("alice").Equal("Alice"))
	assert.True(t, Principal("   ").IsZero())
}

func TestStreamStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusActive.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
}

func TestStreamRecord_RoleOf(t *testing.T) {
	rec := StreamRecord{Sender: "alice", Recipient: "bob"}
	assert.Equal(t, RoleSender, rec.RoleOf("alice"))
	assert.Equal(t, RoleRecipient, rec.RoleOf(" bob"))
	assert.Equal(t, RoleNone, rec.RoleOf("carol"))

	assert.False(t, rec.Terminal())
	rec.Cancelled = true
	assert.True(t, rec.Terminal())
}

func TestGlobalStats_Derive(t *testing.T) {
	g := GlobalStats{TotalStreams: 2, TotalVolume: 3000, CompletedStreams: 1}.Derive()
	assert.Equal(t, uint64(50), g.CompletionRate)
	assert.Equal(t, uint64(1500), g.AverageStreamSize)

	empty := GlobalStats{CompletionRate: 9}.Derive()
	assert.Zero(t, empty.CompletionRate)
	assert.Zero(t, empty.AverageStreamSize)
}

func TestNewStatsDefaults(t *testing.T) {
	assert.Equal(t, uint64(50), NewSenderStats().ReputationScore)
	assert.Equal(t, uint64(50), NewRecipientStats().ReputationScore)
}

func TestCommandKind_Valid(t *testing.T) {
	for _, k := range []CommandKind{CmdCreateStream, CmdWithdraw, CmdRefuel, CmdCancel,
		CmdRecordCompletion, CmdRecordCancellation, CmdRateUser} {
		assert.True(t, k.Valid(), string(k))
	}
	assert.False(t, CommandKind("transfer").Valid())
}
