package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandID_Deterministic(t *testing.T) {
	args := Args{"stream_id": StreamID(0)}

	a := MustCommandID(CmdWithdraw, "bob", 150, args, 2)
	b := MustCommandID(CmdWithdraw, "bob", 150, args, 2)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestCommandID_SensitiveToEveryField(t *testing.T) {
	base := MustCommandID(CmdWithdraw, "bob", 150, Args{"stream_id": StreamID(0)}, 2)

	variants := map[string]string{
		"kind":   MustCommandID(CmdCancel, "bob", 150, Args{"stream_id": StreamID(0)}, 2),
		"caller": MustCommandID(CmdWithdraw, "carol", 150, Args{"stream_id": StreamID(0)}, 2),
		"height": MustCommandID(CmdWithdraw, "bob", 151, Args{"stream_id": StreamID(0)}, 2),
		"args":   MustCommandID(CmdWithdraw, "bob", 150, Args{"stream_id": StreamID(1)}, 2),
		"seq":    MustCommandID(CmdWithdraw, "bob", 150, Args{"stream_id": StreamID(0)}, 3),
	}
	for field, id := range variants {
		assert.NotEqual(t, base, id, "changing %s must change the id", field)
	}
}

func TestCommandID_NormalisesCaller(t *testing.T) {
	a := MustCommandID(CmdWithdraw, "caf\u00e9", 1, Args{}, 1)
	b := MustCommandID(CmdWithdraw, " cafe\u0301 ", 1, Args{}, 1)
	assert.Equal(t, a, b)
}

func TestCommandID_SurvivesJournalRoundTrip(t *testing.T) {
	args := Args{"stream_id": StreamID(4), "extra_amount": uint64(500)}
	id := MustCommandID(CmdRefuel, "alice", 10, args, 1)

	data, err := MarshalCanonical(args)
	require.NoError(t, err)
	decoded, err := UnmarshalArgs(data)
	require.NoError(t, err)

	again, err := CommandID(CmdRefuel, "alice", 10, decoded, 1)
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestCommandID_RejectsFloats(t *testing.T) {
	_, err := CommandID(CmdRefuel, "alice", 10, Args{"extra_amount": 1.5}, 1)
	assert.ErrorContains(t, err, "floats are forbidden")

	assert.Panics(t, func() {
		MustCommandID(CmdRefuel, "alice", 10, Args{"extra_amount": 1.5}, 1)
	})
}

func TestEventHash(t *testing.T) {
	created := CreatedEvent(0, "alice", "bob", 1000, 100, 200, 90)

	h1, err := EventHash(created)
	require.NoError(t, err)
	h2, err := EventHash(created)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	other, err := EventHash(WithdrawnEvent(0, 1000))
	require.NoError(t, err)
	assert.NotEqual(t, h1, other)
}

func TestEventKinds(t *testing.T) {
	assert.Equal(t, "created", EventCreated.OnceClass())
	assert.Equal(t, "terminal", EventCompleted.OnceClass())
	assert.Equal(t, "terminal", EventCancelled.OnceClass())
	assert.Empty(t, EventWithdrawn.OnceClass())
	assert.Empty(t, EventRefueled.OnceClass())
	assert.False(t, EventKind("bogus").Valid())

	key, ok := CancelledEvent(3, 10).Key()
	require.True(t, ok)
	assert.Equal(t, "3/terminal", key.String())

	_, ok = RefueledEvent(3, 10).Key()
	assert.False(t, ok)
}
