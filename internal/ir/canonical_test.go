package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"empty string", "", `""`},
		{"principal", Principal("alice"), `"alice"`},
		{"status", StatusActive, `"active"`},
		{"event kind", EventRefueled, `"refueled"`},
		{"int", 42, "42"},
		{"negative int64", int64(-100), "-100"},
		{"max uint64", uint64(18446744073709551615), "18446744073709551615"},
		{"stream id", StreamID(7), "7"},
		{"json number", json.Number("12345678901234567890"), "12345678901234567890"},
		{"bool", true, "true"},
		{"empty array", []any{}, "[]"},
		{"empty object", Args{}, "{}"},
		{"array", []any{1, "a", false}, `[1,"a",false]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := Args{
		"zebra": 1,
		"alpha": 2,
		"beta":  map[string]any{"y": 1, "x": 2},
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"beta":{"x":2,"y":1},"zebra":1}`, string(result))
}

func TestMarshalCanonicalUTF16KeyOrder(t *testing.T) {
	// U+E000 sorts before U+1F600 in UTF-8 byte order and after it in
	// UTF-16 code unit order (the emoji encodes as a 0xD83D surrogate).
	obj := Args{"\U0001F600": 1, "\uE000": 2}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":1,\"\uE000\":2}", string(result))
}

func TestMarshalCanonicalStrings(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"no html escaping", "<a&b>", `"<a&b>"`},
		{"quote and backslash", `say "hi" \ bye`, `"say \"hi\" \\ bye"`},
		{"control char", "a\nb", `"a\nb"`},
		{"line separator literal", "a\u2028b", "\"a\u2028b\""},
		{"nfc normalised", "e\u0301", "\"\u00e9\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalRejects(t *testing.T) {
	tests := []struct {
		name  string
		input any
	}{
		{"null", nil},
		{"float", 1.5},
		{"float number", json.Number("1.5")},
		{"nested null", Args{"a": nil}},
		{"unsupported", struct{}{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MarshalCanonical(tt.input)
			assert.Error(t, err)
		})
	}
}

func TestUnmarshalArgs(t *testing.T) {
	args, err := UnmarshalArgs([]byte(`{"stream_id":18446744073709551615,"recipient":"bob"}`))
	require.NoError(t, err)

	id, err := args.Uint("stream_id")
	require.NoError(t, err)
	assert.Equal(t, uint64(18446744073709551615), id)

	p, err := args.Principal("recipient")
	require.NoError(t, err)
	assert.Equal(t, Principal("bob"), p)

	empty, err := UnmarshalArgs(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = UnmarshalArgs([]byte(`{`))
	assert.Error(t, err)
}

func TestArgsAccessors(t *testing.T) {
	args := Args{
		"u":   uint64(5),
		"id":  StreamID(3),
		"i":   7,
		"neg": -1,
		"s":   "x",
		"p":   Principal("alice"),
	}

	v, err := args.Uint("u")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), v)

	v, err = args.Uint("id")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), v)

	v, err = args.Uint("i")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), v)

	_, err = args.Uint("neg")
	assert.ErrorContains(t, err, "negative")
	_, err = args.Uint("s")
	assert.ErrorContains(t, err, "want integer")
	_, err = args.Uint("missing")
	assert.ErrorContains(t, err, "missing argument")

	p, err := args.Principal("p")
	require.NoError(t, err)
	assert.Equal(t, Principal("alice"), p)
	_, err = args.Principal("u")
	assert.ErrorContains(t, err, "want string")
}
