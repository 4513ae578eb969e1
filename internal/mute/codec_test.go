package mute

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for code := 0; code <= 5; code++ {
		base, fault := Decode(code)
		assert.Equal(t, code, Encode(base, fault), "code %d should round-trip", code)
	}
}

func TestEncode(t *testing.T) {
	tests := []struct {
		name  string
		base  MuteState
		fault bool
		code  int
	}{
		{"unmuted", Unmuted, false, 0},
		{"muted", Muted, false, 1},
		{"mixed", Mixed, false, 2},
		{"unmuted faulted", Unmuted, true, 3},
		{"muted faulted", Muted, true, 4},
		{"mixed faulted", Mixed, true, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, Encode(tt.base, tt.fault))
		})
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input string
		state MuteState
		ok    bool
	}{
		{"muted", Muted, true},
		{"MUTED", Muted, true},
		{"true", Muted, true},
		{"1", Muted, true},
		{"4", Muted, true}, // fault-encoded code accepted, fault bit discarded
		{"unmuted", Unmuted, true},
		{"false", Unmuted, true},
		{"0", Unmuted, true},
		{"3", Unmuted, true},
		{"mixed", Mixed, true},
		{"2", Mixed, true},
		{"5", Mixed, true},
		{" Muted ", Muted, true},
		{"", Unmuted, false},
		{"6", Unmuted, false},
		{"mute", Unmuted, false},
		{"garbage", Unmuted, false},
	}
	for _, tt := range tests {
		t.Run("input_"+tt.input, func(t *testing.T) {
			state, ok := ParseCommand(tt.input)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.state, state)
			}
		})
	}
}

func TestParseCommandIdempotent(t *testing.T) {
	// Applying the same valid command twice must land on the same state.
	for _, input := range []string{"muted", "unmuted", "mixed", "0", "1", "2", "3", "4", "5"} {
		first, ok := ParseCommand(input)
		require.True(t, ok)
		second, ok := ParseCommand(input)
		require.True(t, ok)
		assert.Equal(t, first, second, "command %q should be idempotent", input)
	}
}

func TestParseAmpStatus(t *testing.T) {
	tests := []struct {
		input   string
		faulted bool
	}{
		{"", false},
		{"0", false},
		{"ok", false},
		{"OK", false},
		{"Okay, running", false},
		{"ok - all channels nominal", false},
		{"200 ok", true}, // "ok" must lead the string
		{"fault", true},
		{"1", true},
		{"FAULT: channel 2 over temperature", true},
		{"o", true},
	}
	for _, tt := range tests {
		t.Run("input_"+tt.input, func(t *testing.T) {
			assert.Equal(t, tt.faulted, ParseAmpStatus(tt.input))
		})
	}
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		input string
		value bool
		ok    bool
	}{
		{"true", true, true},
		{"1", true, true},
		{"on", true, true},
		{"false", false, true},
		{"0", false, true},
		{"", false, true},
		{"maybe", false, false},
	}
	for _, tt := range tests {
		t.Run("input_"+tt.input, func(t *testing.T) {
			value, ok := ParseBool(tt.input)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.value, value)
			}
		})
	}
}

func TestMuteStateString(t *testing.T) {
	assert.Equal(t, "unmuted", Unmuted.String())
	assert.Equal(t, "muted", Muted.String())
	assert.Equal(t, "mixed", Mixed.String())
}
