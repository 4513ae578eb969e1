package mute

import "strings"

// MuteState is the tri-state mute value of a zone, group, or global control.
// Mixed only ever arises from aggregation over heterogeneous members; a zone
// is never Mixed.
type MuteState int

const (
	Unmuted MuteState = iota
	Muted
	Mixed
)

// String returns the lowercase display name of the state.
func (s MuteState) String() string {
	switch s {
	case Unmuted:
		return "unmuted"
	case Muted:
		return "muted"
	case Mixed:
		return "mixed"
	default:
		return "unknown"
	}
}

// Encode combines a base mute state and a fault flag into the 0-5 wire code:
// 0=Unmuted, 1=Muted, 2=Mixed, 3=Unmuted+Fault, 4=Muted+Fault, 5=Mixed+Fault.
func Encode(base MuteState, fault bool) int {
	code := int(base)
	if fault {
		code += 3
	}
	return code
}

// Decode splits a 0-5 wire code back into its base state and fault flag.
func Decode(code int) (MuteState, bool) {
	if code >= 3 && code <= 5 {
		return MuteState(code - 3), true
	}
	return MuteState(code), false
}

// ParseCommand maps free-form command text to a MuteState. The second return
// is false for unrecognized input, which callers must ignore. Fault-encoded
// codes (3/4/5) are accepted as mute commands with the fault bit discarded.
func ParseCommand(text string) (MuteState, bool) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "muted", "true", "1", "4":
		return Muted, true
	case "unmuted", "false", "0", "3":
		return Unmuted, true
	case "mixed", "2", "5":
		return Mixed, true
	default:
		return Unmuted, false
	}
}

// ParseAmpStatus reports whether an amplifier status string indicates a
// fault. This is a permissive heuristic tuned to the status strings the
// supported amplifiers emit, not a protocol parse: an empty string, "0", or
// anything beginning with "ok" (case-insensitive) means healthy; every other
// value, including "200 ok", is treated as faulted.
func ParseAmpStatus(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || trimmed == "0" {
		return false
	}
	if len(trimmed) >= 2 && strings.EqualFold(trimmed[:2], "ok") {
		return false
	}
	return true
}

// ParseBool interprets the textual forms a boolean control may carry.
// Unrecognized input returns ok=false and must be ignored.
func ParseBool(text string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "true", "1", "on", "yes":
		return true, true
	case "false", "0", "off", "no", "":
		return false, true
	default:
		return false, false
	}
}
