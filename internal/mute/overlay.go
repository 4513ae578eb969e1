package mute

// Color is a CSS-style hex color for a control surface widget.
type Color string

// ColorScheme binds display colors to node states. Fault is the flash
// overlay color painted over faulted nodes while the flash clock is on.
type ColorScheme struct {
	Unmuted Color `yaml:"unmuted"`
	Muted   Color `yaml:"muted"`
	Mixed   Color `yaml:"mixed"`
	Fault   Color `yaml:"fault"`
}

// DefaultColorScheme returns the stock palette.
func DefaultColorScheme() ColorScheme {
	return ColorScheme{
		Unmuted: "#2ECC40",
		Muted:   "#FF4136",
		Mixed:   "#FF851B",
		Fault:   "#FFDC00",
	}
}

// NodeState is the displayable state of one node: its base mute state and
// whether it (or, for a zone, its parent group) is faulted.
type NodeState struct {
	Base    MuteState
	Faulted bool
}

// ColorFor resolves the display color for a node. The fault color wins only
// while the node is faulted, the flash clock is on, and flashing is not
// suppressed; otherwise the base state's color applies.
func (s ColorScheme) ColorFor(n NodeState, flashOn, suppressed bool) Color {
	if n.Faulted && flashOn && !suppressed {
		return s.Fault
	}
	switch n.Base {
	case Muted:
		return s.Muted
	case Mixed:
		return s.Mixed
	default:
		return s.Unmuted
	}
}
