package mute

// FaultTracker keeps per-group amplifier fault state at both group and zone
// granularity. A group is considered faulted when its own amp input is
// faulted or any of its member zones is. The tracker is plain bookkeeping;
// the Manager owns reacting to changes.
type FaultTracker struct {
	groupFault []bool
	zoneFault  [][]bool
}

// NewFaultTracker creates a tracker sized for the configured group and zone
// counts. Zones beyond the configured count do not exist here; dormant zones
// simply never report a fault.
func NewFaultTracker(groups, zonesPerGroup int) *FaultTracker {
	t := &FaultTracker{
		groupFault: make([]bool, groups),
		zoneFault:  make([][]bool, groups),
	}
	for g := range t.zoneFault {
		t.zoneFault[g] = make([]bool, zonesPerGroup)
	}
	return t
}

// SetGroupFault records the fault state of a group's own amp input.
// Out-of-range indices are ignored.
func (t *FaultTracker) SetGroupFault(g int, faulted bool) {
	if g < 0 || g >= len(t.groupFault) {
		return
	}
	t.groupFault[g] = faulted
}

// SetZoneFault records the fault state of one zone's amp input.
func (t *FaultTracker) SetZoneFault(g, m int, faulted bool) {
	if g < 0 || g >= len(t.zoneFault) {
		return
	}
	if m < 0 || m >= len(t.zoneFault[g]) {
		return
	}
	t.zoneFault[g][m] = faulted
}

// GroupFault reports the derived fault state of a group: its own input OR
// any member zone's input.
func (t *FaultTracker) GroupFault(g int) bool {
	if g < 0 || g >= len(t.groupFault) {
		return false
	}
	if t.groupFault[g] {
		return true
	}
	for _, f := range t.zoneFault[g] {
		if f {
			return true
		}
	}
	return false
}

// ZoneFault reports the recorded fault state of one zone.
func (t *FaultTracker) ZoneFault(g, m int) bool {
	if g < 0 || g >= len(t.zoneFault) {
		return false
	}
	if m < 0 || m >= len(t.zoneFault[g]) {
		return false
	}
	return t.zoneFault[g][m]
}

// AnyFaultActive reports whether any group is currently faulted. This is the
// master gate for the flash subsystem: while false, the flash clock is fully
// stopped rather than merely hidden.
func (t *FaultTracker) AnyFaultActive() bool {
	for g := range t.groupFault {
		if t.GroupFault(g) {
			return true
		}
	}
	return false
}
