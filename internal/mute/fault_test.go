package mute

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFaultTrackerGroupDerivation(t *testing.T) {
	tracker := NewFaultTracker(2, 4)

	assert.False(t, tracker.GroupFault(0))
	assert.False(t, tracker.AnyFaultActive())

	// A zone fault propagates to its group only.
	tracker.SetZoneFault(0, 2, true)
	assert.True(t, tracker.GroupFault(0))
	assert.False(t, tracker.GroupFault(1))
	assert.True(t, tracker.AnyFaultActive())

	// The group's own input keeps the group faulted after the zone clears.
	tracker.SetGroupFault(0, true)
	tracker.SetZoneFault(0, 2, false)
	assert.True(t, tracker.GroupFault(0))

	tracker.SetGroupFault(0, false)
	assert.False(t, tracker.GroupFault(0))
	assert.False(t, tracker.AnyFaultActive())
}

func TestFaultTrackerIgnoresOutOfRange(t *testing.T) {
	tracker := NewFaultTracker(1, 2)

	tracker.SetGroupFault(5, true)
	tracker.SetZoneFault(0, 9, true)
	tracker.SetZoneFault(-1, 0, true)

	assert.False(t, tracker.AnyFaultActive())
	assert.False(t, tracker.GroupFault(5))
	assert.False(t, tracker.ZoneFault(0, 9))
}
