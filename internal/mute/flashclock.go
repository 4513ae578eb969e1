package mute

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ClockRole selects how the flash clock derives its on/off value.
type ClockRole int

const (
	// RoleSource derives phase locally from the wall clock.
	RoleSource ClockRole = iota
	// RoleFollower mirrors edges observed from an external flash bus.
	RoleFollower
)

func (r ClockRole) String() string {
	if r == RoleFollower {
		return "follower"
	}
	return "source"
}

const (
	// Fraction of each period the output is on.
	flashOnFraction = 0.25
	// Phase offset chosen so a forced resync (rate or role change) is likely
	// to land in the off portion of the cycle.
	flashPhaseShift = 0.375

	// Tick scheduling bounds: wake at roughly half the time to the next
	// edge, never faster than 10ms nor slower than 100ms.
	flashTickMin = 10 * time.Millisecond
	flashTickMax = 100 * time.Millisecond

	// Rate 1 maps to the slow bound, rate 100 to the fast bound, linear in
	// frequency between them.
	flashSlowHz = 0.5
	flashFastHz = 4.0

	// MinFlashRate and MaxFlashRate bound the user-facing rate parameter.
	MinFlashRate = 1
	MaxFlashRate = 100

	// FollowerTimeout is how long a follower waits without an observed edge
	// before falling back to local ticking.
	FollowerTimeout = 5 * time.Second
)

// FlashClock generates the phase-locked square wave behind the fault flash
// overlay. In RoleSource it ticks itself, realigning to the wall clock at
// each epoch-second boundary so long-run drift stays sub-second. In
// RoleFollower the value is set directly by ObserveEdge and a watchdog
// demotes the clock back to RoleSource when the bus goes quiet.
//
// The clock is fully stopped while disabled: no pending timer, value forced
// off. The fault tracker gates it so an instance with no faults spends no
// cycles on flashing.
type FlashClock struct {
	mu       sync.Mutex
	logger   zerolog.Logger
	time     TimeSource
	ticker   *Timer
	watchdog *Timer

	role            ClockRole
	enabled         bool
	rate            int
	period          float64 // seconds
	on              bool
	followerTimeout time.Duration

	// Wall-clock/monotonic correlation pair; lastEpoch of -1 forces a
	// resynchronization on the next tick.
	lastEpoch int64
	lastMono  time.Duration

	onChange func(on bool)
}

// NewFlashClock creates a disabled clock in RoleSource at the given rate.
// onChange is invoked outside the clock's lock on every value change.
func NewFlashClock(ts TimeSource, rate int, logger zerolog.Logger, onChange func(on bool)) *FlashClock {
	c := &FlashClock{
		logger:          logger,
		time:            ts,
		role:            RoleSource,
		lastEpoch:       -1,
		followerTimeout: FollowerTimeout,
		onChange:        onChange,
	}
	c.ticker = NewTimer(c.tick)
	c.watchdog = NewTimer(c.followerTimedOut)
	c.setRateLocked(rate)
	return c
}

// SetRate changes the flash rate (1-100, clamped) and forces an immediate
// resynchronization rather than waiting for the next epoch boundary.
func (c *FlashClock) SetRate(rate int) {
	c.mu.Lock()
	c.setRateLocked(rate)
	c.lastEpoch = -1
	restart := c.enabled && c.role == RoleSource
	c.mu.Unlock()

	if restart {
		c.ticker.Start(time.Millisecond)
	}
}

func (c *FlashClock) setRateLocked(rate int) {
	if rate < MinFlashRate {
		rate = MinFlashRate
	}
	if rate > MaxFlashRate {
		rate = MaxFlashRate
	}
	c.rate = rate
	hz := flashSlowHz + float64(rate-MinFlashRate)/float64(MaxFlashRate-MinFlashRate)*(flashFastHz-flashSlowHz)
	c.period = 1.0 / hz
}

// SetEnabled starts or fully stops the clock. Disabling cancels any pending
// tick and watchdog and forces the value off.
func (c *FlashClock) SetEnabled(enabled bool) {
	c.mu.Lock()
	if enabled == c.enabled {
		c.mu.Unlock()
		return
	}
	c.enabled = enabled

	var changed bool
	if enabled {
		c.lastEpoch = -1
		if c.role == RoleSource {
			c.ticker.Start(time.Millisecond)
		} else {
			c.watchdog.Start(c.followerTimeout)
		}
	} else {
		c.ticker.Stop()
		c.watchdog.Stop()
		changed = c.on
		c.on = false
	}
	notify := c.onChange
	c.mu.Unlock()

	if changed && notify != nil {
		notify(false)
	}
}

// ObserveEdge delivers an externally observed flash-bus value. The first
// edge promotes a Source clock to Follower, stopping local ticking and
// applying the observed value immediately so there is no stale frame during
// the handover. Edges are ignored while the clock is disabled.
func (c *FlashClock) ObserveEdge(on bool) {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return
	}
	if c.role == RoleSource {
		c.role = RoleFollower
		c.ticker.Stop()
		c.logger.Info().Msg("flash clock following external bus")
	}
	changed := on != c.on
	c.on = on
	c.watchdog.Start(c.followerTimeout)
	notify := c.onChange
	c.mu.Unlock()

	if changed && notify != nil {
		notify(on)
	}
}

// followerTimedOut demotes a quiet Follower back to Source and resumes local
// ticking without a gap in the on/off history.
func (c *FlashClock) followerTimedOut() {
	c.mu.Lock()
	if c.role != RoleFollower {
		c.mu.Unlock()
		return
	}
	c.role = RoleSource
	c.lastEpoch = -1
	resume := c.enabled
	if resume {
		c.ticker.Start(time.Millisecond)
	}
	c.logger.Warn().Dur("timeout", c.followerTimeout).Msg("flash bus quiet, falling back to local clock")
	c.mu.Unlock()
}

// tick advances a Source clock one step and schedules the next wake.
func (c *FlashClock) tick() {
	c.mu.Lock()
	if !c.enabled || c.role != RoleSource {
		c.mu.Unlock()
		return
	}

	epoch := c.time.EpochSeconds()
	mono := c.time.Monotonic()
	if epoch != c.lastEpoch {
		c.lastEpoch = epoch
		c.lastMono = mono
	}
	t := float64(c.lastEpoch) + (mono - c.lastMono).Seconds()

	on, untilEdge := evaluatePhase(t, c.period)
	changed := on != c.on
	c.on = on

	delay := time.Duration(untilEdge * 0.5 * float64(time.Second))
	if delay < flashTickMin {
		delay = flashTickMin
	}
	if delay > flashTickMax {
		delay = flashTickMax
	}
	c.ticker.Start(delay)
	notify := c.onChange
	c.mu.Unlock()

	if changed && notify != nil {
		notify(on)
	}
}

// evaluatePhase computes the square-wave value at time t for the given
// period, and the seconds remaining until the next edge.
func evaluatePhase(t, period float64) (on bool, untilEdge float64) {
	phase := math.Mod(t, period) / period
	shifted := math.Mod(phase+flashPhaseShift, 1.0)
	on = shifted < flashOnFraction
	if on {
		untilEdge = (flashOnFraction - shifted) * period
	} else {
		untilEdge = (1.0 - shifted) * period
	}
	return on, untilEdge
}

// On returns the current square-wave value.
func (c *FlashClock) On() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.on
}

// Role returns the current role.
func (c *FlashClock) Role() ClockRole {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// Rate returns the current rate parameter.
func (c *FlashClock) Rate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}

// Enabled reports whether the clock is running.
func (c *FlashClock) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Ticking reports whether a local tick is currently scheduled. Follower and
// disabled clocks never tick.
func (c *FlashClock) Ticking() bool {
	return c.ticker.Pending()
}
