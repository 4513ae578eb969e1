package mute

import "time"

// TimeSource supplies the two readings the flash clock needs: a wall-clock
// epoch second and an independent monotonic reading. Split out as an
// interface so clock tests can drive time deterministically.
type TimeSource interface {
	EpochSeconds() int64
	Monotonic() time.Duration
}

type systemTimeSource struct {
	start time.Time
}

// NewSystemTimeSource returns a TimeSource backed by the real clocks.
func NewSystemTimeSource() TimeSource {
	return &systemTimeSource{start: time.Now()}
}

func (s *systemTimeSource) EpochSeconds() int64 {
	return time.Now().Unix()
}

func (s *systemTimeSource) Monotonic() time.Duration {
	return time.Since(s.start)
}
