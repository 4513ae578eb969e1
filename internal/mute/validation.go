package mute

import "errors"

// Validation errors
var (
	ErrInvalidFlashRate    = errors.New("invalid flash rate")
	ErrInvalidGroupCount   = errors.New("invalid group count")
	ErrInvalidZoneCount    = errors.New("invalid zone count")
	ErrInvalidInstanceName = errors.New("invalid instance name")
	ErrInvalidListenAddr   = errors.New("invalid listen address")
	ErrUnknownControl      = errors.New("unknown control")
)

// ValidateFlashRate validates the 1-100 flash rate parameter.
func ValidateFlashRate(rate int) error {
	if rate < MinFlashRate || rate > MaxFlashRate {
		return ErrInvalidFlashRate
	}
	return nil
}

// ValidateGroupCount validates the configured group count.
func ValidateGroupCount(n int) error {
	if n < 1 || n > MaxGroups {
		return ErrInvalidGroupCount
	}
	return nil
}

// ValidateZoneCount validates the configured zones-per-group count.
func ValidateZoneCount(n int) error {
	if n < 1 || n > MaxZonesPerGroup {
		return ErrInvalidZoneCount
	}
	return nil
}

// ValidateInstanceName validates the mDNS instance name.
func ValidateInstanceName(name string) error {
	if name == "" || len(name) > 63 {
		return ErrInvalidInstanceName
	}
	return nil
}
