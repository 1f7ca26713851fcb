package tle

import "errors"

var (
	// ErrDataUnavailable is returned when a satellite has no stored element sets.
	ErrDataUnavailable = errors.New("no element data for satellite")

	// ErrFetchTimeout is returned when a source did not answer within the fetch deadline.
	ErrFetchTimeout = errors.New("source fetch timed out")

	// ErrCorruptState marks unreadable persisted state (registry file, working directory).
	ErrCorruptState = errors.New("persisted state unusable")
)
