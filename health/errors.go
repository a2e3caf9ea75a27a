package health

import "errors"

var (
	// ErrCheckFailed is carried by results whose component reported a
	// problem, such as a cache above its critical entry count.
	ErrCheckFailed = errors.New("health: check failed")

	// ErrCheckTimeout is carried by results of checks still running at the
	// aggregator deadline.
	ErrCheckTimeout = errors.New("health: check timeout")

	// ErrCheckerNotFound is returned by Aggregator.Check for an unknown name.
	ErrCheckerNotFound = errors.New("health: checker not found")
)
