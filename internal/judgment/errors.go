package judgment

import "errors"

// Sentinel kinds for judgment errors.
var (
	// ErrTimeout marks a judgment request that exceeded its deadline. It is
	// surfaced to the judge as a retryable condition and never auto-retried.
	ErrTimeout = errors.New("judgment service timeout")
)
