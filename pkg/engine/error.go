package engine

import "errors"

// Error taxonomy surfaced by the engine facade. Callers branch with
// errors.Is; the gateway layer maps these onto its wire status codes.
var (
	// ErrInvalidArgument rejects malformed input; no state was mutated.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound means the referenced order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrNotOwner means the order belongs to a different user.
	ErrNotOwner = errors.New("order not owned by caller")
	// ErrOrderNotLive means the order exists but is already terminal, so it
	// cannot be cancelled again ("already gone" vs "cancelled now").
	ErrOrderNotLive = errors.New("order not in a cancellable state")
	// ErrQueueFull is resource exhaustion on the intake queue; callers may
	// retry with backoff.
	ErrQueueFull = errors.New("intake queue full")
	// ErrInternal covers persistence and invariant failures; the operation
	// was rolled back as a whole.
	ErrInternal = errors.New("internal engine error")
	// ErrStopped is returned once the engine has shut down.
	ErrStopped = errors.New("engine stopped")
)
