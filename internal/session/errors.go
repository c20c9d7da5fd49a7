package session

import "errors"

// Sentinel kinds for session errors.
var (
	// ErrForbidden marks an action the actor's role is not allowed to take.
	ErrForbidden = errors.New("role not permitted")
	// ErrStaleAction marks an append that lost a race to an equivalent
	// event; callers absorb it as a no-op.
	ErrStaleAction = errors.New("stale action")
	// ErrSessionClosed marks any action attempted after completion.
	ErrSessionClosed = errors.New("session closed")
	// ErrReplicationGap marks a missing seq in a consumer's stream; the
	// consumer re-fetches the backlog from its last checkpoint.
	ErrReplicationGap = errors.New("replication gap")
	// ErrSessionNotFound marks a lookup for a session id or room code that
	// is not open.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRoleTaken marks a join for a role someone already holds.
	ErrRoleTaken = errors.New("role already taken")
	// ErrUnknownRole marks a join with a role outside the assignable set.
	ErrUnknownRole = errors.New("unknown role")
	// ErrNotCharged marks a power-up activation without a full charge.
	ErrNotCharged = errors.New("powerup charge not full")
	// ErrAwaitingVerdict marks an advance out of deliberation, which only
	// the verdict may exit.
	ErrAwaitingVerdict = errors.New("awaiting verdict")
)
