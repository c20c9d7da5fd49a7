package powerup

import "errors"

// Sentinel kinds for power-up errors.
var (
	ErrUnknownType       = errors.New("unknown powerup type")
	ErrOnCooldown        = errors.New("powerup on cooldown")
	ErrPhaseIncompatible = errors.New("powerup not allowed in current phase")
)
