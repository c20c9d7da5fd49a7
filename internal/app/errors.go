package app

import "errors"

// Sentinel kinds for app errors.
var (
	// ErrJudgmentBusy marks a full jury request queue; the advance that
	// triggered it fails and can be retried by the judge.
	ErrJudgmentBusy = errors.New("judgment queue full")
)
