// Package session implements the trial session engine: the append-only
// action log, its replicator, the phase controller, and the reconciled
// countdown clock.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/gavel/internal/domain/model"
	"github.com/okian/gavel/internal/domain/phase"
	"github.com/okian/gavel/pkg/metrics"
)

// Log is the append-only, totally ordered record of everything that
// happened in one session. It also owns the current-phase pointer: phase
// checks and phase changes happen under the same lock, which is what makes
// the concurrent-advance race resolve to exactly one winner.
type Log struct {
	mu        sync.Mutex
	sessionID string
	events    []model.ActionEvent
	byID      map[string]uint64
	seq       uint64

	current        phase.Phase
	phaseStartedAt time.Time
	closed         bool

	notify func(model.ActionEvent)
	now    func() time.Time
}

// LogOption applies a configuration option to the Log.
type LogOption func(*Log)

// WithNotify registers the replicator hook called, in order, for every
// accepted event.
func WithNotify(fn func(model.ActionEvent)) LogOption {
	return func(l *Log) { l.notify = fn }
}

// WithLogClock overrides the time source, mainly for tests.
func WithLogClock(now func() time.Time) LogOption {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLog creates a log for one session starting at the first phase.
func NewLog(sessionID string, opts ...LogOption) *Log {
	l := &Log{
		sessionID: sessionID,
		byID:      make(map[string]uint64),
		current:   phase.OpeningStatements,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.phaseStartedAt = l.now()
	return l
}

// Append validates ev against the current phase, assigns seq, id and server
// timestamp, and records it. Once appended an event is immutable and its
// order never changes.
//
// Rules:
//   - a completed session rejects everything with ErrSessionClosed;
//   - phase_advanced is the only type allowed to change phase: its "from"
//     must match the current phase and its "to" must be the legal successor,
//     otherwise ErrStaleAction;
//   - verdict_recorded is permitted only from deliberation and completes the
//     session;
//   - every other type must carry the current phase as its
//     phase-at-emission, otherwise ErrStaleAction.
func (l *Log) Append(ctx context.Context, ev model.ActionEvent) (model.ActionEvent, error) {
	if err := ctx.Err(); err != nil {
		return model.ActionEvent{}, fmt.Errorf("append: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return model.ActionEvent{}, fmt.Errorf("append %s: %w", ev.Type, ErrSessionClosed)
	}

	// Replays of an already-recorded event id are acknowledged, not
	// re-applied.
	if ev.ID != "" {
		if seq, ok := l.byID[ev.ID]; ok {
			metrics.RecordDuplicateEvent()
			return l.events[seq-1], nil
		}
	}

	switch ev.Type {
	case model.EventPhaseAdvanced:
		from := phase.Phase(ev.Payload[model.PayloadFrom])
		to := phase.Phase(ev.Payload[model.PayloadTo])
		if from != l.current || !l.current.CanTransitionTo(to) {
			metrics.RecordStaleEvent()
			return model.ActionEvent{}, fmt.Errorf("advance %s->%s while in %s: %w", from, to, l.current, ErrStaleAction)
		}
		l.current = to
		l.phaseStartedAt = l.now()
	case model.EventVerdictRecorded:
		if l.current != phase.Deliberation {
			metrics.RecordStaleEvent()
			return model.ActionEvent{}, fmt.Errorf("verdict while in %s: %w", l.current, ErrStaleAction)
		}
		l.current = phase.Verdict
		l.phaseStartedAt = l.now()
		l.closed = true
	default:
		if phase.Phase(ev.Phase) != l.current {
			metrics.RecordStaleEvent()
			return model.ActionEvent{}, fmt.Errorf("%s emitted in %s, session in %s: %w", ev.Type, ev.Phase, l.current, ErrStaleAction)
		}
	}

	l.seq++
	ev.Seq = l.seq
	ev.SessionID = l.sessionID
	ev.Phase = l.current.String()
	ev.ServerTime = l.now()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	l.events = append(l.events, ev)
	l.byID[ev.ID] = ev.Seq
	metrics.RecordEventAppended(string(ev.Type))

	if l.notify != nil {
		l.notify(ev)
	}
	return ev, nil
}

// EventsSince returns copies of all events with seq greater than fromSeq.
func (l *Log) EventsSince(fromSeq uint64) []model.ActionEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	if fromSeq >= l.seq {
		return nil
	}
	out := make([]model.ActionEvent, l.seq-fromSeq)
	copy(out, l.events[fromSeq:])
	return out
}

// Snapshot returns a copy of the full log.
func (l *Log) Snapshot() []model.ActionEvent {
	return l.EventsSince(0)
}

// CurrentPhase returns the phase pointer and when it started.
func (l *Log) CurrentPhase() (phase.Phase, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return phase.Completed, l.phaseStartedAt
	}
	return l.current, l.phaseStartedAt
}

// LastSeq returns the seq of the most recent event, 0 when empty.
func (l *Log) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Completed reports whether a verdict has been recorded.
func (l *Log) Completed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
