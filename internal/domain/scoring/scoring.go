// Package scoring folds action events into per-participant score state.
//
// The engine is a pure function of (prior state, event): replaying the same
// log from an empty state always produces the same result, and the per-event
// seq watermark makes redelivery a no-op.
package scoring

import (
	"math"
	"time"

	"github.com/okian/gavel/internal/domain/model"
)

// Default scoring configuration constants.
const (
	defaultComboFloor   = 1.0
	defaultComboCeiling = 3.0
	defaultComboWindow  = 30 * time.Second
	defaultChargeFull   = 100.0
	chargeDivisor       = 10.0
)

// Default base point values per scorable event shape.
const (
	defaultArgumentPoints       = 50.0
	defaultStrongArgumentPoints = 100.0
	defaultEvidencePoints       = 80.0
	defaultObjectionPoints      = 60.0
)

// Default combo steps per scorable event shape.
const (
	defaultArgumentStep  = 0.2
	defaultEvidenceStep  = 0.15
	defaultObjectionStep = 0.1
)

// ScoreState is the materialized view of one participant's standing. It is
// rebuilt by replaying the action log; it is never persisted on its own.
type ScoreState struct {
	Score     float64 `json:"score"`
	Combo     float64 `json:"combo_multiplier"`
	Charge    float64 `json:"powerup_charge"`
	Unlocked  int     `json:"powerups_unlocked"`
	Watermark uint64  `json:"watermark"`
	// LastScorableAt bounds the recency window for combo growth.
	LastScorableAt time.Time `json:"last_scorable_at,omitempty"`
}

// NewScoreState returns the empty state every replay starts from.
func NewScoreState() ScoreState {
	return ScoreState{Combo: defaultComboFloor}
}

// EffectSource reports the multiplicative boost contributed by the actor's
// active power-ups for an event of the given type at the given time. A source
// returning 1.0 for everything is the neutral case.
type EffectSource interface {
	Factor(actorID string, t model.EventType, at time.Time) float64
}

// noEffects is the neutral EffectSource.
type noEffects struct{}

func (noEffects) Factor(string, model.EventType, time.Time) float64 { return 1.0 }

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithBasePoints overrides the base point table. Keys are event-shape labels
// as produced by shapeOf.
func WithBasePoints(points map[string]float64) Option {
	return func(e *Engine) {
		for shape, p := range points {
			if p >= 0 {
				e.basePoints[shape] = p
			}
		}
	}
}

// WithComboSteps overrides the per-shape combo increments.
func WithComboSteps(steps map[string]float64) Option {
	return func(e *Engine) {
		for shape, s := range steps {
			if s >= 0 {
				e.comboSteps[shape] = s
			}
		}
	}
}

// WithComboBounds sets the multiplier floor and ceiling.
func WithComboBounds(floor, ceiling float64) Option {
	return func(e *Engine) {
		if floor >= 1.0 && ceiling > floor {
			e.comboFloor = floor
			e.comboCeiling = ceiling
		}
	}
}

// WithComboWindow sets the recency window for combo growth.
func WithComboWindow(w time.Duration) Option {
	return func(e *Engine) {
		if w > 0 {
			e.comboWindow = w
		}
	}
}

// WithEffectSource wires active power-up effects into scoring.
func WithEffectSource(src EffectSource) Option {
	return func(e *Engine) {
		if src != nil {
			e.effects = src
		}
	}
}

// Engine computes score state transitions.
type Engine struct {
	basePoints   map[string]float64
	comboSteps   map[string]float64
	comboFloor   float64
	comboCeiling float64
	comboWindow  time.Duration
	chargeFull   float64
	effects      EffectSource
}

// NewEngine creates a scoring engine with configuration options.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		basePoints: map[string]float64{
			shapeArgument:       defaultArgumentPoints,
			shapeStrongArgument: defaultStrongArgumentPoints,
			shapeEvidence:       defaultEvidencePoints,
			shapeObjection:      defaultObjectionPoints,
		},
		comboSteps: map[string]float64{
			shapeArgument:       defaultArgumentStep,
			shapeStrongArgument: defaultArgumentStep,
			shapeEvidence:       defaultEvidenceStep,
			shapeObjection:      defaultObjectionStep,
		},
		comboFloor:   defaultComboFloor,
		comboCeiling: defaultComboCeiling,
		comboWindow:  defaultComboWindow,
		chargeFull:   defaultChargeFull,
		effects:      noEffects{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Event-shape labels: the scorable identity of an event, derived from its
// type plus the payload fields that change its value.
const (
	shapeArgument       = "argument"
	shapeStrongArgument = "strong_argument"
	shapeEvidence       = "evidence"
	shapeObjection      = "objection_sustained"
)

// shapeOf maps an event to its scorable shape. The second return is false
// for events that carry no points.
func shapeOf(ev model.ActionEvent) (string, bool) {
	switch ev.Type {
	case model.EventArgumentSubmitted:
		if ev.Payload[model.PayloadStrength] == "strong" {
			return shapeStrongArgument, true
		}
		return shapeArgument, true
	case model.EventEvidencePresented:
		return shapeEvidence, true
	case model.EventObjectionRaised:
		if ev.Payload[model.PayloadOutcome] == model.OutcomeOverruled {
			return "", false
		}
		return shapeObjection, true
	}
	return "", false
}

// Apply folds one event into state and returns the new state. Events at or
// below the watermark are returned unchanged; this is the idempotence
// guarantee under at-least-once delivery.
func (e *Engine) Apply(state ScoreState, ev model.ActionEvent) ScoreState {
	if ev.Seq <= state.Watermark {
		return state
	}
	next := state
	next.Watermark = ev.Seq

	// An overruled objection is the qualifying failure: the combo resets.
	if ev.Type == model.EventObjectionRaised && ev.Payload[model.PayloadOutcome] == model.OutcomeOverruled {
		next.Combo = e.comboFloor
		next.LastScorableAt = ev.ServerTime
		return next
	}

	// Activating a power-up spends the accumulated charge.
	if ev.Type == model.EventPowerupActivated {
		if next.Charge >= e.chargeFull {
			next.Charge = 0
		}
		return next
	}

	shape, scorable := shapeOf(ev)
	if !scorable {
		return next
	}

	// Outside the recency window the streak is over; start from the floor.
	if !state.LastScorableAt.IsZero() && ev.ServerTime.Sub(state.LastScorableAt) > e.comboWindow {
		next.Combo = e.comboFloor
	}

	// Points use the multiplier as it stood before this event's own step.
	boost := e.effects.Factor(ev.ActorID, ev.Type, ev.ServerTime)
	points := e.basePoints[shape] * next.Combo * boost
	next.Score += points
	next.Charge = math.Min(e.chargeFull, next.Charge+points/chargeDivisor)
	// Hitting a full charge unlocks one power-up choice; it does not
	// auto-activate anything.
	if state.Charge < e.chargeFull && next.Charge >= e.chargeFull {
		next.Unlocked++
	}
	next.Combo = math.Min(e.comboCeiling, next.Combo+e.comboSteps[shape])
	next.LastScorableAt = ev.ServerTime

	return next
}

// SetEffectSource replaces the effect source after construction; the
// session wires its own power-up manager in here.
func (e *Engine) SetEffectSource(src EffectSource) {
	if src != nil {
		e.effects = src
	}
}

// ChargeFull reports whether state has banked enough charge to arm a
// power-up.
func (e *Engine) ChargeFull(state ScoreState) bool {
	return state.Charge >= e.chargeFull
}

// Replay folds an ordered event slice into per-actor states starting from
// empty. Running it twice over the same log yields identical results.
func (e *Engine) Replay(events []model.ActionEvent) map[string]ScoreState {
	states := make(map[string]ScoreState)
	for _, ev := range events {
		if ev.ActorID == "" {
			continue
		}
		st, ok := states[ev.ActorID]
		if !ok {
			st = NewScoreState()
		}
		states[ev.ActorID] = e.Apply(st, ev)
	}
	return states
}
