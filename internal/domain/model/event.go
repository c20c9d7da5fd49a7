// Package model contains domain models passed between layers.
package model

import "time"

// Role identifies who performed an action within a session.
type Role string

const (
	RoleJudge      Role = "judge"
	RoleProsecutor Role = "prosecutor"
	RoleDefense    Role = "defense"
	// RoleSystem is reserved for engine-originated events such as
	// timer-driven phase advances.
	RoleSystem Role = "system"
)

// PlayerRoles lists the roles a participant may hold. Each is held by at
// most one participant per session; RoleSystem is never assignable.
var PlayerRoles = []Role{RoleJudge, RoleProsecutor, RoleDefense}

// Valid reports whether r is an assignable participant role.
func (r Role) Valid() bool {
	for _, pr := range PlayerRoles {
		if r == pr {
			return true
		}
	}
	return false
}

// EventType is the closed set of action event kinds.
type EventType string

const (
	EventArgumentSubmitted EventType = "argument_submitted"
	EventEvidencePresented EventType = "evidence_presented"
	EventObjectionRaised   EventType = "objection_raised"
	EventPhaseAdvanced     EventType = "phase_advanced"
	EventPowerupActivated  EventType = "powerup_activated"
	EventVerdictRecorded   EventType = "verdict_recorded"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventArgumentSubmitted, EventEvidencePresented, EventObjectionRaised,
		EventPhaseAdvanced, EventPowerupActivated, EventVerdictRecorded:
		return true
	}
	return false
}

// ActionEvent is an immutable record of something a participant or the
// engine did. Events are totally ordered per session by Seq, assigned by
// the action log at append time.
type ActionEvent struct {
	ID        string            `json:"id"`
	Seq       uint64            `json:"seq"`
	SessionID string            `json:"session_id"`
	ActorID   string            `json:"actor_id,omitempty"`
	ActorRole Role              `json:"actor_role"`
	Type      EventType         `json:"type"`
	Payload   map[string]string `json:"payload,omitempty"`
	// Phase holds the session phase as seen by the emitter; the log rejects
	// events whose view is stale.
	Phase      string    `json:"phase_at_emission"`
	ServerTime time.Time `json:"server_timestamp"`
}

// Payload keys shared between producers and consumers.
const (
	PayloadFrom      = "from"
	PayloadTo        = "to"
	PayloadTimeLimit = "time_limit_s"
	PayloadStrength  = "strength"
	PayloadText      = "text"
	PayloadOutcome   = "outcome"
	PayloadPowerup   = "powerup_type"
	PayloadVerdict   = "verdict_label"
	PayloadReasoning = "reasoning_text"
)

// Objection outcomes carried in PayloadOutcome.
const (
	OutcomeSustained = "sustained"
	OutcomeOverruled = "overruled"
)

// Verdict is the judgment service's decision as delivered in a
// verdict_recorded event.
type Verdict struct {
	Label     string           `json:"verdict_label"`
	Reasoning string           `json:"reasoning_text"`
	Scores    map[Role]float64 `json:"per_role_scores"`
}
