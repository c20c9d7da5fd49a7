// Package powerup manages the lifecycle of player-activated modifiers:
// armed (selected, not yet active) -> active (duration running) -> expired,
// with a per-type cooldown after expiry.
//
// Activation and expiry are reconciled against the activation timestamp
// rather than a decrementing counter, so every consumer of the same event
// log agrees on when an effect was live.
package powerup

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/gavel/internal/domain/model"
	"github.com/okian/gavel/internal/domain/phase"
)

// Rarity grades a power-up type.
type Rarity string

const (
	RarityCommon   Rarity = "common"
	RarityUncommon Rarity = "uncommon"
	RarityRare     Rarity = "rare"
	RarityEpic     Rarity = "epic"
)

// Status is the lifecycle state of a single instance.
type Status string

const (
	StatusArmed   Status = "armed"
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
)

// Spec describes one power-up type.
type Spec struct {
	Type     string
	Rarity   Rarity
	Duration time.Duration
	Cooldown time.Duration
	// Phases is the allow-list of phases the type may be activated in.
	Phases []phase.Phase
	// Boosts maps scorable event types to the multiplicative factor applied
	// while the instance is active.
	Boosts map[model.EventType]float64
	// ExtendBy is a one-shot time-limit extension applied at activation.
	// Types with ExtendBy set typically have zero Duration.
	ExtendBy time.Duration
}

// CompatibleWith reports whether the type may activate in p.
func (s Spec) CompatibleWith(p phase.Phase) bool {
	for _, allowed := range s.Phases {
		if allowed == p {
			return true
		}
	}
	return false
}

// Built-in power-up type names.
const (
	TypeEvidenceBoost   = "evidence_boost"
	TypeSilverTongue    = "silver_tongue"
	TypeObjectionMaster = "objection_master"
	TypeTimeExtension   = "time_extension"
)

// DefaultCatalog returns the built-in power-up types.
func DefaultCatalog() map[string]Spec {
	return map[string]Spec{
		TypeEvidenceBoost: {
			Type:     TypeEvidenceBoost,
			Rarity:   RarityRare,
			Duration: 30 * time.Second,
			Cooldown: 60 * time.Second,
			Phases:   []phase.Phase{phase.EvidencePresentation, phase.WitnessExamination},
			Boosts:   map[model.EventType]float64{model.EventEvidencePresented: 2.0},
		},
		TypeSilverTongue: {
			Type:     TypeSilverTongue,
			Rarity:   RarityEpic,
			Duration: 20 * time.Second,
			Cooldown: 90 * time.Second,
			Phases:   []phase.Phase{phase.OpeningStatements, phase.WitnessExamination, phase.ClosingArguments},
			Boosts:   map[model.EventType]float64{model.EventArgumentSubmitted: 1.5},
		},
		TypeObjectionMaster: {
			Type:     TypeObjectionMaster,
			Rarity:   RarityUncommon,
			Duration: 25 * time.Second,
			Cooldown: 75 * time.Second,
			Phases:   []phase.Phase{phase.EvidencePresentation, phase.WitnessExamination},
			Boosts:   map[model.EventType]float64{model.EventObjectionRaised: 2.0},
		},
		TypeTimeExtension: {
			Type:     TypeTimeExtension,
			Rarity:   RarityCommon,
			Duration: 0,
			Cooldown: 90 * time.Second,
			Phases: []phase.Phase{
				phase.OpeningStatements, phase.EvidencePresentation,
				phase.WitnessExamination, phase.ClosingArguments,
			},
			ExtendBy: 30 * time.Second,
		},
	}
}

// Instance is one activation of a power-up type by one participant.
type Instance struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Rarity      Rarity    `json:"rarity"`
	OwnerID     string    `json:"owner_id"`
	Status      Status    `json:"status"`
	ArmedAt     time.Time `json:"armed_at"`
	ActivatedAt time.Time `json:"activated_at,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// ActiveAt reports whether the instance was live at t, judged purely from
// timestamps so that replays agree.
func (i *Instance) ActiveAt(t time.Time) bool {
	if i.Status == StatusArmed || i.ActivatedAt.IsZero() {
		return false
	}
	return !t.Before(i.ActivatedAt) && t.Before(i.ExpiresAt)
}

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithCatalog replaces the built-in type catalog.
func WithCatalog(catalog map[string]Spec) Option {
	return func(m *Manager) {
		if len(catalog) > 0 {
			m.catalog = catalog
		}
	}
}

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager tracks power-up instances and cooldowns for one session.
type Manager struct {
	mu        sync.Mutex
	catalog   map[string]Spec
	instances []*Instance
	// cooldownUntil is keyed by owner+type; re-activation before the
	// deadline is rejected.
	cooldownUntil map[string]time.Time
	now           func() time.Time
	// onExpire receives the local expired signal; it is not replicated.
	onExpire func(Instance)
}

// NewManager creates a power-up manager with configuration options.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		catalog:       DefaultCatalog(),
		cooldownUntil: make(map[string]time.Time),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnExpire registers the local expiry callback. Expiry is a local signal
// only; peers learn nothing beyond the scoring effect already applied.
func (m *Manager) OnExpire(fn func(Instance)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = fn
}

// Spec returns the catalog entry for a type.
func (m *Manager) Spec(typ string) (Spec, error) {
	spec, ok := m.catalog[typ]
	if !ok {
		return Spec{}, fmt.Errorf("powerup %q: %w", typ, ErrUnknownType)
	}
	return spec, nil
}

func cooldownKey(ownerID, typ string) string {
	return ownerID + "/" + typ
}

// CanActivate checks type, phase compatibility and cooldown without
// changing any state. Used to validate before the activation event is
// appended; the apply side calls Activate.
func (m *Manager) CanActivate(ownerID, typ string, current phase.Phase, at time.Time) error {
	spec, err := m.Spec(typ)
	if err != nil {
		return err
	}
	if !spec.CompatibleWith(current) {
		return fmt.Errorf("powerup %q in phase %s: %w", typ, current, ErrPhaseIncompatible)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if until, ok := m.cooldownUntil[cooldownKey(ownerID, typ)]; ok && at.Before(until) {
		return fmt.Errorf("powerup %q until %s: %w", typ, until.Format(time.RFC3339), ErrOnCooldown)
	}
	return nil
}

// Arm selects a power-up for later activation.
func (m *Manager) Arm(ownerID, typ string) (*Instance, error) {
	spec, err := m.Spec(typ)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	inst := &Instance{
		ID:      uuid.NewString(),
		Type:    spec.Type,
		Rarity:  spec.Rarity,
		OwnerID: ownerID,
		Status:  StatusArmed,
		ArmedAt: m.now(),
	}
	m.instances = append(m.instances, inst)
	return inst, nil
}

// Activate transitions an armed instance to active, or directly creates an
// active instance when none is armed. The current phase must be in the
// type's allow-list and the type must not be cooling down for the owner.
func (m *Manager) Activate(ownerID, typ string, current phase.Phase, at time.Time) (*Instance, error) {
	spec, err := m.Spec(typ)
	if err != nil {
		return nil, err
	}
	if !spec.CompatibleWith(current) {
		return nil, fmt.Errorf("powerup %q in phase %s: %w", typ, current, ErrPhaseIncompatible)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := cooldownKey(ownerID, typ)
	if until, ok := m.cooldownUntil[key]; ok && at.Before(until) {
		return nil, fmt.Errorf("powerup %q until %s: %w", typ, until.Format(time.RFC3339), ErrOnCooldown)
	}

	inst := m.armedLocked(ownerID, typ)
	if inst == nil {
		inst = &Instance{
			ID:      uuid.NewString(),
			Type:    spec.Type,
			Rarity:  spec.Rarity,
			OwnerID: ownerID,
			ArmedAt: at,
		}
		m.instances = append(m.instances, inst)
	}
	inst.Status = StatusActive
	inst.ActivatedAt = at
	inst.ExpiresAt = at.Add(spec.Duration)

	// Cooldown runs from expiry, so zero-duration types still observe it.
	m.cooldownUntil[key] = inst.ExpiresAt.Add(spec.Cooldown)

	return inst, nil
}

// armedLocked finds the owner's armed instance of typ, if any.
func (m *Manager) armedLocked(ownerID, typ string) *Instance {
	for _, inst := range m.instances {
		if inst.OwnerID == ownerID && inst.Type == typ && inst.Status == StatusArmed {
			return inst
		}
	}
	return nil
}

// SweepExpired flips instances past their deadline to expired and fires the
// local signal for each. Returns the newly expired instances.
func (m *Manager) SweepExpired(at time.Time) []Instance {
	m.mu.Lock()
	var expired []Instance
	for _, inst := range m.instances {
		if inst.Status == StatusActive && !at.Before(inst.ExpiresAt) {
			inst.Status = StatusExpired
			expired = append(expired, *inst)
		}
	}
	fn := m.onExpire
	m.mu.Unlock()

	if fn != nil {
		for _, inst := range expired {
			fn(inst)
		}
	}
	return expired
}

// Active returns copies of the instances live at t for an owner.
func (m *Manager) Active(ownerID string, t time.Time) []Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Instance
	for _, inst := range m.instances {
		if inst.OwnerID == ownerID && inst.ActiveAt(t) {
			out = append(out, *inst)
		}
	}
	return out
}

// Factor implements scoring.EffectSource: the product of boosts from the
// owner's instances live at the event's timestamp.
func (m *Manager) Factor(actorID string, t model.EventType, at time.Time) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	factor := 1.0
	for _, inst := range m.instances {
		if inst.OwnerID != actorID || !inst.ActiveAt(at) {
			continue
		}
		spec, ok := m.catalog[inst.Type]
		if !ok {
			continue
		}
		if boost, ok := spec.Boosts[t]; ok {
			factor *= boost
		}
	}
	return factor
}

// CancelOwned expires every armed or active instance for an owner. Used when
// a client leaves a session; peers are untouched. The expiry timestamp is
// clamped so ActiveAt stops reporting the instance live.
func (m *Manager) CancelOwned(ownerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, inst := range m.instances {
		if inst.OwnerID != ownerID || inst.Status == StatusExpired {
			continue
		}
		if inst.Status == StatusActive && inst.ExpiresAt.After(now) {
			inst.ExpiresAt = now
		}
		inst.Status = StatusExpired
	}
}
