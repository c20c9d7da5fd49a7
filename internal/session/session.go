package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/gavel/internal/domain/model"
	"github.com/okian/gavel/internal/domain/phase"
	"github.com/okian/gavel/internal/domain/powerup"
	"github.com/okian/gavel/internal/domain/scoring"
	"github.com/okian/gavel/pkg/logger"
)

// Participant is one player in a session. Connection state flips with the
// transport; the record itself is never deleted mid-session.
type Participant struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Role      model.Role `json:"role"`
	Connected bool       `json:"connected"`
	JoinOrder int        `json:"join_order"`
	JoinedAt  time.Time  `json:"joined_at"`
}

// Config fixes a session's rules at creation time.
type Config struct {
	// PhaseLimits maps each phase to its time limit. Immutable for the
	// session's lifetime; the time_extension power-up stretches the live
	// countdown, not this table.
	PhaseLimits map[phase.Phase]time.Duration
}

// Session owns all state for one trial: the log (sole source of truth),
// its replicator, the phase controller, the countdown clock, the power-up
// manager, and the score view derived by folding the log.
type Session struct {
	ID       string
	RoomCode string
	HostID   string

	log        *Log
	bus        *Bus
	clock      *Clock
	controller *Controller
	powerups   *powerup.Manager
	engine     *scoring.Engine

	mu           sync.RWMutex
	participants map[string]*Participant
	byRole       map[model.Role]string
	scores       map[string]scoring.ScoreState
	completed    bool

	applyCancel context.CancelFunc
	onComplete  func(id string)
	logger      logger.Logger

	busOpts     []BusOption
	scoringOpts []scoring.Option
}

// SessionOption applies a configuration option to the Session.
type SessionOption func(*Session)

// WithJudgment sets the judgment service used when leaving
// closing_arguments.
func WithJudgment(j JudgmentRequester) SessionOption {
	return func(s *Session) { s.controller.judgment = j }
}

// WithPowerupManager replaces the power-up manager (custom catalogs, test
// clocks).
func WithPowerupManager(m *powerup.Manager) SessionOption {
	return func(s *Session) {
		if m != nil {
			s.powerups = m
		}
	}
}

// WithScoringEngine replaces the scoring engine.
func WithScoringEngine(e *scoring.Engine) SessionOption {
	return func(s *Session) {
		if e != nil {
			s.engine = e
		}
	}
}

// WithScoringOptions builds the session's engine with the given options.
// Ignored when WithScoringEngine supplies a prebuilt engine.
func WithScoringOptions(opts ...scoring.Option) SessionOption {
	return func(s *Session) { s.scoringOpts = append(s.scoringOpts, opts...) }
}

// WithBusOptions forwards options to the session's replicator.
func WithBusOptions(opts ...BusOption) SessionOption {
	return func(s *Session) { s.busOpts = append(s.busOpts, opts...) }
}

// WithOnComplete registers the registry teardown hook.
func WithOnComplete(fn func(id string)) SessionOption {
	return func(s *Session) { s.onComplete = fn }
}

// New creates a session and starts its clock and apply loops.
func New(ctx context.Context, roomCode string, cfg Config, judgment JudgmentRequester, opts ...SessionOption) *Session {
	id := uuid.NewString()
	s := &Session{
		ID:           id,
		RoomCode:     roomCode,
		participants: make(map[string]*Participant),
		byRole:       make(map[model.Role]string),
		scores:       make(map[string]scoring.ScoreState),
		logger:       logger.Named("session"),
	}

	s.log = NewLog(id, WithNotify(func(ev model.ActionEvent) { s.bus.Publish(ev) }))
	s.controller = NewController(s.log, cfg.PhaseLimits, judgment)
	s.powerups = powerup.NewManager()

	for _, opt := range opts {
		opt(s)
	}

	// The bus and engine are built after the options so buffer and scoring
	// knobs land. The notify hook above closes over s.bus, so appending
	// before this point would be a bug; nothing appends until New returns.
	s.bus = NewBus(s.log, s.busOpts...)
	if s.engine == nil {
		s.engine = scoring.NewEngine(s.scoringOpts...)
	}
	// The effect source has to be the session's manager, whichever one the
	// options left in place.
	s.engine.SetEffectSource(s.powerups)

	s.clock = NewClock(s.expire, WithOnTick(func(now time.Time) {
		s.powerups.SweepExpired(now)
	}))

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.applyCancel = cancel

	cur, startedAt := s.log.CurrentPhase()
	s.clock.Rearm(cur, startedAt, s.controller.Limit(cur))

	go s.clock.Run(loopCtx)
	go s.applyLoop(loopCtx)

	return s
}

// expire is the clock's zero callback: a system-actor advance. Losing the
// race to a judge's manual advance is expected and absorbed.
func (s *Session) expire(ctx context.Context) {
	if _, err := s.controller.RequestAdvance(ctx, model.RoleSystem); err != nil {
		if errors.Is(err, ErrStaleAction) || errors.Is(err, ErrSessionClosed) || errors.Is(err, ErrAwaitingVerdict) {
			return
		}
		s.logger.Warn(ctx, "timer advance failed",
			logger.String("session_id", s.ID), logger.Error(err))
	}
}

// applyLoop is the session's single logical event queue: every event is
// folded into derived state here and nowhere else, so scoring and clock
// mutations never interleave. A seq skip in the stream is a replication
// gap; recovery is a backlog re-fetch from the last applied seq.
func (s *Session) applyLoop(ctx context.Context) {
	var applied uint64
	for {
		stream, cancel := s.bus.Subscribe(ctx, applied)
		done := s.drain(ctx, stream, &applied)
		cancel()
		if done {
			return
		}
	}
}

// drain folds one subscription until it ends. Returns true when the loop
// should exit and false when a resubscribe from the applied checkpoint is
// warranted (gap observed or stream cut before completion).
func (s *Session) drain(ctx context.Context, stream <-chan model.ActionEvent, applied *uint64) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case ev, ok := <-stream:
			if !ok {
				return s.Completed() || ctx.Err() != nil
			}
			switch {
			case ev.Seq <= *applied:
				// Redelivery; already folded.
				continue
			case ev.Seq > *applied+1:
				s.logger.Warn(ctx, "event stream gap; refetching backlog",
					logger.String("session_id", s.ID),
					logger.Uint64("applied", *applied),
					logger.Uint64("received", ev.Seq),
					logger.Error(ErrReplicationGap))
				return false
			}
			*applied = ev.Seq
			s.apply(ctx, ev)
		}
	}
}

func (s *Session) apply(ctx context.Context, ev model.ActionEvent) {
	switch ev.Type {
	case model.EventPhaseAdvanced:
		to := phase.Phase(ev.Payload[model.PayloadTo])
		limit := s.controller.Limit(to)
		if secs, err := strconv.Atoi(ev.Payload[model.PayloadTimeLimit]); err == nil && secs > 0 {
			limit = time.Duration(secs) * time.Second
		}
		s.clock.Rearm(to, ev.ServerTime, limit)

	case model.EventPowerupActivated:
		typ := ev.Payload[model.PayloadPowerup]
		cur := phase.Phase(ev.Phase)
		if _, err := s.powerups.Activate(ev.ActorID, typ, cur, ev.ServerTime); err != nil {
			// The pre-append check passed; a failure here means redelivery
			// (cooldown already recorded) and is fine to skip.
			s.logger.Debug(ctx, "powerup re-apply skipped",
				logger.String("type", typ), logger.Error(err))
		} else if spec, err := s.powerups.Spec(typ); err == nil && spec.ExtendBy > 0 {
			s.clock.Extend(spec.ExtendBy)
		}

	case model.EventVerdictRecorded:
		s.clock.Disarm()
		s.mu.Lock()
		s.completed = true
		s.mu.Unlock()
		if s.onComplete != nil {
			s.onComplete(s.ID)
		}
	}

	if ev.ActorID != "" {
		s.mu.Lock()
		st, ok := s.scores[ev.ActorID]
		if !ok {
			st = scoring.NewScoreState()
		}
		s.scores[ev.ActorID] = s.engine.Apply(st, ev)
		s.mu.Unlock()
	}
}

// Join adds a participant. Each of judge/prosecutor/defense may be held by
// at most one participant per session.
func (s *Session) Join(name string, role model.Role) (*Participant, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("join as %q: %w", role, ErrUnknownRole)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed {
		return nil, fmt.Errorf("join: %w", ErrSessionClosed)
	}
	if _, taken := s.byRole[role]; taken {
		return nil, fmt.Errorf("join as %s: %w", role, ErrRoleTaken)
	}
	p := &Participant{
		ID:        uuid.NewString(),
		Name:      name,
		Role:      role,
		Connected: true,
		JoinOrder: len(s.participants),
		JoinedAt:  time.Now(),
	}
	s.participants[p.ID] = p
	s.byRole[role] = p.ID
	s.scores[p.ID] = scoring.NewScoreState()
	if s.HostID == "" {
		s.HostID = p.ID
	}
	return p, nil
}

// SetConnected flips a participant's connection state (heartbeat or
// transport attach/detach).
func (s *Session) SetConnected(participantID string, connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.participants[participantID]; ok {
		p.Connected = connected
	}
}

// Leave disconnects a participant and cancels their local timers only.
// Returns true when nobody is left connected and the session should be
// torn down.
func (s *Session) Leave(participantID string) bool {
	s.SetConnected(participantID, false)
	s.powerups.CancelOwned(participantID)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.participants {
		if p.Connected {
			return false
		}
	}
	return true
}

// participant resolves a participant or fails.
func (s *Session) participant(id string) (*Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[id]
	if !ok {
		return nil, fmt.Errorf("participant %s: %w", id, ErrForbidden)
	}
	return p, nil
}

// SubmitAction appends a participant action. The claimed phase is the
// actor's optimistic view; the log rejects it when stale.
func (s *Session) SubmitAction(ctx context.Context, participantID string, t model.EventType, claimed phase.Phase, payload map[string]string) (model.ActionEvent, error) {
	p, err := s.participant(participantID)
	if err != nil {
		return model.ActionEvent{}, err
	}
	switch t {
	case model.EventArgumentSubmitted, model.EventEvidencePresented, model.EventObjectionRaised:
	default:
		// Phase changes and verdicts have dedicated entry points.
		return model.ActionEvent{}, fmt.Errorf("submit %s: %w", t, ErrForbidden)
	}
	if claimed == "" {
		claimed, _ = s.log.CurrentPhase()
	}
	return s.log.Append(ctx, model.ActionEvent{
		ActorID:   p.ID,
		ActorRole: p.Role,
		Type:      t,
		Phase:     claimed.String(),
		Payload:   payload,
	})
}

// Advance is the judge's manual phase advance.
func (s *Session) Advance(ctx context.Context, participantID string) (model.ActionEvent, error) {
	p, err := s.participant(participantID)
	if err != nil {
		return model.ActionEvent{}, err
	}
	return s.controller.RequestAdvance(ctx, p.Role)
}

// ArmPowerup pre-selects a power-up for a later activation. Arming spends
// nothing and starts nothing; the activation that follows transitions the
// armed instance in place.
func (s *Session) ArmPowerup(participantID, typ string) (powerup.Instance, error) {
	p, err := s.participant(participantID)
	if err != nil {
		return powerup.Instance{}, err
	}
	inst, err := s.powerups.Arm(p.ID, typ)
	if err != nil {
		return powerup.Instance{}, err
	}
	return *inst, nil
}

// ActivatePowerup validates charge, phase compatibility and cooldown, then
// appends the activation event. The actual state change happens in the
// apply loop so a replayed log reproduces it.
func (s *Session) ActivatePowerup(ctx context.Context, participantID, typ string) (model.ActionEvent, error) {
	p, err := s.participant(participantID)
	if err != nil {
		return model.ActionEvent{}, err
	}

	s.mu.RLock()
	st := s.scores[p.ID]
	s.mu.RUnlock()
	if !s.engine.ChargeFull(st) {
		return model.ActionEvent{}, fmt.Errorf("activate %s: %w", typ, ErrNotCharged)
	}

	cur, _ := s.log.CurrentPhase()
	if err := s.powerups.CanActivate(p.ID, typ, cur, time.Now()); err != nil {
		return model.ActionEvent{}, err
	}

	return s.log.Append(ctx, model.ActionEvent{
		ActorID:   p.ID,
		ActorRole: p.Role,
		Type:      model.EventPowerupActivated,
		Phase:     cur.String(),
		Payload:   map[string]string{model.PayloadPowerup: typ},
	})
}

// RecordVerdict applies the judgment service's asynchronous response.
func (s *Session) RecordVerdict(ctx context.Context, v model.Verdict) (model.ActionEvent, error) {
	return s.controller.RecordVerdict(ctx, v)
}

// Subscribe exposes the replicated event stream from a checkpoint.
func (s *Session) Subscribe(ctx context.Context, fromSeq uint64) (<-chan model.ActionEvent, func()) {
	return s.bus.Subscribe(ctx, fromSeq)
}

// EventsSince returns the backlog after fromSeq.
func (s *Session) EventsSince(fromSeq uint64) []model.ActionEvent {
	return s.log.EventsSince(fromSeq)
}

// State is the read model handed to clients.
type State struct {
	ID             string                        `json:"id"`
	RoomCode       string                        `json:"room_code"`
	HostID         string                        `json:"host_id"`
	Phase          string                        `json:"phase"`
	PhaseStartedAt time.Time                     `json:"phase_started_at"`
	TimeRemainingS int                           `json:"time_remaining_s"`
	LastSeq        uint64                        `json:"last_seq"`
	Completed      bool                          `json:"completed"`
	Participants   []Participant                 `json:"participants"`
	Scores         map[string]scoring.ScoreState `json:"scores"`
}

// State snapshots the session for the read API.
func (s *Session) State() State {
	cur, startedAt := s.log.CurrentPhase()

	s.mu.RLock()
	defer s.mu.RUnlock()

	parts := make([]Participant, 0, len(s.participants))
	for _, p := range s.participants {
		parts = append(parts, *p)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].JoinOrder < parts[j].JoinOrder })

	scores := make(map[string]scoring.ScoreState, len(s.scores))
	for id, st := range s.scores {
		scores[id] = st
	}

	return State{
		ID:             s.ID,
		RoomCode:       s.RoomCode,
		HostID:         s.HostID,
		Phase:          cur.String(),
		PhaseStartedAt: startedAt,
		TimeRemainingS: int(s.clock.Remaining() / time.Second),
		LastSeq:        s.log.LastSeq(),
		Completed:      s.completed,
		Participants:   parts,
		Scores:         scores,
	}
}

// Standing is one row of the session ranking.
type Standing struct {
	Rank   int        `json:"rank"`
	ID     string     `json:"participant_id"`
	Name   string     `json:"name"`
	Role   model.Role `json:"role"`
	Score  float64    `json:"score"`
	Combo  float64    `json:"combo_multiplier"`
	Charge float64    `json:"powerup_charge"`
}

// Standings ranks participants by score, ties broken by join order.
func (s *Session) Standings() []Standing {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Standing, 0, len(s.participants))
	for _, p := range s.participants {
		st := s.scores[p.ID]
		out = append(out, Standing{
			ID: p.ID, Name: p.Name, Role: p.Role,
			Score: st.Score, Combo: st.Combo, Charge: st.Charge,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return s.participants[out[i].ID].JoinOrder < s.participants[out[j].ID].JoinOrder
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// Completed reports whether a verdict has been recorded.
func (s *Session) Completed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.completed
}

// Close stops the clock and apply loops and terminates open streams.
func (s *Session) Close() {
	s.clock.Stop()
	if s.applyCancel != nil {
		s.applyCancel()
	}
	s.bus.CloseAll()
}
