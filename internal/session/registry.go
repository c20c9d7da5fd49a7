package session

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/okian/gavel/internal/domain/phase"
	"github.com/okian/gavel/pkg/metrics"
)

// Default registry configuration constants.
const (
	roomCodeLength  = 5
	roomCodeCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// Registry tracks every open session, addressable by id or room code.
// There is no process-wide session singleton; each Session owns its own
// state and the registry only routes to it.
type Registry struct {
	mu       sync.RWMutex
	byID     map[string]*Session
	byCode   map[string]string
	defaults Config
	judgment JudgmentRequester
	opts     []SessionOption
	rng      *rand.Rand
}

// RegistryOption applies a configuration option to the Registry.
type RegistryOption func(*Registry)

// WithDefaultConfig sets the config used when a create request omits
// limits.
func WithDefaultConfig(cfg Config) RegistryOption {
	return func(r *Registry) { r.defaults = cfg }
}

// WithSessionOptions forwards options to every created session.
func WithSessionOptions(opts ...SessionOption) RegistryOption {
	return func(r *Registry) { r.opts = append(r.opts, opts...) }
}

// NewRegistry creates a session registry.
func NewRegistry(judgment JudgmentRequester, opts ...RegistryOption) *Registry {
	r := &Registry{
		byID:     map[string]*Session{},
		byCode:   map[string]string{},
		judgment: judgment,
		defaults: Config{PhaseLimits: DefaultPhaseLimits()},
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // room codes are not secrets
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DefaultPhaseLimits is the stock Phase -> seconds mapping.
func DefaultPhaseLimits() map[phase.Phase]time.Duration {
	return map[phase.Phase]time.Duration{
		phase.OpeningStatements:    120 * time.Second,
		phase.EvidencePresentation: 180 * time.Second,
		phase.WitnessExamination:   180 * time.Second,
		phase.ClosingArguments:     120 * time.Second,
	}
}

// Create opens a new session. A zero cfg falls back to the registry
// defaults; partial limit tables are filled in from them.
func (r *Registry) Create(ctx context.Context, cfg Config) *Session {
	if cfg.PhaseLimits == nil {
		cfg.PhaseLimits = r.defaults.PhaseLimits
	} else {
		for p, d := range r.defaults.PhaseLimits {
			if _, ok := cfg.PhaseLimits[p]; !ok {
				cfg.PhaseLimits[p] = d
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	code := r.newCodeLocked()
	opts := append([]SessionOption{WithOnComplete(r.onComplete)}, r.opts...)
	s := New(ctx, code, cfg, r.judgment, opts...)
	r.byID[s.ID] = s
	r.byCode[code] = s.ID
	metrics.UpdateActiveSessions(len(r.byID))
	return s
}

func (r *Registry) newCodeLocked() string {
	for {
		var b strings.Builder
		for i := 0; i < roomCodeLength; i++ {
			b.WriteByte(roomCodeCharset[r.rng.Intn(len(roomCodeCharset))])
		}
		code := b.String()
		if _, taken := r.byCode[code]; !taken {
			return code
		}
	}
}

// Get resolves a session by id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	return s, nil
}

// GetByCode resolves a session by room code.
func (r *Registry) GetByCode(code string) (*Session, error) {
	r.mu.RLock()
	id, ok := r.byCode[strings.ToUpper(strings.TrimSpace(code))]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("room %s: %w", code, ErrSessionNotFound)
	}
	return r.Get(id)
}

// Leave disconnects a participant and tears the session down when nobody
// is left.
func (r *Registry) Leave(id, participantID string) {
	s, err := r.Get(id)
	if err != nil {
		return
	}
	if s.Leave(participantID) {
		r.remove(id)
	}
}

// onComplete archives a session once its verdict is recorded. The session
// keeps serving reads until everyone has left; only the countdown and the
// streams are done.
func (r *Registry) onComplete(string) {
	// Completed sessions stay addressable for final-state reads; removal
	// happens when the last participant leaves.
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	s, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
		delete(r.byCode, s.RoomCode)
	}
	metrics.UpdateActiveSessions(len(r.byID))
	r.mu.Unlock()
	if ok {
		s.Close()
	}
}

// Count returns the number of open sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Shutdown closes every session.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		sessions = append(sessions, s)
	}
	r.byID = map[string]*Session{}
	r.byCode = map[string]string{}
	metrics.UpdateActiveSessions(0)
	r.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}
