// Package app wires the session registry, the judgment dispatcher and the
// transport-facing dependency surface together.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/gavel/internal/domain/model"
	"github.com/okian/gavel/internal/domain/phase"
	"github.com/okian/gavel/internal/judgment"
	"github.com/okian/gavel/internal/session"
	"github.com/okian/gavel/pkg/logger"
)

// Default service configuration constants.
const (
	defaultJudgmentQueueSize = 64
)

// judgmentJob is one pending jury request.
type judgmentJob struct {
	sessionID string
	req       judgment.Request
}

// Service implements the dependencies required by the HTTP and WS
// adapters.
type Service struct {
	registry *session.Registry
	jury     judgment.Service

	jobs      chan judgmentJob
	queueSize int
	stop      chan struct{}
	done      chan struct{}

	registryOpts []session.RegistryOption
	logger       logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithJury sets the judgment service implementation.
func WithJury(j judgment.Service) Option {
	return func(s *Service) {
		if j != nil {
			s.jury = j
		}
	}
}

// WithJudgmentQueueSize bounds the pending jury request queue.
func WithJudgmentQueueSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithPhaseLimits sets the default Phase -> duration table for new
// sessions.
func WithPhaseLimits(limits map[phase.Phase]time.Duration) Option {
	return func(s *Service) {
		if len(limits) > 0 {
			s.registryOpts = append(s.registryOpts,
				session.WithDefaultConfig(session.Config{PhaseLimits: limits}))
		}
	}
}

// WithSessionOptions forwards options to every session the registry
// creates (delivery buffer, scoring knobs).
func WithSessionOptions(opts ...session.SessionOption) Option {
	return func(s *Service) {
		if len(opts) > 0 {
			s.registryOpts = append(s.registryOpts, session.WithSessionOptions(opts...))
		}
	}
}

// New constructs the service and its session registry.
func New(opts ...Option) *Service {
	s := &Service{
		jury:      &judgment.StubService{Delay: 2 * time.Second},
		queueSize: defaultJudgmentQueueSize,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		logger:    logger.Named("app"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.jobs = make(chan judgmentJob, s.queueSize)
	s.registry = session.NewRegistry(s, s.registryOpts...)
	return s
}

// Start launches the judgment dispatcher.
func (s *Service) Start(ctx context.Context) {
	go s.dispatch(ctx)
}

// Stop drains the dispatcher.
func (s *Service) Stop(ctx context.Context) error {
	close(s.stop)
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher shutdown: %w", ctx.Err())
	}
}

// Registry exposes the session registry to the adapters.
func (s *Service) Registry() *session.Registry {
	return s.registry
}

// CreateSession opens a new session.
func (s *Service) CreateSession(ctx context.Context, cfg session.Config) *session.Session {
	return s.registry.Create(ctx, cfg)
}

// GetSession resolves a session by id.
func (s *Service) GetSession(id string) (*session.Session, error) {
	return s.registry.Get(id)
}

// GetSessionByCode resolves a session by room code.
func (s *Service) GetSessionByCode(code string) (*session.Session, error) {
	return s.registry.GetByCode(code)
}

// LeaveSession disconnects a participant, tearing the session down when
// empty.
func (s *Service) LeaveSession(id, participantID string) {
	s.registry.Leave(id, participantID)
}

// SessionCount returns the number of open sessions.
func (s *Service) SessionCount() int {
	return s.registry.Count()
}

// Request implements session.JudgmentRequester. Acceptance means queued:
// the phase controller moves to deliberation as soon as the request is
// accepted, not when the verdict lands. Never auto-retried.
func (s *Service) Request(ctx context.Context, sessionID string, events []model.ActionEvent) error {
	job := judgmentJob{sessionID: sessionID, req: buildRequest(sessionID, events)}
	select {
	case s.jobs <- job:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("judgment enqueue: %w", ctx.Err())
	default:
		return fmt.Errorf("judgment enqueue: %w", ErrJudgmentBusy)
	}
}

// RetryJudgment re-submits the jury request for a session stuck in
// deliberation. Only the judge may ask for it; the engine itself never
// retries.
func (s *Service) RetryJudgment(ctx context.Context, sessionID, participantID string) error {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return err
	}
	st := sess.State()
	if phase.Phase(st.Phase) != phase.Deliberation {
		return fmt.Errorf("judgment retry in %s: %w", st.Phase, session.ErrStaleAction)
	}
	requester := ""
	for _, p := range st.Participants {
		if p.ID == participantID {
			requester = string(p.Role)
		}
	}
	if requester != string(model.RoleJudge) {
		return fmt.Errorf("judgment retry: %w", session.ErrForbidden)
	}
	return s.Request(ctx, sessionID, sess.EventsSince(0))
}

// buildRequest flattens the log into the jury's view of the trial.
func buildRequest(sessionID string, events []model.ActionEvent) judgment.Request {
	req := judgment.Request{SessionID: sessionID}
	for _, ev := range events {
		text := ev.Payload[model.PayloadText]
		if text == "" {
			continue
		}
		switch ev.Type {
		case model.EventArgumentSubmitted:
			req.Arguments = append(req.Arguments, text)
		case model.EventEvidencePresented:
			req.Evidence = append(req.Evidence, text)
		}
	}
	return req
}

// dispatch runs jury requests one at a time and feeds verdicts back into
// the owning session's log.
func (s *Service) dispatch(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case job := <-s.jobs:
			s.process(ctx, job)
		}
	}
}

func (s *Service) process(ctx context.Context, job judgmentJob) {
	verdict, err := s.jury.Judge(ctx, job.req)
	if err != nil {
		// Timeout leaves the session in deliberation; the judge retries
		// manually. Anything else is logged the same way.
		s.logger.Warn(ctx, "judgment request failed",
			logger.String("session_id", job.sessionID), logger.Error(err))
		return
	}

	sess, err := s.registry.Get(job.sessionID)
	if err != nil {
		s.logger.Warn(ctx, "verdict for unknown session",
			logger.String("session_id", job.sessionID), logger.Error(err))
		return
	}
	if _, err := sess.RecordVerdict(ctx, verdict); err != nil {
		s.logger.Warn(ctx, "verdict rejected",
			logger.String("session_id", job.sessionID), logger.Error(err))
	}
}
