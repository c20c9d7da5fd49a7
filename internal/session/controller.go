package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/okian/gavel/internal/domain/model"
	"github.com/okian/gavel/internal/domain/phase"
	"github.com/okian/gavel/pkg/metrics"
)

// JudgmentRequester hands the accumulated trial record to the external
// AI jury. Request returns once the request is accepted for processing;
// the verdict arrives later as a verdict_recorded event. It is never
// auto-retried: a duplicate request would produce a duplicate verdict.
type JudgmentRequester interface {
	Request(ctx context.Context, sessionID string, events []model.ActionEvent) error
}

// Controller owns the rules for moving a session through the fixed phase
// sequence. Arbitration between racing advances is delegated to the log's
// phase-match check, with one exception: the judgment handoff is reserved
// before anything is sent, so two racers cannot both ask the jury. The
// controller treats a stale loss as a no-op for its caller to absorb.
type Controller struct {
	log      *Log
	limits   map[phase.Phase]time.Duration
	judgment JudgmentRequester

	mu sync.Mutex
	// judgmentRequested is the closing_arguments exit reservation. It is
	// released on jury refusal so the judge can try again.
	judgmentRequested bool
}

// NewController creates a phase controller over log with the per-phase
// time limits fixed at session creation.
func NewController(log *Log, limits map[phase.Phase]time.Duration, judgment JudgmentRequester) *Controller {
	return &Controller{log: log, limits: limits, judgment: judgment}
}

// Limit returns the configured time limit for p (zero for deliberation and
// terminal states, which are not clock-driven).
func (c *Controller) Limit(p phase.Phase) time.Duration {
	return c.limits[p]
}

// RequestAdvance asks to move the session to the next phase. Only the
// judge, or the engine itself on timer expiry (RoleSystem), may advance.
//
// Leaving closing_arguments first submits the judgment request; the move to
// deliberation happens once the request is accepted, not once it completes.
// Exactly one of two racing requests for the same phase wins; the loser
// gets ErrStaleAction. On that exit the loser is decided before anything
// reaches the jury, so a judge advance racing a timer expiry produces
// exactly one jury request.
func (c *Controller) RequestAdvance(ctx context.Context, actor model.Role) (model.ActionEvent, error) {
	if actor != model.RoleJudge && actor != model.RoleSystem {
		metrics.RecordAdvanceRejected("forbidden")
		return model.ActionEvent{}, fmt.Errorf("advance by %s: %w", actor, ErrForbidden)
	}

	current, _ := c.log.CurrentPhase()
	if current.Terminal() {
		metrics.RecordAdvanceRejected("session_closed")
		return model.ActionEvent{}, fmt.Errorf("advance: %w", ErrSessionClosed)
	}
	if current == phase.Deliberation {
		// Deliberation exits only through the verdict.
		metrics.RecordAdvanceRejected("awaiting_verdict")
		return model.ActionEvent{}, fmt.Errorf("advance from %s: %w", current, ErrAwaitingVerdict)
	}

	next, ok := current.Next()
	if !ok {
		metrics.RecordAdvanceRejected("no_successor")
		return model.ActionEvent{}, fmt.Errorf("advance from %s: %w", current, ErrStaleAction)
	}

	if current == phase.ClosingArguments {
		c.mu.Lock()
		if c.judgmentRequested {
			c.mu.Unlock()
			metrics.RecordAdvanceRejected("stale")
			return model.ActionEvent{}, fmt.Errorf("advance from %s: %w", current, ErrStaleAction)
		}
		c.judgmentRequested = true
		c.mu.Unlock()

		if err := c.judgment.Request(ctx, c.log.sessionID, c.log.Snapshot()); err != nil {
			c.mu.Lock()
			c.judgmentRequested = false
			c.mu.Unlock()
			return model.ActionEvent{}, fmt.Errorf("judgment request: %w", err)
		}
	}

	ev, err := c.log.Append(ctx, model.ActionEvent{
		ActorRole: actor,
		Type:      model.EventPhaseAdvanced,
		Phase:     current.String(),
		Payload: map[string]string{
			model.PayloadFrom:      current.String(),
			model.PayloadTo:        next.String(),
			model.PayloadTimeLimit: strconv.Itoa(int(c.limits[next] / time.Second)),
		},
	})
	if err != nil {
		if current == phase.ClosingArguments {
			// The append can only fail here on a dead caller context; the
			// reservation must not outlive the attempt or the session could
			// never leave closing_arguments. The in-flight request's verdict
			// is rejected as stale, the judge's next advance asks again.
			c.mu.Lock()
			c.judgmentRequested = false
			c.mu.Unlock()
		}
		return model.ActionEvent{}, err
	}
	metrics.RecordPhaseAdvance(next.String())
	return ev, nil
}

// RecordVerdict appends the externally-sourced verdict event, moving the
// session deliberation -> verdict and completing it. The log rejects it as
// stale from any other phase.
func (c *Controller) RecordVerdict(ctx context.Context, v model.Verdict) (model.ActionEvent, error) {
	scores, err := json.Marshal(v.Scores)
	if err != nil {
		return model.ActionEvent{}, fmt.Errorf("encode verdict scores: %w", err)
	}
	ev, err := c.log.Append(ctx, model.ActionEvent{
		ActorRole: model.RoleSystem,
		Type:      model.EventVerdictRecorded,
		Phase:     phase.Deliberation.String(),
		Payload: map[string]string{
			model.PayloadVerdict:   v.Label,
			model.PayloadReasoning: v.Reasoning,
			"per_role_scores":      string(scores),
		},
	})
	if err != nil {
		return model.ActionEvent{}, err
	}
	metrics.RecordPhaseAdvance(phase.Verdict.String())
	return ev, nil
}
