package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/gavel/internal/domain/model"
	"github.com/okian/gavel/internal/domain/phase"
	"github.com/okian/gavel/internal/session"
	. "github.com/smartystreets/goconvey/convey"
)

func testLimits() map[phase.Phase]time.Duration {
	return map[phase.Phase]time.Duration{
		phase.OpeningStatements:    120 * time.Second,
		phase.EvidencePresentation: 180 * time.Second,
		phase.WitnessExamination:   180 * time.Second,
		phase.ClosingArguments:     120 * time.Second,
	}
}

func TestControllerAdvanceGating(t *testing.T) {
	Convey("Given a controller over a fresh log", t, func() {
		ctx := context.Background()
		log := session.NewLog("sess-1")
		jury := &fakeJury{}
		ctrl := session.NewController(log, testLimits(), jury)

		Convey("When a prosecutor requests an advance", func() {
			_, err := ctrl.RequestAdvance(ctx, model.RoleProsecutor)

			Convey("Then it is forbidden and the phase stays put", func() {
				So(err, ShouldWrap, session.ErrForbidden)
				cur, _ := log.CurrentPhase()
				So(cur, ShouldEqual, phase.OpeningStatements)
			})
		})

		Convey("When the judge requests an advance", func() {
			ev, err := ctrl.RequestAdvance(ctx, model.RoleJudge)

			Convey("Then the phase moves one step with its time limit attached", func() {
				So(err, ShouldBeNil)
				So(ev.Type, ShouldEqual, model.EventPhaseAdvanced)
				So(ev.Payload[model.PayloadFrom], ShouldEqual, phase.OpeningStatements.String())
				So(ev.Payload[model.PayloadTo], ShouldEqual, phase.EvidencePresentation.String())
				So(ev.Payload[model.PayloadTimeLimit], ShouldEqual, "180")

				cur, _ := log.CurrentPhase()
				So(cur, ShouldEqual, phase.EvidencePresentation)
			})
		})

		Convey("When the engine requests an advance on timer expiry", func() {
			_, err := ctrl.RequestAdvance(ctx, model.RoleSystem)
			So(err, ShouldBeNil)
		})
	})
}

func TestControllerJudgmentGate(t *testing.T) {
	Convey("Given a session that has reached closing arguments", t, func() {
		ctx := context.Background()
		log := session.NewLog("sess-1")
		jury := &fakeJury{}
		ctrl := session.NewController(log, testLimits(), jury)

		for i := 0; i < 3; i++ {
			_, err := ctrl.RequestAdvance(ctx, model.RoleJudge)
			So(err, ShouldBeNil)
		}
		cur, _ := log.CurrentPhase()
		So(cur, ShouldEqual, phase.ClosingArguments)

		Convey("When advancing out of closing arguments", func() {
			_, err := log.Append(ctx, model.ActionEvent{
				ActorID: "p1",
				Type:    model.EventArgumentSubmitted,
				Phase:   phase.ClosingArguments.String(),
			})
			So(err, ShouldBeNil)

			_, err = ctrl.RequestAdvance(ctx, model.RoleJudge)

			Convey("Then the trial record is handed to the jury first", func() {
				So(err, ShouldBeNil)
				So(jury.calls, ShouldEqual, 1)
				So(len(jury.last), ShouldEqual, 4)

				cur, _ := log.CurrentPhase()
				So(cur, ShouldEqual, phase.Deliberation)
			})
		})

		Convey("When the jury refuses the request", func() {
			jury.err = errors.New("queue full")
			_, err := ctrl.RequestAdvance(ctx, model.RoleJudge)

			Convey("Then the session stays in closing arguments", func() {
				So(err, ShouldNotBeNil)
				cur, _ := log.CurrentPhase()
				So(cur, ShouldEqual, phase.ClosingArguments)
			})

			Convey("And the judge's next attempt reaches the jury again", func() {
				So(err, ShouldNotBeNil)
				jury.err = nil
				_, err := ctrl.RequestAdvance(ctx, model.RoleJudge)
				So(err, ShouldBeNil)
				So(jury.calls, ShouldEqual, 2)
				cur, _ := log.CurrentPhase()
				So(cur, ShouldEqual, phase.Deliberation)
			})
		})

		Convey("When the session is deliberating", func() {
			_, err := ctrl.RequestAdvance(ctx, model.RoleJudge)
			So(err, ShouldBeNil)

			_, err = ctrl.RequestAdvance(ctx, model.RoleJudge)

			Convey("Then advances are refused until the verdict lands", func() {
				So(err, ShouldWrap, session.ErrAwaitingVerdict)
			})
		})
	})
}

// gateJury holds each request open until released, so a second advance can
// race while the first is still with the jury.
type gateJury struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
}

func (g *gateJury) Request(context.Context, string, []model.ActionEvent) error {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	g.started <- struct{}{}
	<-g.release
	return nil
}

func (g *gateJury) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func TestControllerJudgmentRequestedOnce(t *testing.T) {
	Convey("Given a session at closing arguments with a slow jury", t, func() {
		ctx := context.Background()
		log := session.NewLog("sess-1")
		jury := &gateJury{started: make(chan struct{}, 1), release: make(chan struct{})}
		ctrl := session.NewController(log, testLimits(), jury)
		for i := 0; i < 3; i++ {
			_, err := ctrl.RequestAdvance(ctx, model.RoleJudge)
			So(err, ShouldBeNil)
		}

		Convey("When the timer fires while the judge's request is with the jury", func() {
			judgeErr := make(chan error, 1)
			go func() {
				_, err := ctrl.RequestAdvance(ctx, model.RoleJudge)
				judgeErr <- err
			}()
			<-jury.started

			_, err := ctrl.RequestAdvance(ctx, model.RoleSystem)

			Convey("Then the loser is stale before anything reaches the jury", func() {
				So(err, ShouldWrap, session.ErrStaleAction)
				So(jury.count(), ShouldEqual, 1)

				close(jury.release)
				So(<-judgeErr, ShouldBeNil)
				cur, _ := log.CurrentPhase()
				So(cur, ShouldEqual, phase.Deliberation)
				So(jury.count(), ShouldEqual, 1)
			})
		})
	})
}

func TestControllerVerdict(t *testing.T) {
	Convey("Given a deliberating session", t, func() {
		ctx := context.Background()
		log := session.NewLog("sess-1")
		ctrl := session.NewController(log, testLimits(), &fakeJury{})
		for i := 0; i < 4; i++ {
			_, err := ctrl.RequestAdvance(ctx, model.RoleJudge)
			So(err, ShouldBeNil)
		}

		Convey("When the verdict is recorded", func() {
			ev, err := ctrl.RecordVerdict(ctx, model.Verdict{
				Label:     "guilty",
				Reasoning: "the alibi collapsed under cross",
				Scores:    map[model.Role]float64{model.RoleProsecutor: 88},
			})

			Convey("Then the session completes with the verdict payload", func() {
				So(err, ShouldBeNil)
				So(ev.Type, ShouldEqual, model.EventVerdictRecorded)
				So(ev.Payload[model.PayloadVerdict], ShouldEqual, "guilty")
				So(ev.Payload[model.PayloadReasoning], ShouldEqual, "the alibi collapsed under cross")
				So(log.Completed(), ShouldBeTrue)
			})

			Convey("And later advances report the session closed", func() {
				So(err, ShouldBeNil)
				_, err := ctrl.RequestAdvance(ctx, model.RoleJudge)
				So(err, ShouldWrap, session.ErrSessionClosed)
			})
		})

		Convey("When a duplicate verdict arrives", func() {
			_, err := ctrl.RecordVerdict(ctx, model.Verdict{Label: "guilty"})
			So(err, ShouldBeNil)

			_, err = ctrl.RecordVerdict(ctx, model.Verdict{Label: "not_guilty"})

			Convey("Then it is rejected; the first verdict stands", func() {
				So(err, ShouldWrap, session.ErrSessionClosed)
			})
		})
	})

	Convey("Given a session not yet deliberating", t, func() {
		log := session.NewLog("sess-1")
		ctrl := session.NewController(log, testLimits(), &fakeJury{})

		Convey("When a verdict is recorded early", func() {
			_, err := ctrl.RecordVerdict(context.Background(), model.Verdict{Label: "guilty"})
			So(err, ShouldWrap, session.ErrStaleAction)
		})
	})
}
