package powerup_test

import (
	"testing"
	"time"

	"github.com/okian/gavel/internal/domain/model"
	"github.com/okian/gavel/internal/domain/phase"
	"github.com/okian/gavel/internal/domain/powerup"
	. "github.com/smartystreets/goconvey/convey"
)

var start = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestManagerActivation(t *testing.T) {
	Convey("Given a power-up manager with the built-in catalog", t, func() {
		mgr := powerup.NewManager(powerup.WithClock(func() time.Time { return start }))

		Convey("When activating evidence_boost during evidence presentation", func() {
			inst, err := mgr.Activate("p1", powerup.TypeEvidenceBoost, phase.EvidencePresentation, start)

			Convey("Then the instance runs for its catalog duration", func() {
				So(err, ShouldBeNil)
				So(inst.Status, ShouldEqual, powerup.StatusActive)
				So(inst.ActivatedAt, ShouldEqual, start)
				So(inst.ExpiresAt, ShouldEqual, start.Add(30*time.Second))
			})

			Convey("And re-activating before the cooldown elapses is rejected", func() {
				So(err, ShouldBeNil)
				_, err := mgr.Activate("p1", powerup.TypeEvidenceBoost, phase.EvidencePresentation, start.Add(45*time.Second))
				So(err, ShouldWrap, powerup.ErrOnCooldown)
			})

			Convey("And a different owner is not affected by the cooldown", func() {
				So(err, ShouldBeNil)
				_, err := mgr.Activate("p2", powerup.TypeEvidenceBoost, phase.EvidencePresentation, start.Add(time.Second))
				So(err, ShouldBeNil)
			})

			Convey("And re-activating after expiry plus cooldown succeeds", func() {
				So(err, ShouldBeNil)
				// 30s duration + 60s cooldown
				_, err := mgr.Activate("p1", powerup.TypeEvidenceBoost, phase.EvidencePresentation, start.Add(91*time.Second))
				So(err, ShouldBeNil)
			})
		})

		Convey("When activating outside the type's phase allow-list", func() {
			_, err := mgr.Activate("p1", powerup.TypeEvidenceBoost, phase.OpeningStatements, start)

			Convey("Then it is rejected as phase incompatible", func() {
				So(err, ShouldWrap, powerup.ErrPhaseIncompatible)
			})
		})

		Convey("When activating an unknown type", func() {
			_, err := mgr.Activate("p1", "surprise_witness", phase.OpeningStatements, start)

			Convey("Then it is rejected", func() {
				So(err, ShouldWrap, powerup.ErrUnknownType)
			})
		})

		Convey("When an armed instance is activated", func() {
			armed, err := mgr.Arm("p1", powerup.TypeSilverTongue)
			So(err, ShouldBeNil)
			So(armed.Status, ShouldEqual, powerup.StatusArmed)

			inst, err := mgr.Activate("p1", powerup.TypeSilverTongue, phase.OpeningStatements, start)

			Convey("Then the armed instance transitions in place", func() {
				So(err, ShouldBeNil)
				So(inst.ID, ShouldEqual, armed.ID)
				So(inst.Status, ShouldEqual, powerup.StatusActive)
			})
		})
	})
}

func TestManagerCanActivate(t *testing.T) {
	Convey("Given a manager with one active instance", t, func() {
		mgr := powerup.NewManager()
		_, err := mgr.Activate("p1", powerup.TypeObjectionMaster, phase.WitnessExamination, start)
		So(err, ShouldBeNil)

		Convey("When checking a blocked activation", func() {
			err := mgr.CanActivate("p1", powerup.TypeObjectionMaster, phase.WitnessExamination, start.Add(10*time.Second))

			Convey("Then the check reports the cooldown without mutating state", func() {
				So(err, ShouldWrap, powerup.ErrOnCooldown)
				// The failed check must not have started a cooldown of its own.
				err = mgr.CanActivate("p1", powerup.TypeObjectionMaster, phase.WitnessExamination, start.Add(101*time.Second))
				So(err, ShouldBeNil)
			})
		})

		Convey("When checking an allowed activation", func() {
			err := mgr.CanActivate("p2", powerup.TypeObjectionMaster, phase.WitnessExamination, start)
			So(err, ShouldBeNil)
		})
	})
}

func TestInstanceActiveWindow(t *testing.T) {
	Convey("Given an activated instance", t, func() {
		mgr := powerup.NewManager()
		inst, err := mgr.Activate("p1", powerup.TypeSilverTongue, phase.OpeningStatements, start)
		So(err, ShouldBeNil)

		Convey("When judging liveness from timestamps", func() {
			So(inst.ActiveAt(start), ShouldBeTrue)
			So(inst.ActiveAt(start.Add(19*time.Second)), ShouldBeTrue)

			Convey("Then the expiry bound is exclusive", func() {
				So(inst.ActiveAt(start.Add(20*time.Second)), ShouldBeFalse)
			})

			Convey("And times before activation are not live", func() {
				So(inst.ActiveAt(start.Add(-time.Second)), ShouldBeFalse)
			})
		})
	})

	Convey("Given a zero-duration time extension", t, func() {
		mgr := powerup.NewManager()
		inst, err := mgr.Activate("p1", powerup.TypeTimeExtension, phase.OpeningStatements, start)
		So(err, ShouldBeNil)

		Convey("Then it is never live; its effect is the one-shot extension", func() {
			So(inst.ActiveAt(start), ShouldBeFalse)
			spec, err := mgr.Spec(powerup.TypeTimeExtension)
			So(err, ShouldBeNil)
			So(spec.ExtendBy, ShouldEqual, 30*time.Second)
		})
	})
}

func TestManagerFactor(t *testing.T) {
	Convey("Given a manager with an active evidence boost", t, func() {
		mgr := powerup.NewManager()
		_, err := mgr.Activate("p1", powerup.TypeEvidenceBoost, phase.EvidencePresentation, start)
		So(err, ShouldBeNil)

		Convey("When computing the factor for boosted evidence", func() {
			So(mgr.Factor("p1", model.EventEvidencePresented, start.Add(10*time.Second)), ShouldAlmostEqual, 2.0)
		})

		Convey("When the event type is not boosted", func() {
			So(mgr.Factor("p1", model.EventArgumentSubmitted, start.Add(10*time.Second)), ShouldAlmostEqual, 1.0)
		})

		Convey("When the event belongs to a different actor", func() {
			So(mgr.Factor("p2", model.EventEvidencePresented, start.Add(10*time.Second)), ShouldAlmostEqual, 1.0)
		})

		Convey("When the event lands after expiry", func() {
			So(mgr.Factor("p1", model.EventEvidencePresented, start.Add(31*time.Second)), ShouldAlmostEqual, 1.0)
		})
	})
}

func TestManagerSweepAndCancel(t *testing.T) {
	Convey("Given a manager with active instances", t, func() {
		mgr := powerup.NewManager(powerup.WithClock(func() time.Time { return start }))
		_, err := mgr.Activate("p1", powerup.TypeEvidenceBoost, phase.EvidencePresentation, start)
		So(err, ShouldBeNil)
		_, err = mgr.Activate("p2", powerup.TypeObjectionMaster, phase.EvidencePresentation, start)
		So(err, ShouldBeNil)

		Convey("When sweeping past one deadline", func() {
			var signalled []powerup.Instance
			mgr.OnExpire(func(i powerup.Instance) { signalled = append(signalled, i) })

			// objection_master runs 25s, evidence_boost 30s
			expired := mgr.SweepExpired(start.Add(26 * time.Second))

			Convey("Then only the shorter instance expires and signals", func() {
				So(len(expired), ShouldEqual, 1)
				So(expired[0].Type, ShouldEqual, powerup.TypeObjectionMaster)
				So(len(signalled), ShouldEqual, 1)
			})

			Convey("And a second sweep does not re-signal", func() {
				So(mgr.SweepExpired(start.Add(27*time.Second)), ShouldBeEmpty)
			})
		})

		Convey("When an owner leaves", func() {
			mgr.CancelOwned("p1")

			Convey("Then their instances stop being live, peers keep theirs", func() {
				So(mgr.Active("p1", start.Add(time.Second)), ShouldBeEmpty)
				So(mgr.Factor("p2", model.EventObjectionRaised, start.Add(time.Second)), ShouldAlmostEqual, 2.0)
			})
		})
	})
}
