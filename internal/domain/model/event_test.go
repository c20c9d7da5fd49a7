package model_test

import (
	"encoding/json"
	"testing"

	"github.com/okian/gavel/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestRoleValidation(t *testing.T) {
	Convey("Given the session roles", t, func() {
		Convey("When validating assignable roles", func() {
			So(model.RoleJudge.Valid(), ShouldBeTrue)
			So(model.RoleProsecutor.Valid(), ShouldBeTrue)
			So(model.RoleDefense.Valid(), ShouldBeTrue)
		})

		Convey("When validating the system role", func() {
			Convey("Then it should not be assignable to a participant", func() {
				So(model.RoleSystem.Valid(), ShouldBeFalse)
			})
		})

		Convey("When validating an unknown role", func() {
			So(model.Role("bailiff").Valid(), ShouldBeFalse)
		})
	})
}

func TestEventTypeValidation(t *testing.T) {
	Convey("Given the closed event type set", t, func() {
		Convey("When validating known types", func() {
			for _, typ := range []model.EventType{
				model.EventArgumentSubmitted,
				model.EventEvidencePresented,
				model.EventObjectionRaised,
				model.EventPhaseAdvanced,
				model.EventPowerupActivated,
				model.EventVerdictRecorded,
			} {
				So(typ.Valid(), ShouldBeTrue)
			}
		})

		Convey("When validating an unknown type", func() {
			So(model.EventType("witness_called").Valid(), ShouldBeFalse)
			So(model.EventType("").Valid(), ShouldBeFalse)
		})
	})
}

func TestActionEventEncoding(t *testing.T) {
	Convey("Given an action event", t, func() {
		ev := model.ActionEvent{
			ID:        "ev-1",
			Seq:       7,
			SessionID: "sess-1",
			ActorID:   "actor-1",
			ActorRole: model.RoleProsecutor,
			Type:      model.EventArgumentSubmitted,
			Payload:   map[string]string{model.PayloadText: "the defendant was elsewhere"},
			Phase:     "opening_statements",
		}

		Convey("When encoding to JSON", func() {
			data, err := json.Marshal(ev)
			So(err, ShouldBeNil)

			Convey("Then the wire field names should be stable", func() {
				var m map[string]any
				So(json.Unmarshal(data, &m), ShouldBeNil)
				So(m["seq"], ShouldEqual, 7)
				So(m["phase_at_emission"], ShouldEqual, "opening_statements")
				So(m, ShouldContainKey, "server_timestamp")
			})
		})
	})
}
