package session_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/okian/gavel/internal/domain/model"
	"github.com/okian/gavel/internal/domain/phase"
	"github.com/okian/gavel/internal/session"
	"github.com/okian/gavel/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		os.Exit(1)
	}
	os.Exit(m.Run())
}

// fakeJury records judgment requests and answers with a canned error.
type fakeJury struct {
	calls int
	err   error
	last  []model.ActionEvent
}

func (f *fakeJury) Request(_ context.Context, _ string, events []model.ActionEvent) error {
	f.calls++
	f.last = events
	return f.err
}

// advance appends a from->to transition directly to the log.
func advance(t *testing.T, l *session.Log, from, to phase.Phase) model.ActionEvent {
	t.Helper()
	ev, err := l.Append(context.Background(), model.ActionEvent{
		ActorRole: model.RoleJudge,
		Type:      model.EventPhaseAdvanced,
		Phase:     from.String(),
		Payload: map[string]string{
			model.PayloadFrom: from.String(),
			model.PayloadTo:   to.String(),
		},
	})
	if err != nil {
		t.Fatalf("advance %s->%s: %v", from, to, err)
	}
	return ev
}

// eventually polls cond until it holds or the deadline passes. Derived state
// is folded asynchronously by the apply loop, so assertions on it retry.
func eventually(t *testing.T, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}
