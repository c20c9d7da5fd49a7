package session

import (
	"context"
	"sync"

	"github.com/okian/gavel/internal/domain/model"
	"github.com/okian/gavel/pkg/metrics"
)

// Default replicator configuration constants.
const (
	defaultSubscriberBuffer = 256
)

// Bus fans accepted log events out to every subscriber of a session.
// Delivery is at-least-once: a subscriber that falls behind or reconnects
// re-subscribes from its last acknowledged seq and receives the full backlog
// again, so consumers must apply events idempotently.
type Bus struct {
	mu     sync.Mutex
	log    *Log
	subs   map[int]*subscriber
	nextID int
	buffer int
	closed bool
}

type subscriber struct {
	live chan model.ActionEvent
	done chan struct{}
}

// BusOption applies a configuration option to the Bus.
type BusOption func(*Bus)

// WithSubscriberBuffer sets the per-subscriber delivery buffer.
func WithSubscriberBuffer(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// NewBus creates a replicator over log. Wire it with
// NewLog(..., WithNotify(bus.Publish)) so publishes happen in append order.
func NewBus(log *Log, opts ...BusOption) *Bus {
	b := &Bus{
		log:    log,
		subs:   make(map[int]*subscriber),
		buffer: defaultSubscriberBuffer,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish delivers ev to every live subscriber. Called from the log's
// notify hook, so the per-session delivery order matches append order. A
// subscriber whose buffer is full is dropped; on reconnect it replays the
// backlog from its checkpoint, which preserves the at-least-once guarantee.
func (b *Bus) Publish(ev model.ActionEvent) {
	b.mu.Lock()
	for id, sub := range b.subs {
		select {
		case sub.live <- ev:
		default:
			metrics.RecordFanoutDrop()
			b.dropLocked(id)
		}
	}
	if ev.Type == model.EventVerdictRecorded {
		// The stream terminates once the session completes; the verdict is
		// the last event anyone receives.
		for id := range b.subs {
			b.dropLocked(id)
		}
		b.closed = true
	}
	metrics.UpdateSubscriberCount(len(b.subs))
	b.mu.Unlock()
}

// Subscribe returns an ordered stream of this session's events starting
// after fromSeq: first the backlog, then live events, with no seam or
// reordering between them. The stream closes when ctx is done, cancel is
// called, the subscriber falls too far behind, or the session completes.
func (b *Bus) Subscribe(ctx context.Context, fromSeq uint64) (<-chan model.ActionEvent, func()) {
	b.mu.Lock()
	closed := b.closed
	var (
		id  int
		sub *subscriber
	)
	if !closed {
		sub = &subscriber{
			live: make(chan model.ActionEvent, b.buffer),
			done: make(chan struct{}),
		}
		id = b.nextID
		b.nextID++
		b.subs[id] = sub
		metrics.UpdateSubscriberCount(len(b.subs))
	}
	b.mu.Unlock()

	// The log is read outside b.mu: the publish path holds the log lock
	// while taking b.mu, so the reverse order here would deadlock. Events
	// appended between registration and this snapshot show up on both
	// paths; the pump drops the live copies by seq.
	backlog := b.log.EventsSince(fromSeq)

	out := make(chan model.ActionEvent, len(backlog)+b.buffer)
	for _, ev := range backlog {
		out <- ev
	}

	if closed {
		close(out)
		return out, func() {}
	}

	cancel := func() {
		b.mu.Lock()
		b.dropLocked(id)
		metrics.UpdateSubscriberCount(len(b.subs))
		b.mu.Unlock()
	}

	var lastSeq uint64
	if n := len(backlog); n > 0 {
		lastSeq = backlog[n-1].Seq
	} else {
		lastSeq = fromSeq
	}

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case ev, ok := <-sub.live:
				if !ok {
					return
				}
				if ev.Seq <= lastSeq {
					continue
				}
				lastSeq = ev.Seq
				select {
				case out <- ev:
				default:
					// Consumer is not draining; cut the stream and let it
					// resubscribe from its checkpoint.
					metrics.RecordFanoutDrop()
					cancel()
					return
				}
			}
		}
	}()

	return out, cancel
}

// dropLocked unregisters and closes a subscriber. Caller holds b.mu.
func (b *Bus) dropLocked(id int) {
	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(sub.live)
}

// CloseAll terminates every open stream, for sessions torn down without a
// verdict (all participants left).
func (b *Bus) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id := range b.subs {
		b.dropLocked(id)
	}
	b.closed = true
	metrics.UpdateSubscriberCount(0)
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
