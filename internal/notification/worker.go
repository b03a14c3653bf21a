package notification

import (
	"context"
	"fmt"
	"strings"

	"slothive/internal/logging"
	"slothive/internal/slot"
)

// Kind tags a hunt event for notification.
type Kind string

const (
	KindSlotsFound Kind = "slots_found"
	KindBooked     Kind = "booked"
)

// Event is one notification job: something happened in the hunt that an
// external channel should hear about.
type Event struct {
	Kind       Kind
	ClientName string
	Param      string
	Slots      []slot.Descriptor
	Detail     string
}

// Message renders the human-readable notification text.
func (e Event) Message() string {
	switch e.Kind {
	case KindSlotsFound:
		var b strings.Builder
		fmt.Fprintf(&b, "%s found %d slot(s)", e.ClientName, len(e.Slots))
		if e.Param != "" {
			fmt.Fprintf(&b, " for %s", e.Param)
		}
		for i, sl := range e.Slots {
			if i == 3 {
				b.WriteString(", …")
				break
			}
			fmt.Fprintf(&b, ", %s %s", sl.Date, sl.Time)
		}
		return b.String()
	case KindBooked:
		msg := fmt.Sprintf("%s booked a slot", e.ClientName)
		if len(e.Slots) > 0 {
			msg = fmt.Sprintf("%s booked %s %s", e.ClientName, e.Slots[0].Date, e.Slots[0].Time)
		}
		if e.Detail != "" {
			msg += " (" + e.Detail + ")"
		}
		return msg
	default:
		return e.Detail
	}
}

// Sender delivers one event to one external channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

// WorkerPool fans notification events out to every configured sender from a
// fixed set of worker goroutines.
type WorkerPool struct {
	size    int
	jobs    chan Event
	senders []Sender
}

// NewWorkerPool creates a pool with the given worker count and senders.
func NewWorkerPool(size int, senders ...Sender) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Event, size*4),
		senders: senders,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

// Dispatch queues an event. Delivery is best-effort: when the queue is full
// the event is dropped with a log line rather than blocking the caller.
func (wp *WorkerPool) Dispatch(ev Event) {
	select {
	case wp.jobs <- ev:
	default:
		logging.L().Warnw("notification queue full, dropping event", "kind", ev.Kind)
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Event {
	return wp.jobs
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	logging.L().Debugf("notification worker %d started", id)
	for {
		select {
		case ev := <-wp.jobs:
			for _, s := range wp.senders {
				if err := s.Send(ctx, ev); err != nil {
					logging.L().Warnw("notification delivery failed",
						"sender", s.Name(), "kind", ev.Kind, "err", err)
				}
			}
		case <-ctx.Done():
			logging.L().Debugf("notification worker %d shutting down", id)
			return
		}
	}
}
