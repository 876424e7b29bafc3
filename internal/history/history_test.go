package history

import (
	"context"
	"errors"
	"testing"
	"time"
)

type memSink struct {
	events []Event
	err    error
	closed bool
}

func (m *memSink) Send(_ context.Context, e Event) error {
	m.events = append(m.events, e)
	return m.err
}

func (m *memSink) Close() error { m.closed = true; return nil }

type sendOnly struct{}

func (sendOnly) Send(context.Context, Event) error { return nil }

func TestMultiFansOutAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a := &memSink{}
	b := &memSink{err: boom}
	m := Multi{a, b, sendOnly{}}

	ev := Event{Type: EventLaunch, OccurredAt: time.Now(), Record: Record{Name: "api", PID: 42, State: "running"}}
	err := m.Send(context.Background(), ev)
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error to contain boom, got %v", err)
	}
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("every sink must receive the event: a=%d b=%d", len(a.events), len(b.events))
	}
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !a.closed || !b.closed {
		t.Fatalf("closers not invoked")
	}
}

func TestEmptyMultiIsNoop(t *testing.T) {
	if err := (Multi{}).Send(context.Background(), Event{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
