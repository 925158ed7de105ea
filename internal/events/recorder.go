package events

import (
	"sync"

	"github.com/hidim/TunnelPanda/pkg/types"
)

type Recorder interface {
	Record(event types.Event)
}

type NoopRecorder struct{}

func (NoopRecorder) Record(event types.Event) {}

type Multi struct {
	recorders []Recorder
}

func NewMulti(recorders ...Recorder) Multi {
	return Multi{recorders: recorders}
}

func (m Multi) Record(event types.Event) {
	for _, rec := range m.recorders {
		if rec != nil {
			rec.Record(event)
		}
	}
}

// Trace keeps every recorded event in order.
type Trace struct {
	mu     sync.Mutex
	events []types.Event
}

func NewTrace() *Trace {
	return &Trace{}
}

func (t *Trace) Record(event types.Event) {
	t.mu.Lock()
	t.events = append(t.events, event)
	t.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (t *Trace) Events() []types.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]types.Event, len(t.events))
	copy(out, t.events)
	return out
}

// Types returns the recorded event types in order.
func (t *Trace) Types() []types.EventType {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]types.EventType, 0, len(t.events))
	for _, ev := range t.events {
		out = append(out, ev.Type)
	}
	return out
}
