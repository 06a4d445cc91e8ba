package events

import (
	"context"
	"sync"

	"gorm.io/gorm"
)

// Recorder is an Emitter that keeps events in memory. Err, when set, is
// returned from every emit.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func (r *Recorder) Emit(ctx context.Context, event Event) error {
	return r.EmitTx(ctx, nil, event)
}

func (r *Recorder) EmitTx(_ context.Context, _ *gorm.DB, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Named returns the recorded events with the given name.
func (r *Recorder) Named(name string) []Event {
	var out []Event
	for _, event := range r.Events() {
		if event.Name() == name {
			out = append(out, event)
		}
	}
	return out
}
