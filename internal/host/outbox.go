package host

import "github.com/capitalize-ai/mirror-speech/internal/model"

// Outbox stores the events a Machine emits until the Loop publishes them.
type Outbox struct {
	events []model.Event
}

// Emit appends ev.
func (o *Outbox) Emit(ev model.Event) {
	o.events = append(o.events, ev)
}

// Len returns the number of stored events.
func (o *Outbox) Len() int {
	return len(o.events)
}

// Drain returns the stored events in emission order and empties the Outbox.
func (o *Outbox) Drain() []model.Event {
	events := o.events
	o.events = nil
	return events
}
