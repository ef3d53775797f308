// Package model defines the messages exchanged between the turn controller
// and the speech services.
package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidEvent is returned when an event is missing fields its kind requires.
var ErrInvalidEvent = errors.New("invalid event")

// Kind represents the type of a speech service event.
type Kind string

const (
	// Inbound, reported by the speech services.
	KindListenAvailability Kind = "listen_availability"
	KindSayAvailability    Kind = "say_availability"
	KindAnswerFragment     Kind = "answer_fragment"
	KindOutputAcknowledged Kind = "output_acknowledged"

	// Outbound, produced by the turn controller.
	KindListenAvailabilityProbe Kind = "listen_availability_probe"
	KindSayAvailabilityProbe    Kind = "say_availability_probe"
	KindPromptFragment          Kind = "prompt_fragment"
	KindEchoFragment            Kind = "echo_fragment"
)

// InboundKinds lists every kind a speech service may deliver.
var InboundKinds = []Kind{
	KindListenAvailability,
	KindSayAvailability,
	KindAnswerFragment,
	KindOutputAcknowledged,
}

// IsInbound reports whether k is delivered by a speech service.
func (k Kind) IsInbound() bool {
	switch k {
	case KindListenAvailability, KindSayAvailability, KindAnswerFragment, KindOutputAcknowledged:
		return true
	default:
		return false
	}
}

// IsOutbound reports whether k is produced by the turn controller.
func (k Kind) IsOutbound() bool {
	switch k {
	case KindListenAvailabilityProbe, KindSayAvailabilityProbe, KindPromptFragment, KindEchoFragment:
		return true
	default:
		return false
	}
}

// carriesFragment reports whether events of kind k hold a Fragment.
func (k Kind) carriesFragment() bool {
	return k == KindAnswerFragment || k == KindPromptFragment || k == KindEchoFragment
}

// Event is a single message on the speech bus.
type Event struct {
	Kind Kind `json:"kind"`

	// Availability reports
	Usable bool `json:"usable,omitempty"`

	// Answer, prompt and echo fragments
	Fragment *Fragment `json:"fragment,omitempty"`

	// Output acknowledgments
	ID MessageID `json:"id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate checks that the event carries the fields its kind requires.
func (e *Event) Validate() error {
	if !e.Kind.IsInbound() && !e.Kind.IsOutbound() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, e.Kind)
	}
	if e.Kind.carriesFragment() && e.Fragment == nil {
		return fmt.Errorf("%w: %s without fragment", ErrInvalidEvent, e.Kind)
	}
	if e.Kind == KindOutputAcknowledged && e.ID == NoMessageID {
		return fmt.Errorf("%w: acknowledgment without id", ErrInvalidEvent)
	}
	return nil
}

// NewAvailability creates a listen or say availability report.
func NewAvailability(kind Kind, usable bool) Event {
	return Event{Kind: kind, Usable: usable, CreatedAt: time.Now()}
}

// NewProbe creates an availability probe of the given kind.
func NewProbe(kind Kind) Event {
	return Event{Kind: kind, CreatedAt: time.Now()}
}

// NewFragmentEvent wraps a fragment in an event of the given kind.
func NewFragmentEvent(kind Kind, f Fragment) Event {
	return Event{Kind: kind, Fragment: &f, CreatedAt: time.Now()}
}

// NewAcknowledgment creates an output-performed acknowledgment for id.
func NewAcknowledgment(id MessageID) Event {
	return Event{Kind: KindOutputAcknowledged, ID: id, CreatedAt: time.Now()}
}
