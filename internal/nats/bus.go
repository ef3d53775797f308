package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/capitalize-ai/mirror-speech/internal/model"
	"github.com/capitalize-ai/mirror-speech/pkg/logger"
	"github.com/capitalize-ai/mirror-speech/pkg/metrics"
)

// SpeechPrefix is the prefix for all speech service subjects.
const SpeechPrefix = "speech"

// Bus directions, used as metric labels.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Bus results, used as metric labels.
const (
	resultOK      = "ok"
	resultDropped = "dropped"
	resultError   = "error"
)

// EventSubject returns the subject carrying events of kind for a session.
func EventSubject(sessionID string, kind model.Kind) string {
	return fmt.Sprintf("%s.%s.%s", SpeechPrefix, sessionID, kind)
}

// SessionFilter returns the filter subject for all speech events of a session.
func SessionFilter(sessionID string) string {
	return fmt.Sprintf("%s.%s.>", SpeechPrefix, sessionID)
}

// Bus exchanges speech events for one session.
type Bus struct {
	conn      *nats.Conn
	sessionID string
	logger    *logger.Logger
}

// NewBus creates a Bus for sessionID on the client's connection.
func NewBus(client *Client, sessionID string, log *logger.Logger) *Bus {
	return &Bus{
		conn:      client.Conn(),
		sessionID: sessionID,
		logger:    logger.OrGlobal(log).Named("bus").WithSession(sessionID),
	}
}

// Subscribe delivers every valid inbound event to out until the returned
// stop function is called. Payloads that cannot be decoded are dropped, as
// are events arriving after ctx is done.
func (b *Bus) Subscribe(ctx context.Context, out chan<- model.Event) (stop func(), err error) {
	subs := make([]*nats.Subscription, 0, len(model.InboundKinds))
	stop = func() {
		for _, sub := range subs {
			if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
				b.logger.Warn("unsubscribe failed", zap.String("subject", sub.Subject), zap.Error(err))
			}
		}
	}

	for _, kind := range model.InboundKinds {
		subject := EventSubject(b.sessionID, kind)
		sub, err := b.conn.Subscribe(subject, b.deliver(ctx, out))
		if err != nil {
			stop()
			return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		subs = append(subs, sub)
	}

	b.logger.Info("subscribed to speech events", zap.String("filter", SessionFilter(b.sessionID)))
	return stop, nil
}

// deliver returns the subscription callback. Once ctx is done, events are
// dropped instead of blocking the callback goroutine.
func (b *Bus) deliver(ctx context.Context, out chan<- model.Event) nats.MsgHandler {
	return func(msg *nats.Msg) {
		ev, err := DecodeEvent(msg.Subject, msg.Data)
		if err != nil {
			b.logger.Warn("dropping speech event", zap.String("subject", msg.Subject), zap.Error(err))
			metrics.RecordBusEvent(DirectionIn, kindLabel(msg.Subject), resultDropped)
			return
		}

		select {
		case out <- ev:
			metrics.RecordBusEvent(DirectionIn, string(ev.Kind), resultOK)
		case <-ctx.Done():
			b.logger.Debug("dropping speech event after turn end", zap.String("subject", msg.Subject))
			metrics.RecordBusEvent(DirectionIn, string(ev.Kind), resultDropped)
		}
	}
}

// Publish sends an outbound event to the speech services.
func (b *Bus) Publish(ctx context.Context, ev model.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := EncodeEvent(ev)
	if err != nil {
		metrics.RecordBusEvent(DirectionOut, string(ev.Kind), resultError)
		return err
	}

	if err := b.conn.Publish(EventSubject(b.sessionID, ev.Kind), data); err != nil {
		metrics.RecordBusEvent(DirectionOut, string(ev.Kind), resultError)
		return fmt.Errorf("failed to publish %s: %w", ev.Kind, err)
	}

	metrics.RecordBusEvent(DirectionOut, string(ev.Kind), resultOK)
	return nil
}

// EncodeEvent marshals an outbound event.
func EncodeEvent(ev model.Event) ([]byte, error) {
	if !ev.Kind.IsOutbound() {
		return nil, fmt.Errorf("%w: %s is not an outbound kind", model.ErrInvalidEvent, ev.Kind)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return data, nil
}

// DecodeEvent unmarshals an inbound event received on subject. A payload
// without a kind takes the kind named by the subject; a payload whose kind
// disagrees with the subject is rejected.
func DecodeEvent(subject string, data []byte) (model.Event, error) {
	var ev model.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return model.Event{}, fmt.Errorf("%w: %v", model.ErrInvalidEvent, err)
	}

	subjectKind := model.Kind(kindLabel(subject))
	if ev.Kind == "" {
		ev.Kind = subjectKind
	}
	if ev.Kind != subjectKind {
		return model.Event{}, fmt.Errorf("%w: kind %q on subject %s", model.ErrInvalidEvent, ev.Kind, subject)
	}
	if !ev.Kind.IsInbound() {
		return model.Event{}, fmt.Errorf("%w: %s is not an inbound kind", model.ErrInvalidEvent, ev.Kind)
	}
	if err := ev.Validate(); err != nil {
		return model.Event{}, err
	}
	return ev, nil
}

func kindLabel(subject string) string {
	if i := strings.LastIndexByte(subject, '.'); i >= 0 {
		return subject[i+1:]
	}
	return subject
}
