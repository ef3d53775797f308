// Package host runs a turn.Machine against the speech bus. It owns the only
// goroutine that touches the Machine.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/mirror-speech/internal/model"
	"github.com/capitalize-ai/mirror-speech/internal/timer"
	"github.com/capitalize-ai/mirror-speech/internal/turn"
	"github.com/capitalize-ai/mirror-speech/pkg/logger"
	"github.com/capitalize-ai/mirror-speech/pkg/metrics"
)

// DefaultTickInterval is how often the Machine is updated.
const DefaultTickInterval = 50 * time.Millisecond

var tracer = otel.Tracer("github.com/capitalize-ai/mirror-speech/internal/host")

// Publisher delivers outbound events to the speech services.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) error
}

// RecordSink stores finished turns.
type RecordSink interface {
	PublishRecord(ctx context.Context, rec *model.TurnRecord) (uint64, error)
}

// Config configures a Loop.
type Config struct {
	SessionID    string
	TickInterval time.Duration

	Endless        bool
	Timeouts       turn.Timeouts
	MaxFragmentLen int
	Generator      turn.Generator

	// Optional
	Clock    timer.Clock
	Metadata map[string]any
}

// Status is a snapshot of a running turn.
type Status struct {
	SessionID   string          `json:"session_id"`
	State       turn.State      `json:"state"`
	Endless     bool            `json:"endless"`
	Prompt      string          `json:"prompt,omitempty"`
	Answer      string          `json:"answer,omitempty"`
	Turns       int             `json:"turns"`
	Outstanding model.MessageID `json:"outstanding,omitempty"`
	Remaining   time.Duration   `json:"remaining_ns"`
	Failure     string          `json:"failure,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Finished    bool            `json:"finished"`
}

// Loop feeds inbound events to a Machine, updates it on every tick and
// publishes what it emits.
type Loop struct {
	cfg       Config
	clock     timer.Clock
	machine   *turn.Machine
	outbox    *Outbox
	publisher Publisher
	sink      RecordSink
	logger    *logger.Logger

	span      trace.Span
	startedAt time.Time

	mu     sync.RWMutex
	status Status
}

// NewLoop creates a Loop. sink may be nil.
func NewLoop(cfg Config, publisher Publisher, sink RecordSink, log *logger.Logger) (*Loop, error) {
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timer.SystemClock{}
	}

	log = logger.OrGlobal(log).WithSession(cfg.SessionID)
	l := &Loop{
		cfg:       cfg,
		clock:     clock,
		outbox:    &Outbox{},
		publisher: publisher,
		sink:      sink,
		logger:    log.Named("host"),
		span:      trace.SpanFromContext(context.Background()),
	}

	machine, err := turn.New(turn.Options{
		Endless:        cfg.Endless,
		Timeouts:       cfg.Timeouts,
		MaxFragmentLen: cfg.MaxFragmentLen,
		Generator:      cfg.Generator,
		Emitter:        l.outbox,
		Clock:          clock,
		Logger:         log,
		OnTransition:   l.transition,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create turn machine: %w", err)
	}
	l.machine = machine
	l.refresh()

	return l, nil
}

// SessionID returns the session the Loop serves.
func (l *Loop) SessionID() string {
	return l.cfg.SessionID
}

// Status returns the latest snapshot. It is safe to call from any goroutine.
func (l *Loop) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

// Run drives the Machine until it closes, fails or ctx is cancelled. It
// returns nil on close, the *turn.Failure on failure, and ctx.Err() on
// cancellation. Run must be called once.
func (l *Loop) Run(ctx context.Context, inbound <-chan model.Event) error {
	ctx, span := tracer.Start(ctx, "turn", trace.WithAttributes(
		attribute.String("session.id", l.cfg.SessionID),
		attribute.Bool("turn.endless", l.cfg.Endless),
	))
	defer span.End()
	l.span = span

	l.startedAt = l.clock.Now()
	l.refresh()
	metrics.TurnActive.Set(1)
	defer metrics.TurnActive.Set(0)

	l.logger.Info("turn started", zap.Bool("endless", l.cfg.Endless))

	ticker := time.NewTicker(l.cfg.TickInterval)
	defer ticker.Stop()

	if l.step(ctx) {
		return l.finish(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("turn cancelled", zap.Stringer("state", l.machine.State()))
			span.SetStatus(codes.Error, "cancelled")
			return ctx.Err()

		case ev, ok := <-inbound:
			if !ok {
				l.logger.Warn("inbound events closed")
				inbound = nil
				continue
			}
			l.deliver(ev)
			l.flush(ctx)
			l.refresh()

		case <-ticker.C:
			if l.step(ctx) {
				return l.finish(ctx)
			}
		}
	}
}

func (l *Loop) deliver(ev model.Event) {
	if !l.machine.CanHandle(ev.Kind) {
		l.logger.Debug("event not handled", zap.String("kind", string(ev.Kind)))
		return
	}
	l.machine.HandleEvent(ev)
}

// step updates the Machine once and reports whether it is done.
func (l *Loop) step(ctx context.Context) bool {
	done := l.machine.Update(ctx) == turn.Done
	l.flush(ctx)
	l.refresh()
	return done
}

func (l *Loop) flush(ctx context.Context) {
	for _, ev := range l.outbox.Drain() {
		if err := l.publisher.Publish(ctx, ev); err != nil {
			l.logger.Error("failed to publish event", zap.String("kind", string(ev.Kind)), zap.Error(err))
		}
	}
}

func (l *Loop) transition(from, to turn.State) {
	metrics.RecordTransition(from.String(), to.String())
	l.span.AddEvent("transition", trace.WithAttributes(
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
}

func (l *Loop) refresh() {
	st := Status{
		SessionID:   l.cfg.SessionID,
		State:       l.machine.State(),
		Endless:     l.machine.Endless(),
		Prompt:      l.machine.Prompt(),
		Answer:      l.machine.Answer(),
		Turns:       l.machine.Echoes(),
		Outstanding: l.machine.Outstanding(),
		Remaining:   l.machine.Remaining(),
		StartedAt:   l.startedAt,
		UpdatedAt:   l.clock.Now(),
		Finished:    l.machine.State().Terminal(),
	}
	if err := l.machine.Err(); err != nil {
		st.Failure = err.Error()
	}

	l.mu.Lock()
	l.status = st
	l.mu.Unlock()
}

func (l *Loop) finish(ctx context.Context) error {
	rec := l.record()
	metrics.RecordTurn(string(rec.Outcome), rec.Reason, rec.Duration().Seconds())

	err := l.machine.Err()
	if err != nil {
		l.span.RecordError(err)
		l.span.SetStatus(codes.Error, rec.Reason)
	} else {
		l.span.SetStatus(codes.Ok, "")
	}
	l.span.SetAttributes(attribute.Int("turn.echoes", rec.Turns))

	if l.sink != nil {
		seq, perr := l.sink.PublishRecord(ctx, rec)
		if perr != nil {
			l.logger.Error("failed to publish turn record", zap.String("record_id", rec.ID), zap.Error(perr))
		} else {
			l.logger.Debug("turn record published", zap.String("record_id", rec.ID), zap.Uint64("sequence", seq))
		}
	}

	l.logger.Info("turn finished",
		zap.String("outcome", string(rec.Outcome)),
		zap.String("reason", rec.Reason),
		zap.Int("turns", rec.Turns),
		zap.Duration("duration", rec.Duration()),
	)
	return err
}

func (l *Loop) record() *model.TurnRecord {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	rec := &model.TurnRecord{
		ID:        id.String(),
		SessionID: l.cfg.SessionID,
		Outcome:   model.OutcomeClosed,
		State:     l.machine.State().String(),
		Prompt:    l.machine.Prompt(),
		Answer:    l.machine.Answer(),
		Turns:     l.machine.Echoes(),
		Endless:   l.machine.Endless(),
		Metadata:  l.cfg.Metadata,
		StartedAt: l.startedAt,
		EndedAt:   l.clock.Now(),
	}

	var failure *turn.Failure
	if errors.As(l.machine.Err(), &failure) {
		rec.Outcome = model.OutcomeFailed
		rec.State = failure.State.String()
		rec.Reason = string(failure.Reason)
	}
	return rec
}
